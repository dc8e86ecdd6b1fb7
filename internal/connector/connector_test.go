package connector

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubFetcher struct {
	result evidence.RawFetchResult
	calls  int
}

func (s *stubFetcher) Fetch(context.Context, evidence.SourceDescriptor) evidence.RawFetchResult {
	s.calls++
	return s.result
}

func TestNewSelectsStrategy(t *testing.T) {
	t.Parallel()

	fetcher := &stubFetcher{}
	deps := Deps{Fetcher: fetcher, Clock: fixedClock{now: testNow}}

	for _, method := range []evidence.ScrapeMethod{evidence.MethodLLM, evidence.MethodHeuristic, evidence.MethodFeed} {
		src := floorsSource
		src.Method = method
		c, err := New(src, deps)
		require.NoError(t, err, method)
		require.Equal(t, src, c.Source())
	}

	src := floorsSource
	src.Method = "headless"
	_, err := New(src, deps)
	require.ErrorContains(t, err, "unknown scrape method")

	src.Method = evidence.MethodHeuristic
	_, err = New(src, Deps{Clock: fixedClock{}})
	require.Error(t, err)
}

func TestSourceConnectorEndToEnd(t *testing.T) {
	t.Parallel()

	src := floorsSource
	src.Method = evidence.MethodHeuristic
	fetcher := &stubFetcher{result: evidence.RawFetchResult{
		URL:        src.BaseURL,
		StatusCode: 200,
		Body:       "<p>Bamboo flooring £31 per sqm</p>",
		FetchedAt:  testNow,
	}}
	c, err := New(src, Deps{Fetcher: fetcher, Clock: fixedClock{now: testNow}})
	require.NoError(t, err)

	raw := c.Fetch(context.Background())
	require.Equal(t, 1, fetcher.calls)
	candidates := c.Extract(context.Background(), raw, nil)
	require.Len(t, candidates, 1)

	n, err := c.Normalize(candidates[0])
	require.NoError(t, err)
	require.Equal(t, "bamboo flooring", n.Metric)
	require.Equal(t, evidence.GradeC, n.Grade)
	require.InDelta(t, 0.40, n.Confidence, 1e-9)
}
