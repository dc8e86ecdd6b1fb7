package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}
	for _, tc := range testCases {
		require.Equal(t, tc.expected, SanitizeSite(tc.input), tc.name)
	}
}

func TestObserveHelpersIncrementCollectors(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(robotsBlockedTotal.WithLabelValues("robots.example"))
	ObserveRobotsBlocked("https://robots.example/private")
	require.InDelta(t, before+1, testutil.ToFloat64(robotsBlockedTotal.WithLabelValues("robots.example")), 1e-9)

	beforeRec := testutil.ToFloat64(evidenceRecordsTotal.WithLabelValues("src-test", "duplicate"))
	ObserveRecord("src-test", "duplicate")
	require.InDelta(t, beforeRec+1, testutil.ToFloat64(evidenceRecordsTotal.WithLabelValues("src-test", "duplicate")), 1e-9)

	ObserveConnector("src-test", "success", 2*time.Second)
	require.Positive(t, testutil.CollectAndCount(connectorDurationSeconds))

	beforeAnom := testutil.ToFloat64(trendAnomaliesTotal)
	ObserveAnomalies(0)
	ObserveAnomalies(2)
	require.InDelta(t, beforeAnom+2, testutil.ToFloat64(trendAnomaliesTotal), 1e-9)
}

func FuzzSanitizeSite(f *testing.F) {
	for _, tc := range []string{"http://example.com", "https://google.com", "ftp://example.com"} {
		f.Add(tc)
	}
	f.Fuzz(func(t *testing.T, orig string) {
		if SanitizeSite(orig) == "" {
			t.Errorf("SanitizeSite(%q) returned an empty string", orig)
		}
	})
}
