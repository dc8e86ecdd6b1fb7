package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func ptrTime(t time.Time) *time.Time { return &t }

func ptrFloat(f float64) *float64 { return &f }

func TestGradeFor(t *testing.T) {
	t.Parallel()

	require.Equal(t, evidence.GradeA, GradeFor("ons-construction-materials"))
	require.Equal(t, evidence.GradeA, GradeFor(" BLS-PPI-Construction "))
	require.Equal(t, evidence.GradeB, GradeFor("rics-bcis-tender-index"))
	require.Equal(t, evidence.GradeC, GradeFor("some-retailer"))
}

func TestConfidenceRules(t *testing.T) {
	t.Parallel()

	recent := ptrTime(testNow.AddDate(0, 0, -30))
	aging := ptrTime(testNow.AddDate(0, 0, -200))
	old := ptrTime(testNow.AddDate(-2, 0, 0))

	require.InDelta(t, 0.95, Confidence(evidence.GradeA, recent, testNow), 1e-9)
	require.InDelta(t, 0.70, Confidence(evidence.GradeB, aging, testNow), 1e-9)
	require.InDelta(t, 0.40, Confidence(evidence.GradeC, old, testNow), 1e-9)
	require.InDelta(t, 0.40, Confidence(evidence.GradeC, nil, testNow), 1e-9)

	for _, g := range []evidence.Grade{evidence.GradeA, evidence.GradeB, evidence.GradeC} {
		undated := Confidence(g, nil, testNow)
		dated := Confidence(g, recent, testNow)
		require.Less(t, undated, dated, "grade %s", g)
		require.GreaterOrEqual(t, undated, 0.20)
		require.LessOrEqual(t, dated, 1.0)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	src := evidence.SourceDescriptor{ID: "bls-ppi-construction", Method: evidence.MethodLLM}
	n, err := Normalize(src, evidence.Candidate{
		Title:         "Engineered oak flooring",
		RawText:       "  Engineered oak   flooring from $45 per sqm ",
		PublishedDate: ptrTime(testNow.AddDate(0, 0, -5)),
		Metric:        "  Engineered Oak Flooring: ",
		Value:         ptrFloat(45),
		Unit:          "m2",
	}, testNow)
	require.NoError(t, err)
	require.Equal(t, "engineered oak flooring", n.Metric)
	require.Equal(t, "sqm", n.Unit)
	require.Equal(t, evidence.GradeA, n.Grade)
	require.InDelta(t, 0.95, n.Confidence, 1e-9)
	require.Equal(t, "Engineered oak flooring from $45 per sqm", n.Summary)
	require.NotNil(t, n.Value)
	require.Contains(t, n.Tags, "priced")

	fallback, err := Normalize(src, evidence.Candidate{Title: "Lumber index", Value: ptrFloat(-3)}, testNow)
	require.NoError(t, err)
	require.Equal(t, "lumber index", fallback.Metric)
	require.Nil(t, fallback.Value)
	require.Contains(t, fallback.Tags, "undated")

	_, err = Normalize(src, evidence.Candidate{Title: " -- "}, testNow)
	require.ErrorIs(t, err, ErrNoMetric)
}

func TestPlaceholder(t *testing.T) {
	t.Parallel()

	p := Placeholder(evidence.Candidate{Title: "??"})
	require.Equal(t, "unlabeled", p.Metric)
	require.InDelta(t, PlaceholderConfidence, p.Confidence, 1e-9)
	require.Equal(t, evidence.GradeC, p.Grade)
	require.Equal(t, []string{PlaceholderTag}, p.Tags)
}

func TestNormalizeUnit(t *testing.T) {
	t.Parallel()

	require.Equal(t, "sqm", NormalizeUnit("Sq M"))
	require.Equal(t, "sqft", NormalizeUnit("sq. ft"))
	require.Equal(t, "piece", NormalizeUnit("pcs"))
	require.Equal(t, "index", NormalizeUnit(" Index "))
}
