// Package trends computes moving averages, direction and anomalies over
// evidence price series.
package trends

import (
	"math"
	"sort"
	"time"

	"github.com/JakeFAU/evidence-ingest/internal/evidence"
)

// DefaultWindowDays is the moving average window.
const DefaultWindowDays = 30

const (
	directionThreshold = 0.05
	anomalySigmas      = 2.0
	minAnomalyPoints   = 3
)

// Point is one observation of a series.
type Point struct {
	Date     time.Time
	Value    float64
	Grade    evidence.Grade
	SourceID string
}

func window(days int) time.Duration {
	if days <= 0 {
		days = DefaultWindowDays
	}
	return time.Duration(days) * 24 * time.Hour
}

func sorted(points []Point) []Point {
	out := append([]Point(nil), points...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// MovingAverage returns, for each point in date order, the mean of all
// points dated within [date-window, date].
func MovingAverage(points []Point, windowDays int) []evidence.MovingAveragePoint {
	ordered := sorted(points)
	w := window(windowDays)
	out := make([]evidence.MovingAveragePoint, 0, len(ordered))
	for _, p := range ordered {
		from := p.Date.Add(-w)
		var (
			sum   float64
			count int
		)
		for _, q := range ordered {
			if !q.Date.Before(from) && !q.Date.After(p.Date) {
				sum += q.Value
				count++
			}
		}
		out = append(out, evidence.MovingAveragePoint{Date: p.Date, Value: p.Value, MA: sum / float64(count)})
	}
	return out
}

// DirectionResult is the outcome of DetectDirection.
type DirectionResult struct {
	Direction     evidence.Direction
	CurrentMA     *float64
	PreviousMA    *float64
	PercentChange *float64
}

// DetectDirection compares the mean of the current window [asOf-w, asOf]
// with the previous window [asOf-2w, asOf-w).
func DetectDirection(points []Point, windowDays int, asOf time.Time) DirectionResult {
	if len(points) < 2 {
		return DirectionResult{Direction: evidence.DirectionInsufficient}
	}
	w := window(windowDays)
	curFrom := asOf.Add(-w)
	prevFrom := asOf.Add(-2 * w)

	var curSum, prevSum float64
	var curN, prevN int
	for _, p := range points {
		switch {
		case !p.Date.Before(curFrom) && !p.Date.After(asOf):
			curSum += p.Value
			curN++
		case !p.Date.Before(prevFrom) && p.Date.Before(curFrom):
			prevSum += p.Value
			prevN++
		}
	}
	if curN == 0 {
		return DirectionResult{Direction: evidence.DirectionInsufficient}
	}
	cur := curSum / float64(curN)
	res := DirectionResult{Direction: evidence.DirectionStable, CurrentMA: &cur}
	if prevN == 0 {
		return res
	}
	prev := prevSum / float64(prevN)
	res.PreviousMA = &prev
	if prev == 0 {
		return res
	}
	pct := (cur - prev) / math.Abs(prev)
	res.PercentChange = &pct
	switch {
	case pct > directionThreshold:
		res.Direction = evidence.DirectionRising
	case pct < -directionThreshold:
		res.Direction = evidence.DirectionFalling
	}
	return res
}

// FlagAnomalies flags points whose residual from their own moving average
// exceeds two population standard deviations of all residuals.
func FlagAnomalies(points []Point, windowDays int) []evidence.Anomaly {
	if len(points) < minAnomalyPoints {
		return nil
	}
	ordered := sorted(points)
	ma := MovingAverage(ordered, windowDays)
	residuals := make([]float64, len(ma))
	var mean float64
	for i, p := range ma {
		residuals[i] = p.Value - p.MA
		mean += residuals[i]
	}
	mean /= float64(len(residuals))
	var variance float64
	for _, r := range residuals {
		variance += (r - mean) * (r - mean)
	}
	variance /= float64(len(residuals))
	if variance == 0 {
		return nil
	}
	sigma := math.Sqrt(variance)

	var out []evidence.Anomaly
	for i, r := range residuals {
		if math.Abs(r) > anomalySigmas*sigma {
			out = append(out, evidence.Anomaly{
				Date:     ma[i].Date,
				Value:    ma[i].Value,
				MA:       ma[i].MA,
				Residual: r,
				ZScore:   r / sigma,
				SourceID: ordered[i].SourceID,
			})
		}
	}
	return out
}

// Confidence grades how much data backs a series.
func Confidence(points []Point) evidence.TrendConfidence {
	gradeA := 0
	for _, p := range points {
		if p.Grade == evidence.GradeA {
			gradeA++
		}
	}
	n := len(points)
	switch {
	case n >= 15 && gradeA >= 2:
		return evidence.TrendConfidenceHigh
	case n >= 8:
		return evidence.TrendConfidenceMedium
	case n >= 5:
		return evidence.TrendConfidenceLow
	default:
		return evidence.TrendConfidenceInsufficient
	}
}
