// Package freshness grades how recent an observation is.
package freshness

import "time"

// Bucket is a coarse age class.
type Bucket string

// Freshness buckets.
const (
	Fresh Bucket = "fresh"
	Aging Bucket = "aging"
	Stale Bucket = "stale"
)

// Day is the unit used by the age thresholds.
const Day = 24 * time.Hour

// Age thresholds shared by confidence scoring and recency distributions.
const (
	FreshMaxAge = 90 * Day
	AgingMaxAge = 365 * Day
)

// Classify maps an age onto a bucket. Negative ages count as fresh.
func Classify(age time.Duration) Bucket {
	switch {
	case age <= FreshMaxAge:
		return Fresh
	case age <= AgingMaxAge:
		return Aging
	default:
		return Stale
	}
}

// Weight returns the multiplicative weight of a bucket.
func Weight(b Bucket) float64 {
	switch b {
	case Fresh:
		return 1.0
	case Aging:
		return 0.75
	default:
		return 0.5
	}
}

// WeightAt is the weight of an observation captured at captured, seen from now.
func WeightAt(captured, now time.Time) float64 {
	return Weight(Classify(now.Sub(captured)))
}
