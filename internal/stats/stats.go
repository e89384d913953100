package stats

import (
	"errors"
	"math"
)

var (
	ErrNoSamples           = errors.New("no samples")
	ErrInsufficientSamples = errors.New("at least two samples required")
)

// Summary describes a set of round-trip samples in milliseconds.
type Summary struct {
	Count  int
	Mean   float64
	Jitter float64
	Min    float64
	Max    float64
}

func Mean(samples []float64) (float64, error) {
	if len(samples) == 0 {
		return 0, ErrNoSamples
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples)), nil
}

// StdDev returns the Bessel-corrected sample standard deviation.
func StdDev(samples []float64) (float64, error) {
	if len(samples) < 2 {
		return 0, ErrInsufficientSamples
	}
	mean, err := Mean(samples)
	if err != nil {
		return 0, err
	}
	var ss float64
	for _, v := range samples {
		d := v - mean
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(samples)-1)), nil
}

// Summarize computes mean and jitter (standard deviation) along with the
// sample range. ErrNoSamples is returned for an empty set and
// ErrInsufficientSamples for a single sample; in the latter case the
// returned Summary still carries Count, Mean, Min and Max.
func Summarize(samples []float64) (Summary, error) {
	mean, err := Mean(samples)
	if err != nil {
		return Summary{}, err
	}
	summary := Summary{
		Count: len(samples),
		Mean:  mean,
		Min:   samples[0],
		Max:   samples[0],
	}
	for _, v := range samples[1:] {
		summary.Min = math.Min(summary.Min, v)
		summary.Max = math.Max(summary.Max, v)
	}
	jitter, err := StdDev(samples)
	if err != nil {
		return summary, err
	}
	summary.Jitter = jitter
	return summary, nil
}
