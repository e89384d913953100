// Package mos converts latency, jitter and loss into an E-model R-Factor and
// Mean Opinion Score.
package mos

// Quality is the listening-quality band a MOS falls into.
type Quality string

const (
	Excellent  Quality = "Excellent"
	Good       Quality = "Good"
	Acceptable Quality = "Acceptable"
	Poor       Quality = "Poor"
	Bad        Quality = "Bad"
)

const (
	codecDelayMs      = 10
	latencyBreakMs    = 160
	baseR             = 93.2
	lossPenaltyPerPct = 2.5
)

// bands are evaluated top-down; lower edges are inclusive.
var bands = []struct {
	min     float64
	quality Quality
}{
	{4.3, Excellent},
	{4.0, Good},
	{3.6, Acceptable},
	{3.1, Poor},
}

// Result is the outcome of scoring one set of metrics.
type Result struct {
	EffectiveLatencyMs float64
	// RFactor already includes the packet loss penalty.
	RFactor float64
	MOS     float64
	Quality Quality
}

// OutOfRange reports whether the cubic term pushed MOS outside [1,5]. The
// value is not clamped.
func (r Result) OutOfRange() bool {
	return r.MOS < 1 || r.MOS > 5
}

// Score applies the E-model approximation. The explicit float64 conversions
// round each product so that no platform fuses them into a multiply-add.
func Score(latencyMs, jitterMs, lossPct float64) Result {
	effective := latencyMs + float64(jitterMs*2) + codecDelayMs

	var r float64
	if effective < latencyBreakMs {
		r = baseR - effective/40
	} else {
		r = baseR - (effective-120)/10
	}
	r = r - float64(lossPct*lossPenaltyPerPct)

	cubic := float64(float64(0.000007*r)*(r-60)) * (100 - r)
	mos := 1 + float64(0.035*r) + float64(cubic)

	return Result{
		EffectiveLatencyMs: effective,
		RFactor:            r,
		MOS:                mos,
		Quality:            Classify(mos),
	}
}

func Classify(mos float64) Quality {
	for _, b := range bands {
		if mos >= b.min {
			return b.quality
		}
	}
	return Bad
}

// Rank orders bands from best (0) to worst (4). Unknown values rank last.
func (q Quality) Rank() int {
	switch q {
	case Excellent:
		return 0
	case Good:
		return 1
	case Acceptable:
		return 2
	case Poor:
		return 3
	default:
		return 4
	}
}

// Color returns the ANSI SGR parameters used to render the band.
func (q Quality) Color() string {
	switch q {
	case Excellent:
		return "32"
	case Good:
		return "34"
	case Acceptable:
		return "38;5;214"
	case Poor:
		return "38;5;208"
	default:
		return "31"
	}
}
