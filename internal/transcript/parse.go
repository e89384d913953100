// Package transcript extracts round-trip samples and packet loss from the
// text printed by ping utilities. Each concern is an ordered list of
// matchers so another output dialect is one more entry, not another branch.
//
// The loss rules cover Windows (Spanish and English) and Linux iputils.
// The last rule, percent-packet-loss, is an extension for BSD and macOS,
// whose "N packets received, P% packet loss" summary the other rules
// miss. It only runs when those rules found nothing, so transcripts they
// already handle keep the same result; BSD and macOS output gains a loss
// value it would otherwise lack.
package transcript

import (
	"regexp"
	"strconv"
)

// latencyPatterns are applied in order and their matches concatenated.
var latencyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)tiempo[=<](\d+\.?\d*)\s*ms`), // Windows, Spanish locale
	regexp.MustCompile(`(?i)time[=<](\d+\.?\d*)\s*ms`),   // Windows English, iputils, BSD
}

// LossRule derives a loss percentage from one summary-line dialect.
type LossRule struct {
	Name    string
	Pattern *regexp.Regexp
	Extract func(groups []string) (float64, bool)
}

// lossRules are tried in order; the first rule whose pattern matches wins.
var lossRules = []LossRule{
	{
		Name:    "sent-received",
		Pattern: regexp.MustCompile(`(?i)enviados\s*=\s*(\d+).*?recibidos\s*=\s*(\d+)`),
		Extract: func(groups []string) (float64, bool) {
			sent, err := strconv.Atoi(groups[1])
			if err != nil {
				return 0, false
			}
			received, err := strconv.Atoi(groups[2])
			if err != nil {
				return 0, false
			}
			if sent <= 0 {
				return 0, true
			}
			return float64(sent-received) / float64(sent) * 100, true
		},
	},
	{
		Name:    "transmitted-received",
		Pattern: regexp.MustCompile(`(?i)(\d+)\s+packets?\s+transmitted.*?(\d+)\s+received.*?(\d+\.?\d*)%\s+packet\s+loss`),
		Extract: percentAt(3),
	},
	{
		Name:    "percent-loss",
		Pattern: regexp.MustCompile(`(?i)(\d+\.?\d*)%\s+(perdidos|loss)`),
		Extract: percentAt(1),
	},
	{
		// BSD and macOS say "N packets received, P% packet loss".
		Name:    "percent-packet-loss",
		Pattern: regexp.MustCompile(`(?i)(\d+\.?\d*)%\s+packet\s+loss`),
		Extract: percentAt(1),
	},
}

func percentAt(group int) func([]string) (float64, bool) {
	return func(groups []string) (float64, bool) {
		v, err := strconv.ParseFloat(groups[group], 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}
}

// Samples returns every round-trip time in milliseconds found in text. An
// empty result means the transcript carried no latency data.
func Samples(text string) []float64 {
	var samples []float64
	for _, pattern := range latencyPatterns {
		for _, m := range pattern.FindAllStringSubmatch(text, -1) {
			v, err := strconv.ParseFloat(m[1], 64)
			if err != nil {
				continue
			}
			samples = append(samples, v)
		}
	}
	return samples
}

// Loss returns the packet loss percentage reported by text. ok is false when
// no rule matched, which is distinct from a reported 0%.
func Loss(text string) (pct float64, ok bool) {
	pct, _, ok = matchLoss(text)
	return pct, ok
}

func matchLoss(text string) (float64, string, bool) {
	for _, rule := range lossRules {
		groups := rule.Pattern.FindStringSubmatch(text)
		if groups == nil {
			continue
		}
		if pct, ok := rule.Extract(groups); ok {
			return pct, rule.Name, true
		}
	}
	return 0, "", false
}

// Result bundles everything extracted from one transcript.
type Result struct {
	Samples []float64
	LossPct float64
	HasLoss bool
	// LossRule names the rule that produced LossPct, empty when HasLoss is false.
	LossRule string
}

// Parse extracts samples and loss from text in one pass. A transcript with
// samples but no loss summary yields HasLoss false, never a zero loss.
func Parse(text string) Result {
	pct, rule, ok := matchLoss(text)
	return Result{
		Samples:  Samples(text),
		LossPct:  pct,
		HasLoss:  ok,
		LossRule: rule,
	}
}
