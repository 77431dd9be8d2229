package results

import (
	"fmt"
	"math"

	"image-labeler-be/pkg/oracle"
)

// DefaultThreshold is the confidence a score must strictly exceed to count
// as a match.
const DefaultThreshold = 0.30

// Outcome describes a successful classification.
type Outcome string

const (
	OutcomeMatched          Outcome = "MATCHED"
	OutcomeNoConfidentMatch Outcome = "NO_CONFIDENT_MATCH"
)

// Filter keeps the results whose score is strictly above threshold,
// preserving their order. The input is never modified.
func Filter(in []oracle.Result, threshold float64) []oracle.Result {
	out := make([]oracle.Result, 0, len(in))
	for _, r := range in {
		if r.Score > threshold {
			out = append(out, r)
		}
	}
	return out
}

// OutcomeOf classifies a filtered result set.
func OutcomeOf(filtered []oracle.Result) Outcome {
	if len(filtered) == 0 {
		return OutcomeNoConfidentMatch
	}
	return OutcomeMatched
}

// Tag renders a result the way the UI shows it, e.g. "pizza (91%)".
func Tag(r oracle.Result) string {
	return fmt.Sprintf("%s (%d%%)", r.Label, int(math.Round(r.Score*100)))
}

// ValidThreshold reports whether t can be used as a confidence threshold.
func ValidThreshold(t float64) bool {
	return !math.IsNaN(t) && t >= 0 && t < 1
}
