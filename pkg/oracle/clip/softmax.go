package clip

import "math"

// Softmax turns one row of logits into probabilities that sum to 1.
func Softmax(logits []float32) []float64 {
	out := make([]float64, len(logits))
	if len(logits) == 0 {
		return out
	}
	maxV := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxV {
			maxV = float64(v)
		}
	}
	var sum float64
	for i, v := range logits {
		e := math.Exp(float64(v) - maxV)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
