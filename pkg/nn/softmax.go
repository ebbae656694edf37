package nn

import (
	"github.com/chewxy/math32"
)

// Softmax converts raw logits into a probability distribution.
// We subtract the max before exponentiating so that large logits don't
// overflow float32.
func Softmax(logits []float32) []float32 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	out := make([]float32, len(logits))
	sum := float32(0)
	for i, v := range logits {
		e := math32.Exp(v - maxLogit)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest element (first on ties), or -1 for
// an empty slice.
func Argmax(values []float32) int {
	best := -1
	bestV := float32(0)
	for i, v := range values {
		if best == -1 || v > bestV {
			best = i
			bestV = v
		}
	}
	return best
}
