// Package track assigns stable identities to person detections across frames.
package track

import (
	"github.com/bmharper/ringbuffer"
	"github.com/vigilcam/vigil/pkg/nn"
)

// Track is the reported state of one tracked person.
type Track struct {
	ID         int64     `json:"id"`
	Box        nn.Rect   `json:"box"`
	Confidence float32   `json:"confidence"`
	Feature    []float32 `json:"-"` // Appearance descriptor, when the embedding tracker provides one
	Age        int       `json:"-"` // Frames since the last successful match
}

// Internal state of a person that the greedy fallback matcher is tracking.
type trackedPerson struct {
	id             int64
	box            nn.Rect
	confidence     float32
	feature        []float32
	age            int // frames since last successful match
	totalSightings int
	history        ringbuffer.RingP[nn.Rect] // recent positions, oldest first
}

func (p *trackedPerson) snapshot() Track {
	return Track{
		ID:         p.id,
		Box:        p.box,
		Confidence: p.confidence,
		Feature:    p.feature,
		Age:        p.age,
	}
}
