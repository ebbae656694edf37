package track

import (
	"github.com/bmharper/cimg/v2"
)

// EmbeddingDetection is a detection in the corner-box form that the external
// embedding tracker expects.
type EmbeddingDetection struct {
	X1, Y1, X2, Y2 float32
	Confidence     float32
	Label          string
}

// EmbeddingTrack is one track as reported by the external embedding tracker.
type EmbeddingTrack struct {
	ID             int64
	X1, Y1, X2, Y2 float32
	Confidence     float32
	Confirmed      bool // True once the track has enough matched history to be trusted
	Feature        []float32
}

// EmbeddingTracker is an external appearance-embedding multi-object tracker.
// It owns association, motion prediction and embedding extraction; we only
// translate box formats across this boundary. It is treated as a black box:
// after its first failure we assume the fault is systemic and never call it
// again for the lifetime of the process.
type EmbeddingTracker interface {
	Update(frame *cimg.Image, detections []EmbeddingDetection) ([]EmbeddingTrack, error)
	Close() error
}
