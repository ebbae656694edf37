// Package perfstats is a single place where we record the performance of the
// pipeline stages, so that it's easy to compare hardware and model choices.
package perfstats

import (
	"fmt"
	"strings"
	"sync/atomic"
)

type PerfStats struct {
	DetectNanoseconds   atomic.Uint64 // Person detector forward pass, per frame
	TrackNanoseconds    atomic.Uint64 // Tracker update, per frame
	ClassifyNanoseconds atomic.Uint64 // Violence classifier forward pass, per invocation
	FrameNanoseconds    atomic.Uint64 // Whole ProcessFrame call
}

var Stats = PerfStats{}

// Update folds a new sample into a moving average.
// We don't bother with strict correctness (CompareAndSwap) here, because this
// is just sampled stats, and it's OK to miss one or two samples.
func Update(stat *atomic.Uint64, value int64) {
	vu := uint64(value)
	if stat.Load() == 0 {
		stat.Store(vu)
	} else {
		stat.Store((stat.Load()*63 + vu) >> 6)
	}
}

func (s *PerfStats) String() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "detect: %.2f ms, track: %.2f ms, classify: %.2f ms, frame: %.2f ms",
		float64(s.DetectNanoseconds.Load())/1e6,
		float64(s.TrackNanoseconds.Load())/1e6,
		float64(s.ClassifyNanoseconds.Load())/1e6,
		float64(s.FrameNanoseconds.Load())/1e6)
	return b.String()
}
