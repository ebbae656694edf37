package track

import (
	"math"
	"sort"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"
	"gonum.org/v1/gonum/mat"

	"github.com/vigilcam/vigil/pkg/nn"
	"github.com/vigilcam/vigil/server/config"
	"github.com/vigilcam/vigil/server/perfstats"
)

// Tracker maintains the set of live tracks across frames.
//
// Two strategies: an external embedding tracker (Strategy A), and a greedy
// IoU matcher implemented here (Strategy B). Strategy B is the fallback when
// the embedding tracker fails, and the sole strategy when no embedding
// tracker was available at construction. The downgrade is one-way: a single
// embedding tracker failure disables it for the remainder of the process.
type Tracker struct {
	log      logs.Log
	embedder EmbeddingTracker

	downgraded   bool
	maxAge       int
	iouThreshold float32
	historyCap   int

	nextID int64
	tracks map[int64]*trackedPerson

	lastResult map[int64]Track
	lastUpdate time.Duration
}

// NewTracker creates a tracker. embedder may be nil, in which case the greedy
// matcher is the only strategy.
func NewTracker(logger logs.Log, cfg config.Tracking, embedder EmbeddingTracker) *Tracker {
	historyCap := nextPowerOf2(max(2, cfg.HistoryCapacity))
	return &Tracker{
		log:          logger,
		embedder:     embedder,
		maxAge:       cfg.MaxTrackAge,
		iouThreshold: cfg.IouThreshold,
		historyCap:   historyCap,
		nextID:       1,
		tracks:       map[int64]*trackedPerson{},
		lastResult:   map[int64]Track{},
	}
}

// Update advances the tracker by one frame and returns the current track map.
// It always returns a well-formed (possibly empty) map, never an error: a
// frame with no usable tracks must not halt the pipeline. If anything inside
// panics, we return the last known track map unchanged.
func (t *Tracker) Update(frame *cimg.Image, detections []nn.ObjectDetection) (tracks map[int64]Track) {
	defer func() {
		if r := recover(); r != nil {
			t.log.Errorf("Panic in tracker update: %v", r)
			tracks = t.lastResult
		}
	}()
	start := time.Now()
	var result map[int64]Track
	if t.embedder != nil && !t.downgraded {
		var err error
		result, err = t.updateEmbedding(frame, detections)
		if err != nil {
			t.log.Errorf("Embedding tracker failed, downgrading permanently to greedy matching: %v", err)
			t.downgraded = true
			// Reprocess the same detections so this call still returns results
			result = t.updateGreedy(detections)
		}
	} else {
		result = t.updateGreedy(detections)
	}
	t.lastResult = result
	t.lastUpdate = time.Since(start)
	perfstats.Update(&perfstats.Stats.TrackNanoseconds, t.lastUpdate.Nanoseconds())
	return result
}

// LastUpdate returns the duration of the most recent Update call.
func (t *Tracker) LastUpdate() time.Duration {
	return t.lastUpdate
}

// Downgraded reports whether the embedding tracker has been abandoned.
func (t *Tracker) Downgraded() bool {
	return t.downgraded
}

// Strategy A: translate boxes to the embedding tracker's corner form, let it
// do the association, and keep only its confirmed tracks.
func (t *Tracker) updateEmbedding(frame *cimg.Image, detections []nn.ObjectDetection) (map[int64]Track, error) {
	converted := make([]EmbeddingDetection, 0, len(detections))
	for _, det := range detections {
		x1, y1, x2, y2 := det.Box.Corners()
		converted = append(converted, EmbeddingDetection{
			X1:         float32(x1),
			Y1:         float32(y1),
			X2:         float32(x2),
			Y2:         float32(y2),
			Confidence: det.Confidence,
			Label:      "person",
		})
	}
	raw, err := t.embedder.Update(frame, converted)
	if err != nil {
		return nil, err
	}
	result := map[int64]Track{}
	for _, et := range raw {
		if !et.Confirmed {
			continue
		}
		result[et.ID] = Track{
			ID:         et.ID,
			Box:        nn.RectFromCorners(int(et.X1), int(et.Y1), int(et.X2), int(et.Y2)),
			Confidence: et.Confidence,
			Feature:    et.Feature,
		}
	}
	return result, nil
}

// Strategy B: greedy IoU matching.
//
// Every live track ages by one frame, and tracks older than maxAge are
// deleted. Detections are then matched to tracks by repeatedly committing the
// globally best (track, detection) pair whose IoU exceeds the threshold.
// Unmatched detections become new tracks with fresh sequential ids.
func (t *Tracker) updateGreedy(detections []nn.ObjectDetection) map[int64]Track {
	for id, person := range t.tracks {
		person.age++
		if person.age > t.maxAge {
			delete(t.tracks, id)
		}
	}

	if len(detections) == 0 {
		return t.snapshot()
	}

	if len(t.tracks) == 0 {
		for i := range detections {
			t.newTrack(&detections[i])
		}
		return t.snapshot()
	}

	// Deterministic row order, so that equal scores resolve the same way
	// on every run.
	ids := make([]int64, 0, len(t.tracks))
	for id := range t.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })

	similarity := mat.NewDense(len(ids), len(detections), nil)
	for i, id := range ids {
		for j := range detections {
			similarity.Set(i, j, float64(t.tracks[id].box.IOU(detections[j].Box)))
		}
	}

	matchedDetection := make([]bool, len(detections))
	threshold := float64(t.iouThreshold)
	for {
		bestI, bestJ := -1, -1
		bestScore := threshold
		for i := 0; i < len(ids); i++ {
			for j := 0; j < len(detections); j++ {
				if score := similarity.At(i, j); score > bestScore {
					bestI, bestJ = i, j
					bestScore = score
				}
			}
		}
		if bestI == -1 {
			break
		}
		person := t.tracks[ids[bestI]]
		det := &detections[bestJ]
		person.box = det.Box
		person.confidence = det.Confidence
		person.age = 0
		person.totalSightings++
		person.history.Add(det.Box)
		matchedDetection[bestJ] = true
		for j := 0; j < len(detections); j++ {
			similarity.Set(bestI, j, 0)
		}
		for i := 0; i < len(ids); i++ {
			similarity.Set(i, bestJ, 0)
		}
	}

	for j := range detections {
		if !matchedDetection[j] {
			t.newTrack(&detections[j])
		}
	}

	return t.snapshot()
}

// newTrack creates a track for an unmatched detection. Ids are assigned
// sequentially and never reused.
func (t *Tracker) newTrack(det *nn.ObjectDetection) {
	person := &trackedPerson{
		id:             t.nextID,
		box:            det.Box,
		confidence:     det.Confidence,
		age:            0,
		totalSightings: 1,
		history:        ringbuffer.NewRingP[nn.Rect](t.historyCap),
	}
	person.history.Add(det.Box)
	t.tracks[person.id] = person
	t.nextID++
}

func (t *Tracker) snapshot() map[int64]Track {
	result := make(map[int64]Track, len(t.tracks))
	for id, person := range t.tracks {
		result[id] = person.snapshot()
	}
	return result
}

// Close shuts down the embedding tracker (if any) and discards all state.
func (t *Tracker) Close() error {
	t.tracks = map[int64]*trackedPerson{}
	t.lastResult = map[int64]Track{}
	if t.embedder != nil {
		return t.embedder.Close()
	}
	return nil
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
