// Package pipeline composes detection, tracking and temporal classification
// into a per-frame processing loop.
package pipeline

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"

	"github.com/vigilcam/vigil/pkg/nn"
	"github.com/vigilcam/vigil/server/classify"
	"github.com/vigilcam/vigil/server/perfstats"
	"github.com/vigilcam/vigil/server/track"
)

// Detector finds people in one frame.
type Detector interface {
	Detect(frame *cimg.Image) []nn.ObjectDetection
	Close() error
}

// Tracker assigns stable identities to detections across frames.
type Tracker interface {
	Update(frame *cimg.Image, detections []nn.ObjectDetection) map[int64]track.Track
	Close() error
}

// Classifier scores a sliding window of frames for violent behavior.
type Classifier interface {
	AddFrame(frame *cimg.Image) bool
	Classify() classify.Result
	ClearBuffer()
	Close() error
}

// Person is one tracked person in a frame result.
type Person struct {
	ID         int64   `json:"id"`
	Box        nn.Rect `json:"box"`
	Confidence float32 `json:"confidence"`
}

// FrameResult is the merged outcome of processing one frame. It is consumed
// by the video processor to decide incident-worthy events and to render the
// live annotated stream.
type FrameResult struct {
	FrameID          int64    `json:"frameID"`
	Persons          []Person `json:"persons"`
	ViolenceDetected bool     `json:"violenceDetected"`
	ViolenceScore    float32  `json:"violenceScore"`
	ViolenceClass    string   `json:"violenceClass"`
	FPS              float64  `json:"fps"`
	ProcessingTimeMS float64  `json:"processingTimeMS"`
}

// Pipeline drives one camera session, one frame at a time. ProcessFrame calls
// must not overlap; all mutable state is confined to this struct and the
// components it owns.
type Pipeline struct {
	log        logs.Log
	detector   Detector
	tracker    Tracker
	classifier Classifier

	// Classification is expensive, so it re-runs only every
	// classificationInterval frames; the last result is cached in between.
	classificationInterval  int64
	frameCount              int64
	lastClassificationFrame int64
	cached                  *classify.Result

	fpsStart   time.Time
	fpsFrames  int
	currentFPS float64
}

// NewPipeline composes the three stages.
func NewPipeline(logger logs.Log, detector Detector, tracker Tracker, classifier Classifier, classificationInterval int) *Pipeline {
	return &Pipeline{
		log:                    logger,
		detector:               detector,
		tracker:                tracker,
		classifier:             classifier,
		classificationInterval: int64(max(1, classificationInterval)),
		fpsStart:               time.Now(),
	}
}

// ProcessFrame runs one frame through the pipeline and always returns a
// well-formed result, even when every stage degrades.
//
// Detection+tracking and classification are independent, and the classifier
// is allowed to be stale by up to the gating interval, so classification runs
// concurrently with the detect/track critical path.
func (p *Pipeline) ProcessFrame(frame *cimg.Image) *FrameResult {
	if frame == nil || frame.Width == 0 || frame.Height == 0 {
		// Cheap guard: no component invoked, no state mutated
		return &FrameResult{
			FrameID:       p.frameCount,
			Persons:       []Person{},
			ViolenceClass: classify.ClassNames[classify.ClassNoViolence],
		}
	}

	start := time.Now()
	p.frameCount++

	p.fpsFrames++
	if elapsed := time.Since(p.fpsStart); elapsed >= time.Second {
		p.currentFPS = float64(p.fpsFrames) / elapsed.Seconds()
		p.fpsFrames = 0
		p.fpsStart = time.Now()
	}

	windowFull := p.classifier.AddFrame(frame)

	shouldClassify := p.cached == nil ||
		p.frameCount-p.lastClassificationFrame >= p.classificationInterval
	var classification chan classify.Result
	if shouldClassify && windowFull {
		classification = make(chan classify.Result, 1)
		go func() {
			classification <- p.classifier.Classify()
		}()
	}

	detections := p.detector.Detect(frame)
	tracks := p.tracker.Update(frame, detections)

	if classification != nil {
		result := <-classification
		p.cached = &result
		p.lastClassificationFrame = p.frameCount
	}

	persons := make([]Person, 0, len(tracks))
	for id, tr := range tracks {
		persons = append(persons, Person{
			ID:         id,
			Box:        tr.Box,
			Confidence: tr.Confidence,
		})
	}
	sort.Slice(persons, func(a, b int) bool { return persons[a].ID < persons[b].ID })

	result := &FrameResult{
		FrameID:       p.frameCount,
		Persons:       persons,
		ViolenceClass: classify.ClassNames[classify.ClassNoViolence],
		FPS:           math.Round(p.currentFPS*10) / 10,
	}
	if p.cached != nil {
		result.ViolenceDetected = p.cached.ViolenceDetected
		result.ViolenceScore = p.cached.Score
		result.ViolenceClass = p.cached.ClassName
	}

	elapsed := time.Since(start)
	perfstats.Update(&perfstats.Stats.FrameNanoseconds, elapsed.Nanoseconds())
	result.ProcessingTimeMS = math.Round(float64(elapsed.Nanoseconds())/1e6*100) / 100
	return result
}

// Close shuts the components down concurrently. A failure in one component's
// shutdown is logged and does not abort the others.
func (p *Pipeline) Close() {
	p.log.Infof("Pipeline shutting down")
	closers := []struct {
		name  string
		close func() error
	}{
		{"detector", p.detector.Close},
		{"tracker", p.tracker.Close},
		{"classifier", p.classifier.Close},
	}
	wg := sync.WaitGroup{}
	for _, c := range closers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := c.close(); err != nil {
				p.log.Errorf("Error closing %v: %v", c.name, err)
			}
		}()
	}
	wg.Wait()
	p.log.Infof("Pipeline is closed")
}
