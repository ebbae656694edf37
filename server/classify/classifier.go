// Package classify runs the temporal violence classifier over a sliding
// window of recent frames.
package classify

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/bmharper/ringbuffer"
	"github.com/cyclopcam/logs"

	"github.com/vigilcam/vigil/pkg/nn"
	"github.com/vigilcam/vigil/server/config"
	"github.com/vigilcam/vigil/server/perfstats"
)

const (
	ClassNoViolence = iota
	ClassAmbiguousThreat
	ClassDirectViolence
)

// The ambiguous class needs a stricter margin than direct violence before we
// flag it. Tunable policy constant, not a derived threshold.
const AmbiguousMarginBoost = 0.1

// Classifier input resolution.
const frameWidth = 224
const frameHeight = 224

var ClassNames = []string{"no_violence", "ambiguous_threat", "direct_violence"}

// Result of one classifier invocation.
type Result struct {
	ClassID          int       `json:"classID"`
	ClassName        string    `json:"className"`
	Score            float32   `json:"score"`
	Scores           []float32 `json:"scores,omitempty"`
	ViolenceDetected bool      `json:"violenceDetected"`
	InferenceTimeMS  float64   `json:"inferenceTimeMS,omitempty"`
	Err              string    `json:"error,omitempty"`
}

// Classifier holds the frame window and the temporal model.
// It only produces a real classification once the window is full; until then
// (and on any failure) it reports the default no-violence result.
type Classifier struct {
	log          logs.Log
	model        nn.Scorer
	windowFrames int

	thresholdLock sync.Mutex
	threshold     float32

	buffer        ringbuffer.RingP[*cimg.Image]
	lastInference time.Duration
}

// NewClassifier wraps a loaded temporal classifier model.
func NewClassifier(logger logs.Log, model nn.Scorer, cfg config.Violence) *Classifier {
	windowFrames := max(1, cfg.WindowFrames)
	return &Classifier{
		log:          logger,
		model:        model,
		windowFrames: windowFrames,
		threshold:    cfg.Threshold,
		buffer:       ringbuffer.NewRingP[*cimg.Image](nextPowerOf2(windowFrames)),
	}
}

// SetThreshold applies a runtime violence-threshold update.
func (c *Classifier) SetThreshold(threshold float32) {
	c.thresholdLock.Lock()
	c.threshold = threshold
	c.thresholdLock.Unlock()
}

func (c *Classifier) violenceThreshold() float32 {
	c.thresholdLock.Lock()
	defer c.thresholdLock.Unlock()
	return c.threshold
}

// AddFrame stores a deep copy of the frame in the window, evicting the oldest
// frame when at capacity. Returns whether the window is now full.
func (c *Classifier) AddFrame(frame *cimg.Image) bool {
	c.buffer.Add(frame.Clone())
	return c.buffer.Len() >= c.windowFrames
}

// ClearBuffer discards the frame window.
func (c *Classifier) ClearBuffer() {
	c.buffer = ringbuffer.NewRingP[*cimg.Image](nextPowerOf2(c.windowFrames))
}

// LastInference returns the duration of the most recent forward pass.
func (c *Classifier) LastInference() time.Duration {
	return c.lastInference
}

func defaultResult() Result {
	return Result{
		ClassID:          ClassNoViolence,
		ClassName:        ClassNames[ClassNoViolence],
		Score:            0,
		ViolenceDetected: false,
	}
}

// Classify runs one forward pass over the whole window.
// If the window holds fewer frames than it needs, the model is not invoked
// and the default no-violence result is returned. A failure during
// preprocessing or inference yields the same default, annotated with the
// error; it never propagates.
func (c *Classifier) Classify() Result {
	if c.buffer.Len() < c.windowFrames {
		return defaultResult()
	}

	start := time.Now()
	result, err := c.classify()
	c.lastInference = time.Since(start)
	perfstats.Update(&perfstats.Stats.ClassifyNanoseconds, c.lastInference.Nanoseconds())
	if err != nil {
		c.log.Errorf("Error classifying violence: %v", err)
		r := defaultResult()
		r.Err = err.Error()
		return r
	}
	result.InferenceTimeMS = float64(c.lastInference.Nanoseconds()) / 1e6
	return result
}

func (c *Classifier) classify() (Result, error) {
	input := c.preprocessWindow()
	shape := []int64{1, int64(c.windowFrames), frameHeight, frameWidth, 3}
	output, outShape, err := c.model.Run(shape, input)
	if err != nil {
		return Result{}, err
	}

	numClasses := len(ClassNames)
	if len(outShape) > 0 && int(outShape[len(outShape)-1]) < numClasses {
		numClasses = int(outShape[len(outShape)-1])
	}
	if numClasses == 0 || len(output) < numClasses {
		return Result{}, fmt.Errorf("Classifier output has %v values, expected at least %v", len(output), len(ClassNames))
	}

	scores := nn.Softmax(output[:numClasses])
	classID := nn.Argmax(scores)
	score := scores[classID]
	threshold := c.violenceThreshold()
	violence := (classID == ClassDirectViolence && score >= threshold) ||
		(classID == ClassAmbiguousThreat && score >= threshold+AmbiguousMarginBoost)

	result := Result{
		ClassID:          classID,
		ClassName:        ClassNames[classID],
		Score:            score,
		Scores:           scores,
		ViolenceDetected: violence,
	}
	if violence {
		c.log.Infof("Violence detected: %v with score %.4f", result.ClassName, score)
	}
	return result, nil
}

// preprocessWindow resizes every buffered frame to the model input
// resolution, converts to RGB, scales to [0,1], and stacks them oldest-first
// into one temporal batch.
func (c *Classifier) preprocessWindow() []float32 {
	frameSize := frameHeight * frameWidth * 3
	tensor := make([]float32, c.windowFrames*frameSize)
	first := c.buffer.Len() - c.windowFrames
	for i := 0; i < c.windowFrames; i++ {
		rgb := c.buffer.Peek(first + i).ToRGB()
		if rgb.Width != frameWidth || rgb.Height != frameHeight {
			rgb = cimg.ResizeNew(rgb, frameWidth, frameHeight)
		}
		dst := tensor[i*frameSize : (i+1)*frameSize]
		for y := 0; y < frameHeight; y++ {
			row := rgb.Pixels[y*rgb.Stride:]
			for x := 0; x < frameWidth*3; x++ {
				dst[y*frameWidth*3+x] = float32(row[x]) / 255
			}
		}
	}
	return tensor
}

// Close releases the model and the frame window.
func (c *Classifier) Close() error {
	c.ClearBuffer()
	return c.model.Close()
}

func nextPowerOf2(n int) int {
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}
