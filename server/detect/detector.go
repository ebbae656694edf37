// Package detect runs the per-frame person detector.
package detect

import (
	"fmt"
	"sync"
	"time"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/vigilcam/vigil/pkg/nn"
	"github.com/vigilcam/vigil/server/config"
	"github.com/vigilcam/vigil/server/perfstats"
)

// Detector finds people in a single frame. It is stateless between frames,
// apart from latency bookkeeping.
type Detector struct {
	log         logs.Log
	model       nn.Scorer
	modelConfig nn.ModelConfig
	personClass int

	thresholdLock       sync.Mutex
	confidenceThreshold float32
	nmsIouThreshold     float32

	lastErrAt     time.Time
	lastInference time.Duration
}

// NewDetector wraps a loaded detector model.
// modelConfig carries the model's input resolution and class list.
func NewDetector(logger logs.Log, model nn.Scorer, modelConfig *nn.ModelConfig, cfg config.Detection) (*Detector, error) {
	if modelConfig.Width <= 0 || modelConfig.Height <= 0 {
		return nil, fmt.Errorf("Invalid detector input size %vx%v", modelConfig.Width, modelConfig.Height)
	}
	personClass := 0
	for i, class := range modelConfig.Classes {
		if class == "person" {
			personClass = i
			break
		}
	}
	return &Detector{
		log:                 logger,
		model:               model,
		modelConfig:         *modelConfig,
		personClass:         personClass,
		confidenceThreshold: cfg.ConfidenceThreshold,
		nmsIouThreshold:     cfg.NmsIouThreshold,
	}, nil
}

// SetConfidenceThreshold applies a runtime threshold update, without
// restarting the pipeline.
func (d *Detector) SetConfidenceThreshold(threshold float32) {
	d.thresholdLock.Lock()
	d.confidenceThreshold = threshold
	d.thresholdLock.Unlock()
}

func (d *Detector) thresholds() (confidence, nmsIoU float32) {
	d.thresholdLock.Lock()
	defer d.thresholdLock.Unlock()
	return d.confidenceThreshold, d.nmsIouThreshold
}

// LastInference returns the duration of the most recent forward pass.
func (d *Detector) LastInference() time.Duration {
	return d.lastInference
}

// Detect finds people in the frame. Boxes are in original-frame pixel
// coordinates. A failure anywhere in preprocessing, inference or
// postprocessing yields an empty list, never an error: detection failure must
// not halt the pipeline.
func (d *Detector) Detect(frame *cimg.Image) []nn.ObjectDetection {
	start := time.Now()
	objects, err := d.detect(frame)
	d.lastInference = time.Since(start)
	perfstats.Update(&perfstats.Stats.DetectNanoseconds, d.lastInference.Nanoseconds())
	if err != nil {
		// Rate limit, so a persistently broken model doesn't flood the log
		if time.Since(d.lastErrAt) > 15*time.Second {
			d.log.Errorf("Error detecting people: %v", err)
			d.lastErrAt = time.Now()
		}
		return nil
	}
	return objects
}

func (d *Detector) detect(frame *cimg.Image) ([]nn.ObjectDetection, error) {
	if frame == nil || frame.Width == 0 || frame.Height == 0 {
		return nil, nil
	}
	input, err := d.preprocess(frame)
	if err != nil {
		return nil, err
	}
	nnWidth := d.modelConfig.Width
	nnHeight := d.modelConfig.Height
	output, outShape, err := d.model.Run([]int64{1, 3, int64(nnHeight), int64(nnWidth)}, input)
	if err != nil {
		return nil, err
	}
	return d.postprocess(output, outShape, frame.Width, frame.Height)
}

// preprocess resizes the frame to the model input resolution, converts to
// RGB, scales to [0,1], and reorders into NCHW.
func (d *Detector) preprocess(frame *cimg.Image) ([]float32, error) {
	rgb := frame.ToRGB()
	nnWidth := d.modelConfig.Width
	nnHeight := d.modelConfig.Height
	if rgb.Width != nnWidth || rgb.Height != nnHeight {
		rgb = cimg.ResizeNew(rgb, nnWidth, nnHeight)
	}
	tensor := make([]float32, 3*nnHeight*nnWidth)
	plane := nnHeight * nnWidth
	for y := 0; y < nnHeight; y++ {
		row := rgb.Pixels[y*rgb.Stride:]
		for x := 0; x < nnWidth; x++ {
			tensor[0*plane+y*nnWidth+x] = float32(row[x*3+0]) / 255
			tensor[1*plane+y*nnWidth+x] = float32(row[x*3+1]) / 255
			tensor[2*plane+y*nnWidth+x] = float32(row[x*3+2]) / 255
		}
	}
	return tensor, nil
}

// postprocess decodes the raw (x, y, w, h, confidence) tensor, filters by
// confidence, suppresses duplicates, and rescales boxes from model input
// resolution back into original-frame pixels.
func (d *Detector) postprocess(output []float32, outShape []int64, frameWidth, frameHeight int) ([]nn.ObjectDetection, error) {
	if len(outShape) < 2 {
		return nil, fmt.Errorf("Unexpected detector output shape %v", outShape)
	}
	numAttrs := int(outShape[len(outShape)-2])
	numCandidates := int(outShape[len(outShape)-1])
	if numAttrs < 5 || numCandidates < 0 || numAttrs*numCandidates > len(output) {
		return nil, fmt.Errorf("Unexpected detector output shape %v for %v values", outShape, len(output))
	}

	confidenceThreshold, nmsIoU := d.thresholds()
	scaleX := float32(frameWidth) / float32(d.modelConfig.Width)
	scaleY := float32(frameHeight) / float32(d.modelConfig.Height)

	candidates := []nn.ObjectDetection{}
	for i := 0; i < numCandidates; i++ {
		confidence := output[4*numCandidates+i]
		if confidence < confidenceThreshold {
			continue
		}
		x := output[0*numCandidates+i] * scaleX
		y := output[1*numCandidates+i] * scaleY
		w := output[2*numCandidates+i] * scaleX
		h := output[3*numCandidates+i] * scaleY
		box := nn.Rect{X: int(x), Y: int(y), Width: int(w), Height: int(h)}.Clip(frameWidth, frameHeight)
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}
		candidates = append(candidates, nn.ObjectDetection{
			Class:      d.personClass,
			Confidence: confidence,
			Box:        box,
		})
	}
	return nn.NonMaxSuppression(candidates, nmsIoU), nil
}

// Close releases the underlying model.
func (d *Detector) Close() error {
	return d.model.Close()
}
