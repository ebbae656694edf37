package nn

// Package nn is the interface layer between the pipeline and the neural
// networks. To create a concrete model session, use the ort package.

import (
	"encoding/json"
	"os"
)

const DefaultConfidenceThreshold = 0.7
const DefaultNmsIouThreshold = 0.45

// ObjectDetection is an object that a detector has found in an image.
// The box is in original-image pixel coordinates.
type ObjectDetection struct {
	Class      int     `json:"class"`
	Confidence float32 `json:"confidence"`
	Box        Rect    `json:"box"`
}

// Scorer is a single loaded neural network, reduced to a pure scoring
// function. The runtime behind it (ONNX Runtime, an accelerator, or a test
// fake) is substitutable without touching pipeline logic.
type Scorer interface {
	// Run executes one forward pass. Input and output are dense float32
	// tensors with explicit shapes.
	Run(shape []int64, input []float32) (output []float32, outShape []int64, err error)

	// Close releases the model. You must call this when finished, because
	// there is a C object underneath.
	Close() error
}

// ModelConfig is saved in a JSON file alongside the weights of a model.
type ModelConfig struct {
	Architecture string   `json:"architecture"` // eg "yolo11"
	Width        int      `json:"width"`        // eg 640
	Height       int      `json:"height"`       // eg 640
	Classes      []string `json:"classes"`      // eg ["person"]
}

// Load model config from a JSON file.
func LoadModelConfig(filename string) (*ModelConfig, error) {
	b, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	config := &ModelConfig{}
	err = json.Unmarshal(b, config)
	if err != nil {
		return nil, err
	}
	return config, nil
}
