package config

import (
	"encoding/json"
	"fmt"
	"os"
)

type Models struct {
	Detector           string `json:"detector"`           // Path to the person detector ONNX model
	DetectorConfig     string `json:"detectorConfig"`     // Path to the detector's JSON model config (input size, classes)
	Classifier         string `json:"classifier"`         // Path to the temporal violence classifier ONNX model
	Device             string `json:"device"`             // "cpu" or "cuda"
	OnnxRuntimeLibrary string `json:"onnxRuntimeLibrary"` // Optional path to libonnxruntime.so
}

type Detection struct {
	ConfidenceThreshold float32 `json:"confidenceThreshold"` // Minimum confidence for a person detection
	NmsIouThreshold     float32 `json:"nmsIouThreshold"`     // IoU above which overlapping boxes are merged
}

type Tracking struct {
	MaxTrackAge     int     `json:"maxTrackAge"`     // Frames without a match before a track is deleted
	IouThreshold    float32 `json:"iouThreshold"`    // Minimum IoU for the greedy fallback matcher
	HistoryCapacity int     `json:"historyCapacity"` // Ring buffer size of per-track position history
}

type Violence struct {
	Threshold     float32 `json:"threshold"`     // Minimum score for the direct-violence class
	FrameInterval int     `json:"frameInterval"` // Frames between classifier invocations
	WindowFrames  int     `json:"windowFrames"`  // Temporal window fed to the classifier
}

type Config struct {
	Models    Models    `json:"models"`
	Detection Detection `json:"detection"`
	Tracking  Tracking  `json:"tracking"`
	Violence  Violence  `json:"violence"`
}

// Default returns the configuration used when a field is absent from the
// config file.
func Default() *Config {
	return &Config{
		Models: Models{
			Device: "cpu",
		},
		Detection: Detection{
			ConfidenceThreshold: 0.70,
			NmsIouThreshold:     0.45,
		},
		Tracking: Tracking{
			MaxTrackAge:     30,
			IouThreshold:    0.4,
			HistoryCapacity: 16,
		},
		Violence: Violence{
			Threshold:     0.80,
			FrameInterval: 4,
			WindowFrames:  8,
		},
	}
}

func LoadConfig(filename string) (*Config, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("Error loading %v: %w", filename, err)
	}
	cfg := Default()
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("Error loading %v as JSON: %w", filename, err)
	}
	return cfg, nil
}
