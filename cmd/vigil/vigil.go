package main

// vigil runs the violence-detection pipeline over a directory of JPEG frames
// (ordered by filename) and writes one JSON result per frame to stdout.
// Camera acquisition, persistence and the web API live elsewhere; this tool
// exercises the pipeline itself.

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/akamensky/argparse"
	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"

	"github.com/vigilcam/vigil/pkg/nn"
	"github.com/vigilcam/vigil/pkg/ort"
	"github.com/vigilcam/vigil/server/classify"
	"github.com/vigilcam/vigil/server/config"
	"github.com/vigilcam/vigil/server/detect"
	"github.com/vigilcam/vigil/server/perfstats"
	"github.com/vigilcam/vigil/server/pipeline"
	"github.com/vigilcam/vigil/server/track"
)

func check(err error) {
	if err != nil {
		panic(err)
	}
}

func main() {
	parser := argparse.NewParser("vigil", "Violence detection pipeline")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration file", Default: "vigil.json"})
	framesDir := parser.String("f", "frames", &argparse.Options{Help: "Directory of JPEG frames, processed in filename order", Required: true})
	device := parser.String("d", "device", &argparse.Options{Help: "Override execution device (cpu or cuda)", Default: ""})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	check(err)
	if *device != "" {
		cfg.Models.Device = *device
	}

	check(ort.Initialize(cfg.Models.OnnxRuntimeLibrary))

	detectorModel, err := ort.NewSession(cfg.Models.Detector, ort.Device(cfg.Models.Device))
	check(err)
	detectorConfig, err := nn.LoadModelConfig(cfg.Models.DetectorConfig)
	check(err)
	detector, err := detect.NewDetector(logger, detectorModel, detectorConfig, cfg.Detection)
	check(err)

	classifierModel, err := ort.NewSession(cfg.Models.Classifier, ort.Device(cfg.Models.Device))
	check(err)
	classifier := classify.NewClassifier(logger, classifierModel, cfg.Violence)

	// No embedding tracker is bundled, so the tracker runs its greedy matcher
	tracker := track.NewTracker(logger, cfg.Tracking, nil)

	pipe := pipeline.NewPipeline(logger, detector, tracker, classifier, cfg.Violence.FrameInterval)
	defer pipe.Close()

	frames, err := listFrames(*framesDir)
	check(err)
	if len(frames) == 0 {
		logger.Warnf("No JPEG frames found in %v", *framesDir)
		return
	}

	encoder := json.NewEncoder(os.Stdout)
	for _, filename := range frames {
		frame, err := cimg.ReadFile(filename)
		if err != nil {
			logger.Errorf("Skipping %v: %v", filename, err)
			continue
		}
		check(encoder.Encode(pipe.ProcessFrame(frame)))
	}

	logger.Infof("Processed %v frames. %v", len(frames), perfstats.Stats.String())
}

func listFrames(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	frames := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			frames = append(frames, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(frames)
	return frames, nil
}
