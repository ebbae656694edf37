package detect

import (
	"errors"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/vigilcam/vigil/pkg/nn"
	"github.com/vigilcam/vigil/server/config"
)

type fakeModel struct {
	output   []float32
	outShape []int64
	err      error
	calls    int
}

func (f *fakeModel) Run(shape []int64, input []float32) ([]float32, []int64, error) {
	f.calls++
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.output, f.outShape, nil
}

func (f *fakeModel) Close() error {
	return nil
}

// buildOutput packs candidate (x, y, w, h, confidence) rows into the
// [1, 5, N] tensor layout the detector expects.
func buildOutput(candidates [][5]float32) ([]float32, []int64) {
	n := len(candidates)
	out := make([]float32, 5*n)
	for i, c := range candidates {
		for attr := 0; attr < 5; attr++ {
			out[attr*n+i] = c[attr]
		}
	}
	return out, []int64{1, 5, int64(n)}
}

func testConfig() (*nn.ModelConfig, config.Detection) {
	modelConfig := &nn.ModelConfig{Architecture: "yolo11", Width: 8, Height: 8, Classes: []string{"person"}}
	return modelConfig, config.Detection{ConfidenceThreshold: 0.7, NmsIouThreshold: 0.45}
}

func testFrame() *cimg.Image {
	return cimg.NewImage(8, 8, cimg.PixelFormatRGB)
}

func TestDetectFiltersAndClips(t *testing.T) {
	output, outShape := buildOutput([][5]float32{
		{1, 1, 4, 4, 0.9},
		{1, 1, 4, 4, 0.5},  // below confidence threshold
		{6, 6, 5, 5, 0.95}, // extends past the frame edge
	})
	model := &fakeModel{output: output, outShape: outShape}
	modelConfig, cfg := testConfig()
	detector, err := NewDetector(logs.NewTestingLog(t), model, modelConfig, cfg)
	require.NoError(t, err)

	objects := detector.Detect(testFrame())
	require.Len(t, objects, 2)
	// Ordered by confidence after NMS
	require.Equal(t, nn.Rect{X: 6, Y: 6, Width: 2, Height: 2}, objects[0].Box)
	require.Equal(t, float32(0.95), objects[0].Confidence)
	require.Equal(t, nn.Rect{X: 1, Y: 1, Width: 4, Height: 4}, objects[1].Box)
}

func TestDetectSuppressesDuplicates(t *testing.T) {
	output, outShape := buildOutput([][5]float32{
		{1, 1, 4, 4, 0.9},
		{1, 2, 4, 4, 0.8}, // same person, slightly shifted box
	})
	model := &fakeModel{output: output, outShape: outShape}
	modelConfig, cfg := testConfig()
	detector, err := NewDetector(logs.NewTestingLog(t), model, modelConfig, cfg)
	require.NoError(t, err)

	objects := detector.Detect(testFrame())
	require.Len(t, objects, 1)
	require.Equal(t, float32(0.9), objects[0].Confidence)
}

func TestDetectFailureYieldsEmptyList(t *testing.T) {
	model := &fakeModel{err: errors.New("inference blew up")}
	modelConfig, cfg := testConfig()
	detector, err := NewDetector(logs.NewTestingLog(t), model, modelConfig, cfg)
	require.NoError(t, err)

	require.Empty(t, detector.Detect(testFrame()))
	require.Equal(t, 1, model.calls)
}

func TestRuntimeThresholdUpdate(t *testing.T) {
	output, outShape := buildOutput([][5]float32{
		{1, 1, 4, 4, 0.5},
	})
	model := &fakeModel{output: output, outShape: outShape}
	modelConfig, cfg := testConfig()
	detector, err := NewDetector(logs.NewTestingLog(t), model, modelConfig, cfg)
	require.NoError(t, err)

	require.Empty(t, detector.Detect(testFrame()))
	detector.SetConfidenceThreshold(0.4)
	require.Len(t, detector.Detect(testFrame()), 1)
}
