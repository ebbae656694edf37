package classify

import (
	"errors"
	"testing"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"

	"github.com/vigilcam/vigil/server/config"
)

type fakeModel struct {
	logits    []float32
	err       error
	calls     int
	lastInput []float32
}

func (f *fakeModel) Run(shape []int64, input []float32) ([]float32, []int64, error) {
	f.calls++
	f.lastInput = input
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.logits, []int64{1, int64(len(f.logits))}, nil
}

func (f *fakeModel) Close() error {
	return nil
}

func testViolenceConfig() config.Violence {
	return config.Violence{Threshold: 0.8, FrameInterval: 4, WindowFrames: 8}
}

func testFrame() *cimg.Image {
	return cimg.NewImage(224, 224, cimg.PixelFormatRGB)
}

func fillWindow(c *Classifier, n int) {
	for i := 0; i < n; i++ {
		c.AddFrame(testFrame())
	}
}

func TestShortWindowNeverInvokesModel(t *testing.T) {
	model := &fakeModel{logits: []float32{0, 0, 5}}
	c := NewClassifier(logs.NewTestingLog(t), model, testViolenceConfig())
	for i := 0; i < 7; i++ {
		full := c.AddFrame(testFrame())
		require.False(t, full)
		result := c.Classify()
		require.Equal(t, ClassNoViolence, result.ClassID)
		require.Equal(t, "no_violence", result.ClassName)
		require.Equal(t, float32(0), result.Score)
		require.False(t, result.ViolenceDetected)
	}
	require.Equal(t, 0, model.calls)
	require.True(t, c.AddFrame(testFrame()))
}

func TestClassifyIsDeterministic(t *testing.T) {
	model := &fakeModel{logits: []float32{0, 0, 5}}
	c := NewClassifier(logs.NewTestingLog(t), model, testViolenceConfig())
	fillWindow(c, 8)

	first := c.Classify()
	second := c.Classify()
	require.Equal(t, ClassDirectViolence, first.ClassID)
	require.Equal(t, first.ClassID, second.ClassID)
	require.Equal(t, first.Score, second.Score)
	require.True(t, first.ViolenceDetected)
	require.Equal(t, 2, model.calls)
}

// The ambiguous class needs threshold+0.1 before it counts as violence, while
// the direct class needs only the threshold.
func TestAmbiguousClassNeedsStricterMargin(t *testing.T) {
	// softmax([0, 2.4277, 0]) gives the middle class a score of ~0.85
	model := &fakeModel{logits: []float32{0, 2.4277, 0}}
	c := NewClassifier(logs.NewTestingLog(t), model, testViolenceConfig())
	fillWindow(c, 8)
	result := c.Classify()
	require.Equal(t, ClassAmbiguousThreat, result.ClassID)
	require.InDelta(t, 0.85, result.Score, 0.01)
	require.False(t, result.ViolenceDetected)

	// The same score on the direct-violence class does trip the detector
	model.logits = []float32{0, 0, 2.4277}
	result = c.Classify()
	require.Equal(t, ClassDirectViolence, result.ClassID)
	require.InDelta(t, 0.85, result.Score, 0.01)
	require.True(t, result.ViolenceDetected)
}

func TestClassifyFailureYieldsAnnotatedDefault(t *testing.T) {
	model := &fakeModel{err: errors.New("inference blew up")}
	c := NewClassifier(logs.NewTestingLog(t), model, testViolenceConfig())
	fillWindow(c, 8)
	result := c.Classify()
	require.Equal(t, ClassNoViolence, result.ClassID)
	require.Equal(t, float32(0), result.Score)
	require.False(t, result.ViolenceDetected)
	require.NotEmpty(t, result.Err)
}

func TestAddFrameStoresADeepCopy(t *testing.T) {
	model := &fakeModel{logits: []float32{5, 0, 0}}
	c := NewClassifier(logs.NewTestingLog(t), model, testViolenceConfig())

	frame := testFrame()
	frame.Pixels[0] = 100
	for i := 0; i < 8; i++ {
		c.AddFrame(frame)
	}
	// Mutating the caller's frame after AddFrame must not affect stored state
	frame.Pixels[0] = 200

	c.Classify()
	require.EqualValues(t, 100, c.buffer.Peek(0).Pixels[0])
	require.InDelta(t, 100.0/255, model.lastInput[0], 1e-6)
}

func TestClearBufferEmptiesWindow(t *testing.T) {
	model := &fakeModel{logits: []float32{0, 0, 5}}
	c := NewClassifier(logs.NewTestingLog(t), model, testViolenceConfig())
	fillWindow(c, 8)
	c.ClearBuffer()
	result := c.Classify()
	require.Equal(t, ClassNoViolence, result.ClassID)
	require.Equal(t, 0, model.calls)
}

func TestRuntimeThresholdUpdate(t *testing.T) {
	// Direct-violence score ~0.85
	model := &fakeModel{logits: []float32{0, 0, 2.4277}}
	c := NewClassifier(logs.NewTestingLog(t), model, testViolenceConfig())
	fillWindow(c, 8)
	require.True(t, c.Classify().ViolenceDetected)
	c.SetThreshold(0.9)
	require.False(t, c.Classify().ViolenceDetected)
}
