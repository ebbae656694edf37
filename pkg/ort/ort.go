package ort

// Package ort backs the nn.Scorer interface with ONNX Runtime, via the
// onnxruntime_go binding. This is the only package that knows which runtime
// executes the models.

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/vigilcam/vigil/pkg/nn"
	onnx "github.com/yalue/onnxruntime_go"
)

// Device is the execution backend preference for a model.
type Device string

const (
	DeviceCPU  Device = "cpu"
	DeviceCUDA Device = "cuda"
)

var (
	initOnce sync.Once
	initErr  error
)

// Initialize loads the ONNX Runtime shared library. libraryPath may be empty,
// in which case the binding's default search is used. Safe to call more than
// once; only the first call has any effect.
func Initialize(libraryPath string) error {
	initOnce.Do(func() {
		if libraryPath != "" {
			onnx.SetSharedLibraryPath(libraryPath)
		}
		initErr = onnx.InitializeEnvironment()
	})
	return initErr
}

// Session is one loaded ONNX model. It implements nn.Scorer.
type Session struct {
	session    *onnx.DynamicAdvancedSession
	inputName  string
	outputName string
}

// NewSession loads a model from disk. A missing model file is a fatal
// construction error, because the system cannot run without its models.
func NewSession(modelPath string, device Device) (*Session, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("Model not found at %v: %w", modelPath, err)
	}
	if err := Initialize(""); err != nil {
		return nil, fmt.Errorf("Failed to initialize ONNX Runtime: %w", err)
	}

	inputs, outputs, err := onnx.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("Failed to read model metadata from %v: %w", modelPath, err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("Model %v has no inputs or outputs", modelPath)
	}

	options, err := onnx.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()
	if device == DeviceCUDA {
		cudaOptions, err := onnx.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("CUDA requested but unavailable: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("CUDA requested but unavailable: %w", err)
		}
	} else {
		if err := options.SetIntraOpNumThreads(runtime.NumCPU()); err != nil {
			return nil, err
		}
	}

	session, err := onnx.NewDynamicAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name}, options)
	if err != nil {
		return nil, fmt.Errorf("Failed to load model %v: %w", modelPath, err)
	}
	return &Session{
		session:    session,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

// Run executes a single forward pass.
func (s *Session) Run(shape []int64, input []float32) ([]float32, []int64, error) {
	inTensor, err := onnx.NewTensor(onnx.NewShape(shape...), input)
	if err != nil {
		return nil, nil, err
	}
	defer inTensor.Destroy()

	// Let ONNX Runtime allocate the output, so we don't need to know the
	// output shape up front.
	outValues := []onnx.Value{nil}
	if err := s.session.Run([]onnx.Value{inTensor}, outValues); err != nil {
		return nil, nil, err
	}
	outTensor, ok := outValues[0].(*onnx.Tensor[float32])
	if !ok {
		if outValues[0] != nil {
			outValues[0].Destroy()
		}
		return nil, nil, fmt.Errorf("Model output is not a float32 tensor")
	}
	defer outTensor.Destroy()

	src := outTensor.GetData()
	out := make([]float32, len(src))
	copy(out, src)
	return out, []int64(outTensor.GetShape()), nil
}

func (s *Session) Close() error {
	return s.session.Destroy()
}

// Compile-time check that Session satisfies the scoring contract.
var _ nn.Scorer = (*Session)(nil)
