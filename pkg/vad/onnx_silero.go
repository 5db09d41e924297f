//go:build silero

package vad

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/lingua-s2s/s2s-engine/pkg/types"
)

// sileroWindowSize is the number of float32 samples per inference call.
// Silero VAD v5 at 16 kHz requires exactly 512 samples (32 ms).
const sileroWindowSize = 512

// sileroStateSize is the hidden-state dimension per recurrent layer.
// Silero VAD v5 uses a combined state tensor of shape [2, 1, 128].
const sileroStateSize = 128

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// OnnxSileroEngine runs Silero VAD v5 inference via ONNX Runtime. It keeps
// its recurrent state tensor across calls, so callers must serialize
// access (the owning VAD holds a mutex around the whole per-frame Detect
// call — see spec.md §5 "Hidden state of the VAD neural model").
type OnnxSileroEngine struct {
	session *ort.AdvancedSession

	inputTensor *ort.Tensor[float32]
	stateTensor *ort.Tensor[float32]
	srTensor    *ort.Tensor[int64]

	outputTensor *ort.Tensor[float32]
	stateNTensor *ort.Tensor[float32]

	pcmBuf []float32
}

// NewOnnxSileroEngine loads the ONNX model at modelPath and allocates the
// input/output tensors. sharedLibPath is the path to the onnxruntime
// shared library (platform-specific, configured via engineconfig).
func NewOnnxSileroEngine(modelPath, sharedLibPath string, sampleRate int64) (*OnnxSileroEngine, error) {
	ortInitOnce.Do(func() {
		ort.SetSharedLibraryPath(sharedLibPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero: initialize onnxruntime: %w", ortInitErr)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, sileroWindowSize))
	if err != nil {
		return nil, fmt.Errorf("silero: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{sampleRate})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero: create stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero: create session: %w", err)
	}

	return &OnnxSileroEngine{
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
		pcmBuf:       make([]float32, 0, sileroWindowSize*2),
	}, nil
}

// Infer accumulates frame samples and runs inference for each complete
// 512-sample window, returning the probability of the most recent window.
// Frames shorter than one window return the last computed probability (0
// if none yet).
func (e *OnnxSileroEngine) Infer(frame types.AudioFrame) (float32, error) {
	e.pcmBuf = append(e.pcmBuf, frame.Data...)

	var last float32
	for len(e.pcmBuf) >= sileroWindowSize {
		copy(e.inputTensor.GetData(), e.pcmBuf[:sileroWindowSize])
		copy(e.stateTensor.GetData(), e.stateNTensor.GetData())

		if err := e.session.Run(); err != nil {
			return 0, fmt.Errorf("silero: run session: %w", err)
		}
		last = e.outputTensor.GetData()[0]
		e.pcmBuf = e.pcmBuf[sileroWindowSize:]
	}
	return last, nil
}

func (e *OnnxSileroEngine) Reset() {
	for i := range e.stateTensor.GetData() {
		e.stateTensor.GetData()[i] = 0
	}
	for i := range e.stateNTensor.GetData() {
		e.stateNTensor.GetData()[i] = 0
	}
	e.pcmBuf = e.pcmBuf[:0]
}

func (e *OnnxSileroEngine) Close() error {
	e.session.Destroy()
	e.inputTensor.Destroy()
	e.stateTensor.Destroy()
	e.srTensor.Destroy()
	e.outputTensor.Destroy()
	e.stateNTensor.Destroy()
	return nil
}
