package wakeword

import (
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrWakeword wraps ONNX pipeline setup and inference failures.
var ErrWakeword = errors.New("wakeword: error")

const (
	sampleRate    = 16000
	hopSamples    = 1280 // 80ms @ 16kHz, the snap unit for oww_hop_ms
	melBins       = 32
	nMelFrames    = 5
	melWindowSize = 76
	melStepSize   = 8
	embeddingDim  = 96
	nEmbedFrames  = 16
)

// SnapTo80ms rounds a window/hop size in ms down to the nearest multiple of
// 80ms, the melspectrogram pipeline's native chunk size at 16kHz.
func SnapTo80ms(ms int) int {
	snapped := (ms / 80) * 80
	if snapped < 80 {
		return 80
	}
	return snapped
}

// ModelPaths locates the three-stage openWakeWord-style ONNX pipeline.
type ModelPaths struct {
	MelspecModel   string
	EmbeddingModel string
	WakewordModel  string
	OnnxRuntimeLib string
}

// ONNXScorer implements Scorer via the melspectrogram -> embedding ->
// wakeword ONNX pipeline, fed 80ms hops of PCM16 audio.
type ONNXScorer struct {
	mu sync.Mutex

	melspecSess *ort.AdvancedSession
	embedSess   *ort.AdvancedSession
	wwSess      *ort.AdvancedSession

	melspecIn, melspecOut *ort.Tensor[float32]
	embedIn, embedOut     *ort.Tensor[float32]
	wwIn, wwOut           *ort.Tensor[float32]

	melBuffer   []float32
	embedBuffer []float32
}

// NewONNXScorer initializes the ONNX runtime and the three pipeline models.
// It sets the shared library path from OnnxRuntimeLib and calls
// ort.InitializeEnvironment itself, and Close destroys that environment, so
// one scorer exists per process under onnxruntime_go's
// one-environment-per-process contract.
func NewONNXScorer(paths ModelPaths) (*ONNXScorer, error) {
	ort.SetSharedLibraryPath(paths.OnnxRuntimeLib)
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("%w: init onnx runtime: %v", ErrWakeword, err)
	}

	s := &ONNXScorer{
		embedBuffer: make([]float32, nEmbedFrames*embeddingDim),
	}

	var err error
	s.melspecIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, hopSamples))
	if err != nil {
		return nil, fmt.Errorf("%w: melspec input tensor: %v", ErrWakeword, err)
	}
	s.melspecOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, nMelFrames, melBins))
	if err != nil {
		return nil, fmt.Errorf("%w: melspec output tensor: %v", ErrWakeword, err)
	}
	msIn, msOut, err := ort.GetInputOutputInfo(paths.MelspecModel)
	if err != nil {
		return nil, fmt.Errorf("%w: melspec model info: %v", ErrWakeword, err)
	}
	s.melspecSess, err = ort.NewAdvancedSession(paths.MelspecModel,
		[]string{msIn[0].Name}, []string{msOut[0].Name},
		[]ort.Value{s.melspecIn}, []ort.Value{s.melspecOut}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: melspec session: %v", ErrWakeword, err)
	}

	s.embedIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, melWindowSize, melBins, 1))
	if err != nil {
		return nil, fmt.Errorf("%w: embedding input tensor: %v", ErrWakeword, err)
	}
	s.embedOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1, 1, embeddingDim))
	if err != nil {
		return nil, fmt.Errorf("%w: embedding output tensor: %v", ErrWakeword, err)
	}
	emIn, emOut, err := ort.GetInputOutputInfo(paths.EmbeddingModel)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding model info: %v", ErrWakeword, err)
	}
	s.embedSess, err = ort.NewAdvancedSession(paths.EmbeddingModel,
		[]string{emIn[0].Name}, []string{emOut[0].Name},
		[]ort.Value{s.embedIn}, []ort.Value{s.embedOut}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding session: %v", ErrWakeword, err)
	}

	s.wwIn, err = ort.NewEmptyTensor[float32](ort.NewShape(1, nEmbedFrames, embeddingDim))
	if err != nil {
		return nil, fmt.Errorf("%w: wakeword input tensor: %v", ErrWakeword, err)
	}
	s.wwOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		return nil, fmt.Errorf("%w: wakeword output tensor: %v", ErrWakeword, err)
	}
	wwIn, wwOut, err := ort.GetInputOutputInfo(paths.WakewordModel)
	if err != nil {
		return nil, fmt.Errorf("%w: wakeword model info: %v", ErrWakeword, err)
	}
	s.wwSess, err = ort.NewAdvancedSession(paths.WakewordModel,
		[]string{wwIn[0].Name}, []string{wwOut[0].Name},
		[]ort.Value{s.wwIn}, []ort.Value{s.wwOut}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: wakeword session: %v", ErrWakeword, err)
	}

	return s, nil
}

// Score feeds one hopSamples*2-byte PCM16 hop through the pipeline. Returns
// 0 with no error when this hop only advanced the mel/embedding buffers
// without producing a fresh wakeword score yet.
func (s *ONNXScorer) Score(frame []byte) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(frame) != hopSamples*2 {
		return 0, fmt.Errorf("%w: expected %d bytes, got %d", ErrWakeword, hopSamples*2, len(frame))
	}

	inData := s.melspecIn.GetData()
	for i := 0; i < hopSamples; i++ {
		sample := int16(uint16(frame[2*i]) | uint16(frame[2*i+1])<<8)
		inData[i] = float32(sample)
	}
	if err := s.melspecSess.Run(); err != nil {
		return 0, fmt.Errorf("%w: melspec run: %v", ErrWakeword, err)
	}

	melData := s.melspecOut.GetData()
	for f := 0; f < nMelFrames; f++ {
		for b := 0; b < melBins; b++ {
			idx := f*melBins + b
			if idx < len(melData) {
				s.melBuffer = append(s.melBuffer, melData[idx]/10.0+2.0)
			}
		}
	}

	scored := false
	var score float64
	totalMel := len(s.melBuffer) / melBins
	for totalMel >= melWindowSize {
		eData := s.embedIn.GetData()
		copy(eData, s.melBuffer[:melWindowSize*melBins])
		if err := s.embedSess.Run(); err != nil {
			return 0, fmt.Errorf("%w: embed run: %v", ErrWakeword, err)
		}
		eOut := s.embedOut.GetData()
		copy(s.embedBuffer, s.embedBuffer[embeddingDim:])
		copy(s.embedBuffer[(nEmbedFrames-1)*embeddingDim:], eOut[:embeddingDim])

		n := copy(s.melBuffer, s.melBuffer[melStepSize*melBins:])
		s.melBuffer = s.melBuffer[:n]
		totalMel = len(s.melBuffer) / melBins

		wwData := s.wwIn.GetData()
		copy(wwData, s.embedBuffer)
		if err := s.wwSess.Run(); err != nil {
			return 0, fmt.Errorf("%w: wakeword run: %v", ErrWakeword, err)
		}
		score = float64(s.wwOut.GetData()[0])
		scored = true
	}

	if !scored {
		return 0, nil
	}
	return score, nil
}

// Close releases every tensor and session owned by the scorer.
func (s *ONNXScorer) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.melspecSess != nil {
		s.melspecSess.Destroy()
	}
	if s.embedSess != nil {
		s.embedSess.Destroy()
	}
	if s.wwSess != nil {
		s.wwSess.Destroy()
	}
	if s.melspecIn != nil {
		s.melspecIn.Destroy()
	}
	if s.melspecOut != nil {
		s.melspecOut.Destroy()
	}
	if s.embedIn != nil {
		s.embedIn.Destroy()
	}
	if s.embedOut != nil {
		s.embedOut.Destroy()
	}
	if s.wwIn != nil {
		s.wwIn.Destroy()
	}
	if s.wwOut != nil {
		s.wwOut.Destroy()
	}
	ort.DestroyEnvironment()
}
