package vision

import (
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/visage/internal/identity"
)

// ArcFace w600k_r50 geometry.
const (
	arcfaceInput = 112
	arcfaceDim   = 512
)

// Embedder extracts L2-normalized face embeddings with ArcFace.
type Embedder struct {
	mu           sync.Mutex
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
}

func NewEmbedder(modelPath string) (*Embedder, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, arcfaceInput, arcfaceInput))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, arcfaceDim))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{"input.1"}, []string{"683"},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}

	return &Embedder{session: session, inputTensor: inputTensor, outputTensor: outputTensor}, nil
}

// Embed runs the model on a face crop.
func (e *Embedder) Embed(face image.Image) ([]float32, error) {
	input := toCHW(face, arcfaceInput, arcfaceInput, [3]float32{127.5, 127.5, 127.5}, [3]float32{127.5, 127.5, 127.5})

	e.mu.Lock()
	defer e.mu.Unlock()

	copy(e.inputTensor.GetData(), input)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}
	return identity.Normalize(e.outputTensor.GetData()), nil
}

func (e *Embedder) Dimension() int { return arcfaceDim }

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}
