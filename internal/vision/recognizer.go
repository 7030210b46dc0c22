package vision

import (
	"fmt"
	"math"
	"os"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/sovren-software/visage/internal/types"
)

const (
	arcfaceInputSize  = 112
	arcfaceMean       = 127.5
	arcfaceStd        = 127.5
	arcfaceEmbedDim   = 512
	arcfaceModelLabel = "w600k_r50"
)

// Recognizer wraps a loaded ArcFace ONNX session.
type Recognizer struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
}

// NewRecognizer loads the ArcFace model at modelPath and builds the
// inference session.
func NewRecognizer(modelPath string, opts *ort.SessionOptions) (*Recognizer, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &Error{Kind: ErrModelNotFound, Msg: modelPath, Err: err}
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "inspect model I/O", Err: err}
	}
	if len(inputInfo) == 0 || len(outputInfo) == 0 {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "model missing input or output", Err: nil}
	}

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputInfo[0].Name},
		[]string{outputInfo[0].Name},
		opts,
	)
	if err != nil {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "create session", Err: err}
	}

	return &Recognizer{session: session, inputName: inputInfo[0].Name, outputName: outputInfo[0].Name}, nil
}

// Close releases the underlying ONNX session.
func (r *Recognizer) Close() error {
	if r.session == nil {
		return nil
	}
	return r.session.Destroy()
}

// Extract aligns gray (width x height) against face's landmarks and
// runs the ArcFace embedding model, returning a 512-dim, L2-normalized
// embedding. A face with no detected landmarks cannot be aligned and
// returns ErrNoLandmarks.
func (r *Recognizer) Extract(gray []byte, width, height int, face types.BoundingBox) (types.Embedding, error) {
	if face.Landmarks == nil {
		return types.Embedding{}, &Error{Kind: ErrNoLandmarks, Msg: "face has no landmarks"}
	}

	aligned := AlignFace(gray, width, height, *face.Landmarks)
	input := preprocessArcFace(aligned)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, arcfaceInputSize, arcfaceInputSize), input)
	if err != nil {
		return types.Embedding{}, &Error{Kind: ErrInferenceFailed, Msg: "build input tensor", Err: err}
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 1)
	if err := r.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return types.Embedding{}, &Error{Kind: ErrInferenceFailed, Msg: "session run", Err: err}
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	values := tensorFloats(outputs[0])
	if len(values) != arcfaceEmbedDim {
		return types.Embedding{}, &Error{Kind: ErrInferenceFailed, Msg: fmt.Sprintf("expected %d-dim embedding, got %d", arcfaceEmbedDim, len(values))}
	}

	out := make([]float32, arcfaceEmbedDim)
	copy(out, values)
	l2Normalize(out)

	return types.Embedding{Values: out, ModelVersion: arcfaceModelLabel}, nil
}

// preprocessArcFace converts a 112x112 grayscale aligned crop into a
// 1x3x112x112 NCHW float32 tensor, replicated across channels and
// symmetrically normalized.
func preprocessArcFace(aligned []byte) []float32 {
	const size = arcfaceInputSize
	tensor := make([]float32, 3*size*size)
	for c := 0; c < 3; c++ {
		base := c * size * size
		for i, px := range aligned {
			tensor[base+i] = (float32(px) - arcfaceMean) / arcfaceStd
		}
	}
	return tensor
}

// l2Normalize scales values to unit length in place. A zero-norm
// vector is left unchanged.
func l2Normalize(values []float32) {
	var sum float64
	for _, v := range values {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range values {
		values[i] /= norm
	}
}
