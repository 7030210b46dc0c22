package vision

import (
	"testing"

	"github.com/sovren-software/visage/internal/types"
)

func TestExtractRejectsMissingLandmarks(t *testing.T) {
	r := &Recognizer{}
	gray := make([]byte, 10*10)
	face := types.BoundingBox{X: 0, Y: 0, W: 10, H: 10, Confidence: 0.9}

	_, err := r.Extract(gray, 10, 10, face)
	if err == nil {
		t.Fatal("expected error for face without landmarks")
	}
	var visionErr *Error
	if !asVisionError(err, &visionErr) {
		t.Fatalf("expected *Error, got %T", err)
	}
	if visionErr.Kind != ErrNoLandmarks {
		t.Fatalf("kind = %v, want ErrNoLandmarks", visionErr.Kind)
	}
}

func TestPreprocessArcFaceReplicatesChannels(t *testing.T) {
	aligned := make([]byte, arcfaceInputSize*arcfaceInputSize)
	for i := range aligned {
		aligned[i] = 200
	}
	tensor := preprocessArcFace(aligned)
	if len(tensor) != 3*arcfaceInputSize*arcfaceInputSize {
		t.Fatalf("tensor len = %d, want %d", len(tensor), 3*arcfaceInputSize*arcfaceInputSize)
	}
	want := (float32(200) - arcfaceMean) / arcfaceStd
	plane := arcfaceInputSize * arcfaceInputSize
	if tensor[0] != want || tensor[plane] != want || tensor[2*plane] != want {
		t.Fatalf("channels not replicated identically: %v", tensor[0:1])
	}
}

func TestL2NormalizeUnitLength(t *testing.T) {
	values := []float32{3, 4, 0}
	l2Normalize(values)
	if values[0] != 0.6 || values[1] != 0.8 {
		t.Fatalf("got %v, want [0.6 0.8 0]", values)
	}
}

func TestL2NormalizeZeroVectorUnchanged(t *testing.T) {
	values := []float32{0, 0, 0}
	l2Normalize(values)
	for _, v := range values {
		if v != 0 {
			t.Fatalf("expected zero vector unchanged, got %v", values)
		}
	}
}

func asVisionError(err error, target **Error) bool {
	ve, ok := err.(*Error)
	if !ok {
		return false
	}
	*target = ve
	return true
}
