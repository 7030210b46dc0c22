// Package vision implements the numerical inference pipeline: the
// SCRFD face detector, the 4-DOF similarity-transform aligner, the
// ArcFace recognizer, and the constant-time cosine matcher.
package vision

import (
	"fmt"
	"os"
	"sort"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/sovren-software/visage/internal/types"
)

const (
	scrfdInputSize           = 640
	scrfdMean                = 127.5
	scrfdStd                 = 128.0
	scrfdConfidenceThreshold = 0.5
	scrfdNMSThreshold        = 0.4
	scrfdAnchorsPerCell      = 2
)

var scrfdStrides = [3]int{8, 16, 32}

// Kind enumerates the detector/recognizer error taxonomy from spec.md §7.
type Kind int

const (
	ErrModelNotFound Kind = iota
	ErrInferenceFailed
	ErrNoLandmarks
)

// Error is the shared typed error for the detector and recognizer.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vision: %s: %v", e.Msg, e.Err)
	}
	return fmt.Sprintf("vision: %s", e.Msg)
}
func (e *Error) Unwrap() error { return e.Err }

// strideOutputIndices locates the score/bbox/kps output tensors for
// one SCRFD stride within the model's flat output list.
type strideOutputIndices struct {
	Score, BBox, Kps int
}

// Detector wraps a loaded SCRFD ONNX session.
type Detector struct {
	session   *ort.DynamicAdvancedSession
	inputName string
	strides   [3]strideOutputIndices
}

// NewDetector loads the SCRFD model at modelPath, discovers its output
// tensor ordering, and builds the inference session.
func NewDetector(modelPath string, opts *ort.SessionOptions) (*Detector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, &Error{Kind: ErrModelNotFound, Msg: modelPath, Err: err}
	}

	inputInfo, outputInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "inspect model I/O", Err: err}
	}
	if len(inputInfo) == 0 {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "model has no inputs", Err: nil}
	}
	if len(outputInfo) < 9 {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: fmt.Sprintf("expected >= 9 outputs, got %d", len(outputInfo)), Err: nil}
	}

	names := make([]string, len(outputInfo))
	for i, o := range outputInfo {
		names[i] = o.Name
	}
	strides, err := discoverOutputIndices(names)
	if err != nil {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "discover output indices", Err: err}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputInfo[0].Name}, names, opts)
	if err != nil {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "create session", Err: err}
	}

	return &Detector{session: session, inputName: inputInfo[0].Name, strides: strides}, nil
}

// Close releases the underlying ONNX session.
func (d *Detector) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Destroy()
}

// discoverOutputIndices maps output tensor names to stride-indexed
// (score, bbox, kps) triples. If every expected "{kind}_{stride}" name
// is present, name-based mapping is used; otherwise it falls back to
// the positional layout [scores(8,16,32), bboxes(8,16,32), kps(8,16,32)].
func discoverOutputIndices(names []string) ([3]strideOutputIndices, error) {
	index := make(map[string]int, len(names))
	for i, n := range names {
		index[n] = i
	}

	var byName [3]strideOutputIndices
	allNamed := true
	for i, s := range scrfdStrides {
		scoreName := fmt.Sprintf("score_%d", s)
		bboxName := fmt.Sprintf("bbox_%d", s)
		kpsName := fmt.Sprintf("kps_%d", s)

		scoreIdx, ok1 := index[scoreName]
		bboxIdx, ok2 := index[bboxName]
		kpsIdx, ok3 := index[kpsName]
		if !ok1 || !ok2 || !ok3 {
			allNamed = false
			break
		}
		byName[i] = strideOutputIndices{Score: scoreIdx, BBox: bboxIdx, Kps: kpsIdx}
	}
	if allNamed {
		return byName, nil
	}

	if len(names) < 9 {
		return [3]strideOutputIndices{}, fmt.Errorf("need at least 9 outputs for positional fallback, got %d", len(names))
	}
	return [3]strideOutputIndices{
		{Score: 0, BBox: 3, Kps: 6},
		{Score: 1, BBox: 4, Kps: 7},
		{Score: 2, BBox: 5, Kps: 8},
	}, nil
}

// letterbox is the aspect-preserving resize applied before detection:
// scale + centered pad so coordinates invert with a single
// (scale, padX, padY) triple.
type letterbox struct {
	scale      float32
	padX, padY float32
}

func computeLetterbox(width, height int) letterbox {
	scale := float32(scrfdInputSize) / float32(width)
	if hs := float32(scrfdInputSize) / float32(height); hs < scale {
		scale = hs
	}
	newW := float32(width) * scale
	newH := float32(height) * scale
	return letterbox{
		scale: scale,
		padX:  (float32(scrfdInputSize) - newW) / 2,
		padY:  (float32(scrfdInputSize) - newH) / 2,
	}
}

// preprocess letterbox-resizes a grayscale frame into a 1x3x640x640
// NCHW float32 tensor, normalized and replicated across channels.
func preprocess(gray []byte, width, height int, lb letterbox) []float32 {
	newW := int(float32(width) * lb.scale)
	newH := int(float32(height) * lb.scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	resized := bilinearResizeGray(gray, width, height, newW, newH)

	const size = scrfdInputSize
	tensor := make([]float32, 3*size*size)
	padVal := float32((scrfdMean - scrfdMean) / scrfdStd) // pad normalizes to 0

	for c := 0; c < 3; c++ {
		base := c * size * size
		for y := 0; y < size; y++ {
			for x := 0; x < size; x++ {
				srcX := x - int(lb.padX)
				srcY := y - int(lb.padY)
				var v float32
				if srcX < 0 || srcY < 0 || srcX >= newW || srcY >= newH {
					v = padVal
				} else {
					pixel := float32(resized[srcY*newW+srcX])
					v = (pixel - scrfdMean) / scrfdStd
				}
				tensor[base+y*size+x] = v
			}
		}
	}
	return tensor
}

func bilinearResizeGray(gray []byte, srcW, srcH, dstW, dstH int) []byte {
	out := make([]byte, dstW*dstH)
	if srcW <= 1 || srcH <= 1 {
		for i := range out {
			out[i] = gray[0]
		}
		return out
	}
	xRatio := float32(srcW-1) / float32(maxInt(dstW-1, 1))
	yRatio := float32(srcH-1) / float32(maxInt(dstH-1, 1))

	for y := 0; y < dstH; y++ {
		sy := float32(y) * yRatio
		y0 := int(sy)
		y1 := minInt(y0+1, srcH-1)
		fy := sy - float32(y0)

		for x := 0; x < dstW; x++ {
			sx := float32(x) * xRatio
			x0 := int(sx)
			x1 := minInt(x0+1, srcW-1)
			fx := sx - float32(x0)

			p00 := float32(gray[y0*srcW+x0])
			p10 := float32(gray[y0*srcW+x1])
			p01 := float32(gray[y1*srcW+x0])
			p11 := float32(gray[y1*srcW+x1])

			top := p00*(1-fx) + p10*fx
			bottom := p01*(1-fx) + p11*fx
			out[y*dstW+x] = byte(top*(1-fy) + bottom*fy + 0.5)
		}
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Detect runs the full SCRFD pipeline on a grayscale frame and returns
// detections sorted by descending confidence, ties broken by input
// (pre-sort) order.
func (d *Detector) Detect(gray []byte, width, height int) ([]types.BoundingBox, error) {
	lb := computeLetterbox(width, height)
	input := preprocess(gray, width, height, lb)

	inputTensor, err := ort.NewTensor(ort.NewShape(1, 3, scrfdInputSize, scrfdInputSize), input)
	if err != nil {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "build input tensor", Err: err}
	}
	defer inputTensor.Destroy()

	outputs := make([]ort.Value, 9)
	if err := d.session.Run([]ort.Value{inputTensor}, outputs); err != nil {
		return nil, &Error{Kind: ErrInferenceFailed, Msg: "session run", Err: err}
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	var all []types.BoundingBox
	for i, stride := range scrfdStrides {
		idx := d.strides[i]
		scores := tensorFloats(outputs[idx.Score])
		bboxes := tensorFloats(outputs[idx.BBox])
		kps := tensorFloats(outputs[idx.Kps])
		all = append(all, decodeStride(scores, bboxes, kps, stride, lb)...)
	}

	kept := nms(all, scrfdNMSThreshold)
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Confidence > kept[j].Confidence })
	return kept, nil
}

func tensorFloats(v ort.Value) []float32 {
	if t, ok := v.(*ort.Tensor[float32]); ok {
		return t.GetData()
	}
	return nil
}

// decodeStride decodes one SCRFD output stride into bounding boxes,
// inverting the letterbox transform back to original-frame
// coordinates.
func decodeStride(scores, bboxes, kps []float32, stride int, lb letterbox) []types.BoundingBox {
	gridW := scrfdInputSize / stride
	gridH := scrfdInputSize / stride
	numAnchors := gridH * gridW * scrfdAnchorsPerCell

	var out []types.BoundingBox
	for i := 0; i < numAnchors && i < len(scores); i++ {
		score := scores[i]
		if score <= scrfdConfidenceThreshold {
			continue
		}

		anchorIdx := i / scrfdAnchorsPerCell
		cx := float32(anchorIdx%gridW) * float32(stride)
		cy := float32(anchorIdx/gridW) * float32(stride)

		bOff := i * 4
		if bOff+3 >= len(bboxes) {
			continue
		}
		x1 := cx - bboxes[bOff]*float32(stride)
		y1 := cy - bboxes[bOff+1]*float32(stride)
		x2 := cx + bboxes[bOff+2]*float32(stride)
		y2 := cy + bboxes[bOff+3]*float32(stride)

		kOff := i * 10
		var landmarks types.Landmarks
		hasLandmarks := kOff+9 < len(kps)
		if hasLandmarks {
			for j := 0; j < 5; j++ {
				lx := cx + kps[kOff+2*j]*float32(stride)
				ly := cy + kps[kOff+2*j+1]*float32(stride)
				landmarks[j] = [2]float32{
					(lx - lb.padX) / lb.scale,
					(ly - lb.padY) / lb.scale,
				}
			}
		}

		box := types.BoundingBox{
			X:          (x1 - lb.padX) / lb.scale,
			Y:          (y1 - lb.padY) / lb.scale,
			W:          (x2 - x1) / lb.scale,
			H:          (y2 - y1) / lb.scale,
			Confidence: score,
		}
		if hasLandmarks {
			box.Landmarks = &landmarks
		}
		out = append(out, box)
	}
	return out
}

// nms performs greedy non-maximum suppression, highest confidence
// first.
func nms(boxes []types.BoundingBox, iouThreshold float32) []types.BoundingBox {
	if len(boxes) == 0 {
		return nil
	}
	ordered := make([]types.BoundingBox, len(boxes))
	copy(ordered, boxes)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Confidence > ordered[j].Confidence })

	suppressed := make([]bool, len(ordered))
	var kept []types.BoundingBox
	for i := range ordered {
		if suppressed[i] {
			continue
		}
		kept = append(kept, ordered[i])
		for j := i + 1; j < len(ordered); j++ {
			if suppressed[j] {
				continue
			}
			if iou(ordered[i], ordered[j]) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}

func iou(a, b types.BoundingBox) float32 {
	ax1, ay1, ax2, ay2 := a.X, a.Y, a.X+a.W, a.Y+a.H
	bx1, by1, bx2, by2 := b.X, b.Y, b.X+b.W, b.Y+b.H

	ix1, iy1 := max32(ax1, bx1), max32(ay1, by1)
	ix2, iy2 := min32(ax2, bx2), min32(ay2, by2)

	iw := max32(0, ix2-ix1)
	ih := max32(0, iy2-iy1)
	inter := iw * ih

	areaA := (ax2 - ax1) * (ay2 - ay1)
	areaB := (bx2 - bx1) * (by2 - by1)
	union := areaA + areaB - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}
func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}
