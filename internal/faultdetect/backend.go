package faultdetect

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"

	"camerad/internal/errkind"
)

// EmbDim is the feature-vector length used by the reference backend's
// cosine/softmax stand-ins (§6.5's prototype files are 2*EmbDim float32s).
const EmbDim = 64

// InferenceBackend is the seam a real NPU runtime would implement; it is
// deliberately narrow (one call per head, one for the spatial heatmap) so
// the engine's combine/strategy/boost logic never touches model internals.
type InferenceBackend interface {
	Ready() bool
	RunCNN(img []byte, w, h int) (HeadScore, error)
	RunProtoNet(img []byte, w, h int) (HeadScore, error)
	RunMulticlass(img []byte, w, h int) (HeadScore, Label, error)
	RunSpatial(img []byte, w, h int, rows, cols int) (*Heatmap, error)
}

// UnavailableBackend reports Ready()==false and is never invoked by the
// engine; it exists so callers always have a non-nil backend, exercising
// §4.H's "NPU runtime cannot be located" path end-to-end.
type UnavailableBackend struct{}

func (UnavailableBackend) Ready() bool { return false }
func (UnavailableBackend) RunCNN([]byte, int, int) (HeadScore, error) {
	return HeadScore{}, errkind.ErrNpuUnavailable
}
func (UnavailableBackend) RunProtoNet([]byte, int, int) (HeadScore, error) {
	return HeadScore{}, errkind.ErrNpuUnavailable
}
func (UnavailableBackend) RunMulticlass([]byte, int, int) (HeadScore, Label, error) {
	return HeadScore{}, "", errkind.ErrNpuUnavailable
}
func (UnavailableBackend) RunSpatial([]byte, int, int, int, int) (*Heatmap, error) {
	return nil, errkind.ErrNpuUnavailable
}

// classPrototype holds the per-class embeddings loaded from a §6.5
// spatial-format file, reused here for the multiclass head too (it is the
// same "N embeddings of EmbDim floats" shape, just with N=7 labels instead
// of N=2).
type classPrototype struct {
	EmbDim  int
	Classes int
	Rows    int // spatial grid only
	Cols    int
	Vectors [][]float32
}

// ReferenceBackend is a pure-Go stand-in for the NPU: it loads the
// documented prototype-file formats (§6.5) and computes cosine-margin and
// softmax scores from them, so the combine/strategy/boost/Z-mask logic is
// fully exercised and deterministic without real hardware.
type ReferenceBackend struct {
	cnnWeights  [2][]float32 // [ok, fault]
	protoVec    [2][]float32 // [ok, fault]
	multiclass  classPrototype
	spatial     classPrototype
	labels      []Label
	ready       bool
}

// LoadReferenceBackend loads cnn.proto, protonet.proto, multiclass.proto,
// and spatial.proto from dir. multiclass.proto/spatial.proto use the §6.5
// "spatial prototype file" header format; cnn.proto/protonet.proto use the
// headerless "2 x EMB_DIM float32" form.
func LoadReferenceBackend(dir string) (*ReferenceBackend, error) {
	cnn, err := loadFlatProtoFile(dir + "/cnn.proto")
	if err != nil {
		return nil, fmt.Errorf("%w: cnn.proto: %v", errkind.ErrModelMissing, err)
	}
	proto, err := loadFlatProtoFile(dir + "/protonet.proto")
	if err != nil {
		return nil, fmt.Errorf("%w: protonet.proto: %v", errkind.ErrModelMissing, err)
	}
	multi, err := loadHeaderedProtoFile(dir + "/multiclass.proto")
	if err != nil {
		return nil, fmt.Errorf("%w: multiclass.proto: %v", errkind.ErrModelMissing, err)
	}
	spatial, err := loadHeaderedProtoFile(dir + "/spatial.proto")
	if err != nil {
		return nil, fmt.Errorf("%w: spatial.proto: %v", errkind.ErrModelMissing, err)
	}

	return &ReferenceBackend{
		cnnWeights: cnn,
		protoVec:   proto,
		multiclass: multi,
		spatial:    spatial,
		labels: []Label{
			LabelCracking, LabelLayerShifting, LabelSpaghetti, LabelStringing,
			LabelSuccess, LabelUnderExtrusion, LabelWarping,
		},
		ready: true,
	}, nil
}

func (b *ReferenceBackend) Ready() bool { return b.ready }

func (b *ReferenceBackend) RunCNN(img []byte, w, h int) (HeadScore, error) {
	start := nowMs()
	emb := embed(img, w, h, EmbDim)
	okScore := dot(emb, b.cnnWeights[0])
	faultScore := dot(emb, b.cnnWeights[1])
	pFault := softmax2(okScore, faultScore)
	return HeadScore{
		Ran:       true,
		Raw:       pFault,
		FaultLike: pFault,
		InferMs:   elapsedMs(start),
	}, nil
}

func (b *ReferenceBackend) RunProtoNet(img []byte, w, h int) (HeadScore, error) {
	start := nowMs()
	emb := embed(img, w, h, EmbDim)
	cosOK := cosine(emb, b.protoVec[0])
	cosFault := cosine(emb, b.protoVec[1])
	margin := cosFault - cosOK // signed cosine margin, ~[-1,1]
	return HeadScore{
		Ran:       true,
		Raw:       margin,
		FaultLike: clamp01((margin + 1) / 2),
		InferMs:   elapsedMs(start),
	}, nil
}

func (b *ReferenceBackend) RunMulticlass(img []byte, w, h int) (HeadScore, Label, error) {
	start := nowMs()
	emb := embed(img, w, h, b.multiclass.EmbDim)
	logits := make([]float64, len(b.multiclass.Vectors))
	for i, v := range b.multiclass.Vectors {
		logits[i] = dot(emb, v)
	}
	probs := softmaxN(logits)

	successIdx := 0
	for i, l := range b.labels {
		if l == LabelSuccess {
			successIdx = i
		}
	}
	pSuccess := 0.0
	if successIdx < len(probs) {
		pSuccess = probs[successIdx]
	}

	best := 0
	for i := range probs {
		if probs[i] > probs[best] {
			best = i
		}
	}
	label := LabelSuccess
	if best < len(b.labels) {
		label = b.labels[best]
	}

	return HeadScore{
		Ran:       true,
		Raw:       1 - pSuccess,
		FaultLike: 1 - pSuccess,
		InferMs:   elapsedMs(start),
	}, label, nil
}

func (b *ReferenceBackend) RunSpatial(img []byte, w, h int, rows, cols int) (*Heatmap, error) {
	start := nowMs()
	if rows <= 0 || cols <= 0 || len(b.spatial.Vectors) < 2 {
		return nil, fmt.Errorf("faultdetect: spatial backend not configured")
	}

	cells := make([]float64, rows*cols)
	cellW, cellH := w/cols, h/rows
	argmaxRow, argmaxCol := 0, 0
	maxVal := math.Inf(-1)

	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			x0, y0 := c*cellW, r*cellH
			x1, y1 := x0+cellW, y0+cellH
			if x1 > w {
				x1 = w
			}
			if y1 > h {
				y1 = h
			}
			patch := cropLuma(img, w, h, x0, y0, x1, y1)
			emb := embed(patch, x1-x0, y1-y0, b.spatial.EmbDim)
			cosOK := cosine(emb, b.spatial.Vectors[0])
			cosFault := cosine(emb, b.spatial.Vectors[1])
			margin := cosFault - cosOK
			cells[r*cols+c] = margin
			if margin > maxVal {
				maxVal = margin
				argmaxRow, argmaxCol = r, c
			}
		}
	}

	_ = elapsedMs(start)
	return &Heatmap{
		Rows: rows, Cols: cols, Cells: cells,
		ArgmaxRow: argmaxRow, ArgmaxCol: argmaxCol, MaxValue: maxVal,
	}, nil
}

// loadFlatProtoFile loads the §6.5 "2 x EMB_DIM little-endian float32, no
// header" per-head prototype file into [ok, fault] vectors.
func loadFlatProtoFile(path string) ([2][]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return [2][]float32{}, err
	}
	floats, err := bytesToFloat32s(data)
	if err != nil {
		return [2][]float32{}, err
	}
	if len(floats)%2 != 0 {
		return [2][]float32{}, fmt.Errorf("prototype file has odd float count %d", len(floats))
	}
	n := len(floats) / 2
	return [2][]float32{floats[:n], floats[n:]}, nil
}

// loadHeaderedProtoFile loads the §6.5 spatial prototype format: 4 x
// little-endian uint32 header {H, W, emb_dim, n_classes} followed by
// n_classes x emb_dim little-endian float32.
func loadHeaderedProtoFile(path string) (classPrototype, error) {
	f, err := os.Open(path)
	if err != nil {
		return classPrototype{}, err
	}
	defer f.Close()

	var header [4]uint32
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return classPrototype{}, err
	}
	rows, cols, embDim, nClasses := header[0], header[1], header[2], header[3]

	body, err := io.ReadAll(f)
	if err != nil {
		return classPrototype{}, err
	}
	floats, err := bytesToFloat32s(body)
	if err != nil {
		return classPrototype{}, err
	}
	want := int(embDim) * int(nClasses)
	if len(floats) < want {
		return classPrototype{}, fmt.Errorf("expected %d floats, got %d", want, len(floats))
	}

	vectors := make([][]float32, nClasses)
	for i := 0; i < int(nClasses); i++ {
		vectors[i] = floats[i*int(embDim) : (i+1)*int(embDim)]
	}
	return classPrototype{EmbDim: int(embDim), Classes: int(nClasses), Rows: int(rows), Cols: int(cols), Vectors: vectors}, nil
}

func bytesToFloat32s(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("byte length %d not a multiple of 4", len(data))
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := binary.LittleEndian.Uint32(data[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out, nil
}

// embed produces a deterministic EmbDim-length luma feature vector:
// average red-channel intensity (see averageLuma) over an embDim-cell grid. A stand-in for a
// real learned embedding, but exercises the same cosine/softmax combine
// code a real NPU embedding would.
func embed(img []byte, w, h, embDim int) []float32 {
	out := make([]float32, embDim)
	if w == 0 || h == 0 || embDim == 0 {
		return out
	}
	cellsPerRow := int(math.Ceil(math.Sqrt(float64(embDim))))
	if cellsPerRow == 0 {
		cellsPerRow = 1
	}
	cellsPerCol := (embDim + cellsPerRow - 1) / cellsPerRow
	cellW := w / cellsPerRow
	cellH := h / cellsPerCol
	if cellW == 0 {
		cellW = 1
	}
	if cellH == 0 {
		cellH = 1
	}

	idx := 0
	for r := 0; r < cellsPerCol && idx < embDim; r++ {
		for c := 0; c < cellsPerRow && idx < embDim; c++ {
			x0, y0 := c*cellW, r*cellH
			x1, y1 := min(x0+cellW, w), min(y0+cellH, h)
			out[idx] = float32(averageLuma(img, w, h, x0, y0, x1, y1))
			idx++
		}
	}
	return out
}

// averageLuma averages the red channel (a cheap luma proxy for this
// deterministic stand-in) of an RGB buffer over [x0,x1)x[y0,y1).
func averageLuma(img []byte, w, h, x0, y0, x1, y1 int) float64 {
	if x1 <= x0 || y1 <= y0 {
		return 0
	}
	var sum, count float64
	for y := y0; y < y1; y++ {
		rowOff := y * w * 3
		for x := x0; x < x1; x++ {
			off := rowOff + x*3
			if off >= len(img) {
				continue
			}
			sum += float64(img[off])
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / count / 255.0
}

// cropLuma copies the RGB sub-rectangle [x0,x1)x[y0,y1) out of img into a
// tightly packed buffer for per-cell embedding.
func cropLuma(img []byte, w, h, x0, y0, x1, y1 int) []byte {
	cw, ch := x1-x0, y1-y0
	if cw <= 0 || ch <= 0 {
		return nil
	}
	out := make([]byte, cw*ch*3)
	for y := 0; y < ch; y++ {
		srcOff := (y0+y)*w*3 + x0*3
		dstOff := y * cw * 3
		if srcOff+cw*3 > len(img) {
			continue
		}
		copy(out[dstOff:dstOff+cw*3], img[srcOff:srcOff+cw*3])
	}
	return out
}

func dot(a []float32, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dotv, na, nb float64
	for i := 0; i < n; i++ {
		dotv += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dotv / (math.Sqrt(na) * math.Sqrt(nb))
}

func softmax2(a, b float64) float64 {
	ea, eb := math.Exp(a), math.Exp(b)
	return eb / (ea + eb)
}

func softmaxN(logits []float64) []float64 {
	max := logits[0]
	for _, v := range logits {
		if v > max {
			max = v
		}
	}
	var sum float64
	exps := make([]float64, len(logits))
	for i, v := range logits {
		exps[i] = math.Exp(v - max)
		sum += exps[i]
	}
	if sum == 0 {
		return exps
	}
	for i := range exps {
		exps[i] /= sum
	}
	return exps
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
