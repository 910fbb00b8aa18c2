// Package faultdetect implements the Fault-Detect Engine (§4.H): a
// dedicated inference thread running up to three model heads plus a
// spatial heatmap, combining them by strategy, with Z-height-dependent
// masking and memory gating. No real NPU runtime is buildable in this
// environment (§1's NPU is an on-device accelerator); inference is modeled
// behind an InferenceBackend interface so the combine/strategy/boost/
// Z-mask logic — the actual engineering content of this component — is
// fully implemented, deterministic, and testable without hardware.
package faultdetect

import "time"

// Verdict is the binary fault-detect outcome.
type Verdict string

const (
	VerdictFault Verdict = "fault"
	VerdictOK    Verdict = "ok"
)

// Label is the multiclass fault label vocabulary of §3.
type Label string

const (
	LabelCracking       Label = "Cracking"
	LabelLayerShifting  Label = "LayerShifting"
	LabelSpaghetti      Label = "Spaghetti"
	LabelStringing      Label = "Stringing"
	LabelSuccess        Label = "Success"
	LabelUnderExtrusion Label = "UnderExtrusion"
	LabelWarping        Label = "Warping"
)

// Strategy selects how per-head verdicts are combined (§4.H).
type Strategy string

const (
	StrategyOR           Strategy = "or"
	StrategyAND          Strategy = "and"
	StrategyAll          Strategy = "all"
	StrategyMajority     Strategy = "majority"
	StrategyVerify       Strategy = "verify"
	StrategyClassify     Strategy = "classify"
	StrategyClassifyAnd  Strategy = "classify_and"
	StrategyCNNOnly      Strategy = "cnn"
	StrategyProtoNet     Strategy = "protonet"
	StrategyMulticlass   Strategy = "multiclass"
)

// HeadScore is one model head's raw and normalized output for a cycle.
type HeadScore struct {
	Ran        bool    `json:"ran"`
	Raw        float64 `json:"raw"`         // CNN: softmax p(fault); ProtoNet: signed cosine margin; Multiclass: 1-p(success)
	FaultLike  float64 `json:"fault_likelihood"` // normalized to [0,1]
	Fault      bool    `json:"fault"`
	InferMs    float64 `json:"infer_ms"`
}

// Heatmap is the spatial per-cell margin grid of §3, up to 14x28.
type Heatmap struct {
	Rows, Cols int       `json:"rows,cols"`
	Cells      []float64 `json:"cells"` // row-major, len == Rows*Cols
	ArgmaxRow  int       `json:"argmax_row"`
	ArgmaxCol  int       `json:"argmax_col"`
	MaxValue   float64   `json:"max_value"`
}

// At returns the margin at (row, col).
func (h *Heatmap) At(row, col int) float64 {
	if h == nil || row < 0 || col < 0 || row >= h.Rows || col >= h.Cols {
		return 0
	}
	return h.Cells[row*h.Cols+col]
}

// CropRect is the normalized center-crop rectangle in [0,1]^2 that the
// preprocessing chain produced (§3).
type CropRect struct {
	X0, Y0, X1, Y1 float64
}

// Boost records the heatmap-boost decision for a cycle (§3/§4.H).
type Boost struct {
	Active      bool `json:"active"`
	Overrode    bool `json:"overrode"`
	StrongCells int  `json:"strong_cells"`
	TotalCells  int  `json:"total_cells"`
}

// Result is the Fault-Detect Result of §3, overwritten atomically at the
// end of each inference cycle.
type Result struct {
	Verdict    Verdict `json:"verdict"`
	Confidence float64 `json:"confidence"`
	Label      Label   `json:"label,omitempty"`

	CNN        HeadScore `json:"cnn"`
	ProtoNet   HeadScore `json:"protonet"`
	Multiclass HeadScore `json:"multiclass"`

	TotalInferMs float64 `json:"total_infer_ms"`

	Heatmap *Heatmap `json:"heatmap,omitempty"`
	Boost   Boost    `json:"boost"`
	Crop    CropRect `json:"crop"`

	CycledAt time.Time `json:"cycled_at"`
}

// State is the engine's visible operating status, surfaced to the control
// server (§7's NpuUnavailable degrades to a visible no_npu state).
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateNoNPU   State = "no_npu"
	StateError   State = "error"
)
