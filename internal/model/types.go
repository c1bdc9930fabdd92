package model

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// ParamState is the learned and fixed state of one parameter sub-network.
// Penalty is stored row-major with PenaltyWidth columns.
type ParamState struct {
	Name              string             `json:"name"`
	StructuredWeights []float64          `json:"structured_weights"`
	DeepWeights       []float64          `json:"deep_weights,omitempty"`
	PenaltyWidth      int                `json:"penalty_width,omitempty"`
	Penalty           []float64          `json:"penalty,omitempty"`
	ModelWidths       map[string]int     `json:"model_widths,omitempty"`
	Orthogonalization map[string][][]int `json:"orthogonalization,omitempty"`
	// SplineRanges holds the training [min, max] of each spline feature.
	SplineRanges map[string][2]float64 `json:"spline_ranges,omitempty"`
}

type NetworkState struct {
	VersionedRecord
	ID           string       `json:"id"`
	Family       string       `json:"family"`
	Lambda       float64      `json:"lambda"`
	Params       []ParamState `json:"params"`
	CreatedAtUTC string       `json:"created_at_utc"`
}

// FitRecord summarizes one optimizer run against a network.
type FitRecord struct {
	VersionedRecord
	RunID        string    `json:"run_id"`
	NetworkID    string    `json:"network_id"`
	Optimizer    string    `json:"optimizer"`
	Steps        int       `json:"steps"`
	Accepted     int       `json:"accepted"`
	Rejected     int       `json:"rejected"`
	Converged    bool      `json:"converged"`
	History      []float64 `json:"history"`
	Final        float64   `json:"final"`
	CreatedAtUTC string    `json:"created_at_utc"`
}
