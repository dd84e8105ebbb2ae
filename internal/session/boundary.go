package session

// Boundary pins where a session may act. Empty fields are unconstrained.
type Boundary struct {
	File     string `json:"file,omitempty"`
	Tool     string `json:"tool,omitempty"`
	Modality string `json:"modality,omitempty"`
}

func (b Boundary) IsZero() bool { return b == Boundary{} }

// Crossing is the first boundary field an execution would leave.
type Crossing struct {
	Field    string
	Expected string
	Actual   string
}

// Crossed compares b against where an execution would land. A field counts
// only when both sides name it and they differ.
func (b Boundary) Crossed(current Boundary) (Crossing, bool) {
	fields := []Crossing{
		{Field: "file", Expected: b.File, Actual: current.File},
		{Field: "tool", Expected: b.Tool, Actual: current.Tool},
		{Field: "modality", Expected: b.Modality, Actual: current.Modality},
	}
	for _, f := range fields {
		if f.Expected != "" && f.Actual != "" && f.Expected != f.Actual {
			return f, true
		}
	}
	return Crossing{}, false
}
