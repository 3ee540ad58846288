package pipeline

import "cxxrecon/internal/diag"

// Report summarizes a run.
type Report struct {
	Symbols   int         `json:"symbols"`
	Types     int         `json:"types"`
	VTables   int         `json:"vtables"`
	Attempted int         `json:"attempted"`
	Emitted   int         `json:"emitted"`
	Warnings  []diag.Diag `json:"warnings,omitempty"`

	Diags diag.Diags `json:"-"`
}

// Failed returns how many attempted classes produced no header.
func (r *Report) Failed() int { return r.Attempted - r.Emitted }
