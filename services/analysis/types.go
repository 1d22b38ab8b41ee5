package analysis

// Result is the outcome of a chapter analysis. Analyze never fails: on any
// pipeline error the result is a marked fallback with Diagnostics populated,
// so a surrounding batch is never blocked.
type Result struct {
	// Characters, Places and Terms are the extracted entity names
	Characters []string `json:"characters"`
	Places     []string `json:"places"`
	Terms      []string `json:"terms"`

	// Summary of the chapter; on fallback, the truncated source text
	Summary string `json:"summary"`

	// Fallback marks a deterministic degraded result
	Fallback bool `json:"fallback"`

	// Diagnostics is populated on fallback only
	Diagnostics *Diagnostics `json:"diagnostics,omitempty"`
}

// Diagnostics captures the failed exchange for operator debugging. It is
// retained for failed operations only; the success path stores nothing, so
// memory stays bounded.
type Diagnostics struct {
	JobID       string `json:"job_id"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	RawResponse string `json:"raw_response"`
	Cause       string `json:"cause"`
}
