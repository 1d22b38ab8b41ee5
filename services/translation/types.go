package translation

import "context"

// Context carries the prior entity-name mappings and neighboring chapter
// excerpts a translation job needs for cross-chapter consistency. It is
// supplied per job by an external collaborator and read-only to this core.
type Context struct {
	// EntityNames maps original names to their established translations
	EntityNames map[string]string `json:"entity_names"`

	// PrecedingExcerpts are ordered excerpts from already-translated
	// neighboring chapters, oldest first
	PrecedingExcerpts []string `json:"preceding_excerpts"`
}

// ContextProvider is the collaborator that gathers a Context for a job. Only
// the shape is defined here; the implementation lives with the caller.
type ContextProvider interface {
	Gather(ctx context.Context, ref string) (*Context, error)
}

// Request is one translation job
type Request struct {
	// SourceText is the chapter body
	SourceText string

	// Title is the chapter title
	Title string

	// SourceLang and TargetLang are BCP 47 language codes
	SourceLang string
	TargetLang string

	// Context, when non-nil, is used directly. When nil and ContextRef is
	// set, the context provider is asked to gather one.
	Context    *Context
	ContextRef string
}

// Result is a completed translation
type Result struct {
	// Title is the translated chapter title
	Title string `json:"title"`

	// Content is the translated chapter body
	Content string `json:"content"`

	// EntityMap is the merged entity-name map: prior mappings plus the new
	// names this chapter introduced. Prior mappings are never overwritten.
	EntityMap map[string]string `json:"entity_map"`

	// Notes are translator remarks returned by the model
	Notes []string `json:"notes"`
}

// Diagnostics captures a failed exchange for operator debugging. Retained
// for failed operations only, so memory stays bounded on the success path.
type Diagnostics struct {
	JobID       string `json:"job_id"`
	Provider    string `json:"provider"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt"`
	RawResponse string `json:"raw_response"`
	Cause       string `json:"cause"`
}
