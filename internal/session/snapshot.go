// Package session records launched pipelines so they can be resumed.
//
// A Snapshot stores the resolved request (names, variables and arguments),
// never the compiled command text. Resuming compiles the recipe again
// against the current configuration with the recorded provider locked.
package session

import (
	"errors"
	"time"

	"tx/internal/pipeline"
)

var (
	// ErrNotFound is returned when no session matches an id or prefix.
	ErrNotFound = errors.New("session not found")

	// ErrAmbiguous is returned when an id prefix matches more than one session.
	ErrAmbiguous = errors.New("session id prefix is ambiguous")

	// ErrNoProvider is returned when saving a snapshot without a provider.
	ErrNoProvider = errors.New("snapshot has no provider")
)

// Snapshot is one recorded session.
type Snapshot struct {
	ID          string          `json:"id"`
	Label       string          `json:"label,omitempty"`
	Recipe      pipeline.Recipe `json:"recipe"`
	ResumeToken string          `json:"resume_token,omitempty"`
	Path        string          `json:"path,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Provider is the recorded provider. It never changes after the first save.
func (s Snapshot) Provider() string { return s.Recipe.Provider }

// Context is the template context for a replay of s.
func (s Snapshot) Context() pipeline.SessionContext {
	return pipeline.SessionContext{
		ID:          s.ID,
		Label:       s.Label,
		Path:        s.Path,
		ResumeToken: s.ResumeToken,
	}
}

// ShortID is the first eight characters of the id.
func (s Snapshot) ShortID() string {
	if len(s.ID) <= 8 {
		return s.ID
	}
	return s.ID[:8]
}

// DisplayLabel is the label, or the short id when there is none.
func (s Snapshot) DisplayLabel() string {
	if s.Label != "" {
		return s.Label
	}
	return s.ShortID()
}
