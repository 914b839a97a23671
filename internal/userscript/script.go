package userscript

import (
	"errors"
	"fmt"
	"strings"
)

// RunAt declares the page-lifecycle moment a script is injected at.
type RunAt string

const (
	RunAtDocumentStart RunAt = "document-start"
	RunAtDocumentEnd   RunAt = "document-end"
	RunAtDocumentIdle  RunAt = "document-idle"
)

// Lifecycle is a milestone reported by the page.
type Lifecycle string

const (
	// LifecycleStart means the page has begun loading.
	LifecycleStart Lifecycle = "start"
	// LifecycleLoad means the page content is idle/ready.
	LifecycleLoad Lifecycle = "load"
)

// ParseRunAt maps a stored or declared value to a RunAt. Unknown values fall
// back to document-idle.
func ParseRunAt(s string) RunAt {
	switch r := RunAt(strings.TrimSpace(s)); r {
	case RunAtDocumentStart, RunAtDocumentEnd, RunAtDocumentIdle:
		return r
	default:
		return RunAtDocumentIdle
	}
}

// Valid reports whether r is one of the three declared timings.
func (r RunAt) Valid() bool {
	switch r {
	case RunAtDocumentStart, RunAtDocumentEnd, RunAtDocumentIdle:
		return true
	}
	return false
}

// FiresOn reports whether a script with this timing runs on the given
// lifecycle event. document-end has no lifecycle event wired to it.
func (r RunAt) FiresOn(ev Lifecycle) bool {
	switch r {
	case RunAtDocumentStart:
		return ev == LifecycleStart
	case RunAtDocumentIdle:
		return ev == LifecycleLoad
	default:
		return false
	}
}

// ParseLifecycle validates a lifecycle event name.
func ParseLifecycle(s string) (Lifecycle, error) {
	switch ev := Lifecycle(s); ev {
	case LifecycleStart, LifecycleLoad:
		return ev, nil
	default:
		return "", fmt.Errorf("unknown lifecycle event: %q", s)
	}
}

// Script is a user-authored automation unit. Name is its key in a registry.
type Script struct {
	Name     string            `json:"name"`
	Code     string            `json:"code"`
	URLs     string            `json:"urls"`
	Enabled  bool              `json:"isEnabled"`
	RunAt    RunAt             `json:"runAt"`
	Metadata map[string]string `json:"metadata"`
}

var (
	errEmptyName = errors.New("name is required")
	errEmptyCode = errors.New("code is required")
)

// NewScript returns an enabled, match-all, document-idle script with its
// metadata parsed from code.
func NewScript(name, code string) *Script {
	return &Script{
		Name:     name,
		Code:     code,
		Enabled:  true,
		RunAt:    RunAtDocumentIdle,
		Metadata: ParseMetadata(code),
	}
}

// Validate checks the fields a save requires.
func (s *Script) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return errEmptyName
	}
	if strings.TrimSpace(s.Code) == "" {
		return errEmptyCode
	}
	if !s.RunAt.Valid() {
		return fmt.Errorf("unknown runAt: %q", s.RunAt)
	}
	return nil
}

// Clone returns a deep copy.
func (s *Script) Clone() *Script {
	c := *s
	c.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		c.Metadata[k] = v
	}
	return &c
}
