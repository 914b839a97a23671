package headless

import (
	"errors"
	"net/http"
	"time"
)

var (
	// ErrFetchDisabled is thrown into scripts that call fetch while
	// network access is off.
	ErrFetchDisabled = errors.New("fetch is disabled")
	// ErrPageNotFound is returned for an unknown page id.
	ErrPageNotFound = errors.New("page not found")
)

// Config defines runtime configuration
type Config struct {
	Timeout      time.Duration // Execution timeout
	AllowFetch   bool          // Let fetch reach the network
	Client       *http.Client  // Client used by fetch, defaults to one bound to Timeout
	MaxBodyBytes int64         // Cap on fetched response bodies
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		AllowFetch:   false,
		MaxBodyBytes: 1 << 20,
	}
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    `json:"level"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// RunResult is the outcome of one execution.
// OK is false only when the source could not run to completion (syntax
// error, timeout); a throwing userscript is contained by its wrapper and
// shows up in Logs instead.
type RunResult struct {
	OK       bool          `json:"ok"`
	Error    string        `json:"error,omitempty"`
	Logs     []LogEntry    `json:"logs"`
	Styles   []string      `json:"styles"`
	Duration time.Duration `json:"duration"`
}
