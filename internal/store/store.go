package store

import "userscript-engine/internal/userscript"

// Store defines the persistence interface.
type Store interface {
	// LoadScripts returns the full script collection in saved order. An
	// empty store yields an empty slice.
	LoadScripts() ([]*userscript.Script, error)

	// SaveScripts replaces the full collection in one write.
	SaveScripts(scripts []*userscript.Script) error

	// Close the store
	Close() error
}
