package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"userscript-engine/internal/userscript"
)

var (
	// ErrNotFound is returned when no script has the requested name.
	ErrNotFound = errors.New("script not found")
	// ErrDuplicateName is returned when a save would give two scripts one name.
	ErrDuplicateName = errors.New("name already in use")
	// ErrInvalidScript is returned when a script fails validation.
	ErrInvalidScript = errors.New("invalid script")
	// ErrNotPersisted is returned when the store rejected a write. The
	// registry is left as it was before the call.
	ErrNotPersisted = errors.New("script not saved")
)

// Store loads and saves the full script collection.
type Store interface {
	LoadScripts() ([]*userscript.Script, error)
	SaveScripts(scripts []*userscript.Script) error
}

// Registry is the ordered collection of scripts. Every mutation is written
// through to the store before it becomes visible.
type Registry struct {
	store  Store
	logger *slog.Logger

	mu      sync.RWMutex
	scripts []*userscript.Script
}

// New loads the collection from store.
func New(store Store, logger *slog.Logger) (*Registry, error) {
	scripts, err := store.LoadScripts()
	if err != nil {
		return nil, fmt.Errorf("load registry: %w", err)
	}

	r := &Registry{
		store:   store,
		logger:  logger.With("component", "registry"),
		scripts: make([]*userscript.Script, 0, len(scripts)),
	}

	seen := make(map[string]bool, len(scripts))
	for _, s := range scripts {
		if seen[s.Name] {
			r.logger.Warn("duplicate script name in store, later record is unreachable by name", "name", s.Name)
		}
		seen[s.Name] = true
		if s.Metadata == nil {
			s.Metadata = map[string]string{}
		}
		r.scripts = append(r.scripts, s)
	}

	r.logger.Info("registry loaded", "scripts", len(r.scripts))
	return r, nil
}

// List returns a copy of every script in order. Changes to the returned
// scripts do not affect the registry.
func (r *Registry) List() []*userscript.Script {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*userscript.Script, len(r.scripts))
	for i, s := range r.scripts {
		out[i] = s.Clone()
	}
	return out
}

// Get returns a copy of the named script.
func (r *Registry) Get(name string) (*userscript.Script, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(name)
	if i < 0 {
		return nil, fmt.Errorf("get %q: %w", name, ErrNotFound)
	}
	return r.scripts[i].Clone(), nil
}

// Len returns the number of scripts.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.scripts)
}

// Add appends s. Its metadata is re-parsed from its code.
func (r *Registry) Add(s *userscript.Script) error {
	rec, err := prepare(s)
	if err != nil {
		return err
	}

	return r.mutate("add", func(cur []*userscript.Script) ([]*userscript.Script, error) {
		if indexOf(cur, rec.Name) >= 0 {
			return nil, fmt.Errorf("add %q: %w", rec.Name, ErrDuplicateName)
		}
		return append(cur, rec), nil
	})
}

// Update replaces the script called name with s, keeping its position. s may
// carry a new name as long as no other script uses it.
func (r *Registry) Update(name string, s *userscript.Script) error {
	rec, err := prepare(s)
	if err != nil {
		return err
	}

	return r.mutate("update", func(cur []*userscript.Script) ([]*userscript.Script, error) {
		i := indexOf(cur, name)
		if i < 0 {
			return nil, fmt.Errorf("update %q: %w", name, ErrNotFound)
		}
		if rec.Name != name && indexOf(cur, rec.Name) >= 0 {
			return nil, fmt.Errorf("rename %q to %q: %w", name, rec.Name, ErrDuplicateName)
		}
		cur[i] = rec
		return cur, nil
	})
}

// Remove deletes the named script. Removing an absent name is a no-op.
func (r *Registry) Remove(name string) error {
	return r.mutate("remove", func(cur []*userscript.Script) ([]*userscript.Script, error) {
		i := indexOf(cur, name)
		if i < 0 {
			return nil, nil
		}
		return append(cur[:i], cur[i+1:]...), nil
	})
}

// SetEnabled changes only the enabled flag of the named script.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	return r.mutate("set enabled", func(cur []*userscript.Script) ([]*userscript.Script, error) {
		i := indexOf(cur, name)
		if i < 0 {
			return nil, fmt.Errorf("set enabled %q: %w", name, ErrNotFound)
		}
		rec := cur[i].Clone()
		rec.Enabled = enabled
		cur[i] = rec
		return cur, nil
	})
}

// Toggle flips the enabled flag of the named script and returns the new
// value.
func (r *Registry) Toggle(name string) (bool, error) {
	var enabled bool
	err := r.mutate("toggle", func(cur []*userscript.Script) ([]*userscript.Script, error) {
		i := indexOf(cur, name)
		if i < 0 {
			return nil, fmt.Errorf("toggle %q: %w", name, ErrNotFound)
		}
		rec := cur[i].Clone()
		rec.Enabled = !rec.Enabled
		enabled = rec.Enabled
		cur[i] = rec
		return cur, nil
	})
	return enabled, err
}

// mutate applies fn to a copy of the collection and persists the result. The
// in-memory collection is swapped only after the store accepted the write. A
// nil slice with a nil error from fn means nothing changed.
func (r *Registry) mutate(op string, fn func(cur []*userscript.Script) ([]*userscript.Script, error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := make([]*userscript.Script, len(r.scripts))
	copy(cur, r.scripts)

	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		return nil
	}

	if err := r.store.SaveScripts(next); err != nil {
		r.logger.Error("persist scripts", "op", op, "err", err)
		return fmt.Errorf("%s: %w: %w", op, ErrNotPersisted, err)
	}
	r.scripts = next
	return nil
}

func (r *Registry) indexOf(name string) int {
	return indexOf(r.scripts, name)
}

func indexOf(scripts []*userscript.Script, name string) int {
	for i, s := range scripts {
		if s.Name == name {
			return i
		}
	}
	return -1
}

// prepare validates s and returns the record to store.
func prepare(s *userscript.Script) (*userscript.Script, error) {
	if s == nil {
		return nil, fmt.Errorf("%w: nil script", ErrInvalidScript)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidScript, err)
	}
	rec := s.Clone()
	rec.Metadata = userscript.ParseMetadata(rec.Code)
	return rec, nil
}
