package store

import (
	"path/filepath"
	"testing"

	"userscript-engine/internal/userscript"
)

func newTestStore(t *testing.T) *BoltStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoadScriptsEmpty(t *testing.T) {
	s := newTestStore(t)

	scripts, err := s.LoadScripts()
	if err != nil {
		t.Fatal(err)
	}
	if scripts == nil || len(scripts) != 0 {
		t.Errorf("scripts = %v, want empty slice", scripts)
	}
}

func TestSaveAndLoadScripts(t *testing.T) {
	s := newTestStore(t)

	in := []*userscript.Script{
		{Name: "b", Code: "b()", URLs: "https://b.com/*", Enabled: true, RunAt: userscript.RunAtDocumentStart, Metadata: map[string]string{"version": "2"}},
		{Name: "a", Code: "a()", Enabled: false, RunAt: userscript.RunAtDocumentIdle, Metadata: map[string]string{}},
		{Name: "c", Code: "c()", Enabled: true, RunAt: userscript.RunAtDocumentEnd},
	}
	if err := s.SaveScripts(in); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadScripts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("count = %d, want 3", len(got))
	}
	// Order is preserved.
	for i, name := range []string{"b", "a", "c"} {
		if got[i].Name != name {
			t.Errorf("scripts[%d] = %q, want %q", i, got[i].Name, name)
		}
	}
	if got[0].URLs != "https://b.com/*" || got[0].RunAt != userscript.RunAtDocumentStart || !got[0].Enabled {
		t.Errorf("scripts[0] = %+v", got[0])
	}
	if got[0].Metadata["version"] != "2" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
	if got[1].Enabled {
		t.Error("scripts[1] enabled = true, want false")
	}
	if got[2].Metadata == nil {
		t.Error("nil metadata not normalized to empty map")
	}
}

func TestSaveScriptsReplaces(t *testing.T) {
	s := newTestStore(t)

	if err := s.SaveScripts([]*userscript.Script{{Name: "old", Code: "x"}}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveScripts(nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadScripts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("count = %d, want 0", len(got))
	}
}

func TestScriptsSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveScripts([]*userscript.Script{{Name: "keep", Code: "k()", RunAt: userscript.RunAtDocumentIdle}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s2, err := NewBoltStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()

	got, err := s2.LoadScripts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Name != "keep" {
		t.Errorf("scripts = %+v, want [keep]", got)
	}
}
