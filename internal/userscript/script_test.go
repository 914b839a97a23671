package userscript

import (
	"encoding/json"
	"testing"
)

func TestNewScriptDefaults(t *testing.T) {
	s := NewScript("x", "// ==UserScript==\n// @version 3\n// ==/UserScript==\nrun();")
	if !s.Enabled {
		t.Error("enabled = false, want true")
	}
	if s.URLs != "" {
		t.Errorf("urls = %q, want empty (match all)", s.URLs)
	}
	if s.RunAt != RunAtDocumentIdle {
		t.Errorf("runAt = %q, want document-idle", s.RunAt)
	}
	if s.Metadata["version"] != "3" {
		t.Errorf("metadata = %v, want version=3", s.Metadata)
	}
}

func TestScriptValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Script
		wantErr bool
	}{
		{"ok", Script{Name: "a", Code: "b", RunAt: RunAtDocumentStart}, false},
		{"document-end accepted", Script{Name: "a", Code: "b", RunAt: RunAtDocumentEnd}, false},
		{"empty name", Script{Name: "  ", Code: "b", RunAt: RunAtDocumentIdle}, true},
		{"empty code", Script{Name: "a", Code: "", RunAt: RunAtDocumentIdle}, true},
		{"bad runAt", Script{Name: "a", Code: "b", RunAt: "document-whenever"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestScriptCloneIsDeep(t *testing.T) {
	s := &Script{Name: "a", Metadata: map[string]string{"k": "v"}}
	c := s.Clone()
	c.Metadata["k"] = "changed"
	c.Name = "b"
	if s.Metadata["k"] != "v" || s.Name != "a" {
		t.Errorf("clone shares state with original: %+v", s)
	}
}

func TestRunAtFiresOn(t *testing.T) {
	tests := []struct {
		runAt RunAt
		ev    Lifecycle
		want  bool
	}{
		{RunAtDocumentStart, LifecycleStart, true},
		{RunAtDocumentStart, LifecycleLoad, false},
		{RunAtDocumentIdle, LifecycleLoad, true},
		{RunAtDocumentIdle, LifecycleStart, false},
		{RunAtDocumentEnd, LifecycleStart, false},
		{RunAtDocumentEnd, LifecycleLoad, false},
	}
	for _, tt := range tests {
		if got := tt.runAt.FiresOn(tt.ev); got != tt.want {
			t.Errorf("%s.FiresOn(%s) = %v, want %v", tt.runAt, tt.ev, got, tt.want)
		}
	}
}

func TestParseRunAt(t *testing.T) {
	tests := map[string]RunAt{
		"document-start":   RunAtDocumentStart,
		"document-end":     RunAtDocumentEnd,
		"document-idle":    RunAtDocumentIdle,
		" document-start ": RunAtDocumentStart,
		"":                 RunAtDocumentIdle,
		"context-menu":     RunAtDocumentIdle,
	}
	for in, want := range tests {
		if got := ParseRunAt(in); got != want {
			t.Errorf("ParseRunAt(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseLifecycle(t *testing.T) {
	if ev, err := ParseLifecycle("start"); err != nil || ev != LifecycleStart {
		t.Errorf("ParseLifecycle(start) = %q, %v", ev, err)
	}
	if ev, err := ParseLifecycle("load"); err != nil || ev != LifecycleLoad {
		t.Errorf("ParseLifecycle(load) = %q, %v", ev, err)
	}
	if _, err := ParseLifecycle("end"); err == nil {
		t.Error("ParseLifecycle(end) error = nil, want error")
	}
}

func TestScriptJSONFieldNames(t *testing.T) {
	s := Script{Name: "n", Code: "c", URLs: "*", Enabled: true, RunAt: RunAtDocumentStart, Metadata: map[string]string{}}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{"name", "code", "urls", "isEnabled", "runAt", "metadata"} {
		if _, ok := m[key]; !ok {
			t.Errorf("json missing %q: %s", key, data)
		}
	}
}
