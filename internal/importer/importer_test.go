package importer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"userscript-engine/internal/userscript"
)

const sample = `// ==UserScript==
// @name        Dark Mode Everywhere
// @match       https://example.com/*
// @include     /^https://news\..*$/
// @run-at      document-start
// @version     1.2
// ==/UserScript==
document.body.style.background = 'black';
`

func TestImport(t *testing.T) {
	s, err := Import(sample)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if s.Name != "Dark Mode Everywhere" {
		t.Errorf("name = %q", s.Name)
	}
	if want := `https://example.com/*, /^https://news\..*$/`; s.URLs != want {
		t.Errorf("urls = %q, want %q", s.URLs, want)
	}
	if s.RunAt != userscript.RunAtDocumentStart {
		t.Errorf("runAt = %q", s.RunAt)
	}
	if !s.Enabled {
		t.Error("imported script is disabled")
	}
	if s.Code != sample {
		t.Error("code differs from source")
	}
	if s.Metadata["version"] != "1.2" {
		t.Errorf("metadata version = %q", s.Metadata["version"])
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestImportPatternsFeedMatcher(t *testing.T) {
	s, err := Import(sample)
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	for url, want := range map[string]bool{
		"https://example.com/page": true,
		"https://news.site.org/":   true,
		"https://other.com/":       false,
	} {
		if got := userscript.ShouldRunOnURL(s.URLs, url); got != want {
			t.Errorf("ShouldRunOnURL(%q) = %v, want %v", url, got, want)
		}
	}
}

func TestImportDefaults(t *testing.T) {
	s, err := Import("// ==UserScript==\n// @name x\n// @run-at document-sometime\n// ==/UserScript==\n")
	if err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if s.URLs != "" {
		t.Errorf("urls = %q, want empty", s.URLs)
	}
	if s.RunAt != userscript.RunAtDocumentIdle {
		t.Errorf("runAt = %q, want document-idle", s.RunAt)
	}
}

func TestImportNoName(t *testing.T) {
	for _, src := range []string{
		"console.log(1)",
		"// ==UserScript==\n// @match *\n// ==/UserScript==\n",
	} {
		if _, err := Import(src); !errors.Is(err, ErrNoName) {
			t.Errorf("Import(%q) error = %v, want ErrNoName", src, err)
		}
	}
}

func TestScanDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("b.user.js", "// ==UserScript==\n// @name beta\n// ==/UserScript==\n")
	write("a.user.js", "// ==UserScript==\n// @name alpha\n// ==/UserScript==\n")
	write("broken.user.js", "no header")
	write("notes.txt", "// ==UserScript==\n// @name ignored\n// ==/UserScript==\n")

	scripts, errs := ScanDir(dir)
	if len(errs) != 1 || !errors.Is(errs[0], ErrNoName) {
		t.Errorf("errs = %v, want one ErrNoName", errs)
	}
	if len(scripts) != 2 || scripts[0].Name != "alpha" || scripts[1].Name != "beta" {
		t.Errorf("scripts = %d, want alpha, beta", len(scripts))
	}
}
