// Package importer turns Greasemonkey-style userscript files into scripts.
package importer

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"userscript-engine/internal/userscript"
)

// ErrNoName is returned for sources whose header has no @name.
var ErrNoName = errors.New("userscript header has no @name")

// Import builds an enabled script from userscript source. Every @match and
// @include becomes a URL pattern; @run-at is honored when it is a known
// value and document-idle is used otherwise.
func Import(src string) (*userscript.Script, error) {
	var name string
	var patterns []string
	runAt := userscript.RunAtDocumentIdle

	for _, d := range userscript.ParseHeader(src) {
		switch d.Key {
		case "name":
			if name == "" {
				name = d.Value
			}
		case "match", "include":
			if d.Value != "" {
				patterns = append(patterns, d.Value)
			}
		case "run-at":
			if r := userscript.RunAt(d.Value); r.Valid() {
				runAt = r
			}
		}
	}
	if name == "" {
		return nil, ErrNoName
	}

	s := userscript.NewScript(name, src)
	s.URLs = strings.Join(patterns, ", ")
	s.RunAt = runAt
	return s, nil
}

// ImportFile reads and imports one userscript file.
func ImportFile(path string) (*userscript.Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	s, err := Import(string(data))
	if err != nil {
		return nil, fmt.Errorf("import %s: %w", path, err)
	}
	return s, nil
}

// ScanDir imports every *.user.js file in dir, in name order. Files that
// fail to import are returned in errs and do not stop the scan.
func ScanDir(dir string) (scripts []*userscript.Script, errs []error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.user.js"))
	if err != nil {
		return nil, []error{fmt.Errorf("scan %s: %w", dir, err)}
	}
	for _, file := range files {
		s, err := ImportFile(file)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		scripts = append(scripts, s)
	}
	return scripts, errs
}
