package userscript

import (
	"regexp"
	"strings"
	"unicode"
)

// headerRe finds the first ==UserScript== ... ==/UserScript== block. Both
// markers must sit behind a // comment.
var headerRe = regexp.MustCompile(`(?s)//[ \t]*==UserScript==(.*?)//[ \t]*==/UserScript==`)

// Directive is one "@key value" line of a metadata header. Value is the rest
// of the line after the key, trimmed.
type Directive struct {
	Key   string
	Value string
}

// ParseHeader returns every directive of the metadata header in source
// order, or nil when src has no header.
func ParseHeader(src string) []Directive {
	m := headerRe.FindStringSubmatch(src)
	if m == nil {
		return nil
	}

	var out []Directive
	for _, line := range strings.Split(m[1], "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimSpace(strings.TrimPrefix(line, "//"))
		if !strings.HasPrefix(line, "@") {
			continue
		}
		key, rest := line[1:], ""
		if end := strings.IndexFunc(key, unicode.IsSpace); end >= 0 {
			key, rest = key[:end], key[end:]
		}
		if key == "" {
			continue
		}
		out = append(out, Directive{Key: key, Value: strings.TrimSpace(rest)})
	}
	return out
}

// ParseMetadata extracts the header block of src into a key/value map. Only
// the first whitespace-separated token after the key is kept as the value and
// later duplicates overwrite earlier ones. Lines without a value are skipped.
// A missing header yields an empty map.
func ParseMetadata(src string) map[string]string {
	meta := make(map[string]string)
	for _, d := range ParseHeader(src) {
		fields := strings.Fields(d.Value)
		if len(fields) == 0 {
			continue
		}
		meta[d.Key] = fields[0]
	}
	return meta
}
