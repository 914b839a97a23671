package userscript

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// ShouldRunOnURL reports whether url matches any pattern of the
// comma-separated list. An empty list matches every URL. Patterns that fail
// to compile count as non-matching.
func ShouldRunOnURL(patterns, url string) bool {
	if strings.TrimSpace(patterns) == "" {
		return true
	}
	for _, p := range SplitPatterns(patterns) {
		if ok, _ := MatchPattern(p, url); ok {
			return true
		}
	}
	return false
}

// SplitPatterns splits a comma-separated pattern list and trims each entry.
func SplitPatterns(patterns string) []string {
	parts := strings.Split(patterns, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

// MatchPattern tests a single pattern. A pattern wrapped in slashes is a
// JavaScript regular expression searched anywhere in url; anything else is a
// wildcard pattern where * matches any run of characters and the whole url
// must match.
func MatchPattern(pattern, url string) (bool, error) {
	if IsRegexPattern(pattern) {
		re, err := compileRegex(pattern)
		if err != nil {
			return false, err
		}
		ok, err := re.MatchString(url)
		if err != nil {
			return false, fmt.Errorf("match url pattern %q: %w", pattern, err)
		}
		return ok, nil
	}
	return compileWildcard(pattern).MatchString(url), nil
}

// IsRegexPattern reports whether pattern uses the /.../ dialect. A lone "/"
// qualifies and holds the empty expression.
func IsRegexPattern(pattern string) bool {
	return pattern != "" && pattern[0] == '/' && pattern[len(pattern)-1] == '/'
}

// regexMatchTimeout bounds backtracking on a single URL.
const regexMatchTimeout = 100 * time.Millisecond

func compileRegex(pattern string) (*regexp2.Regexp, error) {
	inner := ""
	if len(pattern) > 1 {
		inner = pattern[1 : len(pattern)-1]
	}
	re, err := regexp2.Compile(inner, regexp2.ECMAScript)
	if err != nil {
		return nil, fmt.Errorf("compile url pattern %q: %w", pattern, err)
	}
	re.MatchTimeout = regexMatchTimeout
	return re, nil
}

func compileWildcard(pattern string) *regexp.Regexp {
	parts := strings.Split(pattern, "*")
	for i := range parts {
		parts[i] = regexp.QuoteMeta(parts[i])
	}
	return regexp.MustCompile("(?s)^" + strings.Join(parts, ".*") + "$")
}
