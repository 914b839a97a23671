package scheduler

import "userscript-engine/internal/userscript"

// Request is one wrapped script ready to be injected into a page.
type Request struct {
	Script string `json:"script"`
	Source string `json:"source"`
}

// Dispatch selects the scripts of snapshot that run on url at ev and wraps
// each one, in snapshot order. A script is selected when it is enabled, its
// URL patterns match and its runAt fires on ev.
func Dispatch(snapshot []*userscript.Script, url string, ev userscript.Lifecycle) []Request {
	return dispatch(snapshot, url, ev, nil)
}

// Select is Dispatch without the wrapping step.
func Select(snapshot []*userscript.Script, url string, ev userscript.Lifecycle) []*userscript.Script {
	return selectScripts(snapshot, url, ev, nil)
}

// patternErrFunc receives URL patterns that failed to compile.
type patternErrFunc func(script, pattern string, err error)

func dispatch(snapshot []*userscript.Script, url string, ev userscript.Lifecycle, onErr patternErrFunc) []Request {
	selected := selectScripts(snapshot, url, ev, onErr)
	reqs := make([]Request, 0, len(selected))
	for _, s := range selected {
		reqs = append(reqs, Request{Script: s.Name, Source: s.Wrap()})
	}
	return reqs
}

func selectScripts(snapshot []*userscript.Script, url string, ev userscript.Lifecycle, onErr patternErrFunc) []*userscript.Script {
	var out []*userscript.Script
	for _, s := range snapshot {
		if !s.Enabled || !s.RunAt.FiresOn(ev) {
			continue
		}
		if !matches(s, url, onErr) {
			continue
		}
		out = append(out, s)
	}
	return out
}

func matches(s *userscript.Script, url string, onErr patternErrFunc) bool {
	if onErr == nil {
		return userscript.ShouldRunOnURL(s.URLs, url)
	}
	// Same result as ShouldRunOnURL, but every pattern is tried so broken
	// ones get reported.
	if userscript.ShouldRunOnURL(s.URLs, url) {
		return true
	}
	for _, p := range userscript.SplitPatterns(s.URLs) {
		if _, err := userscript.MatchPattern(p, url); err != nil {
			onErr(s.Name, p, err)
		}
	}
	return false
}
