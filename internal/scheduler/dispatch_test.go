package scheduler

import (
	"strings"
	"testing"

	"userscript-engine/internal/userscript"
)

func script(name string, enabled bool, urls string, runAt userscript.RunAt) *userscript.Script {
	s := userscript.NewScript(name, "console.log('"+name+"');")
	s.Enabled = enabled
	s.URLs = urls
	s.RunAt = runAt
	return s
}

func requestNames(reqs []Request) []string {
	out := make([]string, len(reqs))
	for i, r := range reqs {
		out[i] = r.Script
	}
	return out
}

func TestDispatchFiltering(t *testing.T) {
	snapshot := []*userscript.Script{
		script("a", true, "*", userscript.RunAtDocumentStart),
		script("b", false, "*", userscript.RunAtDocumentIdle),
		script("c", true, "https://specific.com/*", userscript.RunAtDocumentIdle),
	}

	got := Dispatch(snapshot, "https://other.com", userscript.LifecycleStart)
	if strings.Join(requestNames(got), ",") != "a" {
		t.Errorf("start on other.com = %v, want [a]", requestNames(got))
	}

	got = Dispatch(snapshot, "https://specific.com/page", userscript.LifecycleLoad)
	if strings.Join(requestNames(got), ",") != "c" {
		t.Errorf("load on specific.com = %v, want [c]", requestNames(got))
	}
}

func TestDispatchKeepsSnapshotOrder(t *testing.T) {
	snapshot := []*userscript.Script{
		script("z", true, "", userscript.RunAtDocumentIdle),
		script("m", true, "https://a.com/*", userscript.RunAtDocumentIdle),
		script("a", true, "*", userscript.RunAtDocumentIdle),
	}

	got := Dispatch(snapshot, "https://a.com/x", userscript.LifecycleLoad)
	if strings.Join(requestNames(got), ",") != "z,m,a" {
		t.Errorf("order = %v, want z,m,a", requestNames(got))
	}
}

func TestDispatchNeverRunsDocumentEnd(t *testing.T) {
	snapshot := []*userscript.Script{script("end", true, "*", userscript.RunAtDocumentEnd)}
	for _, ev := range []userscript.Lifecycle{userscript.LifecycleStart, userscript.LifecycleLoad} {
		if got := Dispatch(snapshot, "https://a.com", ev); len(got) != 0 {
			t.Errorf("%s dispatched document-end script: %v", ev, requestNames(got))
		}
	}
}

func TestDispatchWrapsCode(t *testing.T) {
	s := script("w", true, "", userscript.RunAtDocumentIdle)
	s.Metadata = map[string]string{"version": "9"}

	got := Dispatch([]*userscript.Script{s}, "https://a.com", userscript.LifecycleLoad)
	if len(got) != 1 {
		t.Fatalf("requests = %d, want 1", len(got))
	}
	if got[0].Source != userscript.GreasemonkeyEnvironment(s.Code, s.Metadata) {
		t.Error("source is not the wrapped script code")
	}
}

func TestDispatchUsesStoredMetadata(t *testing.T) {
	s := script("m", true, "", userscript.RunAtDocumentIdle)
	s.Code = "// ==UserScript==\n// @version 1\n// ==/UserScript==\n"
	s.Metadata = map[string]string{"version": "stored"}

	got := Dispatch([]*userscript.Script{s}, "https://a.com", userscript.LifecycleLoad)
	if !strings.Contains(got[0].Source, `"version":"stored"`) {
		t.Error("dispatch re-parsed metadata instead of using the stored value")
	}
}

func TestDispatchInvalidRegexDoesNotStopOthers(t *testing.T) {
	snapshot := []*userscript.Script{
		script("broken", true, "/[/", userscript.RunAtDocumentIdle),
		script("fine", true, "https://a.com/*", userscript.RunAtDocumentIdle),
	}

	var reported []string
	got := dispatch(snapshot, "https://a.com/x", userscript.LifecycleLoad, func(script, pattern string, err error) {
		reported = append(reported, script+" "+pattern)
	})
	if strings.Join(requestNames(got), ",") != "fine" {
		t.Errorf("requests = %v, want [fine]", requestNames(got))
	}
	if len(reported) != 1 || reported[0] != "broken /[/" {
		t.Errorf("reported = %v, want [broken /[/]", reported)
	}
}

func TestSelectEmptySnapshot(t *testing.T) {
	if got := Select(nil, "https://a.com", userscript.LifecycleLoad); len(got) != 0 {
		t.Errorf("got %d scripts from empty snapshot", len(got))
	}
}
