//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"

	"userscript-engine/internal/navigation"
)

func TestTopicLayout(t *testing.T) {
	if got := bridgeStateTopic("us"); got != "us/bridge/state" {
		t.Errorf("bridge state = %q", got)
	}
	if got := navigationFilter("us"); got != "us/page/+/navigation" {
		t.Errorf("navigation filter = %q", got)
	}
	if got := executeTopic("us", "tab-1"); got != "us/page/tab-1/execute" {
		t.Errorf("execute = %q", got)
	}
	if got := dispatchTopic("us"); got != "us/dispatch" {
		t.Errorf("dispatch = %q", got)
	}
}

func TestPageFromTopic(t *testing.T) {
	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"us/page/tab-1/navigation", "tab-1", true},
		{"us/page//navigation", "", false},
		{"us/page/a/b/navigation", "", false},
		{"us/page/tab-1/execute", "", false},
		{"other/page/tab-1/navigation", "", false},
	}
	for _, tt := range tests {
		got, ok := pageFromTopic("us", tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("pageFromTopic(%q) = %q, %v, want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestParseNavigation(t *testing.T) {
	ev, err := parseNavigation("us", "us/page/tab-1/navigation", []byte(`{"event":"load","url":"https://a.com/"}`))
	if err != nil {
		t.Fatalf("parseNavigation() error = %v", err)
	}
	want := navigation.Event{Type: navigation.EventLoad, Transport: navigation.TransportMQTT, Page: "tab-1", URL: "https://a.com/"}
	if ev != want {
		t.Errorf("event = %+v, want %+v", ev, want)
	}
}

func TestParseNavigationErrors(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{"wrong topic", "us/page/tab-1/execute", `{"event":"load"}`},
		{"bad json", "us/page/tab-1/navigation", `{`},
		{"unknown event", "us/page/tab-1/navigation", `{"event":"script_injected"}`},
		{"empty event", "us/page/tab-1/navigation", `{}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := parseNavigation("us", tt.topic, []byte(tt.payload)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestHandleNavigationEmits(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	bus := navigation.NewEventBus(logger)
	b := &Bridge{bus: bus, prefix: "us", logger: logger}

	var got []navigation.Event
	bus.OnAll(func(ev navigation.Event) { got = append(got, ev) })

	b.handleNavigation("us/page/p/navigation", []byte(`{"event":"start","url":"https://a.com/"}`))
	b.handleNavigation("us/page/p/navigation", []byte(`garbage`))
	b.handleNavigation("us/page/p/navigation", []byte(`{"event":"page_closed"}`))

	if len(got) != 2 || got[0].Type != navigation.EventStart || got[1].Type != navigation.EventPageClosed {
		t.Errorf("events = %+v", got)
	}
}

func TestDispatchMessageFormat(t *testing.T) {
	data := mustJSON(dispatchMessage{Transport: "ws", Page: "p", URL: "https://a.com/", Script: "s"})

	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatal(err)
	}
	for k, want := range map[string]string{"transport": "ws", "page": "p", "url": "https://a.com/", "script": "s"} {
		if m[k] != want {
			t.Errorf("%s = %q, want %q", k, m[k], want)
		}
	}
}

func TestMustJSON(t *testing.T) {
	if got := string(mustJSON(map[string]int{"a": 1})); got != `{"a":1}` {
		t.Errorf("mustJSON = %s", got)
	}
	if got := string(mustJSON(make(chan int))); got != "{}" {
		t.Errorf("mustJSON(unmarshalable) = %s, want {}", got)
	}
}
