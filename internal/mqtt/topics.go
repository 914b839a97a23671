//go:build !no_mqtt

package mqtt

import (
	"encoding/json"
	"fmt"
	"strings"

	"userscript-engine/internal/navigation"
)

// Topic layout under the configured prefix:
//
//	<prefix>/bridge/state            online/offline, retained
//	<prefix>/page/<id>/navigation    page -> bridge, {"event":..,"url":..}
//	<prefix>/page/<id>/execute       bridge -> page, wrapped script source
//	<prefix>/dispatch                script_injected notifications
const (
	topicBridgeState = "bridge/state"
	topicPage        = "page"
	topicNavigation  = "navigation"
	topicExecute     = "execute"
	topicDispatch    = "dispatch"
)

// navigationMessage is the payload a page publishes on its navigation topic.
type navigationMessage struct {
	Event string `json:"event"`
	URL   string `json:"url"`
}

// dispatchMessage is published for every script handed to a page.
type dispatchMessage struct {
	Transport string `json:"transport"`
	Page      string `json:"page"`
	URL       string `json:"url"`
	Script    string `json:"script"`
}

func bridgeStateTopic(prefix string) string {
	return prefix + "/" + topicBridgeState
}

func navigationFilter(prefix string) string {
	return prefix + "/" + topicPage + "/+/" + topicNavigation
}

func executeTopic(prefix, page string) string {
	return prefix + "/" + topicPage + "/" + page + "/" + topicExecute
}

func dispatchTopic(prefix string) string {
	return prefix + "/" + topicDispatch
}

// pageFromTopic extracts the page id from a navigation topic.
func pageFromTopic(prefix, topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, prefix+"/"+topicPage+"/")
	if !ok {
		return "", false
	}
	page, ok := strings.CutSuffix(rest, "/"+topicNavigation)
	if !ok || page == "" || strings.Contains(page, "/") {
		return "", false
	}
	return page, true
}

// parseNavigation turns a message on a navigation topic into a bus event.
func parseNavigation(prefix, topic string, payload []byte) (navigation.Event, error) {
	page, ok := pageFromTopic(prefix, topic)
	if !ok {
		return navigation.Event{}, fmt.Errorf("not a navigation topic: %q", topic)
	}
	var msg navigationMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return navigation.Event{}, fmt.Errorf("navigation payload for %s: %w", page, err)
	}
	switch msg.Event {
	case navigation.EventStart, navigation.EventLoad, navigation.EventURLChanged, navigation.EventPageClosed:
	default:
		return navigation.Event{}, fmt.Errorf("unknown navigation event %q for %s", msg.Event, page)
	}
	return navigation.Event{Type: msg.Event, Transport: navigation.TransportMQTT, Page: page, URL: msg.URL}, nil
}

func mustJSON(v interface{}) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
