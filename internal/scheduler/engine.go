package scheduler

import (
	"fmt"
	"log/slog"
	"sync"

	"userscript-engine/internal/navigation"
	"userscript-engine/internal/userscript"
)

// Executor runs source text in a page's global context. It returns once the
// source was handed over; nothing about the script's own outcome comes back.
type Executor interface {
	ExecuteScript(page, source string) error
}

// Source provides the registry snapshot a dispatch works from.
type Source interface {
	List() []*userscript.Script
}

// pageKey identifies a page across transports.
type pageKey struct {
	transport string
	page      string
}

// Engine listens for page navigation events and injects matching scripts.
type Engine struct {
	scripts Source
	bus     *navigation.EventBus
	logger  *slog.Logger

	mu        sync.Mutex
	executors map[string]Executor
	pages     map[pageKey]string // page -> current URL
	unsub     []func()
}

// NewEngine creates a new scheduler engine.
func NewEngine(scripts Source, bus *navigation.EventBus, logger *slog.Logger) *Engine {
	return &Engine{
		scripts:   scripts,
		bus:       bus,
		logger:    logger.With("component", "scheduler"),
		executors: make(map[string]Executor),
		pages:     make(map[pageKey]string),
	}
}

// RegisterExecutor routes pages of transport to ex.
func (e *Engine) RegisterExecutor(transport string, ex Executor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executors[transport] = ex
}

// Start subscribes to the navigation bus.
func (e *Engine) Start() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range []string{navigation.EventStart, navigation.EventLoad, navigation.EventURLChanged, navigation.EventPageClosed} {
		e.unsub = append(e.unsub, e.bus.On(t, e.HandleEvent))
	}
	e.logger.Info("scheduler started", "executors", len(e.executors))
}

// Stop unsubscribes from the navigation bus.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, fn := range e.unsub {
		fn()
	}
	e.unsub = nil
	e.logger.Info("scheduler stopped")
}

// HandleEvent updates page state and dispatches on lifecycle events. A
// lifecycle event without a URL uses the page's last reported URL.
func (e *Engine) HandleEvent(ev navigation.Event) {
	key := pageKey{transport: ev.Transport, page: ev.Page}

	switch ev.Type {
	case navigation.EventURLChanged:
		e.setURL(key, ev.URL)
	case navigation.EventPageClosed:
		e.mu.Lock()
		delete(e.pages, key)
		e.mu.Unlock()
	case navigation.EventStart, navigation.EventLoad:
		url := ev.URL
		if url != "" {
			e.setURL(key, url)
		} else {
			url = e.CurrentURL(ev.Transport, ev.Page)
		}
		if url == "" {
			e.logger.Warn("lifecycle event for page with no known url", "transport", ev.Transport, "page", ev.Page, "event", ev.Type)
			return
		}
		e.DispatchPage(ev.Transport, ev.Page, url, userscript.Lifecycle(ev.Type))
	}
}

// DispatchPage injects every script selected for url at lc into the page and
// returns how many were handed over. A failed hand-off is logged and does
// not stop the remaining scripts.
func (e *Engine) DispatchPage(transport, page, url string, lc userscript.Lifecycle) int {
	e.mu.Lock()
	ex, ok := e.executors[transport]
	e.mu.Unlock()
	if !ok {
		e.logger.Warn("no executor for transport", "transport", transport, "page", page)
		return 0
	}

	reqs := dispatch(e.scripts.List(), url, lc, e.logPatternErr)

	injected := 0
	for _, req := range reqs {
		if err := e.execute(ex, page, req); err != nil {
			e.logger.Warn("inject script", "script", req.Script, "page", page, "err", err)
			continue
		}
		injected++
		e.logger.Debug("script injected", "script", req.Script, "page", page, "url", url, "event", lc)
		e.bus.Emit(navigation.Event{
			Type:      navigation.EventScriptInjected,
			Transport: transport,
			Page:      page,
			URL:       url,
			Script:    req.Script,
		})
	}
	return injected
}

// execute shields the dispatch loop from a panicking executor.
func (e *Engine) execute(ex Executor, page string, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return ex.ExecuteScript(page, req.Source)
}

// Preview returns the names of scripts that would run on url at lc.
func (e *Engine) Preview(url string, lc userscript.Lifecycle) []string {
	selected := selectScripts(e.scripts.List(), url, lc, e.logPatternErr)
	names := make([]string, 0, len(selected))
	for _, s := range selected {
		names = append(names, s.Name)
	}
	return names
}

func (e *Engine) logPatternErr(script, pattern string, err error) {
	e.logger.Warn("invalid url pattern", "script", script, "pattern", pattern, "err", err)
}

// CurrentURL returns the last URL reported for a page.
func (e *Engine) CurrentURL(transport, page string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pages[pageKey{transport: transport, page: page}]
}

func (e *Engine) setURL(key pageKey, url string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pages[key] = url
}
