package headless

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"userscript-engine/internal/navigation"
)

// PageState is a snapshot of a headless page.
type PageState struct {
	Page   string     `json:"page"`
	URL    string     `json:"url"`
	Logs   []LogEntry `json:"logs"`
	Styles []string   `json:"styles"`
}

type page struct {
	rt     *Runtime
	logs   []LogEntry
	styles []string
}

// Pool keeps one Runtime per headless page and executes injected scripts
// on them. Opening a page reports its lifecycle on the bus so the scheduler
// can inject into it.
type Pool struct {
	config Config
	bus    *navigation.EventBus
	logger *slog.Logger

	mu    sync.Mutex
	pages map[string]*page
}

// NewPool creates an empty page pool.
func NewPool(config Config, bus *navigation.EventBus, logger *slog.Logger) *Pool {
	return &Pool{
		config: config,
		bus:    bus,
		logger: logger.With("component", "headless"),
		pages:  make(map[string]*page),
	}
}

// Open creates a page at url and emits its start and load events.
func (p *Pool) Open(url string) (string, error) {
	rt, err := NewRuntime(p.config, url)
	if err != nil {
		return "", fmt.Errorf("open page: %w", err)
	}
	id := uuid.NewString()

	p.mu.Lock()
	p.pages[id] = &page{rt: rt}
	p.mu.Unlock()

	p.logger.Info("page opened", "page", id, "url", url)
	for _, t := range []string{navigation.EventStart, navigation.EventLoad} {
		p.bus.Emit(navigation.Event{Type: t, Transport: navigation.TransportHeadless, Page: id, URL: url})
	}
	return id, nil
}

// ExecuteScript runs source on page. Script failures are recorded in the
// page's logs; only an unknown page is an error.
func (p *Pool) ExecuteScript(id, source string) error {
	p.mu.Lock()
	pg, ok := p.pages[id]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("execute on %s: %w", id, ErrPageNotFound)
	}

	res := pg.rt.Execute(context.Background(), source)
	if !res.OK {
		p.logger.Warn("script did not complete", "page", id, "err", res.Error)
		res.Logs = append(res.Logs, LogEntry{Level: "error", Message: res.Error})
	}

	p.mu.Lock()
	pg.logs = append(pg.logs, res.Logs...)
	pg.styles = res.Styles
	p.mu.Unlock()
	return nil
}

// State returns a snapshot of page.
func (p *Pool) State(id string) (PageState, error) {
	p.mu.Lock()
	pg, ok := p.pages[id]
	if !ok {
		p.mu.Unlock()
		return PageState{}, ErrPageNotFound
	}
	st := PageState{
		Page:   id,
		Logs:   append([]LogEntry{}, pg.logs...),
		Styles: append([]string{}, pg.styles...),
	}
	p.mu.Unlock()

	st.URL = pg.rt.URL()
	return st, nil
}

// Close discards page and emits page_closed.
func (p *Pool) Close(id string) error {
	p.mu.Lock()
	_, ok := p.pages[id]
	delete(p.pages, id)
	p.mu.Unlock()
	if !ok {
		return ErrPageNotFound
	}

	p.logger.Info("page closed", "page", id)
	p.bus.Emit(navigation.Event{Type: navigation.EventPageClosed, Transport: navigation.TransportHeadless, Page: id})
	return nil
}

// CloseAll discards every page.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.pages))
	for id := range p.pages {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Close(id)
	}
}

// Len returns the number of open pages.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pages)
}
