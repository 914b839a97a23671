package headless

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dop251/goja"
)

//go:embed page.js
var pageShim string

var pageProgram = goja.MustCompile("page.js", pageShim, false)

// Runtime is one headless page: a goja VM with a minimal document, a
// location and console capture. Sources executed on it share its globals.
type Runtime struct {
	vm     *goja.Runtime
	config Config
	client *http.Client
	mu     sync.Mutex

	// ctx of the execution in progress, used by fetch
	ctx context.Context

	console   []LogEntry
	consoleMu sync.Mutex
}

// NewRuntime creates a page whose location is url.
func NewRuntime(config Config, url string) (*Runtime, error) {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.MaxBodyBytes <= 0 {
		config.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}
	client := config.Client
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	r := &Runtime{
		vm:     goja.New(),
		config: config,
		client: client,
		ctx:    context.Background(),
	}
	if err := r.setupGlobals(url); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Runtime) setupGlobals(url string) error {
	console := r.vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := console.Set(level, r.makeConsoleFunc(level)); err != nil {
			return fmt.Errorf("setup console: %w", err)
		}
	}
	if err := r.vm.Set("console", console); err != nil {
		return fmt.Errorf("setup console: %w", err)
	}

	location := r.vm.NewObject()
	if err := location.Set("href", url); err != nil {
		return fmt.Errorf("setup location: %w", err)
	}
	if err := r.vm.Set("location", location); err != nil {
		return fmt.Errorf("setup location: %w", err)
	}

	// Timers are accepted and never fire.
	noop := func(goja.FunctionCall) goja.Value { return r.vm.ToValue(0) }
	for _, name := range []string{"setTimeout", "setInterval", "clearTimeout", "clearInterval"} {
		if err := r.vm.Set(name, noop); err != nil {
			return fmt.Errorf("setup timers: %w", err)
		}
	}

	if err := r.vm.Set("__hostFetch", r.hostFetch); err != nil {
		return fmt.Errorf("setup fetch: %w", err)
	}
	if _, err := r.vm.RunProgram(pageProgram); err != nil {
		return fmt.Errorf("setup page: %w", err)
	}
	return nil
}

func (r *Runtime) makeConsoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}

		r.consoleMu.Lock()
		r.console = append(r.console, LogEntry{
			Level:   level,
			Message: strings.Join(parts, " "),
			Time:    time.Now(),
		})
		r.consoleMu.Unlock()

		return goja.Undefined()
	}
}

// hostFetch backs the page's fetch: (url, method, headers, body) -> {status, body}.
func (r *Runtime) hostFetch(call goja.FunctionCall) goja.Value {
	if !r.config.AllowFetch {
		panic(r.vm.NewGoError(ErrFetchDisabled))
	}

	url := call.Argument(0).String()
	method := call.Argument(1).String()
	var body io.Reader
	if b := call.Argument(3).String(); b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(r.ctx, method, url, body)
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("fetch %s: %w", url, err)))
	}
	if headers, ok := call.Argument(2).Export().(map[string]interface{}); ok {
		for k, v := range headers {
			req.Header.Set(k, fmt.Sprint(v))
		}
	}

	resp, err := r.client.Do(req)
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("fetch %s: %w", url, err)))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.config.MaxBodyBytes))
	if err != nil {
		panic(r.vm.NewGoError(fmt.Errorf("fetch %s: read body: %w", url, err)))
	}

	return r.vm.ToValue(map[string]interface{}{
		"status": resp.StatusCode,
		"body":   string(data),
	})
}

// Execute runs source in the page's global context with the configured
// timeout. Pending promise callbacks run before it returns. The result
// carries the console output produced by this execution only.
func (r *Runtime) Execute(ctx context.Context, source string) *RunResult {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()

	r.consoleMu.Lock()
	r.console = nil
	r.consoleMu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	r.ctx = ctx

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		select {
		case <-ctx.Done():
			r.vm.Interrupt(fmt.Sprintf("execution stopped: %v", ctx.Err()))
		case <-done:
		}
	}()

	_, err := r.vm.RunString(source)
	close(done)
	<-stopped
	r.vm.ClearInterrupt()
	r.ctx = context.Background()

	result := &RunResult{OK: err == nil, Duration: time.Since(start)}
	if err != nil {
		result.Error = err.Error()
	}

	r.consoleMu.Lock()
	result.Logs = append([]LogEntry{}, r.console...)
	r.consoleMu.Unlock()

	result.Styles = r.styles()
	return result
}

// styles returns the text of every style element in the document.
func (r *Runtime) styles() []string {
	out := []string{}
	collect, ok := goja.AssertFunction(r.vm.Get("__collectStyles"))
	if !ok {
		return out
	}
	v, err := collect(goja.Undefined())
	if err != nil {
		return out
	}
	if err := r.vm.ExportTo(v, &out); err != nil {
		return []string{}
	}
	return out
}

// URL returns the page's current location.
func (r *Runtime) URL() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc := r.vm.Get("location")
	if loc == nil {
		return ""
	}
	href := loc.ToObject(r.vm).Get("href")
	if href == nil {
		return ""
	}
	return href.String()
}

// Run executes source once on a fresh page at url.
func Run(ctx context.Context, config Config, source, url string) (*RunResult, error) {
	r, err := NewRuntime(config, url)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, source), nil
}
