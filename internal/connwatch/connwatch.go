// Package connwatch tracks whether the agent's backends (the LLM
// providers, the wardrobe index) are reachable.
//
// Transport retries in httpkit absorb sub-second dial errors. connwatch
// covers longer outages: a watcher probes its backend, backs off
// exponentially while it is down, and drops to a slow poll once it is
// up. Readiness is reported to /health and to the metrics gauge through
// the manager's change callback.
package connwatch

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Probe checks whether a backend is reachable. Return nil if healthy.
type Probe func(ctx context.Context) error

// Backoff controls probe timing.
type Backoff struct {
	// Initial is the delay after the first failed probe.
	Initial time.Duration
	// Max caps the delay between failed probes.
	Max        time.Duration
	Multiplier float64
	// Poll is the interval between probes while the backend is up.
	Poll time.Duration
	// Timeout bounds each probe.
	Timeout time.Duration
}

// DefaultBackoff probes at 2s, 4s, 8s ... up to every minute while a
// backend is down, and every minute while it is up.
func DefaultBackoff() Backoff {
	return Backoff{
		Initial:    2 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2,
		Poll:       60 * time.Second,
		Timeout:    10 * time.Second,
	}
}

func (b Backoff) withDefaults() Backoff {
	d := DefaultBackoff()
	if b.Initial <= 0 {
		b.Initial = d.Initial
	}
	if b.Max <= 0 {
		b.Max = d.Max
	}
	if b.Multiplier < 1 {
		b.Multiplier = d.Multiplier
	}
	if b.Poll <= 0 {
		b.Poll = d.Poll
	}
	if b.Timeout <= 0 {
		b.Timeout = d.Timeout
	}
	return b
}

// Status is a backend's last known health.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	Checked   bool      `json:"checked"`
	LastCheck time.Time `json:"last_check,omitzero"`
	LastError string    `json:"last_error,omitempty"`
	// Failures counts consecutive failed probes.
	Failures int `json:"failures,omitempty"`
}

// Watcher probes one backend until stopped.
type Watcher struct {
	name    string
	probe   Probe
	backoff Backoff
	notify  func(name string, ready bool)
	logger  *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	status Status
}

// Status returns the watcher's current health.
func (w *Watcher) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.status
}

// Ready reports whether the last probe succeeded.
func (w *Watcher) Ready() bool {
	return w.Status().Ready
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	delay := w.backoff.Initial
	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}

		wait := w.backoff.Poll
		if err != nil {
			wait = delay
			delay = min(time.Duration(float64(delay)*w.backoff.Multiplier), w.backoff.Max)
		} else {
			delay = w.backoff.Initial
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// check runs one probe and records the outcome, logging and notifying
// on transitions.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.backoff.Timeout)
	err := w.probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return ctx.Err()
	}

	w.mu.Lock()
	wasReady, first := w.status.Ready, !w.status.Checked
	w.status.Checked = true
	w.status.LastCheck = time.Now()
	w.status.Ready = err == nil
	if err != nil {
		w.status.LastError = err.Error()
		w.status.Failures++
	} else {
		w.status.LastError = ""
		w.status.Failures = 0
	}
	failures := w.status.Failures
	w.mu.Unlock()

	switch {
	case err == nil && (first || !wasReady):
		w.logger.Info("backend reachable", "backend", w.name)
	case err != nil && (first || wasReady):
		w.logger.Warn("backend unreachable", "backend", w.name, "error", err)
	case err != nil:
		w.logger.Debug("backend still unreachable", "backend", w.name, "failures", failures, "error", err)
	}
	if (first || wasReady != (err == nil)) && w.notify != nil {
		w.notify(w.name, err == nil)
	}
	return err
}

// Manager owns the watchers of every backend.
type Manager struct {
	logger   *slog.Logger
	onChange func(name string, ready bool)

	mu       sync.RWMutex
	watchers map[string]*Watcher
}

// NewManager creates a manager. onChange, if set, is called after the
// first probe of each backend and on every readiness transition. It
// runs on the watcher goroutine and must not block.
func NewManager(onChange func(name string, ready bool), logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:   logger,
		onChange: onChange,
		watchers: make(map[string]*Watcher),
	}
}

// Watch starts probing a backend in the background until ctx is done
// or Stop is called. Watching a name twice replaces the old watcher.
func (m *Manager) Watch(ctx context.Context, name string, probe Probe, backoff Backoff) *Watcher {
	if name == "" || probe == nil {
		panic("connwatch: Watch needs a name and a probe")
	}
	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		name:    name,
		probe:   probe,
		backoff: backoff.withDefaults(),
		notify:  m.onChange,
		logger:  m.logger,
		cancel:  cancel,
		done:    make(chan struct{}),
		status:  Status{Name: name},
	}

	m.mu.Lock()
	old := m.watchers[name]
	m.watchers[name] = w
	m.mu.Unlock()
	if old != nil {
		old.Stop()
	}

	go w.run(watchCtx)
	return w
}

// Status returns every backend's health, sorted by name.
func (m *Manager) Status() []Status {
	m.mu.RLock()
	out := make([]Status, 0, len(m.watchers))
	for _, w := range m.watchers {
		out = append(out, w.Status())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Ready reports whether every watched backend answered its last probe.
func (m *Manager) Ready() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Stop shuts down every watcher and waits for them to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
