// Package availability classifies whether the assistant backend is
// reachable by polling its status endpoint on a fixed interval. The result is
// advisory: it drives the offline badge and never gates chat submission.
package availability

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// State is the availability classification of the assistant backend
type State string

const (
	Unknown State = "unknown"
	Online  State = "online"
	Offline State = "offline"
)

// Prober asks the backend for its status
type Prober interface {
	Status(ctx context.Context) (string, error)
}

// Classify maps a status payload value to a State
func Classify(status string) State {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case string(Online):
		return Online
	case string(Offline):
		return Offline
	default:
		return Unknown
	}
}

// Monitor polls a Prober and holds the latest State
type Monitor struct {
	prober   Prober
	interval time.Duration
	timeout  time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	state     State
	checkedAt time.Time
	running   bool
	stopped   bool
	cancel    context.CancelFunc
	done      chan struct{}
	observers []func(State)
}

// NewMonitor creates a monitor that probes every interval. timeout bounds a
// single probe; zero means no bound beyond the caller's context.
func NewMonitor(prober Prober, interval, timeout time.Duration, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		timeout:  timeout,
		logger:   logger,
		state:    Unknown,
	}
}

// State returns the latest classification
func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// CheckedAt returns when the last probe resolved, zero if none has
func (m *Monitor) CheckedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.checkedAt
}

// OnChange registers fn to be called whenever the classification changes
func (m *Monitor) OnChange(fn func(State)) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Start probes immediately and then on every interval until ctx is done or
// Stop is called. Calling Start on a running or stopped monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running || m.stopped {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	go m.run(ctx, done)
}

// Stop cancels the polling loop and waits for it to exit. No state change
// happens after Stop returns.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	cancel := m.cancel
	done := m.done
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// ProbeNow runs a single probe outside the schedule and returns the
// resulting classification.
func (m *Monitor) ProbeNow(ctx context.Context) State {
	m.probe(ctx)
	return m.State()
}

func (m *Monitor) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.probe(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probe(ctx)
		}
	}
}

func (m *Monitor) probe(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	next := Offline
	status, err := m.prober.Status(ctx)
	if err != nil {
		m.logger.Warn("assistant status probe failed", "error", err)
	} else {
		next = Classify(status)
	}

	m.set(next)
}

func (m *Monitor) set(next State) {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = next
	m.checkedAt = time.Now()
	var observers []func(State)
	if prev != next {
		observers = make([]func(State), len(m.observers))
		copy(observers, m.observers)
	}
	m.mu.Unlock()

	if prev != next {
		m.logger.Info("assistant availability changed", "from", prev, "to", next)
	}
	for _, observer := range observers {
		observer(next)
	}
}
