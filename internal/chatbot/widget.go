package chatbot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"LearnChat/internal/availability"
	"LearnChat/internal/config"
	"LearnChat/internal/session"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrBusy is returned when a submission is already in progress
	ErrBusy = errors.New("a message is already being sent")
	// ErrClosed is returned once the widget has been closed
	ErrClosed = errors.New("chat widget is closed")
)

// Chatter performs the outbound chat call
type Chatter interface {
	Chat(ctx context.Context, message string) (string, error)
}

// Phase is the position of the current submission in its lifecycle
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseThrottleWait Phase = "throttle_wait"
	PhaseSending      Phase = "sending"
)

// Options configures a Widget
type Options struct {
	MinRequestInterval time.Duration
	RequestTimeout     time.Duration // 0 leaves the chat call bounded only by the caller's context
	Greeting           string
	ThinkingText       string
	FallbackText       string
	Logger             *slog.Logger
	Tracer             trace.Tracer
	Meter              metric.Meter
}

// DefaultOptions returns the production widget options
func DefaultOptions() Options {
	return Options{
		MinRequestInterval: config.DefaultMinRequestInterval,
		RequestTimeout:     config.DefaultRequestTimeout,
		Greeting:           config.Greeting,
		ThinkingText:       config.ThinkingText,
		FallbackText:       config.FallbackText,
	}
}

// Widget is one mounted chat widget. It owns the conversation state, the
// availability monitor and the request throttle.
type Widget struct {
	store   *session.Store
	chat    Chatter
	monitor *availability.Monitor
	opts    Options
	logger  *slog.Logger
	tracer  trace.Tracer

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	closed    atomic.Bool

	submitting atomic.Bool
	phase      atomic.Value

	submissions metric.Int64Counter
	throttled   metric.Int64Counter
	failures    metric.Int64Counter
}

// New creates a widget seeded with the greeting. monitor may be nil when no
// status endpoint is available.
func New(chat Chatter, monitor *availability.Monitor, opts Options) *Widget {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("learnchat")
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("learnchat")
	}
	if opts.ThinkingText == "" {
		opts.ThinkingText = config.ThinkingText
	}
	if opts.FallbackText == "" {
		opts.FallbackText = config.FallbackText
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Widget{
		store:   session.NewStore(opts.Greeting),
		chat:    chat,
		monitor: monitor,
		opts:    opts,
		logger:  opts.Logger,
		tracer:  opts.Tracer,
		ctx:     ctx,
		cancel:  cancel,
	}
	w.phase.Store(PhaseIdle)
	w.initMetrics(opts.Meter)
	return w
}

func (w *Widget) initMetrics(meter metric.Meter) {
	var err error
	if w.submissions, err = meter.Int64Counter("chat.submissions",
		metric.WithDescription("Accepted chat submissions")); err != nil {
		w.logger.Warn("failed to create counter", "key", "chat.submissions", "error", err)
	}
	if w.throttled, err = meter.Int64Counter("chat.throttled",
		metric.WithDescription("Chat submissions delayed by the request throttle")); err != nil {
		w.logger.Warn("failed to create counter", "key", "chat.throttled", "error", err)
	}
	if w.failures, err = meter.Int64Counter("chat.failures",
		metric.WithDescription("Chat submissions answered with the fallback message")); err != nil {
		w.logger.Warn("failed to create counter", "key", "chat.failures", "error", err)
	}
}

// Store returns the conversation state
func (w *Widget) Store() *session.Store {
	return w.store
}

// Phase returns the lifecycle phase of the current submission
func (w *Widget) Phase() Phase {
	return w.phase.Load().(Phase)
}

// Availability returns the latest backend classification
func (w *Widget) Availability() availability.State {
	if w.monitor == nil {
		return availability.Unknown
	}
	return w.monitor.State()
}

// Monitor returns the availability monitor, nil if none was configured
func (w *Widget) Monitor() *availability.Monitor {
	return w.monitor
}

// Start begins availability polling
func (w *Widget) Start() {
	if w.monitor != nil && !w.closed.Load() {
		w.monitor.Start(w.ctx)
	}
}

// Close tears the widget down: polling stops, a pending throttle wait or
// in-flight call is abandoned and no further transcript changes are made.
func (w *Widget) Close() {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		w.cancel()
		if w.monitor != nil {
			w.monitor.Stop()
		}
		w.logger.Info("chat widget closed", "session_id", w.store.ID())
	})
}

// Reset restores the transcript to the greeting
func (w *Widget) Reset() error {
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.submitting.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer w.submitting.Store(false)
	w.store.Reset(w.opts.Greeting)
	return nil
}

// Submit sends text to the assistant. Empty or whitespace-only text is
// ignored. When the previous request started less than MinRequestInterval
// ago, a temporary placeholder is shown for the remainder of the interval.
// Chat failures are reported in the transcript, not as an error.
func (w *Widget) Submit(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if w.closed.Load() {
		return ErrClosed
	}
	if !w.submitting.CompareAndSwap(false, true) {
		return ErrBusy
	}
	defer w.submitting.Store(false)
	defer w.phase.Store(PhaseIdle)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(w.ctx, cancel)
	defer stop()

	ctx, span := w.tracer.Start(ctx, "chat_submit",
		trace.WithAttributes(attribute.String("session.id", w.store.ID())))
	defer span.End()

	startedAt := time.Now()
	slot := startedAt
	last := w.store.LastRequest()
	elapsed := startedAt.Sub(last)

	if elapsed < w.opts.MinRequestInterval {
		wait := w.opts.MinRequestInterval - elapsed
		slot = last.Add(w.opts.MinRequestInterval)
		w.addCount(ctx, w.throttled)
		span.SetAttributes(attribute.Int64("chat.throttle_wait_ms", wait.Milliseconds()))
		w.logger.Debug("throttling chat request", "session_id", w.store.ID(), "wait", wait)

		w.store.Append(session.TemporaryMessage(w.opts.ThinkingText))
		w.phase.Store(PhaseThrottleWait)
		err := sleep(ctx, wait)
		w.store.RemoveTemporary()
		if err != nil {
			span.SetStatus(codes.Error, "throttle wait aborted")
			if w.closed.Load() {
				return ErrClosed
			}
			return fmt.Errorf("throttle wait aborted: %w", err)
		}
	}

	w.store.SetLastRequest(slot)
	w.store.Append(session.UserMessage(text))
	w.store.SetInput("")
	w.store.SetBusy(true)
	defer w.store.SetBusy(false)
	w.phase.Store(PhaseSending)
	w.addCount(ctx, w.submissions)

	reply, err := w.send(ctx, text)
	if w.closed.Load() {
		w.logger.Info("dropping chat result for closed widget", "session_id", w.store.ID())
		return ErrClosed
	}
	if err != nil {
		w.addCount(ctx, w.failures)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		w.logger.Error("chat request failed", "session_id", w.store.ID(), "error", err)
		w.store.Append(session.BotMessage(w.opts.FallbackText))
		return nil
	}

	w.store.Append(session.BotMessage(reply))
	return nil
}

func (w *Widget) send(ctx context.Context, text string) (string, error) {
	if w.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.opts.RequestTimeout)
		defer cancel()
	}
	return w.chat.Chat(ctx, text)
}

func (w *Widget) addCount(ctx context.Context, counter metric.Int64Counter) {
	if counter != nil {
		counter.Add(ctx, 1)
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
