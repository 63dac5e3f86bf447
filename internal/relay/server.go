package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"LearnChat/internal/backend"
	"LearnChat/internal/cache"
	"LearnChat/internal/credentials"
	"LearnChat/internal/provider"
	"LearnChat/internal/store"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const (
	// MaxMessageLength bounds a single chat message in bytes
	MaxMessageLength = 4000

	availabilityTimeout = 5 * time.Second
	historyPath         = "/api/chat/history"
)

// Options configures a Server
type Options struct {
	Secret         string
	Cache          *cache.Cache // nil disables caching
	DB             *store.DB    // nil disables the exchange log and history
	RateLimit      float64
	RateBurst      int
	AllowedOrigins []string
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Meter          metric.Meter
}

// Server is the development assistant service behind the chat widget
type Server struct {
	provider provider.Provider
	opts     Options
	logger   *slog.Logger
	tracer   trace.Tracer

	requests  metric.Int64Counter
	cacheHits metric.Int64Counter
}

func NewServer(p provider.Provider, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("learnchat-relay")
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter("learnchat-relay")
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		provider: p,
		opts:     opts,
		logger:   opts.Logger,
		tracer:   opts.Tracer,
	}

	var err error
	if s.requests, err = opts.Meter.Int64Counter("relay.chat.requests",
		metric.WithDescription("Chat requests answered by the relay")); err != nil {
		s.logger.Warn("failed to create counter", "key", "relay.chat.requests", "error", err)
	}
	if s.cacheHits, err = opts.Meter.Int64Counter("relay.cache.hits",
		metric.WithDescription("Chat requests answered from the response cache")); err != nil {
		s.logger.Warn("failed to create counter", "key", "relay.cache.hits", "error", err)
	}
	return s
}

// Handler returns the relay's router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(RequestLogger(s.logger))
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(CORS(s.opts.AllowedOrigins))

	s.RegisterRoutes(r)
	return r
}

// RegisterRoutes registers the chat routes
func (s *Server) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(Authenticate(s.opts.Secret))

		r.Get(backend.StatusPath, s.Status)
		r.Get(historyPath, s.History)
		r.With(RateLimit(s.opts.RateLimit, s.opts.RateBurst)).Post(backend.ChatPath, s.Chat)
	})
}

// ListenAndServe serves on addr until ctx is done, then shuts down gracefully
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("relay listening", "addr", addr, "provider", s.provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down relay")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// Status reports whether the configured provider can answer right now
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), availabilityTimeout)
	defer cancel()

	status := backend.StatusOnline
	if err := s.provider.Available(ctx); err != nil {
		s.logger.Warn("provider unavailable", "provider", s.provider.Name(), "error", err)
		status = backend.StatusOffline
	}

	JSON(w, http.StatusOK, map[string]interface{}{
		"status":   status,
		"provider": s.provider.Name(),
	})
}

// Chat answers one message from the widget
func (s *Server) Chat(w http.ResponseWriter, r *http.Request) {
	ctx, span := s.tracer.Start(r.Context(), "relay_chat")
	defer span.End()

	claims := ClaimsFromContext(ctx)
	requestID := chiMiddleware.GetReqID(ctx)

	var req backend.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4*MaxMessageLength)).Decode(&req); err != nil {
		Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		Error(w, http.StatusBadRequest, "message cannot be empty")
		return
	}
	if len(message) > MaxMessageLength {
		Error(w, http.StatusRequestEntityTooLarge, "message too long")
		return
	}

	exchange := store.Exchange{
		RequestID: requestID,
		Username:  claims.Username,
		Provider:  s.provider.Name(),
		Message:   message,
	}
	start := time.Now()

	cacheKey := cache.GenerateCacheKey(s.provider.Name(), message)
	if s.opts.Cache != nil {
		if cached, ok := s.opts.Cache.Get(cacheKey); ok {
			s.logger.Info("cache hit", "key", cacheKey[:16], "request_id", requestID)
			s.add(ctx, s.cacheHits)
			span.SetAttributes(attribute.Bool("relay.cache_hit", true))

			exchange.Response = cached
			exchange.Cached = true
			s.record(ctx, exchange)
			s.add(ctx, s.requests, attribute.String("outcome", "cached"))
			JSON(w, http.StatusOK, backend.ChatResponse{Response: cached})
			return
		}
	}

	reply, err := s.provider.Reply(ctx, message)
	exchange.Duration = time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("provider call failed", "provider", s.provider.Name(), "request_id", requestID, "error", err)

		exchange.Error = err.Error()
		s.record(ctx, exchange)
		s.add(ctx, s.requests, attribute.String("outcome", "failed"))
		Error(w, http.StatusBadGateway, "assistant unavailable")
		return
	}

	if s.opts.Cache != nil {
		s.opts.Cache.Set(cacheKey, reply)
	}

	exchange.Response = reply
	s.record(ctx, exchange)
	s.add(ctx, s.requests, attribute.String("outcome", "answered"))
	JSON(w, http.StatusOK, backend.ChatResponse{Response: reply})
}

// History returns recent exchanges. Students see their own; teachers and
// admins may pass ?user= or see everyone.
func (s *Server) History(w http.ResponseWriter, r *http.Request) {
	if s.opts.DB == nil {
		Error(w, http.StatusNotFound, "history disabled")
		return
	}

	claims := ClaimsFromContext(r.Context())
	username := claims.Username
	if claims.HasRole(credentials.RoleTeacher) || claims.HasRole(credentials.RoleAdmin) {
		username = r.URL.Query().Get("user")
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			Error(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	exchanges, err := s.opts.DB.Recent(r.Context(), username, limit)
	if err != nil {
		s.logger.Error("failed to load history", "error", err)
		Error(w, http.StatusInternalServerError, "failed to load history")
		return
	}

	items := make([]HistoryItem, len(exchanges))
	for i, e := range exchanges {
		items[i] = HistoryItem{
			Username:   e.Username,
			Provider:   e.Provider,
			Message:    e.Message,
			Response:   e.Response,
			Cached:     e.Cached,
			Failed:     e.Error != "",
			DurationMS: e.Duration.Milliseconds(),
			CreatedAt:  e.CreatedAt,
		}
	}
	JSON(w, http.StatusOK, map[string]interface{}{"exchanges": items})
}

// HistoryItem is one exchange as returned by the history endpoint
type HistoryItem struct {
	Username   string    `json:"username"`
	Provider   string    `json:"provider"`
	Message    string    `json:"message"`
	Response   string    `json:"response,omitempty"`
	Cached     bool      `json:"cached"`
	Failed     bool      `json:"failed"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Server) record(ctx context.Context, e store.Exchange) {
	if s.opts.DB == nil {
		return
	}
	if _, err := s.opts.DB.Record(context.WithoutCancel(ctx), e); err != nil {
		s.logger.Warn("failed to save exchange", "request_id", e.RequestID, "error", err)
	}
}

func (s *Server) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter != nil {
		counter.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

// JSON writes a JSON response.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}
