package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"ledger/internal/log"
	"ledger/internal/middleware/ratelimit"
	"ledger/internal/middleware/security"
	"ledger/internal/middleware/trace"
	"ledger/internal/services"
)

// Config holds the server settings that do not come from the service layer.
type Config struct {
	Addr               string
	RateLimitPerMinute int
	Logger             *log.Logger
	// Ready backs /readyz; nil means always ready.
	Ready func(context.Context) error
}

type Server struct {
	http.Server
	svc     *services.RecurringService
	ready   func(context.Context) error
	logger  *log.Logger
	events  *log.StructuredLogger
	limiter *ratelimit.Limiter
	tracer  *trace.Middleware
	clients *security.ClientIPResolver
	started time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(cfg Config, svc *services.RecurringService) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentHTTP)
	}
	clients := security.NewClientIPResolver()

	s := &Server{
		svc:     svc,
		ready:   cfg.Ready,
		logger:  logger,
		events:  log.NewStructuredLogger(logger),
		limiter: ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute}),
		tracer:  trace.NewMiddleware(logger, clients.ClientIP),
		clients: clients,
		started: time.Now(),
	}

	mux := http.NewServeMux()
	limited := s.limiter.Middleware(clients.ClientIP, s.writeRateLimited)
	handle := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, h) }
	mutating := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, limited(h)) }

	handle("GET /healthz", s.handleHealth)
	handle("GET /readyz", s.handleReady)
	handle("GET /metrics", s.handleMetrics)

	mutating("POST /api/recurring/validate", s.handleValidate)
	mutating("POST /api/recurring", s.handleCreate)
	handle("GET /api/recurring/due", s.handleListDue)
	handle("GET /api/recurring/{id}", s.handleGet)
	mutating("PATCH /api/recurring/{id}", s.handleUpdate)
	mutating("DELETE /api/recurring/{id}", s.handleDelete)
	handle("GET /api/recurring/{id}/preview", s.handlePreview)
	mutating("POST /api/recurring/{id}/execute", s.handleExecute)
	mutating("POST /api/recurring/{id}/reset", s.handleReset)
	handle("GET /api/schedule", s.handleSchedule)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.tracer.Middleware(headers.Middleware(mux)),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown stops the rate limiter and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func (s *Server) writeRateLimited(w http.ResponseWriter, r *http.Request) {
	log.FromContext(r.Context()).WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.clients.ClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, codeRateLimited, "rate limit exceeded, try again later").Write(w)
}
