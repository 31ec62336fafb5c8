// Package httpapi exposes the service over HTTP: matchmaking, the match
// lifecycle, payments, and the operational endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"go.uber.org/zap"

	"tapduel/auth"
	"tapduel/match"
	"tapduel/matchqueue"
	"tapduel/payment"
	"tapduel/timing"
)

// Server bundles the services behind the router.
type Server struct {
	auth     *auth.Service
	orch     *match.Orchestrator
	queue    *matchqueue.Queue
	payments *payment.Service
	clock    timing.Clock
	log      *zap.Logger
}

// New wires the HTTP layer.
func New(authSvc *auth.Service, orch *match.Orchestrator, queue *matchqueue.Queue,
	payments *payment.Service, clock timing.Clock, log *zap.Logger) *Server {
	return &Server{
		auth:     authSvc,
		orch:     orch,
		queue:    queue,
		payments: payments,
		clock:    clock,
		log:      log,
	}
}

// Router builds the full route tree. metricsHandler serves /metrics; healthz
// reports readiness of the backing stores.
func (s *Server) Router(metricsHandler http.Handler, healthz func(ctx context.Context) error) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := healthz(req.Context()); err != nil {
			s.writeError(w, http.StatusServiceUnavailable, "unhealthy", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}

	r.Post("/api/auth/login", s.handleLogin)

	// The polling and tap endpoints take the brunt of client traffic.
	poll := httprate.LimitByIP(30, time.Second)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Post("/api/match/enqueue", s.handleEnqueue)
		r.Post("/api/match/cancel", s.handleCancelQueue)
		r.Post("/api/match/confirm-stake", s.handleConfirmStake)
		r.Post("/api/match/ready", s.handleReady)
		r.With(poll).Get("/api/match/state/{matchID}", s.handleState)
		r.With(poll).Post("/api/match/tap", s.handleTap)
		r.Get("/api/match/result/{matchID}", s.handleResult)
		r.Post("/api/match/heartbeat", s.handleHeartbeat)
		r.Post("/api/match/claim", s.handleClaim)
		r.Post("/api/match/refund", s.handleRefund)
		r.Get("/api/matches/history", s.handleHistory)

		r.Post("/api/initiate-payment", s.handleInitiatePayment)
		r.Post("/api/confirm-payment", s.handleConfirmPayment)
		r.Get("/api/payment/{reference}", s.handleGetPayment)
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
