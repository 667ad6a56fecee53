package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"gym-membership/internal/config"
	"gym-membership/internal/usecase"
)

// Limiter decides whether a keyed caller may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// DevPayer completes a checkout session without a real gateway.
type DevPayer interface {
	Pay(sessionID string, amount int64, currency string) error
}

// Server exposes checkout, the two settlement entry points, and purchase history.
type Server struct {
	cfg        config.HTTPConfig
	checkout   usecase.CheckoutUseCase
	settlement usecase.SettlementUseCase
	auth       *AuthManager
	limiter    Limiter
	devPayer   DevPayer
	dev        bool
	log        *zerolog.Logger
	server     *http.Server
}

func NewServer(
	cfg config.HTTPConfig,
	checkout usecase.CheckoutUseCase,
	settlement usecase.SettlementUseCase,
	auth *AuthManager,
	limiter Limiter,
	dev bool,
	logger *zerolog.Logger,
) *Server {
	return &Server{
		cfg:        cfg,
		checkout:   checkout,
		settlement: settlement,
		auth:       auth,
		limiter:    limiter,
		dev:        dev,
		log:        logger,
	}
}

// WithDevPayer enables GET /dev/pay/{sessionID}; only wired in dev mode.
func (s *Server) WithDevPayer(p DevPayer) *Server {
	s.devPayer = p
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	timeout := s.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(TraceID(), RequestLog(s.log), Recover(s.log), Timeout(timeout))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments/webhook", s.handleWebhook)
		r.Get("/payments/verify", s.handleVerify)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.RequireMember)
			r.Post("/checkout", s.handleCheckout)
			r.Get("/purchases", s.handleListPurchases)
		})
	})

	if s.devPayer != nil {
		r.Get("/dev/pay/{sessionID}", s.handleDevPay)
	}

	return otelhttp.NewHandler(r, "gym-membership.http")
}

func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.Routes(),
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
	}
	s.log.Info().Int("port", s.cfg.Port).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
