package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"studiobook/internal/availability"
	"studiobook/internal/coordinator"
	"studiobook/internal/exceptions"
	"studiobook/internal/schedule"
	"studiobook/internal/settings"
)

// ReportWriter renders the monthly spreadsheet.
type ReportWriter interface {
	Export(ctx context.Context, year int, month time.Month, w io.Writer) error
}

// Checker is one readiness probe.
type Checker func(ctx context.Context) error

type Deps struct {
	Resolver    *availability.Resolver
	Coordinator *coordinator.Coordinator
	Schedule    *schedule.Store
	Exceptions  *exceptions.Store
	Settings    *settings.Store
	Reports     ReportWriter
	Ready       map[string]Checker
}

type Options struct {
	Port           int
	RateLimitRPS   float64
	RateLimitBurst int
	AdminAPIKeys   []string
}

// HTTPServer is the JSON adapter over the availability core.
type HTTPServer struct {
	deps   Deps
	server *http.Server
	logger zerolog.Logger
}

func NewHTTPServer(opts Options, deps Deps, logger zerolog.Logger) *HTTPServer {
	s := &HTTPServer{
		deps:   deps,
		logger: logger.With().Str("component", "api").Logger(),
	}

	r := mux.NewRouter()
	r.Use(withRequestID, withAccessLog(s.logger))

	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	if opts.RateLimitRPS > 0 {
		api.Use(newClientLimiter(opts.RateLimitRPS, opts.RateLimitBurst).middleware)
	}
	api.Use(withBodyLimit)

	api.HandleFunc("/availability/{date}", s.handleAvailability).Methods(http.MethodGet)
	api.HandleFunc("/availability/{date}/verify", s.handleVerify).Methods(http.MethodPost)
	api.HandleFunc("/calendar/{year:[0-9]{4}}/{month:[0-9]{1,2}}", s.handleCalendar).Methods(http.MethodGet)

	api.HandleFunc("/bookings", s.handleCreateBooking).Methods(http.MethodPost)
	api.HandleFunc("/bookings/{id}", s.handleGetBooking).Methods(http.MethodGet)
	api.HandleFunc("/bookings/{id}/cancel", s.handleCancelBooking).Methods(http.MethodPost)

	admin := api.PathPrefix("/admin").Subrouter()
	if len(opts.AdminAPIKeys) > 0 {
		admin.Use(requireAPIKey(opts.AdminAPIKeys))
	} else {
		s.logger.Warn().Msg("admin routes are not protected, set http.admin_api_keys")
	}
	admin.HandleFunc("/days/{date}", s.handleDayView).Methods(http.MethodGet)
	admin.HandleFunc("/days/{date}/slots/{slot}/toggle", s.handleToggleSlot).Methods(http.MethodPost)
	admin.HandleFunc("/days/{date}/slots/{slot}/deactivate", s.handleDeactivateSlot).Methods(http.MethodPost)
	admin.HandleFunc("/days/{date}/block", s.handleBlockDay).Methods(http.MethodPost)
	admin.HandleFunc("/days/{date}/block", s.handleUnblockDay).Methods(http.MethodDelete)
	admin.HandleFunc("/exceptions", s.handleListExceptions).Methods(http.MethodGet)
	admin.HandleFunc("/exceptions/{id}/cancel", s.handleCancelException).Methods(http.MethodPost)
	admin.HandleFunc("/bookings/{id}/confirm", s.handleConfirmBooking).Methods(http.MethodPost)
	admin.HandleFunc("/bookings/{id}", s.handleDeleteBooking).Methods(http.MethodDelete)
	admin.HandleFunc("/periods", s.handlePeriod).Methods(http.MethodPost)
	admin.HandleFunc("/presets", s.handlePreset).Methods(http.MethodPost)
	admin.HandleFunc("/emergency-close", s.handleEmergencyClose).Methods(http.MethodPost)
	admin.HandleFunc("/weekly", s.handleListWeekly).Methods(http.MethodGet)
	admin.HandleFunc("/weekly/{day:[0-6]}", s.handlePutWeekly).Methods(http.MethodPut)
	admin.HandleFunc("/display-config", s.handleGetDisplayConfig).Methods(http.MethodGet)
	admin.HandleFunc("/display-config", s.handlePutDisplayConfig).Methods(http.MethodPut)
	admin.HandleFunc("/stats/{year:[0-9]{4}}/{month:[0-9]{1,2}}", s.handleStats).Methods(http.MethodGet)
	admin.HandleFunc("/reports/{year:[0-9]{4}}/{month:[0-9]{1,2}}", s.handleReport).Methods(http.MethodGet)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}
	return s
}

// Handler exposes the router, mainly for tests.
func (s *HTTPServer) Handler() http.Handler { return s.server.Handler }

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(ctxShutdown)
	}()

	s.logger.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()
	for name, check := range s.deps.Ready {
		if err := check(ctx); err != nil {
			s.logger.Warn().Err(err).Str("check", name).Msg("not ready")
			http.Error(w, name+" not ready", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
