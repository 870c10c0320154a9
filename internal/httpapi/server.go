// Package httpapi exposes the search service over HTTP: the range query,
// a health probe, and the Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/feverup/marketplace/internal/event"
	"github.com/feverup/marketplace/internal/search"
)

const defaultShutdownGrace = 10 * time.Second

// Searcher answers the range query.
type Searcher interface {
	Search(ctx context.Context, from, to time.Time) ([]event.Event, error)
}

// Pinger reports backend liveness for the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server wires the chi router over the search composer.
type Server struct {
	httpServer *http.Server
	searcher   Searcher
	store      Pinger
	buckets    Pinger
	gatherer   prometheus.Gatherer
	shutdown   time.Duration
	logger     *zap.Logger
}

// NewServer builds the HTTP server. gatherer may be nil, which disables the
// /metrics endpoint; a non-positive shutdown falls back to the default
// drain grace.
func NewServer(addr string, searcher Searcher, store, buckets Pinger, gatherer prometheus.Gatherer, shutdown time.Duration, logger *zap.Logger) *Server {
	if shutdown <= 0 {
		shutdown = defaultShutdownGrace
	}
	s := &Server{
		searcher: searcher,
		store:    store,
		buckets:  buckets,
		gatherer: gatherer,
		shutdown: shutdown,
		logger:   logger.Named("http"),
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/search", s.handleSearch)
	r.Get("/healthz", s.handleHealth)
	if s.gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run serves until the context is cancelled, then drains in-flight
// requests.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdown)
	defer cancel()
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(shutdownCtx)
}

// eventDTO is the wire shape of one event in the search response. Civil
// date and time travel as separate fields, prices as plain numbers with
// two decimals.
type eventDTO struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	StartDate string      `json:"start_date"`
	StartTime string      `json:"start_time"`
	EndDate   string      `json:"end_date"`
	EndTime   string      `json:"end_time"`
	MinPrice  json.Number `json:"min_price"`
	MaxPrice  json.Number `json:"max_price"`
}

type eventsData struct {
	Events []eventDTO `json:"events"`
}

type envelope struct {
	Data eventsData `json:"data"`
}

func toDTO(e event.Event) eventDTO {
	return eventDTO{
		ID:        e.ID.String(),
		Title:     e.Title,
		StartDate: e.StartsAt.Format(event.DateLayout),
		StartTime: e.StartsAt.Format(event.TimeLayout),
		EndDate:   e.EndsAt.Format(event.DateLayout),
		EndTime:   e.EndsAt.Format(event.TimeLayout),
		MinPrice:  json.Number(e.MinPrice.StringFixed(2)),
		MaxPrice:  json.Number(e.MaxPrice.StringFixed(2)),
	}
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	from, err := event.ParseCivil(r.URL.Query().Get("starts_at"))
	if err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, nil)
		return
	}
	to, err := event.ParseCivil(r.URL.Query().Get("ends_at"))
	if err != nil {
		s.writeEnvelope(w, http.StatusBadRequest, nil)
		return
	}

	events, err := s.searcher.Search(r.Context(), from, to)
	if errors.Is(err, search.ErrInvalidRange) {
		s.writeEnvelope(w, http.StatusBadRequest, nil)
		return
	}
	if err != nil {
		s.logger.Error("search failed", zap.Error(err))
		s.writeEnvelope(w, http.StatusInternalServerError, nil)
		return
	}
	s.writeEnvelope(w, http.StatusOK, events)
}

func (s *Server) writeEnvelope(w http.ResponseWriter, status int, events []event.Event) {
	dtos := make([]eventDTO, 0, len(events))
	for _, e := range events {
		dtos = append(dtos, toDTO(e))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: eventsData{Events: dtos}}); err != nil {
		s.logger.Warn("writing response", zap.Error(err))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{"store": "ok", "cache": "ok"}
	code := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		status["store"] = err.Error()
		code = http.StatusServiceUnavailable
	}
	if err := s.buckets.Ping(ctx); err != nil {
		status["cache"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}
