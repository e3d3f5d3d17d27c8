// Package httpapi serves the admin endpoints of goregistryd.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	goRegistry "github.com/MrEthical07/goRegistry"
	"github.com/MrEthical07/goRegistry/service"
	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = 5 * time.Second
	maxBodyBytes           = 1 << 20
)

type registryAPI interface {
	Health() goRegistry.Health
	Stats(ctx context.Context) (goRegistry.Stats, error)
}

type serviceAPI interface {
	Save(ctx context.Context, svc service.Service) (service.Service, error)
	Delete(ctx context.Context, svc service.Service) (bool, error)
	FindByID(ctx context.Context, id int64) (service.Service, bool)
	LoadAllStrict(ctx context.Context) ([]service.Service, error)
}

// Status is the outcome field of an error or acknowledgement response.
type Status string

const (
	StatusOK    Status = "OK"
	StatusError Status = "error"
)

// Response is the body of acknowledgements and errors.
type Response struct {
	Status Status `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Server is the admin HTTP server.
type Server struct {
	registry   registryAPI
	services   serviceAPI
	metrics    http.Handler
	log        *logrus.Entry
	addr       string
	httpServer *http.Server
}

// NewServer creates a server listening on addr. metrics may be nil.
func NewServer(addr string, reg registryAPI, services serviceAPI, metrics http.Handler, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{
		registry: reg,
		services: services,
		metrics:  metrics,
		log:      log.WithField("component", "http"),
		addr:     addr,
	}
}

// Router builds the chi router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.metrics)
	}

	r.Route("/services", func(r chi.Router) {
		r.Get("/", s.handleListServices)
		r.Post("/", s.handleSaveService)
		r.Get("/match", s.handleMatchService)
		r.Get("/{id}", s.handleGetService)
		r.Delete("/{id}", s.handleDeleteService)
	})

	return r
}

// Start begins serving in the background.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: time.Second,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("http server error")
		}
	}()

	s.log.WithField("addr", s.addr).Info("http server started")
	return nil
}

// Stop shuts the server down, waiting up to five seconds for open requests.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Warn("error encoding response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, goRegistry.ErrNotReady):
		status = http.StatusServiceUnavailable
	case errors.Is(err, service.ErrUnknownKind):
		status = http.StatusBadRequest
	}
	s.writeJSON(w, status, Response{Status: StatusError, Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	h := s.registry.Health()
	status := http.StatusOK
	if !h.Ready {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, h)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

// encodeServices renders services through the tagged codec so the kind field is kept.
func encodeServices(services []service.Service) ([]json.RawMessage, error) {
	out := make([]json.RawMessage, 0, len(services))
	for _, svc := range services {
		data, err := service.Marshal(svc)
		if err != nil {
			return nil, err
		}
		out = append(out, data)
	}
	return out, nil
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.services.LoadAllStrict(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	out, err := encodeServices(services)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSaveService(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Error: "failed to read body"})
		return
	}
	svc, err := service.Unmarshal(body)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Error: err.Error()})
		return
	}

	saved, err := s.services.Save(r.Context(), svc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	data, err := service.Marshal(saved)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, json.RawMessage(data))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (service.Service, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 0 {
		s.writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Error: "invalid service id"})
		return nil, false
	}
	svc, ok := s.services.FindByID(r.Context(), id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, Response{Status: StatusError, Error: "service not found"})
		return nil, false
	}
	return svc, true
}

func (s *Server) handleGetService(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	data, err := service.Marshal(svc)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, json.RawMessage(data))
}

func (s *Server) handleDeleteService(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if _, err := s.services.Delete(r.Context(), svc); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, Response{Status: StatusOK})
}

// handleMatchService returns the enabled service with the lowest evaluation
// order whose pattern covers the url query parameter.
func (s *Server) handleMatchService(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("url")
	if target == "" {
		s.writeJSON(w, http.StatusBadRequest, Response{Status: StatusError, Error: "missing url"})
		return
	}

	services, err := s.services.LoadAllStrict(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	sort.SliceStable(services, func(i, j int) bool {
		return services[i].Common().EvaluationOrder < services[j].Common().EvaluationOrder
	})
	for _, svc := range services {
		if svc.Common().Enabled && svc.Matches(target) {
			data, err := service.Marshal(svc)
			if err != nil {
				s.writeError(w, err)
				return
			}
			s.writeJSON(w, http.StatusOK, json.RawMessage(data))
			return
		}
	}
	s.writeJSON(w, http.StatusNotFound, Response{Status: StatusError, Error: "no service matches"})
}
