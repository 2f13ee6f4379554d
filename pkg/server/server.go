// Package server exposes the gateway over HTTP: entity query/CRUD with the
// pagination envelope, polling control, stats, and the SSE event stream.
package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/psagate/psa-gateway/pkg/events"
	"github.com/psagate/psa-gateway/pkg/gateway"
	"github.com/psagate/psa-gateway/pkg/pagination"
	"github.com/psagate/psa-gateway/pkg/polling"
	"github.com/psagate/psa-gateway/pkg/psa"
)

// Credential headers expected on every /api request.
const (
	HeaderCompany    = "X-PSA-Company"
	HeaderPublicKey  = "X-PSA-Public-Key"
	HeaderPrivateKey = "X-PSA-Private-Key"
	HeaderEndpoint   = "X-PSA-Endpoint"
)

// Config holds server tunables.
type Config struct {
	HeartbeatInterval   time.Duration
	DefaultPollInterval time.Duration
}

// Server routes gateway traffic.
type Server struct {
	svc     *gateway.Service
	manager *polling.Manager
	hub     *events.Hub
	cfg     Config
	logger  zerolog.Logger
	router  *mux.Router
}

// New builds the router.
func New(svc *gateway.Service, manager *polling.Manager, hub *events.Hub, cfg Config, logger zerolog.Logger) *Server {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.DefaultPollInterval <= 0 {
		cfg.DefaultPollInterval = polling.DefaultInterval
	}

	s := &Server{
		svc:     svc,
		manager: manager,
		hub:     hub,
		cfg:     cfg,
		logger:  logger,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)
	r.HandleFunc("/events/{id}/subscription", s.handleUpdateSubscription).Methods(http.MethodPut)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	api.HandleFunc("/polling", s.handleStartPolling).Methods(http.MethodPost)
	api.HandleFunc("/polling/{id}", s.handleStopPolling).Methods(http.MethodDelete)
	api.HandleFunc("/{entity}", s.handleQuery).Methods(http.MethodGet)
	api.HandleFunc("/{entity}", s.handleCreate).Methods(http.MethodPost)
	api.HandleFunc("/{entity}/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/{entity}/{id}", s.handleUpdate).Methods(http.MethodPatch, http.MethodPut)
	api.HandleFunc("/{entity}/{id}", s.handleDelete).Methods(http.MethodDelete)

	s.router = r
	return s
}

// Handler returns the HTTP handler for the gateway.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"clients":         s.svc.ClientCount(),
		"pollingSessions": s.manager.Count(),
		"sessions":        s.manager.Stats(),
		"subscribers":     s.hub.SubscriberCount(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	creds, err := credentialsFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	entity := mux.Vars(r)["entity"]
	q := r.URL.Query()
	filter := q.Get("filter")
	pageSize := intParam(q.Get("pageSize"), 25)
	page := intParam(q.Get("page"), 1)

	if q.Get("all") == "true" {
		items, err := s.svc.FetchAll(r.Context(), creds, entity, filter, pageSize, gateway.DefaultBatchConfig())
		if err != nil {
			s.writeError(w, err)
			return
		}
		pg := pagination.Page{Items: items, TotalItems: len(items), Number: 1, Size: len(items) + 1}
		s.writeEnvelope(w, pagination.NewEnvelope(pg, pagination.Evaluate(pg)))
		return
	}

	env, err := s.svc.Query(r.Context(), creds, entity, filter, pageSize, page)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeEnvelope(w, env)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	creds, err := credentialsFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	vars := mux.Vars(r)
	record, err := s.svc.Get(r.Context(), creds, vars["entity"], vars["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, record)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	creds, err := credentialsFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	record, err := s.svc.Create(r.Context(), creds, mux.Vars(r)["entity"], body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRaw(w, http.StatusCreated, record)
}

func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	creds, err := credentialsFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	vars := mux.Vars(r)
	record, err := s.svc.Update(r.Context(), creds, vars["entity"], vars["id"], body)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeRaw(w, http.StatusOK, record)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	creds, err := credentialsFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	vars := mux.Vars(r)
	if err := s.svc.Delete(r.Context(), creds, vars["entity"], vars["id"]); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
}

// startPollingRequest is the polling control wire shape.
type startPollingRequest struct {
	Entity           string `json:"entity"`
	Filter           string `json:"filter"`
	PageSize         int    `json:"pageSize"`
	IntervalMs       int    `json:"intervalMs"`
	BreakerThreshold int    `json:"breakerThreshold"`
	CooldownMs       int    `json:"cooldownMs"`
}

func (s *Server) handleStartPolling(w http.ResponseWriter, r *http.Request) {
	creds, err := credentialsFromRequest(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	var req startPollingRequest
	if err := gojson.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid polling request body", http.StatusBadRequest)
		return
	}

	cfg := polling.Config{
		Entity:           req.Entity,
		Filter:           req.Filter,
		PageSize:         req.PageSize,
		Interval:         time.Duration(req.IntervalMs) * time.Millisecond,
		BreakerThreshold: req.BreakerThreshold,
		Cooldown:         time.Duration(req.CooldownMs) * time.Millisecond,
	}
	if cfg.Interval <= 0 {
		cfg.Interval = s.cfg.DefaultPollInterval
	}

	pollID, err := s.manager.Start(r.Context(), creds, cfg)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"pollId": pollID})
}

func (s *Server) handleStopPolling(w http.ResponseWriter, r *http.Request) {
	stopped := s.manager.Stop(mux.Vars(r)["id"])
	status := http.StatusOK
	if !stopped {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"stopped": stopped})
}

// credentialsFromRequest extracts the tenant credential tuple from headers.
func credentialsFromRequest(r *http.Request) (psa.TenantCredentials, error) {
	creds := psa.TenantCredentials{
		CompanyID:  r.Header.Get(HeaderCompany),
		PublicKey:  r.Header.Get(HeaderPublicKey),
		PrivateKey: r.Header.Get(HeaderPrivateKey),
		Endpoint:   r.Header.Get(HeaderEndpoint),
	}
	if err := creds.Validate(); err != nil {
		return psa.TenantCredentials{}, err
	}
	return creds, nil
}

// writeError maps gateway errors onto HTTP statuses: configuration errors
// are the caller's fault, upstream errors pass their status through.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var cfgErr *psa.ConfigurationError
	if errors.As(err, &cfgErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": cfgErr.Error()})
		return
	}
	writeJSON(w, psa.StatusCode(err), map[string]any{"error": err.Error()})
}

func (s *Server) writeEnvelope(w http.ResponseWriter, env *pagination.Envelope) {
	data, err := env.Encode()
	if err != nil {
		http.Error(w, "encode envelope", http.StatusInternalServerError)
		return
	}
	writeRaw(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = gojson.NewEncoder(w).Encode(v)
}

func writeRaw(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func intParam(raw string, fallback int) int {
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
