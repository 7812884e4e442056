package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/anicoll/froeling-integration/internal/pkg/coordinator"
	"github.com/anicoll/froeling-integration/internal/pkg/model"
)

var errUnauthorized = errors.New("unauthorized")

type froelingService interface {
	Snapshot() *model.Snapshot
	GetDeviceByKey(key string) (model.DeviceRecord, bool)
	Refresh(ctx context.Context) error
	Status() coordinator.Status
}

type historyStore interface {
	GetProperties(ctx context.Context, slug string, from, to *time.Time) (model.Properties, error)
}

type server struct {
	froeling froelingService
	history  historyStore
	logger   *zap.Logger
}

// New returns the API handlers. history may be nil when no database is
// configured.
func New(fs froelingService, history historyStore) *server {
	return &server{froeling: fs, history: history, logger: zap.L()}
}

type Options struct {
	// Hub serves the websocket event stream on /ws.
	Hub http.Handler
	// Metrics serves /metrics without authentication.
	Metrics     http.Handler
	Middlewares []func(http.Handler) http.Handler
}

// Routes builds the HTTP API. Middlewares apply to every route but /metrics,
// the first one being the outermost.
func (s *server) Routes(opts Options) http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("GET /api/devices", s.GetDevices)
	api.HandleFunc("GET /api/devices/{key}", s.GetDevice)
	api.HandleFunc("GET /api/devices/{key}/history", s.GetDeviceHistory)
	api.HandleFunc("POST /api/refresh", s.PostRefresh)
	api.HandleFunc("GET /api/status", s.GetStatus)
	if opts.Hub != nil {
		api.Handle("GET /ws", opts.Hub)
	}

	var handler http.Handler = api
	for i := len(opts.Middlewares) - 1; i >= 0; i-- {
		handler = opts.Middlewares[i](handler)
	}

	root := http.NewServeMux()
	root.Handle("/", handler)
	if opts.Metrics != nil {
		root.Handle("GET /metrics", opts.Metrics)
	}
	return root
}

func (s *server) GetDevices(w http.ResponseWriter, r *http.Request) {
	snapshot := s.froeling.Snapshot()
	if snapshot == nil {
		handleError(w, http.StatusServiceUnavailable, errors.New("no snapshot available yet"))
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *server) GetDevice(w http.ResponseWriter, r *http.Request) {
	key, err := bindKey(r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	record, ok := s.froeling.GetDeviceByKey(key)
	if !ok {
		handleError(w, http.StatusNotFound, errors.New("device not found: "+key))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (s *server) GetDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		handleError(w, http.StatusNotImplemented, errors.New("history requires a database"))
		return
	}
	key, err := bindKey(r)
	if err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}
	if _, ok := s.froeling.GetDeviceByKey(key); !ok {
		handleError(w, http.StatusNotFound, errors.New("device not found: "+key))
		return
	}

	var params historyParams
	if err := params.bind(r); err != nil {
		handleError(w, http.StatusBadRequest, err)
		return
	}

	properties, err := s.history.GetProperties(r.Context(), key, params.From, params.To)
	if err != nil {
		s.logger.Error("failed to read history", zap.Error(err), zap.String("key", key))
		handleError(w, http.StatusInternalServerError, err)
		return
	}
	if params.Limit != nil && len(properties) > *params.Limit {
		properties = properties[:*params.Limit]
	}
	writeJSON(w, http.StatusOK, properties)
}

func (s *server) PostRefresh(w http.ResponseWriter, r *http.Request) {
	err := s.froeling.Refresh(r.Context())
	switch {
	case errors.Is(err, coordinator.ErrRefreshInProgress):
		handleError(w, http.StatusConflict, err)
		return
	case err != nil:
		handleError(w, http.StatusBadGateway, err)
		return
	}
	s.logger.Info("manual refresh completed")
	writeJSON(w, http.StatusOK, s.froeling.Status())
}

func (s *server) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.froeling.Status())
}

type historyParams struct {
	From  *time.Time
	To    *time.Time
	Limit *int
}

func (p *historyParams) bind(r *http.Request) error {
	query := r.URL.Query()
	if err := runtime.BindQueryParameter("form", true, false, "from", query, &p.From); err != nil {
		return fmt.Errorf("invalid from: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "to", query, &p.To); err != nil {
		return fmt.Errorf("invalid to: %w", err)
	}
	if err := runtime.BindQueryParameter("form", true, false, "limit", query, &p.Limit); err != nil {
		return fmt.Errorf("invalid limit: %w", err)
	}
	if p.Limit != nil && *p.Limit < 1 {
		return errors.New("invalid limit: must be positive")
	}
	return nil
}

func bindKey(r *http.Request) (string, error) {
	var key string
	err := runtime.BindStyledParameterWithOptions("simple", "key", r.PathValue("key"), &key, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		return "", fmt.Errorf("invalid key: %w", err)
	}
	return key, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func handleError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Error("failed to encode response", zap.Error(err))
	}
}
