package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/anicoll/froeling-integration/internal/pkg/coordinator"
	"github.com/anicoll/froeling-integration/internal/pkg/model"
	"github.com/anicoll/froeling-integration/pkg/hasher"
	"github.com/anicoll/froeling-integration/pkg/sockets"
)

type mockFroeling struct {
	SnapshotFunc func() *model.Snapshot
	RefreshFunc  func(ctx context.Context) error
	StatusFunc   func() coordinator.Status
}

func (m *mockFroeling) Snapshot() *model.Snapshot {
	if m.SnapshotFunc != nil {
		return m.SnapshotFunc()
	}
	return nil
}

func (m *mockFroeling) GetDeviceByKey(key string) (model.DeviceRecord, bool) {
	return m.Snapshot().Get(key)
}

func (m *mockFroeling) Refresh(ctx context.Context) error {
	if m.RefreshFunc != nil {
		return m.RefreshFunc(ctx)
	}
	return nil
}

func (m *mockFroeling) Status() coordinator.Status {
	if m.StatusFunc != nil {
		return m.StatusFunc()
	}
	return coordinator.Status{State: "idle"}
}

type mockHistory struct {
	GetPropertiesFunc func(ctx context.Context, slug string, from, to *time.Time) (model.Properties, error)
}

func (m *mockHistory) GetProperties(ctx context.Context, slug string, from, to *time.Time) (model.Properties, error) {
	return m.GetPropertiesFunc(ctx, slug, from, to)
}

var fetchedAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func testSnapshot() *model.Snapshot {
	return model.NewSnapshot("ctrl", fetchedAt, []model.DeviceRecord{
		{Key: "ctrl_outTemp", UniqueID: "ctrl_outTemp", IsParent: true, DisplayName: "Outside", Unit: lo.ToPtr("°C"), Type: model.DeviceTypeTemperature, State: model.NumberState(5.2)},
		{Key: "ctrl_B1_kessel_1", UniqueID: "ctrl_B1", IsParent: true, DisplayName: "Boiler", Type: model.DeviceTypeComponent, State: model.TextState("Heating")},
	}, nil)
}

func newTestHandler(t *testing.T, fs froelingService, history historyStore, opts Options) http.Handler {
	t.Helper()
	zap.ReplaceGlobals(zaptest.NewLogger(t))
	opts.Middlewares = append([]func(http.Handler) http.Handler{LoggingMiddleware}, opts.Middlewares...)
	return New(fs, history).Routes(opts)
}

func do(t *testing.T, h http.Handler, method, target string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestGetDevices(t *testing.T) {
	fs := &mockFroeling{}
	h := newTestHandler(t, fs, nil, Options{})

	rec := do(t, h, http.MethodGet, "/api/devices", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	fs.SnapshotFunc = testSnapshot
	rec = do(t, h, http.MethodGet, "/api/devices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := struct {
		ControllerName string `json:"controller_name"`
		Devices        []struct {
			Key   string `json:"key"`
			State any    `json:"state"`
		} `json:"devices"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ctrl", body.ControllerName)
	require.Len(t, body.Devices, 2)
	assert.Equal(t, "ctrl_outTemp", body.Devices[0].Key)
	assert.Equal(t, 5.2, body.Devices[0].State)
	assert.Equal(t, "Heating", body.Devices[1].State)
}

func TestGetDevice(t *testing.T) {
	h := newTestHandler(t, &mockFroeling{SnapshotFunc: testSnapshot}, nil, Options{})

	rec := do(t, h, http.MethodGet, "/api/devices/ctrl_B1_kessel_1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	record := model.DeviceRecord{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	assert.Equal(t, "Boiler", record.DisplayName)
	assert.Equal(t, model.TextState("Heating"), record.State)

	rec = do(t, h, http.MethodGet, "/api/devices/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "device not found: missing"}`, rec.Body.String())
}

func TestGetDeviceHistory(t *testing.T) {
	var gotFrom, gotTo *time.Time
	history := &mockHistory{
		GetPropertiesFunc: func(_ context.Context, slug string, from, to *time.Time) (model.Properties, error) {
			gotFrom, gotTo = from, to
			return model.Properties{{Slug: slug, Value: "5.2", TimeStamp: fetchedAt}}, nil
		},
	}
	h := newTestHandler(t, &mockFroeling{SnapshotFunc: testSnapshot}, history, Options{})

	rec := do(t, h, http.MethodGet, "/api/devices/ctrl_outTemp/history?from=2026-01-01T00:00:00Z&to=2026-01-02T00:00:00Z", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	props := model.Properties{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &props))
	require.Len(t, props, 1)
	assert.Equal(t, "ctrl_outTemp", props[0].Slug)
	require.NotNil(t, gotFrom)
	require.NotNil(t, gotTo)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *gotFrom)

	rec = do(t, h, http.MethodGet, "/api/devices/ctrl_outTemp/history?from=yesterday", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/devices/missing/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	history.GetPropertiesFunc = func(context.Context, string, *time.Time, *time.Time) (model.Properties, error) {
		return nil, errors.New("connection refused")
	}
	rec = do(t, h, http.MethodGet, "/api/devices/ctrl_outTemp/history", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestGetDeviceHistory_Limit(t *testing.T) {
	history := &mockHistory{
		GetPropertiesFunc: func(_ context.Context, slug string, _, _ *time.Time) (model.Properties, error) {
			return model.Properties{
				{Slug: slug, Value: "5.4", TimeStamp: fetchedAt},
				{Slug: slug, Value: "5.2", TimeStamp: fetchedAt.Add(-time.Minute)},
			}, nil
		},
	}
	h := newTestHandler(t, &mockFroeling{SnapshotFunc: testSnapshot}, history, Options{})

	rec := do(t, h, http.MethodGet, "/api/devices/ctrl_outTemp/history?limit=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	props := model.Properties{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &props))
	require.Len(t, props, 1)
	assert.Equal(t, "5.4", props[0].Value)

	for _, target := range []string{"?limit=0", "?limit=-1", "?limit=many", "?to=2026-13-01"} {
		rec = do(t, h, http.MethodGet, "/api/devices/ctrl_outTemp/history"+target, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestGetDeviceHistory_NoDatabase(t *testing.T) {
	h := newTestHandler(t, &mockFroeling{SnapshotFunc: testSnapshot}, nil, Options{})
	rec := do(t, h, http.MethodGet, "/api/devices/ctrl_outTemp/history", nil)
	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestPostRefresh(t *testing.T) {
	tests := map[string]struct {
		err  error
		want int
	}{
		"success":     {err: nil, want: http.StatusOK},
		"in progress": {err: coordinator.ErrRefreshInProgress, want: http.StatusConflict},
		"failed":      {err: coordinator.ErrUpdateFailed, want: http.StatusBadGateway},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			fs := &mockFroeling{RefreshFunc: func(context.Context) error { return tt.err }}
			h := newTestHandler(t, fs, nil, Options{})
			rec := do(t, h, http.MethodPost, "/api/refresh", nil)
			assert.Equal(t, tt.want, rec.Code)
		})
	}

	h := newTestHandler(t, &mockFroeling{}, nil, Options{})
	rec := do(t, h, http.MethodGet, "/api/refresh", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestGetStatus(t *testing.T) {
	fs := &mockFroeling{StatusFunc: func() coordinator.Status {
		return coordinator.Status{State: "fetching", ConsecutiveFailures: 2, LastError: "update failed: boom"}
	}}
	h := newTestHandler(t, fs, nil, Options{})
	rec := do(t, h, http.MethodGet, "/api/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"state":"fetching","last_error":"update failed: boom","consecutive_failures":2,"devices":0}`, rec.Body.String())
}

func TestAuthMiddleware(t *testing.T) {
	hash, err := hasher.HashPassword([]byte("s3cret"))
	require.NoError(t, err)
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("metrics"))
	})
	h := newTestHandler(t, &mockFroeling{}, nil, Options{
		Metrics:     metrics,
		Middlewares: []func(http.Handler) http.Handler{AuthMiddleware(hash)},
	})

	rec := do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/status", http.Header{"Authorization": {"Bearer wrong"}})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/status", http.Header{"Authorization": {"Bearer s3cret"}})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/api/status?token=s3cret", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "metrics", rec.Body.String())
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	h := newTestHandler(t, &mockFroeling{}, nil, Options{
		Middlewares: []func(http.Handler) http.Handler{AuthMiddleware("")},
	})
	rec := do(t, h, http.MethodGet, "/api/status", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebsocketRoute(t *testing.T) {
	hub := sockets.New(sockets.OnConnected(func(c sockets.Connection) {
		_ = c.Send(sockets.Msg{Body: []byte(`{"kind":"hello"}`)})
	}))
	defer hub.Close()
	srv := httptest.NewServer(newTestHandler(t, &mockFroeling{}, nil, Options{Hub: hub}))
	defer srv.Close()

	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, body, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"hello"}`, string(body))
}

func newValidatedHandler(t *testing.T, fs froelingService, history historyStore, opts Options) http.Handler {
	t.Helper()
	doc, err := LoadAPIDoc()
	require.NoError(t, err)
	validate, err := ValidationMiddleware(doc)
	require.NoError(t, err)
	opts.Middlewares = append(opts.Middlewares, validate)
	return newTestHandler(t, fs, history, opts)
}

func TestValidationMiddleware(t *testing.T) {
	var calls int
	history := &mockHistory{
		GetPropertiesFunc: func(_ context.Context, slug string, _, _ *time.Time) (model.Properties, error) {
			calls++
			return model.Properties{{Slug: slug, Value: "5.2", TimeStamp: fetchedAt}}, nil
		},
	}
	h := newValidatedHandler(t, &mockFroeling{SnapshotFunc: testSnapshot}, history, Options{})

	tests := map[string]struct {
		method string
		target string
		want   int
	}{
		"valid history":       {method: http.MethodGet, target: "/api/devices/ctrl_outTemp/history?limit=5&from=2026-01-01T00:00:00Z", want: http.StatusOK},
		"limit not a number":  {method: http.MethodGet, target: "/api/devices/ctrl_outTemp/history?limit=many", want: http.StatusBadRequest},
		"limit below minimum": {method: http.MethodGet, target: "/api/devices/ctrl_outTemp/history?limit=0", want: http.StatusBadRequest},
		"limit above maximum": {method: http.MethodGet, target: "/api/devices/ctrl_outTemp/history?limit=10001", want: http.StatusBadRequest},
		"device":              {method: http.MethodGet, target: "/api/devices/ctrl_outTemp", want: http.StatusOK},
		"status":              {method: http.MethodGet, target: "/api/status", want: http.StatusOK},
		"undescribed path":    {method: http.MethodGet, target: "/api/unknown", want: http.StatusNotFound},
		"wrong method":        {method: http.MethodGet, target: "/api/refresh", want: http.StatusMethodNotAllowed},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			rec := do(t, h, tt.method, tt.target, nil)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 1, calls)
}

func TestValidationMiddleware_WebsocketPassesThrough(t *testing.T) {
	hub := sockets.New(
		sockets.WithCheckOrigin(OriginChecker([]string{"http://dashboard.local"})),
		sockets.OnConnected(func(c sockets.Connection) {
			_ = c.Send(sockets.Msg{Body: []byte(`{"kind":"hello"}`)})
		}),
	)
	defer hub.Close()
	srv := httptest.NewServer(newValidatedHandler(t, &mockFroeling{}, nil, Options{Hub: hub}))
	defer srv.Close()

	header := http.Header{"Origin": {"http://dashboard.local"}}
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, body, err := ws.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"hello"}`, string(body))
}

func TestOriginChecker(t *testing.T) {
	tests := map[string]struct {
		allowed []string
		origin  string
		want    bool
	}{
		"no origin header": {origin: "", want: true},
		"same host":        {origin: "http://froeling.local:8000", want: true},
		"listed origin":    {allowed: []string{"http://dashboard.local"}, origin: "http://Dashboard.local", want: true},
		"unlisted origin":  {allowed: []string{"http://dashboard.local"}, origin: "http://evil.local", want: false},
		"wildcard":         {allowed: []string{"*"}, origin: "http://anything.local", want: true},
		"nothing allowed":  {origin: "http://dashboard.local", want: false},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://froeling.local:8000/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, OriginChecker(tt.allowed)(req))
		})
	}
}
