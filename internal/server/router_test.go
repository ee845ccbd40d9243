package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telhawk-systems/resulthub/common/messaging"
	"github.com/telhawk-systems/resulthub/common/middleware"
)

type mockBroker struct {
	connected bool
	pingErr   error
}

func (m *mockBroker) Publish(ctx context.Context, channel string, data []byte) error { return nil }
func (m *mockBroker) Subscribe(channel string, handler messaging.MessageHandler) (messaging.Subscription, error) {
	return nil, nil
}
func (m *mockBroker) Close() error                   { return nil }
func (m *mockBroker) IsConnected() bool              { return m.connected }
func (m *mockBroker) Ping(ctx context.Context) error { return m.pingErr }

type fixedCount int

func (c fixedCount) Count() int { return int(c) }

func newTestRouter(broker *mockBroker) http.Handler {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return NewRouter(Routes{WebSocket: ws, Broker: broker, Connections: fixedCount(3)})
}

func TestRouter_Health(t *testing.T) {
	router := newTestRouter(&mockBroker{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "healthy")
	assert.NotEmpty(t, rr.Header().Get(middleware.HeaderRequestID))
}

func TestRouter_Ready(t *testing.T) {
	tests := []struct {
		name     string
		broker   *mockBroker
		wantCode int
		status   string
	}{
		{"broker up", &mockBroker{connected: true}, http.StatusOK, "ready"},
		{"broker disconnected", &mockBroker{}, http.StatusServiceUnavailable, "not_ready"},
		{"ping fails", &mockBroker{connected: true, pingErr: errors.New("timeout")}, http.StatusServiceUnavailable, "not_ready"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			newTestRouter(tt.broker).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
			assert.Equal(t, tt.status, body["status"])
			assert.Equal(t, float64(3), body["connections"])
		})
	}
}

func TestRouter_WebSocketAndMetrics(t *testing.T) {
	router := newTestRouter(&mockBroker{connected: true})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	assert.Equal(t, http.StatusTeapot, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestRouter_PropagatesRequestID(t *testing.T) {
	router := newTestRouter(&mockBroker{})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set(middleware.HeaderRequestID, "req-42")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, "req-42", rr.Header().Get(middleware.HeaderRequestID))
}
