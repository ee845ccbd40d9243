package server

import (
	"encoding/json"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telhawk-systems/resulthub/common/messaging"
	"github.com/telhawk-systems/resulthub/common/middleware"
)

// ConnectionCounter reports the number of live client connections.
type ConnectionCounter interface {
	Count() int
}

// Routes holds what the HTTP mux serves.
type Routes struct {
	WebSocketPath string
	WebSocket     http.Handler
	Broker        messaging.Client
	Connections   ConnectionCounter
}

// NewRouter constructs a ServeMux with the websocket endpoint, health checks
// and metrics registered.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()

	path := routes.WebSocketPath
	if path == "" {
		path = "/ws"
	}
	mux.Handle(path, routes.WebSocket)

	// Health endpoints
	mux.HandleFunc("/healthz", health)
	mux.HandleFunc("/readyz", ready(routes))

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}

func health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

// ready fails while the broker is unreachable: the hub cannot deliver
// anything without its subscription.
func ready(routes Routes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		broker := messaging.CheckClientHealth(r.Context(), routes.Broker)

		connections := 0
		if routes.Connections != nil {
			connections = routes.Connections.Count()
		}

		status, code := "ready", http.StatusOK
		if !broker.Healthy() {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"status":      status,
			"broker":      broker,
			"connections": connections,
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
