package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/cuemby/burrow/pkg/flow"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/reconciler"
)

// Version is reported by /health
var Version = "dev"

// LoopStatus is what the readiness check needs from the reconciler
type LoopStatus interface {
	State() reconciler.State
	LastCycle() reconciler.CycleResult
}

// FlowDumper lists the flows currently programmed
type FlowDumper interface {
	Dump() []flow.Flow
}

// HealthServer provides HTTP health check endpoints
type HealthServer struct {
	loop   LoopStatus
	flows  FlowDumper
	mux    *http.ServeMux
	server *http.Server
}

// NewHealthServer creates a new health check HTTP server. flows may be nil.
func NewHealthServer(loop LoopStatus, flows FlowDumper) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		loop:  loop,
		flows: flows,
		mux:   mux,
	}

	// Register endpoints
	mux.HandleFunc("/health", hs.healthHandler)
	mux.HandleFunc("/ready", hs.readyHandler)
	mux.HandleFunc("/components", metrics.HealthHandler())
	mux.HandleFunc("/flows", hs.flowsHandler)
	mux.Handle("/metrics", metrics.Handler())

	hs.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return hs
}

// Start listens on addr and serves until Shutdown. It returns nil once the
// server is shut down, including when Shutdown ran first.
func (hs *HealthServer) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return hs.Serve(ln)
}

// Serve serves on an existing listener until Shutdown
func (hs *HealthServer) Serve(ln net.Listener) error {
	err := hs.server.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops the server. Safe to call before or concurrently with Start.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	return hs.server.Shutdown(ctx)
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version,omitempty"`
}

// ReadyResponse represents the readiness check response
type ReadyResponse struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
	Message   string            `json:"message,omitempty"`
}

// healthHandler implements the /health endpoint
// This is a simple liveness check - returns 200 if the process is alive
func (hs *HealthServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   Version,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(response)
}

// readyHandler implements the /ready endpoint
// Ready means the dataplane is up and the last cycle completed cleanly
func (hs *HealthServer) readyHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	checks := make(map[string]string)
	ready := true
	var message string

	if hs.loop == nil {
		checks["reconciler"] = "not initialized"
		ready = false
		message = "Reconciler not initialized"
	} else {
		state := hs.loop.State()
		checks["reconciler"] = string(state)
		if state != reconciler.StateRunning {
			ready = false
			message = "Waiting for dataplane"
		}

		last := hs.loop.LastCycle()
		switch {
		case last.Started.IsZero():
			checks["last_cycle"] = "none yet"
			ready = false
			if message == "" {
				message = "No reconciliation cycle completed"
			}
		case last.Err != nil:
			checks["last_cycle"] = "error: " + last.Err.Error()
			ready = false
			if message == "" {
				message = "Last reconciliation cycle failed"
			}
		default:
			checks["last_cycle"] = "ok (" + last.Duration.String() + ")"
		}
	}

	status := "ready"
	statusCode := http.StatusOK

	if !ready {
		status = "not ready"
		statusCode = http.StatusServiceUnavailable
	}

	response := ReadyResponse{
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
		Message:   message,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(response)
}

// flowsHandler dumps the programmed flows as text, one per line
func (hs *HealthServer) flowsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if hs.flows == nil {
		http.Error(w, "Flow pipeline not available", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	for _, f := range hs.flows.Dump() {
		_, _ = w.Write([]byte(f.String() + "\n"))
	}
}

// GetHandler returns the HTTP handler for embedding in other servers
func (hs *HealthServer) GetHandler() http.Handler {
	return hs.mux
}
