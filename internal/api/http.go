// Package api exposes read-only status surfaces over the population:
// a gRPC health service and chi HTTP endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/davehusk/millennium-qecc/internal/klog"
	"github.com/davehusk/millennium-qecc/internal/population"
)

// StatusSource is the read-only view the status surfaces need.
type StatusSource interface {
	HealthCheck() population.Health
	Agents() []population.AgentInfo
	Insights() *population.InsightLog
}

type healthResponse struct {
	population.Health
	Status   string `json:"status"`
	UptimeHR string `json:"uptime_human"`
}

// NewRouter returns the HTTP status handler.
func NewRouter(src StatusSource) http.Handler {
	h := &handler{src: src}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/agents", h.listAgents)
	r.Get("/agents/{id}", h.getAgent)
	r.Get("/insights", h.insights)
	return r
}

type handler struct {
	src StatusSource
}

// health reports 200 while every registered agent satisfies the axioms,
// 503 otherwise.
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	snap := h.src.HealthCheck()
	resp := healthResponse{Health: snap, Status: "ok", UptimeHR: snap.Uptime.Round(time.Second).String()}
	code := http.StatusOK
	if !snap.AxiomCompliance {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *handler) listAgents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.src.Agents())
}

func (h *handler) getAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, a := range h.src.Agents() {
		if a.ID == id {
			writeJSON(w, http.StatusOK, a)
			return
		}
	}
	writeError(w, http.StatusNotFound, fmt.Sprintf("agent %s not registered", id))
}

// insights returns buffered failure insights, optionally only those with
// a sequence number above ?since=N.
func (h *handler) insights(w http.ResponseWriter, r *http.Request) {
	log := h.src.Insights()
	since := r.URL.Query().Get("since")
	if since == "" {
		writeJSON(w, http.StatusOK, log.Snapshot())
		return
	}
	seq, err := strconv.ParseUint(since, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "since must be a sequence number")
		return
	}
	out := log.Since(seq)
	if out == nil {
		out = []population.Insight{}
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.For("api").Debug("write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// ServeHTTP serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ServeHTTP(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	klog.For("api").Info("http status listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("http status server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http status shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http status server: %w", err)
	}
	return nil
}
