package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"mediavault/internal/observability/metrics"
)

// Pinger reports the liveness of a backing component.
type Pinger interface {
	Ping(ctx context.Context) error
}

type componentStatus struct {
	Component string `json:"component"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}

// Health reports the liveness of the datastore, session store, and rate
// limiter. Any degraded component turns the overall response into a 503.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
		return
	}

	components, status, code := h.componentHealth(r.Context())
	for _, component := range components {
		metrics.SetStoreHealth(component.Component, component.Status)
	}
	writeJSON(w, code, map[string]any{
		"status":     status,
		"components": components,
	})
}

func (h *Handler) componentHealth(ctx context.Context) ([]componentStatus, string, int) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	components := make([]componentStatus, 0, 3)
	healthy := true
	recordComponent := func(name string, err error, disabled bool, detail string) {
		entry := componentStatus{Component: name, Status: "ok"}
		switch {
		case disabled:
			entry.Status = "disabled"
			entry.Detail = detail
		case err != nil:
			entry.Status = "degraded"
			entry.Detail = err.Error()
			healthy = false
		}
		components = append(components, entry)
	}

	if h.Store != nil {
		recordComponent("datastore", h.Store.Ping(ctx), false, "")
	} else {
		recordComponent("datastore", nil, true, "not configured")
	}

	recordComponent("sessions", h.sessionManager().Ping(ctx), false, "")

	if h.RateLimiter != nil {
		recordComponent("rate_limiter", h.RateLimiter.Ping(ctx), false, "")
	} else {
		recordComponent("rate_limiter", nil, true, "disabled")
	}

	status := "ok"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	return components, status, code
}
