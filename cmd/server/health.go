package main

import (
	"context"
	"net/http"
	"time"

	"certo/pkg/platform/circuit"
	"certo/pkg/platform/httputil"
)

const healthCheckTimeout = 2 * time.Second

// check is one dependency probe. A failing critical check fails the endpoint.
type check struct {
	name     string
	critical bool
	fn       func(ctx context.Context) error
}

type healthHandler struct {
	checks   []check
	breakers []*circuit.Breaker
}

type healthReport struct {
	Status       string            `json:"status"`
	Dependencies map[string]string `json:"dependencies"`
	Breakers     map[string]string `json:"breakers"`
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	report := healthReport{
		Status:       "ok",
		Dependencies: make(map[string]string, len(h.checks)),
		Breakers:     make(map[string]string, len(h.breakers)),
	}
	status := http.StatusOK
	for _, c := range h.checks {
		if err := c.fn(ctx); err != nil {
			report.Dependencies[c.name] = "down"
			if c.critical {
				report.Status = "unavailable"
				status = http.StatusServiceUnavailable
			} else if report.Status == "ok" {
				report.Status = "degraded"
			}
			continue
		}
		report.Dependencies[c.name] = "up"
	}
	for _, b := range h.breakers {
		state := b.State()
		report.Breakers[b.Name()] = state.String()
		if state != circuit.StateClosed && report.Status == "ok" {
			report.Status = "degraded"
		}
	}
	httputil.WriteJSON(w, status, report)
}
