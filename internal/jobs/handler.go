package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/httputil"
	"certo/pkg/requestcontext"
)

// Runner is the part of the scheduler the operations routes need.
type Runner interface {
	Names() []string
	Trigger(ctx context.Context, name string) error
}

// Handler exposes manual job runs to operators.
type Handler struct {
	runner Runner
	logger *slog.Logger
}

func NewHandler(runner Runner, logger *slog.Logger) *Handler {
	return &Handler{runner: runner, logger: logger}
}

// Register mounts the routes on r. Callers wrap r with the admin guard.
func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/jobs", h.handleList)
	r.Post("/admin/jobs/{name}/run", h.handleRun)
}

type jobList struct {
	Jobs []string `json:"jobs"`
}

type jobRun struct {
	Job    string `json:"job"`
	Status string `json:"status"`
}

func (h *Handler) handleList(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, jobList{Jobs: h.runner.Names()})
}

func (h *Handler) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")

	err := h.runner.Trigger(ctx, name)
	switch {
	case errors.Is(err, ErrUnknownJob):
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "job not found"))
		return
	case err != nil:
		h.logger.ErrorContext(ctx, "manual job run failed",
			"job", name,
			"actor", requestcontext.ActorID(ctx),
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "job run failed"))
		return
	}
	h.logger.InfoContext(ctx, "manual job run",
		"job", name,
		"request_id", requestcontext.RequestID(ctx),
	)
	httputil.WriteJSON(w, http.StatusOK, jobRun{Job: name, Status: "completed"})
}
