package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"certo/internal/certificate/models"
	"certo/internal/certificate/service"
	"certo/internal/certificate/views"
	"certo/internal/idempotency"
	"certo/internal/registry"
	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/httputil"
	idemmw "certo/pkg/platform/middleware/idempotency"
	"certo/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/handler-mocks.go -package=mocks Service,Guard

// ReplayedHeader marks a response served from the idempotency store.
const ReplayedHeader = "Idempotent-Replayed"

// Service is the orchestrator as seen by the HTTP layer.
type Service interface {
	Create(ctx context.Context, cmd service.CreateCommand) (*service.CreationResult, error)
	Get(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error)
	CheckStatus(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error)
	Cancel(ctx context.Context, certificateID id.CertificateID, reason string) (*models.Certificate, error)
	Suspend(ctx context.Context, certificateID id.CertificateID, reason string) (*models.Certificate, error)
	Retry(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error)
	Download(ctx context.Context, certificateID id.CertificateID) (*models.Certificate, error)
	SearchPolicies(ctx context.Context, registration, chassis string) ([]registry.Policy, error)
}

// Guard runs keyed operator actions at most once.
type Guard interface {
	Do(ctx context.Context, req idempotency.Request, fn func(ctx context.Context) idempotency.Response) (idempotency.Response, error)
}

// Handler serves the certificate routes.
type Handler struct {
	service Service
	guard   Guard
	logger  *slog.Logger
}

func New(service Service, guard Guard, logger *slog.Logger) *Handler {
	return &Handler{service: service, guard: guard, logger: logger}
}

// Register mounts the certificate and policy routes. Authentication is
// applied by the caller; mutating routes require an Idempotency-Key.
func (h *Handler) Register(r chi.Router) {
	r.Route("/certificates", func(r chi.Router) {
		r.With(idemmw.RequireKey).Post("/", h.handleCreate)
		r.Get("/{id}", h.handleGet)
		r.Get("/{id}/status", h.handleCheckStatus)
		r.Get("/{id}/download", h.handleDownload)
		r.With(idemmw.RequireKey).Post("/{id}/cancel", h.handleCancel)
		r.With(idemmw.RequireKey).Post("/{id}/suspend", h.handleSuspend)
		r.With(idemmw.RequireKey).Post("/{id}/retry", h.handleRetry)
	})
	r.Get("/policies", h.handleSearchPolicies)
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.Create(ctx, service.CreateCommand{
		PolicyNumber:       req.PolicyNumber,
		RegistrationNumber: req.RegistrationNumber,
		CompanyCode:        req.CompanyCode,
		AgentCode:          req.AgentCode,
		RequestedBy:        requestcontext.ActorID(ctx),
		IdempotencyKey:     idemmw.Key(ctx),
		Metadata:           req.Metadata,
	})
	if err != nil {
		h.fail(ctx, w, "create certificate", err)
		return
	}
	if res.Replayed {
		w.Header().Set(ReplayedHeader, "true")
	}
	httputil.WriteRaw(w, res.StatusCode, res.Body)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := parseID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Get(ctx, certID)
	if err != nil {
		h.fail(ctx, w, "get certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views.FromModel(c))
}

func (h *Handler) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := parseID(w, r)
	if !ok {
		return
	}
	c, err := h.service.CheckStatus(ctx, certID)
	if err != nil {
		h.fail(ctx, w, "check certificate status", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views.FromModel(c))
}

func (h *Handler) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	certID, ok := parseID(w, r)
	if !ok {
		return
	}
	c, err := h.service.Download(ctx, certID)
	if err != nil {
		h.fail(ctx, w, "download certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, views.Download{
		ID:              c.ID.String(),
		ReferenceNumber: c.ReferenceNumber,
		DownloadLocator: c.DownloadLocator,
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.handleReasonAction(w, r, h.service.Cancel)
}

func (h *Handler) handleSuspend(w http.ResponseWriter, r *http.Request) {
	h.handleReasonAction(w, r, h.service.Suspend)
}

func (h *Handler) handleReasonAction(
	w http.ResponseWriter,
	r *http.Request,
	action func(ctx context.Context, certificateID id.CertificateID, reason string) (*models.Certificate, error),
) {
	ctx := r.Context()
	certID, ok := parseID(w, r)
	if !ok {
		return
	}
	body, err := httputil.ReadBody(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, err := httputil.Prepare[ReasonRequest](body)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid request",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}

	h.keyed(w, r, body, func(ctx context.Context) (*models.Certificate, error) {
		return action(ctx, certID, req.Reason)
	})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	certID, ok := parseID(w, r)
	if !ok {
		return
	}
	h.keyed(w, r, nil, func(ctx context.Context) (*models.Certificate, error) {
		return h.service.Retry(ctx, certID)
	})
}

// keyed runs fn under the request's idempotency key and writes the stored
// response.
func (h *Handler) keyed(w http.ResponseWriter, r *http.Request, body []byte, fn func(ctx context.Context) (*models.Certificate, error)) {
	ctx := r.Context()
	req := idempotency.Request{
		Key:       idemmw.Key(ctx),
		Method:    r.Method,
		Path:      r.URL.Path,
		Body:      body,
		Requester: requestcontext.ActorID(ctx),
	}

	executed := false
	resp, err := h.guard.Do(ctx, req, func(ctx context.Context) idempotency.Response {
		executed = true
		c, err := fn(ctx)
		if err != nil {
			h.log(ctx, "certificate action failed", err)
			status, body := httputil.ErrorResponse(err)
			return idempotency.Response{StatusCode: status, Body: body}
		}
		out, err := views.Marshal(views.FromModel(c))
		if err != nil {
			status, body := httputil.ErrorResponse(dErrors.Wrap(err, dErrors.CodeInternal, "failed to render certificate"))
			return idempotency.Response{StatusCode: status, Body: body}
		}
		return idempotency.Response{StatusCode: http.StatusOK, Body: out}
	})
	if err != nil {
		h.fail(ctx, w, "idempotent request", err)
		return
	}
	if !executed {
		w.Header().Set(ReplayedHeader, "true")
	}
	httputil.WriteRaw(w, resp.StatusCode, resp.Body)
}

// handleSearchPolicies serves GET /policies?registration_number= or
// ?chassis_number=.
func (h *Handler) handleSearchPolicies(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	q := r.URL.Query()
	policies, err := h.service.SearchPolicies(ctx, q.Get("registration_number"), q.Get("chassis_number"))
	if err != nil {
		h.fail(ctx, w, "search policies", err)
		return
	}
	if policies == nil {
		policies = []registry.Policy{}
	}
	httputil.WriteJSON(w, http.StatusOK, views.PolicySearch{Policies: policies})
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, op string, err error) {
	h.log(ctx, op+" failed", err)
	httputil.WriteError(w, err)
}

func (h *Handler) log(ctx context.Context, msg string, err error) {
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, msg,
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
		return
	}
	h.logger.InfoContext(ctx, msg,
		"request_id", requestcontext.RequestID(ctx),
		"code", string(dErrors.CodeOf(err)),
	)
}

func parseID(w http.ResponseWriter, r *http.Request) (id.CertificateID, bool) {
	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.CertificateID{}, false
	}
	return certID, true
}
