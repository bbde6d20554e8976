package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"certo/internal/audit"
	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/httputil"
	"certo/pkg/requestcontext"
)

// Service is the audit read side used by the handler.
type Service interface {
	ListByCertificate(ctx context.Context, certificateID id.CertificateID, page audit.Page) (audit.PageResult, error)
	Query(ctx context.Context, filter audit.Filter, page audit.Page) (audit.PageResult, error)
}

// Handler serves audit trail queries.
type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register mounts the audit routes. Authentication is applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Get("/certificates/{id}/audit", h.handleListByCertificate)
	r.Get("/audit", h.handleQuery)
}

func (h *Handler) handleListByCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	certID, err := id.ParseCertificateID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.ListByCertificate(ctx, certID, page)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPageResponse(res))
}

// handleQuery serves GET /audit?actor=&action=&from=&to=&limit=&offset=.
// from and to are RFC 3339 and bound a half-open range.
func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	filter, err := parseFilter(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	res, err := h.service.Query(ctx, filter, page)
	if err != nil {
		h.fail(ctx, w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toPageResponse(res))
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, err error) {
	if dErrors.ToHTTPStatus(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		h.logger.ErrorContext(ctx, "audit query failed",
			"request_id", requestcontext.RequestID(ctx),
			"error", err,
		)
	}
	httputil.WriteError(w, err)
}

func parseFilter(r *http.Request) (audit.Filter, error) {
	q := r.URL.Query()
	f := audit.Filter{ActorID: q.Get("actor")}

	if raw := q.Get("certificate_id"); raw != "" {
		certID, err := id.ParseCertificateID(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		f.CertificateID = certID
	}
	if raw := q.Get("action"); raw != "" {
		action, err := audit.ParseAction(raw)
		if err != nil {
			return audit.Filter{}, err
		}
		f.Action = action
	}

	var err error
	if f.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return audit.Filter{}, err
	}
	if f.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return audit.Filter{}, err
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return audit.Filter{}, dErrors.New(dErrors.CodeInvalidInput, "from must be before to")
	}
	return f, nil
}

func parseTime(raw, name string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, dErrors.New(dErrors.CodeInvalidInput, name+" must be an RFC 3339 timestamp")
	}
	return t.UTC(), nil
}

func parsePage(r *http.Request) (audit.Page, error) {
	q := r.URL.Query()
	var page audit.Page
	for _, p := range []struct {
		name string
		dst  *int
	}{{"limit", &page.Limit}, {"offset", &page.Offset}} {
		raw := q.Get(p.name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return audit.Page{}, dErrors.New(dErrors.CodeInvalidInput, p.name+" must be a non-negative integer")
		}
		*p.dst = n
	}
	return page, nil
}
