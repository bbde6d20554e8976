package handler

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certo/internal/audit"
	"certo/internal/audit/handler/mocks"
	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
)

//go:generate mockgen -source=handler.go -destination=mocks/audit-mocks.go -package=mocks Service
type AuditHandlerSuite struct {
	suite.Suite
	service *mocks.MockService
	router  chi.Router
}

func TestAuditHandlerSuite(t *testing.T) {
	suite.Run(t, new(AuditHandlerSuite))
}

func (s *AuditHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.router = chi.NewRouter()
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(s.router)
}

func (s *AuditHandlerSuite) do(target string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	return w
}

func (s *AuditHandlerSuite) TestListByCertificate() {
	certID := id.NewCertificateID()
	at := time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)
	s.service.EXPECT().
		ListByCertificate(gomock.Any(), certID, audit.Page{Limit: 10, Offset: 20}).
		Return(audit.PageResult{
			Entries: []*audit.Entry{{
				ID: id.NewAuditEntryID(), CertificateID: certID, ActorID: "alice",
				Action: audit.ActionCreated, NewStatus: "pending", CreatedAt: at,
			}},
			Total: 21,
			Page:  audit.Page{Limit: 10, Offset: 20},
		}, nil)

	w := s.do("/certificates/" + certID.String() + "/audit?limit=10&offset=20")
	s.Require().Equal(http.StatusOK, w.Code)

	var body pageResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &body))
	s.Equal(21, body.Total)
	s.Equal(10, body.Limit)
	s.Require().Len(body.Entries, 1)
	s.Equal("created", body.Entries[0].Action)
	s.Equal("2026-07-01T10:00:00Z", body.Entries[0].CreatedAt)
}

func (s *AuditHandlerSuite) TestListByCertificate_InvalidID() {
	w := s.do("/certificates/not-a-uuid/audit")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *AuditHandlerSuite) TestQuery_BuildsFilter() {
	from := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	s.service.EXPECT().
		Query(gomock.Any(), audit.Filter{ActorID: "bob", Action: audit.ActionCancelled, From: from, To: to}, audit.Page{}).
		Return(audit.PageResult{Page: audit.Page{Limit: audit.DefaultPageLimit}}, nil)

	w := s.do("/audit?actor=bob&action=cancelled&from=2026-07-01T00:00:00Z&to=2026-07-02T00:00:00Z")
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"entries":[],"total":0,"limit":50,"offset":0}`, w.Body.String())
}

func (s *AuditHandlerSuite) TestQuery_RejectsBadParameters() {
	for _, target := range []string{
		"/audit?action=renamed",
		"/audit?from=yesterday",
		"/audit?from=2026-07-02T00:00:00Z&to=2026-07-01T00:00:00Z",
		"/audit?limit=-1",
		"/audit?offset=abc",
	} {
		w := s.do(target)
		s.Equal(http.StatusBadRequest, w.Code, target)
	}
}

func (s *AuditHandlerSuite) TestQuery_StoreFailure() {
	s.service.EXPECT().Query(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(audit.PageResult{}, dErrors.New(dErrors.CodePersistence, "failed to query audit entries"))

	w := s.do("/audit?actor=alice")
	s.Equal(http.StatusInternalServerError, w.Code)
	s.JSONEq(`{"error":"persistence_error","retryable":true}`, w.Body.String())
}

var _ Service = (*audit.Service)(nil)
