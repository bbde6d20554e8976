package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certo/internal/audit"
	"certo/internal/certificate/models"
	"certo/internal/certificate/service"
	"certo/internal/certificate/service/mocks"
	"certo/internal/certificate/store"
	"certo/internal/certificate/views"
	"certo/internal/idempotency"
	idemstore "certo/internal/idempotency/store"
	"certo/internal/issuer"
	issuermocks "certo/internal/issuer/mocks"
	"certo/internal/registry"
	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/circuit"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type ServiceSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	registry *mocks.MockRegistry
	issuer   *mocks.MockIssuer
	certs    *store.InMemory
	clock    *clock
	svc      *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.registry = mocks.NewMockRegistry(s.ctrl)
	s.issuer = mocks.NewMockIssuer(s.ctrl)
	s.clock = &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	s.svc = s.newService(s.issuer)
}

func (s *ServiceSuite) newService(iss service.Issuer) *service.Service {
	s.certs = store.NewInMemory(nil)
	guard := idempotency.NewGuard(idemstore.NewInMemory(), idempotency.WithClock(s.clock.Now))
	return service.New(s.certs, s.registry, iss, guard,
		audit.NewWriterWithClock(s.clock.Now),
		service.WithClock(s.clock.Now),
	)
}

func testPolicy(number string, registrations ...string) *registry.Policy {
	p := &registry.Policy{
		PolicyNumber: number,
		CompanyCode:  "NSIA001",
		Status:       "active",
		StartDate:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		EndDate:      time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC),
		Insured: registry.Insured{
			Name:        "Awa Kone",
			NationalID:  "CI-0042",
			PhoneNumber: "+2250700000000",
		},
	}
	for _, reg := range registrations {
		p.Vehicles = append(p.Vehicles, registry.Vehicle{
			RegistrationNumber: reg,
			ChassisNumber:      "VF1" + reg,
			Make:               "Toyota",
			Model:              "Corolla",
			Year:               2021,
			UsageCategory:      "private",
		})
	}
	return p
}

func createCommand(key string) service.CreateCommand {
	return service.CreateCommand{
		PolicyNumber:       "POL-100",
		RegistrationNumber: "ab-123-cd",
		CompanyCode:        "nsia001",
		AgentCode:          "AG-7",
		RequestedBy:        "agent@example.test",
		IdempotencyKey:     key,
	}
}

func (s *ServiceSuite) expectLookup(times int) {
	s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").
		Return(testPolicy("POL-100", "AB-123-CD"), nil).Times(times)
}

func (s *ServiceSuite) auditFor(certificateID id.CertificateID) []*audit.Entry {
	res, err := s.certs.AuditLog().Query(context.Background(), audit.Filter{CertificateID: certificateID}, audit.Page{Limit: 100})
	s.Require().NoError(err)
	// oldest first reads better in assertions
	out := make([]*audit.Entry, 0, len(res.Entries))
	for i := len(res.Entries) - 1; i >= 0; i-- {
		out = append(out, res.Entries[i])
	}
	return out
}

func (s *ServiceSuite) countCreated() int {
	res, err := s.certs.AuditLog().Query(context.Background(), audit.Filter{Action: audit.ActionCreated}, audit.Page{Limit: 100})
	s.Require().NoError(err)
	return res.Total
}

// processing creates a certificate and leaves it in processing.
func (s *ServiceSuite) processing() *models.Certificate {
	s.expectLookup(1)
	s.issuer.EXPECT().Available().Return(true)
	s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
		Return(issuer.SubmitResult{RequestNumber: "REQ-1", Status: 1}, nil)
	res, err := s.svc.Create(context.Background(), createCommand(""))
	s.Require().NoError(err)
	s.Require().Equal(models.StatusProcessing, res.Certificate.Status())
	return res.Certificate
}

func (s *ServiceSuite) completed() *models.Certificate {
	c := s.processing()
	s.issuer.EXPECT().CheckStatus(gomock.Any(), "REQ-1").
		Return(issuer.StatusResult{Status: 0, CertificateNumber: "ATT-9", DownloadLocator: "docs/ATT-9.pdf"}, nil)
	done, err := s.svc.CheckStatus(context.Background(), c.ID)
	s.Require().NoError(err)
	s.Require().Equal(models.StatusCompleted, done.Status())
	return done
}

func (s *ServiceSuite) failedTransiently() *models.Certificate {
	s.expectLookup(1)
	s.issuer.EXPECT().Available().Return(true)
	s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).Return(issuer.SubmitResult{}, circuit.ErrTimeout)
	res, err := s.svc.Create(context.Background(), createCommand(""))
	s.Require().NoError(err)
	s.Require().Equal(models.StatusFailed, res.Certificate.Status())
	s.Require().Nil(res.Certificate.LastIssuerStatus)
	return res.Certificate
}

func (s *ServiceSuite) TestCreate() {
	s.Run("accepted submission leaves the certificate processing", func() {
		s.SetupTest()
		s.expectLookup(1)
		s.issuer.EXPECT().Available().Return(true)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			DoAndReturn(func(_ context.Context, req issuer.ProductionRequest) (issuer.SubmitResult, error) {
				s.Equal("AB-123-CD", req.RegistrationNumber)
				s.Equal("NSIA001", req.CompanyCode)
				s.Equal("VF1AB-123-CD", req.ChassisNumber)
				s.Equal("Awa Kone", req.InsuredName)
				s.Equal("2026-01-01", req.CoverStart)
				s.Equal("2026-12-31", req.CoverEnd)
				return issuer.SubmitResult{RequestNumber: "REQ-1", Status: 1}, nil
			})

		res, err := s.svc.Create(context.Background(), createCommand("key-a"))
		s.Require().NoError(err)
		s.Equal(http.StatusCreated, res.StatusCode)
		s.False(res.Replayed)
		s.Require().NotNil(res.Certificate)
		s.Equal(models.StatusProcessing, res.Certificate.Status())
		s.Equal("REQ-1", res.Certificate.IssuerRequestNumber)

		var body views.Certificate
		s.Require().NoError(json.Unmarshal(res.Body, &body))
		s.Equal("processing", body.Status)
		s.Equal(res.Certificate.ID.String(), body.ID)

		entries := s.auditFor(res.Certificate.ID)
		s.Require().Len(entries, 2)
		s.Equal(audit.ActionCreated, entries[0].Action)
		s.Equal("pending", entries[0].NewStatus)
		s.Equal("agent@example.test", entries[0].ActorID)
		s.Equal("key-a", entries[0].Details["idempotency_key"])
		s.Equal(audit.ActionStatusChanged, entries[1].Action)
		s.Equal("pending", entries[1].OldStatus)
		s.Equal("processing", entries[1].NewStatus)
	})

	s.Run("replay returns the stored bytes without a second certificate", func() {
		s.SetupTest()
		s.expectLookup(1)
		s.issuer.EXPECT().Available().Return(true)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-1", Status: 1}, nil).Times(1)

		first, err := s.svc.Create(context.Background(), createCommand("key-b"))
		s.Require().NoError(err)

		s.clock.Advance(time.Minute)
		again, err := s.svc.Create(context.Background(), createCommand("key-b"))
		s.Require().NoError(err)
		s.True(again.Replayed)
		s.Nil(again.Certificate)
		s.Equal(first.StatusCode, again.StatusCode)
		s.Equal(first.Body, again.Body)
		s.Equal(1, s.countCreated())
	})

	s.Run("reused key with a different body conflicts", func() {
		s.SetupTest()
		s.expectLookup(1)
		s.issuer.EXPECT().Available().Return(true)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-1", Status: 1}, nil)

		_, err := s.svc.Create(context.Background(), createCommand("key-c"))
		s.Require().NoError(err)

		cmd := createCommand("key-c")
		cmd.AgentCode = "AG-8"
		_, err = s.svc.Create(context.Background(), cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeIdempotencyConflict))
		s.Equal(1, s.countCreated())
	})

	s.Run("active duplicate is refused before the registry is asked", func() {
		s.SetupTest()
		s.processing()

		res, err := s.svc.Create(context.Background(), createCommand("key-d"))
		s.Nil(res)
		s.True(dErrors.HasCode(err, dErrors.CodeDuplicateCertificate))
		s.Equal(1, s.countCreated())

		// the refusal is stored under the key
		again, err := s.svc.Create(context.Background(), createCommand("key-d"))
		s.Require().NoError(err)
		s.True(again.Replayed)
		s.Equal(http.StatusConflict, again.StatusCode)
	})

	s.Run("issuer rejection fails the certificate with the mapped message", func() {
		s.SetupTest()
		s.expectLookup(1)
		s.issuer.EXPECT().Available().Return(true)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{}, &issuer.RejectedError{Operation: "submit", Code: -36})

		res, err := s.svc.Create(context.Background(), createCommand(""))
		s.Require().NoError(err)
		c := res.Certificate
		s.Equal(models.StatusFailed, c.Status())
		s.Equal("unauthorized: issuer rejected the credentials", c.ErrorMessage)
		s.Require().NotNil(c.LastIssuerStatus)
		s.Equal(-36, *c.LastIssuerStatus)
		s.False(c.RetryableFailure())

		entries := s.auditFor(c.ID)
		s.Require().Len(entries, 2)
		s.Equal("pending", entries[1].OldStatus)
		s.Equal("failed", entries[1].NewStatus)
	})

	s.Run("failed submission status code fails the certificate", func() {
		s.SetupTest()
		s.expectLookup(1)
		s.issuer.EXPECT().Available().Return(true)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-2", Status: -11}, nil)

		res, err := s.svc.Create(context.Background(), createCommand(""))
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, res.Certificate.Status())
		s.Equal("policy expired", res.Certificate.ErrorMessage)
	})

	s.Run("unmapped submission status is flagged for review", func() {
		s.SetupTest()
		s.expectLookup(1)
		s.issuer.EXPECT().Available().Return(true)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-3", Status: 7}, nil)

		res, err := s.svc.Create(context.Background(), createCommand(""))
		s.Require().NoError(err)
		c := res.Certificate
		s.Equal(models.StatusPending, c.Status())
		s.True(c.NeedsReview())
		s.Equal("REQ-3", c.IssuerRequestNumber)
		s.Require().NotNil(c.LastIssuerStatus)
		s.Equal(7, *c.LastIssuerStatus)
	})

	s.Run("transport failure leaves a retryable failed certificate", func() {
		s.SetupTest()
		c := s.failedTransiently()
		s.Equal("issuer request timed out", c.ErrorMessage)
		s.True(c.RetryableFailure())
	})

	s.Run("open issuer breaker fails fast without a record", func() {
		s.SetupTest()
		s.registry.EXPECT().FindPolicy(gomock.Any(), gomock.Any()).Times(0)
		s.issuer.EXPECT().Available().Return(false)

		res, err := s.svc.Create(context.Background(), createCommand("key-e"))
		s.Nil(res)
		s.True(dErrors.HasCode(err, dErrors.CodeCircuitOpen))
		s.True(dErrors.IsRetryable(err))
		s.Equal(0, s.countCreated())
	})

	s.Run("registry failure is returned without a record", func() {
		s.SetupTest()
		s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").
			Return(nil, dErrors.New(dErrors.CodeRegistryLookupFailed, "policy not found in registry"))
		s.issuer.EXPECT().Available().Return(true).AnyTimes()

		_, err := s.svc.Create(context.Background(), createCommand("key-f"))
		s.True(dErrors.HasCode(err, dErrors.CodeRegistryLookupFailed))
		s.Equal(0, s.countCreated())

		again, err := s.svc.Create(context.Background(), createCommand("key-f"))
		s.Require().NoError(err)
		s.True(again.Replayed)
		s.Equal(http.StatusBadGateway, again.StatusCode)
	})

	s.Run("policy must cover the vehicle", func() {
		s.SetupTest()
		s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").
			Return(testPolicy("POL-100", "XY-999-ZZ"), nil)
		s.issuer.EXPECT().Available().Return(true).AnyTimes()

		_, err := s.svc.Create(context.Background(), createCommand(""))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		s.Equal(0, s.countCreated())
	})

	s.Run("policy must be in force", func() {
		s.SetupTest()
		p := testPolicy("POL-100", "AB-123-CD")
		p.EndDate = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").Return(p, nil)
		s.issuer.EXPECT().Available().Return(true)

		_, err := s.svc.Create(context.Background(), createCommand(""))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("policy must belong to the company", func() {
		s.SetupTest()
		p := testPolicy("POL-100", "AB-123-CD")
		p.CompanyCode = "OTHER01"
		s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").Return(p, nil)
		s.issuer.EXPECT().Available().Return(true)

		_, err := s.svc.Create(context.Background(), createCommand(""))
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("invalid input is rejected before the idempotency key is claimed", func() {
		s.SetupTest()
		cmd := createCommand("key-g")
		cmd.PolicyNumber = ""
		_, err := s.svc.Create(context.Background(), cmd)
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))

		// same key, now valid, runs normally
		s.expectLookup(1)
		s.issuer.EXPECT().Available().Return(true)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-1", Status: 1}, nil)
		res, err := s.svc.Create(context.Background(), createCommand("key-g"))
		s.Require().NoError(err)
		s.False(res.Replayed)
	})
}

func (s *ServiceSuite) TestCreateConcurrently() {
	s.Run("one certificate per business key", func() {
		s.SetupTest()
		s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").
			Return(testPolicy("POL-100", "AB-123-CD"), nil).AnyTimes()
		s.issuer.EXPECT().Available().Return(true).AnyTimes()
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-1", Status: 1}, nil).Times(1)

		const callers = 20
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, errs[i] = s.svc.Create(context.Background(), createCommand(""))
			}()
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			s.True(dErrors.HasCode(err, dErrors.CodeDuplicateCertificate), "unexpected error: %v", err)
		}
		s.Equal(1, succeeded)
		s.Equal(1, s.countCreated())
	})

	s.Run("one execution per idempotency key", func() {
		s.SetupTest()
		s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").
			Return(testPolicy("POL-100", "AB-123-CD"), nil).Times(1)
		s.issuer.EXPECT().Available().Return(true).Times(1)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-1", Status: 1}, nil).Times(1)

		const callers = 10
		results := make([]*service.CreationResult, callers)
		errs := make([]error, callers)
		var wg sync.WaitGroup
		for i := range callers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				results[i], errs[i] = s.svc.Create(context.Background(), createCommand("key-same"))
			}()
		}
		wg.Wait()

		executed := 0
		for i := range callers {
			if errs[i] != nil {
				s.True(errors.Is(errs[i], idempotency.ErrInProgress), "unexpected error: %v", errs[i])
				continue
			}
			if !results[i].Replayed {
				executed++
			}
		}
		s.Equal(1, executed)
		s.Equal(1, s.countCreated())
	})
}

func (s *ServiceSuite) TestCheckStatus() {
	s.Run("completed issuer status completes the certificate", func() {
		s.SetupTest()
		c := s.completed()
		s.Equal("ATT-9", c.IssuerCertificateNumber)
		s.Equal("docs/ATT-9.pdf", c.DownloadLocator)

		entries := s.auditFor(c.ID)
		last := entries[len(entries)-1]
		s.Equal(audit.ActionStatusChecked, last.Action)
		s.Equal("processing", last.OldStatus)
		s.Equal("completed", last.NewStatus)
	})

	s.Run("issuer error status fails the certificate", func() {
		s.SetupTest()
		c := s.processing()
		s.issuer.EXPECT().CheckStatus(gomock.Any(), "REQ-1").Return(issuer.StatusResult{Status: -16}, nil)

		got, err := s.svc.CheckStatus(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, got.Status())
		s.Equal("invalid chassis number", got.ErrorMessage)
	})

	s.Run("in-progress issuer status changes nothing", func() {
		s.SetupTest()
		c := s.processing()
		s.issuer.EXPECT().CheckStatus(gomock.Any(), "REQ-1").Return(issuer.StatusResult{Status: 2}, nil)

		got, err := s.svc.CheckStatus(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, got.Status())
		s.Len(s.auditFor(c.ID), 3)
	})

	s.Run("certificates outside processing are not polled", func() {
		s.SetupTest()
		c := s.failedTransiently()

		got, err := s.svc.CheckStatus(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, got.Status())
		entries := s.auditFor(c.ID)
		s.Equal(false, entries[len(entries)-1].Details["polled"])
	})

	s.Run("issuer failure is audited and returned", func() {
		s.SetupTest()
		c := s.processing()
		s.issuer.EXPECT().CheckStatus(gomock.Any(), "REQ-1").Return(issuer.StatusResult{}, circuit.ErrOpen)

		_, err := s.svc.CheckStatus(context.Background(), c.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeCircuitOpen))

		got, err := s.svc.Get(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, got.Status())
		s.Len(s.auditFor(c.ID), 3)
	})

	s.Run("unknown certificate", func() {
		s.SetupTest()
		_, err := s.svc.CheckStatus(context.Background(), id.NewCertificateID())
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}

func (s *ServiceSuite) TestOperatorActions() {
	s.Run("cancel a completed certificate", func() {
		s.SetupTest()
		c := s.completed()
		s.issuer.EXPECT().Cancel(gomock.Any(), c.ReferenceNumber, "vehicle sold").Return(nil)

		got, err := s.svc.Cancel(context.Background(), c.ID, "  vehicle sold ")
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, got.Status())

		entries := s.auditFor(c.ID)
		last := entries[len(entries)-1]
		s.Equal(audit.ActionCancelled, last.Action)
		s.Equal("vehicle sold", last.Details["reason"])
		s.Equal("completed", last.OldStatus)
		s.Equal("cancelled", last.NewStatus)
	})

	s.Run("cancelled certificate frees the business key", func() {
		s.SetupTest()
		c := s.completed()
		s.issuer.EXPECT().Cancel(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil)
		_, err := s.svc.Cancel(context.Background(), c.ID, "reissue")
		s.Require().NoError(err)

		s.expectLookup(1)
		s.issuer.EXPECT().Available().Return(true)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-2", Status: 1}, nil)
		res, err := s.svc.Create(context.Background(), createCommand(""))
		s.Require().NoError(err)
		s.NotEqual(c.ID, res.Certificate.ID)
	})

	s.Run("suspend a completed certificate", func() {
		s.SetupTest()
		c := s.completed()
		s.issuer.EXPECT().Suspend(gomock.Any(), c.ReferenceNumber, "claim under review").Return(nil)

		got, err := s.svc.Suspend(context.Background(), c.ID, "claim under review")
		s.Require().NoError(err)
		s.Equal(models.StatusSuspended, got.Status())
	})

	s.Run("cancel accepted by the issuer is recorded after the caller leaves", func() {
		s.SetupTest()
		c := s.completed()
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		s.issuer.EXPECT().Cancel(gomock.Any(), c.ReferenceNumber, "vehicle sold").
			DoAndReturn(func(context.Context, string, string) error {
				cancel()
				return nil
			})

		got, err := s.svc.Cancel(ctx, c.ID, "vehicle sold")
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, got.Status())

		stored, err := s.svc.Get(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCancelled, stored.Status())
		entries := s.auditFor(c.ID)
		s.Equal(audit.ActionCancelled, entries[len(entries)-1].Action)
	})

	s.Run("cancelled caller never reaches the issuer", func() {
		s.SetupTest()
		c := s.completed()
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := s.svc.Suspend(ctx, c.ID, "claim under review")
		s.ErrorIs(err, context.Canceled)
	})

	s.Run("illegal transition never reaches the issuer", func() {
		s.SetupTest()
		c := s.failedTransiently()

		_, err := s.svc.Suspend(context.Background(), c.ID, "why not")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})

	s.Run("reason is required", func() {
		s.SetupTest()
		_, err := s.svc.Cancel(context.Background(), id.NewCertificateID(), "   ")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("issuer refusal leaves status unchanged", func() {
		s.SetupTest()
		c := s.completed()
		s.issuer.EXPECT().Cancel(gomock.Any(), gomock.Any(), gomock.Any()).
			Return(&issuer.RejectedError{Operation: "cancel", Code: -33})

		_, err := s.svc.Cancel(context.Background(), c.ID, "vehicle sold")
		s.True(dErrors.HasCode(err, dErrors.CodeIssuerRejected))

		got, err := s.svc.Get(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, got.Status())
	})
}

func (s *ServiceSuite) TestRetry() {
	s.Run("failed certificate is resubmitted", func() {
		s.SetupTest()
		c := s.failedTransiently()
		s.expectLookup(1)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-5", Status: 1}, nil)

		got, err := s.svc.Retry(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, got.Status())
		s.Equal(1, got.RetryCount)
		s.Empty(got.ErrorMessage)
		s.Equal("REQ-5", got.IssuerRequestNumber)
	})

	s.Run("lookup failure on retry fails the certificate again", func() {
		s.SetupTest()
		c := s.failedTransiently()
		s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").
			Return(nil, dErrors.New(dErrors.CodeCircuitOpen, "registry unavailable"))

		got, err := s.svc.Retry(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, got.Status())
		s.Equal("registry unavailable: circuit open", got.ErrorMessage)
		s.Equal(1, got.RetryCount)
		s.True(got.RetryableFailure())
	})

	s.Run("only failed certificates can be retried", func() {
		s.SetupTest()
		c := s.processing()
		_, err := s.svc.Retry(context.Background(), c.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})
}

func (s *ServiceSuite) TestDownload() {
	s.Run("completed certificate", func() {
		s.SetupTest()
		c := s.completed()
		s.issuer.EXPECT().Download(gomock.Any(), c.ReferenceNumber).
			Return(issuer.DownloadResult{Locator: "docs/ATT-9-v2.pdf"}, nil)

		got, err := s.svc.Download(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal("docs/ATT-9-v2.pdf", got.DownloadLocator)

		entries := s.auditFor(c.ID)
		s.Equal(audit.ActionDownloaded, entries[len(entries)-1].Action)
	})

	s.Run("not yet completed", func() {
		s.SetupTest()
		c := s.processing()
		_, err := s.svc.Download(context.Background(), c.ID)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidStateTransition))
	})
}

func (s *ServiceSuite) TestSearchPolicies() {
	s.Run("by registration", func() {
		s.SetupTest()
		s.registry.EXPECT().SearchByVehicle(gomock.Any(), "AB-123-CD").
			Return([]registry.Policy{*testPolicy("POL-100", "AB-123-CD")}, nil)
		got, err := s.svc.SearchPolicies(context.Background(), " ab-123-cd ", "")
		s.Require().NoError(err)
		s.Len(got, 1)
	})

	s.Run("by chassis", func() {
		s.SetupTest()
		s.registry.EXPECT().SearchByChassis(gomock.Any(), "VF1XYZ").Return(nil, nil)
		_, err := s.svc.SearchPolicies(context.Background(), "", "vf1xyz")
		s.Require().NoError(err)
	})

	s.Run("exactly one criterion", func() {
		s.SetupTest()
		_, err := s.svc.SearchPolicies(context.Background(), "", "")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
		_, err = s.svc.SearchPolicies(context.Background(), "AB", "VF1")
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestScheduledPasses() {
	s.Run("transient failures are retried", func() {
		s.SetupTest()
		c := s.failedTransiently()
		s.issuer.EXPECT().Available().Return(true).AnyTimes()
		s.expectLookup(1)
		s.issuer.EXPECT().Submit(gomock.Any(), gomock.Any()).
			Return(issuer.SubmitResult{RequestNumber: "REQ-6", Status: 1}, nil)

		n, err := s.svc.RetryTransientFailures(context.Background())
		s.Require().NoError(err)
		s.Equal(1, n)

		got, err := s.svc.Get(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusProcessing, got.Status())
	})

	s.Run("validation failure on retry is not retried again", func() {
		s.SetupTest()
		c := s.failedTransiently()
		lapsed := testPolicy("POL-100", "AB-123-CD")
		lapsed.CompanyCode = "OTHER01"
		s.registry.EXPECT().FindPolicy(gomock.Any(), "POL-100").Return(lapsed, nil)

		got, err := s.svc.Retry(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusFailed, got.Status())
		s.Nil(got.LastIssuerStatus)
		s.False(got.RetryableFailure())

		s.issuer.EXPECT().Available().Return(true)
		n, err := s.svc.RetryTransientFailures(context.Background())
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("retry pass is skipped while the issuer is down", func() {
		s.SetupTest()
		s.failedTransiently()
		s.issuer.EXPECT().Available().Return(false)

		n, err := s.svc.RetryTransientFailures(context.Background())
		s.Require().NoError(err)
		s.Zero(n)
	})

	s.Run("stale processing certificates are reconciled", func() {
		s.SetupTest()
		c := s.processing()
		s.clock.Advance(5 * time.Minute)
		s.issuer.EXPECT().Available().Return(true).AnyTimes()
		s.issuer.EXPECT().CheckStatus(gomock.Any(), "REQ-1").Return(issuer.StatusResult{Status: 4}, nil)

		n, err := s.svc.ReconcileProcessing(context.Background())
		s.Require().NoError(err)
		s.Equal(1, n)

		got, err := s.svc.Get(context.Background(), c.ID)
		s.Require().NoError(err)
		s.Equal(models.StatusCompleted, got.Status())
	})

	s.Run("fresh processing certificates are left alone", func() {
		s.SetupTest()
		s.processing()

		n, err := s.svc.ReconcileProcessing(context.Background())
		s.Require().NoError(err)
		s.Zero(n)
	})
}

// TestIssuerBreaker runs Create against the real gateway and breaker: once
// the breaker opens, requests fail fast and leave no record behind.
func TestIssuerBreaker(t *testing.T) {
	ctrl := gomock.NewController(t)
	clk := &clock{now: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}

	reg := mocks.NewMockRegistry(ctrl)
	var lookups atomic.Int32
	reg.EXPECT().FindPolicy(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, number string) (*registry.Policy, error) {
			lookups.Add(1)
			return testPolicy(number, "AB-123-CD"), nil
		}).AnyTimes()

	sessions := issuermocks.NewMockSessionSource(ctrl)
	sessions.EXPECT().Session(gomock.Any()).Return(issuer.Session{Token: "t", ExpiresAt: clk.Now().Add(time.Hour)}, nil).AnyTimes()

	client := issuermocks.NewMockClient(ctrl)
	hang := client.EXPECT().SubmitProduction(gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, _ issuer.Session, _ issuer.ProductionRequest) (issuer.SubmitResult, error) {
			<-ctx.Done()
			return issuer.SubmitResult{}, ctx.Err()
		}).Times(2)
	client.EXPECT().SubmitProduction(gomock.Any(), gomock.Any(), gomock.Any()).
		Return(issuer.SubmitResult{RequestNumber: "REQ-9", Status: 1}, nil).After(hang).Times(1)

	breaker := circuit.New("issuer",
		circuit.WithTimeout(20*time.Millisecond),
		circuit.WithMinimumRequests(2),
		circuit.WithErrorThresholdPercentage(50),
		circuit.WithResetTimeout(30*time.Second),
		circuit.WithIsFailure(issuer.CountsAsFailure),
		circuit.WithClock(clk.Now),
	)
	gateway := issuer.NewGateway(client, sessions, breaker)

	certs := store.NewInMemory(nil)
	guard := idempotency.NewGuard(idemstore.NewInMemory(), idempotency.WithClock(clk.Now))
	svc := service.New(certs, reg, gateway, guard, nil, service.WithClock(clk.Now))

	create := func(policy string) (*service.CreationResult, error) {
		cmd := createCommand("")
		cmd.PolicyNumber = policy
		return svc.Create(context.Background(), cmd)
	}

	for _, policy := range []string{"POL-1", "POL-2"} {
		res, err := create(policy)
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, res.Certificate.Status())
		assert.True(t, res.Certificate.RetryableFailure())
	}
	require.False(t, gateway.Available())

	before := lookups.Load()
	res, err := create("POL-3")
	assert.Nil(t, res)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeCircuitOpen))
	assert.Equal(t, before, lookups.Load(), "open breaker must not reach the registry")
	all, err := certs.AuditLog().Query(context.Background(), audit.Filter{Action: audit.ActionCreated}, audit.Page{})
	require.NoError(t, err)
	assert.Equal(t, 2, all.Total)

	clk.Advance(31 * time.Second)
	require.True(t, gateway.Available())
	res, err = create("POL-3")
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, res.Certificate.Status())
	assert.Equal(t, circuit.StateClosed, breaker.State())
}
