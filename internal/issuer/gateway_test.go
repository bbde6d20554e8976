package issuer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certo/internal/issuer"
	"certo/internal/issuer/mocks"
	"certo/pkg/platform/circuit"
)

type GatewaySuite struct {
	suite.Suite
	client   *mocks.MockClient
	sessions *mocks.MockSessionSource
	breaker  *circuit.Breaker
	gateway  *issuer.Gateway
}

func TestGatewaySuite(t *testing.T) {
	suite.Run(t, new(GatewaySuite))
}

func (s *GatewaySuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.client = mocks.NewMockClient(ctrl)
	s.sessions = mocks.NewMockSessionSource(ctrl)
	s.breaker = circuit.New("issuer",
		circuit.WithMinimumRequests(2),
		circuit.WithTimeout(time.Second),
		circuit.WithIsFailure(issuer.CountsAsFailure),
	)
	s.gateway = issuer.NewGateway(s.client, s.sessions, s.breaker)
}

func (s *GatewaySuite) TestSubmit_PassesSession() {
	sess := issuer.Session{Token: "tok", ExpiresAt: time.Now().Add(time.Hour)}
	req := issuer.ProductionRequest{ReferenceNumber: "CRT-1"}
	s.sessions.EXPECT().Session(gomock.Any()).Return(sess, nil)
	s.client.EXPECT().SubmitProduction(gomock.Any(), sess, req).
		Return(issuer.SubmitResult{RequestNumber: "REQ-1"}, nil)

	res, err := s.gateway.Submit(context.Background(), req)
	s.Require().NoError(err)
	s.Equal("REQ-1", res.RequestNumber)
}

func (s *GatewaySuite) TestRefusedSessionIsRenewedOnce() {
	stale := issuer.Session{Token: "stale"}
	fresh := issuer.Session{Token: "fresh"}
	gomock.InOrder(
		s.sessions.EXPECT().Session(gomock.Any()).Return(stale, nil),
		s.client.EXPECT().CheckStatus(gomock.Any(), stale, "REQ-1").Return(issuer.StatusResult{}, issuer.ErrUnauthorized),
		s.sessions.EXPECT().Invalidate(stale),
		s.sessions.EXPECT().Session(gomock.Any()).Return(fresh, nil),
		s.client.EXPECT().CheckStatus(gomock.Any(), fresh, "REQ-1").Return(issuer.StatusResult{Status: 2}, nil),
	)

	res, err := s.gateway.CheckStatus(context.Background(), "REQ-1")
	s.Require().NoError(err)
	s.Equal(2, res.Status)
}

func (s *GatewaySuite) TestRejectionsDoNotTripBreaker() {
	s.sessions.EXPECT().Session(gomock.Any()).Return(issuer.Session{Token: "t"}, nil).AnyTimes()
	s.client.EXPECT().Cancel(gomock.Any(), gomock.Any(), "REF", "dup").
		Return(&issuer.RejectedError{Operation: "cancel", Code: -20}).Times(4)

	for range 4 {
		err := s.gateway.Cancel(context.Background(), "REF", "dup")
		_, rejected := issuer.AsRejected(err)
		s.True(rejected)
	}
	s.True(s.gateway.Available())
}

func (s *GatewaySuite) TestTransportFailuresOpenBreaker() {
	down := errors.New("connection reset")
	s.sessions.EXPECT().Session(gomock.Any()).Return(issuer.Session{Token: "t"}, nil).Times(2)
	s.client.EXPECT().Download(gomock.Any(), gomock.Any(), "REF").Return(issuer.DownloadResult{}, down).Times(2)

	for range 2 {
		_, err := s.gateway.Download(context.Background(), "REF")
		s.ErrorIs(err, down)
	}
	s.False(s.gateway.Available())

	_, err := s.gateway.Download(context.Background(), "REF")
	s.ErrorIs(err, circuit.ErrOpen)
}

func (s *GatewaySuite) TestLoginFailureCountsAgainstIssuer() {
	s.sessions.EXPECT().Session(gomock.Any()).Return(issuer.Session{}, errors.New("dial tcp: timeout")).Times(2)
	for range 2 {
		s.Error(s.gateway.Suspend(context.Background(), "REF", "fraud"))
	}
	s.Equal(circuit.StateOpen, s.breaker.State())
}
