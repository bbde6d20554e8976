package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"certo/internal/platform/metrics"
	"certo/internal/registry"
	"certo/internal/registry/mocks"
	dErrors "certo/pkg/domain-errors"
	"certo/pkg/platform/circuit"
	"certo/pkg/platform/sentinel"
)

var creds = registry.Credentials{Username: "certo", Password: "pw"}

type memoryCache struct {
	mu       sync.Mutex
	policies map[string]registry.Policy
}

func (c *memoryCache) GetPolicy(_ context.Context, n string) (*registry.Policy, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.policies[n]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return &p, nil
}

func (c *memoryCache) SetPolicy(_ context.Context, p *registry.Policy) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.policies[p.PolicyNumber] = *p
	return nil
}

type LookupSuite struct {
	suite.Suite
	client  *mocks.MockClient
	breaker *circuit.Breaker
	cache   *memoryCache
	metrics *metrics.Metrics
	service *registry.Service
}

func TestLookupSuite(t *testing.T) {
	suite.Run(t, new(LookupSuite))
}

func (s *LookupSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.client = mocks.NewMockClient(ctrl)
	s.breaker = circuit.New("registry",
		circuit.WithMinimumRequests(2),
		circuit.WithIsFailure(registry.CountsAsFailure),
	)
	s.cache = &memoryCache{policies: map[string]registry.Policy{}}
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.service = registry.NewService(s.client, creds, s.breaker,
		registry.WithCache(s.cache),
		registry.WithMetrics(s.metrics),
	)
}

func (s *LookupSuite) TestFindPolicy_CachesResult() {
	ctx := context.Background()
	s.client.EXPECT().FindPolicyAndInsured(gomock.Any(), creds, "POL-1").
		Return(&registry.Policy{PolicyNumber: "POL-1"}, nil).Times(1)

	first, err := s.service.FindPolicy(ctx, " POL-1 ")
	s.Require().NoError(err)
	second, err := s.service.FindPolicy(ctx, "POL-1")
	s.Require().NoError(err)

	s.Equal(first, second)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RegistryCache.WithLabelValues("hit")))
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RegistryCache.WithLabelValues("miss")))
}

func (s *LookupSuite) TestFindPolicy_NotFoundDoesNotTripBreaker() {
	notFound := &registry.Error{Category: registry.ErrorNotFound, Operation: "find_policy", Message: "no matching record"}
	s.client.EXPECT().FindPolicyAndInsured(gomock.Any(), creds, "MISSING").Return(nil, notFound).Times(5)

	for range 5 {
		_, err := s.service.FindPolicy(context.Background(), "MISSING")
		s.True(dErrors.HasCode(err, dErrors.CodeRegistryLookupFailed))
		s.False(dErrors.IsRetryable(err))
	}
	s.Equal(circuit.StateClosed, s.breaker.State())
}

func (s *LookupSuite) TestFindPolicy_OutageOpensBreaker() {
	outage := &registry.Error{Category: registry.ErrorOutage, Operation: "find_policy", Message: "registry returned 503"}
	s.client.EXPECT().FindPolicyAndInsured(gomock.Any(), creds, "POL-1").Return(nil, outage).Times(2)

	for range 2 {
		_, err := s.service.FindPolicy(context.Background(), "POL-1")
		s.True(dErrors.HasCode(err, dErrors.CodeRegistryLookupFailed))
		s.True(dErrors.IsRetryable(err))
	}
	s.True(s.breaker.IsOpen())
	s.False(s.service.Available())

	// open breaker fails fast without calling the client
	_, err := s.service.FindPolicy(context.Background(), "POL-1")
	s.True(dErrors.HasCode(err, dErrors.CodeCircuitOpen))
	s.True(errors.Is(err, circuit.ErrOpen))
}

func (s *LookupSuite) TestFindPolicy_RequiresNumber() {
	_, err := s.service.FindPolicy(context.Background(), "  ")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}

func (s *LookupSuite) TestSearch() {
	ctx := context.Background()
	s.client.EXPECT().FindByVehicle(gomock.Any(), creds, "KAA123A").
		Return([]registry.Policy{{PolicyNumber: "P1"}}, nil)
	s.client.EXPECT().FindByChassis(gomock.Any(), creds, "CH-404").
		Return(nil, &registry.Error{Category: registry.ErrorNotFound})

	byReg, err := s.service.SearchByVehicle(ctx, "kaa123a ")
	s.Require().NoError(err)
	s.Len(byReg, 1)

	byChassis, err := s.service.SearchByChassis(ctx, "ch-404")
	s.Require().NoError(err)
	s.NotNil(byChassis)
	s.Empty(byChassis)

	_, err = s.service.SearchByChassis(ctx, "")
	s.True(dErrors.HasCode(err, dErrors.CodeValidation))
}
