package certificate

import (
	"context"
	"fmt"

	"github.com/cucumber/godog"
)

const (
	keyHeader      = "Idempotency-Key"
	replayedHeader = "Idempotent-Replayed"
)

// Policy is the sandbox policy the scenarios certify.
type Policy struct {
	Number             string
	RegistrationNumber string
	CompanyCode        string
}

// TestContext is the part of the suite context these steps need.
type TestContext interface {
	POST(ctx context.Context, path string, body any, headers map[string]string) error
	GET(ctx context.Context, path string, headers map[string]string) error
	Expand(s string) string
	Header(name string) string
	SandboxPolicy() Policy
}

// RegisterSteps registers certificate lifecycle steps.
func RegisterSteps(ctx *godog.ScenarioContext, tc TestContext) {
	steps := &certificateSteps{tc: tc}

	ctx.Step(`^I request a certificate for the sandbox policy with key "([^"]*)"$`, steps.create)
	ctx.Step(`^I request a certificate for policy "([^"]*)" with key "([^"]*)"$`, steps.createForPolicy)
	ctx.Step(`^I request a certificate without an idempotency key$`, steps.createWithoutKey)
	ctx.Step(`^I cancel certificate "([^"]*)" because "([^"]*)" with key "([^"]*)"$`, steps.cancel)
	ctx.Step(`^I retry certificate "([^"]*)" with key "([^"]*)"$`, steps.retry)
	ctx.Step(`^the response should be a replay$`, steps.shouldBeReplay)
	ctx.Step(`^the response should not be a replay$`, steps.shouldNotBeReplay)
}

type certificateSteps struct {
	tc TestContext
}

func (s *certificateSteps) body(policyNumber string) map[string]any {
	p := s.tc.SandboxPolicy()
	return map[string]any{
		"policy_number":       policyNumber,
		"registration_number": p.RegistrationNumber,
		"company_code":        p.CompanyCode,
		"metadata":            map[string]string{"source": "e2e"},
	}
}

func (s *certificateSteps) keyed(key string) map[string]string {
	return map[string]string{keyHeader: s.tc.Expand(key)}
}

func (s *certificateSteps) create(ctx context.Context, key string) error {
	return s.tc.POST(ctx, "/certificates", s.body(s.tc.SandboxPolicy().Number), s.keyed(key))
}

func (s *certificateSteps) createForPolicy(ctx context.Context, policyNumber, key string) error {
	return s.tc.POST(ctx, "/certificates", s.body(policyNumber), s.keyed(key))
}

func (s *certificateSteps) createWithoutKey(ctx context.Context) error {
	return s.tc.POST(ctx, "/certificates", s.body(s.tc.SandboxPolicy().Number), nil)
}

func (s *certificateSteps) cancel(ctx context.Context, certificateID, reason, key string) error {
	return s.tc.POST(ctx, "/certificates/"+certificateID+"/cancel", map[string]string{"reason": reason}, s.keyed(key))
}

func (s *certificateSteps) retry(ctx context.Context, certificateID, key string) error {
	return s.tc.POST(ctx, "/certificates/"+certificateID+"/retry", nil, s.keyed(key))
}

func (s *certificateSteps) shouldBeReplay(context.Context) error {
	if got := s.tc.Header(replayedHeader); got != "true" {
		return fmt.Errorf("expected a replayed response, %s was %q", replayedHeader, got)
	}
	return nil
}

func (s *certificateSteps) shouldNotBeReplay(context.Context) error {
	if got := s.tc.Header(replayedHeader); got != "" {
		return fmt.Errorf("expected a fresh response, %s was %q", replayedHeader, got)
	}
	return nil
}
