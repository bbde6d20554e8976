// Package e2e drives a running certo deployment through its HTTP API with
// godog scenarios. The upstream registry and issuer are whatever the target
// deployment is configured with, normally their sandboxes.
package e2e

import (
	"github.com/cucumber/godog"

	"certo/e2e/steps/certificate"
	"certo/e2e/steps/common"
)

// RegisterSteps registers all step definitions from modular packages.
func RegisterSteps(ctx *godog.ScenarioContext, tc *TestContext) {
	common.RegisterSteps(ctx, tc)
	certificate.RegisterSteps(ctx, tc)
}
