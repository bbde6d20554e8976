package registry

import "context"

//go:generate mockgen -source=client.go -destination=mocks/registry-mocks.go -package=mocks Client

// Client is the registry wire protocol.
type Client interface {
	// FindPolicyAndInsured returns the policy with its insured and vehicles.
	FindPolicyAndInsured(ctx context.Context, creds Credentials, policyNumber string) (*Policy, error)
	// FindByVehicle returns every policy covering the registration number.
	FindByVehicle(ctx context.Context, creds Credentials, registrationNumber string) ([]Policy, error)
	// FindByChassis returns every policy covering the chassis number.
	FindByChassis(ctx context.Context, creds Credentials, chassisNumber string) ([]Policy, error)
}
