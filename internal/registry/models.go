package registry

import (
	"slices"
	"strings"
	"time"
)

// Credentials authenticate calls to the registry. They are passed on every
// call; clients hold no login state.
type Credentials struct {
	Username string
	Password string
}

// Vehicle is a vehicle insured under a policy.
type Vehicle struct {
	RegistrationNumber string `json:"registration_number"`
	ChassisNumber      string `json:"chassis_number"`
	Make               string `json:"make,omitempty"`
	Model              string `json:"model,omitempty"`
	Year               int    `json:"year,omitempty"`
	UsageCategory      string `json:"usage_category,omitempty"`
}

// Insured is the policy holder.
type Insured struct {
	Name        string `json:"name"`
	NationalID  string `json:"national_id,omitempty"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Email       string `json:"email,omitempty"`
}

// Policy is the policy-of-record returned by the registry.
type Policy struct {
	PolicyNumber string    `json:"policy_number"`
	CompanyCode  string    `json:"company_code"`
	Status       string    `json:"status"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	Insured      Insured   `json:"insured"`
	Vehicles     []Vehicle `json:"vehicles"`
}

// Vehicle returns the covered vehicle with the given registration.
func (p *Policy) Vehicle(registration string) (Vehicle, bool) {
	i := slices.IndexFunc(p.Vehicles, func(v Vehicle) bool {
		return strings.EqualFold(strings.TrimSpace(v.RegistrationNumber), registration)
	})
	if i < 0 {
		return Vehicle{}, false
	}
	return p.Vehicles[i], true
}

// InForce reports whether the policy is active at t. The end date is
// inclusive to the end of that day.
func (p *Policy) InForce(t time.Time) bool {
	if p.Status != "" && !strings.EqualFold(p.Status, "active") {
		return false
	}
	if !p.StartDate.IsZero() && t.Before(p.StartDate) {
		return false
	}
	if !p.EndDate.IsZero() && !t.Before(p.EndDate.AddDate(0, 0, 1)) {
		return false
	}
	return true
}
