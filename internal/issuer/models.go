package issuer

import "time"

// Credentials log in to the issuer.
type Credentials struct {
	Username string
	Password string
}

// Session is an issuer access token. It is a value: callers pass it to every
// call and nothing mutates it after Login returns.
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// ValidAt reports whether the session can still be used at t, keeping skew
// in reserve for the call itself.
func (s Session) ValidAt(t time.Time, skew time.Duration) bool {
	return s.Token != "" && t.Add(skew).Before(s.ExpiresAt)
}

// ProductionRequest is the certificate-production payload, merged from the
// certificate request and the registry policy.
type ProductionRequest struct {
	ReferenceNumber    string            `json:"reference_number"`
	PolicyNumber       string            `json:"policy_number"`
	CompanyCode        string            `json:"company_code"`
	AgentCode          string            `json:"agent_code,omitempty"`
	RegistrationNumber string            `json:"registration_number"`
	ChassisNumber      string            `json:"chassis_number,omitempty"`
	VehicleMake        string            `json:"vehicle_make,omitempty"`
	VehicleModel       string            `json:"vehicle_model,omitempty"`
	VehicleYear        int               `json:"vehicle_year,omitempty"`
	UsageCategory      string            `json:"usage_category,omitempty"`
	InsuredName        string            `json:"insured_name"`
	InsuredNationalID  string            `json:"insured_national_id,omitempty"`
	InsuredPhone       string            `json:"insured_phone,omitempty"`
	InsuredEmail       string            `json:"insured_email,omitempty"`
	CoverStart         string            `json:"cover_start"`
	CoverEnd           string            `json:"cover_end"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

// SubmitResult is the issuer's answer to a production request. Status is
// the raw issuer status code; negative codes come back as *RejectedError.
type SubmitResult struct {
	RequestNumber string
	Status        int
}

// StatusResult is the issuer's view of a production request.
type StatusResult struct {
	Status            int
	CertificateNumber string
	DownloadLocator   string
	Message           string
}

// DownloadResult locates the certificate document.
type DownloadResult struct {
	Locator string
}
