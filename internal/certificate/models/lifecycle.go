package models

import (
	"fmt"
	"time"

	dErrors "certo/pkg/domain-errors"
)

// Event triggers a lifecycle transition.
type Event string

const (
	EventIssuerAccepted    Event = "issuer_accepted"
	EventIssuerCompleted   Event = "issuer_completed"
	EventIssuerErrored     Event = "issuer_errored"
	EventIssuerRejected    Event = "issuer_rejected"
	EventOperatorCancelled Event = "operator_cancelled"
	EventOperatorSuspended Event = "operator_suspended"
	EventRetryRequested    Event = "retry_requested"
)

type rule struct {
	from []Status
	to   Status
}

// lifecycle is the complete transition table. Anything not listed is illegal.
var lifecycle = map[Event]rule{
	EventIssuerAccepted:    {from: []Status{StatusPending}, to: StatusProcessing},
	EventIssuerCompleted:   {from: []Status{StatusProcessing}, to: StatusCompleted},
	EventIssuerErrored:     {from: []Status{StatusProcessing}, to: StatusFailed},
	EventIssuerRejected:    {from: []Status{StatusPending, StatusProcessing}, to: StatusFailed},
	EventOperatorCancelled: {from: []Status{StatusCompleted, StatusProcessing}, to: StatusCancelled},
	EventOperatorSuspended: {from: []Status{StatusCompleted, StatusProcessing}, to: StatusSuspended},
	EventRetryRequested:    {from: []Status{StatusFailed}, to: StatusPending},
}

// NextStatus returns the status reached by applying ev in from.
func NextStatus(from Status, ev Event) (Status, error) {
	r, ok := lifecycle[ev]
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidStateTransition, fmt.Sprintf("unknown lifecycle event %q", ev))
	}
	for _, s := range r.from {
		if s == from {
			return r.to, nil
		}
	}
	return "", dErrors.New(dErrors.CodeInvalidStateTransition,
		fmt.Sprintf("cannot apply %s to a %s certificate", ev, from))
}

// CanApply reports whether ev is legal in status s.
func CanApply(s Status, ev Event) bool {
	_, err := NextStatus(s, ev)
	return err == nil
}

// Transition carries an event and the facts recorded with it.
type Transition struct {
	Event Event
	At    time.Time

	RequestNumber     string        // issuer_accepted
	CertificateNumber string        // issuer_completed
	DownloadLocator   string        // issuer_completed
	IssuerStatus      *IssuerStatus // issuer_errored, issuer_rejected
	ErrorMessage      string        // issuer_errored, issuer_rejected
	Transient         bool          // issuer_rejected; eligible for automatic retry
	Reason            string        // operator actions; audit only
}

// Change describes an applied transition for the audit trail.
type Change struct {
	Event     Event
	From      Status
	To        Status
	OldValues map[string]any
	NewValues map[string]any
}

// Apply moves the certificate through the lifecycle. It is the only way a
// certificate's status changes. On error the certificate is untouched.
func (c *Certificate) Apply(t Transition) (Change, error) {
	to, err := NextStatus(c.status, t.Event)
	if err != nil {
		return Change{}, err
	}

	before := c.snapshot()
	from := c.status
	c.status = to
	c.UpdatedAt = t.At

	switch t.Event {
	case EventIssuerAccepted:
		c.IssuerRequestNumber = t.RequestNumber
		c.ErrorMessage = ""
	case EventIssuerCompleted:
		c.IssuerCertificateNumber = t.CertificateNumber
		if t.DownloadLocator != "" {
			c.DownloadLocator = t.DownloadLocator
		}
		c.clearReview()
	case EventIssuerErrored, EventIssuerRejected:
		c.ErrorMessage = t.ErrorMessage
		c.TransientFailure = t.Transient
		if t.IssuerStatus != nil {
			code := int(*t.IssuerStatus)
			c.LastIssuerStatus = &code
		} else {
			c.LastIssuerStatus = nil
		}
		c.clearReview()
	case EventRetryRequested:
		c.RetryCount++
		at := t.At
		c.LastRetryAt = &at
		c.ErrorMessage = ""
		c.TransientFailure = false
	}

	return Change{
		Event:     t.Event,
		From:      from,
		To:        to,
		OldValues: before,
		NewValues: c.snapshot(),
	}, nil
}

// FlagUnmappedStatus records an issuer status code that has no lifecycle
// meaning. The status is left unchanged and the certificate is marked for
// manual review.
func (c *Certificate) FlagUnmappedStatus(code IssuerStatus, at time.Time) {
	v := int(code)
	c.LastIssuerStatus = &v
	if c.Metadata == nil {
		c.Metadata = map[string]string{}
	}
	c.Metadata[MetadataNeedsReview] = "true"
	c.UpdatedAt = at
}

// RecordDownload stores the download locator returned by the issuer.
func (c *Certificate) RecordDownload(locator string, at time.Time) {
	c.DownloadLocator = locator
	c.UpdatedAt = at
}

func (c *Certificate) clearReview() {
	delete(c.Metadata, MetadataNeedsReview)
}

func (c *Certificate) snapshot() map[string]any {
	s := map[string]any{
		"status":      string(c.status),
		"retry_count": c.RetryCount,
	}
	if c.IssuerRequestNumber != "" {
		s["issuer_request_number"] = c.IssuerRequestNumber
	}
	if c.IssuerCertificateNumber != "" {
		s["issuer_certificate_number"] = c.IssuerCertificateNumber
	}
	if c.DownloadLocator != "" {
		s["download_locator"] = c.DownloadLocator
	}
	if c.LastIssuerStatus != nil {
		s["last_issuer_status"] = *c.LastIssuerStatus
	}
	if c.ErrorMessage != "" {
		s["error_message"] = c.ErrorMessage
	}
	return s
}
