package audit

import (
	"time"

	id "certo/pkg/domain"
	dErrors "certo/pkg/domain-errors"
)

// Action is what an audit entry records.
type Action string

const (
	ActionCreated       Action = "created"
	ActionStatusChanged Action = "status_changed"
	ActionCancelled     Action = "cancelled"
	ActionSuspended     Action = "suspended"
	ActionDownloaded    Action = "downloaded"
	ActionStatusChecked Action = "status_checked"
)

func (a Action) IsValid() bool {
	switch a {
	case ActionCreated, ActionStatusChanged, ActionCancelled, ActionSuspended, ActionDownloaded, ActionStatusChecked:
		return true
	}
	return false
}

// ParseAction parses an action from a query parameter.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid audit action: "+s)
	}
	return a, nil
}

// Entry is an immutable audit record. Entries are never updated; only the
// retention job deletes them.
type Entry struct {
	ID            id.AuditEntryID
	CertificateID id.CertificateID
	ActorID       string
	Action        Action
	OldStatus     string
	NewStatus     string
	OldValues     map[string]any
	NewValues     map[string]any
	Details       map[string]any
	ActorIP       string
	ActorAgent    string
	SessionID     string
	RequestID     string
	CreatedAt     time.Time
}

// Filter selects entries. Zero fields do not filter.
type Filter struct {
	CertificateID id.CertificateID
	ActorID       string
	Action        Action
	From          time.Time
	To            time.Time
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page is an offset window over results ordered by CreatedAt descending.
type Page struct {
	Limit  int
	Offset int
}

// Normalize applies defaults and bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// PageResult is one page of entries plus the total match count.
type PageResult struct {
	Entries []*Entry
	Total   int
	Page    Page
}
