package audit

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mssola/useragent"

	id "certo/pkg/domain"
	"certo/pkg/requestcontext"
)

// SystemActor is recorded when no authenticated actor is in the context,
// for scheduled jobs.
const SystemActor = "system"

const maxAgentLength = 256

// Appender receives entries inside the caller's transaction.
type Appender interface {
	AppendAudit(ctx context.Context, entry *Entry) error
}

// Record is the input to Writer.Record.
type Record struct {
	CertificateID id.CertificateID
	ActorID       string
	Action        Action
	OldStatus     string
	NewStatus     string
	OldValues     map[string]any
	NewValues     map[string]any
	Details       map[string]any
}

// Writer builds entries and appends them to the sink it is given. It never
// opens its own transaction: an entry is written exactly when the caller's
// unit of work commits.
type Writer struct {
	now func() time.Time
}

func NewWriter() *Writer {
	return &Writer{}
}

// NewWriterWithClock is NewWriter with a fixed time source (tests).
func NewWriterWithClock(now func() time.Time) *Writer {
	return &Writer{now: now}
}

// Record appends one entry to sink. Actor, client and request details come
// from the request context when the record does not carry them.
func (w *Writer) Record(ctx context.Context, sink Appender, rec Record) (*Entry, error) {
	if !rec.Action.IsValid() {
		return nil, fmt.Errorf("record audit entry: invalid action %q", rec.Action)
	}
	if rec.CertificateID.IsNil() {
		return nil, fmt.Errorf("record audit entry: certificate id is required")
	}

	actor := rec.ActorID
	if actor == "" {
		actor = requestcontext.ActorID(ctx)
	}
	if actor == "" {
		actor = SystemActor
	}

	at := requestcontext.Now(ctx)
	if w.now != nil {
		at = w.now()
	}

	entry := &Entry{
		ID:            id.NewAuditEntryID(),
		CertificateID: rec.CertificateID,
		ActorID:       actor,
		Action:        rec.Action,
		OldStatus:     rec.OldStatus,
		NewStatus:     rec.NewStatus,
		OldValues:     rec.OldValues,
		NewValues:     rec.NewValues,
		Details:       rec.Details,
		ActorIP:       requestcontext.ClientIP(ctx),
		ActorAgent:    SummarizeAgent(requestcontext.UserAgent(ctx)),
		SessionID:     requestcontext.SessionID(ctx),
		RequestID:     requestcontext.RequestID(ctx),
		CreatedAt:     at.UTC(),
	}
	if err := sink.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	return entry, nil
}

// SummarizeAgent reduces a User-Agent header to "browser version (os)", or
// "bot: name" for crawlers. Unparseable agents are kept verbatim, truncated.
func SummarizeAgent(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if ua.Bot() {
		return "bot: " + name
	}
	if name == "" || strings.EqualFold(name, raw) {
		return truncate(raw, maxAgentLength)
	}

	summary := name
	if version != "" {
		summary += " " + version
	}
	if os := ua.OS(); os != "" {
		summary += " (" + os + ")"
	}
	return truncate(summary, maxAgentLength)
}

// truncate cuts s to at most n bytes without splitting a multi-byte rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
