package handler

import (
	"time"

	"certo/internal/audit"
)

type entryResponse struct {
	ID            string         `json:"id"`
	CertificateID string         `json:"certificate_id"`
	ActorID       string         `json:"actor_id"`
	Action        string         `json:"action"`
	OldStatus     string         `json:"old_status,omitempty"`
	NewStatus     string         `json:"new_status,omitempty"`
	OldValues     map[string]any `json:"old_values,omitempty"`
	NewValues     map[string]any `json:"new_values,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	ActorIP       string         `json:"actor_ip,omitempty"`
	ActorAgent    string         `json:"actor_agent,omitempty"`
	SessionID     string         `json:"session_id,omitempty"`
	RequestID     string         `json:"request_id,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

type pageResponse struct {
	Entries []entryResponse `json:"entries"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

func toPageResponse(res audit.PageResult) pageResponse {
	out := pageResponse{
		Entries: make([]entryResponse, 0, len(res.Entries)),
		Total:   res.Total,
		Limit:   res.Page.Limit,
		Offset:  res.Page.Offset,
	}
	for _, e := range res.Entries {
		out.Entries = append(out.Entries, entryResponse{
			ID:            e.ID.String(),
			CertificateID: e.CertificateID.String(),
			ActorID:       e.ActorID,
			Action:        string(e.Action),
			OldStatus:     e.OldStatus,
			NewStatus:     e.NewStatus,
			OldValues:     e.OldValues,
			NewValues:     e.NewValues,
			Details:       e.Details,
			ActorIP:       e.ActorIP,
			ActorAgent:    e.ActorAgent,
			SessionID:     e.SessionID,
			RequestID:     e.RequestID,
			CreatedAt:     e.CreatedAt.Format(time.RFC3339Nano),
		})
	}
	return out
}
