package issuer

import "context"

//go:generate mockgen -source=client.go -destination=mocks/issuer-mocks.go -package=mocks Client,SessionSource

// Client is the issuer wire protocol. Every call takes the session
// explicitly.
type Client interface {
	Login(ctx context.Context, creds Credentials) (Session, error)
	SubmitProduction(ctx context.Context, session Session, req ProductionRequest) (SubmitResult, error)
	CheckStatus(ctx context.Context, session Session, requestNumber string) (StatusResult, error)
	Cancel(ctx context.Context, session Session, reference, reason string) error
	Suspend(ctx context.Context, session Session, reference, reason string) error
	Download(ctx context.Context, session Session, reference string) (DownloadResult, error)
}

// SessionSource hands out a usable session.
type SessionSource interface {
	Session(ctx context.Context) (Session, error)
	// Invalidate drops a session the issuer refused so the next call logs in.
	Invalidate(session Session)
}
