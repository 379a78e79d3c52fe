// Package notify is the outbound notification boundary. Delivery is
// fire-and-forget: the engine logs failures but never rolls back a persisted
// state transition because an email did not go out.
package notify

import "context"

// Party identifies one recipient.
type Party struct {
	Email string
	Name  string
}

// Sender dispatches the engine's notification set. Implementations must not
// block on slow delivery paths; queue or drop instead.
type Sender interface {
	// SignerInvited tells a signatory their signing turn is open.
	SignerInvited(ctx context.Context, signer Party, signingURL, message string)
	// SignerConfirmed acknowledges a completed signature to its author.
	SignerConfirmed(ctx context.Context, signer Party)
	// ProgressUpdate tells the initiator how many of the signatures are in.
	ProgressUpdate(ctx context.Context, initiator Party, contractTitle string, signedCount, total int)
	// Cancelled tells a not-yet-signed signatory that the request is off.
	Cancelled(ctx context.Context, signer Party, contractTitle string)
	// Completed tells a party the document is fully signed.
	Completed(ctx context.Context, recipient Party, contractTitle string)
	// DeclineEscalation tells the initiator one signatory refused to sign.
	DeclineEscalation(ctx context.Context, initiator Party, signer Party, contractTitle string)
}
