package contract

import "time"

// Status tracks where a contract sits relative to signing. The signing
// engine moves a contract to pending_signature when a request dispatches,
// to signed on completion, and back to draft on cancellation or expiry.
type Status string

const (
	StatusDraft            Status = "draft"
	StatusPendingSignature Status = "pending_signature"
	StatusSigned           Status = "signed"
)

// Record mirrors the contracts table columns the engine touches.
type Record struct {
	ID               string
	OwnerID          string
	Title            string
	Status           Status
	ArtifactLocation *string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
