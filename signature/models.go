package signature

import "time"

// Status is the lifecycle of a signature request. It only moves forward:
// pending -> in_progress -> completed, or terminates early via cancelled or
// expired. Terminal states are irreversible.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
	StatusExpired    Status = "expired"
)

// Terminal reports whether no further transition is legal from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Mode selects how signatories become actionable.
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)

// SignerStatus is one party's position in the flow. waiting signers cannot
// act yet; pending is the actionable state; signed never reverts; declined
// is terminal for that signatory only.
type SignerStatus string

const (
	SignerWaiting  SignerStatus = "waiting"
	SignerPending  SignerStatus = "pending"
	SignerSigned   SignerStatus = "signed"
	SignerDeclined SignerStatus = "declined"
)

// Request represents one signing workflow for one document.
type Request struct {
	ID                 string
	ContractID         string
	InitiatorID        string
	ProviderDocumentID string
	Status             Status
	Mode               Mode
	Message            *string
	ExpiresAt          *time.Time
	CompletedAt        *time.Time
	ArtifactLocation   *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Signatory is one party's row in a request. ProviderSignerID, SigningToken
// and SigningURL are opaque handles issued by the provider.
type Signatory struct {
	ID               string
	RequestID        string
	ProviderSignerID string
	SigningToken     string
	SigningURL       string
	Email            string
	DisplayName      string
	UserID           *string
	SequenceIndex    int
	Status           SignerStatus
	SignedAt         *time.Time
}

// SignerInput is one entry of the signatory list supplied at creation.
type SignerInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// CreateParams carries everything create needs.
type CreateParams struct {
	ContractID  string
	InitiatorID string
	Signers     []SignerInput
	Mode        Mode
	Message     string
	ExpiresAt   *time.Time
}

// RequestView is the role-scoped read model. Signing URLs of other parties
// are redacted for signatory callers.
type RequestView struct {
	ID               string          `json:"id"`
	ContractID       string          `json:"contract_id"`
	Status           Status          `json:"status"`
	Mode             Mode            `json:"signing_mode"`
	Message          *string         `json:"message,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ArtifactLocation *string         `json:"artifact_location,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	Signatories      []SignatoryView `json:"signatories"`
}

// SignatoryView redacts the provider handles unless the caller may see them.
type SignatoryView struct {
	Email         string       `json:"email"`
	DisplayName   string       `json:"display_name"`
	SequenceIndex int          `json:"sequence_index"`
	Status        SignerStatus `json:"status"`
	SigningURL    string       `json:"signing_url,omitempty"`
	SignedAt      *time.Time   `json:"signed_at,omitempty"`
}

// SignatureCompletedEvent reports that one signer finished signing.
type SignatureCompletedEvent struct {
	EventID          string
	RequestID        string
	ProviderSignerID string
	CompletedAt      time.Time
}

// NextSignerReadyEvent reports that the provider opened the next signer's
// turn.
type NextSignerReadyEvent struct {
	EventID          string
	RequestID        string
	ProviderSignerID string
}

// DocumentCompletedEvent reports that every signer finished and the final
// artifact is available for download.
type DocumentCompletedEvent struct {
	EventID            string
	ProviderDocumentID string
	CompletedAt        time.Time
}

// SignerDeclinedEvent reports that one signer refused to sign.
type SignerDeclinedEvent struct {
	EventID          string
	RequestID        string
	ProviderSignerID string
	Reason           string
}

// ExpiredRequest is one row terminated by the sweeper.
type ExpiredRequest struct {
	RequestID  string
	ContractID string
}
