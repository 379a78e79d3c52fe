// Package provider wraps the external signing provider. The engine depends
// on the Gateway contract only; the hosted signing UI and the cryptographic
// signing itself happen on the provider's side.
package provider

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrTransient marks upstream failures worth retrying (5xx, timeouts,
	// connection resets). Callers map it to their own retryable class.
	ErrTransient = errors.New("provider: transient failure")
	// ErrPermanent marks failures that will not succeed on retry (4xx).
	ErrPermanent = errors.New("provider: permanent failure")
)

// SignerInput registers one party with the provider. SequenceIndex is
// 1-based and assigned by input order.
type SignerInput struct {
	Name          string `json:"name"`
	Email         string `json:"email"`
	SequenceIndex int    `json:"sequence_index"`
}

// SignerRecord is the provider's view of a registered signer.
type SignerRecord struct {
	SignerID      string `json:"signer_id"`
	SigningToken  string `json:"signing_token"`
	SigningURL    string `json:"signing_url"`
	SequenceIndex int    `json:"sequence_index"`
	Status        string `json:"status"`
}

// Gateway is the outbound contract with the signing provider.
type Gateway interface {
	UploadDocument(ctx context.Context, data []byte, filename string) (documentID string, err error)
	CreateSignerBatch(ctx context.Context, documentID string, signers []SignerInput, expiresAt *time.Time) ([]SignerRecord, error)
	DownloadSignedDocument(ctx context.Context, documentID string) ([]byte, error)
}
