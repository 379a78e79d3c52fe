package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client implements Gateway over the provider's HTTP API.
type Client struct {
	http *resty.Client
}

// NewClient builds a Gateway client against the provider base URL.
func NewClient(baseURL, apiKey string) *Client {
	rc := resty.New().
		SetBaseURL(baseURL).
		SetHeader("Authorization", "Bearer "+apiKey).
		SetHeader("Accept", "application/json").
		SetTimeout(30 * time.Second)
	return &Client{http: rc}
}

type uploadRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content"` // base64
}

type uploadResponse struct {
	DocumentID string `json:"document_id"`
}

func (c *Client) UploadDocument(ctx context.Context, data []byte, filename string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("provider: empty document: %w", ErrPermanent)
	}

	var out uploadResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(uploadRequest{Filename: filename, Content: base64.StdEncoding.EncodeToString(data)}).
		SetResult(&out).
		Post("/v1/documents")
	if err := classify(resp, err, "upload document"); err != nil {
		return "", err
	}
	if out.DocumentID == "" {
		return "", fmt.Errorf("provider: upload returned no document id: %w", ErrTransient)
	}
	return out.DocumentID, nil
}

type signerBatchRequest struct {
	Signers   []SignerInput `json:"signers"`
	ExpiresAt *time.Time    `json:"expires_at,omitempty"`
}

type signerBatchResponse struct {
	Signers []SignerRecord `json:"signers"`
}

func (c *Client) CreateSignerBatch(ctx context.Context, documentID string, signers []SignerInput, expiresAt *time.Time) ([]SignerRecord, error) {
	var out signerBatchResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(signerBatchRequest{Signers: signers, ExpiresAt: expiresAt}).
		SetResult(&out).
		Post("/v1/documents/" + documentID + "/signers")
	if err := classify(resp, err, "create signer batch"); err != nil {
		return nil, err
	}
	if len(out.Signers) != len(signers) {
		return nil, fmt.Errorf("provider: signer batch returned %d records for %d signers: %w",
			len(out.Signers), len(signers), ErrTransient)
	}
	return out.Signers, nil
}

func (c *Client) DownloadSignedDocument(ctx context.Context, documentID string) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Accept", "application/pdf").
		Get("/v1/documents/" + documentID + "/signed")
	if err := classify(resp, err, "download signed document"); err != nil {
		return nil, err
	}
	body := resp.Body()
	if len(body) == 0 {
		return nil, fmt.Errorf("provider: empty signed document: %w", ErrTransient)
	}
	return body, nil
}

// classify folds transport errors and HTTP status codes into the
// transient/permanent split the engine decides retries on.
func classify(resp *resty.Response, err error, op string) error {
	if err != nil {
		return fmt.Errorf("provider: %s: %v: %w", op, err, ErrTransient)
	}
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code >= 500 || code == 429:
		return fmt.Errorf("provider: %s: status %d: %w", op, code, ErrTransient)
	default:
		return fmt.Errorf("provider: %s: status %d: %w", op, code, ErrPermanent)
	}
}
