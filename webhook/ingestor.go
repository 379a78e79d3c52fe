// Package webhook receives the signing provider's event stream. The
// provider delivers at least once, in no guaranteed order; this layer
// authenticates, decodes, and dispatches, and the signature handlers make
// each effect exactly-once.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"signflow/obs"
	"signflow/signature"
)

const (
	// SignatureHeader carries the hex HMAC-SHA256 of the raw body.
	SignatureHeader = "X-Esign-Signature"
	// EventTypeHeader mirrors the body's event discriminant.
	EventTypeHeader = "X-Esign-Event"

	maxBodyBytes = 1 << 20 // 1MB
)

const (
	EventSignatureCompleted = "signature.completed"
	EventNextSignerReady    = "signature.next_signer_ready"
	EventDocumentCompleted  = "document.completed"
	EventSignerDeclined     = "signature.declined"
)

// Dispatcher is the slice of the signature service the ingestor drives.
type Dispatcher interface {
	HandleSignatureCompleted(ctx context.Context, ev signature.SignatureCompletedEvent) error
	HandleNextSignerReady(ctx context.Context, ev signature.NextSignerReadyEvent) error
	HandleDocumentCompleted(ctx context.Context, ev signature.DocumentCompletedEvent) error
	HandleSignerDeclined(ctx context.Context, ev signature.SignerDeclinedEvent) error
}

// Ingestor authenticates and routes inbound provider events.
type Ingestor struct {
	secret     []byte
	dispatcher Dispatcher
	log        *logrus.Logger
	metrics    *obs.Metrics
}

// NewIngestor refuses to run without a shared secret: an unverifiable
// webhook endpoint must never silently pass.
func NewIngestor(secret string, dispatcher Dispatcher, log *logrus.Logger, metrics *obs.Metrics) (*Ingestor, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook: empty shared secret")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("webhook: nil dispatcher")
	}
	return &Ingestor{
		secret:     []byte(secret),
		dispatcher: dispatcher,
		log:        log,
		metrics:    metrics,
	}, nil
}

// envelope is the provider's wire shape: a closed variant set discriminated
// by the event field.
type envelope struct {
	Event       string    `json:"event"`
	EventID     string    `json:"event_id"`
	RequestID   string    `json:"request_id"`
	SignerID    string    `json:"signer_id"`
	DocumentID  string    `json:"document_id"`
	CompletedAt time.Time `json:"completed_at"`
	Reason      string    `json:"reason"`
}

// ServeHTTP implements the wire contract: 401 for a bad signature, 400 for
// an undecodable shape, and 202 once authentication and parsing pass — a
// handler failure must not trigger upstream redelivery storms, so it is
// logged and counted instead of surfaced.
func (in *Ingestor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		in.reject(w, http.StatusBadRequest, "malformed", "read body")
		return
	}

	if !in.verify(body, r.Header.Get(SignatureHeader)) {
		in.reject(w, http.StatusUnauthorized, "unauthenticated", "signature mismatch")
		return
	}

	var ev envelope
	if err := json.Unmarshal(body, &ev); err != nil || ev.Event == "" {
		in.reject(w, http.StatusBadRequest, "malformed", "decode payload")
		return
	}
	if hdr := r.Header.Get(EventTypeHeader); hdr != "" && hdr != ev.Event {
		in.reject(w, http.StatusBadRequest, "malformed", "event type header mismatch")
		return
	}

	start := time.Now()
	result := in.dispatch(r.Context(), ev)
	if in.metrics != nil {
		in.metrics.WebhookEvents.WithLabelValues(ev.Event, result).Inc()
		in.metrics.WebhookLatency.WithLabelValues(ev.Event).
			Observe(float64(time.Since(start).Milliseconds()))
	}

	w.WriteHeader(http.StatusAccepted)
}

func (in *Ingestor) dispatch(ctx context.Context, ev envelope) string {
	var err error
	switch ev.Event {
	case EventSignatureCompleted:
		err = in.dispatcher.HandleSignatureCompleted(ctx, signature.SignatureCompletedEvent{
			EventID:          ev.EventID,
			RequestID:        ev.RequestID,
			ProviderSignerID: ev.SignerID,
			CompletedAt:      ev.CompletedAt,
		})
	case EventNextSignerReady:
		err = in.dispatcher.HandleNextSignerReady(ctx, signature.NextSignerReadyEvent{
			EventID:          ev.EventID,
			RequestID:        ev.RequestID,
			ProviderSignerID: ev.SignerID,
		})
	case EventDocumentCompleted:
		err = in.dispatcher.HandleDocumentCompleted(ctx, signature.DocumentCompletedEvent{
			EventID:            ev.EventID,
			ProviderDocumentID: ev.DocumentID,
			CompletedAt:        ev.CompletedAt,
		})
	case EventSignerDeclined:
		err = in.dispatcher.HandleSignerDeclined(ctx, signature.SignerDeclinedEvent{
			EventID:          ev.EventID,
			RequestID:        ev.RequestID,
			ProviderSignerID: ev.SignerID,
			Reason:           ev.Reason,
		})
	default:
		// Unknown types are acknowledged without effect so a provider
		// rollout of new events never breaks delivery of the known ones.
		in.log.WithField("event", ev.Event).Info("unknown webhook event acknowledged")
		if in.metrics != nil {
			in.metrics.WebhookRejected.WithLabelValues("unknown_event").Inc()
		}
		return "unknown"
	}

	if err != nil {
		// A silently-stuck request is a correctness risk: keep the error
		// visible to operators even though the provider sees a 202.
		in.log.WithError(err).WithFields(logrus.Fields{
			"event":    ev.Event,
			"event_id": ev.EventID,
		}).Error("webhook handler failed")
		if errors.Is(err, signature.ErrProviderUnavailable) || errors.Is(err, signature.ErrStorageFailure) {
			return "retryable"
		}
		return "failed"
	}
	return "processed"
}

func (in *Ingestor) reject(w http.ResponseWriter, status int, reason, detail string) {
	in.log.WithFields(logrus.Fields{
		"reason": reason,
		"detail": detail,
	}).Warn("webhook delivery rejected")
	if in.metrics != nil {
		in.metrics.WebhookRejected.WithLabelValues(reason).Inc()
	}
	http.Error(w, reason, status)
}

// verify recomputes the keyed hash over the raw payload and compares in
// constant time.
func (in *Ingestor) verify(body []byte, header string) bool {
	sig := strings.TrimSpace(header)
	if strings.HasPrefix(strings.ToLower(sig), "sha256=") {
		sig = sig[len("sha256="):]
	}
	got, err := hex.DecodeString(sig)
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha256.New, in.secret)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

// Sign computes the signature header value for a payload. Exported for
// tests and for provider simulators.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
