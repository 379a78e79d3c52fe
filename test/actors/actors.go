package actors

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"signflow/signature"
)

// Actors drive the engine the way production traffic does: through the
// orchestrator and the event handlers, never by flipping rows directly. The
// only raw SQL here is read-only discovery of live requests.

// Creator hammers request creation for one contract. Under contention at most
// one attempt may win; the rest must fail with a clean conflict.
func Creator(ctx context.Context, svc *signature.Service, contractID, initiatorID string, stop <-chan struct{}) error {
	signers := []signature.SignerInput{
		{Name: "Alice Stress", Email: "alice@example.com"},
		{Name: "Bob Stress", Email: "bob@example.com"},
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		params := signature.CreateParams{
			ContractID:  contractID,
			InitiatorID: initiatorID,
			Signers:     signers,
		}
		if rand.Intn(5) == 0 {
			// Short deadline so the expiration sweeper has live work.
			deadline := time.Now().Add(time.Duration(500+rand.Intn(1500)) * time.Millisecond)
			params.ExpiresAt = &deadline
		}
		_, err := svc.Create(ctx, params)
		switch {
		case err == nil:
		case errors.Is(err, signature.ErrConflict):
			// expected under contention
		case errors.Is(err, context.Canceled):
			return nil
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// liveSigner is one actionable target discovered from the database.
type liveSigner struct {
	requestID  string
	documentID string
	signerID   string
	status     string
}

func discover(ctx context.Context, pool *pgxpool.Pool) ([]liveSigner, error) {
	rows, err := pool.Query(ctx, `
SELECT r.id, r.provider_document_id, s.provider_signer_id, s.status
FROM signature_requests r
JOIN signatories s ON s.request_id = r.id
WHERE r.status IN ('pending','in_progress')
ORDER BY r.id, s.sequence_index`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []liveSigner
	for rows.Next() {
		var ls liveSigner
		if err := rows.Scan(&ls.requestID, &ls.documentID, &ls.signerID, &ls.status); err != nil {
			return nil, err
		}
		out = append(out, ls)
	}
	return out, rows.Err()
}

// EventStorm replays the provider's event stream with duplicates and shuffled
// order. Event ids are derived from the target, so redelivery collides in the
// processed-event ledger exactly as a real provider retry would.
func EventStorm(ctx context.Context, svc *signature.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		targets, err := discover(ctx, pool)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		rand.Shuffle(len(targets), func(i, j int) { targets[i], targets[j] = targets[j], targets[i] })

		for _, t := range targets {
			// Fire both lifecycle events for the target regardless of its
			// current state; out-of-order arrivals must be refused, not acted
			// on, and must never error.
			_ = svc.HandleNextSignerReady(ctx, signature.NextSignerReadyEvent{
				EventID:          "ready-" + t.signerID + "-" + t.requestID,
				RequestID:        t.requestID,
				ProviderSignerID: t.signerID,
			})
			_ = svc.HandleSignatureCompleted(ctx, signature.SignatureCompletedEvent{
				EventID:          "signed-" + t.signerID + "-" + t.requestID,
				RequestID:        t.requestID,
				ProviderSignerID: t.signerID,
			})
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Completer delivers document.completed, repeatedly, for every request whose
// signers have all signed. Duplicate deliveries share an event id.
func Completer(ctx context.Context, svc *signature.Service, pool *pgxpool.Pool, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		rows, err := pool.Query(ctx, `
SELECT r.id, r.provider_document_id
FROM signature_requests r
WHERE r.status IN ('pending','in_progress')
  AND NOT EXISTS (
      SELECT 1 FROM signatories s
      WHERE s.request_id = r.id AND s.status <> 'signed')`)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			time.Sleep(50 * time.Millisecond)
			continue
		}
		type done struct{ requestID, documentID string }
		var ready []done
		for rows.Next() {
			var d done
			if err := rows.Scan(&d.requestID, &d.documentID); err != nil {
				break
			}
			ready = append(ready, d)
		}
		rows.Close()

		for _, d := range ready {
			// Deliver twice on purpose; the second must be a no-op.
			for i := 0; i < 2; i++ {
				_ = svc.HandleDocumentCompleted(ctx, signature.DocumentCompletedEvent{
					EventID:            "done-" + d.documentID,
					ProviderDocumentID: d.documentID,
				})
			}
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Canceller races cancellation against the event stream. A cancel may lose to
// a concurrent completion; it must never corrupt one.
func Canceller(ctx context.Context, svc *signature.Service, pool *pgxpool.Pool, initiatorID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var requestID string
		err := pool.QueryRow(ctx, `
SELECT id FROM signature_requests
WHERE status IN ('pending','in_progress') AND initiator_id = $1
ORDER BY random() LIMIT 1`, initiatorID).Scan(&requestID)
		if err == nil && rand.Intn(4) == 0 {
			err = svc.Cancel(ctx, requestID, initiatorID)
			switch {
			case err == nil:
			case errors.Is(err, signature.ErrConflict):
			case errors.Is(err, signature.ErrNotFound):
			}
		}
		time.Sleep(time.Duration(150+rand.Intn(200)) * time.Millisecond)
	}
}

// Sweep runs the expiration pass in a tight loop; repeated sweeps of the same
// window must be no-ops.
func Sweep(ctx context.Context, sw *signature.Sweeper, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, _ = sw.SweepOnce(ctx)
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}
