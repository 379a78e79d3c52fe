package signature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"signflow/artifact"
	"signflow/contract"
	"signflow/notify"
)

// PGRepository implements Repository backed by PostgreSQL. Reads go through
// the pool; every write takes the caller's transaction so multi-entity
// effects stay atomic.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `id, contract_id, initiator_id, provider_document_id, status::text,
	signing_mode::text, message, expires_at, completed_at, artifact_location, created_at, updated_at`

const signatoryColumns = `id, request_id, provider_signer_id, signing_token, signing_url,
	email, display_name, user_id, sequence_index, status::text, signed_at`

// --- reads ---

func (r *PGRepository) GetContract(ctx context.Context, contractID string) (contract.Record, error) {
	var rec contract.Record
	err := r.pool.QueryRow(ctx, `
		SELECT id, owner_id, title, status::text, artifact_location, created_at, updated_at
		FROM contracts WHERE id = $1`, contractID).
		Scan(&rec.ID, &rec.OwnerID, &rec.Title, &rec.Status, &rec.ArtifactLocation, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contract.Record{}, ErrNotFound
		}
		return contract.Record{}, fmt.Errorf("signature: get contract: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) HasActiveRequest(ctx context.Context, contractID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM signature_requests
			WHERE contract_id = $1 AND status IN ('pending','in_progress')
		)`, contractID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("signature: check active request: %w", err)
	}
	return exists, nil
}

func (r *PGRepository) GetRequest(ctx context.Context, requestID string) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM signature_requests WHERE id = $1`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("signature: get request: %w", err)
	}
	return req, nil
}

func (r *PGRepository) GetRequestByProviderDocumentID(ctx context.Context, documentID string) (Request, error) {
	req, err := scanRequest(r.pool.QueryRow(ctx, `
		SELECT `+requestColumns+` FROM signature_requests WHERE provider_document_id = $1`, documentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("signature: get request by document: %w", err)
	}
	return req, nil
}

func (r *PGRepository) ListSignatories(ctx context.Context, requestID string) ([]Signatory, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+signatoryColumns+`
		FROM signatories WHERE request_id = $1
		ORDER BY sequence_index`, requestID)
	if err != nil {
		return nil, fmt.Errorf("signature: list signatories: %w", err)
	}
	defer rows.Close()

	out := make([]Signatory, 0, 4)
	for rows.Next() {
		sig, err := scanSignatory(rows)
		if err != nil {
			return nil, fmt.Errorf("signature: scan signatory: %w", err)
		}
		out = append(out, sig)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signature: iterate signatories: %w", err)
	}
	return out, nil
}

func (r *PGRepository) ListRequestsByInitiator(ctx context.Context, userID string) ([]Request, error) {
	return r.listRequests(ctx, `
		SELECT `+requestColumns+`
		FROM signature_requests
		WHERE initiator_id = $1
		ORDER BY created_at DESC`, userID)
}

func (r *PGRepository) ListRequestsBySignatory(ctx context.Context, userID string) ([]Request, error) {
	return r.listRequests(ctx, `
		SELECT `+requestColumns+`
		FROM signature_requests r
		WHERE EXISTS (SELECT 1 FROM signatories s WHERE s.request_id = r.id AND s.user_id = $1)
		ORDER BY created_at DESC`, userID)
}

func (r *PGRepository) listRequests(ctx context.Context, query string, args ...any) ([]Request, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("signature: list requests: %w", err)
	}
	defer rows.Close()

	out := make([]Request, 0, 8)
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("signature: scan request: %w", err)
		}
		out = append(out, req)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signature: iterate requests: %w", err)
	}
	return out, nil
}

func (r *PGRepository) GetParty(ctx context.Context, userID string) (notify.Party, error) {
	var p notify.Party
	err := r.pool.QueryRow(ctx, `SELECT email, full_name FROM users WHERE id = $1`, userID).
		Scan(&p.Email, &p.Name)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return notify.Party{}, ErrNotFound
		}
		return notify.Party{}, fmt.Errorf("signature: get party: %w", err)
	}
	return p, nil
}

// --- transactional writes ---

// InsertProcessedEvent reserves the external event id. A unique violation
// means the event already had its effect.
func (r *PGRepository) InsertProcessedEvent(ctx context.Context, tx pgx.Tx, eventID, eventType string) error {
	if eventID == "" {
		return fmt.Errorf("signature: empty event id")
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, event_type)
		VALUES ($1, $2)`, eventID, eventType)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrEventAlreadyProcessed
		}
		return fmt.Errorf("signature: insert processed event: %w", err)
	}
	return nil
}

func (r *PGRepository) InsertRequest(ctx context.Context, tx pgx.Tx, req Request) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO signature_requests
			(id, contract_id, initiator_id, provider_document_id, status, signing_mode, message, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.ContractID, req.InitiatorID, req.ProviderDocumentID,
		req.Status, req.Mode, req.Message, req.ExpiresAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrConflict
		}
		return fmt.Errorf("signature: insert request: %w", err)
	}
	return nil
}

// InsertSignatories writes the full signatory set. The user link resolves at
// insert time against registered accounts by case-insensitive email.
func (r *PGRepository) InsertSignatories(ctx context.Context, tx pgx.Tx, sigs []Signatory) error {
	const insertSQL = `
		INSERT INTO signatories
			(id, request_id, provider_signer_id, signing_token, signing_url,
			 email, display_name, user_id, sequence_index, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7,
			(SELECT id FROM users WHERE lower(email) = lower($6)), $8, $9)`
	for _, sig := range sigs {
		if _, err := tx.Exec(ctx, insertSQL,
			sig.ID, sig.RequestID, sig.ProviderSignerID, sig.SigningToken, sig.SigningURL,
			sig.Email, sig.DisplayName, sig.SequenceIndex, sig.Status); err != nil {
			return fmt.Errorf("signature: insert signatory %d: %w", sig.SequenceIndex, err)
		}
	}
	return nil
}

func (r *PGRepository) MarkContractPendingSignature(ctx context.Context, tx pgx.Tx, contractID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE contracts
		SET status = 'pending_signature', updated_at = now()
		WHERE id = $1 AND status = 'draft'`, contractID)
	if err != nil {
		return false, fmt.Errorf("signature: mark contract pending: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) MarkContractSigned(ctx context.Context, tx pgx.Tx, contractID, artifactLocation string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE contracts
		SET status = 'signed', artifact_location = $2, updated_at = now()
		WHERE id = $1`, contractID, artifactLocation); err != nil {
		return fmt.Errorf("signature: mark contract signed: %w", err)
	}
	return nil
}

// RevertContractToDraft undoes the pending_signature hold. Guarded so a
// contract that already completed is never pulled back.
func (r *PGRepository) RevertContractToDraft(ctx context.Context, tx pgx.Tx, contractID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE contracts
		SET status = 'draft', updated_at = now()
		WHERE id = $1 AND status = 'pending_signature'`, contractID); err != nil {
		return fmt.Errorf("signature: revert contract: %w", err)
	}
	return nil
}

func (r *PGRepository) GetRequestForUpdate(ctx context.Context, tx pgx.Tx, requestID string) (Request, error) {
	req, err := scanRequest(tx.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM signature_requests WHERE id = $1
		FOR UPDATE`, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("signature: lock request: %w", err)
	}
	return req, nil
}

func (r *PGRepository) GetSignatoryForUpdate(ctx context.Context, tx pgx.Tx, requestID, providerSignerID string) (Signatory, error) {
	sig, err := scanSignatory(tx.QueryRow(ctx, `
		SELECT `+signatoryColumns+`
		FROM signatories
		WHERE request_id = $1 AND provider_signer_id = $2
		FOR UPDATE`, requestID, providerSignerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Signatory{}, ErrNotFound
		}
		return Signatory{}, fmt.Errorf("signature: lock signatory: %w", err)
	}
	return sig, nil
}

// MarkSignatorySigned is a guarded transition; once signed the row never
// changes again, so re-applying is a no-op.
func (r *PGRepository) MarkSignatorySigned(ctx context.Context, tx pgx.Tx, signatoryID string, at time.Time) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE signatories
		SET status = 'signed', signed_at = $2
		WHERE id = $1 AND status IN ('waiting','pending')`, signatoryID, at)
	if err != nil {
		return false, fmt.Errorf("signature: mark signed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkSignatoryPending opens a signer's turn. In sequential mode the update
// refuses to run while any lower sequence index is still unsigned, so an
// out-of-order delivery cannot surface an illegal pending signer.
func (r *PGRepository) MarkSignatoryPending(ctx context.Context, tx pgx.Tx, sig Signatory, mode Mode) (bool, error) {
	query := `
		UPDATE signatories
		SET status = 'pending'
		WHERE id = $1 AND status = 'waiting'`
	args := []any{sig.ID}
	if mode == ModeSequential {
		query += `
		  AND NOT EXISTS (
			SELECT 1 FROM signatories prior
			WHERE prior.request_id = $2
			  AND prior.sequence_index < $3
			  AND prior.status <> 'signed'
		  )`
		args = append(args, sig.RequestID, sig.SequenceIndex)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("signature: mark pending: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) MarkSignatoryDeclined(ctx context.Context, tx pgx.Tx, signatoryID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE signatories
		SET status = 'declined'
		WHERE id = $1 AND status IN ('waiting','pending')`, signatoryID)
	if err != nil {
		return false, fmt.Errorf("signature: mark declined: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PGRepository) AdvanceRequestInProgress(ctx context.Context, tx pgx.Tx, requestID string) error {
	if _, err := tx.Exec(ctx, `
		UPDATE signature_requests
		SET status = 'in_progress', updated_at = now()
		WHERE id = $1 AND status = 'pending'`, requestID); err != nil {
		return fmt.Errorf("signature: advance request: %w", err)
	}
	return nil
}

func (r *PGRepository) CancelRequest(ctx context.Context, tx pgx.Tx, requestID string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE signature_requests
		SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status IN ('pending','in_progress')`, requestID)
	if err != nil {
		return false, fmt.Errorf("signature: cancel request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CompleteRequest performs the single logical "first completion" of a
// request. Concurrent deliveries race on this guard; exactly one wins.
func (r *PGRepository) CompleteRequest(ctx context.Context, tx pgx.Tx, requestID string, at time.Time, artifactLocation string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		UPDATE signature_requests
		SET status = 'completed', completed_at = $2, artifact_location = $3, updated_at = now()
		WHERE id = $1 AND status IN ('pending','in_progress')`, requestID, at, artifactLocation)
	if err != nil {
		return false, fmt.Errorf("signature: complete request: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ForceAllSigned covers out-of-order delivery where document.completed beat
// a signer's own completion event.
func (r *PGRepository) ForceAllSigned(ctx context.Context, tx pgx.Tx, requestID string, at time.Time) error {
	if _, err := tx.Exec(ctx, `
		UPDATE signatories
		SET status = 'signed', signed_at = COALESCE(signed_at, $2)
		WHERE request_id = $1 AND status <> 'signed'`, requestID, at); err != nil {
		return fmt.Errorf("signature: force all signed: %w", err)
	}
	return nil
}

func (r *PGRepository) CountSigned(ctx context.Context, tx pgx.Tx, requestID string) (signed, total int, err error) {
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FILTER (WHERE status = 'signed'), COUNT(*)
		FROM signatories WHERE request_id = $1`, requestID).Scan(&signed, &total)
	if err != nil {
		return 0, 0, fmt.Errorf("signature: count signed: %w", err)
	}
	return signed, total, nil
}

// SweepExpired terminates overdue rows and reverts their contracts, all in
// the caller's transaction. The status guard makes a second sweep a no-op.
func (r *PGRepository) SweepExpired(ctx context.Context, tx pgx.Tx, now time.Time) ([]ExpiredRequest, error) {
	rows, err := tx.Query(ctx, `
		UPDATE signature_requests
		SET status = 'expired', updated_at = now()
		WHERE status IN ('pending','in_progress')
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		RETURNING id, contract_id`, now)
	if err != nil {
		return nil, fmt.Errorf("signature: sweep expired: %w", err)
	}

	expired := make([]ExpiredRequest, 0, 4)
	for rows.Next() {
		var e ExpiredRequest
		if err := rows.Scan(&e.RequestID, &e.ContractID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("signature: scan expired: %w", err)
		}
		expired = append(expired, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signature: iterate expired: %w", err)
	}

	for _, e := range expired {
		if err := r.RevertContractToDraft(ctx, tx, e.ContractID); err != nil {
			return nil, err
		}
	}
	return expired, nil
}

// GrantSharedAccess propagates read access inside the completion
// transaction so a crash cannot complete a request without its grants.
func (r *PGRepository) GrantSharedAccess(ctx context.Context, tx pgx.Tx, userID, contractID string) error {
	return artifact.GrantTx(ctx, tx, userID, contractID)
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.ContractID,
		&req.InitiatorID,
		&req.ProviderDocumentID,
		&req.Status,
		&req.Mode,
		&req.Message,
		&req.ExpiresAt,
		&req.CompletedAt,
		&req.ArtifactLocation,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	return req, err
}

func scanSignatory(row pgx.Row) (Signatory, error) {
	var sig Signatory
	err := row.Scan(
		&sig.ID,
		&sig.RequestID,
		&sig.ProviderSignerID,
		&sig.SigningToken,
		&sig.SigningURL,
		&sig.Email,
		&sig.DisplayName,
		&sig.UserID,
		&sig.SequenceIndex,
		&sig.Status,
		&sig.SignedAt,
	)
	return sig, err
}
