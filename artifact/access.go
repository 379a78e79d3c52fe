package artifact

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SharedAccess grants a registered user read access to a contract they
// signed but do not own.
type SharedAccess struct {
	UserID     string
	ContractID string
	AccessType string
	CreatedAt  time.Time
}

// AccessRepository persists shared-access grants. Granting is idempotent:
// the (user, contract) pair is the primary key and conflicts are no-ops.
type AccessRepository struct {
	pool *pgxpool.Pool
}

func NewAccessRepository(pool *pgxpool.Pool) *AccessRepository {
	return &AccessRepository{pool: pool}
}

// Grant upserts a read grant. Safe to call repeatedly.
func (r *AccessRepository) Grant(ctx context.Context, userID, contractID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO shared_access (user_id, contract_id, access_type)
		VALUES ($1, $2, 'read')
		ON CONFLICT (user_id, contract_id) DO NOTHING`, userID, contractID)
	if err != nil {
		return fmt.Errorf("artifact: grant access: %w", err)
	}
	return nil
}

// GrantTx is Grant inside a caller-held transaction.
func GrantTx(ctx context.Context, tx pgx.Tx, userID, contractID string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO shared_access (user_id, contract_id, access_type)
		VALUES ($1, $2, 'read')
		ON CONFLICT (user_id, contract_id) DO NOTHING`, userID, contractID)
	if err != nil {
		return fmt.Errorf("artifact: grant access: %w", err)
	}
	return nil
}

// HasAccess reports whether user holds a grant on the contract.
func (r *AccessRepository) HasAccess(ctx context.Context, userID, contractID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM shared_access WHERE user_id = $1 AND contract_id = $2
		)`, userID, contractID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("artifact: check access: %w", err)
	}
	return exists, nil
}

// ListForUser returns every grant held by the user, newest first.
func (r *AccessRepository) ListForUser(ctx context.Context, userID string) ([]SharedAccess, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT user_id, contract_id, access_type, created_at
		FROM shared_access
		WHERE user_id = $1
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("artifact: list access: %w", err)
	}
	defer rows.Close()

	out := make([]SharedAccess, 0, 4)
	for rows.Next() {
		var sa SharedAccess
		if err := rows.Scan(&sa.UserID, &sa.ContractID, &sa.AccessType, &sa.CreatedAt); err != nil {
			return nil, fmt.Errorf("artifact: scan access: %w", err)
		}
		out = append(out, sa)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("artifact: iterate access: %w", err)
	}
	return out, nil
}
