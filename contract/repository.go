package contract

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("contract: not found")
	ErrForbidden = errors.New("contract: forbidden")
	ErrBadStatus = errors.New("contract: invalid status transition")
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `id, owner_id, title, status::text, artifact_location, created_at, updated_at`

func (r *Repository) Create(ctx context.Context, ownerID, title string) (Record, error) {
	if ownerID == "" {
		return Record{}, fmt.Errorf("contract: owner id required")
	}
	if title == "" {
		return Record{}, fmt.Errorf("contract: title required")
	}

	row := r.pool.QueryRow(ctx, `
		INSERT INTO contracts (owner_id, title)
		VALUES ($1, $2)
		RETURNING `+selectColumns, ownerID, title)

	rec, err := scanRecord(row)
	if err != nil {
		return Record{}, fmt.Errorf("contract: insert: %w", err)
	}
	return rec, nil
}

func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM contracts WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("contract: get: %w", err)
	}
	return rec, nil
}

func (r *Repository) HasSharedAccess(ctx context.Context, userID, contractID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM shared_access WHERE user_id = $1 AND contract_id = $2)`,
		userID, contractID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contract: shared access lookup: %w", err)
	}
	return exists, nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM contracts
		WHERE owner_id = $1
		ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("contract: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("contract: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate: %w", err)
	}
	return out, nil
}

// ListAccessible returns contracts the user owns plus contracts shared with
// them through signing.
func (r *Repository) ListAccessible(ctx context.Context, userID string) ([]Record, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+selectColumns+`
		FROM contracts c
		WHERE c.owner_id = $1
		   OR EXISTS (SELECT 1 FROM shared_access sa WHERE sa.contract_id = c.id AND sa.user_id = $1)
		ORDER BY c.created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("contract: list accessible: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("contract: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("contract: iterate: %w", err)
	}
	return out, nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.OwnerID,
		&rec.Title,
		&rec.Status,
		&rec.ArtifactLocation,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	return rec, err
}
