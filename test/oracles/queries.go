package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant probes. Every query selects VIOLATIONS: a healthy
// database returns zero rows from each.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_live_request_per_contract",
			SQL: `SELECT contract_id, COUNT(*) FROM signature_requests
                  WHERE status IN ('pending','in_progress')
                  GROUP BY contract_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_contiguous_sequence_indices",
			SQL: `SELECT request_id FROM signatories
                  GROUP BY request_id
                  HAVING MIN(sequence_index) <> 1
                      OR MAX(sequence_index) <> COUNT(*)`,
		},
		{
			Name: "O3_completed_request_integrity",
			SQL: `SELECT r.id FROM signature_requests r
                  WHERE r.status = 'completed'
                    AND (r.artifact_location IS NULL
                         OR r.completed_at IS NULL
                         OR EXISTS (SELECT 1 FROM signatories s
                                    WHERE s.request_id = r.id AND s.status <> 'signed'))`,
		},
		{
			Name: "O4_sequential_pending_ordering",
			SQL: `SELECT s.id FROM signatories s
                  JOIN signature_requests r ON r.id = s.request_id
                  WHERE r.signing_mode = 'sequential'
                    AND r.status IN ('pending','in_progress')
                    AND s.status = 'pending'
                    AND EXISTS (SELECT 1 FROM signatories prior
                                WHERE prior.request_id = s.request_id
                                  AND prior.sequence_index < s.sequence_index
                                  AND prior.status <> 'signed')`,
		},
		{
			Name: "O5_sequential_single_pending",
			SQL: `SELECT s.request_id FROM signatories s
                  JOIN signature_requests r ON r.id = s.request_id
                  WHERE r.signing_mode = 'sequential' AND s.status = 'pending'
                  GROUP BY s.request_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O6_shared_access_on_completion",
			SQL: `SELECT s.id FROM signatories s
                  JOIN signature_requests r ON r.id = s.request_id
                  WHERE r.status = 'completed'
                    AND s.user_id IS NOT NULL
                    AND s.user_id <> r.initiator_id
                    AND NOT EXISTS (SELECT 1 FROM shared_access a
                                    WHERE a.user_id = s.user_id
                                      AND a.contract_id = r.contract_id)`,
		},
		{
			Name: "O7_contract_status_consistency",
			SQL: `SELECT c.id, c.status FROM contracts c
                  WHERE (c.status = 'pending_signature'
                         AND NOT EXISTS (SELECT 1 FROM signature_requests r
                                         WHERE r.contract_id = c.id
                                           AND r.status IN ('pending','in_progress')))
                     OR (c.status = 'draft'
                         AND EXISTS (SELECT 1 FROM signature_requests r
                                     WHERE r.contract_id = c.id
                                       AND r.status IN ('pending','in_progress')))
                     OR (c.status = 'signed'
                         AND NOT EXISTS (SELECT 1 FROM signature_requests r
                                         WHERE r.contract_id = c.id
                                           AND r.status = 'completed'))`,
		},
		{
			Name: "O8_signed_at_recorded",
			SQL: `SELECT id FROM signatories
                  WHERE status = 'signed' AND signed_at IS NULL`,
		},
		{
			Name: "O9_expired_request_has_deadline",
			SQL: `SELECT id FROM signature_requests
                  WHERE status = 'expired'
                    AND (expires_at IS NULL OR expires_at > now())`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
