package repo

import (
	"context"
	"fmt"
)

// InsertWebhookEvent audits a received webhook payload and returns the row id.
func (r *PostgresRepository) InsertWebhookEvent(ctx context.Context, source, eventType string, payload []byte) (string, error) {
	const q = `
INSERT INTO webhook_events (source, event_type, payload)
VALUES ($1, $2, $3)
RETURNING id;`
	var id string
	if err := r.pool.QueryRow(ctx, q, source, eventType, payload).Scan(&id); err != nil {
		return "", fmt.Errorf("insert webhook event: %w", err)
	}
	return id, nil
}

// MarkWebhookEventProcessed flags an audited event as handled.
func (r *PostgresRepository) MarkWebhookEventProcessed(ctx context.Context, id string) error {
	const q = `
UPDATE webhook_events
SET processed = TRUE
WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Stats aggregates counters for the statistics endpoint.
func (r *PostgresRepository) Stats(ctx context.Context) (*Stats, error) {
	const q = `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM transactions),
    (SELECT COUNT(*) FROM transactions WHERE status = 'pending');`
	var s Stats
	if err := r.pool.QueryRow(ctx, q).Scan(&s.TotalUsers, &s.TotalTransactions, &s.PendingTransactions); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &s, nil
}
