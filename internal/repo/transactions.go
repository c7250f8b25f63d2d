package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

const txColumns = `id, user_id, type, amount_sats, fee_sats, recipient_address, sender_address,
status, provider_tx_id, chain_hash, reference, description, created_at, completed_at`

func scanTransaction(row pgx.Row) (*Transaction, error) {
	var tx Transaction
	if err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Type, &tx.AmountSats, &tx.FeeSats, &tx.RecipientAddress, &tx.SenderAddress,
		&tx.Status, &tx.ProviderTxID, &tx.ChainHash, &tx.Reference, &tx.Description, &tx.CreatedAt, &tx.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// CreateTransaction stores a new transaction record and fills the generated fields.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *Transaction) error {
	q := `
INSERT INTO transactions (user_id, type, amount_sats, fee_sats, recipient_address, sender_address, status, provider_tx_id, chain_hash, reference, description)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING ` + txColumns + `;`
	inserted, err := scanTransaction(r.pool.QueryRow(ctx, q,
		tx.UserID, tx.Type, tx.AmountSats, tx.FeeSats,
		tx.RecipientAddress, tx.SenderAddress, tx.Status,
		tx.ProviderTxID, tx.ChainHash, tx.Reference, tx.Description,
	))
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	*tx = *inserted
	return nil
}

// GetTransactionByID returns a transaction by internal identifier.
func (r *PostgresRepository) GetTransactionByID(ctx context.Context, id string) (*Transaction, error) {
	q := `
SELECT ` + txColumns + `
FROM transactions
WHERE id = $1
LIMIT 1;`
	tx, err := scanTransaction(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return tx, nil
}

// GetTransactionByReference returns a transaction by its human-readable reference.
func (r *PostgresRepository) GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	q := `
SELECT ` + txColumns + `
FROM transactions
WHERE reference = $1
LIMIT 1;`
	tx, err := scanTransaction(r.pool.QueryRow(ctx, q, reference))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by reference: %w", err)
	}
	return tx, nil
}

// GetTransactionByProviderID returns a transaction by the wallet provider's identifier.
func (r *PostgresRepository) GetTransactionByProviderID(ctx context.Context, providerTxID string) (*Transaction, error) {
	q := `
SELECT ` + txColumns + `
FROM transactions
WHERE provider_tx_id = $1
LIMIT 1;`
	tx, err := scanTransaction(r.pool.QueryRow(ctx, q, providerTxID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by provider id: %w", err)
	}
	return tx, nil
}

// ListUserTransactions returns the user's most recent transactions.
func (r *PostgresRepository) ListUserTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	q := `
SELECT ` + txColumns + `
FROM transactions
WHERE user_id = $1
ORDER BY created_at DESC
LIMIT $2;`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("list transactions: %w", err)
		}
		out = append(out, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return out, nil
}

// MarkTransactionProcessing moves a pending transaction into processing.
func (r *PostgresRepository) MarkTransactionProcessing(ctx context.Context, id string) error {
	const q = `
UPDATE transactions
SET status = 'processing'
WHERE id = $1 AND status = 'pending';`
	return r.markTransition(ctx, id, q)
}

// MarkTransactionCompleted finalizes a transaction, recording provider identifiers.
// The chain hash is write-once.
func (r *PostgresRepository) MarkTransactionCompleted(ctx context.Context, id string, providerTxID, chainHash *string) error {
	const q = `
UPDATE transactions
SET status = 'completed',
    provider_tx_id = COALESCE(provider_tx_id, $2),
    chain_hash = COALESCE(chain_hash, $3),
    completed_at = NOW()
WHERE id = $1 AND status IN ('pending', 'processing');`
	return r.markTransition(ctx, id, q, providerTxID, chainHash)
}

// MarkTransactionFailed finalizes a transaction as failed with a reason.
func (r *PostgresRepository) MarkTransactionFailed(ctx context.Context, id, reason string) error {
	const q = `
UPDATE transactions
SET status = 'failed',
    description = $2,
    completed_at = NOW()
WHERE id = $1 AND status IN ('pending', 'processing');`
	return r.markTransition(ctx, id, q, reason)
}

// MarkTransactionCancelled cancels a transaction that was never submitted.
func (r *PostgresRepository) MarkTransactionCancelled(ctx context.Context, id string) error {
	const q = `
UPDATE transactions
SET status = 'cancelled',
    completed_at = NOW()
WHERE id = $1 AND status = 'pending';`
	return r.markTransition(ctx, id, q)
}

// markTransition runs a guarded status update; the first parameter of q must
// be the transaction id. Zero affected rows means the row is missing or the
// current status forbids the move.
func (r *PostgresRepository) markTransition(ctx context.Context, id, q string, args ...any) error {
	params := append([]any{id}, args...)
	tag, err := r.pool.Exec(ctx, q, params...)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if _, err := r.GetTransactionByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}
