package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// -- Users --

func scanUserSQL(row *sql.Row) (*User, error) {
	var user User
	var state *string
	var data *string
	if err := row.Scan(
		&user.ID, &user.PhoneNumber, &user.FullName, &user.Email, &user.Status, &user.IsKYCCompleted,
		&user.CustomerID, &user.WalletID, &user.BitcoinAddress, &user.FailedOTPAttempts, &user.IsLocked, &user.LockedUntil,
		&state, &data, &user.LastActivity, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if state != nil {
		user.SessionState = SessionState(*state)
	}
	session, err := sessionDataFromJSON(data)
	if err != nil {
		return nil, err
	}
	user.SessionData = session
	return &user, nil
}

func (r *SQLiteRepository) CreateUser(ctx context.Context, phoneNumber string) (*User, error) {
	id := randomUUID()
	now := time.Now().UTC()
	q := `
INSERT INTO users (id, phone_number, last_activity, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
RETURNING ` + userColumns + `;`
	user, err := scanUserSQL(r.db.QueryRowContext(ctx, q, id, phoneNumber, now, now, now))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

func (r *SQLiteRepository) GetUserByPhone(ctx context.Context, phoneNumber string) (*User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE phone_number = ?
LIMIT 1;`
	user, err := scanUserSQL(r.db.QueryRowContext(ctx, q, phoneNumber))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	return user, nil
}

func (r *SQLiteRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE id = ?
LIMIT 1;`
	user, err := scanUserSQL(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

func (r *SQLiteRepository) GetUserByAddress(ctx context.Context, address string) (*User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE bitcoin_address = ?
LIMIT 1;`
	user, err := scanUserSQL(r.db.QueryRowContext(ctx, q, address))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by address: %w", err)
	}
	return user, nil
}

func (r *SQLiteRepository) UpdateUser(ctx context.Context, user *User) error {
	data, err := sessionDataJSON(user.SessionData)
	if err != nil {
		return err
	}
	var state *string
	if user.SessionState != SessionNone {
		s := string(user.SessionState)
		state = &s
	}
	now := time.Now().UTC()

	const q = `
UPDATE users
SET full_name = ?,
    email = ?,
    status = ?,
    is_kyc_completed = ?,
    customer_id = ?,
    wallet_id = ?,
    bitcoin_address = ?,
    failed_otp_attempts = ?,
    is_locked = ?,
    locked_until = ?,
    session_state = ?,
    session_data = ?,
    last_activity = ?,
    updated_at = ?
WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q,
		user.FullName, user.Email, user.Status, user.IsKYCCompleted,
		user.CustomerID, user.WalletID, user.BitcoinAddress,
		user.FailedOTPAttempts, user.IsLocked, user.LockedUntil,
		state, data, now, now, user.ID,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) SetSession(ctx context.Context, userID string, state SessionState, data *TxnSession) error {
	payload, err := sessionDataJSON(data)
	if err != nil {
		return err
	}
	var stateParam *string
	if state != SessionNone {
		s := string(state)
		stateParam = &s
	}
	now := time.Now().UTC()

	const q = `
UPDATE users
SET session_state = ?,
    session_data = ?,
    last_activity = ?,
    updated_at = ?
WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, stateParam, payload, now, now, userID)
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) UnlockExpiredAccounts(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE users
SET is_locked = FALSE,
    locked_until = NULL,
    failed_otp_attempts = 0,
    updated_at = ?
WHERE is_locked = TRUE AND locked_until IS NOT NULL AND locked_until <= ?;`
	res, err := r.db.ExecContext(ctx, q, now.UTC(), now.UTC())
	if err != nil {
		return 0, fmt.Errorf("unlock expired accounts: %w", err)
	}
	return res.RowsAffected()
}

// -- Transactions --

func scanTransactionSQL(row interface{ Scan(...any) error }) (*Transaction, error) {
	var tx Transaction
	if err := row.Scan(
		&tx.ID, &tx.UserID, &tx.Type, &tx.AmountSats, &tx.FeeSats, &tx.RecipientAddress, &tx.SenderAddress,
		&tx.Status, &tx.ProviderTxID, &tx.ChainHash, &tx.Reference, &tx.Description, &tx.CreatedAt, &tx.CompletedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *SQLiteRepository) CreateTransaction(ctx context.Context, tx *Transaction) error {
	id := randomUUID()
	now := time.Now().UTC()
	q := `
INSERT INTO transactions (id, user_id, type, amount_sats, fee_sats, recipient_address, sender_address, status, provider_tx_id, chain_hash, reference, description, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + txColumns + `;`
	inserted, err := scanTransactionSQL(r.db.QueryRowContext(ctx, q,
		id, tx.UserID, tx.Type, tx.AmountSats, tx.FeeSats,
		tx.RecipientAddress, tx.SenderAddress, tx.Status,
		tx.ProviderTxID, tx.ChainHash, tx.Reference, tx.Description, now,
	))
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	*tx = *inserted
	return nil
}

func (r *SQLiteRepository) GetTransactionByID(ctx context.Context, id string) (*Transaction, error) {
	q := `
SELECT ` + txColumns + `
FROM transactions
WHERE id = ?
LIMIT 1;`
	tx, err := scanTransactionSQL(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by id: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error) {
	q := `
SELECT ` + txColumns + `
FROM transactions
WHERE reference = ?
LIMIT 1;`
	tx, err := scanTransactionSQL(r.db.QueryRowContext(ctx, q, reference))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by reference: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) GetTransactionByProviderID(ctx context.Context, providerTxID string) (*Transaction, error) {
	q := `
SELECT ` + txColumns + `
FROM transactions
WHERE provider_tx_id = ?
LIMIT 1;`
	tx, err := scanTransactionSQL(r.db.QueryRowContext(ctx, q, providerTxID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get transaction by provider id: %w", err)
	}
	return tx, nil
}

func (r *SQLiteRepository) ListUserTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	q := `
SELECT ` + txColumns + `
FROM transactions
WHERE user_id = ?
ORDER BY created_at DESC
LIMIT ?;`
	rows, err := r.db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		tx, err := scanTransactionSQL(rows)
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

func (r *SQLiteRepository) MarkTransactionProcessing(ctx context.Context, id string) error {
	const q = `
UPDATE transactions
SET status = 'processing'
WHERE id = ? AND status = 'pending';`
	return r.markTransition(ctx, id, q)
}

func (r *SQLiteRepository) MarkTransactionCompleted(ctx context.Context, id string, providerTxID, chainHash *string) error {
	const q = `
UPDATE transactions
SET status = 'completed',
    provider_tx_id = COALESCE(provider_tx_id, ?),
    chain_hash = COALESCE(chain_hash, ?),
    completed_at = ?
WHERE id = ? AND status IN ('pending', 'processing');`
	return r.markTransition(ctx, id, q, providerTxID, chainHash, time.Now().UTC())
}

func (r *SQLiteRepository) MarkTransactionFailed(ctx context.Context, id, reason string) error {
	const q = `
UPDATE transactions
SET status = 'failed',
    description = ?,
    completed_at = ?
WHERE id = ? AND status IN ('pending', 'processing');`
	return r.markTransition(ctx, id, q, reason, time.Now().UTC())
}

func (r *SQLiteRepository) MarkTransactionCancelled(ctx context.Context, id string) error {
	const q = `
UPDATE transactions
SET status = 'cancelled',
    completed_at = ?
WHERE id = ? AND status = 'pending';`
	return r.markTransition(ctx, id, q, time.Now().UTC())
}

// markTransition runs a guarded status update; the id placeholder sits last
// in q so extra values bind first.
func (r *SQLiteRepository) markTransition(ctx context.Context, id, q string, args ...any) error {
	params := append(args, id)
	res, err := r.db.ExecContext(ctx, q, params...)
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update transaction status: %w", err)
	}
	if affected > 0 {
		return nil
	}
	if _, err := r.GetTransactionByID(ctx, id); err != nil {
		return err
	}
	return ErrInvalidTransition
}

// -- OTPs --

func scanOTPSQL(row *sql.Row) (*OTP, error) {
	var otp OTP
	if err := row.Scan(
		&otp.ID, &otp.UserID, &otp.Code, &otp.Purpose, &otp.TransactionID,
		&otp.ExpiresAt, &otp.IsUsed, &otp.Attempts, &otp.MaxAttempts, &otp.CreatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &otp, nil
}

func (r *SQLiteRepository) CreateOTP(ctx context.Context, otp *OTP) error {
	id := randomUUID()
	now := time.Now().UTC()
	q := `
INSERT INTO otps (id, user_id, code, purpose, transaction_id, expires_at, max_attempts, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + otpColumns + `;`
	inserted, err := scanOTPSQL(r.db.QueryRowContext(ctx, q,
		id, otp.UserID, otp.Code, otp.Purpose, otp.TransactionID, otp.ExpiresAt.UTC(), otp.MaxAttempts, now,
	))
	if err != nil {
		return fmt.Errorf("create otp: %w", err)
	}
	*otp = *inserted
	return nil
}

func (r *SQLiteRepository) LatestActiveOTP(ctx context.Context, userID, purpose string) (*OTP, error) {
	q := `
SELECT ` + otpColumns + `
FROM otps
WHERE user_id = ? AND purpose = ? AND is_used = FALSE
ORDER BY created_at DESC
LIMIT 1;`
	otp, err := scanOTPSQL(r.db.QueryRowContext(ctx, q, userID, purpose))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest active otp: %w", err)
	}
	return otp, nil
}

func (r *SQLiteRepository) InvalidateOTPs(ctx context.Context, userID, purpose string) (int64, error) {
	const q = `
UPDATE otps
SET is_used = TRUE
WHERE user_id = ? AND purpose = ? AND is_used = FALSE;`
	res, err := r.db.ExecContext(ctx, q, userID, purpose)
	if err != nil {
		return 0, fmt.Errorf("invalidate otps: %w", err)
	}
	return res.RowsAffected()
}

func (r *SQLiteRepository) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	const q = `
UPDATE otps
SET attempts = attempts + 1
WHERE id = ?
RETURNING attempts;`
	var attempts int
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&attempts); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

func (r *SQLiteRepository) MarkOTPUsed(ctx context.Context, id string) error {
	const q = `
UPDATE otps
SET is_used = TRUE
WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}
	return requireAffected(res)
}

func (r *SQLiteRepository) RetireExpiredOTPs(ctx context.Context, before time.Time) (int64, error) {
	const q = `
UPDATE otps
SET is_used = TRUE
WHERE is_used = FALSE AND expires_at < ?;`
	res, err := r.db.ExecContext(ctx, q, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("retire expired otps: %w", err)
	}
	return res.RowsAffected()
}

// -- Webhook events --

func (r *SQLiteRepository) InsertWebhookEvent(ctx context.Context, source, eventType string, payload []byte) (string, error) {
	id := randomUUID()
	const q = `
INSERT INTO webhook_events (id, source, event_type, payload, created_at)
VALUES (?, ?, ?, ?, ?);`
	if _, err := r.db.ExecContext(ctx, q, id, source, eventType, payload, time.Now().UTC()); err != nil {
		return "", fmt.Errorf("insert webhook event: %w", err)
	}
	return id, nil
}

func (r *SQLiteRepository) MarkWebhookEventProcessed(ctx context.Context, id string) error {
	const q = `
UPDATE webhook_events
SET processed = TRUE
WHERE id = ?;`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}
	return requireAffected(res)
}

// -- Statistics --

func (r *SQLiteRepository) Stats(ctx context.Context) (*Stats, error) {
	const q = `
SELECT
    (SELECT COUNT(*) FROM users),
    (SELECT COUNT(*) FROM transactions),
    (SELECT COUNT(*) FROM transactions WHERE status = 'pending');`
	var s Stats
	if err := r.db.QueryRowContext(ctx, q).Scan(&s.TotalUsers, &s.TotalTransactions, &s.PendingTransactions); err != nil {
		return nil, fmt.Errorf("stats: %w", err)
	}
	return &s, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
