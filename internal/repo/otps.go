package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const otpColumns = `id, user_id, code, purpose, transaction_id, expires_at, is_used, attempts, max_attempts, created_at`

func scanOTP(row pgx.Row) (*OTP, error) {
	var otp OTP
	if err := row.Scan(
		&otp.ID, &otp.UserID, &otp.Code, &otp.Purpose, &otp.TransactionID,
		&otp.ExpiresAt, &otp.IsUsed, &otp.Attempts, &otp.MaxAttempts, &otp.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &otp, nil
}

// CreateOTP stores a new one-time code and fills the generated fields.
func (r *PostgresRepository) CreateOTP(ctx context.Context, otp *OTP) error {
	q := `
INSERT INTO otps (user_id, code, purpose, transaction_id, expires_at, max_attempts)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING ` + otpColumns + `;`
	inserted, err := scanOTP(r.pool.QueryRow(ctx, q,
		otp.UserID, otp.Code, otp.Purpose, otp.TransactionID, otp.ExpiresAt, otp.MaxAttempts,
	))
	if err != nil {
		return fmt.Errorf("create otp: %w", err)
	}
	*otp = *inserted
	return nil
}

// LatestActiveOTP returns the newest unused code for a user and purpose.
func (r *PostgresRepository) LatestActiveOTP(ctx context.Context, userID, purpose string) (*OTP, error) {
	q := `
SELECT ` + otpColumns + `
FROM otps
WHERE user_id = $1 AND purpose = $2 AND is_used = FALSE
ORDER BY created_at DESC
LIMIT 1;`
	otp, err := scanOTP(r.pool.QueryRow(ctx, q, userID, purpose))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("latest active otp: %w", err)
	}
	return otp, nil
}

// InvalidateOTPs retires all unused codes for a user and purpose.
func (r *PostgresRepository) InvalidateOTPs(ctx context.Context, userID, purpose string) (int64, error) {
	const q = `
UPDATE otps
SET is_used = TRUE
WHERE user_id = $1 AND purpose = $2 AND is_used = FALSE;`
	tag, err := r.pool.Exec(ctx, q, userID, purpose)
	if err != nil {
		return 0, fmt.Errorf("invalidate otps: %w", err)
	}
	return tag.RowsAffected(), nil
}

// IncrementOTPAttempts bumps the attempt counter and returns the new value.
func (r *PostgresRepository) IncrementOTPAttempts(ctx context.Context, id string) (int, error) {
	const q = `
UPDATE otps
SET attempts = attempts + 1
WHERE id = $1
RETURNING attempts;`
	var attempts int
	if err := r.pool.QueryRow(ctx, q, id).Scan(&attempts); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("increment otp attempts: %w", err)
	}
	return attempts, nil
}

// MarkOTPUsed retires a code after a successful verification.
func (r *PostgresRepository) MarkOTPUsed(ctx context.Context, id string) error {
	const q = `
UPDATE otps
SET is_used = TRUE
WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, id)
	if err != nil {
		return fmt.Errorf("mark otp used: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RetireExpiredOTPs marks codes past their expiry as used. Rows are kept for
// audit; a used row can never verify again.
func (r *PostgresRepository) RetireExpiredOTPs(ctx context.Context, before time.Time) (int64, error) {
	const q = `
UPDATE otps
SET is_used = TRUE
WHERE is_used = FALSE AND expires_at < $1;`
	tag, err := r.pool.Exec(ctx, q, before)
	if err != nil {
		return 0, fmt.Errorf("retire expired otps: %w", err)
	}
	return tag.RowsAffected(), nil
}
