package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

const userColumns = `id, phone_number, full_name, email, status, is_kyc_completed,
customer_id, wallet_id, bitcoin_address, failed_otp_attempts, is_locked, locked_until,
session_state, session_data, last_activity, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var user User
	var state *string
	var data *string
	if err := row.Scan(
		&user.ID, &user.PhoneNumber, &user.FullName, &user.Email, &user.Status, &user.IsKYCCompleted,
		&user.CustomerID, &user.WalletID, &user.BitcoinAddress, &user.FailedOTPAttempts, &user.IsLocked, &user.LockedUntil,
		&state, &data, &user.LastActivity, &user.CreatedAt, &user.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
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

// CreateUser inserts a fresh user row for a phone number.
func (r *PostgresRepository) CreateUser(ctx context.Context, phoneNumber string) (*User, error) {
	q := `
INSERT INTO users (phone_number)
VALUES ($1)
RETURNING ` + userColumns + `;`
	user, err := scanUser(r.pool.QueryRow(ctx, q, phoneNumber))
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// GetUserByPhone returns the user identified by phone number.
func (r *PostgresRepository) GetUserByPhone(ctx context.Context, phoneNumber string) (*User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE phone_number = $1
LIMIT 1;`
	user, err := scanUser(r.pool.QueryRow(ctx, q, phoneNumber))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by phone: %w", err)
	}
	return user, nil
}

// GetUserByID returns user by internal identifier.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id string) (*User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE id = $1
LIMIT 1;`
	user, err := scanUser(r.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by id: %w", err)
	}
	return user, nil
}

// GetUserByAddress returns the user owning a deposit address.
func (r *PostgresRepository) GetUserByAddress(ctx context.Context, address string) (*User, error) {
	q := `
SELECT ` + userColumns + `
FROM users
WHERE bitcoin_address = $1
LIMIT 1;`
	user, err := scanUser(r.pool.QueryRow(ctx, q, address))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get user by address: %w", err)
	}
	return user, nil
}

// UpdateUser persists the mutable user columns.
func (r *PostgresRepository) UpdateUser(ctx context.Context, user *User) error {
	data, err := sessionDataJSON(user.SessionData)
	if err != nil {
		return err
	}
	var state *string
	if user.SessionState != SessionNone {
		s := string(user.SessionState)
		state = &s
	}

	const q = `
UPDATE users
SET full_name = $2,
    email = $3,
    status = $4,
    is_kyc_completed = $5,
    customer_id = $6,
    wallet_id = $7,
    bitcoin_address = $8,
    failed_otp_attempts = $9,
    is_locked = $10,
    locked_until = $11,
    session_state = $12,
    session_data = $13,
    last_activity = NOW(),
    updated_at = NOW()
WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q,
		user.ID, user.FullName, user.Email, user.Status, user.IsKYCCompleted,
		user.CustomerID, user.WalletID, user.BitcoinAddress,
		user.FailedOTPAttempts, user.IsLocked, user.LockedUntil,
		state, data,
	)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSession replaces the user's session state and payload.
func (r *PostgresRepository) SetSession(ctx context.Context, userID string, state SessionState, data *TxnSession) error {
	payload, err := sessionDataJSON(data)
	if err != nil {
		return err
	}
	var stateParam *string
	if state != SessionNone {
		s := string(state)
		stateParam = &s
	}

	const q = `
UPDATE users
SET session_state = $2,
    session_data = $3,
    last_activity = NOW(),
    updated_at = NOW()
WHERE id = $1;`
	tag, err := r.pool.Exec(ctx, q, userID, stateParam, payload)
	if err != nil {
		return fmt.Errorf("set session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnlockExpiredAccounts clears locks whose hold period has passed.
func (r *PostgresRepository) UnlockExpiredAccounts(ctx context.Context, now time.Time) (int64, error) {
	const q = `
UPDATE users
SET is_locked = FALSE,
    locked_until = NULL,
    failed_otp_attempts = 0,
    updated_at = NOW()
WHERE is_locked = TRUE AND locked_until IS NOT NULL AND locked_until <= $1;`
	tag, err := r.pool.Exec(ctx, q, now)
	if err != nil {
		return 0, fmt.Errorf("unlock expired accounts: %w", err)
	}
	return tag.RowsAffected(), nil
}
