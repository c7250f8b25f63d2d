package repo

import (
	"context"
	"io/fs"
	"time"
)

// Store defines the interface for data persistence.
type Store interface {
	// Lifecycle
	Close()
	Ping(ctx context.Context) error
	RunMigrations(ctx context.Context, filesystem fs.FS) error

	// Users
	CreateUser(ctx context.Context, phoneNumber string) (*User, error)
	GetUserByPhone(ctx context.Context, phoneNumber string) (*User, error)
	GetUserByID(ctx context.Context, id string) (*User, error)
	GetUserByAddress(ctx context.Context, address string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error
	SetSession(ctx context.Context, userID string, state SessionState, data *TxnSession) error
	UnlockExpiredAccounts(ctx context.Context, now time.Time) (int64, error)

	// Transactions
	CreateTransaction(ctx context.Context, tx *Transaction) error
	GetTransactionByID(ctx context.Context, id string) (*Transaction, error)
	GetTransactionByReference(ctx context.Context, reference string) (*Transaction, error)
	GetTransactionByProviderID(ctx context.Context, providerTxID string) (*Transaction, error)
	ListUserTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error)
	MarkTransactionProcessing(ctx context.Context, id string) error
	MarkTransactionCompleted(ctx context.Context, id string, providerTxID, chainHash *string) error
	MarkTransactionFailed(ctx context.Context, id, reason string) error
	MarkTransactionCancelled(ctx context.Context, id string) error

	// OTPs
	CreateOTP(ctx context.Context, otp *OTP) error
	LatestActiveOTP(ctx context.Context, userID, purpose string) (*OTP, error)
	InvalidateOTPs(ctx context.Context, userID, purpose string) (int64, error)
	IncrementOTPAttempts(ctx context.Context, id string) (int, error)
	MarkOTPUsed(ctx context.Context, id string) error
	RetireExpiredOTPs(ctx context.Context, before time.Time) (int64, error)

	// Webhook events
	InsertWebhookEvent(ctx context.Context, source, eventType string, payload []byte) (string, error)
	MarkWebhookEventProcessed(ctx context.Context, id string) error

	// Statistics
	Stats(ctx context.Context) (*Stats, error)
}
