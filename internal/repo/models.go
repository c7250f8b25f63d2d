package repo

import "time"

// SessionState identifies which multi-step conversation flow a user is in.
// The empty value means no active flow (stored as NULL).
type SessionState string

const (
	SessionNone            SessionState = ""
	SessionAwaitingName    SessionState = "awaiting_name"
	SessionAwaitingEmail   SessionState = "awaiting_email"
	SessionAwaitingConfirm SessionState = "awaiting_transaction_confirmation"
	SessionAwaitingOTP     SessionState = "awaiting_otp"
)

// Known reports whether the state is one the engine dispatches on. Anything
// else is treated as corrupt and cleared.
func (s SessionState) Known() bool {
	switch s {
	case SessionNone, SessionAwaitingName, SessionAwaitingEmail, SessionAwaitingConfirm, SessionAwaitingOTP:
		return true
	}
	return false
}

// TxnSession carries the step-scoped payload for the transaction states
// (awaiting_transaction_confirmation and awaiting_otp). The registration
// states carry no payload; their data lives in the user columns themselves.
type TxnSession struct {
	TransactionID string `json:"transaction_id"`
	AmountSats    int64  `json:"amount_sats"`
	FeeSats       int64  `json:"fee_sats"`
	Address       string `json:"address"`
	Reference     string `json:"reference"`
}

// User represents the users table row. Phone number is the identity key.
type User struct {
	ID          string
	PhoneNumber string
	FullName    *string
	Email       *string

	Status         string
	IsKYCCompleted bool

	CustomerID     *string
	WalletID       *string
	BitcoinAddress *string

	FailedOTPAttempts int
	IsLocked          bool
	LockedUntil       *time.Time

	SessionState SessionState
	SessionData  *TxnSession
	LastActivity time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// User status values.
const (
	UserStatusPending   = "pending"
	UserStatusActive    = "active"
	UserStatusSuspended = "suspended"
	UserStatusBlocked   = "blocked"
)

// LockedNow reports whether the account lock is still in force at now.
func (u *User) LockedNow(now time.Time) bool {
	if !u.IsLocked {
		return false
	}
	if u.LockedUntil != nil && now.After(*u.LockedUntil) {
		return false
	}
	return true
}

// AccountReady reports whether registration completed end to end.
func (u *User) AccountReady() bool {
	return u.IsKYCCompleted && u.CustomerID != nil && u.WalletID != nil && u.BitcoinAddress != nil
}

// TxStatus is the transaction lifecycle status.
type TxStatus string

const (
	TxPending    TxStatus = "pending"
	TxProcessing TxStatus = "processing"
	TxCompleted  TxStatus = "completed"
	TxFailed     TxStatus = "failed"
	TxCancelled  TxStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed.
func (s TxStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed || s == TxCancelled
}

// Transaction direction values.
const (
	TxTypeSend    = "send"
	TxTypeReceive = "receive"
)

// Transaction represents the transactions table row. Amounts are satoshis.
type Transaction struct {
	ID     string
	UserID string

	Type       string
	AmountSats int64
	FeeSats    int64

	RecipientAddress *string
	SenderAddress    *string

	Status       TxStatus
	ProviderTxID *string
	ChainHash    *string
	Reference    string
	Description  *string

	CreatedAt   time.Time
	CompletedAt *time.Time
}

// OTP represents the otps table row.
type OTP struct {
	ID            string
	UserID        string
	Code          string
	Purpose       string
	TransactionID *string

	ExpiresAt   time.Time
	IsUsed      bool
	Attempts    int
	MaxAttempts int

	CreatedAt time.Time
}

// Expired reports whether the code is past its expiry at now.
func (o *OTP) Expired(now time.Time) bool {
	return now.After(o.ExpiresAt)
}

// WebhookEvent audits a received provider webhook.
type WebhookEvent struct {
	ID        string
	EventType string
	Source    string
	Payload   []byte
	Processed bool
	CreatedAt time.Time
}

// Stats aggregates counters for the read-only statistics endpoint.
type Stats struct {
	TotalUsers          int64 `json:"total_users"`
	TotalTransactions   int64 `json:"total_transactions"`
	PendingTransactions int64 `json:"pending_transactions"`
}
