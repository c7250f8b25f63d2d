package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"satchat/internal/bitnob"
	"satchat/internal/btc"
	"satchat/internal/metrics"
	"satchat/internal/otp"
	"satchat/internal/repo"
	"satchat/internal/twilio"
)

// fallbackFeeSats is charged when the provider fee estimate is unavailable.
const fallbackFeeSats = 1_000

var (
	// ErrAccountNotReady indicates the user has not completed registration.
	ErrAccountNotReady = errors.New("account not fully set up")

	// ErrAccountLocked indicates the account is under a temporary lock.
	ErrAccountLocked = errors.New("account temporarily locked")

	// ErrInsufficientBalance indicates the wallet cannot cover amount plus fee.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrNoPendingTransaction indicates the session references no live transaction.
	ErrNoPendingTransaction = errors.New("no pending transaction")
)

// WalletGateway is the slice of the wallet provider the manager depends on.
type WalletGateway interface {
	GetWalletBalance(ctx context.Context, walletID string) (int64, error)
	SendBitcoin(ctx context.Context, walletID, address string, amountSats int64, description string) (*bitnob.SendResult, error)
	EstimateFee(ctx context.Context, amountSats int64) (int64, error)
}

// Messenger delivers outbound messages and security codes to users.
type Messenger interface {
	SendWhatsApp(ctx context.Context, toNumber, body string) (*twilio.SendResult, error)
	SendOTP(ctx context.Context, toNumber, code, purpose string) (string, error)
}

// Limits bounds a single send in satoshis.
type Limits struct {
	MinSendSats int64
	MaxSendSats int64
}

// Manager drives the send lifecycle: initiate, confirm, authorize, execute,
// and reconcile provider webhooks.
type Manager struct {
	store     repo.Store
	wallet    WalletGateway
	messenger Messenger
	otps      *otp.Service
	logger    *slog.Logger
	metrics   *metrics.Metrics
	limits    Limits
}

// New creates a transaction manager.
func New(store repo.Store, wallet WalletGateway, messenger Messenger, otps *otp.Service, limits Limits, logger *slog.Logger, m *metrics.Metrics) *Manager {
	return &Manager{
		store:     store,
		wallet:    wallet,
		messenger: messenger,
		otps:      otps,
		logger:    logger.With("component", "txn"),
		metrics:   m,
		limits:    limits,
	}
}

// Initiate validates a send request, records a pending transaction, and
// parks the user in the confirmation step.
func (m *Manager) Initiate(ctx context.Context, user *repo.User, address string, amountSats int64) (*repo.Transaction, error) {
	if !user.AccountReady() {
		return nil, ErrAccountNotReady
	}
	if user.LockedNow(time.Now()) {
		return nil, ErrAccountLocked
	}
	if !btc.ValidAddress(address) {
		return nil, fmt.Errorf("%w: %s", btc.ErrAddressInvalid, address)
	}
	if amountSats < m.limits.MinSendSats {
		return nil, fmt.Errorf("%w: minimum is %s BTC", btc.ErrAmountTooSmall, btc.FormatAmount(m.limits.MinSendSats))
	}
	if amountSats > m.limits.MaxSendSats {
		return nil, fmt.Errorf("%w: maximum is %s BTC", btc.ErrAmountTooLarge, btc.FormatAmount(m.limits.MaxSendSats))
	}

	feeSats, err := m.wallet.EstimateFee(ctx, amountSats)
	if err != nil || feeSats <= 0 {
		if err != nil {
			m.logger.Warn("fee estimate failed, using fallback", "error", err)
		}
		feeSats = fallbackFeeSats
	}

	balance, err := m.wallet.GetWalletBalance(ctx, *user.WalletID)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if balance < amountSats+feeSats {
		return nil, fmt.Errorf("%w: balance %s BTC, need %s BTC",
			ErrInsufficientBalance, btc.FormatAmount(balance), btc.FormatAmount(amountSats+feeSats))
	}

	tx := &repo.Transaction{
		UserID:           user.ID,
		Type:             repo.TxTypeSend,
		AmountSats:       amountSats,
		FeeSats:          feeSats,
		RecipientAddress: &address,
		Status:           repo.TxPending,
		Reference:        btc.NewReference("TXN"),
	}
	if err := m.store.CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("record transaction: %w", err)
	}

	session := &repo.TxnSession{
		TransactionID: tx.ID,
		AmountSats:    amountSats,
		FeeSats:       feeSats,
		Address:       address,
		Reference:     tx.Reference,
	}
	if err := m.store.SetSession(ctx, user.ID, repo.SessionAwaitingConfirm, session); err != nil {
		return nil, fmt.Errorf("store session: %w", err)
	}
	user.SessionState = repo.SessionAwaitingConfirm
	user.SessionData = session

	m.count(repo.TxPending)
	m.logger.Info("transaction initiated", "reference", tx.Reference, "amount_sats", amountSats)
	return tx, nil
}

// Cancel aborts the pending transaction referenced by the session and clears
// the session. Missing rows are tolerated so cancel always lands.
func (m *Manager) Cancel(ctx context.Context, user *repo.User) error {
	session := user.SessionData
	if session != nil && session.TransactionID != "" {
		err := m.store.MarkTransactionCancelled(ctx, session.TransactionID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) && !errors.Is(err, repo.ErrInvalidTransition) {
			return fmt.Errorf("cancel transaction: %w", err)
		}
		if err == nil {
			m.count(repo.TxCancelled)
		}
	}
	return m.clearSession(ctx, user)
}

// RequestAuthorization issues and delivers the transaction OTP, moving the
// session into the code entry step. Delivery failure fails the transaction.
func (m *Manager) RequestAuthorization(ctx context.Context, user *repo.User) error {
	session := user.SessionData
	if session == nil || session.TransactionID == "" {
		return ErrNoPendingTransaction
	}

	code, err := m.otps.Issue(ctx, user, otp.PurposeTransaction, &session.TransactionID)
	if err != nil {
		return fmt.Errorf("issue otp: %w", err)
	}

	if _, err := m.messenger.SendOTP(ctx, user.PhoneNumber, code.Code, otp.PurposeTransaction); err != nil {
		m.logger.Error("otp delivery failed", "error", err, "user_id", user.ID)
		if markErr := m.store.MarkTransactionFailed(ctx, session.TransactionID, "verification code delivery failed"); markErr != nil {
			m.logger.Error("failed to mark transaction failed", "error", markErr)
		} else {
			m.count(repo.TxFailed)
		}
		if clearErr := m.clearSession(ctx, user); clearErr != nil {
			return clearErr
		}
		return fmt.Errorf("send otp: %w", err)
	}

	if err := m.store.SetSession(ctx, user.ID, repo.SessionAwaitingOTP, session); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	user.SessionState = repo.SessionAwaitingOTP
	return nil
}

// ExecResult reports the outcome of an executed transaction.
type ExecResult struct {
	Transaction  *repo.Transaction
	NewBalance   int64
	BalanceKnown bool
	FailReason   string
}

// VerifyAndExecute checks the submitted code and, when it matches, submits
// the send to the wallet provider. A failed verification leaves the session
// in the code entry step so the user can retry.
func (m *Manager) VerifyAndExecute(ctx context.Context, user *repo.User, code string) (*ExecResult, error) {
	session := user.SessionData
	if session == nil || session.TransactionID == "" {
		return nil, ErrNoPendingTransaction
	}

	if err := m.otps.Verify(ctx, user, code, otp.PurposeTransaction); err != nil {
		return nil, err
	}

	return m.execute(ctx, user, session)
}

func (m *Manager) execute(ctx context.Context, user *repo.User, session *repo.TxnSession) (*ExecResult, error) {
	tx, err := m.store.GetTransactionByID(ctx, session.TransactionID)
	if err != nil {
		if clearErr := m.clearSession(ctx, user); clearErr != nil {
			return nil, clearErr
		}
		return nil, fmt.Errorf("load transaction: %w", err)
	}

	if err := m.store.MarkTransactionProcessing(ctx, tx.ID); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}
	m.count(repo.TxProcessing)

	result, err := m.wallet.SendBitcoin(ctx, *user.WalletID, *tx.RecipientAddress, tx.AmountSats,
		fmt.Sprintf("SatChat transaction %s", tx.Reference))
	if err != nil {
		reason := "Transaction failed. Please try again."
		if errors.Is(err, bitnob.ErrInsufficientFunds) {
			reason = "Insufficient funds to complete the transaction."
		}
		if markErr := m.store.MarkTransactionFailed(ctx, tx.ID, reason); markErr != nil {
			m.logger.Error("failed to mark transaction failed", "error", markErr)
		}
		m.count(repo.TxFailed)
		if clearErr := m.clearSession(ctx, user); clearErr != nil {
			return nil, clearErr
		}
		m.logger.Error("send failed", "reference", tx.Reference, "error", err)
		return &ExecResult{Transaction: tx, FailReason: reason}, nil
	}

	var providerID, hash *string
	if result.ID != "" {
		providerID = &result.ID
	}
	if result.TxHash != "" {
		hash = &result.TxHash
	}
	if err := m.store.MarkTransactionCompleted(ctx, tx.ID, providerID, hash); err != nil {
		return nil, fmt.Errorf("mark completed: %w", err)
	}
	m.count(repo.TxCompleted)

	if err := m.clearSession(ctx, user); err != nil {
		return nil, err
	}

	exec := &ExecResult{Transaction: tx}
	if balance, err := m.wallet.GetWalletBalance(ctx, *user.WalletID); err == nil {
		exec.NewBalance = balance
		exec.BalanceKnown = true
	} else {
		m.logger.Warn("balance refresh failed", "error", err)
	}

	m.logger.Info("transaction completed", "reference", tx.Reference)
	return exec, nil
}

// Cleanup unlocks accounts whose hold expired and removes stale codes.
func (m *Manager) Cleanup(ctx context.Context) (unlocked, removedOTPs int64, err error) {
	unlocked, err = m.store.UnlockExpiredAccounts(ctx, time.Now())
	if err != nil {
		return 0, 0, fmt.Errorf("unlock accounts: %w", err)
	}
	removedOTPs, err = m.otps.CleanupExpired(ctx)
	if err != nil {
		return unlocked, 0, fmt.Errorf("cleanup otps: %w", err)
	}
	return unlocked, removedOTPs, nil
}

func (m *Manager) clearSession(ctx context.Context, user *repo.User) error {
	if err := m.store.SetSession(ctx, user.ID, repo.SessionNone, nil); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	user.SessionState = repo.SessionNone
	user.SessionData = nil
	return nil
}

func (m *Manager) count(status repo.TxStatus) {
	if m.metrics != nil {
		m.metrics.Transactions.WithLabelValues(string(status)).Inc()
	}
}
