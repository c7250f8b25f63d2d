package otp

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"satchat/internal/metrics"
	"satchat/internal/repo"
)

// OTP purposes.
const (
	PurposeTransaction  = "transaction"
	PurposeRegistration = "registration"
	PurposeLogin        = "login"
)

var (
	// ErrNoActiveCode indicates no unused code exists for the purpose.
	ErrNoActiveCode = errors.New("no valid otp found")

	// ErrExpired indicates the active code is past its expiry.
	ErrExpired = errors.New("otp has expired")

	// ErrAttemptsExceeded indicates the code burned through its attempt budget.
	ErrAttemptsExceeded = errors.New("maximum attempts exceeded")

	// ErrAccountLocked indicates repeated failures locked the account.
	ErrAccountLocked = errors.New("account locked")
)

// MismatchError reports a wrong code and how many attempts remain on it.
type MismatchError struct {
	Remaining int
}

func (e *MismatchError) Error() string {
	if e.Remaining > 0 {
		return fmt.Sprintf("invalid otp, %d attempts remaining", e.Remaining)
	}
	return "invalid otp, no attempts remaining"
}

// Config holds OTP issuance and verification policy.
type Config struct {
	Length        int
	TTL           time.Duration
	MaxAttempts   int
	LockThreshold int
	LockDuration  time.Duration
}

// Service issues and verifies one-time codes against the store.
type Service struct {
	store   repo.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	cfg     Config
	now     func() time.Time
}

// New creates an OTP service.
func New(cfg Config, store repo.Store, logger *slog.Logger, m *metrics.Metrics) *Service {
	if cfg.Length <= 0 {
		cfg.Length = 6
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.LockThreshold <= 0 {
		cfg.LockThreshold = 3
	}
	if cfg.LockDuration <= 0 {
		cfg.LockDuration = 30 * time.Minute
	}
	return &Service{
		store:   store,
		logger:  logger.With("component", "otp"),
		metrics: m,
		cfg:     cfg,
		now:     time.Now,
	}
}

// Issue creates a fresh code for the user and purpose, retiring any unused
// earlier codes so only the newest one verifies.
func (s *Service) Issue(ctx context.Context, user *repo.User, purpose string, transactionID *string) (*repo.OTP, error) {
	if _, err := s.store.InvalidateOTPs(ctx, user.ID, purpose); err != nil {
		return nil, fmt.Errorf("invalidate previous otps: %w", err)
	}

	code, err := generateCode(s.cfg.Length)
	if err != nil {
		return nil, fmt.Errorf("generate otp: %w", err)
	}

	record := &repo.OTP{
		UserID:        user.ID,
		Code:          code,
		Purpose:       purpose,
		TransactionID: transactionID,
		ExpiresAt:     s.now().Add(s.cfg.TTL),
		MaxAttempts:   s.cfg.MaxAttempts,
	}
	if err := s.store.CreateOTP(ctx, record); err != nil {
		return nil, fmt.Errorf("store otp: %w", err)
	}

	if s.metrics != nil {
		s.metrics.OTPIssued.WithLabelValues(purpose).Inc()
	}
	s.logger.Info("otp issued", "user_id", user.ID, "purpose", purpose)
	return record, nil
}

// Verify checks a submitted code against the newest active one. Every call
// consumes exactly one attempt on that code. A wrong code also counts against
// the user's account-level failure budget and locks the account when the
// threshold is reached.
func (s *Service) Verify(ctx context.Context, user *repo.User, code, purpose string) error {
	record, err := s.store.LatestActiveOTP(ctx, user.ID, purpose)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			s.observe("no_active")
			return ErrNoActiveCode
		}
		return fmt.Errorf("load otp: %w", err)
	}

	if record.Expired(s.now()) {
		s.observe("expired")
		return ErrExpired
	}
	if record.Attempts >= record.MaxAttempts {
		s.observe("attempts_exceeded")
		return ErrAttemptsExceeded
	}

	attempts, err := s.store.IncrementOTPAttempts(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}

	if subtle.ConstantTimeCompare([]byte(record.Code), []byte(code)) == 1 {
		if err := s.store.MarkOTPUsed(ctx, record.ID); err != nil {
			return fmt.Errorf("retire otp: %w", err)
		}
		if user.FailedOTPAttempts != 0 {
			user.FailedOTPAttempts = 0
			if err := s.store.UpdateUser(ctx, user); err != nil {
				return fmt.Errorf("reset failure counter: %w", err)
			}
		}
		s.observe("success")
		s.logger.Info("otp verified", "user_id", user.ID, "purpose", purpose)
		return nil
	}

	user.FailedOTPAttempts++
	if user.FailedOTPAttempts >= s.cfg.LockThreshold {
		until := s.now().Add(s.cfg.LockDuration)
		user.IsLocked = true
		user.LockedUntil = &until
		s.logger.Warn("account locked after otp failures", "user_id", user.ID, "until", until)
	}
	if err := s.store.UpdateUser(ctx, user); err != nil {
		return fmt.Errorf("record failure: %w", err)
	}

	s.observe("mismatch")
	if user.IsLocked {
		return ErrAccountLocked
	}
	remaining := record.MaxAttempts - attempts
	if remaining < 0 {
		remaining = 0
	}
	return &MismatchError{Remaining: remaining}
}

// CleanupExpired retires codes whose expiry has passed.
func (s *Service) CleanupExpired(ctx context.Context) (int64, error) {
	retired, err := s.store.RetireExpiredOTPs(ctx, s.now())
	if err != nil {
		return 0, err
	}
	if retired > 0 {
		s.logger.Info("expired otps retired", "count", retired)
	}
	return retired, nil
}

func (s *Service) observe(outcome string) {
	if s.metrics != nil {
		s.metrics.OTPVerified.WithLabelValues(outcome).Inc()
	}
}

func generateCode(length int) (string, error) {
	digits := make([]byte, length)
	for i := range digits {
		n, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		digits[i] = byte('0' + n.Int64())
	}
	return string(digits), nil
}
