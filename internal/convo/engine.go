package convo

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"satchat/internal/bitnob"
	"satchat/internal/btc"
	"satchat/internal/intent"
	"satchat/internal/metrics"
	"satchat/internal/repo"
	"satchat/internal/twilio"
	"satchat/internal/txn"
)

// AccountProvisioner creates the wallet-provider resources during registration.
type AccountProvisioner interface {
	CreateAccount(ctx context.Context, fullName, email, phoneNumber string) (*bitnob.Account, error)
}

// RateLimiter throttles inbound message processing per phone number.
type RateLimiter interface {
	Allow(ctx context.Context, key string) bool
}

// RateSource quotes BTC against a fiat currency.
type RateSource interface {
	GetRate(ctx context.Context, currency string) (float64, error)
}

// BalanceCache holds recently fetched wallet balances.
type BalanceCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Engine routes inbound chat messages through intent classification and the
// per-user session state machine, returning the reply body.
type Engine struct {
	store       repo.Store
	wallet      txn.WalletGateway
	provisioner AccountProvisioner
	txns        *txn.Manager
	limiter     RateLimiter
	rates       RateSource
	balances    BalanceCache
	logger      *slog.Logger
	metrics     *metrics.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a conversation engine. limiter, rates, and balances may be nil.
func New(store repo.Store, wallet txn.WalletGateway, provisioner AccountProvisioner, txns *txn.Manager, limiter RateLimiter, rates RateSource, balances BalanceCache, logger *slog.Logger, m *metrics.Metrics) *Engine {
	return &Engine{
		store:       store,
		wallet:      wallet,
		provisioner: provisioner,
		txns:        txns,
		limiter:     limiter,
		rates:       rates,
		balances:    balances,
		logger:      logger.With("component", "convo"),
		metrics:     m,
		locks:       map[string]*sync.Mutex{},
	}
}

// HandleMessage processes one inbound message and returns the reply body.
// Messages from the same phone number are serialized; each user's session
// moves through at most one step per message.
func (e *Engine) HandleMessage(ctx context.Context, phoneNumber, body string) string {
	phoneNumber = btc.NormalizePhone(phoneNumber)

	lock := e.userLock(phoneNumber)
	lock.Lock()
	defer lock.Unlock()

	if e.limiter != nil && !e.limiter.Allow(ctx, phoneNumber) {
		return "⏳ You're sending messages too quickly. Please wait a moment and try again."
	}

	body = intent.StripSandboxPrefix(body)
	in := intent.Classify(body)
	if e.metrics != nil {
		e.metrics.IncomingMessages.WithLabelValues(string(in)).Inc()
	}

	user, err := e.store.GetUserByPhone(ctx, phoneNumber)
	if err != nil && !errors.Is(err, repo.ErrNotFound) {
		e.logger.Error("user lookup failed", "error", err, "phone", btc.MaskPhone(phoneNumber))
		e.countError("user_lookup")
		return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
	}

	if user != nil && user.SessionState != repo.SessionNone {
		return e.handleSession(ctx, user, body, in)
	}
	return e.handleIntent(ctx, user, phoneNumber, body, in)
}

// handleSession dispatches on the active session step. A corrupt state is
// cleared and the message re-dispatched as a fresh intent, once.
func (e *Engine) handleSession(ctx context.Context, user *repo.User, body string, in intent.Intent) string {
	switch user.SessionState {
	case repo.SessionAwaitingName:
		if in == intent.Cancel {
			return e.cancelRegistration(ctx, user)
		}
		return e.handleNameInput(ctx, user, body)
	case repo.SessionAwaitingEmail:
		if in == intent.Cancel {
			return e.cancelRegistration(ctx, user)
		}
		return e.handleEmailInput(ctx, user, body)
	case repo.SessionAwaitingConfirm:
		return e.handleConfirmation(ctx, user, in)
	case repo.SessionAwaitingOTP:
		return e.handleOTPInput(ctx, user, body, in)
	default:
		e.logger.Warn("clearing unknown session state", "state", user.SessionState, "user_id", user.ID)
		if err := e.store.SetSession(ctx, user.ID, repo.SessionNone, nil); err != nil {
			e.logger.Error("failed to clear session", "error", err)
			return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
		}
		user.SessionState = repo.SessionNone
		user.SessionData = nil
		return e.handleIntent(ctx, user, user.PhoneNumber, body, in)
	}
}

func (e *Engine) handleIntent(ctx context.Context, user *repo.User, phoneNumber, body string, in intent.Intent) string {
	switch {
	case in == intent.Greeting:
		return e.handleGreeting(ctx, user)
	case in == intent.Confirm:
		return e.startRegistration(ctx, user, phoneNumber)
	case in == intent.Send && user != nil:
		return e.handleSend(ctx, user, body)
	case in == intent.Balance && user != nil:
		return e.handleBalance(ctx, user)
	case in == intent.History && user != nil:
		return e.handleHistory(ctx, user)
	case in == intent.Address && user != nil:
		return e.handleAddress(user)
	case in == intent.Help:
		return twilio.HelpMessage()
	case user == nil:
		return twilio.WelcomeMessage()
	default:
		return twilio.InvalidCommandMessage()
	}
}

func (e *Engine) handleGreeting(ctx context.Context, user *repo.User) string {
	if user != nil && user.IsKYCCompleted {
		if balance, err := e.walletBalance(ctx, derefWallet(user)); err == nil {
			return "Hello! Welcome back to SatChat. Your balance is " + btc.FormatAmount(balance) + " BTC. How can I help you today?"
		}
		return "Hello! Welcome back to SatChat. How can I help you today?"
	}
	return twilio.WelcomeMessage()
}

func (e *Engine) userLock(phoneNumber string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[phoneNumber]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[phoneNumber] = lock
	}
	return lock
}

func (e *Engine) countError(component string) {
	if e.metrics != nil {
		e.metrics.Errors.WithLabelValues(component).Inc()
	}
}

func derefWallet(user *repo.User) string {
	if user.WalletID == nil {
		return ""
	}
	return *user.WalletID
}
