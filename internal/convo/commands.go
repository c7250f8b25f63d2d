package convo

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"satchat/internal/btc"
	"satchat/internal/intent"
	"satchat/internal/otp"
	"satchat/internal/repo"
	"satchat/internal/twilio"
	"satchat/internal/txn"
)

var (
	sendAmountRe = regexp.MustCompile(`(?i)send\s+([0-9]*\.?[0-9]+)\s*btc`)
	otpCodeRe    = regexp.MustCompile(`^[0-9]{6}$`)
)

// parseSendCommand extracts the amount and address from a send command like
// "Send 0.001 BTC to bc1...".
func parseSendCommand(body string) (amountSats int64, address string, err error) {
	matches := sendAmountRe.FindStringSubmatch(body)
	if matches == nil {
		return 0, "", fmt.Errorf("missing amount")
	}
	amountSats, err = btc.ParseAmount(matches[1])
	if err != nil {
		return 0, "", err
	}
	address = btc.ExtractAddress(body)
	if address == "" {
		return 0, "", btc.ErrAddressInvalid
	}
	return amountSats, address, nil
}

func (e *Engine) handleSend(ctx context.Context, user *repo.User, body string) string {
	amountSats, address, err := parseSendCommand(body)
	if err != nil {
		return twilio.ErrorMessage(fmt.Sprintf("Invalid send command: %s\n\nUse: Send 0.001 BTC to [address]", err))
	}

	tx, err := e.txns.Initiate(ctx, user, address, amountSats)
	if err != nil {
		switch {
		case errors.Is(err, txn.ErrAccountNotReady):
			return twilio.ErrorMessage("Your account is not fully set up. Please complete registration first.")
		case errors.Is(err, txn.ErrAccountLocked):
			return twilio.ErrorMessage("Your account is temporarily locked. Please try again later.")
		case errors.Is(err, txn.ErrInsufficientBalance),
			errors.Is(err, btc.ErrAmountTooSmall),
			errors.Is(err, btc.ErrAmountTooLarge),
			errors.Is(err, btc.ErrAddressInvalid):
			return twilio.ErrorMessage(capitalize(err.Error()))
		default:
			e.logger.Error("send initiation failed", "error", err, "user_id", user.ID)
			e.countError("send")
			return twilio.ErrorMessage("Failed to process send command. Please try again.")
		}
	}

	return twilio.TransactionConfirmationMessage(
		btc.FormatAmount(tx.AmountSats),
		*tx.RecipientAddress,
		tx.Reference,
		btc.FormatAmount(tx.FeeSats),
	)
}

func (e *Engine) handleConfirmation(ctx context.Context, user *repo.User, in intent.Intent) string {
	switch in {
	case intent.Confirm:
		if err := e.txns.RequestAuthorization(ctx, user); err != nil {
			if errors.Is(err, txn.ErrNoPendingTransaction) {
				return e.abandonSession(ctx, user, "Transaction data not found.")
			}
			e.logger.Error("authorization request failed", "error", err, "user_id", user.ID)
			return twilio.ErrorMessage("Failed to send verification code. Please try again.")
		}
		return twilio.OTPPromptMessage()

	case intent.Cancel:
		if err := e.txns.Cancel(ctx, user); err != nil {
			e.logger.Error("cancel failed", "error", err, "user_id", user.ID)
			return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
		}
		return "❌ Transaction cancelled. Your Bitcoin is safe in your wallet."

	default:
		return "Please reply *YES* to confirm the transaction or *NO* to cancel."
	}
}

func (e *Engine) handleOTPInput(ctx context.Context, user *repo.User, body string, in intent.Intent) string {
	if in == intent.Cancel {
		if err := e.txns.Cancel(ctx, user); err != nil {
			e.logger.Error("cancel failed", "error", err, "user_id", user.ID)
			return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
		}
		return "❌ Transaction cancelled."
	}
	if in == intent.Confirm {
		// Re-issue after an expired or lost code.
		if err := e.txns.RequestAuthorization(ctx, user); err != nil {
			e.logger.Error("otp reissue failed", "error", err, "user_id", user.ID)
			return twilio.ErrorMessage("Failed to send verification code. Please try again.")
		}
		return twilio.OTPPromptMessage()
	}

	code := strings.TrimSpace(body)
	if !otpCodeRe.MatchString(code) {
		return "❌ The code must be exactly 6 digits.\n\nPlease enter the 6-digit code sent to your phone:"
	}

	result, err := e.txns.VerifyAndExecute(ctx, user, code)
	if err != nil {
		var mismatch *otp.MismatchError
		switch {
		case errors.As(err, &mismatch):
			if mismatch.Remaining > 0 {
				return fmt.Sprintf("❌ Invalid OTP. %d attempts remaining\n\nPlease try again or reply CANCEL to cancel the transaction.", mismatch.Remaining)
			}
			return "❌ Invalid OTP. No attempts remaining\n\nReply CANCEL to cancel the transaction."
		case errors.Is(err, otp.ErrAccountLocked):
			if cancelErr := e.txns.Cancel(ctx, user); cancelErr != nil {
				e.logger.Error("cancel after lock failed", "error", cancelErr)
			}
			return twilio.ErrorMessage("Too many failed attempts. Your account is temporarily locked for 30 minutes.")
		case errors.Is(err, otp.ErrExpired):
			return "❌ OTP has expired\n\nReply YES to receive a new code or CANCEL to cancel the transaction."
		case errors.Is(err, otp.ErrAttemptsExceeded):
			return "❌ Maximum attempts exceeded\n\nReply CANCEL to cancel the transaction."
		case errors.Is(err, otp.ErrNoActiveCode):
			return e.abandonSession(ctx, user, "No valid verification code found. Please start the transaction again.")
		case errors.Is(err, txn.ErrNoPendingTransaction):
			return e.abandonSession(ctx, user, "Transaction data not found.")
		default:
			e.logger.Error("otp verification failed", "error", err, "user_id", user.ID)
			e.countError("otp")
			return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
		}
	}

	if result.FailReason != "" {
		return twilio.TransactionFailedMessage(result.FailReason)
	}

	newBalance := ""
	if result.BalanceKnown {
		newBalance = btc.FormatAmount(result.NewBalance)
		e.storeBalance(ctx, derefWallet(user), result.NewBalance)
	}
	hash := ""
	if result.Transaction.ChainHash != nil {
		hash = *result.Transaction.ChainHash
	}
	return twilio.TransactionSuccessMessage(
		btc.FormatAmount(result.Transaction.AmountSats),
		result.Transaction.Reference,
		newBalance,
		hash,
	)
}

func (e *Engine) handleBalance(ctx context.Context, user *repo.User) string {
	if !user.AccountReady() {
		return twilio.ErrorMessage("Your account is not fully set up. Please complete registration first.")
	}

	balance, err := e.walletBalance(ctx, *user.WalletID)
	if err != nil {
		e.logger.Error("balance lookup failed", "error", err, "user_id", user.ID)
		e.countError("balance")
		return twilio.ErrorMessage("Unable to retrieve balance. Please try again.")
	}

	fiat := ""
	if e.rates != nil {
		rate, err := e.rates.GetRate(ctx, "USD")
		switch {
		case err != nil:
			e.logger.Warn("rate lookup failed", "error", err)
		case rate > 0:
			fiat = fmt.Sprintf("%.2f USD", float64(balance)/float64(btc.SatoshisPerBTC)*rate)
		}
	}
	return twilio.BalanceMessage(btc.FormatAmount(balance), fiat, *user.BitcoinAddress)
}

const balanceCacheTTL = 30 * time.Second

func balanceKey(walletID string) string { return "balance:" + walletID }

// walletBalance reads through the short-lived balance cache. Cache failures
// fall back to the provider.
func (e *Engine) walletBalance(ctx context.Context, walletID string) (int64, error) {
	if e.balances != nil {
		var cached int64
		ok, err := e.balances.GetJSON(ctx, balanceKey(walletID), &cached)
		if err != nil {
			e.logger.Warn("balance cache read failed", "error", err)
		} else if ok {
			return cached, nil
		}
	}

	balance, err := e.wallet.GetWalletBalance(ctx, walletID)
	if err != nil {
		return 0, err
	}
	e.storeBalance(ctx, walletID, balance)
	return balance, nil
}

func (e *Engine) storeBalance(ctx context.Context, walletID string, balance int64) {
	if e.balances == nil || walletID == "" {
		return
	}
	if err := e.balances.SetJSON(ctx, balanceKey(walletID), balance, balanceCacheTTL); err != nil {
		e.logger.Warn("balance cache write failed", "error", err)
	}
}

func (e *Engine) handleHistory(ctx context.Context, user *repo.User) string {
	if !user.IsKYCCompleted {
		return twilio.ErrorMessage("Your account is not fully set up. Please complete registration first.")
	}

	transactions, err := e.store.ListUserTransactions(ctx, user.ID, 5)
	if err != nil {
		e.logger.Error("history lookup failed", "error", err, "user_id", user.ID)
		return twilio.ErrorMessage("Unable to retrieve history. Please try again.")
	}
	if len(transactions) == 0 {
		return "📊 *Transaction History*\n\nNo transactions found.\n\nYour wallet is ready to send and receive Bitcoin!"
	}

	var b strings.Builder
	b.WriteString("📊 *Transaction History*\n\n")
	for _, tx := range transactions {
		b.WriteString(fmt.Sprintf("%s %s %s BTC\n", statusEmoji(tx.Status), typeText(tx.Type), btc.FormatAmount(tx.AmountSats)))
		b.WriteString(fmt.Sprintf("   %s\n", tx.CreatedAt.Format("2006-01-02 15:04")))
		b.WriteString(fmt.Sprintf("   Ref: %s\n\n", tx.Reference))
	}
	return b.String()
}

func (e *Engine) handleAddress(user *repo.User) string {
	if !user.IsKYCCompleted || user.BitcoinAddress == nil {
		return twilio.ErrorMessage("Your account is not fully set up. Please complete registration first.")
	}
	return twilio.AddressMessage(*user.BitcoinAddress)
}

// abandonSession clears the session and reports why.
func (e *Engine) abandonSession(ctx context.Context, user *repo.User, reason string) string {
	if err := e.store.SetSession(ctx, user.ID, repo.SessionNone, nil); err != nil {
		e.logger.Error("failed to clear session", "error", err)
	}
	user.SessionState = repo.SessionNone
	user.SessionData = nil
	return twilio.ErrorMessage(reason)
}

func statusEmoji(status repo.TxStatus) string {
	switch status {
	case repo.TxCompleted:
		return "✅"
	case repo.TxPending:
		return "⏳"
	case repo.TxProcessing:
		return "🔄"
	case repo.TxFailed:
		return "❌"
	case repo.TxCancelled:
		return "🚫"
	}
	return "❓"
}

func typeText(txType string) string {
	if txType == repo.TxTypeSend {
		return "Sent"
	}
	return "Received"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
