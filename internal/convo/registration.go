package convo

import (
	"context"
	"regexp"
	"strings"

	"satchat/internal/btc"
	"satchat/internal/repo"
	"satchat/internal/twilio"
)

var (
	nameRe  = regexp.MustCompile(`^[a-zA-Z](?:[a-zA-Z' -]*[a-zA-Z])?$`)
	emailRe = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
)

// startRegistration begins or resumes account creation. An existing partial
// registration picks up at the first missing field.
func (e *Engine) startRegistration(ctx context.Context, user *repo.User, phoneNumber string) string {
	if user != nil {
		if user.IsKYCCompleted {
			return "You already have an account! Use 'Balance' to check your Bitcoin balance."
		}
		if user.FullName == nil {
			if err := e.store.SetSession(ctx, user.ID, repo.SessionAwaitingName, nil); err != nil {
				e.logger.Error("failed to set session", "error", err)
				return twilio.ErrorMessage("Failed to start registration. Please try again.")
			}
			return "Let's complete your account setup. Please provide your full name:"
		}
		if user.Email == nil {
			if err := e.store.SetSession(ctx, user.ID, repo.SessionAwaitingEmail, nil); err != nil {
				e.logger.Error("failed to set session", "error", err)
				return twilio.ErrorMessage("Failed to start registration. Please try again.")
			}
			return "Please provide your email address:"
		}
		// Profile complete but provisioning never finished.
		return e.completeRegistration(ctx, user)
	}

	user, err := e.store.CreateUser(ctx, phoneNumber)
	if err != nil {
		e.logger.Error("failed to create user", "error", err, "phone", btc.MaskPhone(phoneNumber))
		e.countError("registration")
		return twilio.ErrorMessage("Failed to start registration. Please try again.")
	}
	if err := e.store.SetSession(ctx, user.ID, repo.SessionAwaitingName, nil); err != nil {
		e.logger.Error("failed to set session", "error", err)
		return twilio.ErrorMessage("Failed to start registration. Please try again.")
	}
	e.logger.Info("registration started", "user_id", user.ID)
	return "Great! Let's create your Bitcoin wallet. Please provide your full name:"
}

// cancelRegistration abandons a signup mid-flow. Profile fields saved so far
// are kept, so a later attempt resumes where it left off.
func (e *Engine) cancelRegistration(ctx context.Context, user *repo.User) string {
	if err := e.store.SetSession(ctx, user.ID, repo.SessionNone, nil); err != nil {
		e.logger.Error("failed to clear session", "error", err)
		return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
	}
	user.SessionState = repo.SessionNone
	user.SessionData = nil
	return "❌ Registration cancelled. Send 'Hi' whenever you're ready to set up your wallet."
}

func (e *Engine) handleNameInput(ctx context.Context, user *repo.User, body string) string {
	name, ok := validateFullName(body)
	if !ok {
		return "❌ Please enter your first and last name, letters only.\n\nPlease provide your full name (first and last name):"
	}

	user.FullName = &name
	user.SessionState = repo.SessionAwaitingEmail
	if err := e.store.UpdateUser(ctx, user); err != nil {
		e.logger.Error("failed to save name", "error", err)
		return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
	}
	return "Thank you! Now please provide your email address:"
}

func (e *Engine) handleEmailInput(ctx context.Context, user *repo.User, body string) string {
	email := strings.ToLower(strings.TrimSpace(body))
	if !emailRe.MatchString(email) {
		return "❌ That doesn't look like a valid email address.\n\nPlease provide a valid email address:"
	}

	user.Email = &email
	if err := e.store.UpdateUser(ctx, user); err != nil {
		e.logger.Error("failed to save email", "error", err)
		return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
	}

	return e.completeRegistration(ctx, user)
}

// completeRegistration provisions the provider account and activates the
// user. On provider failure the session clears so the user can retry later
// with the profile fields already saved.
func (e *Engine) completeRegistration(ctx context.Context, user *repo.User) string {
	account, err := e.provisioner.CreateAccount(ctx, *user.FullName, *user.Email, user.PhoneNumber)
	if err != nil {
		e.logger.Error("wallet provisioning failed", "error", err, "user_id", user.ID)
		e.countError("provisioning")
		user.SessionState = repo.SessionNone
		user.SessionData = nil
		if saveErr := e.store.UpdateUser(ctx, user); saveErr != nil {
			e.logger.Error("failed to clear session", "error", saveErr)
		}
		return twilio.ErrorMessage("Failed to create your Bitcoin wallet. Please try again later or contact support.")
	}

	user.CustomerID = &account.CustomerID
	user.WalletID = &account.WalletID
	user.BitcoinAddress = &account.BitcoinAddress
	user.IsKYCCompleted = true
	user.Status = repo.UserStatusActive
	user.SessionState = repo.SessionNone
	user.SessionData = nil
	if err := e.store.UpdateUser(ctx, user); err != nil {
		e.logger.Error("failed to activate user", "error", err)
		return twilio.ErrorMessage("Sorry, something went wrong. Please try again.")
	}

	e.logger.Info("registration completed", "user_id", user.ID)
	return twilio.AccountCreatedMessage(account.BitcoinAddress, btc.FormatAmount(0))
}

// validateFullName requires at least two alphabetic words.
func validateFullName(s string) (string, bool) {
	name := strings.Join(strings.Fields(s), " ")
	if len(name) < 3 || len(name) > 100 {
		return "", false
	}
	words := strings.Fields(name)
	if len(words) < 2 {
		return "", false
	}
	for _, word := range words {
		if !nameRe.MatchString(word) {
			return "", false
		}
	}
	return name, true
}
