// Package intent maps raw chat text onto a coarse command tag. Classification
// is pure and must stay cheap: it runs on every inbound message.
package intent

import (
	"regexp"
	"strings"
)

// Intent is the coarse command detected in a message.
type Intent string

const (
	Greeting   Intent = "greeting"
	Confirm    Intent = "confirm"
	Cancel     Intent = "cancel"
	Send       Intent = "send"
	Balance    Intent = "balance"
	History    Intent = "history"
	Address    Intent = "address"
	Help       Intent = "help"
	OTP        Intent = "otp"
	NameInput  Intent = "name_input"
	EmailInput Intent = "email_input"
	Unknown    Intent = "unknown"
)

var (
	otpRe      = regexp.MustCompile(`^\d{6}$`)
	emailRe    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	nameWordRe = regexp.MustCompile(`^[a-zA-Z][a-zA-Z\-']*$`)
	sandboxRe  = regexp.MustCompile(`(?i)^join\s+[a-z]+-[a-z]+\s*`)
)

var (
	confirmTokens = map[string]bool{"yes": true, "y": true, "ok": true, "okay": true, "confirm": true}
	cancelTokens  = map[string]bool{"no": true, "n": true, "cancel": true, "stop": true}

	greetingWords = []string{"hi", "hello", "hey", "start", "begin"}
	sendWords     = []string{"send", "transfer", "pay"}
	balanceWords  = []string{"balance", "bal", "money", "funds"}
	historyWords  = []string{"history", "transactions", "activity"}
	addressWords  = []string{"address", "receive", "deposit"}
	helpWords     = []string{"help", "support", "assist"}
)

// StripSandboxPrefix removes the messaging provider's test-sandbox framing
// ("join <word>-<word> ...") so sandbox traffic classifies like production.
func StripSandboxPrefix(text string) string {
	return sandboxRe.ReplaceAllString(text, "")
}

// Classify returns the intent tag for a message. It is total: unrecognised
// input yields Unknown. Resolution order is fixed because patterns overlap;
// short confirm/cancel tokens must win before any substring heuristics so
// that "no" is a cancel rather than part of "know".
func Classify(text string) Intent {
	text = strings.ToLower(strings.TrimSpace(text))
	text = StripSandboxPrefix(text)
	text = strings.TrimSpace(text)
	if text == "" {
		return Unknown
	}

	if confirmTokens[text] {
		return Confirm
	}
	if cancelTokens[text] {
		return Cancel
	}

	words := strings.Fields(text)
	switch {
	case containsWord(words, greetingWords):
		return Greeting
	case containsWord(words, sendWords):
		return Send
	case containsWord(words, balanceWords):
		return Balance
	case containsWord(words, historyWords):
		return History
	case containsWord(words, addressWords):
		return Address
	case containsWord(words, helpWords):
		return Help
	case otpRe.MatchString(text):
		return OTP
	case looksLikeName(words):
		return NameInput
	case emailRe.MatchString(text):
		return EmailInput
	default:
		return Unknown
	}
}

func containsWord(words []string, candidates []string) bool {
	for _, w := range words {
		w = strings.Trim(w, ".,!?")
		for _, c := range candidates {
			if w == c {
				return true
			}
		}
	}
	return false
}

// looksLikeName matches two or more purely alphabetic words, the shape of a
// "First Last" registration reply.
func looksLikeName(words []string) bool {
	if len(words) < 2 {
		return false
	}
	for _, w := range words {
		if !nameWordRe.MatchString(w) {
			return false
		}
	}
	return true
}
