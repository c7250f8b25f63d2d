package btc

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"
)

var nonDigitRe = regexp.MustCompile(`\D`)

const refAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// NewReference generates a human-readable unique transaction reference, e.g.
// "TXN-20260829153000-A7K2".
func NewReference(prefix string) string {
	if prefix == "" {
		prefix = "TXN"
	}
	suffix := make([]byte, 4)
	for i := range suffix {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(refAlphabet))))
		if err != nil {
			// crypto/rand failing means the platform is broken; the
			// zero index keeps the reference well-formed regardless.
			n = big.NewInt(0)
		}
		suffix[i] = refAlphabet[n.Int64()]
	}
	return fmt.Sprintf("%s-%s-%s", prefix, time.Now().UTC().Format("20060102150405"), suffix)
}

// NormalizePhone reduces a phone number to international +<digits> form.
func NormalizePhone(phone string) string {
	digits := nonDigitRe.ReplaceAllString(phone, "")
	switch {
	case strings.HasPrefix(digits, "0") && len(digits) == 10:
		// Local Kenyan format 07xx -> +2547xx.
		return "+254" + digits[1:]
	case strings.HasPrefix(digits, "254") && len(digits) == 12:
		return "+" + digits
	case strings.HasPrefix(digits, "1") && len(digits) == 11:
		return "+" + digits
	case len(digits) >= 10:
		return "+" + digits
	default:
		return phone
	}
}

// MaskPhone hides all but the last four characters for logging.
func MaskPhone(phone string) string {
	const show = 4
	if len(phone) <= show {
		return strings.Repeat("*", len(phone))
	}
	return strings.Repeat("*", len(phone)-show) + phone[len(phone)-show:]
}
