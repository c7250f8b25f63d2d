package btc

import (
	"errors"
	"regexp"
	"strings"
)

// ErrAddressInvalid indicates the text is not a recognized Bitcoin address.
var ErrAddressInvalid = errors.New("invalid bitcoin address")

// Address formats accepted for sends: legacy P2PKH (1...), P2SH (3...) and
// bech32 (bc1...). Checksum validation is left to the wallet provider.
var (
	legacyAddressRe = regexp.MustCompile(`^[13][a-km-zA-HJ-NP-Z1-9]{25,34}$`)
	bech32AddressRe = regexp.MustCompile(`^bc1[a-z0-9]{39,59}$`)

	legacyScanRe = regexp.MustCompile(`\b[13][a-km-zA-HJ-NP-Z1-9]{25,34}\b`)
	bech32ScanRe = regexp.MustCompile(`\bbc1[a-z0-9]{39,59}\b`)
)

// ValidAddress reports whether s looks like a Bitcoin address.
func ValidAddress(s string) bool {
	s = strings.TrimSpace(s)
	switch {
	case strings.HasPrefix(s, "bc1"):
		return bech32AddressRe.MatchString(s)
	case strings.HasPrefix(s, "1"), strings.HasPrefix(s, "3"):
		return legacyAddressRe.MatchString(s)
	default:
		return false
	}
}

// ExtractAddress finds the first Bitcoin address embedded in free text.
// Bech32 is matched first because its lowercase alphabet never collides with
// the base58 pattern, while the reverse is not true.
func ExtractAddress(text string) string {
	if m := bech32ScanRe.FindString(text); m != "" {
		return m
	}
	return legacyScanRe.FindString(text)
}

// TruncateAddress shortens an address for display, keeping both ends.
func TruncateAddress(address string) string {
	if len(address) <= 13 {
		return address
	}
	return address[:6] + "..." + address[len(address)-4:]
}
