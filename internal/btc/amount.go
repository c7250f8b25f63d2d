package btc

import (
	"errors"
	"fmt"
	"strings"
)

// Amounts are carried as satoshis to keep arithmetic exact; the 8 decimal
// places of BTC map onto int64 without loss.
const (
	SatoshisPerBTC int64 = 100_000_000
	maxSupplySats  int64 = 21_000_000 * SatoshisPerBTC
)

var (
	ErrAmountInvalid  = errors.New("invalid amount format")
	ErrAmountTooSmall = errors.New("amount too small")
	ErrAmountTooLarge = errors.New("amount too large")
)

// ParseAmount converts a decimal BTC string ("0.001", "0.001 BTC") into
// satoshis. At most 8 fractional digits are accepted.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimSuffix(s, "BTC"), "btc")
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrAmountInvalid
	}

	whole := s
	frac := ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		whole, frac = s[:idx], s[idx+1:]
	}
	if whole == "" && frac == "" {
		return 0, ErrAmountInvalid
	}
	if len(frac) > 8 {
		return 0, ErrAmountInvalid
	}
	if whole == "" {
		whole = "0"
	}

	var sats int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0, ErrAmountInvalid
		}
		sats = sats*10 + int64(r-'0')
		if sats > maxSupplySats {
			return 0, ErrAmountTooLarge
		}
	}
	sats *= SatoshisPerBTC

	scale := SatoshisPerBTC / 10
	for _, r := range frac {
		if r < '0' || r > '9' {
			return 0, ErrAmountInvalid
		}
		sats += int64(r-'0') * scale
		scale /= 10
	}

	if sats <= 0 {
		return 0, ErrAmountTooSmall
	}
	if sats > maxSupplySats {
		return 0, ErrAmountTooLarge
	}
	return sats, nil
}

// FormatAmount renders satoshis as a BTC decimal string with exactly 8
// fractional digits, e.g. 100000 -> "0.00100000".
func FormatAmount(sats int64) string {
	whole := sats / SatoshisPerBTC
	frac := sats % SatoshisPerBTC
	if frac < 0 {
		frac = -frac
	}
	return fmt.Sprintf("%d.%08d", whole, frac)
}
