package twilio

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"net/url"
	"sort"
	"strings"
)

// RequestValidator checks the X-Twilio-Signature header on inbound webhooks.
type RequestValidator struct {
	authToken string
}

// NewRequestValidator creates a validator bound to an auth token.
func NewRequestValidator(authToken string) *RequestValidator {
	return &RequestValidator{authToken: authToken}
}

// Validate reports whether the signature matches the request. Twilio signs
// the full URL with every POST parameter appended in lexicographical order,
// HMAC-SHA1 keyed by the auth token, base64 encoded.
func (v *RequestValidator) Validate(fullURL string, params url.Values, signature string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}

	keys := make([]string, 0, len(params))
	for key := range params {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(fullURL)
	for _, key := range keys {
		for _, val := range params[key] {
			b.WriteString(key)
			b.WriteString(val)
		}
	}

	mac := hmac.New(sha1.New, []byte(v.authToken))
	mac.Write([]byte(b.String()))
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
