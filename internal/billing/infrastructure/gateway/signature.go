package gateway

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
)

// ValidCardAuthSignature checks the card-auth provider's webhook signature:
// hex HMAC-SHA512 of the raw body under the account secret, compared in
// constant time.
func ValidCardAuthSignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

// ValidHostedPaySignature checks the hosted-checkout provider's webhook
// signature: hex HMAC-SHA256 of the raw body under the endpoint secret.
func ValidHostedPaySignature(body []byte, signature, secret string) bool {
	if signature == "" || secret == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
