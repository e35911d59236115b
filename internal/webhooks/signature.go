// Package webhooks serves the HTTP endpoints that receive Fivetran and
// dbt Cloud callbacks, verify their signatures, and forward them to Pub/Sub.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
)

// hexHMAC returns the lower-case hex HMAC-SHA256 of body.
func hexHMAC(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// base64HMAC returns the standard-encoding base64 HMAC-SHA256 of body.
func base64HMAC(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// verifyHex checks a hex-encoded HMAC signature in constant time.
func verifyHex(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(hexHMAC(secret, body)), []byte(signature))
}

// verifyBase64 checks a base64-encoded HMAC signature in constant time.
func verifyBase64(secret, body []byte, signature string) bool {
	return hmac.Equal([]byte(base64HMAC(secret, body)), []byte(signature))
}
