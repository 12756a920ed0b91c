package line

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
)

// SignatureHeader carries the webhook body signature from the LINE platform.
const SignatureHeader = "X-Line-Signature"

// ValidateSignature reports whether signature is the base64-encoded
// HMAC-SHA256 of body under the channel secret. Comparison is constant time.
// A missing secret or signature never validates — verification fails closed.
func ValidateSignature(secret string, body []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
