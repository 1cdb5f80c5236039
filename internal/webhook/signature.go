package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const signaturePrefix = "sha256="

// verifySignature computes HMAC-SHA256 over body using secret and compares
// it against the header-carried signature in constant time (§4.2 step 2).
func verifySignature(secret []byte, signatureHeader string, body []byte) bool {
	if !strings.HasPrefix(signatureHeader, signaturePrefix) {
		return false
	}
	expectedHex := strings.TrimPrefix(signatureHeader, signaturePrefix)
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	computed := mac.Sum(nil)

	return hmac.Equal(computed, expected)
}
