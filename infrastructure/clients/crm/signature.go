package crm

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

func hmacSHA256Hex(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		_, _ = h.Write(p)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// signatureMatches compares a hex signature in constant time. An optional
// "sha256=" prefix is accepted.
func signatureMatches(got, expectedHex string) bool {
	got = strings.ToLower(strings.TrimSpace(got))
	got = strings.TrimPrefix(got, "sha256=")
	if got == "" || expectedHex == "" || len(got) != len(expectedHex) {
		return false
	}
	if _, err := hex.DecodeString(got); err != nil {
		return false
	}
	return hmac.Equal([]byte(got), []byte(expectedHex))
}
