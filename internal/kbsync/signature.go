package kbsync

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
)

const SignatureHeader = "X-Notion-Signature"

func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks the signature header against an HMAC-SHA256 of the
// exact raw body bytes. It fails closed: an empty secret or a missing header
// never verifies.
func VerifySignature(secret, body []byte, signature string) bool {
	if len(secret) == 0 {
		return false
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return false
	}
	expected := Sign(secret, body)
	return hmac.Equal([]byte(signature), []byte(expected))
}

// DetectHandshake recognizes the source store's registration payloads, which
// arrive before the caller knows the signing secret and must be echoed back
// without any signature check.
func DetectHandshake(body []byte) (field, value string, ok bool) {
	var parsed map[string]any
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", "", false
	}
	for _, name := range []string{"verification_token", "challenge"} {
		if v, ok := parsed[name].(string); ok && v != "" {
			return name, v, true
		}
	}
	return "", "", false
}
