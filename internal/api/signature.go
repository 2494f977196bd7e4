package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// signaturePrefix is the scheme tag Meta puts in X-Hub-Signature-256.
const signaturePrefix = "sha256="

// verifySignature checks a webhook body against the X-Hub-Signature-256
// header. Any one of the configured secrets may match, which keeps webhooks
// flowing while an app secret is being rotated. An empty secret list
// disables verification.
func verifySignature(body []byte, header string, secrets []string) bool {
	if len(secrets) == 0 {
		return true
	}
	if !strings.HasPrefix(header, signaturePrefix) {
		return false
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(header, signaturePrefix))
	if err != nil {
		return false
	}
	for _, secret := range secrets {
		mac := hmac.New(sha256.New, []byte(secret))
		mac.Write(body)
		if hmac.Equal(provided, mac.Sum(nil)) {
			return true
		}
	}
	return false
}
