package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// TokenFingerprint is a short non-reversible tag for correlating a token in logs.
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])[:12]
}

func MaskCode(code string) string {
	if len(code) <= 4 {
		return "****"
	}
	return code[:4] + "-****"
}
