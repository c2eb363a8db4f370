package model

import "time"

// AuthCredential is the persisted output of a successful pairing. The
// plaintext token never appears here.
type AuthCredential struct {
	Ciphertext      string
	Username        string
	Email           string
	AccountID       string
	AuthMethod      AuthMethod
	IssuedAt        time.Time
	LastValidatedAt time.Time
}

// Stale reports whether the credential has not been validated within maxAge.
func (c *AuthCredential) Stale(now time.Time, maxAge time.Duration) bool {
	ref := c.LastValidatedAt
	if ref.IsZero() {
		ref = c.IssuedAt
	}
	return now.Sub(ref) > maxAge
}

// ValidationResult reports the health of the stored credential without
// surfacing auth failures as errors.
type ValidationResult struct {
	Valid    bool   `json:"valid"`
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Error    string `json:"error,omitempty"`
	Code     string `json:"code,omitempty"`
}

// AuthStatus is a redacted snapshot of stored state, answered without network calls.
type AuthStatus struct {
	Authenticated  bool            `json:"authenticated"`
	AuthMethod     AuthMethod      `json:"authMethod"`
	Username       string          `json:"username,omitempty"`
	Email          string          `json:"email,omitempty"`
	IssuedAt       *time.Time      `json:"issuedAt,omitempty"`
	LastValidated  *time.Time      `json:"lastValidatedAt,omitempty"`
	SelectedServer *SelectedServer `json:"selectedServer,omitempty"`
}
