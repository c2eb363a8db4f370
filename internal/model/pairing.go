package model

import (
	"fmt"
	"time"
)

// PairingRecord is one in-flight PIN authorization attempt.
type PairingRecord struct {
	ID        string       `json:"pinId"`
	Code      string       `json:"code"`
	ClientID  string       `json:"clientId"`
	CreatedAt time.Time    `json:"createdAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
	State     PairingState `json:"state"`
}

// Transition moves the record forward. PENDING may become AUTHORIZED or
// EXPIRED; terminal states never change.
func (p *PairingRecord) Transition(to PairingState) error {
	if p.State == to {
		return nil
	}
	if p.State.Terminal() || to == PairingStatePending {
		return fmt.Errorf("invalid pairing transition %s -> %s", p.State, to)
	}
	p.State = to
	return nil
}

// PairingStatus is the result of one poll.
type PairingStatus struct {
	Authenticated bool   `json:"authenticated"`
	Code          string `json:"code,omitempty"`
	Username      string `json:"username,omitempty"`
	Email         string `json:"email,omitempty"`
}

// CreatedPairing is returned to the caller after a pairing is requested.
type CreatedPairing struct {
	PairingRecord
	AuthURL string `json:"authUrl"`
}
