package model

type PairingState string

const (
	PairingStatePending    PairingState = "PENDING"
	PairingStateAuthorized PairingState = "AUTHORIZED"
	PairingStateExpired    PairingState = "EXPIRED"
)

// Terminal reports whether no further transition is allowed.
func (s PairingState) Terminal() bool {
	return s == PairingStateAuthorized || s == PairingStateExpired
}

type AuthMethod string

const (
	AuthMethodOAuth  AuthMethod = "oauth"
	AuthMethodAPIKey AuthMethod = "apikey"
)

// ProbeResult labels why a connection probe succeeded or failed.
type ProbeResult string

const (
	ProbeOK      ProbeResult = "ok"
	ProbeTimeout ProbeResult = "timeout"
	ProbeTLS     ProbeResult = "tls"
	ProbeRefused ProbeResult = "refused"
	ProbeStatus  ProbeResult = "status"
	ProbeInvalid ProbeResult = "invalid_uri"
	ProbeError   ProbeResult = "error"
)
