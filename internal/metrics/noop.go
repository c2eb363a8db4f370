package metrics

import "time"

// NoopMetrics discards everything; used when METRICS_ENABLED=false and in tests.
type NoopMetrics struct{}

var _ Recorder = (*NoopMetrics)(nil)

func NewNoopMetrics() Recorder {
	return &NoopMetrics{}
}

func (n *NoopMetrics) RecordPairingCreated(success bool) {}

func (n *NoopMetrics) RecordPairingPoll(result string) {}

func (n *NoopMetrics) RecordCredentialValidation(result string) {}

func (n *NoopMetrics) RecordProviderCall(endpoint, status string, duration time.Duration) {}

func (n *NoopMetrics) RecordProbe(result string, duration time.Duration) {}

func (n *NoopMetrics) SetPairingsInFlight(count int) {}

func (n *NoopMetrics) RecordHTTPRequest(method, route string, status int, duration time.Duration) {}
