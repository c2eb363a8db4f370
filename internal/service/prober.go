package service

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openclaw/plex-auth-server/internal/config"
	"github.com/openclaw/plex-auth-server/internal/metrics"
	"github.com/openclaw/plex-auth-server/internal/model"
	"github.com/openclaw/plex-auth-server/internal/util"
)

const identityPath = "/identity"

// ConnectionProber checks whether a server endpoint answers. It never
// returns an error; the reason for a failure goes to logs and metrics.
type ConnectionProber struct {
	client  *http.Client
	timeout time.Duration
	metrics metrics.Recorder
}

func NewConnectionProber(timeout time.Duration, m metrics.Recorder) *ConnectionProber {
	if timeout <= 0 {
		timeout = config.ProbeTimeout
	}
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &ConnectionProber{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		timeout: timeout,
		metrics: m,
	}
}

// Probe reports whether GET {uri}/identity answers 200 within the timeout.
func (p *ConnectionProber) Probe(ctx context.Context, uri, token string) bool {
	return p.Check(ctx, uri, token) == model.ProbeOK
}

// Check is Probe with the failure reason.
func (p *ConnectionProber) Check(ctx context.Context, uri, token string) model.ProbeResult {
	start := time.Now()
	result, status, err := p.check(ctx, uri, token)
	elapsed := time.Since(start)

	p.metrics.RecordProbe(string(result), elapsed)

	if result == model.ProbeOK {
		log.Debug().Str("uri", uri).Dur("elapsed", elapsed).Msg("connection reachable")
		return result
	}

	evt := log.Debug().Str("uri", uri).Str("reason", string(result)).Dur("elapsed", elapsed)
	if status != 0 {
		evt = evt.Int("status", status)
	}
	if err != nil {
		evt = evt.Err(err)
	}
	evt.Msg("connection unreachable")
	return result
}

func (p *ConnectionProber) check(ctx context.Context, uri, token string) (model.ProbeResult, int, error) {
	if !util.IsValidServerURI(uri) {
		return model.ProbeInvalid, 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(uri, "/")+identityPath, nil)
	if err != nil {
		return model.ProbeInvalid, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set("X-Plex-Token", token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return classifyProbeError(err), 0, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode != http.StatusOK {
		return model.ProbeStatus, resp.StatusCode, nil
	}
	return model.ProbeOK, resp.StatusCode, nil
}

func classifyProbeError(err error) model.ProbeResult {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostnameErr      x509.HostnameError
		certInvalid      x509.CertificateInvalidError
		verifyErr        *tls.CertificateVerificationError
		recordErr        tls.RecordHeaderError
		netErr           net.Error
	)

	switch {
	case errors.As(err, &verifyErr),
		errors.As(err, &unknownAuthority),
		errors.As(err, &hostnameErr),
		errors.As(err, &certInvalid),
		errors.As(err, &recordErr):
		return model.ProbeTLS
	case errors.Is(err, context.DeadlineExceeded):
		return model.ProbeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		return model.ProbeTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return model.ProbeRefused
	default:
		return model.ProbeError
	}
}
