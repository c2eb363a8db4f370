// Package plex is a client for the plex.tv account API used by the PIN flow.
package plex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/openclaw/plex-auth-server/internal/config"
	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
	"github.com/openclaw/plex-auth-server/internal/metrics"
)

const (
	pinsPath      = "/api/v2/pins"
	userPath      = "/api/v2/user"
	pingPath      = "/api/v2/ping"
	resourcesPath = "/api/v2/resources"

	maxResponseBytes = 4 << 20
)

type Client struct {
	baseURL       string
	authAppURL    string
	identity      config.PlexIdentity
	httpClient    *http.Client
	limiter       *rate.Limiter
	maxRetries    int
	retryInterval time.Duration
	timeout       time.Duration
	metrics       metrics.Recorder
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithRateLimit caps outbound calls at perSecond with a matching burst.
func WithRateLimit(perSecond float64) Option {
	return func(cl *Client) {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		cl.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithRetries sets how many times an idempotent GET is retried after a
// transport error or a 5xx/429 response.
func WithRetries(maxRetries int, initialInterval time.Duration) Option {
	return func(cl *Client) {
		cl.maxRetries = maxRetries
		cl.retryInterval = initialInterval
	}
}

// WithTimeout bounds each logical call, retries included.
func WithTimeout(d time.Duration) Option {
	return func(cl *Client) { cl.timeout = d }
}

func WithMetrics(m metrics.Recorder) Option {
	return func(cl *Client) { cl.metrics = m }
}

func NewClient(baseURL, authAppURL string, identity config.PlexIdentity, opts ...Option) *Client {
	c := &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		authAppURL:    authAppURL,
		identity:      identity,
		httpClient:    &http.Client{Timeout: config.ProviderRequestTimeout},
		limiter:       rate.NewLimiter(rate.Inf, 1),
		retryInterval: config.ProviderRetryInitialInterval,
		timeout:       config.ProviderRequestTimeout,
		metrics:       metrics.NewNoopMetrics(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AuthURL is the page where the user approves a pin.
func (c *Client) AuthURL(clientID, code string) string {
	params := url.Values{}
	params.Set("clientID", clientID)
	params.Set("code", code)
	params.Set("context[device][product]", c.identity.Product)
	return c.authAppURL + "#?" + params.Encode()
}

// CreatePin requests a new strong pin. Not retried: a retry could mint a
// second pin the caller never sees.
func (c *Client) CreatePin(ctx context.Context, clientID string) (*Pin, error) {
	var pin Pin
	status, err := c.send(ctx, request{
		endpoint: "pins.create",
		method:   http.MethodPost,
		path:     pinsPath,
		query:    url.Values{"strong": {"true"}},
		body:     map[string]bool{"strong": true},
		clientID: clientID,
	}, &pin)
	if err != nil {
		return nil, err
	}
	if status != http.StatusCreated && status != http.StatusOK {
		return nil, statusError("create pin", status)
	}
	if pin.ID == 0 || pin.Code == "" {
		return nil, apperrors.ConnectionError("Plex returned an incomplete PIN")
	}
	return &pin, nil
}

// GetPin fetches pin status. A 404 means the provider already forgot it.
func (c *Client) GetPin(ctx context.Context, pinID, clientID string) (*Pin, error) {
	var pin Pin
	status, err := c.send(ctx, request{
		endpoint: "pins.get",
		method:   http.MethodGet,
		path:     pinsPath + "/" + url.PathEscape(pinID),
		clientID: clientID,
	}, &pin)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNotFound:
		return nil, apperrors.PinExpired()
	case status != http.StatusOK:
		return nil, statusError("check pin", status)
	}
	return &pin, nil
}

// GetUser resolves the account behind token.
func (c *Client) GetUser(ctx context.Context, token string) (*User, error) {
	var user User
	status, err := c.send(ctx, request{
		endpoint: "user",
		method:   http.MethodGet,
		path:     userPath,
		token:    token,
	}, &user)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return nil, apperrors.InvalidToken("Invalid or expired Plex token")
	case status != http.StatusOK:
		return nil, statusError("validate token", status)
	}
	return &user, nil
}

// Ping is the cheap keep-alive. A 401 means the credential is dead.
func (c *Client) Ping(ctx context.Context, token string) error {
	status, err := c.send(ctx, request{
		endpoint: "ping",
		method:   http.MethodGet,
		path:     pingPath,
		token:    token,
	}, nil)
	if err != nil {
		return err
	}
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.TokenExpired()
	case status < 200 || status >= 300:
		return statusError("ping", status)
	}
	return nil
}

// ListResources returns every device on the account, with HTTPS and relay connections.
func (c *Client) ListResources(ctx context.Context, token string) ([]Resource, error) {
	var resources []Resource
	status, err := c.send(ctx, request{
		endpoint: "resources",
		method:   http.MethodGet,
		path:     resourcesPath,
		query:    url.Values{"includeHttps": {"1"}, "includeRelay": {"1"}},
		token:    token,
	}, &resources)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusUnauthorized:
		return nil, apperrors.InvalidToken("Invalid or expired Plex token")
	case status != http.StatusOK:
		return nil, statusError("list resources", status)
	}
	return resources, nil
}

type request struct {
	endpoint string
	method   string
	path     string
	query    url.Values
	body     any
	token    string
	clientID string
}

// send performs one logical call. 2xx bodies are decoded into out; other
// statuses are returned for the caller to classify. Transport failures come
// back as AuthTimeout or ConnectionError.
func (c *Client) send(ctx context.Context, req request, out any) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if req.method != http.MethodGet || c.maxRetries <= 0 {
		status, err := c.attempt(ctx, req, out)
		return status, classify(err)
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = c.retryInterval
	expBackoff.MaxInterval = 8 * c.retryInterval
	expBackoff.Reset()

	operation := func() (int, error) {
		status, err := c.attempt(ctx, req, out)
		if err != nil && apperrors.GetCode(err) != apperrors.ErrCodeConnection {
			return status, backoff.Permanent(err)
		}
		return status, err
	}

	status, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, d time.Duration) {
			log.Debug().Err(err).Str("endpoint", req.endpoint).Dur("retryIn", d).Msg("retrying plex request")
		}),
	)
	return status, classify(err)
}

func (c *Client) attempt(ctx context.Context, req request, out any) (int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return 0, apperrors.AuthTimeout().WithCause(err)
	}

	httpReq, err := c.newRequest(ctx, req)
	if err != nil {
		return 0, apperrors.Internal("Failed to build Plex request").WithCause(err)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	elapsed := time.Since(start)
	if err != nil {
		classified := classify(err)
		c.metrics.RecordProviderCall(req.endpoint, strings.ToLower(string(apperrors.GetCode(classified))), elapsed)
		log.Warn().Err(err).Str("endpoint", req.endpoint).Dur("elapsed", elapsed).Msg("plex request failed")
		return 0, classified
	}
	defer resp.Body.Close()

	c.metrics.RecordProviderCall(req.endpoint, strconv.Itoa(resp.StatusCode), elapsed)
	log.Debug().
		Str("endpoint", req.endpoint).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("plex request")

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return resp.StatusCode, statusError(req.endpoint, resp.StatusCode)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
			return resp.StatusCode, apperrors.ConnectionError("Invalid response from Plex").WithCause(err)
		}
	}
	return resp.StatusCode, nil
}

func (c *Client) newRequest(ctx context.Context, req request) (*http.Request, error) {
	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}

	var body io.Reader
	if req.body != nil {
		b, err := json.Marshal(req.body)
		if err != nil {
			return nil, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	c.setHeaders(httpReq.Header, req.clientID)
	if req.token != "" {
		httpReq.Header.Set("X-Plex-Token", req.token)
	}
	return httpReq, nil
}

func (c *Client) setHeaders(h http.Header, clientID string) {
	h.Set("Accept", "application/json")
	h.Set("X-Plex-Product", c.identity.Product)
	h.Set("X-Plex-Version", c.identity.Version)
	h.Set("X-Plex-Platform", c.identity.Platform)
	h.Set("X-Plex-Platform-Version", c.identity.PlatformVersion)
	h.Set("X-Plex-Device", c.identity.Device)
	h.Set("X-Plex-Device-Name", c.identity.DeviceName)
	if clientID != "" {
		h.Set("X-Plex-Client-Identifier", clientID)
	}
}

func statusError(op string, status int) *apperrors.AppError {
	return apperrors.ConnectionError(fmt.Sprintf("Plex %s failed with status %d", op, status)).
		WithDetails(map[string]int{"status": status})
}

// classify maps raw transport errors onto the typed kinds. AppErrors pass through.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if apperrors.IsAppError(err) {
		return err
	}
	if isTimeout(err) {
		return apperrors.AuthTimeout().WithCause(err)
	}
	return apperrors.ConnectionError("Failed to connect to Plex").WithCause(err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
