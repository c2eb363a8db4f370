package service

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/openclaw/plex-auth-server/internal/cache"
	"github.com/openclaw/plex-auth-server/internal/config"
	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
	"github.com/openclaw/plex-auth-server/internal/metrics"
	"github.com/openclaw/plex-auth-server/internal/model"
	"github.com/openclaw/plex-auth-server/internal/plex"
	"github.com/openclaw/plex-auth-server/internal/repository"
	"github.com/openclaw/plex-auth-server/internal/util"
)

const noTokenCode = "NO_TOKEN"

// PlexAPI is the subset of the provider client the services use.
type PlexAPI interface {
	CreatePin(ctx context.Context, clientID string) (*plex.Pin, error)
	GetPin(ctx context.Context, pinID, clientID string) (*plex.Pin, error)
	GetUser(ctx context.Context, token string) (*plex.User, error)
	Ping(ctx context.Context, token string) error
	ListResources(ctx context.Context, token string) ([]plex.Resource, error)
	AuthURL(clientID, code string) string
}

var _ PlexAPI = (*plex.Client)(nil)

// OAuthService runs the PIN pairing flow and owns the stored credential.
type OAuthService struct {
	plex       PlexAPI
	pairings   *cache.PairingCache
	cipher     *TokenCipher
	creds      repository.CredentialRepository
	metrics    metrics.Recorder
	pairingTTL time.Duration
	now        func() time.Time
}

func NewOAuthService(
	plexAPI PlexAPI,
	pairings *cache.PairingCache,
	cipher *TokenCipher,
	creds repository.CredentialRepository,
	m metrics.Recorder,
) *OAuthService {
	if m == nil {
		m = metrics.NewNoopMetrics()
	}
	return &OAuthService{
		plex:       plexAPI,
		pairings:   pairings,
		cipher:     cipher,
		creds:      creds,
		metrics:    m,
		pairingTTL: config.PairingTTL,
		now:        time.Now,
	}
}

// CreatePairing asks the provider for a new pin and caches it. An empty
// clientID gets a random UUID.
func (s *OAuthService) CreatePairing(ctx context.Context, clientID string) (*model.CreatedPairing, error) {
	if clientID == "" {
		clientID = uuid.NewString()
	} else if !util.IsValidClientID(clientID) {
		return nil, apperrors.InvalidInput("clientId", "must be 1-128 letters, digits, '.', '_' or '-'")
	}

	pin, err := s.plex.CreatePin(ctx, clientID)
	if err != nil {
		s.metrics.RecordPairingCreated(false)
		log.Error().Err(err).Str("clientId", clientID).Msg("failed to create plex pin")
		return nil, err
	}

	id := strconv.FormatInt(pin.ID, 10)
	rec := s.pairings.Put(id, model.PairingRecord{
		ID:        id,
		Code:      pin.Code,
		ClientID:  clientID,
		CreatedAt: s.now(),
		State:     model.PairingStatePending,
	}, s.pairingTTL)

	s.metrics.RecordPairingCreated(true)
	s.metrics.SetPairingsInFlight(s.pairings.Len())

	log.Info().
		Str("pinId", id).
		Str("code", util.MaskCode(pin.Code)).
		Str("clientId", clientID).
		Time("expiresAt", rec.ExpiresAt).
		Msg("plex pairing created")

	return &model.CreatedPairing{
		PairingRecord: rec,
		AuthURL:       s.plex.AuthURL(clientID, pin.Code),
	}, nil
}

// CheckPairing is the collaborator-facing name for PollPairing.
func (s *OAuthService) CheckPairing(ctx context.Context, pinID string) (*model.PairingStatus, error) {
	return s.PollPairing(ctx, pinID)
}

// PollPairing re-reads the pin from the provider. Once a token appears it is
// validated, encrypted and stored, and the pairing is consumed. Concurrent
// pollers racing on an approved pin see exactly one success; the rest get
// PinExpired.
func (s *OAuthService) PollPairing(ctx context.Context, pinID string) (*model.PairingStatus, error) {
	rec, ok := s.pairings.Get(pinID)
	if !ok {
		s.metrics.RecordPairingPoll("expired")
		return nil, apperrors.PinExpired()
	}

	pin, err := s.plex.GetPin(ctx, pinID, rec.ClientID)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodePinExpired) {
			s.pairings.Delete(pinID)
			s.metrics.RecordPairingPoll("expired")
		} else {
			s.metrics.RecordPairingPoll("error")
		}
		return nil, err
	}

	token := pin.Token()
	if token == "" {
		s.metrics.RecordPairingPoll("pending")
		return &model.PairingStatus{Authenticated: false, Code: rec.Code}, nil
	}

	user, err := s.plex.GetUser(ctx, token)
	if err != nil {
		s.metrics.RecordPairingPoll("error")
		log.Warn().Err(err).Str("pinId", pinID).Str("token", util.TokenFingerprint(token)).Msg("token from approved pin failed validation")
		return nil, err
	}

	ciphertext, err := s.cipher.Encrypt(token)
	if err != nil {
		s.metrics.RecordPairingPoll("error")
		return nil, err
	}

	taken, won := s.pairings.Take(pinID)
	if !won {
		s.metrics.RecordPairingPoll("expired")
		return nil, apperrors.PinExpired()
	}

	now := s.now()
	cred := model.AuthCredential{
		Ciphertext:      ciphertext,
		Username:        user.DisplayName(),
		Email:           user.Email,
		AccountID:       strconv.FormatInt(user.ID, 10),
		AuthMethod:      model.AuthMethodOAuth,
		IssuedAt:        now,
		LastValidatedAt: now,
	}
	if err := s.creds.Save(ctx, cred); err != nil {
		// the pin is still approved upstream; keep it pollable until it expires
		if remaining := taken.ExpiresAt.Sub(now); remaining > 0 {
			s.pairings.Put(pinID, taken, remaining)
		}
		s.metrics.RecordPairingPoll("error")
		log.Error().Err(err).Str("pinId", pinID).Msg("failed to store plex credential")
		return nil, apperrors.Database(err)
	}

	if err := taken.Transition(model.PairingStateAuthorized); err != nil {
		return nil, apperrors.Internal("Pairing already finished").WithCause(err)
	}
	s.metrics.SetPairingsInFlight(s.pairings.Len())

	s.metrics.RecordPairingPoll("authorized")
	log.Info().
		Str("pinId", pinID).
		Str("username", cred.Username).
		Str("token", util.TokenFingerprint(token)).
		Msg("plex pairing authorized")

	return &model.PairingStatus{
		Authenticated: true,
		Username:      cred.Username,
		Email:         cred.Email,
	}, nil
}

// RequireCredential is the guard for operations that need the account token.
// It returns ServerNotFound when nothing is stored and InvalidToken when the
// stored ciphertext cannot be decrypted.
func (s *OAuthService) RequireCredential(ctx context.Context) (string, *model.AuthCredential, error) {
	cred, err := s.creds.Load(ctx)
	if err != nil {
		return "", nil, apperrors.Database(err)
	}
	if cred == nil {
		return "", nil, apperrors.ServerNotFound("No Plex token configured")
	}
	token, err := s.cipher.Decrypt(cred.Ciphertext)
	if err != nil {
		return "", nil, err
	}
	return token, cred, nil
}

// ValidateStoredCredential checks the stored token against the provider.
// Auth failures come back as a structured result; only storage faults are
// returned as errors.
func (s *OAuthService) ValidateStoredCredential(ctx context.Context) (*model.ValidationResult, error) {
	token, _, err := s.RequireCredential(ctx)
	if err != nil {
		if apperrors.HasCode(err, apperrors.ErrCodeServerNotFound) {
			s.metrics.RecordCredentialValidation("no_token")
			return &model.ValidationResult{Valid: false, Error: "No token found", Code: noTokenCode}, nil
		}
		return s.downgrade(err)
	}

	user, err := s.plex.GetUser(ctx, token)
	if err != nil {
		return s.downgrade(err)
	}

	if err := s.creds.Touch(ctx, s.now()); err != nil {
		log.Warn().Err(err).Msg("failed to record credential validation time")
	}

	s.metrics.RecordCredentialValidation("valid")
	return &model.ValidationResult{
		Valid:    true,
		Username: user.DisplayName(),
		Email:    user.Email,
	}, nil
}

func (s *OAuthService) downgrade(err error) (*model.ValidationResult, error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok || !appErr.IsAuthError() {
		return nil, err
	}
	s.metrics.RecordCredentialValidation(string(appErr.Code))
	return &model.ValidationResult{
		Valid: false,
		Error: appErr.Message,
		Code:  string(appErr.Code),
	}, nil
}

// RefreshIfStale pings the provider when cred was last validated more than
// maxAge ago. A 401 returns TokenExpired and nothing is written; the caller
// has to run the pairing flow again.
func (s *OAuthService) RefreshIfStale(ctx context.Context, cred *model.AuthCredential, maxAge time.Duration) (bool, error) {
	now := s.now()
	if cred == nil || !cred.Stale(now, maxAge) {
		return false, nil
	}

	token, err := s.cipher.Decrypt(cred.Ciphertext)
	if err != nil {
		return false, err
	}

	if err := s.plex.Ping(ctx, token); err != nil {
		return false, err
	}

	if err := s.creds.Touch(ctx, now); err != nil {
		return false, apperrors.Database(err)
	}
	return true, nil
}

// RefreshStored loads the stored credential and refreshes it if stale.
func (s *OAuthService) RefreshStored(ctx context.Context, maxAge time.Duration) (bool, error) {
	cred, err := s.creds.Load(ctx)
	if err != nil {
		return false, apperrors.Database(err)
	}
	return s.RefreshIfStale(ctx, cred, maxAge)
}

// Logout removes the stored credential. No provider call is made.
func (s *OAuthService) Logout(ctx context.Context) error {
	if err := s.creds.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("failed to clear plex credential")
		return apperrors.Database(err)
	}
	log.Info().Msg("plex credential cleared")
	return nil
}

// Status reports what is stored, without calling the provider.
func (s *OAuthService) Status(ctx context.Context) (*model.AuthStatus, error) {
	cred, err := s.creds.Load(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	server, err := s.creds.LoadServer(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	status := &model.AuthStatus{AuthMethod: model.AuthMethodAPIKey, SelectedServer: server}
	if cred == nil {
		return status, nil
	}

	status.Authenticated = true
	status.AuthMethod = cred.AuthMethod
	status.Username = cred.Username
	status.Email = cred.Email
	if !cred.IssuedAt.IsZero() {
		issued := cred.IssuedAt
		status.IssuedAt = &issued
	}
	if !cred.LastValidatedAt.IsZero() {
		validated := cred.LastValidatedAt
		status.LastValidated = &validated
	}
	return status, nil
}
