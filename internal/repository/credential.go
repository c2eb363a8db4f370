package repository

import (
	"context"
	"time"

	"github.com/openclaw/plex-auth-server/internal/model"
)

const (
	KeyEncryptionKey   = "plex.encryption_key"
	KeyToken           = "plex.token"
	KeyUsername        = "plex.username"
	KeyEmail           = "plex.email"
	KeyUserID          = "plex.user_id"
	KeyAuthMethod      = "plex.auth_method"
	KeyIssuedAt        = "plex.issued_at"
	KeyLastValidatedAt = "plex.last_validated_at"

	KeyServerMachineID = "plex.server_machine_id"
	KeyServerName      = "plex.server_name"
	KeyServerURL       = "plex.server_url"
	KeyServerLocal     = "plex.server_local"
)

var credentialKeys = []string{
	KeyToken, KeyUsername, KeyEmail, KeyUserID, KeyAuthMethod, KeyIssuedAt, KeyLastValidatedAt,
}

var serverKeys = []string{
	KeyServerMachineID, KeyServerName, KeyServerURL, KeyServerLocal,
}

// CredentialRepository persists the single global account credential and
// the selected server on top of the settings table.
type CredentialRepository interface {
	Load(ctx context.Context) (*model.AuthCredential, error)
	Save(ctx context.Context, cred model.AuthCredential) error
	Touch(ctx context.Context, validatedAt time.Time) error
	Clear(ctx context.Context) error
	SaveServer(ctx context.Context, server model.SelectedServer) error
	LoadServer(ctx context.Context) (*model.SelectedServer, error)
}

type credentialRepo struct {
	settings SettingsRepository
}

func NewCredentialRepository(settings SettingsRepository) CredentialRepository {
	return &credentialRepo{settings: settings}
}

// Load returns nil, nil when no OAuth credential is stored.
func (r *credentialRepo) Load(ctx context.Context) (*model.AuthCredential, error) {
	values, err := r.settings.GetMany(ctx, credentialKeys)
	if err != nil {
		return nil, err
	}
	if values[KeyToken] == "" {
		return nil, nil
	}

	method := model.AuthMethod(values[KeyAuthMethod])
	if method == "" {
		method = model.AuthMethodOAuth
	}

	return &model.AuthCredential{
		Ciphertext:      values[KeyToken],
		Username:        values[KeyUsername],
		Email:           values[KeyEmail],
		AccountID:       values[KeyUserID],
		AuthMethod:      method,
		IssuedAt:        parseTime(values[KeyIssuedAt]),
		LastValidatedAt: parseTime(values[KeyLastValidatedAt]),
	}, nil
}

// Save replaces the whole credential atomically.
func (r *credentialRepo) Save(ctx context.Context, cred model.AuthCredential) error {
	return r.settings.Apply(ctx, map[string]string{
		KeyToken:           cred.Ciphertext,
		KeyUsername:        cred.Username,
		KeyEmail:           cred.Email,
		KeyUserID:          cred.AccountID,
		KeyAuthMethod:      string(model.AuthMethodOAuth),
		KeyIssuedAt:        formatTime(cred.IssuedAt),
		KeyLastValidatedAt: formatTime(cred.LastValidatedAt),
	}, nil)
}

func (r *credentialRepo) Touch(ctx context.Context, validatedAt time.Time) error {
	return r.settings.Set(ctx, KeyLastValidatedAt, formatTime(validatedAt))
}

// Clear drops the credential and reverts the auth method marker to apikey.
// The server selection is kept.
func (r *credentialRepo) Clear(ctx context.Context) error {
	del := make([]string, 0, len(credentialKeys))
	for _, k := range credentialKeys {
		if k != KeyAuthMethod {
			del = append(del, k)
		}
	}

	return r.settings.Apply(ctx, map[string]string{
		KeyAuthMethod: string(model.AuthMethodAPIKey),
	}, del)
}

func (r *credentialRepo) SaveServer(ctx context.Context, server model.SelectedServer) error {
	return r.settings.Apply(ctx, map[string]string{
		KeyServerMachineID: server.MachineIdentifier,
		KeyServerName:      server.Name,
		KeyServerURL:       server.URI,
		KeyServerLocal:     formatBool(server.Local),
	}, nil)
}

// LoadServer returns nil, nil when no server has been selected.
func (r *credentialRepo) LoadServer(ctx context.Context) (*model.SelectedServer, error) {
	values, err := r.settings.GetMany(ctx, serverKeys)
	if err != nil {
		return nil, err
	}
	if values[KeyServerMachineID] == "" {
		return nil, nil
	}
	return &model.SelectedServer{
		MachineIdentifier: values[KeyServerMachineID],
		Name:              values[KeyServerName],
		URI:               values[KeyServerURL],
		Local:             parseBool(values[KeyServerLocal]),
	}, nil
}
