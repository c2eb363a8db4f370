package service

import (
	"context"
	"crypto/cipher"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	apperrors "github.com/openclaw/plex-auth-server/internal/errors"
	"github.com/openclaw/plex-auth-server/internal/repository"
	"github.com/openclaw/plex-auth-server/internal/util"
)

// TokenCipher encrypts bearer tokens for storage. The key is fixed for the
// life of the process; losing it makes every stored ciphertext unreadable.
type TokenCipher struct {
	gcm cipher.AEAD
}

// NewTokenCipher builds a cipher from a hex key.
func NewTokenCipher(hexKey string) (*TokenCipher, error) {
	gcm, err := util.ParseKey(hexKey)
	if err != nil {
		return nil, err
	}
	return &TokenCipher{gcm: gcm}, nil
}

// LoadTokenCipher resolves the process key: override if set, otherwise the
// persisted key, otherwise a freshly generated one that is persisted before
// it is used. Any failure here should stop startup.
func LoadTokenCipher(ctx context.Context, settings repository.SettingsRepository, override string) (*TokenCipher, error) {
	if override != "" {
		stored, ok, err := settings.Get(ctx, repository.KeyEncryptionKey)
		if err == nil && ok && stored != override {
			log.Warn().Msg("ENCRYPTION_KEY differs from the persisted key: previously stored tokens will not decrypt")
		}
		return NewTokenCipher(override)
	}

	stored, ok, err := settings.Get(ctx, repository.KeyEncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("load encryption key: %w", err)
	}
	if ok {
		return NewTokenCipher(stored)
	}

	generated, err := util.GenerateKey()
	if err != nil {
		return nil, err
	}
	// another instance may have won the race; use whatever was persisted
	persisted, err := settings.SetIfAbsent(ctx, repository.KeyEncryptionKey, generated)
	if err != nil {
		return nil, fmt.Errorf("persist encryption key: %w", err)
	}
	log.Info().Msg("generated new token encryption key")
	return NewTokenCipher(persisted)
}

func (c *TokenCipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.gcm == nil {
		return "", apperrors.Internal("Encryption key not loaded")
	}
	ct, err := util.Seal(c.gcm, plaintext)
	if err != nil {
		return "", apperrors.Internal("Failed to encrypt token").WithCause(err)
	}
	return ct, nil
}

// Decrypt fails with InvalidToken for any ciphertext the key cannot authenticate.
func (c *TokenCipher) Decrypt(ciphertext string) (string, error) {
	if c == nil || c.gcm == nil {
		return "", apperrors.Internal("Encryption key not loaded")
	}
	pt, err := util.Open(c.gcm, ciphertext)
	if err != nil {
		if errors.Is(err, util.ErrInvalidCiphertext) {
			return "", apperrors.InvalidToken("Stored Plex token could not be decrypted")
		}
		return "", apperrors.Internal("Failed to decrypt token").WithCause(err)
	}
	return pt, nil
}
