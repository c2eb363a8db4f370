package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openclaw/plex-auth-server/internal/database"
	"github.com/openclaw/plex-auth-server/internal/model"
)

// SettingsRepository is a flat key/value store. Every multi-key write is a
// single transaction.
type SettingsRepository interface {
	Get(ctx context.Context, key string) (string, bool, error)
	GetMany(ctx context.Context, keys []string) (map[string]string, error)
	Set(ctx context.Context, key, value string) error
	SetIfAbsent(ctx context.Context, key, value string) (string, error)
	Apply(ctx context.Context, set map[string]string, del []string) error
}

type settingsRepo struct {
	db  *database.DB
	now func() time.Time
}

func NewSettingsRepository(db *database.DB) SettingsRepository {
	return &settingsRepo{db: db, now: time.Now}
}

const upsertSettingSQL = `
	INSERT INTO settings (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

func (r *settingsRepo) Get(ctx context.Context, key string) (string, bool, error) {
	var s model.Setting
	err := r.db.GetContext(ctx, &s, r.db.Rebind(`SELECT key, value FROM settings WHERE key = ?`), key)
	found, err := HandleNotFound(&s, err)
	if err != nil {
		return "", false, fmt.Errorf("get setting %s: %w", key, err)
	}
	if found == nil {
		return "", false, nil
	}
	return found.Value, true, nil
}

func (r *settingsRepo) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(`SELECT key, value FROM settings WHERE key IN (?)`, keys)
	if err != nil {
		return nil, fmt.Errorf("build settings query: %w", err)
	}

	var rows []model.Setting
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	for _, row := range rows {
		out[row.Key] = row.Value
	}
	return out, nil
}

func (r *settingsRepo) Set(ctx context.Context, key, value string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(upsertSettingSQL), key, value, r.now().UTC())
	if err != nil {
		return fmt.Errorf("set setting %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent stores value only when key has no value yet and returns
// whichever value ends up persisted.
func (r *settingsRepo) SetIfAbsent(ctx context.Context, key, value string) (string, error) {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO NOTHING
	`), key, value, r.now().UTC())
	if err != nil {
		return "", fmt.Errorf("insert setting %s: %w", key, err)
	}

	stored, ok, err := r.Get(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("setting %s vanished after insert", key)
	}
	return stored, nil
}

// Apply upserts set and deletes del in one transaction.
func (r *settingsRepo) Apply(ctx context.Context, set map[string]string, del []string) error {
	now := r.now().UTC()

	// deterministic statement order keeps lock acquisition stable on postgres
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return r.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		for _, k := range keys {
			if _, err := tx.ExecContext(ctx, tx.Rebind(upsertSettingSQL), k, set[k], now); err != nil {
				return fmt.Errorf("set setting %s: %w", k, err)
			}
		}

		if len(del) == 0 {
			return nil
		}
		query, args, err := sqlx.In(`DELETE FROM settings WHERE key IN (?)`, del)
		if err != nil {
			return fmt.Errorf("build delete query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(query), args...); err != nil {
			return fmt.Errorf("delete settings: %w", err)
		}
		return nil
	})
}
