package pgstore

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS trackings (
  id TEXT PRIMARY KEY,
  tracking_number TEXT NOT NULL,
  tracking_number_current TEXT NOT NULL DEFAULT '',
  title TEXT NOT NULL DEFAULT '',
  courier JSONB NULL,
  archived BOOLEAN NULL,
  unread BOOLEAN NULL,
  last_check TEXT NOT NULL DEFAULT '',
  next_check TEXT NOT NULL DEFAULT '',
  checkpoints JSONB NOT NULL DEFAULT '[]',
  is_new BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_trackings_archived ON trackings(archived)`,
		// Профиль, настройки уведомлений и токен — одиночные строки.
		`
CREATE TABLE IF NOT EXISTS profile (
  id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
  email TEXT NOT NULL,
  email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
  country_code TEXT NOT NULL DEFAULT '',
  country_name TEXT NOT NULL DEFAULT '',
  notify_email BOOLEAN NOT NULL DEFAULT FALSE,
  notify_push BOOLEAN NOT NULL DEFAULT FALSE,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS notify_prefs (
  id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
  notify_email BOOLEAN NOT NULL DEFAULT TRUE,
  notify_push BOOLEAN NOT NULL DEFAULT TRUE,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS session (
  id SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
  access_token TEXT NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
