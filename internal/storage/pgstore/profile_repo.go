package pgstore

import (
	"context"
	"time"

	"github.com/gdlbo/packageradar-sub000/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

func (s *Storage) LoadProfile(ctx context.Context) (*models.Profile, error) {
	var p models.Profile
	err := s.db.QueryRow(ctx, `
SELECT email, email_confirmed, country_code, country_name, notify_email, notify_push
FROM profile
WHERE id = 1
`).Scan(&p.Email, &p.EmailConfirmed, &p.CountryCode, &p.CountryName, &p.NotifyEmail, &p.NotifyPush)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select profile")
	}
	return &p, nil
}

func (s *Storage) LoadNotifyPrefs(ctx context.Context) (emailEnabled, pushEnabled bool, err error) {
	err = s.db.QueryRow(ctx, `
SELECT notify_email, notify_push FROM notify_prefs WHERE id = 1
`).Scan(&emailEnabled, &pushEnabled)
	if err == pgx.ErrNoRows {
		// По дефолту оба канала включены, пока пользователь не настроил.
		return true, true, nil
	}
	if err != nil {
		return false, false, errors.Wrap(err, "select notify prefs")
	}
	return emailEnabled, pushEnabled, nil
}

func (s *Storage) UpdateNotifyPrefs(ctx context.Context, emailEnabled, pushEnabled bool) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO notify_prefs (id, notify_email, notify_push, updated_at)
VALUES (1,$1,$2,$3)
ON CONFLICT (id) DO UPDATE SET
  notify_email = EXCLUDED.notify_email,
  notify_push = EXCLUDED.notify_push,
  updated_at = EXCLUDED.updated_at
`, emailEnabled, pushEnabled, time.Now().UTC())
	return errors.Wrap(err, "update notify prefs")
}

// Token возвращает сохранённый токен доступа. Пустая строка — не залогинены.
func (s *Storage) Token(ctx context.Context) (string, error) {
	var tok string
	err := s.db.QueryRow(ctx, `SELECT access_token FROM session WHERE id = 1`).Scan(&tok)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", errors.Wrap(err, "select token")
	}
	return tok, nil
}

func (s *Storage) SetToken(ctx context.Context, token string) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO session (id, access_token, updated_at)
VALUES (1,$1,$2)
ON CONFLICT (id) DO UPDATE SET
  access_token = EXCLUDED.access_token,
  updated_at = EXCLUDED.updated_at
`, token, time.Now().UTC())
	return errors.Wrap(err, "set token")
}

func (s *Storage) ClearToken(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM session WHERE id = 1`)
	return errors.Wrap(err, "clear token")
}
