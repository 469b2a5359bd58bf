package pgstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gdlbo/packageradar-sub000/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const trackingColumns = `
  id, tracking_number, tracking_number_current, title,
  courier, archived, unread,
  last_check, next_check, checkpoints, is_new
`

func (s *Storage) LoadAll(ctx context.Context) ([]*models.TrackingRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+trackingColumns+`
FROM trackings
ORDER BY updated_at DESC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select trackings")
	}
	defer rows.Close()

	var out []*models.TrackingRecord
	for rows.Next() {
		r, err := scanTracking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) LoadByID(ctx context.Context, id string) (*models.TrackingRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT `+trackingColumns+`
FROM trackings
WHERE id = $1
`, id)
	if err != nil {
		return nil, errors.Wrap(err, "select tracking")
	}
	defer rows.Close()

	if !rows.Next() {
		if rows.Err() != nil {
			return nil, errors.Wrap(rows.Err(), "rows")
		}
		return nil, nil
	}
	return scanTracking(rows)
}

func (s *Storage) Upsert(ctx context.Context, r *models.TrackingRecord) error {
	now := time.Now().UTC()
	courier, checkpoints, err := marshalParts(r)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
INSERT INTO trackings (
  id, tracking_number, tracking_number_current, title,
  courier, archived, unread,
  last_check, next_check, checkpoints, is_new,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
ON CONFLICT (id) DO UPDATE SET
  tracking_number = EXCLUDED.tracking_number,
  tracking_number_current = EXCLUDED.tracking_number_current,
  title = EXCLUDED.title,
  courier = EXCLUDED.courier,
  archived = EXCLUDED.archived,
  unread = EXCLUDED.unread,
  last_check = EXCLUDED.last_check,
  next_check = EXCLUDED.next_check,
  checkpoints = EXCLUDED.checkpoints,
  is_new = EXCLUDED.is_new,
  updated_at = EXCLUDED.updated_at
`,
		r.ID, r.TrackingNumber, r.TrackingNumberCurrent, r.Title,
		courier, r.Archived.BoolPtr(), r.Unread.BoolPtr(),
		r.LastCheck, r.NextCheck, checkpoints, r.IsNew,
		now,
	)
	return errors.Wrap(err, "upsert tracking")
}

func (s *Storage) DeleteByID(ctx context.Context, id string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM trackings WHERE id = $1`, id)
	return errors.Wrap(err, "delete tracking")
}

// ReplaceAll атомарно заменяет весь кэш серверным снапшотом.
// Единственная операция, которая выкидывает записи, пропавшие на сервере:
// сервер — источник истины.
func (s *Storage) ReplaceAll(ctx context.Context, records []*models.TrackingRecord, profile *models.Profile) error {
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM trackings`); err != nil {
		return errors.Wrap(err, "clear trackings")
	}

	for _, r := range records {
		courier, checkpoints, err := marshalParts(r)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
INSERT INTO trackings (
  id, tracking_number, tracking_number_current, title,
  courier, archived, unread,
  last_check, next_check, checkpoints, is_new,
  created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$12)
`,
			r.ID, r.TrackingNumber, r.TrackingNumberCurrent, r.Title,
			courier, r.Archived.BoolPtr(), r.Unread.BoolPtr(),
			r.LastCheck, r.NextCheck, checkpoints, r.IsNew,
			now,
		)
		if err != nil {
			return errors.Wrap(err, "insert tracking")
		}
	}

	if profile != nil {
		_, err = tx.Exec(ctx, `
INSERT INTO profile (id, email, email_confirmed, country_code, country_name, notify_email, notify_push, updated_at)
VALUES (1,$1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET
  email = EXCLUDED.email,
  email_confirmed = EXCLUDED.email_confirmed,
  country_code = EXCLUDED.country_code,
  country_name = EXCLUDED.country_name,
  notify_email = EXCLUDED.notify_email,
  notify_push = EXCLUDED.notify_push,
  updated_at = EXCLUDED.updated_at
`,
			profile.Email, profile.EmailConfirmed, profile.CountryCode, profile.CountryName,
			profile.NotifyEmail, profile.NotifyPush, now,
		)
		if err != nil {
			return errors.Wrap(err, "replace profile")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

// DropAll чистит всё, включая профиль и токен. Используется на логауте.
func (s *Storage) DropAll(ctx context.Context) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, q := range []string{
		`DELETE FROM trackings`,
		`DELETE FROM profile`,
		`DELETE FROM notify_prefs`,
		`DELETE FROM session`,
	} {
		if _, err := tx.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "drop all")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(err, "commit tx")
	}
	return nil
}

type trackingRow interface {
	Scan(dest ...any) error
}

func scanTracking(row trackingRow) (*models.TrackingRecord, error) {
	var r models.TrackingRecord
	var courier []byte
	var archived, unread *bool
	var checkpoints []byte

	if err := row.Scan(
		&r.ID, &r.TrackingNumber, &r.TrackingNumberCurrent, &r.Title,
		&courier, &archived, &unread,
		&r.LastCheck, &r.NextCheck, &checkpoints, &r.IsNew,
	); err != nil {
		return nil, errors.Wrap(err, "scan tracking")
	}

	r.Archived = models.TriFromBoolPtr(archived)
	r.Unread = models.TriFromBoolPtr(unread)

	if len(courier) > 0 {
		var c models.Courier
		if err := json.Unmarshal(courier, &c); err != nil {
			return nil, errors.Wrap(err, "unmarshal courier")
		}
		r.Courier = &c
	}
	if len(checkpoints) > 0 {
		if err := json.Unmarshal(checkpoints, &r.Checkpoints); err != nil {
			return nil, errors.Wrap(err, "unmarshal checkpoints")
		}
	}
	return &r, nil
}

func marshalParts(r *models.TrackingRecord) (courier []byte, checkpoints []byte, err error) {
	if r.Courier != nil {
		courier, err = json.Marshal(r.Courier)
		if err != nil {
			return nil, nil, errors.Wrap(err, "marshal courier")
		}
	}
	cps := r.Checkpoints
	if cps == nil {
		cps = []models.Checkpoint{}
	}
	checkpoints, err = json.Marshal(cps)
	if err != nil {
		return nil, nil, errors.Wrap(err, "marshal checkpoints")
	}
	return courier, checkpoints, nil
}
