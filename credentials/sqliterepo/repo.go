// Package sqliterepo persists credentials in a local SQLite database.
package sqliterepo

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/habitate-session/credentials"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
  id            INTEGER PRIMARY KEY CHECK (id = 1),
  user_id       TEXT    NOT NULL DEFAULT '',
  access_token  TEXT    NOT NULL DEFAULT '',
  refresh_token TEXT    NOT NULL DEFAULT '',
  token_expiry  INTEGER NOT NULL DEFAULT 0,
  onboarded     INTEGER NOT NULL DEFAULT 0,
  updated_at    INTEGER NOT NULL DEFAULT 0
)`

var _ credentials.Repo = (*Repo)(nil)

// Repo stores the single credentials row. Token columns are sealed.
type Repo struct {
	db      *sql.DB
	sealer  credentials.Sealer
	nowFunc func() time.Time
}

// Open opens or creates the database at path. ":memory:" is accepted for tests.
func Open(path string, sealer credentials.Sealer) (*Repo, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqliterepo.Open: storage path is required")
	}
	if sealer == nil {
		sealer = credentials.NopSealer{}
	}

	dsn := path
	if path != ":memory:" {
		dsn = filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sqliterepo.Open sql.Open")
	}
	// One row, one writer; also keeps ":memory:" on a single connection.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqliterepo.Open Ping")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqliterepo.Open schema")
	}
	return &Repo{db: db, sealer: sealer, nowFunc: time.Now}, nil
}

func (r *Repo) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

func (r *Repo) Load(ctx context.Context) (credentials.Credentials, error) {
	var (
		sealed    credentials.Credentials
		expiry    int64
		onboarded int
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT user_id, access_token, refresh_token, token_expiry, onboarded FROM credentials WHERE id = 1`,
	).Scan(&sealed.UserID, &sealed.AccessToken, &sealed.RefreshToken, &expiry, &onboarded)
	if errors.Is(err, sql.ErrNoRows) {
		return credentials.Credentials{}, nil
	}
	if err != nil {
		return credentials.Credentials{}, errors.Wrap(err, "sqliterepo.Load")
	}

	sealed.TokenExpiry = fromMillis(expiry)
	sealed.Onboarded = onboarded != 0
	creds, err := credentials.OpenTokens(r.sealer, sealed)
	if err != nil {
		return credentials.Credentials{}, errors.Wrap(err, "sqliterepo.Load OpenTokens")
	}
	return creds, nil
}

func (r *Repo) Save(ctx context.Context, creds credentials.Credentials) error {
	sealed, err := credentials.SealTokens(r.sealer, creds)
	if err != nil {
		return errors.Wrap(err, "sqliterepo.Save SealTokens")
	}

	onboarded := 0
	if sealed.Onboarded {
		onboarded = 1
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO credentials (id, user_id, access_token, refresh_token, token_expiry, onboarded, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   user_id = excluded.user_id,
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_expiry = excluded.token_expiry,
		   onboarded = excluded.onboarded,
		   updated_at = excluded.updated_at`,
		sealed.UserID,
		sealed.AccessToken,
		sealed.RefreshToken,
		toMillis(sealed.TokenExpiry),
		onboarded,
		toMillis(r.nowFunc()),
	)
	if err != nil {
		return errors.Wrap(err, "sqliterepo.Save")
	}
	return nil
}

func (r *Repo) Clear(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials`); err != nil {
		return errors.Wrap(err, "sqliterepo.Clear")
	}
	return nil
}

func toMillis(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.UnixMilli(value).UTC()
}
