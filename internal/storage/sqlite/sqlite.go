package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/storage"
)

// Store is a storage.Store backed by a single SQLite file.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

// New opens (or creates) the database at path and runs migrations.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("sqlite: mkdir %s: %w", filepath.Dir(path), err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open db: %w", err)
	}

	// one writer; the version check below relies on it
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	var version int
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version); err != nil {
		return err
	}

	if version < 1 {
		if _, err := s.db.Exec(`
			CREATE TABLE IF NOT EXISTS scenarios (
				id         TEXT PRIMARY KEY,
				doc        TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
			CREATE TABLE IF NOT EXISTS sessions (
				id               TEXT PRIMARY KEY,
				user_id          TEXT NOT NULL,
				state            TEXT NOT NULL,
				last_activity_at TEXT NOT NULL,
				doc              TEXT NOT NULL
			);
			CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
			CREATE TABLE IF NOT EXISTS profiles (
				user_id    TEXT PRIMARY KEY,
				version    INTEGER NOT NULL,
				doc        TEXT NOT NULL,
				updated_at TEXT NOT NULL DEFAULT (datetime('now'))
			);
		`); err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (1)`); err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) GetScenario(ctx context.Context, id string) (*scenario.Definition, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM scenarios WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var def scenario.Definition
	if err := json.Unmarshal([]byte(doc), &def); err != nil {
		return nil, fmt.Errorf("sqlite: decode scenario %s: %w", id, err)
	}
	return &def, nil
}

func (s *Store) PutScenario(ctx context.Context, def *scenario.Definition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("sqlite: encode scenario: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scenarios (id, doc, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(id) DO NOTHING`,
		def.ID, string(doc))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}
	cur, err := s.GetScenario(ctx, def.ID)
	if err != nil {
		return err
	}
	if !scenario.SameContent(cur, def) {
		return fmt.Errorf("scenario %s: %w", def.ID, storage.ErrConflict)
	}
	return nil
}

func (s *Store) ListScenarios(ctx context.Context) ([]*scenario.Definition, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM scenarios ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*scenario.Definition
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var def scenario.Definition
		if err := json.Unmarshal([]byte(doc), &def); err != nil {
			return nil, fmt.Errorf("sqlite: decode scenario: %w", err)
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

func (s *Store) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM sessions WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var sess model.Session
	if err := json.Unmarshal([]byte(doc), &sess); err != nil {
		return nil, fmt.Errorf("sqlite: decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *Store) SaveSession(ctx context.Context, sess *model.Session) error {
	doc, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("sqlite: encode session: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, state, last_activity_at, doc) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			last_activity_at = excluded.last_activity_at,
			doc = excluded.doc`,
		sess.ID, sess.UserID, string(sess.State), sess.LastActivityAt.UTC().Format(time.RFC3339Nano), string(doc))
	return err
}

func (s *Store) ListActiveSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT doc FROM sessions WHERE state = ? ORDER BY id`, string(model.StateActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var sess model.Session
		if err := json.Unmarshal([]byte(doc), &sess); err != nil {
			return nil, fmt.Errorf("sqlite: decode session: %w", err)
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*model.BehaviorProfile, error) {
	var doc string
	var version int64
	err := s.db.QueryRowContext(ctx, `SELECT version, doc FROM profiles WHERE user_id = ?`, userID).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p model.BehaviorProfile
	if err := json.Unmarshal([]byte(doc), &p); err != nil {
		return nil, fmt.Errorf("sqlite: decode profile %s: %w", userID, err)
	}
	p.Version = version
	return &p, nil
}

func (s *Store) SaveProfile(ctx context.Context, p *model.BehaviorProfile) error {
	next := *p
	next.Version = p.Version + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("sqlite: encode profile: %w", err)
	}

	var res sql.Result
	if p.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO profiles (user_id, version, doc) VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO NOTHING`,
			p.UserID, next.Version, string(doc))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE profiles SET version = ?, doc = ?, updated_at = datetime('now')
			WHERE user_id = ? AND version = ?`,
			next.Version, string(doc), p.UserID, p.Version)
	}
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("profile %s at version %d: %w", p.UserID, p.Version, storage.ErrVersionConflict)
	}
	p.Version = next.Version
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
