package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	_ "github.com/lib/pq"

	"github.com/AaronLay10/SentientDrill/internal/model"
	"github.com/AaronLay10/SentientDrill/internal/scenario"
	"github.com/AaronLay10/SentientDrill/internal/storage"
)

// EventRow represents an audit event stored in Postgres.
type EventRow struct {
	EventID   int64                  `json:"event_id"`
	Timestamp time.Time              `json:"ts"`
	Level     string                 `json:"level"`
	Event     string                 `json:"event"`
	Message   *string                `json:"msg,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Instance  string                 `json:"instance"`
	SessionID *string                `json:"session_id,omitempty"`
}

// Client is a storage.Store backed by Postgres. Records are JSONB documents;
// the columns alongside them exist for lookups and the version check.
type Client struct {
	db       *sql.DB
	instance string
}

var _ storage.Store = (*Client)(nil)

// DSNFromEnv builds a connection string from the libpq PG* variables.
func DSNFromEnv() string {
	host := getEnv("PGHOST", "127.0.0.1")
	port := getEnv("PGPORT", "5432")
	user := getEnv("PGUSER", "drill")
	dbname := getEnv("PGDATABASE", "drill")
	password := os.Getenv("PGPASSWORD")

	if password != "" {
		return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
			host, port, user, password, dbname)
	}
	return fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		host, port, user, dbname)
}

// New connects to Postgres and creates the tables. An empty dsn falls back to
// DSNFromEnv. instance tags audit rows written by this process.
func New(ctx context.Context, dsn, instance string) (*Client, error) {
	if dsn == "" {
		dsn = DSNFromEnv()
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	client := &Client{
		db:       db,
		instance: instance,
	}

	if err := client.createTables(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return client, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func (c *Client) createTables(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS scenarios (
			id         TEXT PRIMARY KEY,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			user_id          TEXT NOT NULL,
			state            TEXT NOT NULL,
			last_activity_at TIMESTAMPTZ NOT NULL,
			doc              JSONB NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_state ON sessions(state);
		CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id);
		CREATE TABLE IF NOT EXISTS profiles (
			user_id    TEXT PRIMARY KEY,
			version    BIGINT NOT NULL,
			doc        JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE TABLE IF NOT EXISTS events (
			event_id   BIGSERIAL PRIMARY KEY,
			ts         TIMESTAMPTZ NOT NULL,
			level      TEXT NOT NULL,
			event      TEXT NOT NULL,
			msg        TEXT,
			fields     JSONB,
			instance   TEXT NOT NULL,
			session_id TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_events_ts ON events(ts DESC);
		CREATE INDEX IF NOT EXISTS idx_events_session_id ON events(session_id);
	`
	_, err := c.db.ExecContext(ctx, query)
	return err
}

func (c *Client) GetScenario(ctx context.Context, id string) (*scenario.Definition, error) {
	var doc []byte
	err := c.db.QueryRowContext(ctx, `SELECT doc FROM scenarios WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("scenario %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var def scenario.Definition
	if err := json.Unmarshal(doc, &def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal scenario %s: %w", id, err)
	}
	return &def, nil
}

func (c *Client) PutScenario(ctx context.Context, def *scenario.Definition) error {
	doc, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to marshal scenario: %w", err)
	}
	res, err := c.db.ExecContext(ctx, `
		INSERT INTO scenarios (id, doc, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (id) DO NOTHING
	`, def.ID, doc)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil || n == 1 {
		return err
	}
	// JSONB reorders keys, so compare decoded definitions.
	cur, err := c.GetScenario(ctx, def.ID)
	if err != nil {
		return err
	}
	if !scenario.SameContent(cur, def) {
		return fmt.Errorf("scenario %s: %w", def.ID, storage.ErrConflict)
	}
	return nil
}

func (c *Client) ListScenarios(ctx context.Context) ([]*scenario.Definition, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT doc FROM scenarios ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []*scenario.Definition
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var def scenario.Definition
		if err := json.Unmarshal(doc, &def); err != nil {
			return nil, fmt.Errorf("failed to unmarshal scenario: %w", err)
		}
		defs = append(defs, &def)
	}
	return defs, rows.Err()
}

func (c *Client) GetSession(ctx context.Context, id string) (*model.Session, error) {
	var doc []byte
	err := c.db.QueryRowContext(ctx, `SELECT doc FROM sessions WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var s model.Session
	if err := json.Unmarshal(doc, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return &s, nil
}

func (c *Client) SaveSession(ctx context.Context, s *model.Session) error {
	doc, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, state, last_activity_at, doc) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			last_activity_at = EXCLUDED.last_activity_at,
			doc = EXCLUDED.doc
	`, s.ID, s.UserID, string(s.State), s.LastActivityAt, doc)
	return err
}

func (c *Client) ListActiveSessions(ctx context.Context) ([]*model.Session, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT doc FROM sessions WHERE state = $1 ORDER BY id`, string(model.StateActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Session
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		var s model.Session
		if err := json.Unmarshal(doc, &s); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (c *Client) GetProfile(ctx context.Context, userID string) (*model.BehaviorProfile, error) {
	var doc []byte
	var version int64
	err := c.db.QueryRowContext(ctx, `SELECT version, doc FROM profiles WHERE user_id = $1`, userID).Scan(&version, &doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("profile %s: %w", userID, storage.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	var p model.BehaviorProfile
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile %s: %w", userID, err)
	}
	p.Version = version
	return &p, nil
}

func (c *Client) SaveProfile(ctx context.Context, p *model.BehaviorProfile) error {
	next := *p
	next.Version = p.Version + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal profile: %w", err)
	}

	var res sql.Result
	if p.Version == 0 {
		res, err = c.db.ExecContext(ctx, `
			INSERT INTO profiles (user_id, version, doc, updated_at) VALUES ($1, $2, $3, now())
			ON CONFLICT (user_id) DO NOTHING
		`, p.UserID, next.Version, doc)
	} else {
		res, err = c.db.ExecContext(ctx, `
			UPDATE profiles SET version = $2, doc = $3, updated_at = now()
			WHERE user_id = $1 AND version = $4
		`, p.UserID, next.Version, doc, p.Version)
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

// Append inserts an audit event into the database.
// Returns error if insert fails.
func (c *Client) Append(ts time.Time, level, event, msg string, fields map[string]interface{}, sessionID string) error {
	var fieldsJSON []byte
	var err error
	if fields != nil {
		fieldsJSON, err = json.Marshal(fields)
		if err != nil {
			return fmt.Errorf("failed to marshal fields: %w", err)
		}
	}

	var msgPtr *string
	if msg != "" {
		msgPtr = &msg
	}

	var sessionPtr *string
	if sessionID != "" {
		sessionPtr = &sessionID
	}

	query := `
		INSERT INTO events (ts, level, event, msg, fields, instance, session_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = c.db.Exec(query, ts, level, event, msgPtr, fieldsJSON, c.instance, sessionPtr)
	return err
}

// Query returns the last N audit events in descending order by timestamp,
// optionally limited to one session.
func (c *Client) Query(ctx context.Context, sessionID string, limit int) ([]EventRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 10000 {
		limit = 10000
	}

	query := `
		SELECT event_id, ts, level, event, msg, fields, instance, session_id
		FROM events
		WHERE ($1 = '' OR session_id = $1)
		ORDER BY ts DESC
		LIMIT $2
	`
	rows, err := c.db.QueryContext(ctx, query, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []EventRow
	for rows.Next() {
		var e EventRow
		var fieldsJSON []byte
		var msg, sid sql.NullString

		if err := rows.Scan(&e.EventID, &e.Timestamp, &e.Level, &e.Event, &msg, &fieldsJSON, &e.Instance, &sid); err != nil {
			return nil, err
		}

		if msg.Valid {
			e.Message = &msg.String
		}
		if sid.Valid {
			e.SessionID = &sid.String
		}
		if len(fieldsJSON) > 0 {
			if err := json.Unmarshal(fieldsJSON, &e.Fields); err != nil {
				return nil, fmt.Errorf("failed to unmarshal fields: %w", err)
			}
		}

		events = append(events, e)
	}

	return events, rows.Err()
}

// Close closes the database connection.
func (c *Client) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}
