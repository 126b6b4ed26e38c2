//nolint:gosec // Table name is a constant, not user input.
package audit

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/plugins/auth"
	"google.golang.org/grpc/codes"
)

const tableName = "auth_events"

var (
	// ErrDuplicateEvent is returned when a conflicting event row already exists.
	ErrDuplicateEvent = errors.NewC("audit: event already recorded", codes.AlreadyExists)

	// ErrUnsupportedDriver is returned by Open and NewStore for drivers other
	// than sqlite3 and postgres.
	ErrUnsupportedDriver = errors.NewC("audit: unsupported database driver", codes.InvalidArgument)
)

// Store persists auth events to a SQL database.
type Store struct {
	db      *sql.DB
	dialect dialect
}

// Open connects to the database and creates the events table if needed.
// Supported drivers are "sqlite3" and "postgres".
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, errors.WrapPrefix(err, "audit: failed to open database", 0)
	}
	if driver == "sqlite3" && strings.Contains(dsn, ":memory:") {
		// Every connection to an in-memory database sees a different database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.WrapPrefix(err, "audit: failed to connect to database", 0).WithCode(codes.Unavailable)
	}
	s := &Store{db: db, dialect: d}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing connection. Migrate is not called.
func NewStore(db *sql.DB, driver string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	return &Store{db: db, dialect: d}, nil
}

// Migrate creates the events table and its index.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Errorf("audit: failed to migrate [%s]: %w", tableName, err)
		}
	}
	return nil
}

// Record stores an event. Recording the same event id twice is a no-op.
func (s *Store) Record(ctx context.Context, e auth.Event) error {
	if e.ID == "" || e.Type == "" {
		return errors.Codef(codes.InvalidArgument, "audit: event requires an id and type")
	}
	_, err := s.db.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO `+tableName+` (id, type, subject, email, reason, remember_me, occurred_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING`),
		e.ID, e.Type, e.Subject, e.Email, e.Reason, e.RememberMe, e.OccurredAt.UTC())
	return translateError(err)
}

// Recent returns up to limit events for subject, newest first.
func (s *Store) Recent(ctx context.Context, subject string, limit int) ([]auth.Event, error) {
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(
		`SELECT id, type, subject, email, reason, remember_me, occurred_at
		FROM `+tableName+`
		WHERE subject = ?
		ORDER BY occurred_at DESC, id DESC
		LIMIT ?`), subject, limit)
	if err != nil {
		return nil, translateError(err)
	}
	defer rows.Close()

	events := []auth.Event{}
	for rows.Next() {
		var e auth.Event
		var occurredAt time.Time
		if err := rows.Scan(&e.ID, &e.Type, &e.Subject, &e.Email, &e.Reason, &e.RememberMe, &occurredAt); err != nil {
			return nil, translateError(err)
		}
		e.OccurredAt = occurredAt.UTC()
		events = append(events, e)
	}
	return events, translateError(rows.Err())
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

type dialect int

const (
	sqliteDialect dialect = iota
	postgresDialect
)

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case "sqlite3":
		return sqliteDialect, nil
	case "postgres":
		return postgresDialect, nil
	}
	return 0, errors.Mark(ErrUnsupportedDriver, 0).Append(driver)
}

func (d dialect) schema() []string {
	ts := "TIMESTAMP"
	if d == postgresDialect {
		ts = "TIMESTAMPTZ"
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + tableName + ` (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			reason TEXT NOT NULL DEFAULT '',
			remember_me BOOLEAN NOT NULL DEFAULT FALSE,
			occurred_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS ` + tableName + `_subject_idx ON ` + tableName + ` (subject, occurred_at)`,
	}
}

// rebind rewrites ? placeholders to $n for postgres.
func (d dialect) rebind(query string) string {
	if d != postgresDialect {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	var sqlErr sqlite3.Error
	if errors.As(err, &sqlErr) {
		switch sqlErr.Code {
		case sqlite3.ErrConstraint:
			return errors.Mark(ErrDuplicateEvent, 0).Append(sqlErr.Error())
		case sqlite3.ErrBusy, sqlite3.ErrLocked:
			return errors.WithCode(err, codes.Unavailable)
		}
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return errors.Mark(ErrDuplicateEvent, 0).Append(pqErr.Message)
		case "57P01", "53300": // admin_shutdown, too_many_connections
			return errors.WithCode(err, codes.Unavailable)
		}
	}
	return errors.Wrap(err, 0)
}
