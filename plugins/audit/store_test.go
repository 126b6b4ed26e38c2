package audit

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/medtracker/medtracker/errors"
	"github.com/medtracker/medtracker/plugins/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func openTestStore(t *testing.T) *Store {
	s, err := Open(context.Background(), "sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_RecordAndRecent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	events := []auth.Event{
		{ID: "e1", Type: auth.LoginEvent, Subject: "42", Email: "a@b.com", RememberMe: true, OccurredAt: t0},
		{ID: "e2", Type: auth.RefreshEvent, Subject: "42", Email: "a@b.com", OccurredAt: t0.Add(time.Hour)},
		{ID: "e3", Type: auth.LogoutEvent, Subject: "42", OccurredAt: t0.Add(2 * time.Hour)},
		{ID: "e4", Type: auth.LoginEvent, Subject: "7", Email: "c@d.com", OccurredAt: t0.Add(3 * time.Hour)},
		{ID: "e5", Type: auth.LoginFailedEvent, Reason: "access_denied", OccurredAt: t0.Add(4 * time.Hour)},
	}
	for _, e := range events {
		require.NoError(t, s.Record(ctx, e))
	}

	got, err := s.Recent(ctx, "42", 10)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"e3", "e2", "e1"}, []string{got[0].ID, got[1].ID, got[2].ID})
	oldest := got[2]
	assert.True(t, t0.Equal(oldest.OccurredAt), "got %s", oldest.OccurredAt)
	oldest.OccurredAt = t0
	assert.Equal(t, events[0], oldest)

	got, err = s.Recent(ctx, "42", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = s.Recent(ctx, "nobody", 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestStore_RecordIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	e := auth.Event{ID: "e1", Type: auth.LoginEvent, Subject: "42", OccurredAt: t0}
	require.NoError(t, s.Record(ctx, e))
	require.NoError(t, s.Record(ctx, e))

	got, err := s.Recent(ctx, "42", 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestStore_RecordRequiresIDAndType(t *testing.T) {
	s := openTestStore(t)
	err := s.Record(context.Background(), auth.Event{Subject: "42", OccurredAt: t0})
	require.Error(t, err)
	assert.Equal(t, 400, errors.HTTPStatusCode(err))
}

func TestStore_UnsupportedDriver(t *testing.T) {
	_, err := Open(context.Background(), "mysql", "whatever")
	assert.True(t, errors.Is(err, ErrUnsupportedDriver))

	_, err = NewStore(nil, "mysql")
	assert.True(t, errors.Is(err, ErrUnsupportedDriver))
}

func TestStore_PostgresQueries(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewStore(db, "postgres")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO auth_events")).
		WithArgs("e1", auth.LoginEvent, "42", "a@b.com", "", true, t0).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Record(context.Background(), auth.Event{
		ID: "e1", Type: auth.LoginEvent, Subject: "42", Email: "a@b.com", RememberMe: true, OccurredAt: t0,
	}))

	mock.ExpectQuery(`WHERE subject = \$1\s+ORDER BY occurred_at DESC, id DESC\s+LIMIT \$2`).
		WithArgs("42", 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "type", "subject", "email", "reason", "remember_me", "occurred_at"}).
			AddRow("e1", auth.LoginEvent, "42", "a@b.com", "", true, t0))
	got, err := s.Recent(context.Background(), "42", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e1", got[0].ID)
	assert.True(t, got[0].RememberMe)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_PostgresMigrate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewStore(db, "postgres")
	require.NoError(t, err)

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS auth_events \(.*occurred_at TIMESTAMPTZ NOT NULL`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`CREATE INDEX IF NOT EXISTS auth_events_subject_idx`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_TranslatesPostgresErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s, err := NewStore(db, "postgres")
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO auth_events").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value"})
	err = s.Record(context.Background(), auth.Event{ID: "e1", Type: auth.LoginEvent, OccurredAt: t0})
	assert.True(t, errors.Is(err, ErrDuplicateEvent))

	mock.ExpectExec("INSERT INTO auth_events").
		WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection"})
	err = s.Record(context.Background(), auth.Event{ID: "e2", Type: auth.LoginEvent, OccurredAt: t0})
	assert.Equal(t, 502, errors.HTTPStatusCode(err))
}

func TestRebind(t *testing.T) {
	assert.Equal(t, "a = $1 AND b = $2", postgresDialect.rebind("a = ? AND b = ?"))
	assert.Equal(t, "a = ? AND b = ?", sqliteDialect.rebind("a = ? AND b = ?"))
}
