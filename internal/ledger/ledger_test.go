package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockflow/internal/event"
)

type stubExec struct {
	tag     string
	execErr error
	rowErr  error
	args    []any
	sql     string
}

func (s *stubExec) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	s.sql = sql
	s.args = args
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	if s.tag == "" {
		return pgconn.NewCommandTag("INSERT 0 1"), nil
	}
	return pgconn.NewCommandTag(s.tag), nil
}

func (s *stubExec) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.sql = sql
	s.args = args
	return nil, errors.New("query unavailable")
}

func (s *stubExec) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	s.args = args
	return stubRow{err: s.rowErr}
}

type stubRow struct{ err error }

func (r stubRow) Scan(...any) error { return r.err }

func sampleEvent() event.Event {
	return event.Event{
		TransactionID: uuid.MustParse("8947695b-7f19-44b6-96b6-7f8ed041fe57"),
		Type:          event.TypeIncoming,
		OccurredAt:    time.Date(2018, 12, 3, 23, 57, 40, 0, time.UTC),
		StoreNumber:   9,
		ItemNumber:    12,
		Quantity:      116,
	}
}

func TestAppendAccepted(t *testing.T) {
	exec := &stubExec{}
	out, err := New(exec).Append(context.Background(), sampleEvent())
	require.NoError(t, err)
	require.Equal(t, Accepted, out)
	require.Contains(t, exec.sql, "INSERT INTO stock_events")
	require.Len(t, exec.args, 6)
	require.Equal(t, "incoming", exec.args[1])
}

func TestAppendDuplicateIsDistinct(t *testing.T) {
	for name, exec := range map[string]*stubExec{
		"conflict absorbed": {tag: "INSERT 0 0"},
		"unique violation":  {execErr: &pgconn.PgError{Code: "23505", ConstraintName: "stock_events_pkey"}},
	} {
		t.Run(name, func(t *testing.T) {
			out, err := New(exec).Append(context.Background(), sampleEvent())
			require.Equal(t, AlreadyProcessed, out)
			require.ErrorIs(t, err, ErrAlreadyProcessed)
			require.NotErrorIs(t, err, ErrWriteFailure)
		})
	}
}

func TestAppendOtherFailuresAreRejected(t *testing.T) {
	for name, execErr := range map[string]error{
		"check violation": &pgconn.PgError{Code: "23514"},
		"connectivity":    errors.New("connection reset by peer"),
	} {
		t.Run(name, func(t *testing.T) {
			out, err := New(&stubExec{execErr: execErr}).Append(context.Background(), sampleEvent())
			require.Equal(t, Rejected, out)
			require.ErrorIs(t, err, ErrWriteFailure)
			require.ErrorIs(t, err, execErr)
		})
	}
}

func TestAppendWithoutExecutor(t *testing.T) {
	var l *Ledger
	out, err := l.Append(context.Background(), sampleEvent())
	require.Equal(t, Rejected, out)
	require.ErrorIs(t, err, ErrWriteFailure)
}

func TestGetMapsNoRows(t *testing.T) {
	_, err := New(&stubExec{rowErr: pgx.ErrNoRows}).Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)

	_, err = New(&stubExec{rowErr: errors.New("timeout")}).Get(context.Background(), uuid.New())
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "accepted", Accepted.String())
	require.Equal(t, "already_processed", AlreadyProcessed.String())
	require.Equal(t, "rejected", Rejected.String())
}

func TestRecentFilterDistinguishesZero(t *testing.T) {
	exec := &stubExec{}
	zero := int64(0)

	_, err := New(exec).Recent(context.Background(), Filter{ItemNumber: &zero})
	require.Error(t, err)
	require.Contains(t, exec.sql, "$1::bigint IS NULL OR item_number = $1")
	require.Equal(t, &zero, exec.args[0])
	require.Nil(t, exec.args[1])
	require.Equal(t, 100, exec.args[2])
}
