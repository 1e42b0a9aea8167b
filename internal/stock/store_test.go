package stock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockflow/internal/event"
)

type stubExec struct {
	tag     string
	execErr error
	row     stubRow
	sql     []string
	args    []any
}

func (s *stubExec) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	s.sql = append(s.sql, sql)
	if s.execErr != nil {
		return pgconn.CommandTag{}, s.execErr
	}
	return pgconn.NewCommandTag(s.tag), nil
}

func (s *stubExec) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	s.sql = append(s.sql, sql)
	s.args = args
	return nil, errors.New("query unavailable")
}

func (s *stubExec) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	s.sql = append(s.sql, sql)
	return s.row
}

type stubRow struct {
	rec Record
	err error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*dest[0].(*int64) = r.rec.ItemNumber
	*dest[1].(*int64) = r.rec.StoreNumber
	*dest[2].(*int64) = r.rec.CurrentValue
	*dest[3].(*time.Time) = r.rec.LastUpdate
	return nil
}

var key = event.Key{ItemNumber: 12, StoreNumber: 9}

func TestLookupVariants(t *testing.T) {
	at := time.Date(2018, 12, 3, 23, 57, 40, 0, time.FixedZone("WIB", 7*3600))
	exec := &stubExec{row: stubRow{rec: Record{ItemNumber: 12, StoreNumber: 9, CurrentValue: 116, LastUpdate: at}}}
	store := New(exec)

	rec, err := store.Lookup(context.Background(), key)
	require.NoError(t, err)
	require.Equal(t, int64(116), rec.CurrentValue)
	require.Equal(t, time.UTC, rec.LastUpdate.Location())
	require.Equal(t, key, rec.Key())

	_, err = store.LookupForUpdate(context.Background(), key)
	require.NoError(t, err)
	require.False(t, strings.HasSuffix(exec.sql[0], "FOR UPDATE"))
	require.True(t, strings.HasSuffix(exec.sql[1], "FOR UPDATE"))
}

func TestLookupErrors(t *testing.T) {
	_, err := New(&stubExec{row: stubRow{err: pgx.ErrNoRows}}).Lookup(context.Background(), key)
	require.ErrorIs(t, err, ErrNotFound)

	_, err = New(&stubExec{row: stubRow{err: errors.New("broken pipe")}}).LookupForUpdate(context.Background(), key)
	require.ErrorIs(t, err, ErrWriteFailure)
	require.NotErrorIs(t, err, ErrNotFound)
}

func TestInitialize(t *testing.T) {
	at := time.Date(2018, 12, 3, 0, 0, 0, 0, time.UTC)

	out, err := New(&stubExec{tag: "INSERT 0 1"}).Initialize(context.Background(), key, 10, at)
	require.NoError(t, err)
	require.Equal(t, Created, out)

	out, err = New(&stubExec{tag: "INSERT 0 0"}).Initialize(context.Background(), key, 10, at)
	require.NoError(t, err)
	require.Equal(t, AlreadyExists, out)

	_, err = New(&stubExec{execErr: errors.New("timeout")}).Initialize(context.Background(), key, 10, at)
	require.ErrorIs(t, err, ErrWriteFailure)

	exec := &stubExec{tag: "INSERT 0 1"}
	_, err = New(exec).Initialize(context.Background(), key, -1, at)
	require.ErrorIs(t, err, ErrInvariantViolation)
	require.Empty(t, exec.sql)
}

func TestApply(t *testing.T) {
	at := time.Date(2018, 12, 4, 0, 0, 0, 0, time.UTC)

	exec := &stubExec{tag: "UPDATE 1"}
	require.NoError(t, New(exec).Apply(context.Background(), key, 5, at))
	require.Len(t, exec.sql, 1)
	require.Contains(t, exec.sql[0], "SET current_value=$3, last_update=$4")

	require.ErrorIs(t, New(&stubExec{tag: "UPDATE 0"}).Apply(context.Background(), key, 5, at), ErrNotFound)
	require.ErrorIs(t, New(&stubExec{execErr: &pgconn.PgError{Code: "23514"}}).Apply(context.Background(), key, 5, at), ErrWriteFailure)

	exec = &stubExec{tag: "UPDATE 1"}
	require.ErrorIs(t, New(exec).Apply(context.Background(), key, -3, at), ErrInvariantViolation)
	require.Empty(t, exec.sql)
}

func TestListFilterDistinguishesStoreZero(t *testing.T) {
	exec := &stubExec{}
	store := New(exec)

	zero := int64(0)
	_, err := store.List(context.Background(), Filter{StoreNumber: &zero})
	require.Error(t, err)
	require.Equal(t, []any{&zero, 200}, exec.args)
	require.Contains(t, exec.sql[len(exec.sql)-1], "IS NULL OR store_number = $1")

	_, err = store.List(context.Background(), Filter{Limit: 5})
	require.Error(t, err)
	require.Nil(t, exec.args[0])
	require.Equal(t, 5, exec.args[1])
}
