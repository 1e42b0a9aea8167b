package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/importer"
	"github.com/odyssey-erp/stockflow/internal/ledger"
	"github.com/odyssey-erp/stockflow/internal/stock"
	"github.com/odyssey-erp/stockflow/jobs"
)

type stubImporter struct {
	reports map[string]importer.Report
	dirErr  error
	files   []string
	dirs    []string
}

func (s *stubImporter) ImportFile(_ context.Context, name string) (importer.Report, error) {
	s.files = append(s.files, name)
	report, ok := s.reports[name]
	if !ok {
		return importer.Report{File: name}, fmt.Errorf("%w: %s", importer.ErrFileNotFound, name)
	}
	return report, nil
}

func (s *stubImporter) ImportDir(_ context.Context, dir string) ([]importer.Report, error) {
	s.dirs = append(s.dirs, dir)
	var out []importer.Report
	for _, r := range s.reports {
		out = append(out, r)
	}
	return out, s.dirErr
}

type stubEnqueuer struct {
	files []string
	scans []string
}

func (s *stubEnqueuer) EnqueueImportFile(_ context.Context, path string) (*asynq.TaskInfo, error) {
	s.files = append(s.files, path)
	return &asynq.TaskInfo{ID: "t-" + path, Type: jobs.TaskStockImportFile, Queue: jobs.QueueDefault}, nil
}

func (s *stubEnqueuer) EnqueueImportScan(_ context.Context, dir string) (*asynq.TaskInfo, error) {
	s.scans = append(s.scans, dir)
	return &asynq.TaskInfo{ID: "scan", Type: jobs.TaskStockImportScan, Queue: jobs.QueueDefault}, nil
}

type stubReader struct {
	records []stock.Record
	filter  stock.Filter
	entry   ledger.Entry
}

func (s *stubReader) GetStock(_ context.Context, key event.Key) (stock.Record, error) {
	for _, r := range s.records {
		if r.Key() == key {
			return r, nil
		}
	}
	return stock.Record{}, stock.ErrNotFound
}

func (s *stubReader) ListStock(_ context.Context, filter stock.Filter) ([]stock.Record, error) {
	s.filter = filter
	return s.records, nil
}

func (s *stubReader) GetEntry(_ context.Context, id uuid.UUID) (ledger.Entry, error) {
	if id != s.entry.TransactionID {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return s.entry, nil
}

func noop() {}

func testEnv(imp *stubImporter, enq *stubEnqueuer, reader *stubReader) (*Env, *int) {
	migrations := 0
	return &Env{
		Migrate: func(context.Context) error {
			migrations++
			return nil
		},
		Importer: func(context.Context) (Importer, func(), error) { return imp, noop, nil },
		Enqueuer: func(context.Context) (Enqueuer, func(), error) { return enq, noop, nil },
		Reader:   func(context.Context) (Reader, func(), error) { return reader, noop, nil },
	}, &migrations
}

func run(t *testing.T, env *Env, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(env)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	env, _ := testEnv(nil, nil, nil)
	cmd := NewRootCommand(env)
	for _, path := range [][]string{{"migrate"}, {"import"}, {"stock", "get"}, {"stock", "list"}, {"stock", "entry"}} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err)
		require.Equal(t, path[len(path)-1], sub.Name())
	}
}

func TestInvalidFormat(t *testing.T) {
	env, _ := testEnv(nil, nil, nil)
	_, err := run(t, env, "--format", "yaml", "migrate")
	require.ErrorContains(t, err, "invalid format")
	require.Equal(t, ExitFailure, ExitCode(err))
}

func TestMigrate(t *testing.T) {
	env, migrations := testEnv(nil, nil, nil)
	out, err := run(t, env, "migrate")
	require.NoError(t, err)
	require.Equal(t, 1, *migrations)
	require.Contains(t, out, "applied")

	out, err = run(t, env, "migrate", "--print")
	require.NoError(t, err)
	require.Equal(t, 1, *migrations)
	require.Contains(t, out, "stock_events")
}

func TestImportFilesReportsRejectedRows(t *testing.T) {
	imp := &stubImporter{reports: map[string]importer.Report{
		"a.csv": {File: "/in/a.csv", Processed: 3, Validated: 2, Published: 2, Rejected: []importer.RowError{{Line: 3, Reason: "bad uuid"}}},
	}}
	env, _ := testEnv(imp, nil, nil)

	out, err := run(t, env, "import", "a.csv")
	require.ErrorIs(t, err, errRowsRejected)
	require.Equal(t, ExitRowsRejected, ExitCode(err))
	require.Contains(t, out, "/in/a.csv: processed=3 validated=2 published=2 rejected=1")
	require.Contains(t, out, "line 3: bad uuid")
}

func TestImportMissingFileFails(t *testing.T) {
	imp := &stubImporter{reports: map[string]importer.Report{}}
	env, _ := testEnv(imp, nil, nil)
	_, err := run(t, env, "import", "missing.csv")
	require.ErrorIs(t, err, importer.ErrFileNotFound)
	require.Equal(t, ExitFailure, ExitCode(err))
}

func TestImportDirJSON(t *testing.T) {
	imp := &stubImporter{reports: map[string]importer.Report{
		"a.csv": {File: "/in/a.csv", Processed: 1, Validated: 1, Published: 1},
	}}
	env, _ := testEnv(imp, nil, nil)
	out, err := run(t, env, "--format", "json", "import", "--dir", "/in")
	require.NoError(t, err)
	require.Equal(t, []string{"/in"}, imp.dirs)

	var reports []importer.Report
	require.NoError(t, json.Unmarshal([]byte(out), &reports))
	require.Len(t, reports, 1)
	require.Equal(t, 1, reports[0].Published)
}

func TestImportDirError(t *testing.T) {
	imp := &stubImporter{dirErr: errors.New("importer: list /in: no such file or directory")}
	env, _ := testEnv(imp, nil, nil)
	out, err := run(t, env, "import")
	require.ErrorContains(t, err, "no such file")
	require.Contains(t, out, "no files to import")
}

func TestImportAsync(t *testing.T) {
	enq := &stubEnqueuer{}
	env, _ := testEnv(nil, enq, nil)

	out, err := run(t, env, "import", "--async", "a.csv", "b.csv")
	require.NoError(t, err)
	require.Equal(t, []string{"a.csv", "b.csv"}, enq.files)
	require.Empty(t, enq.scans)
	require.Equal(t, 2, strings.Count(out, "enqueued "+jobs.TaskStockImportFile))

	_, err = run(t, env, "import", "--async", "--dir", "/in")
	require.NoError(t, err)
	require.Equal(t, []string{"/in"}, enq.scans)
}

func TestStockGet(t *testing.T) {
	at := time.Date(2019, 6, 6, 19, 14, 48, 0, time.UTC)
	reader := &stubReader{records: []stock.Record{{ItemNumber: 12, StoreNumber: 9, CurrentValue: 112, LastUpdate: at}}}
	env, _ := testEnv(nil, nil, reader)

	out, err := run(t, env, "stock", "get", "12", "9")
	require.NoError(t, err)
	require.Contains(t, out, "112")
	require.Contains(t, out, "2019-06-06T19:14:48Z")

	out, err = run(t, env, "--format", "json", "stock", "get", "12", "9")
	require.NoError(t, err)
	var rec stock.Record
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	require.Equal(t, int64(112), rec.CurrentValue)

	_, err = run(t, env, "stock", "get", "12", "10")
	require.ErrorIs(t, err, stock.ErrNotFound)

	_, err = run(t, env, "stock", "get", "x", "10")
	require.ErrorContains(t, err, "invalid item")
}

func TestStockListPassesFilter(t *testing.T) {
	reader := &stubReader{}
	env, _ := testEnv(nil, nil, reader)
	out, err := run(t, env, "--format", "json", "stock", "list", "--store", "9", "--limit", "5")
	require.NoError(t, err)
	store := int64(9)
	require.Equal(t, stock.Filter{StoreNumber: &store, Limit: 5}, reader.filter)
	require.JSONEq(t, "[]", out)

	_, err = run(t, env, "stock", "list", "--store", "0")
	require.NoError(t, err)
	require.NotNil(t, reader.filter.StoreNumber)
	require.Equal(t, int64(0), *reader.filter.StoreNumber)

	_, err = run(t, env, "stock", "list")
	require.NoError(t, err)
	require.Nil(t, reader.filter.StoreNumber)
	require.Equal(t, 200, reader.filter.Limit)
}

func TestStockEntry(t *testing.T) {
	id := uuid.MustParse("8947695b-7f19-44b6-96b6-7f8ed041fe57")
	reader := &stubReader{entry: ledger.Entry{TransactionID: id, Type: event.TypeIncoming, ItemNumber: 12, StoreNumber: 9, Quantity: 116}}
	env, _ := testEnv(nil, nil, reader)

	out, err := run(t, env, "stock", "entry", id.String())
	require.NoError(t, err)
	require.Contains(t, out, "incoming item=12 store=9 qty=116")

	_, err = run(t, env, "stock", "entry", "nope")
	require.ErrorContains(t, err, "invalid transaction id")
}
