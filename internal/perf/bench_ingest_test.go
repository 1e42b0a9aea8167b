package perf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/odyssey-erp/stockflow/internal/event"
	"github.com/odyssey-erp/stockflow/internal/ingest"
	"github.com/odyssey-erp/stockflow/internal/inventory"
	"github.com/odyssey-erp/stockflow/internal/ledger"
	"github.com/odyssey-erp/stockflow/internal/observability"
	"github.com/odyssey-erp/stockflow/internal/stock"
)

// mapRepo is a lock-per-call store; lanes keep one key on one goroutine.
type mapRepo struct {
	mu     sync.Mutex
	seen   map[uuid.UUID]struct{}
	stocks map[event.Key]stock.Record
}

func newMapRepo() *mapRepo {
	return &mapRepo{seen: map[uuid.UUID]struct{}{}, stocks: map[event.Key]stock.Record{}}
}

func (r *mapRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return fn(ctx, r)
}

func (r *mapRepo) AppendLedger(_ context.Context, ev event.Event) (ledger.Outcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.seen[ev.TransactionID]; ok {
		return ledger.AlreadyProcessed, nil
	}
	r.seen[ev.TransactionID] = struct{}{}
	return ledger.Accepted, nil
}

func (r *mapRepo) LookupForUpdate(_ context.Context, key event.Key) (stock.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.stocks[key]
	if !ok {
		return stock.Record{}, stock.ErrNotFound
	}
	return rec, nil
}

func (r *mapRepo) Initialize(_ context.Context, key event.Key, qty int64, at time.Time) (stock.InitOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.stocks[key]; ok {
		return stock.AlreadyExists, nil
	}
	r.stocks[key] = stock.Record{ItemNumber: key.ItemNumber, StoreNumber: key.StoreNumber, CurrentValue: qty, LastUpdate: at}
	return stock.Created, nil
}

func (r *mapRepo) Apply(_ context.Context, key event.Key, newQty int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stocks[key] = stock.Record{ItemNumber: key.ItemNumber, StoreNumber: key.StoreNumber, CurrentValue: newQty, LastUpdate: at}
	return nil
}

// feed hands out a fixed set of messages and cancels once all are committed.
type feed struct {
	mu        sync.Mutex
	queue     []kafkago.Message
	committed int
	total     int
	done      context.CancelFunc
}

func (f *feed) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	f.mu.Lock()
	if len(f.queue) > 0 {
		msg := f.queue[0]
		f.queue = f.queue[1:]
		f.mu.Unlock()
		return msg, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (f *feed) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.committed += len(msgs)
	if f.committed >= f.total {
		f.done()
	}
	return nil
}

func (f *feed) Close() error { return nil }

func buildMessages(t testing.TB, decoder *event.Decoder, keys, perKey int) []kafkago.Message {
	t.Helper()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	msgs := make([]kafkago.Message, 0, keys*perKey)
	for i := 0; i < perKey; i++ {
		for k := 0; k < keys; k++ {
			typ := event.TypeIncoming
			if i%3 == 2 {
				typ = event.TypeSale
			}
			payload, err := decoder.Encode(event.Event{
				TransactionID: uuid.New(),
				Type:          typ,
				OccurredAt:    base.Add(time.Duration(i) * time.Minute),
				StoreNumber:   int64(k % 7),
				ItemNumber:    int64(k),
				Quantity:      5,
			})
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			msgs = append(msgs, kafkago.Message{Key: []byte(fmt.Sprintf("%d:%d", k, k%7)), Value: payload, Offset: int64(len(msgs))})
		}
	}
	return msgs
}

func TestIngestThroughputAndOutcomes(t *testing.T) {
	const keys, perKey = 50, 40
	decoder := event.NewDecoder(event.StandardSchema())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	metrics := observability.NewMetrics()
	repo := newMapRepo()
	engine := inventory.NewEngine(repo, decoder, nil, logger, inventory.EngineConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	runCtx, done := context.WithCancel(ctx)
	msgs := buildMessages(t, decoder, keys, perKey)
	src := &feed{queue: msgs, total: len(msgs), done: done}

	loop := ingest.NewLoop(src, engine, decoder.KeyOf, metrics, logger, ingest.Config{
		BatchSize: 100,
		BatchWait: 5 * time.Millisecond,
		Lanes:     8,
	})
	start := time.Now()
	if err := loop.Run(runCtx); err != nil {
		t.Fatalf("run: %v", err)
	}
	elapsed := time.Since(start)
	if ctx.Err() != nil {
		t.Fatalf("ingestion did not finish: committed %d of %d", src.committed, src.total)
	}
	if elapsed > 10*time.Second {
		t.Fatalf("ingest throughput regression: %d events in %s", len(msgs), elapsed)
	}

	stats := loop.Stats().Snapshot()
	if stats.Received != int64(len(msgs)) || stats.Failed != 0 {
		t.Fatalf("unexpected stats %+v", stats)
	}
	if stats.Initialized != keys {
		t.Fatalf("expected %d initialized keys, got %d", keys, stats.Initialized)
	}

	// incoming adds 5, every third event sells 5: the count never goes negative.
	for key, rec := range repo.stocks {
		if rec.CurrentValue < 0 {
			t.Fatalf("negative stock for %v", key)
		}
	}

	families, err := metrics.Registerer().(prometheus.Gatherer).Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	applied := metricValue(t, families, "stockflow_events_total", map[string]string{"outcome": "applied"})
	initialized := metricValue(t, families, "stockflow_events_total", map[string]string{"outcome": "initialized"})
	if int64(applied+initialized) != stats.Validated-stats.Rejected {
		t.Fatalf("metrics disagree with stats: applied=%f initialized=%f stats=%+v", applied, initialized, stats)
	}
	if mean := histogramMean(t, families, "stockflow_ingest_batch_size", nil); mean > 100 {
		t.Fatalf("batch size above configured bound: %f", mean)
	}
}

func metricValue(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				if fam.GetType() == dto.MetricType_COUNTER {
					return metric.GetCounter().GetValue()
				}
				if fam.GetType() == dto.MetricType_GAUGE {
					return metric.GetGauge().GetValue()
				}
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func histogramMean(t *testing.T, families []*dto.MetricFamily, name string, labels map[string]string) float64 {
	t.Helper()
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if hasLabels(metric, labels) {
				hist := metric.GetHistogram()
				if hist == nil || hist.GetSampleCount() == 0 {
					t.Fatalf("histogram %s missing samples", name)
				}
				return hist.GetSampleSum() / float64(hist.GetSampleCount())
			}
		}
	}
	t.Fatalf("histogram %s with labels %v not found", name, labels)
	return 0
}

func hasLabels(metric *dto.Metric, labels map[string]string) bool {
	for _, lp := range metric.GetLabel() {
		if val, ok := labels[lp.GetName()]; ok {
			if lp.GetValue() != val {
				return false
			}
		}
	}
	for key := range labels {
		found := false
		for _, lp := range metric.GetLabel() {
			if lp.GetName() == key {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
