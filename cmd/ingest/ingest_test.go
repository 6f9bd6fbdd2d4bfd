package main

import (
	"compress/gzip"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	ch "quant-backtest/services/clickhouse"
	"quant-backtest/services/engine"
)

const sample = `timestamp,open,high,low,close,volume
2024-03-04T14:30:00Z,100,101,99,100.5,10
2024-03-04T14:31:00Z,100.5,102,100,101,12
2024-03-04T14:32:00Z,101,101.5,100.2,100.8,9
`

// fakeClickHouse records statements and serves a ledger lookup.
type fakeClickHouse struct {
	mu       sync.Mutex
	queries  []string
	inserted int
	ledger   string
}

func (f *fakeClickHouse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("query")
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, q)
	switch {
	case strings.Contains(q, "FORMAT JSONEachRow") && strings.HasPrefix(q, "INSERT"):
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(zr)
		f.inserted += strings.Count(string(body), "\n")
	case strings.HasPrefix(q, "SELECT"):
		io.WriteString(w, f.ledger)
	}
}

func (f *fakeClickHouse) count(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, q := range f.queries {
		if strings.Contains(q, prefix) {
			n++
		}
	}
	return n
}

func setup(t *testing.T) (ch.Config, *fakeClickHouse, options) {
	t.Helper()
	fake := &fakeClickHouse{}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	path := filepath.Join(t.TempDir(), "spy.csv")
	if err := os.WriteFile(path, []byte(sample), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := ch.DefaultConfig()
	cfg.HTTPURL = srv.URL
	return cfg, fake, options{input: path, symbol: "SPY", useHTTP: true, batchSize: 2, derive: []int{5}, validate: true}
}

func TestIngestHTTP(t *testing.T) {
	cfg, fake, opts := setup(t)
	if err := ingest(context.Background(), cfg, opts, zap.NewNop()); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if fake.inserted != 3 {
		t.Fatalf("inserted rows = %d, want 3", fake.inserted)
	}
	if fake.count("ingest_ledger (symbol") != 1 {
		t.Fatal("ledger not recorded")
	}
	if fake.count("'5m' AS interval") != 1 {
		t.Fatal("5m interval not derived")
	}
}

func TestIngestSkipsKnownFile(t *testing.T) {
	cfg, fake, opts := setup(t)
	fake.ledger = `{"symbol":"SPY","file_sha256":"x","row_count":"3","source":"spy.csv"}` + "\n"
	if err := ingest(context.Background(), cfg, opts, zap.NewNop()); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if fake.inserted != 0 {
		t.Fatalf("re-ingested %d rows", fake.inserted)
	}

	opts.force = true
	if err := ingest(context.Background(), cfg, opts, zap.NewNop()); err != nil {
		t.Fatalf("forced ingest: %v", err)
	}
	if fake.inserted != 3 {
		t.Fatalf("forced ingest inserted %d rows", fake.inserted)
	}
}

func TestValidationSuite(t *testing.T) {
	t0 := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	good := []engine.Bar{
		{Timestamp: t0, Open: 1, High: 2, Low: 0.5, Close: 1.5},
		{Timestamp: t0.Add(3 * time.Minute), Open: 1, High: 2, Low: 0.5, Close: 1.5},
	}
	v := NewValidationSuite(time.Minute, zap.NewNop())
	if err := v.RunAllValidations(good); err != nil {
		t.Fatalf("valid bars rejected: %v", err)
	}
	if gaps := v.TestCounts(good); gaps != 1 {
		t.Fatalf("gaps = %d, want 1", gaps)
	}

	misaligned := []engine.Bar{{Timestamp: t0.Add(30 * time.Second), Open: 1, High: 2, Low: 0.5, Close: 1}}
	if err := v.RunAllValidations(misaligned); err == nil {
		t.Fatal("misaligned bar accepted")
	}
	inverted := []engine.Bar{{Timestamp: t0, Open: 1, High: 0.9, Low: 0.5, Close: 1}}
	if err := v.RunAllValidations(inverted); err == nil {
		t.Fatal("high below open accepted")
	}
}

func TestParseIntervals(t *testing.T) {
	got, err := parseIntervals("5, 15,")
	if err != nil || len(got) != 2 || got[0] != 5 || got[1] != 15 {
		t.Fatalf("parseIntervals = %v, %v", got, err)
	}
	if _, err := parseIntervals("5,x"); err == nil {
		t.Fatal("bad interval accepted")
	}
}
