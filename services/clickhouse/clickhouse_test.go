package clickhouse

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"quant-backtest/services/engine"
)

var ts = time.Date(2024, 2, 1, 9, 30, 0, 0, time.UTC)

func TestSchemaDDL(t *testing.T) {
	ddl := schemaDDL(DefaultConfig())
	if len(ddl) != 3 {
		t.Fatalf("got %d statements", len(ddl))
	}
	if !strings.Contains(ddl[1], "backtest.bars") || !strings.Contains(ddl[1], "Decimal64(8)") {
		t.Fatalf("bars ddl: %s", ddl[1])
	}
	if !strings.Contains(ddl[2], "backtest.trades") || !strings.Contains(ddl[2], "exit_reason") {
		t.Fatalf("trades ddl: %s", ddl[2])
	}
}

func TestLoadBarsQueryBounds(t *testing.T) {
	cfg := DefaultConfig()
	to := ts.Add(time.Hour)
	tests := []struct {
		name     string
		from, to time.Time
		want     []string
		absent   []string
		args     int
	}{
		{"open both", time.Time{}, time.Time{}, nil, []string{"ts >=", "ts <"}, 2},
		{"from only", ts, time.Time{}, []string{"ts >= ?"}, []string{"ts <"}, 3},
		{"to only", time.Time{}, to, []string{"ts <= ?"}, []string{"ts >="}, 3},
		{"closed", ts, to, []string{"ts >= ?", "ts <= ?"}, nil, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, args := loadBarsQuery(cfg, "SPY", tt.from, tt.to)
			for _, w := range tt.want {
				if !strings.Contains(query, w) {
					t.Fatalf("query missing %q: %s", w, query)
				}
			}
			for _, a := range tt.absent {
				if strings.Contains(query, a) {
					t.Fatalf("query has %q: %s", a, query)
				}
			}
			if len(args) != tt.args || args[0] != "SPY" || args[1] != cfg.Interval {
				t.Fatalf("args = %v", args)
			}
			if last, _ := args[len(args)-1].(time.Time); !tt.to.IsZero() && !last.Equal(to) {
				t.Fatalf("upper bound arg = %v", args[len(args)-1])
			}
		})
	}
}

func TestTradeRow(t *testing.T) {
	row := tradeRow("run-1", "SPY", engine.TradeResult{
		EntryTime: ts, ExitTime: ts.Add(time.Minute), EntryPrice: 100.123456789,
		Side: engine.SideSell, BarsHeld: 3, ExitReason: engine.ExitStop, Strategy: "VRB",
	})
	if len(row) != 14 {
		t.Fatalf("row has %d columns", len(row))
	}
	if row[3] != "SELL" || row[13] != "stop" || row[12] != uint32(3) {
		t.Fatalf("unexpected row %v", row)
	}
	if got := price(100.123456789).String(); got != "100.12345679" {
		t.Fatalf("price = %s", got)
	}
}

func TestDeriveQuery(t *testing.T) {
	q := deriveQuery(DefaultConfig(), "O'Brien", 5)
	if !strings.Contains(q, "'5m' AS interval") || !strings.Contains(q, `O\'Brien`) || !strings.Contains(q, "INTERVAL 5 MINUTE") {
		t.Fatalf("query: %s", q)
	}
}

func TestBatchClientFlush(t *testing.T) {
	var got []BarRow
	var query string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query().Get("query")
		if user, pass, ok := r.BasicAuth(); !ok || user != "backtest" || pass != "backtest123" {
			t.Errorf("missing basic auth")
		}
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("body not gzip encoded")
		}
		gz, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Error(err)
			return
		}
		sc := bufio.NewScanner(gz)
		for sc.Scan() {
			var row BarRow
			if err := json.Unmarshal(sc.Bytes(), &row); err != nil {
				t.Error(err)
			}
			got = append(got, row)
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.HTTPURL = srv.URL
	c := NewBatchClient(cfg, 2, nil)
	ctx := context.Background()
	bar := engine.Bar{Timestamp: ts, Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10}
	for i := 0; i < 3; i++ {
		if err := c.Add(ctx, NewBarRow("SPY", "1m", bar, 1)); err != nil {
			t.Fatal(err)
		}
	}
	if len(got) != 2 {
		t.Fatalf("auto flush sent %d rows", len(got))
	}
	if err := c.Close(ctx); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0].Close != "1.5" || got[0].Ts != "2024-02-01 09:30:00.000" {
		t.Fatalf("rows = %+v", got)
	}
	if query != "INSERT INTO backtest.bars FORMAT JSONEachRow" {
		t.Fatalf("query = %q", query)
	}
}

func TestLedger(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("query")
		switch {
		case strings.Contains(q, "'known'"):
			w.Write([]byte(`{"symbol":"SPY","file_sha256":"known","row_count":"42","source":"csv"}` + "\n"))
		case strings.HasPrefix(q, "SELECT"):
		case strings.Contains(q, "fail"):
			http.Error(w, "Code: 60. Table does not exist", http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.HTTPURL = srv.URL
	c := NewBatchClient(cfg, 10, nil)
	ctx := context.Background()

	entry, err := c.CheckLedger(ctx, "SPY", "known")
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.RowCount != 42 || entry.Source != "csv" {
		t.Fatalf("entry = %+v", entry)
	}
	entry, err = c.CheckLedger(ctx, "SPY", "new")
	if err != nil || entry != nil {
		t.Fatalf("expected miss, got %+v %v", entry, err)
	}
	if err := c.RecordLedger(ctx, IngestLedger{Symbol: "fail"}); err == nil || !strings.Contains(err.Error(), "404") {
		t.Fatalf("expected clickhouse error, got %v", err)
	}
}
