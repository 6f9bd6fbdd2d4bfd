package clickhouse

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"quant-backtest/services/engine"
)

// BarRow is the JSONEachRow shape of a bars table row.
type BarRow struct {
	Symbol   string `json:"symbol"`
	Interval string `json:"interval"`
	Ts       string `json:"ts"`
	Open     string `json:"open"`
	High     string `json:"high"`
	Low      string `json:"low"`
	Close    string `json:"close"`
	Volume   string `json:"volume"`
	Version  uint64 `json:"version"`
}

// NewBarRow renders a bar with decimal price strings.
func NewBarRow(symbol, interval string, b engine.Bar, version uint64) BarRow {
	return BarRow{
		Symbol:   symbol,
		Interval: interval,
		Ts:       b.Timestamp.UTC().Format("2006-01-02 15:04:05.000"),
		Open:     price(b.Open).String(),
		High:     price(b.High).String(),
		Low:      price(b.Low).String(),
		Close:    price(b.Close).String(),
		Volume:   fmt.Sprintf("%g", b.Volume),
		Version:  version,
	}
}

// BatchClient handles ClickHouse HTTP batch inserts with compression
type BatchClient struct {
	cfg        Config
	httpClient *http.Client
	buffer     []BarRow
	batchSize  int
	log        *zap.Logger
}

func NewBatchClient(cfg Config, batchSize int, logger *zap.Logger) *BatchClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BatchClient{
		cfg:       cfg,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		buffer: make([]BarRow, 0, batchSize),
		log:    logger,
	}
}

func (c *BatchClient) Add(ctx context.Context, row BarRow) error {
	c.buffer = append(c.buffer, row)
	if len(c.buffer) >= c.batchSize {
		return c.Flush(ctx)
	}
	return nil
}

// Flush posts buffered rows as gzip JSONEachRow.
func (c *BatchClient) Flush(ctx context.Context) error {
	if len(c.buffer) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, row := range c.buffer {
		if err := enc.Encode(row); err != nil {
			return fmt.Errorf("encode row: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("gzip error: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s FORMAT JSONEachRow", c.cfg.bars())
	req, err := c.newRequest(ctx, http.MethodPost, query, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Encoding", "gzip")
	req.Header.Set("X-ClickHouse-Settings", "input_format_allow_errors_num=0,insert_deduplicate=1")
	if _, err := c.do(req); err != nil {
		return err
	}
	c.log.Debug("flushed bar batch", zap.Int("rows", len(c.buffer)))
	c.buffer = c.buffer[:0]
	return nil
}

func (c *BatchClient) Close(ctx context.Context) error {
	return c.Flush(ctx)
}

// Exec runs a statement without reading a result.
func (c *BatchClient) Exec(ctx context.Context, query string) error {
	req, err := c.newRequest(ctx, http.MethodPost, query, strings.NewReader(""))
	if err != nil {
		return err
	}
	_, err = c.do(req)
	return err
}

func (c *BatchClient) newRequest(ctx context.Context, method, query string, body io.Reader) (*http.Request, error) {
	u := fmt.Sprintf("%s/?query=%s", strings.TrimRight(c.cfg.HTTPURL, "/"), url.QueryEscape(query))
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("request error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	return req, nil
}

func (c *BatchClient) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http error: %w", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("clickhouse error %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

// IngestLedger records one ingested file so re-runs are idempotent.
type IngestLedger struct {
	Symbol   string `json:"symbol"`
	FileSHA  string `json:"file_sha256"`
	RowCount int    `json:"row_count"`
	Source   string `json:"source"`
}

func (c *BatchClient) ledgerTable() string { return c.cfg.Database + ".ingest_ledger" }

func (c *BatchClient) EnsureLedger(ctx context.Context) error {
	return c.Exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		symbol String, file_sha256 String, row_count UInt64, source String,
		inserted_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree ORDER BY (symbol, file_sha256)`, c.ledgerTable()))
}

// CheckLedger returns the ledger entry for a file checksum, or nil.
func (c *BatchClient) CheckLedger(ctx context.Context, symbol, fileSHA string) (*IngestLedger, error) {
	query := fmt.Sprintf(`SELECT symbol, file_sha256, row_count, source FROM %s WHERE symbol = '%s' AND file_sha256 = '%s' LIMIT 1 FORMAT JSONEachRow`,
		c.ledgerTable(), escape(symbol), escape(fileSHA))
	req, err := c.newRequest(ctx, http.MethodGet, query, nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, fmt.Errorf("ledger check: %w", err)
	}
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		// UInt64 is quoted in JSON output by default
		var raw struct {
			IngestLedger
			RowCount json.Number `json:"row_count"`
		}
		if err := json.Unmarshal(line, &raw); err != nil {
			return nil, fmt.Errorf("decode ledger row: %w", err)
		}
		entry := raw.IngestLedger
		n, _ := raw.RowCount.Int64()
		entry.RowCount = int(n)
		return &entry, nil
	}
	return nil, nil
}

func (c *BatchClient) RecordLedger(ctx context.Context, e IngestLedger) error {
	return c.Exec(ctx, fmt.Sprintf(`INSERT INTO %s (symbol, file_sha256, row_count, source) VALUES ('%s', '%s', %d, '%s')`,
		c.ledgerTable(), escape(e.Symbol), escape(e.FileSHA), e.RowCount, escape(e.Source)))
}

// DeriveInterval aggregates the base interval into minutes-wide bars.
func (c *BatchClient) DeriveInterval(ctx context.Context, symbol string, minutes int) error {
	if minutes <= 0 {
		return fmt.Errorf("derive interval: minutes must be positive")
	}
	return c.Exec(ctx, deriveQuery(c.cfg, symbol, minutes))
}

func deriveQuery(cfg Config, symbol string, minutes int) string {
	return fmt.Sprintf(`INSERT INTO %[1]s
		SELECT
			symbol,
			'%[2]dm' AS interval,
			toStartOfInterval(ts, INTERVAL %[2]d MINUTE) AS bucket,
			argMin(open, ts) AS open,
			max(high) AS high,
			min(low) AS low,
			argMax(close, ts) AS close,
			sum(volume) AS volume,
			toUInt64(now64()) AS version
		FROM %[1]s FINAL
		WHERE symbol = '%[3]s' AND interval = '%[4]s'
		GROUP BY symbol, bucket`, cfg.bars(), minutes, escape(symbol), escape(cfg.Interval))
}

func escape(v string) string {
	return strings.NewReplacer(`\`, `\\`, `'`, `\'`).Replace(v)
}
