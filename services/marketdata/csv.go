package marketdata

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"quant-backtest/services/engine"
)

var ErrNoBars = errors.New("marketdata: no bars parsed")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// Stats describes one CSV load.
type Stats struct {
	Rows       int
	Skipped    int
	Duplicates int
	Cadence    time.Duration
	Checksum   string
}

// LoadCSV reads OHLCV bars from a file. See Loader.Read.
func (l *Loader) LoadCSV(path string) ([]engine.Bar, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	bars, stats, err := l.Read(f)
	if err != nil {
		return nil, stats, fmt.Errorf("%s: %w", path, err)
	}
	return bars, stats, nil
}

// Read parses timestamp,open,high,low,close,volume rows. A header row is
// optional, UTF-16LE input is detected by its BOM, and unparseable rows are
// skipped. Bars come back sorted with duplicate timestamps resolved to the
// last row seen.
func (l *Loader) Read(r io.Reader) ([]engine.Bar, Stats, error) {
	var stats Stats
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, stats, err
	}
	stats.Checksum = l.Checksum(raw)

	var src io.Reader = bytes.NewReader(raw)
	if bytes.HasPrefix(raw, []byte{0xFF, 0xFE}) {
		src = transform.NewReader(src, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}

	cr := csv.NewReader(bufio.NewReader(src))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	bars := make([]engine.Bar, 0, 1_000)
	for line := 0; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil || len(rec) < 6 {
			stats.Skipped++
			continue
		}
		rec[0] = strings.TrimPrefix(strings.TrimSpace(rec[0]), "\ufeff")
		if line == 0 && isHeader(rec[0]) {
			continue
		}
		b, err := parseRow(rec)
		if err != nil {
			stats.Skipped++
			l.log.Debug("skipping row", zap.Int("line", line+1), zap.Error(err))
			continue
		}
		bars = append(bars, b)
	}
	if len(bars) == 0 {
		return nil, stats, ErrNoBars
	}

	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })
	uniq := make([]engine.Bar, 0, len(bars))
	for _, b := range bars {
		if n := len(uniq); n > 0 && uniq[n-1].Timestamp.Equal(b.Timestamp) {
			uniq[n-1] = b
			stats.Duplicates++
			continue
		}
		uniq = append(uniq, b)
	}
	stats.Rows = len(uniq)
	stats.Cadence = DetectCadence(uniq)

	l.log.Info("parsed bars from csv",
		zap.Int("bars", stats.Rows),
		zap.Int("skipped", stats.Skipped),
		zap.Int("duplicates", stats.Duplicates),
		zap.Duration("cadence", stats.Cadence),
	)
	return uniq, stats, nil
}

func isHeader(field string) bool {
	switch strings.ToLower(field) {
	case "timestamp", "timestamp_ms", "time", "date", "datetime", "open_time":
		return true
	}
	return false
}

func parseRow(rec []string) (engine.Bar, error) {
	ts, err := parseTime(rec[0])
	if err != nil {
		return engine.Bar{}, err
	}
	vals := make([]float64, 5)
	for i := range vals {
		field := strings.TrimSpace(rec[i+1])
		d, err := decimal.NewFromString(field)
		if err != nil {
			if i == 4 {
				// missing volume reads as zero
				continue
			}
			return engine.Bar{}, fmt.Errorf("column %d: %w", i+1, err)
		}
		vals[i] = d.InexactFloat64()
	}
	return engine.Bar{Timestamp: ts, Open: vals[0], High: vals[1], Low: vals[2], Close: vals[3], Volume: vals[4]}, nil
}

// parseTime accepts unix milliseconds (or seconds, for 10-digit values) and
// the common text layouts, interpreted as UTC.
func parseTime(v string) (time.Time, error) {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		if len(v) <= 10 {
			return time.Unix(n, 0).UTC(), nil
		}
		return time.UnixMilli(n).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, v, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", v)
}

// DetectCadence returns the most common positive bar spacing under one hour,
// sampled over the first 2000 bars.
func DetectCadence(bars []engine.Bar) time.Duration {
	counts := map[time.Duration]int{}
	limit := min(len(bars), 2000)
	for i := 1; i < limit; i++ {
		d := bars[i].Timestamp.Sub(bars[i-1].Timestamp)
		if d > 0 && d < time.Hour {
			counts[d]++
		}
	}
	var best time.Duration
	bestCount := 0
	for d, c := range counts {
		if c > bestCount || (c == bestCount && d < best) {
			best, bestCount = d, c
		}
	}
	return best
}
