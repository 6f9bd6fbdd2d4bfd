package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pb "quant-backtest/proto"
	"quant-backtest/services/config"
)

var t0 = time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) (*BacktestService, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc := NewBacktestService(config.Default(), nil, nil, zap.NewNop())
	r := gin.New()
	svc.setupHTTPRoutes(r)
	return svc, r
}

// targetRequest enters long at 100 on the first bar and exits at the 102
// target on the second.
func targetRequest() *pb.BacktestRequest {
	ind := map[string]float64{"sma20": 99, "vwap": 100, "atr14": 1, "label": 0, "future_return": 0}
	return &pb.BacktestRequest{
		Instruments: []string{"SPY"},
		Mode:        "event",
		Config:      &pb.RunConfig{SlippageBps: "0"},
		Bars: map[string][]*pb.Bar{"SPY": {
			{Timestamp: t0.UnixMilli(), Open: "100", High: "101", Low: "99", Close: "100", Volume: "10", Indicators: ind},
			{Timestamp: t0.Add(time.Minute).UnixMilli(), Open: "100", High: "103", Low: "99.5", Close: "102", Volume: "10", Indicators: ind},
		}},
		Signals: []*pb.Signal{{
			Timestamp: t0.UnixMilli(), Instrument: "SPY", Strategy: "manual",
			Side: pb.TradeSide_BUY, Entry: "100", Stop: "98", Target: "102",
		}},
	}
}

func post(t *testing.T, r *gin.Engine, body any) *httptest.ResponseRecorder {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/backtest", bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(rec, req)
	return rec
}

func TestPostBacktest(t *testing.T) {
	_, r := newTestService(t)
	rec := post(t, r, targetRequest())
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp pb.BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.SymbolResults) != 1 || len(resp.SymbolResults[0].Trades) != 1 {
		t.Fatalf("response = %+v", resp)
	}
	tr := resp.SymbolResults[0].Trades[0]
	if tr.ExitReason != "target" || tr.Pnl != "2" || tr.ExitPrice != "102" {
		t.Fatalf("trade = %+v", tr)
	}
	if resp.Manifest == nil || resp.Manifest.JobId != resp.JobId {
		t.Fatalf("manifest = %+v", resp.Manifest)
	}

	// The finished job is retrievable.
	get := httptest.NewRecorder()
	r.ServeHTTP(get, httptest.NewRequest(http.MethodGet, "/api/v1/backtest/"+resp.JobId, nil))
	if get.Code != http.StatusOK || !strings.Contains(get.Body.String(), `"exit_reason":"target"`) {
		t.Fatalf("get = %d: %s", get.Code, get.Body.String())
	}
}

func TestPostVectorHorizonRelabels(t *testing.T) {
	_, r := newTestService(t)
	var bars []*pb.Bar
	for i := 0; i < 30; i++ {
		c := fmt.Sprint(100 + i)
		bars = append(bars, &pb.Bar{Timestamp: t0.Add(time.Duration(i) * time.Minute).UnixMilli(), Open: c, High: c, Low: c, Close: c, Volume: "10"})
	}
	rec := post(t, r, &pb.BacktestRequest{
		Instruments: []string{"SPY"},
		Mode:        "vector",
		Config:      &pb.RunConfig{SlippageBps: "0", Horizon: 4},
		Bars:        map[string][]*pb.Bar{"SPY": bars},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp pb.BacktestResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	trades := resp.SymbolResults[0].Trades
	if len(trades) == 0 {
		t.Fatal("no trades")
	}
	// Labels and holding period both use the requested 4 bars.
	first := trades[0]
	exit, _ := strconv.ParseFloat(first.ExitPrice, 64)
	if first.BarsHeld != 4 || first.ExitTime-first.EntryTime != (4*time.Minute).Milliseconds() || math.Abs(exit-104) > 1e-9 {
		t.Fatalf("trade = %+v", first)
	}
}

func TestPostBacktestErrors(t *testing.T) {
	_, r := newTestService(t)

	noBars := targetRequest()
	noBars.Bars = nil
	badPrice := targetRequest()
	badPrice.Bars["SPY"][0].Close = "abc"
	badEquity := targetRequest()
	badEquity.Config.InitialEquity = "-5"

	tests := []struct {
		name string
		req  *pb.BacktestRequest
		code int
		api  string
	}{
		{"no instruments", &pb.BacktestRequest{}, http.StatusBadRequest, pb.CodeInvalidParams},
		{"no store", noBars, http.StatusNotFound, pb.CodeDataNotFound},
		{"bad price", badPrice, http.StatusBadRequest, pb.CodeInvalidParams},
		{"bad equity", badEquity, http.StatusBadRequest, pb.CodeInvalidParams},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(t, r, tt.req)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.code, rec.Body.String())
			}
			var body struct {
				Error pb.APIError `json:"error"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Error.Code != tt.api {
				t.Fatalf("code = %s, want %s", body.Error.Code, tt.api)
			}
		})
	}
}

func TestUnknownJobAndHealth(t *testing.T) {
	_, r := newTestService(t)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/backtest/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("health = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	_, r := newTestService(t)
	post(t, r, targetRequest())
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), `backtest_runs_total{mode="event",status="ok"} 1`) {
		t.Fatalf("metrics:\n%s", rec.Body.String())
	}
}

func TestGRPCExecuteBacktest(t *testing.T) {
	svc, _ := newTestService(t)
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer()
	pb.RegisterBacktestServiceServer(srv, svc)
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	client := pb.NewBacktestServiceClient(conn)

	resp, err := client.ExecuteBacktest(ctx, targetRequest())
	if err != nil {
		t.Fatalf("ExecuteBacktest: %v", err)
	}
	if got := resp.SymbolResults[0].Trades[0].ExitReason; got != "target" {
		t.Fatalf("exit reason = %s", got)
	}

	_, err = client.ExecuteBacktest(ctx, &pb.BacktestRequest{})
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("code = %v, want InvalidArgument", status.Code(err))
	}
}
