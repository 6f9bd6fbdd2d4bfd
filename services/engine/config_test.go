package engine

import (
	"encoding/json"
	"testing"
)

func TestRunConfigHashStable(t *testing.T) {
	a, b := DefaultRunConfig(), DefaultRunConfig()
	if a.Hash() != b.Hash() {
		t.Fatal("hash not deterministic")
	}
	b.SlippageBps = 6
	if a.Hash() == b.Hash() {
		t.Fatal("hash ignores slippage")
	}
}

func TestRunManifest(t *testing.T) {
	cfg := DefaultRunConfig()
	in := []string{"SPY"}
	m := NewRunManifest(cfg, ModeEvent, in)
	in[0] = "changed"
	if m.JobID == "" || m.Instruments[0] != "SPY" || m.ConfigHash != cfg.Hash() || m.EngineVersion != EngineVersion {
		t.Fatalf("unexpected manifest %+v", m)
	}
}

func TestParseMode(t *testing.T) {
	if _, err := ParseMode("vector"); err != nil {
		t.Fatal(err)
	}
	if _, err := ParseMode("batch"); err == nil {
		t.Fatal("expected error")
	}
}

func TestSideJSON(t *testing.T) {
	b, err := json.Marshal(TradeResult{Side: SideSell, ExitReason: ExitTarget})
	if err != nil {
		t.Fatal(err)
	}
	var back TradeResult
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Side != SideSell || back.ExitReason != ExitTarget {
		t.Fatalf("round trip lost enums: %+v", back)
	}
	if _, err := ParseSide("long"); err != nil {
		t.Fatal(err)
	}
}
