package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func watcherConfig(toSynth float64) string {
	return fmt.Sprintf(`
confidence_gate:
  to_synth: %v
  to_premium: 0.20
tiers:
  local:
    rank: 1
    models: [tinyllama]
    max_tokens: 256
    timeout: 10
`, toSynth)
}

func startWatcher(t *testing.T) (string, chan GateConfig) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cascade.yaml")
	if err := os.WriteFile(path, []byte(watcherConfig(0.45)), 0644); err != nil {
		t.Fatal(err)
	}

	gates := make(chan GateConfig, 8)
	w, err := NewWatcher(path, func(g GateConfig) { gates <- g })
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go w.Run(ctx)

	// Give the watcher a moment to register before the first rewrite.
	time.Sleep(100 * time.Millisecond)
	return path, gates
}

func awaitGates(t *testing.T, gates chan GateConfig) GateConfig {
	t.Helper()
	select {
	case g := <-gates:
		return g
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a gate reload")
		return GateConfig{}
	}
}

func TestWatcherReloadsGates(t *testing.T) {
	path, gates := startWatcher(t)

	if err := os.WriteFile(path, []byte(watcherConfig(0.60)), 0644); err != nil {
		t.Fatal(err)
	}

	g := awaitGates(t, gates)
	if g.ToSynth != 0.60 {
		t.Errorf("expected reloaded to_synth 0.60, got %v", g.ToSynth)
	}
	if g.ToPremium != 0.20 {
		t.Errorf("expected to_premium 0.20, got %v", g.ToPremium)
	}
}

func TestWatcherKeepsGatesOnInvalidRewrite(t *testing.T) {
	path, gates := startWatcher(t)

	// Out-of-range gate: the reload must be rejected without a callback.
	if err := os.WriteFile(path, []byte(watcherConfig(1.5)), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case g := <-gates:
		t.Fatalf("invalid rewrite must not publish gates, got %+v", g)
	case <-time.After(500 * time.Millisecond):
	}

	// A following valid rewrite still goes through.
	if err := os.WriteFile(path, []byte(watcherConfig(0.55)), 0644); err != nil {
		t.Fatal(err)
	}
	g := awaitGates(t, gates)
	if g.ToSynth != 0.55 {
		t.Errorf("expected to_synth 0.55 after recovery, got %v", g.ToSynth)
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	path, gates := startWatcher(t)

	sibling := filepath.Join(filepath.Dir(path), "other.yaml")
	if err := os.WriteFile(sibling, []byte("unrelated: true\n"), 0644); err != nil {
		t.Fatal(err)
	}

	select {
	case g := <-gates:
		t.Fatalf("sibling file write must not publish gates, got %+v", g)
	case <-time.After(500 * time.Millisecond):
	}
}
