package tuning

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"voxelsim.ai/internal/sim/budget"
	"voxelsim.ai/internal/sim/chunk"
)

func TestLoad_RepoConfig(t *testing.T) {
	s, err := Load(filepath.Join("..", "..", "..", "configs", "sim.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.ChunkEdge != 32 || s.Rule != "B5/S45" {
		t.Fatalf("edge=%d rule=%q", s.ChunkEdge, s.Rule)
	}
	cfg, err := s.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if _, ok := cfg.Gen.(chunk.PlanetGen); !ok {
		t.Fatalf("gen=%T want PlanetGen", cfg.Gen)
	}
	if cfg.Budget.ShellPolicy != budget.ShellParity {
		t.Fatalf("shell policy=%q", cfg.Budget.ShellPolicy)
	}
}

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	raw := "seed: 7\nrule: B4,5/S5\ntick_rate_hz: 30\nbudget:\n  target_cost: 4ms\nstream:\n  load_radius: 3\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.ChunkEdge != chunk.DefaultEdge || s.WorldID == "" || s.MaxStepsPerFrame != 8 {
		t.Fatalf("defaults not applied: %+v", s)
	}
	cfg, err := s.EngineConfig()
	if err != nil {
		t.Fatalf("EngineConfig: %v", err)
	}
	if cfg.Step != time.Second/30 {
		t.Fatalf("step=%v", cfg.Step)
	}
	if cfg.Budget.TargetCost != 4*time.Millisecond || cfg.Stream.LoadRadius != 3 {
		t.Fatalf("budget=%+v stream=%+v", cfg.Budget, cfg.Stream)
	}
	if cfg.Gen != nil {
		t.Fatalf("planet disabled but gen=%T", cfg.Gen)
	}
	if got := cfg.Rule.String(); got != "B45/S5" {
		t.Fatalf("rule=%q", got)
	}
}

func TestLoad_BadRule(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	if err := os.WriteFile(path, []byte("rule: X9\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected rule error")
	}
}

func TestLoad_EdgeTooLarge(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sim.yaml")
	if err := os.WriteFile(path, []byte("chunk_edge: 1024\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected chunk_edge error")
	}
}
