package dm

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("dm", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":8085" {
		t.Fatalf("expected default addr :8085, got %q", cfg.Addr)
	}
	if cfg.DBPath != "dm.db" {
		t.Fatalf("expected default db path dm.db, got %q", cfg.DBPath)
	}
	if cfg.CombatTimeout != 30*time.Second {
		t.Fatalf("expected default combat timeout 30s, got %s", cfg.CombatTimeout)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("GLOOMVALE_DM_ADDR", ":9000")
	t.Setenv("GLOOMVALE_DM_COMBAT_TIMEOUT", "10s")

	fs := flag.NewFlagSet("dm", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, []string{"-addr", ":9001", "-db", "/tmp/dm.db"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Addr != ":9001" {
		t.Fatalf("expected flag override :9001, got %q", cfg.Addr)
	}
	if cfg.DBPath != "/tmp/dm.db" {
		t.Fatalf("expected db path override, got %q", cfg.DBPath)
	}
	if cfg.CombatTimeout != 10*time.Second {
		t.Fatalf("expected env combat timeout 10s, got %s", cfg.CombatTimeout)
	}
}
