package config

import "testing"

func TestApplyTierPresets(t *testing.T) {
	edge := BatchConfig{Tier: "edge", BatchSize: 80}
	edge.applyTier()
	if edge.TopN != 80 || edge.FreshSeconds != 30 || edge.StaleSeconds != 60 {
		t.Errorf("edge preset = %+v, want topN=80 cache 30/60", edge)
	}

	wide := BatchConfig{Tier: "wide", BatchSize: 80}
	wide.applyTier()
	if wide.TopN != 3000 || wide.FreshSeconds != 300 || wide.StaleSeconds != 600 {
		t.Errorf("wide preset = %+v, want topN=3000 cache 300/600", wide)
	}

	custom := BatchConfig{Tier: "edge", TopN: 150, FreshSeconds: 10}
	custom.applyTier()
	if custom.TopN != 150 || custom.FreshSeconds != 10 || custom.StaleSeconds != 60 {
		t.Errorf("custom overrides = %+v, want explicit values kept", custom)
	}
}

func TestLoadWithoutConfigFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(cfg.Stream.Mirrors) == 0 {
		t.Error("no default stream mirrors")
	}
	if len(cfg.Rest.Domains) == 0 {
		t.Error("no default REST domains")
	}
	if cfg.Batch.BatchSize != 80 {
		t.Errorf("BatchSize = %d, want 80", cfg.Batch.BatchSize)
	}
	if cfg.Batch.TopN != 80 {
		t.Errorf("TopN = %d, want edge preset 80", cfg.Batch.TopN)
	}
}
