package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wuweilabs/cogkernel/internal/racer"
)

func TestFindConfig_Explicit(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.yaml")
	os.WriteFile(path, []byte("bus:\n  max_history: 500\n"), 0600)

	got, err := FindConfig(path)
	if err != nil {
		t.Fatalf("FindConfig(%q) error: %v", path, err)
	}
	if got != path {
		t.Errorf("FindConfig(%q) = %q, want %q", path, got, path)
	}
}

func TestFindConfig_ExplicitMissing(t *testing.T) {
	_, err := FindConfig("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FindConfig with missing explicit path should error")
	}
}

func TestFindConfig_SearchPath(t *testing.T) {
	dir := t.TempDir()
	orig := searchPathsFunc
	searchPathsFunc = func() []string {
		return []string{filepath.Join(dir, "config.yaml")}
	}
	defer func() { searchPathsFunc = orig }()

	_, err := FindConfig("")
	if err == nil {
		t.Fatal("FindConfig(\"\") with no config files should error")
	}
}

func TestFindConfig_CWD(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("bus:\n  max_history: 10\n"), 0600)

	orig, _ := os.Getwd()
	os.Chdir(dir)
	defer os.Chdir(orig)

	got, err := FindConfig("")
	if err != nil {
		t.Fatalf("FindConfig(\"\") error: %v", err)
	}
	if got != "config.yaml" {
		t.Errorf("FindConfig(\"\") = %q, want %q", got, "config.yaml")
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("forge:\n  token: ${COGKERNEL_TEST_TOKEN}\n  owner: wuweilabs\n  repo: cogkernel\n"), 0600)
	os.Setenv("COGKERNEL_TEST_TOKEN", "secret123")
	defer os.Unsetenv("COGKERNEL_TEST_TOKEN")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Forge.Token != "secret123" {
		t.Errorf("forge.token = %q, want %q", cfg.Forge.Token, "secret123")
	}
}

func TestLoad_InlineValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	os.WriteFile(path, []byte("racing:\n  strategy: hedged\n  max_racers: 5\n"), 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Racing.Strategy != "hedged" {
		t.Errorf("racing.strategy = %q, want %q", cfg.Racing.Strategy, "hedged")
	}
	if cfg.Racing.MaxRacers != 5 {
		t.Errorf("racing.max_racers = %d, want 5", cfg.Racing.MaxRacers)
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := Default()

	if cfg.DataDir != "./data" {
		t.Errorf("data_dir = %q, want ./data", cfg.DataDir)
	}
	if cfg.EventSink.DBPath != filepath.Join("./data", "events.db") {
		t.Errorf("eventsink.db_path = %q, want %q", cfg.EventSink.DBPath, filepath.Join("./data", "events.db"))
	}
	if cfg.BusAPI.Port != 8090 {
		t.Errorf("busapi.port = %d, want 8090", cfg.BusAPI.Port)
	}
	if cfg.Racing.MaxRacers != 3 {
		t.Errorf("racing.max_racers = %d, want 3", cfg.Racing.MaxRacers)
	}
	if cfg.Orchestrator.MaxToolCalls != 8 {
		t.Errorf("orchestrator.max_tool_calls = %d, want 8", cfg.Orchestrator.MaxToolCalls)
	}
	if cfg.Loop.MaxCycles != -1 {
		t.Errorf("loop.max_cycles = %d, want -1 (unbounded)", cfg.Loop.MaxCycles)
	}
}

func TestValidate_BusAPIPortOutOfRange(t *testing.T) {
	cfg := Default()
	cfg.BusAPI.Enabled = true
	cfg.BusAPI.Port = 0

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for out-of-range busapi.port")
	}
}

func TestValidate_UnknownRacingStrategy(t *testing.T) {
	cfg := Default()
	cfg.Racing.Strategy = "bogus"

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for unknown racing.strategy")
	}
}

func TestValidate_ForgeEnabledMissingFields(t *testing.T) {
	cfg := Default()
	cfg.Forge.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for forge enabled without token/owner/repo")
	}
}

func TestValidate_ForgeEnabledConfigured(t *testing.T) {
	cfg := Default()
	cfg.Forge = ForgeConfig{Enabled: true, Token: "t", Owner: "o", Repo: "r"}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestValidate_MQTTObsEnabledMissingBroker(t *testing.T) {
	cfg := Default()
	cfg.MQTTObs.Enabled = true

	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error for mqttobs enabled without broker_url")
	}
}

func TestForgeConfig_Configured(t *testing.T) {
	tests := []struct {
		name string
		cfg  ForgeConfig
		want bool
	}{
		{"all set", ForgeConfig{Token: "t", Owner: "o", Repo: "r"}, true},
		{"no token", ForgeConfig{Owner: "o", Repo: "r"}, false},
		{"no owner", ForgeConfig{Token: "t", Repo: "r"}, false},
		{"no repo", ForgeConfig{Token: "t", Owner: "o"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.Configured(); got != tt.want {
				t.Errorf("Configured() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRacingConfig_ToRacingConfig(t *testing.T) {
	c := RacingConfig{Strategy: "speculative", MaxRacers: 2, SpeculativeTokens: 3}
	rc, err := c.ToRacingConfig()
	if err != nil {
		t.Fatalf("ToRacingConfig() error: %v", err)
	}
	if rc.Strategy != racer.StrategySpeculative {
		t.Errorf("Strategy = %v, want StrategySpeculative", rc.Strategy)
	}
	if rc.MaxRacers != 2 {
		t.Errorf("MaxRacers = %d, want 2", rc.MaxRacers)
	}
}

func TestRacingConfig_ToRacingConfigUnknownStrategy(t *testing.T) {
	c := RacingConfig{Strategy: "bogus"}
	if _, err := c.ToRacingConfig(); err == nil {
		t.Fatal("expected error for unknown strategy")
	}
}

func TestEngineConfig_ToEngineConfigAppliesDefaults(t *testing.T) {
	c := EngineConfig{}
	ec := c.ToEngineConfig()
	if ec.Temperature != 1.0 {
		t.Errorf("Temperature = %v, want default 1.0", ec.Temperature)
	}
}

func TestLoopConfig_ToLoopConfigConvertsMilliseconds(t *testing.T) {
	c := LoopConfig{CycleIntervalMS: 250, MaxCycles: 10}
	lc := c.ToLoopConfig()
	if lc.CycleInterval.Milliseconds() != 250 {
		t.Errorf("CycleInterval = %v, want 250ms", lc.CycleInterval)
	}
}
