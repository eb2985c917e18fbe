// Package config handles cogkernel configuration loading: one YAML file
// unmarshaled into durable settings for the bus, the autonomous loop, the
// inference engine, the model racer, the stream orchestrator, and the
// reference collaborators wired up by cmd/kerneld.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/wuweilabs/cogkernel/internal/events"
	"github.com/wuweilabs/cogkernel/internal/inference"
	"github.com/wuweilabs/cogkernel/internal/loop"
	"github.com/wuweilabs/cogkernel/internal/orchestrator"
	"github.com/wuweilabs/cogkernel/internal/racer"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/cogkernel/config.yaml, /config/config.yaml,
// /etc/cogkernel/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "cogkernel", "config.yaml"))
	}

	paths = append(paths, "/config/config.yaml") // Container convention
	paths = append(paths, "/etc/cogkernel/config.yaml")
	return paths
}

// searchPathsFunc is DefaultSearchPaths by default; tests override it to
// avoid matching real config files on the developer's machine.
var searchPathsFunc = DefaultSearchPaths

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	paths := searchPathsFunc()
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", paths)
}

// Config holds all cogkernel configuration.
type Config struct {
	Bus          BusConfig          `yaml:"bus"`
	Loop         LoopConfig         `yaml:"loop"`
	Engine       EngineConfig       `yaml:"engine"`
	Racing       RacingConfig       `yaml:"racing"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	EventSink    EventSinkConfig    `yaml:"eventsink"`
	BusAPI       BusAPIConfig       `yaml:"busapi"`
	MQTTObs      MQTTObsConfig      `yaml:"mqttobs"`
	Forge        ForgeConfig        `yaml:"forge"`
	Pairing      PairingConfig      `yaml:"pairing"`
	Report       ReportConfig       `yaml:"report"`
	DataDir      string             `yaml:"data_dir"`
	LogLevel     string             `yaml:"log_level"`
}

// BusConfig configures the event bus.
type BusConfig struct {
	MaxHistory int `yaml:"max_history"`
}

// ToBusOptions converts BusConfig into events.BusOptions.
func (c BusConfig) ToBusOptions() events.BusOptions {
	return events.BusOptions{MaxHistory: c.MaxHistory}
}

// LoopConfig configures the autonomous loop's stopping predicates and
// pacing. Durations are expressed in milliseconds in YAML, matching the
// teacher's ShellExecConfig.DefaultTimeoutSec convention of plain
// integers over duration strings.
type LoopConfig struct {
	CycleIntervalMS      int     `yaml:"cycle_interval_ms"`
	MaxCycles            int     `yaml:"max_cycles"`
	StopOnGoalAchieved   bool    `yaml:"stop_on_goal_achieved"`
	StopOnEnergyCritical bool    `yaml:"stop_on_energy_critical"`
	StopOnHighSurprise   bool    `yaml:"stop_on_high_surprise"`
	SurpriseThreshold    float64 `yaml:"surprise_threshold"`
	Verbose              bool    `yaml:"verbose"`
}

// ToLoopConfig converts LoopConfig into loop.LoopConfig.
func (c LoopConfig) ToLoopConfig() loop.LoopConfig {
	return loop.LoopConfig{
		CycleInterval:        time.Duration(c.CycleIntervalMS) * time.Millisecond,
		MaxCycles:            c.MaxCycles,
		StopOnGoalAchieved:   c.StopOnGoalAchieved,
		StopOnEnergyCritical: c.StopOnEnergyCritical,
		StopOnHighSurprise:   c.StopOnHighSurprise,
		SurpriseThreshold:    c.SurpriseThreshold,
		Verbose:              c.Verbose,
	}
}

// EngineConfig configures the Active Inference engine's EFE weighting,
// softmax temperature, and homeostatic thresholds.
type EngineConfig struct {
	PragmaticWeight         float64 `yaml:"pragmatic_weight"`
	EpistemicWeight         float64 `yaml:"epistemic_weight"`
	Temperature             float64 `yaml:"temperature"`
	EnergyCriticalThreshold int     `yaml:"energy_critical_threshold"`
	GoalTaskThreshold       int     `yaml:"goal_task_threshold"`
}

// ToEngineConfig converts EngineConfig into inference.EngineConfig. Zero
// values are replaced by inference.DefaultEngineConfig's documented
// defaults so an empty "engine:" block behaves sensibly.
func (c EngineConfig) ToEngineConfig() inference.EngineConfig {
	def := inference.DefaultEngineConfig()
	out := def
	if c.PragmaticWeight != 0 {
		out.PragmaticWeight = c.PragmaticWeight
	}
	if c.EpistemicWeight != 0 {
		out.EpistemicWeight = c.EpistemicWeight
	}
	if c.Temperature != 0 {
		out.Temperature = c.Temperature
	}
	if c.EnergyCriticalThreshold != 0 {
		out.EnergyCriticalThreshold = c.EnergyCriticalThreshold
	}
	if c.GoalTaskThreshold != 0 {
		out.GoalTaskThreshold = c.GoalTaskThreshold
	}
	return out
}

// RacingConfig configures the model racer.
type RacingConfig struct {
	Strategy             string   `yaml:"strategy"` // ttft, hedged, speculative, quality
	MaxRacers            int      `yaml:"max_racers"`
	MaxRaceCost          float64  `yaml:"max_race_cost"`
	TTFTTimeoutMS        int      `yaml:"ttft_timeout_ms"`
	HedgeDelayMS         int      `yaml:"hedge_delay_ms"`
	SpeculativeTokens    int      `yaml:"speculative_tokens"`
	SkipRacingConfidence float64  `yaml:"skip_racing_confidence"`
	PreferredProviders   []string `yaml:"preferred_providers"`
	ExcludeModels        []string `yaml:"exclude_models"`
	EnableLearning       bool     `yaml:"enable_learning"`
}

// ToRacingConfig converts RacingConfig into racer.Config. An unknown
// Strategy string is an error rather than a silent fallback, since racing
// behavior changes materially between strategies.
func (c RacingConfig) ToRacingConfig() (racer.Config, error) {
	strategy, err := parseStrategy(c.Strategy)
	if err != nil {
		return racer.Config{}, err
	}

	exclude := make(map[string]bool, len(c.ExcludeModels))
	for _, m := range c.ExcludeModels {
		exclude[m] = true
	}

	return racer.Config{
		Strategy:             strategy,
		MaxRacers:            c.MaxRacers,
		MaxRaceCost:          c.MaxRaceCost,
		TTFTTimeout:          time.Duration(c.TTFTTimeoutMS) * time.Millisecond,
		HedgeDelay:           time.Duration(c.HedgeDelayMS) * time.Millisecond,
		SpeculativeTokens:    c.SpeculativeTokens,
		SkipRacingConfidence: c.SkipRacingConfidence,
		PreferredProviders:   c.PreferredProviders,
		ExcludeModels:        exclude,
		EnableLearning:       c.EnableLearning,
	}, nil
}

func parseStrategy(s string) (racer.Strategy, error) {
	switch s {
	case "", "ttft":
		return racer.StrategyTTFT, nil
	case "hedged":
		return racer.StrategyHedged, nil
	case "speculative":
		return racer.StrategySpeculative, nil
	case "quality":
		return racer.StrategyQuality, nil
	default:
		return 0, fmt.Errorf("racing.strategy %q not recognized (want ttft, hedged, speculative, or quality)", s)
	}
}

// OrchestratorConfig configures the stream orchestrator.
type OrchestratorConfig struct {
	MaxToolCalls int                               `yaml:"max_tool_calls"`
	CostTable    map[string]orchestrator.ModelCost `yaml:"cost_table"`
}

// ToOrchestratorConfig converts OrchestratorConfig into orchestrator.Config.
// Tools and Logger are wired by the caller, not loaded from YAML.
func (c OrchestratorConfig) ToOrchestratorConfig() orchestrator.Config {
	maxToolCalls := c.MaxToolCalls
	if maxToolCalls == 0 {
		maxToolCalls = 8
	}
	return orchestrator.Config{
		MaxToolCalls: maxToolCalls,
		CostTable:    c.CostTable,
	}
}

// EventSinkConfig configures the SQLite bus-history archiver.
type EventSinkConfig struct {
	Enabled bool   `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// BusAPIConfig configures the read-only websocket bus-event stream.
type BusAPIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// MQTTObsConfig configures the MQTT ObservationGatherer.
type MQTTObsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BrokerURL string `yaml:"broker_url"`
	ClientID  string `yaml:"client_id"`
	Topic     string `yaml:"topic"`
}

// ForgeConfig configures the GitHub-issue-filing ActionExecutor.
type ForgeConfig struct {
	Enabled           bool    `yaml:"enabled"`
	Token             string  `yaml:"token"`
	Owner             string  `yaml:"owner"`
	Repo              string  `yaml:"repo"`
	SurpriseThreshold float64 `yaml:"surprise_threshold"`
}

// PairingConfig configures the QR-code pairing collaborator, which
// answers pairing requests on the bus (it is not an ActionExecutor).
type PairingConfig struct {
	Enabled   bool   `yaml:"enabled"`
	OutputDir string `yaml:"output_dir"`
}

// ReportConfig configures the Markdown-to-HTML cycle-summary renderer.
type ReportConfig struct {
	OutputDir string `yaml:"output_dir"`
}

// Configured reports whether the forge collaborator has the minimum
// settings (token, owner, repo) needed to file an issue.
func (c ForgeConfig) Configured() bool {
	return c.Token != "" && c.Owner != "" && c.Repo != ""
}

// Configured reports whether the MQTT observation gatherer has a broker
// to connect to.
func (c MQTTObsConfig) Configured() bool {
	return c.BrokerURL != ""
}

// Load reads configuration from a YAML file, expands environment
// variables, applies defaults for any unset fields, and validates
// the result. After Load returns successfully, all fields are usable
// without additional nil/empty checks.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${HOME}, ${FORGE_TOKEN}).
	// This is a convenience for container deployments; the recommended
	// approach is to put values directly in the config file.
	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in zero-value fields with sensible defaults.
// Called automatically by Load. After this, callers can read any field
// without checking for empty strings or zero values.
func (c *Config) applyDefaults() {
	if c.DataDir == "" {
		c.DataDir = "./data"
	}
	if c.EventSink.DBPath == "" {
		c.EventSink.DBPath = filepath.Join(c.DataDir, "events.db")
	}
	if c.BusAPI.Port == 0 {
		c.BusAPI.Port = 8090
	}
	if c.Racing.MaxRacers == 0 {
		c.Racing.MaxRacers = 3
	}
	if c.Racing.TTFTTimeoutMS == 0 {
		c.Racing.TTFTTimeoutMS = 3000
	}
	if c.Racing.HedgeDelayMS == 0 {
		c.Racing.HedgeDelayMS = 250
	}
	if c.Orchestrator.MaxToolCalls == 0 {
		c.Orchestrator.MaxToolCalls = 8
	}
	if c.Loop.MaxCycles == 0 {
		c.Loop.MaxCycles = -1 // unbounded, matching loop.LoopConfig's zero-means-unbounded contract
	}
	if c.Pairing.OutputDir == "" {
		c.Pairing.OutputDir = filepath.Join(c.DataDir, "pairing")
	}
	if c.Report.OutputDir == "" {
		c.Report.OutputDir = filepath.Join(c.DataDir, "reports")
	}
}

// Validate checks that the configuration is internally consistent.
// It runs after applyDefaults, so it can assume defaults are populated.
// Returns an error describing the first problem found, or nil.
func (c *Config) Validate() error {
	if c.BusAPI.Enabled && (c.BusAPI.Port < 1 || c.BusAPI.Port > 65535) {
		return fmt.Errorf("busapi.port %d out of range (1-65535)", c.BusAPI.Port)
	}
	if _, err := parseStrategy(c.Racing.Strategy); err != nil {
		return err
	}
	if c.Forge.Enabled && !c.Forge.Configured() {
		return fmt.Errorf("forge.enabled is true but token/owner/repo are not all set")
	}
	if c.MQTTObs.Enabled && !c.MQTTObs.Configured() {
		return fmt.Errorf("mqttobs.enabled is true but broker_url is not set")
	}
	if c.LogLevel != "" {
		if _, err := ParseLogLevel(c.LogLevel); err != nil {
			return err
		}
	}
	return nil
}

// Default returns a default configuration suitable for running
// cmd/kerneld's demo mode end to end with no external services. All
// defaults are already applied.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}
