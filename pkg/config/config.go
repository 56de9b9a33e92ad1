package config

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config holds all Cascade configuration.
type Config struct {
	Backend   BackendConfig         `yaml:"backend"`
	DBPath    string                `yaml:"db_path"`
	Gates     GateConfig            `yaml:"confidence_gate"`
	Budget    BudgetConfig          `yaml:"budget"`
	Guardrail GuardrailConfig       `yaml:"cost_guardrail"`
	Tiers     map[string]TierConfig `yaml:"tiers"`
	Cache     CacheConfig           `yaml:"cache"`
	Patterns  PatternConfig         `yaml:"pattern_learning"`
}

// BackendConfig points at the inference backend serving all tiers.
type BackendConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// GateConfig holds the confidence thresholds that decide escalation.
// A tier's answer is accepted when its confidence meets or exceeds the gate.
type GateConfig struct {
	ToSynth   float64 `yaml:"to_synth"`
	ToPremium float64 `yaml:"to_premium"`
}

// BudgetConfig controls hard spend caps and the soft alert threshold.
type BudgetConfig struct {
	PerRequestUSD      float64 `yaml:"per_request_usd"`
	DailyBudgetUSD     float64 `yaml:"daily_budget_usd"`
	CostAlertThreshold float64 `yaml:"cost_alert_threshold"`
	ResetHour          int     `yaml:"reset_hour"`
}

// GuardrailConfig tightens the gates once daily spend crosses TriggerRatio
// of the budget, cutting paid escalations for the rest of the day.
type GuardrailConfig struct {
	TriggerRatio float64    `yaml:"trigger_ratio"`
	TightGates   GateConfig `yaml:"tight_gates"`
}

// TierConfig describes one rung of the escalation ladder.
type TierConfig struct {
	Rank              int      `yaml:"rank"`
	Models            []string `yaml:"models"`
	TargetConfidence  float64  `yaml:"target_confidence"`
	CostPerToken      float64  `yaml:"cost_per_token"`
	MaxTokens         int      `yaml:"max_tokens"`
	TimeoutSeconds    int      `yaml:"timeout"`
	MaxCallsPerMinute int      `yaml:"max_calls_per_minute"`
}

// CacheConfig controls the prompt cache.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds"`
	MaxEntries int  `yaml:"max_entries"`
}

// PatternConfig controls the pattern specialist layer.
type PatternConfig struct {
	MinPatternConfidence float64 `yaml:"min_pattern_confidence"`
	PatternCacheTTL      int     `yaml:"pattern_cache_ttl"`
	AutoPatternMining    bool    `yaml:"auto_pattern_mining"`
	SpecialistsPath      string  `yaml:"specialists_path"`
}

// Default returns a Config with the stock gate and budget values.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{URL: "http://localhost:8000"},
		DBPath:  "cascade.db",
		Gates:   GateConfig{ToSynth: 0.45, ToPremium: 0.20},
		Budget: BudgetConfig{
			PerRequestUSD:      0.02,
			DailyBudgetUSD:     0.10,
			CostAlertThreshold: 0.05,
			ResetHour:          0,
		},
		Guardrail: GuardrailConfig{
			TriggerRatio: 0.70,
			TightGates:   GateConfig{ToSynth: 0.40, ToPremium: 0.15},
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 3600,
			MaxEntries: 10000,
		},
		Patterns: PatternConfig{
			MinPatternConfidence: 0.80,
			PatternCacheTTL:      86400,
		},
	}
}

// Load reads a YAML config file, expands environment variables, overlays it
// on the defaults, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would misroute at request time.
// Any error here is fatal at startup.
func (c *Config) Validate() error {
	if err := validateGates("confidence_gate", c.Gates); err != nil {
		return err
	}
	if err := validateGates("cost_guardrail.tight_gates", c.Guardrail.TightGates); err != nil {
		return err
	}
	if c.Guardrail.TriggerRatio < 0 || c.Guardrail.TriggerRatio > 1 {
		return fmt.Errorf("cost_guardrail.trigger_ratio %v outside [0,1]", c.Guardrail.TriggerRatio)
	}
	if c.Budget.DailyBudgetUSD < 0 {
		return fmt.Errorf("budget.daily_budget_usd must not be negative")
	}
	if c.Budget.PerRequestUSD < 0 {
		return fmt.Errorf("budget.per_request_usd must not be negative")
	}
	if c.Budget.ResetHour < 0 || c.Budget.ResetHour > 23 {
		return fmt.Errorf("budget.reset_hour %d outside [0,23]", c.Budget.ResetHour)
	}
	if len(c.Tiers) == 0 {
		return fmt.Errorf("no tiers configured")
	}
	seen := make(map[int]string, len(c.Tiers))
	for name, tc := range c.Tiers {
		if len(tc.Models) == 0 {
			return fmt.Errorf("tier %q: no models", name)
		}
		if tc.MaxTokens <= 0 {
			return fmt.Errorf("tier %q: max_tokens must be positive", name)
		}
		if tc.TimeoutSeconds <= 0 {
			return fmt.Errorf("tier %q: timeout must be positive", name)
		}
		if tc.CostPerToken < 0 {
			return fmt.Errorf("tier %q: cost_per_token must not be negative", name)
		}
		if prev, dup := seen[tc.Rank]; dup {
			return fmt.Errorf("tier %q: rank %d already used by %q", name, tc.Rank, prev)
		}
		seen[tc.Rank] = name
	}
	if c.Patterns.MinPatternConfidence < 0 || c.Patterns.MinPatternConfidence > 1 {
		return fmt.Errorf("pattern_learning.min_pattern_confidence %v outside [0,1]", c.Patterns.MinPatternConfidence)
	}
	return nil
}

func validateGates(field string, g GateConfig) error {
	if g.ToSynth < 0 || g.ToSynth > 1 {
		return fmt.Errorf("%s.to_synth %v outside [0,1]", field, g.ToSynth)
	}
	if g.ToPremium < 0 || g.ToPremium > 1 {
		return fmt.Errorf("%s.to_premium %v outside [0,1]", field, g.ToPremium)
	}
	return nil
}

// Ladder returns tier names ordered by ascending rank.
func (c *Config) Ladder() []string {
	names := make([]string, 0, len(c.Tiers))
	for name := range c.Tiers {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return c.Tiers[names[i]].Rank < c.Tiers[names[j]].Rank
	})
	return names
}
