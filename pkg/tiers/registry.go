// Package tiers holds the static description of the escalation ladder.
//
// The registry is built once at startup from configuration and is read-only
// afterwards. A tier name that cannot be resolved is a configuration error
// and surfaces at boot, never on the request path.
package tiers

import (
	"fmt"
	"time"

	"github.com/cascadelabs/cascade/pkg/config"
)

// Tier is one rung of the escalation ladder.
type Tier struct {
	Name              string
	Rank              int
	Models            []string
	TargetConfidence  float64
	CostPerToken      float64
	MaxTokens         int
	Timeout           time.Duration
	MaxCallsPerMinute int
}

// Paid reports whether calls to this tier cost money.
func (t Tier) Paid() bool {
	return t.CostPerToken > 0
}

// EstimateCost returns the expected cost of a call consuming the given
// number of tokens.
func (t Tier) EstimateCost(tokens int) float64 {
	return float64(tokens) * t.CostPerToken
}

// Registry resolves tier names and exposes the ladder in escalation order.
type Registry struct {
	byName map[string]Tier
	ladder []Tier
}

// NewRegistry builds a Registry from configuration. Returns an error for an
// empty ladder; per-tier field validation happens in config.Validate.
func NewRegistry(cfg *config.Config) (*Registry, error) {
	if len(cfg.Tiers) == 0 {
		return nil, fmt.Errorf("no tiers configured")
	}
	r := &Registry{byName: make(map[string]Tier, len(cfg.Tiers))}
	for _, name := range cfg.Ladder() {
		tc := cfg.Tiers[name]
		t := Tier{
			Name:              name,
			Rank:              tc.Rank,
			Models:            tc.Models,
			TargetConfidence:  tc.TargetConfidence,
			CostPerToken:      tc.CostPerToken,
			MaxTokens:         tc.MaxTokens,
			Timeout:           time.Duration(tc.TimeoutSeconds) * time.Second,
			MaxCallsPerMinute: tc.MaxCallsPerMinute,
		}
		r.byName[name] = t
		r.ladder = append(r.ladder, t)
	}
	return r, nil
}

// Config returns the tier with the given name.
func (r *Registry) Config(name string) (Tier, error) {
	t, ok := r.byName[name]
	if !ok {
		return Tier{}, fmt.Errorf("unknown tier %q", name)
	}
	return t, nil
}

// Ladder returns all tiers ordered by ascending rank.
func (r *Registry) Ladder() []Tier {
	return r.ladder
}

// Next returns the tier ranked directly above t, or false at the top.
func (r *Registry) Next(t Tier) (Tier, bool) {
	for i, cur := range r.ladder {
		if cur.Name == t.Name && i+1 < len(r.ladder) {
			return r.ladder[i+1], true
		}
	}
	return Tier{}, false
}
