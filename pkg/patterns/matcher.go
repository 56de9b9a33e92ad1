// Package patterns short-circuits the escalation ladder for prompts that
// match pre-learned patterns.
//
// Specialists are mined offline and loaded read-only at startup. Matching is
// a handful of pre-compiled regexp scans, cheap enough to sit ahead of every
// model call.
package patterns

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Specialist is one learned pattern with its canned response.
type Specialist struct {
	ClusterID  int     `yaml:"cluster_id"`
	RouteRule  string  `yaml:"route_rule"`
	Template   string  `yaml:"template"`
	Confidence float64 `yaml:"confidence"`

	rule *regexp.Regexp
}

// Match is a successful specialist lookup.
type Match struct {
	ClusterID  int
	Confidence float64
	Response   string
}

// Matcher holds the loaded specialists and the confidence floor below which
// a textual match is ignored.
type Matcher struct {
	specialists   []Specialist
	minConfidence float64
}

type specialistFile struct {
	Specialists []Specialist `yaml:"specialists"`
}

// Load reads a specialist YAML file and compiles the trigger rules.
// An empty path yields a matcher that never matches.
func Load(path string, minConfidence float64) (*Matcher, error) {
	m := &Matcher{minConfidence: minConfidence}
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read specialists: %w", err)
	}
	var file specialistFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse specialists: %w", err)
	}

	for i := range file.Specialists {
		s := &file.Specialists[i]
		rule, err := regexp.Compile(`(?i)` + s.RouteRule)
		if err != nil {
			return nil, fmt.Errorf("specialist cluster %d: bad route rule: %w", s.ClusterID, err)
		}
		s.rule = rule
	}
	m.specialists = file.Specialists
	return m, nil
}

// NewMatcher builds a Matcher from specialists already in memory, compiling
// their rules. Used by tests and by callers that mine patterns themselves.
func NewMatcher(specialists []Specialist, minConfidence float64) (*Matcher, error) {
	for i := range specialists {
		rule, err := regexp.Compile(`(?i)` + specialists[i].RouteRule)
		if err != nil {
			return nil, fmt.Errorf("specialist cluster %d: bad route rule: %w", specialists[i].ClusterID, err)
		}
		specialists[i].rule = rule
	}
	return &Matcher{specialists: specialists, minConfidence: minConfidence}, nil
}

// Match returns the first specialist whose rule matches the prompt and whose
// confidence meets the configured floor.
func (m *Matcher) Match(prompt string) (Match, bool) {
	for _, s := range m.specialists {
		if s.Confidence < m.minConfidence {
			continue
		}
		if s.rule.MatchString(prompt) {
			return Match{
				ClusterID:  s.ClusterID,
				Confidence: s.Confidence,
				Response:   s.Template,
			}, true
		}
	}
	return Match{}, false
}

// Count returns the number of loaded specialists.
func (m *Matcher) Count() int {
	return len(m.specialists)
}

// Specialists returns the loaded specialists for inspection.
func (m *Matcher) Specialists() []Specialist {
	return m.specialists
}
