package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/miradorstack/incident-rca/internal/models"
)

// RuleEngine holds the rule pack used both to score hypotheses and to suggest
// follow-up actions.
type RuleEngine struct {
	rules   []Rule
	generic []string
	logger  *slog.Logger
}

// Rule maps an event pattern to a cause category with a base score.
type Rule struct {
	ID              string          `yaml:"id"`
	Category        models.Category `yaml:"category"`
	Description     string          `yaml:"description"`
	Score           float64         `yaml:"score"`
	Match           RuleMatch       `yaml:"match"`
	Recommendations []string        `yaml:"recommendations"`
}

// RuleMatch defines the attributes an event must carry. Keywords match whole words
// in the message; every other populated field must also hold.
type RuleMatch struct {
	Keywords     []string `yaml:"keywords"`
	MinSeverity  string   `yaml:"min_severity"`
	Sources      []string `yaml:"sources"`
	MetadataKeys []string `yaml:"metadata_keys"`

	minSeverity models.Severity
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules                  []Rule   `yaml:"rules"`
	GenericRecommendations []string `yaml:"generic_recommendations"`
}

const defaultRulePack = `
rules:
  - id: dependency-failure
    category: dependency
    description: Upstream dependency failure
    score: 1.0
    match:
      keywords: [payment, payments, payments-service, database, db, redis, kafka, upstream, dependency, third-party, downstream, connection refused]
    recommendations:
      - Check health and error rates of the failing dependency
      - Enable circuit breaking or fallbacks for the dependency call path
  - id: performance-degradation
    category: performance
    description: Latency or timeout degradation
    score: 0.6
    match:
      keywords: [timeout, timeouts, timed out, latency, slow, exceeded threshold, deadline exceeded]
    recommendations:
      - Review latency percentiles and saturation of the slow component
      - Tune timeouts and retry budgets on the affected calls
  - id: deployment-regression
    category: deployment
    description: Regression introduced by a recent change
    score: 0.8
    match:
      keywords: [deploy, deployed, deployment, release, released, rollback, version, config change, configuration change]
    recommendations:
      - Diff the latest deployment against the last known good version
      - Roll back the suspect release if errors persist
  - id: infrastructure-exhaustion
    category: infrastructure
    description: Infrastructure resource exhaustion
    score: 0.7
    match:
      keywords: [cpu, memory, disk, node, pod, oom, oomkilled, kubernetes, autoscaler, autoscaling, out of memory]
    recommendations:
      - Inspect node and pod resource usage around detection time
      - Adjust resource limits or capacity for the affected workload
  - id: customer-impact
    category: customer-impact
    description: Customer-facing failures
    score: 0.4
    match:
      keywords: [customer, customers, user, users, unable to, cannot checkout, checkout failed, 500 error]
    recommendations:
      - Communicate status to affected customers
generic_recommendations:
  - Schedule a post-incident review and record the timeline
  - Add alerting on the earliest precursor signal
`

// DefaultRules parses the built-in rule pack.
func DefaultRules() RuleConfigFile {
	var cfg RuleConfigFile
	if err := yaml.Unmarshal([]byte(defaultRulePack), &cfg); err != nil {
		panic(fmt.Sprintf("engine: built-in rule pack is invalid: %v", err))
	}
	return cfg
}

// NewRuleEngine loads rules from the provided path. An empty path or a missing file
// yields the built-in rule pack.
func NewRuleEngine(path string, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := DefaultRules()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logger.Warn("rule pack not found, using built-in rules", slog.String("path", path))
		case err != nil:
			return nil, err
		default:
			var loaded RuleConfigFile
			if err := yaml.Unmarshal(data, &loaded); err != nil {
				return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
			}
			cfg = loaded
		}
	}
	return NewRuleEngineFromConfig(cfg, logger)
}

// NewRuleEngineFromConfig validates cfg and builds an engine from it.
func NewRuleEngineFromConfig(cfg RuleConfigFile, logger *slog.Logger) (*RuleEngine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	seen := make(map[string]struct{}, len(cfg.Rules))
	rules := make([]Rule, 0, len(cfg.Rules))
	for i, rule := range cfg.Rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: id is required", i)
		}
		if _, dup := seen[rule.ID]; dup {
			return nil, fmt.Errorf("rule %s: duplicate id", rule.ID)
		}
		seen[rule.ID] = struct{}{}
		if rule.Score < 0 {
			return nil, fmt.Errorf("rule %s: score must be non-negative", rule.ID)
		}
		if rule.Category == "" {
			rule.Category = models.CategoryUnknown
		}
		if rule.Description == "" {
			rule.Description = rule.ID
		}
		if rule.Match.MinSeverity != "" {
			sev, err := models.ParseSeverity(rule.Match.MinSeverity)
			if err != nil {
				return nil, fmt.Errorf("rule %s: %w", rule.ID, err)
			}
			rule.Match.minSeverity = sev
		}
		if len(rule.Match.Keywords) == 0 && len(rule.Match.Sources) == 0 && len(rule.Match.MetadataKeys) == 0 {
			return nil, fmt.Errorf("rule %s: match needs keywords, sources or metadata_keys", rule.ID)
		}
		rules = append(rules, rule)
	}
	return &RuleEngine{rules: rules, generic: cfg.GenericRecommendations, logger: logger}, nil
}

// Rules returns the loaded rules in declaration order.
func (e *RuleEngine) Rules() []Rule {
	if e == nil {
		return nil
	}
	return append([]Rule(nil), e.rules...)
}

// Matches reports whether ev satisfies rule. normalized is the event message
// passed through normalizeText.
func (r Rule) Matches(ev models.Event, normalized string) bool {
	if ev.Severity < r.Match.minSeverity {
		return false
	}
	if len(r.Match.Sources) > 0 && !sourceMatches(r.Match.Sources, ev.Source) {
		return false
	}
	for _, key := range r.Match.MetadataKeys {
		if _, ok := ev.Metadata[key]; !ok {
			return false
		}
	}
	if len(r.Match.Keywords) > 0 {
		if !containsAnyPhrase(normalized, r.Match.Keywords) {
			return false
		}
	}
	return true
}

func sourceMatches(sources []string, source string) bool {
	for _, s := range sources {
		if strings.EqualFold(s, source) {
			return true
		}
	}
	return false
}

// Recommend returns the recommendations attached to the rules behind the primary
// hypothesis, followed by the generic follow-up actions.
func (e *RuleEngine) Recommend(_ context.Context, req models.RecommendationRequest) ([]string, error) {
	if e == nil {
		return nil, nil
	}

	var ruleIDs []string
	for _, h := range req.Hypotheses {
		if h.Primary {
			ruleIDs = h.RuleIDs
			break
		}
	}

	matched := make([]string, 0)
	for _, rule := range e.rules {
		if containsString(ruleIDs, rule.ID) || (len(ruleIDs) == 0 && rule.Category == req.Category) {
			matched = appendUnique(matched, rule.Recommendations...)
		}
	}
	matched = appendUnique(matched, e.generic...)
	return matched, nil
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}
