package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/gatewright/gatewright/pkg/candidate"
	"github.com/gatewright/gatewright/pkg/mapping"
	"github.com/gatewright/gatewright/pkg/validation"
)

// Profile is a deployment-specific governance profile. It parameterizes the
// validator thresholds, the mapper's domain tables, the dual-control approver
// set, and retry behavior.
type Profile struct {
	Name             string `yaml:"name" json:"name"`
	MinEngineVersion string `yaml:"min_engine_version,omitempty" json:"min_engine_version,omitempty"`

	Thresholds ThresholdConfig          `yaml:"thresholds" json:"thresholds"`
	Domains    map[string]DomainConfig  `yaml:"domains" json:"domains"`
	Adjacency  map[string]AdjacencyList `yaml:"adjacency,omitempty" json:"adjacency,omitempty"`
	Approvers  []string                 `yaml:"approvers" json:"approvers"`
	Retry      RetryConfig              `yaml:"retry" json:"retry"`
	Checkpoint CheckpointConfig         `yaml:"checkpoint" json:"checkpoint"`
	RateLimit  RateLimitConfig          `yaml:"rate_limit" json:"rate_limit"`
}

// AdjacencyList maps an adjacent domain to its static impact weight.
type AdjacencyList map[string]float64

// ThresholdConfig holds the validator's global minimums.
type ThresholdConfig struct {
	MinComposite      float64 `yaml:"min_composite" json:"min_composite"`
	MinMI             float64 `yaml:"min_mutual_information" json:"min_mutual_information"`
	CrossImpactFloor  float64 `yaml:"cross_impact_floor" json:"cross_impact_floor"`
	DefaultConfidence float64 `yaml:"default_confidence" json:"default_confidence"`
}

// DomainConfig is one domain's targets, rules, and compliance surface.
type DomainConfig struct {
	Targets             []string `yaml:"targets" json:"targets"`
	ConfidenceThreshold float64  `yaml:"confidence_threshold,omitempty" json:"confidence_threshold,omitempty"`
	MinLevel            string   `yaml:"min_level,omitempty" json:"min_level,omitempty"`
	PayloadSchema       string   `yaml:"payload_schema,omitempty" json:"payload_schema,omitempty"`
	Rules               []string `yaml:"rules,omitempty" json:"rules,omitempty"`
	Frameworks          []string `yaml:"frameworks,omitempty" json:"frameworks,omitempty"`
}

// RetryConfig controls the resilience orchestrator.
type RetryConfig struct {
	MaxRetries        int  `yaml:"max_retries" json:"max_retries"`
	DelayMs           int  `yaml:"delay_ms" json:"delay_ms"`
	EscalateOnFailure bool `yaml:"escalate_on_failure" json:"escalate_on_failure"`
}

// Delay returns the configured retry delay as a duration.
func (r RetryConfig) Delay() time.Duration {
	return time.Duration(r.DelayMs) * time.Millisecond
}

// CheckpointConfig controls the checkpoint manager.
type CheckpointConfig struct {
	Capacity int `yaml:"capacity" json:"capacity"`
}

// RateLimitConfig controls the submission rate limiter.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second" json:"per_second"`
	Burst     int     `yaml:"burst" json:"burst"`
}

// LoadProfile loads a governance profile YAML by name. It searches the
// profiles directory for profile_<name>.yaml and applies the engine version
// gate before returning.
func LoadProfile(profilesDir, name string) (*Profile, error) {
	name = strings.ToLower(name)
	path := filepath.Join(profilesDir, fmt.Sprintf("profile_%s.yaml", name))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load profile %q: %w", name, err)
	}

	var profile Profile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("parse profile %q: %w", name, err)
	}
	if profile.Name == "" {
		profile.Name = name
	}

	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Validate checks the engine version gate and the profile's internal
// consistency.
func (p *Profile) Validate() error {
	if p.MinEngineVersion != "" {
		min, err := semver.NewVersion(p.MinEngineVersion)
		if err != nil {
			return fmt.Errorf("profile %q: invalid min_engine_version %q: %w", p.Name, p.MinEngineVersion, err)
		}
		engine := semver.MustParse(EngineVersion)
		if engine.LessThan(min) {
			return fmt.Errorf("profile %q requires engine >= %s, running %s", p.Name, min, engine)
		}
	}
	if len(p.Domains) == 0 {
		return fmt.Errorf("profile %q: no domains configured", p.Name)
	}
	for name, dom := range p.Domains {
		if len(dom.Targets) == 0 {
			return fmt.Errorf("profile %q: domain %q has no targets", p.Name, name)
		}
		if dom.MinLevel != "" && !candidate.Level(dom.MinLevel).Valid() {
			return fmt.Errorf("profile %q: domain %q has invalid min_level %q", p.Name, name, dom.MinLevel)
		}
	}
	if len(p.Approvers) < 2 {
		return fmt.Errorf("profile %q: dual control requires at least 2 approvers, got %d", p.Name, len(p.Approvers))
	}
	if p.Retry.MaxRetries < 0 {
		return fmt.Errorf("profile %q: max_retries must be non-negative", p.Name)
	}
	return nil
}

// ValidationConfig converts the profile into validator configuration.
func (p *Profile) ValidationConfig() validation.Config {
	domains := make(map[string]validation.DomainRules, len(p.Domains))
	for name, dom := range p.Domains {
		domains[name] = validation.DomainRules{
			ConfidenceThreshold: dom.ConfidenceThreshold,
			MinLevel:            candidate.Level(dom.MinLevel),
			PayloadSchema:       dom.PayloadSchema,
			Rules:               dom.Rules,
			Frameworks:          dom.Frameworks,
		}
	}
	return validation.Config{
		MinComposite:      p.Thresholds.MinComposite,
		MinMI:             p.Thresholds.MinMI,
		CrossImpactFloor:  p.Thresholds.CrossImpactFloor,
		DefaultConfidence: p.Thresholds.DefaultConfidence,
		Domains:           domains,
	}
}

// MappingTables converts the profile into the mapper's domain tables.
func (p *Profile) MappingTables() mapping.Tables {
	targets := make(map[string][]string, len(p.Domains))
	for name, dom := range p.Domains {
		targets[name] = dom.Targets
	}
	adjacency := make(map[string]map[string]float64, len(p.Adjacency))
	for name, list := range p.Adjacency {
		adjacency[name] = map[string]float64(list)
	}
	return mapping.Tables{Targets: targets, Adjacency: adjacency}
}

// DefaultProfile returns the compiled-in profile used when no YAML profile
// is provided.
func DefaultProfile() *Profile {
	return &Profile{
		Name:             "default",
		MinEngineVersion: "1.0.0",
		Thresholds: ThresholdConfig{
			MinComposite:      0.6,
			MinMI:             0.5,
			CrossImpactFloor:  0.4,
			DefaultConfidence: 0.8,
		},
		Domains: map[string]DomainConfig{
			"biodiscovery": {
				Targets:             []string{"bio-target-1", "bio-target-2", "bio-target-3"},
				ConfidenceThreshold: 0.8,
				Rules:               []string{`"method" in payload`},
				Frameworks:          []string{"GDPR"},
			},
			"genomics": {
				Targets:             []string{"gen-target-1", "gen-target-2"},
				ConfidenceThreshold: 0.85,
				MinLevel:            string(candidate.LevelEnhanced),
				Rules:               []string{`"method" in payload`, `candidate.score.confidence >= 0.5`},
				Frameworks:          []string{"GDPR", "HIPAA"},
			},
			"materials": {
				Targets:             []string{"mat-target-1", "mat-target-2"},
				ConfidenceThreshold: 0.75,
				Frameworks:          []string{"GDPR"},
			},
			"quantum-chemistry": {
				Targets:             []string{"qc-target-1", "qc-target-2", "qc-target-3"},
				ConfidenceThreshold: 0.8,
				Rules:               []string{`"method" in payload`},
				Frameworks:          []string{"GDPR"},
			},
		},
		Adjacency: map[string]AdjacencyList{
			"biodiscovery":      {"genomics": 0.6, "materials": 0.2},
			"genomics":          {"biodiscovery": 0.6},
			"materials":         {"quantum-chemistry": 0.5},
			"quantum-chemistry": {"materials": 0.5},
		},
		Approvers: []string{"approver-primary", "approver-secondary"},
		Retry: RetryConfig{
			MaxRetries:        3,
			DelayMs:           100,
			EscalateOnFailure: true,
		},
		Checkpoint: CheckpointConfig{Capacity: 50},
		RateLimit:  RateLimitConfig{PerSecond: 10, Burst: 20},
	}
}
