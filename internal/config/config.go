package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"purple/internal/domain"
	"purple/internal/lifecycle"
)

// Config models purple.yml. Role, label and relationship slugs are validated
// against the closed sets at load time so a typo fails startup instead of
// silently disabling a gate.
type Config struct {
	Roles         map[string]RoleConfig `yaml:"roles"`
	Labels        []LabelConfig         `yaml:"labels"`
	Relationships []string              `yaml:"relationships"`
	// LockTimeout bounds the wait for a document lock during reconciliation.
	LockTimeout Duration `yaml:"lock_timeout"`
	Server      struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		BasePath               string `yaml:"base_path"`
	} `yaml:"server"`
}

// Duration parses yaml strings like "5s" or "2m30s".
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration %q", value.Value)
	}
	*d = Duration(time.Duration(n) * time.Second)
	return nil
}

type RoleConfig struct {
	Name string `yaml:"name"`
	Desc string `yaml:"desc,omitempty"`
}

type LabelConfig struct {
	Slug         string `yaml:"slug"`
	IsException  bool   `yaml:"is_exception,omitempty"`
	IsComplexity bool   `yaml:"is_complexity,omitempty"`
	Color        string `yaml:"color,omitempty"`
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "purple.yml")
}

// Load reads and validates config from workspace. A missing file yields the
// defaults.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// gatingLabels are the slugs the gate evaluator consults.
var gatingLabels = []string{
	domain.LabelStreamHold,
	domain.LabelExtRefHold,
	domain.LabelIANAHold,
	domain.LabelToolsIssue,
}

// GatingLabels returns the label slugs the gate evaluator depends on.
func GatingLabels() []string {
	out := make([]string, len(gatingLabels))
	copy(out, gatingLabels)
	return out
}

// Validate ensures every role the activity graph references exists, the
// gating labels are declared, and the relationship vocabulary is closed.
func (c *Config) Validate() error {
	roles := make(map[domain.Role]bool, len(c.Roles))
	for slug := range c.Roles {
		roles[domain.Role(slug)] = true
	}
	if err := lifecycle.New().Validate(roles); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	declared := make(map[string]bool, len(c.Labels))
	for _, l := range c.Labels {
		if l.Slug == "" {
			return fmt.Errorf("config: label with empty slug")
		}
		declared[l.Slug] = true
	}
	for _, slug := range gatingLabels {
		if !declared[slug] {
			return fmt.Errorf("config: gating label %q not declared", slug)
		}
	}
	known := map[string]bool{
		string(domain.RelNotReceived): true,
		string(domain.RelRefQueue):    true,
		string(domain.RelWithdrawn):   true,
	}
	for _, rel := range c.Relationships {
		if !known[rel] {
			return fmt.Errorf("config: unknown relationship %q", rel)
		}
	}
	if len(c.Relationships) == 0 {
		return fmt.Errorf("config: relationships is required")
	}
	if c.LockTimeout <= 0 {
		return fmt.Errorf("config: lock_timeout must be positive")
	}
	return nil
}

// Default returns the standard pipeline configuration.
func Default() *Config {
	cfg := &Config{
		Roles: map[string]RoleConfig{
			string(domain.RoleEnqueuer):          {Name: "Enqueuer"},
			string(domain.RoleFormatting):        {Name: "Formatter"},
			string(domain.RoleFirstEditor):       {Name: "First editor"},
			string(domain.RoleSecondEditor):      {Name: "Second editor"},
			string(domain.RoleRefChecker):        {Name: "Reference checker"},
			string(domain.RoleFinalReviewEditor): {Name: "Final review editor"},
			string(domain.RolePublisher):         {Name: "Publisher"},
			string(domain.RoleBlocked):           {Name: "Blocked", Desc: "synthetic hold marker"},
		},
		Labels: []LabelConfig{
			{Slug: domain.LabelStreamHold, IsException: true, Color: "amber"},
			{Slug: domain.LabelExtRefHold, IsException: true, Color: "amber"},
			{Slug: domain.LabelIANAHold, IsException: true, Color: "amber"},
			{Slug: domain.LabelToolsIssue, IsException: true, Color: "red"},
		},
		Relationships: []string{
			string(domain.RelNotReceived),
			string(domain.RelRefQueue),
			string(domain.RelWithdrawn),
		},
		LockTimeout: Duration(5 * time.Second),
	}
	cfg.Server.AllowLegacyActorHeader = true
	cfg.Server.BasePath = "/v0"
	return cfg
}
