package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries every runtime setting. Precedence: defaults, then YAML
// file, then environment, then CLI flags (applied by the caller).
type Config struct {
	DSN            string   `yaml:"dsn"`
	Provider       string   `yaml:"provider"` // mysql | postgres
	Dir            string   `yaml:"dir"`
	Changelog      string   `yaml:"changelog"` // YAML changeset file; overrides Dir when set
	StateTable     string   `yaml:"state_table"`
	LockTimeoutSec int      `yaml:"lock_timeout_sec"`
	BackupDir      string   `yaml:"backup_dir"`
	JSON           bool     `yaml:"json"`
	DryRun         bool     `yaml:"dry_run"`
	AppliedBy      string   `yaml:"applied_by"`
	DisabledRules  []string `yaml:"disabled_rules"`
	SkipVerify     bool     `yaml:"skip_verify"`
}

func Default() *Config {
	return &Config{
		Provider:       "mysql",
		Dir:            "./migrations",
		StateTable:     "schema_migrations",
		LockTimeoutSec: 30,
		BackupDir:      "./backups",
	}
}

func LoadYAML(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func MergeEnv(cfg *Config) *Config {
	if v := os.Getenv("SCHEMACTL_DSN"); v != "" {
		cfg.DSN = v
	}
	if v := os.Getenv("SCHEMACTL_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("SCHEMACTL_DIR"); v != "" {
		cfg.Dir = v
	}
	if v := os.Getenv("SCHEMACTL_CHANGELOG"); v != "" {
		cfg.Changelog = v
	}
	if v := os.Getenv("SCHEMACTL_STATE_TABLE"); v != "" {
		cfg.StateTable = v
	}
	if v := os.Getenv("SCHEMACTL_LOCK_TIMEOUT_SEC"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.LockTimeoutSec = i
		}
	}
	if v := os.Getenv("SCHEMACTL_BACKUP_DIR"); v != "" {
		cfg.BackupDir = v
	}
	if v := os.Getenv("SCHEMACTL_APPLIED_BY"); v != "" {
		cfg.AppliedBy = v
	}
	if v := os.Getenv("SCHEMACTL_DISABLED_RULES"); v != "" {
		cfg.DisabledRules = splitAndTrim(v)
	}
	return cfg
}

func (c *Config) LockTimeout() time.Duration {
	if c.LockTimeoutSec <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.LockTimeoutSec) * time.Second
}

func splitAndTrim(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
