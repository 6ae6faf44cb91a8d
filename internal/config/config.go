// Package config loads fact-memory settings from defaults, an optional
// config.yaml in the data directory, FACT_MEMORY_* environment variables and
// command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/rcliao/fact-memory/internal/embedding"
	"github.com/rcliao/fact-memory/internal/policy"
	"github.com/rcliao/fact-memory/internal/summarizer"
)

// EnvPrefix prefixes every environment variable, e.g. FACT_MEMORY_DB_PATH.
const EnvPrefix = "FACT_MEMORY"

// Config is the resolved configuration.
type Config struct {
	DataDir    string            `mapstructure:"data_dir"`
	DBPath     string            `mapstructure:"db_path"`
	Debug      bool              `mapstructure:"debug"`
	Embedding  embedding.Config  `mapstructure:"embedding"`
	Summarizer summarizer.Config `mapstructure:"summarizer"`
	Policy     PolicyConfig      `mapstructure:"policy"`
	Jobs       JobsConfig        `mapstructure:"jobs"`
}

// PolicyConfig overrides the policy defaults.
type PolicyConfig struct {
	policy.Config `mapstructure:",squash"`
	KeywordsFile  string `mapstructure:"keywords_file"`
}

// JobsConfig holds the background job schedules.
type JobsConfig struct {
	CleanupSchedule  string `mapstructure:"cleanup_schedule"`
	CompactSchedule  string `mapstructure:"compact_schedule"`
	CompactThreshold int    `mapstructure:"compact_threshold"`
	CompactBatch     int    `mapstructure:"compact_batch"`
}

// DefaultDataDir returns ~/.fact-memory.
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".fact-memory"
	}
	return filepath.Join(home, ".fact-memory")
}

// InitViper returns a viper instance with defaults registered, config.yaml
// from dataDir read if present, and environment binding enabled. A .env file
// in the working directory is loaded first when present. An empty dataDir
// falls back to FACT_MEMORY_DATA_DIR, then DefaultDataDir.
func InitViper(dataDir string) (*viper.Viper, error) {
	_ = godotenv.Load()

	if dataDir == "" {
		dataDir = os.Getenv(EnvPrefix + "_DATA_DIR")
	}
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}

	v := viper.New()
	setDefaults(v, dataDir)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dataDir)
	if err := v.ReadInConfig(); err != nil {
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v, nil
}

func setDefaults(v *viper.Viper, dataDir string) {
	p := policy.Default()

	v.SetDefault("data_dir", dataDir)
	v.SetDefault("db_path", "")
	v.SetDefault("debug", false)

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.url", "")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("summarizer.url", "")
	v.SetDefault("summarizer.model", "")
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.timeout", 60*time.Second)

	v.SetDefault("policy.min_len", p.MinLen)
	v.SetDefault("policy.max_len", p.MaxLen)
	v.SetDefault("policy.semantic_dedup_threshold", p.SemanticDedupThreshold)
	v.SetDefault("policy.half_life_days", p.HalfLifeDays)
	v.SetDefault("policy.max_facts_per_user", p.MaxFactsPerUser)
	v.SetDefault("policy.max_profile_facts", p.MaxProfileFacts)
	v.SetDefault("policy.max_working_facts", p.MaxWorkingFacts)
	v.SetDefault("policy.working_default_days", p.WorkingDefaultDays)
	v.SetDefault("policy.keywords_file", "")

	v.SetDefault("jobs.cleanup_schedule", "@every 30m")
	v.SetDefault("jobs.compact_schedule", "@every 6h")
	v.SetDefault("jobs.compact_threshold", 50)
	v.SetDefault("jobs.compact_batch", 20)
}

// Load resolves v into a Config. An empty db_path becomes
// <data_dir>/sqlite/memory.sqlite.
func Load(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if c.DBPath == "" {
		c.DBPath = filepath.Join(c.DataDir, "sqlite", "memory.sqlite")
	}
	return &c, nil
}

// BuildPolicy compiles the configured policy, loading keyword lists from
// KeywordsFile when set.
func (c *Config) BuildPolicy() (*policy.Policy, error) {
	kw := policy.DefaultKeywords()
	if c.Policy.KeywordsFile != "" {
		var err error
		if kw, err = policy.LoadKeywords(c.Policy.KeywordsFile); err != nil {
			return nil, err
		}
	}
	return policy.New(c.Policy.Config, kw)
}
