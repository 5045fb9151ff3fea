package serenpair

import (
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds every environment input and policy knob the pipeline needs.
// Components take Config fields as constructor arguments rather than reading
// the environment directly, so they stay testable without env coupling.
type Config struct {
	// Connection strings / credentials.
	DatabaseURL  string `mapstructure:"database_url"`
	NotionToken  string `mapstructure:"notion_token"`
	OpenAIAPIKey string `mapstructure:"openai_api_key"`
	ChatAPIKey   string `mapstructure:"chat_api_key"`

	// Note source.
	NotionDatabaseID string `mapstructure:"notion_database_id"`
	NotionParentPage string `mapstructure:"notion_parent_page_id"`

	// Rate limiting (C1). Defaults mirror the original rate_limiter.py.
	RateLimitBaseDelay  time.Duration `mapstructure:"rate_limit_base_delay"`
	RateLimitMaxDelay   time.Duration `mapstructure:"rate_limit_max_delay"`
	RateLimitMultiplier float64       `mapstructure:"rate_limit_multiplier"`
	RateLimitLockWait   time.Duration `mapstructure:"rate_limit_lock_wait"`

	// Mining (C8) defaults, from candidate_mining_service.py.
	MiningSrcBatch   int     `mapstructure:"mining_src_batch"`
	MiningDstSample  int     `mapstructure:"mining_dst_sample"`
	MiningKPerSrc    int     `mapstructure:"mining_k_per_src"`
	MiningPLo        float64 `mapstructure:"mining_p_lo"`
	MiningPHi        float64 `mapstructure:"mining_p_hi"`
	MiningSeed       int64   `mapstructure:"mining_seed"`
	MiningMaxRounds  int     `mapstructure:"mining_max_rounds"`

	// Scoring (C9).
	ScoringBatchSize         int           `mapstructure:"scoring_batch_size"`
	ScoringInterChunkSleep   time.Duration `mapstructure:"scoring_inter_chunk_sleep"`
	PromotionThreshold       int           `mapstructure:"promotion_threshold"`

	// Distance cache (C7).
	DistributionSampleSize int           `mapstructure:"distribution_sample_size"`
	DistributionTTL        time.Duration `mapstructure:"distribution_ttl"`
	DistanceBuildBatchSize int           `mapstructure:"distance_build_batch_size"`

	// Recommendation (C10) defaults.
	RecommendDefaultLimit int `mapstructure:"recommend_default_limit"`

	// HTTP timeouts.
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
}

// DefaultConfig returns the policy defaults recovered from the original
// implementation, overridable by environment/file values loaded via LoadConfig.
func DefaultConfig() Config {
	return Config{
		RateLimitBaseDelay:  time.Second,
		RateLimitMaxDelay:   60 * time.Second,
		RateLimitMultiplier: 2.0,
		RateLimitLockWait:   5 * time.Second,

		MiningSrcBatch:  30,
		MiningDstSample: 1200,
		MiningKPerSrc:   15,
		MiningPLo:       0.10,
		MiningPHi:       0.35,
		MiningSeed:      42,
		MiningMaxRounds: 3,

		ScoringBatchSize:       10,
		ScoringInterChunkSleep: 500 * time.Millisecond,
		PromotionThreshold:     65,

		DistributionSampleSize: 10000,
		DistributionTTL:        7 * 24 * time.Hour,
		DistanceBuildBatchSize: 50,

		RecommendDefaultLimit: 10,

		HTTPTimeout: 30 * time.Second,
	}
}

// LoadConfig reads configuration from environment variables (prefixed
// SERENPAIR_) and, if present, a TOML config file, merging over the
// defaults. configPath may be empty to skip file loading. When watch is
// true, changes to the config file are applied live via onChange.
func LoadConfig(configPath string, watch bool, onChange func(Config)) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix("SERENPAIR")
	v.AutomaticEnv()
	bindDefaults(v, cfg)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("load config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	if watch && configPath != "" && onChange != nil {
		v.WatchConfig()
		v.OnConfigChange(func(_ fsnotify.Event) {
			var next Config
			if err := v.Unmarshal(&next); err == nil && next.Validate() == nil {
				onChange(next)
			}
		})
	}

	return cfg, nil
}

// bindDefaults seeds viper with the zero-config defaults so env/file
// overrides only need to specify what differs.
func bindDefaults(v *viper.Viper, cfg Config) {
	v.SetDefault("database_url", cfg.DatabaseURL)
	v.SetDefault("notion_token", cfg.NotionToken)
	v.SetDefault("openai_api_key", cfg.OpenAIAPIKey)
	v.SetDefault("chat_api_key", cfg.ChatAPIKey)
	v.SetDefault("notion_database_id", cfg.NotionDatabaseID)
	v.SetDefault("notion_parent_page_id", cfg.NotionParentPage)
	v.SetDefault("rate_limit_base_delay", cfg.RateLimitBaseDelay)
	v.SetDefault("rate_limit_max_delay", cfg.RateLimitMaxDelay)
	v.SetDefault("rate_limit_multiplier", cfg.RateLimitMultiplier)
	v.SetDefault("rate_limit_lock_wait", cfg.RateLimitLockWait)
	v.SetDefault("mining_src_batch", cfg.MiningSrcBatch)
	v.SetDefault("mining_dst_sample", cfg.MiningDstSample)
	v.SetDefault("mining_k_per_src", cfg.MiningKPerSrc)
	v.SetDefault("mining_p_lo", cfg.MiningPLo)
	v.SetDefault("mining_p_hi", cfg.MiningPHi)
	v.SetDefault("mining_seed", cfg.MiningSeed)
	v.SetDefault("mining_max_rounds", cfg.MiningMaxRounds)
	v.SetDefault("scoring_batch_size", cfg.ScoringBatchSize)
	v.SetDefault("scoring_inter_chunk_sleep", cfg.ScoringInterChunkSleep)
	v.SetDefault("promotion_threshold", cfg.PromotionThreshold)
	v.SetDefault("distribution_sample_size", cfg.DistributionSampleSize)
	v.SetDefault("distribution_ttl", cfg.DistributionTTL)
	v.SetDefault("distance_build_batch_size", cfg.DistanceBuildBatchSize)
	v.SetDefault("recommend_default_limit", cfg.RecommendDefaultLimit)
	v.SetDefault("http_timeout", cfg.HTTPTimeout)
}

// Validate reports ErrFatalConfig-wrapped errors for settings that would
// leave the system unable to start.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("%w: database_url is required", ErrFatalConfig)
	}
	if c.MiningPLo < 0 || c.MiningPHi > 1 || c.MiningPLo >= c.MiningPHi {
		return fmt.Errorf("%w: mining percentile range invalid (p_lo=%.3f p_hi=%.3f)", ErrFatalConfig, c.MiningPLo, c.MiningPHi)
	}
	if (c.NotionDatabaseID == "") == (c.NotionParentPage == "") {
		return fmt.Errorf("%w: exactly one of notion_database_id and notion_parent_page_id is required", ErrFatalConfig)
	}
	return nil
}
