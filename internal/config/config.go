// Package config loads application configuration from a YAML file and the
// environment, and initialises the global logger.
package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Images     ImagesConfig     `yaml:"images" mapstructure:"images"`
	Instagram  InstagramConfig  `yaml:"instagram" mapstructure:"instagram"`
	Transcript TranscriptConfig `yaml:"transcript" mapstructure:"transcript"`
	AI         AIConfig         `yaml:"ai" mapstructure:"ai"`
	Queue      QueueConfig      `yaml:"queue" mapstructure:"queue"`
	Viral      ViralConfig      `yaml:"viral" mapstructure:"viral"`
	Discovery  DiscoveryConfig  `yaml:"discovery" mapstructure:"discovery"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the relational store.
type StoreConfig struct {
	DatabaseURL    string `yaml:"database_url" mapstructure:"database_url"`
	BatchSize      int    `yaml:"batch_size" mapstructure:"batch_size"`
	MaxRetries     int    `yaml:"max_retries" mapstructure:"max_retries"`
	RetryDelaySecs int    `yaml:"retry_delay_secs" mapstructure:"retry_delay_secs"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns       int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ImagesConfig configures the S3-compatible image object store.
type ImagesConfig struct {
	Endpoint      string `yaml:"endpoint" mapstructure:"endpoint"`
	Region        string `yaml:"region" mapstructure:"region"`
	AccessKey     string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey     string `yaml:"secret_key" mapstructure:"secret_key"`
	ProfileBucket string `yaml:"profile_bucket" mapstructure:"profile_bucket"`
	ContentBucket string `yaml:"content_bucket" mapstructure:"content_bucket"`
	PublicBaseURL string `yaml:"public_base_url" mapstructure:"public_base_url"`
	Upload        bool   `yaml:"upload" mapstructure:"upload"`
}

// InstagramConfig holds scraper API credentials and hosts.
type InstagramConfig struct {
	APIKey           string `yaml:"api_key" mapstructure:"api_key"`
	Host             string `yaml:"host" mapstructure:"host"`
	SimilarHost      string `yaml:"similar_host" mapstructure:"similar_host"`
	SecondaryHost    string `yaml:"secondary_host" mapstructure:"secondary_host"`
	AltHost          string `yaml:"alt_host" mapstructure:"alt_host"`
	TimeoutSecs      int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	SimilarTimeoutSecs int  `yaml:"similar_timeout_secs" mapstructure:"similar_timeout_secs"`
	MaxContent       int    `yaml:"max_content" mapstructure:"max_content"`
	BulkMaxReels     int    `yaml:"bulk_max_reels" mapstructure:"bulk_max_reels"`
}

// Timeout returns the per-call deadline for scraper requests.
func (c InstagramConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// SimilarTimeout returns the per-call deadline for similar-profile requests.
func (c InstagramConfig) SimilarTimeout() time.Duration {
	return time.Duration(c.SimilarTimeoutSecs) * time.Second
}

// TranscriptConfig holds the transcript vendor settings.
type TranscriptConfig struct {
	APIKey      string `yaml:"api_key" mapstructure:"api_key"`
	Host        string `yaml:"host" mapstructure:"host"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// Timeout returns the per-call deadline for transcript requests.
func (c TranscriptConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

// AIConfig holds LLM settings.
type AIConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	Model       string  `yaml:"model" mapstructure:"model"`
	MaxTokens   int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	// TaxonomyPath points at a YAML category taxonomy. Empty uses the
	// built-in vocabulary.
	TaxonomyPath string `yaml:"taxonomy_path" mapstructure:"taxonomy_path"`
}

// QueueConfig tunes the worker pool and queue policy.
type QueueConfig struct {
	MaxConcurrentHigh  int    `yaml:"max_concurrent_high" mapstructure:"max_concurrent_high"`
	MaxConcurrentLow   int    `yaml:"max_concurrent_low" mapstructure:"max_concurrent_low"`
	TickSecs           int    `yaml:"tick_secs" mapstructure:"tick_secs"`
	StuckThresholdSecs int    `yaml:"stuck_threshold_secs" mapstructure:"stuck_threshold_secs"`
	MaxAttempts        int    `yaml:"max_attempts" mapstructure:"max_attempts"`
	CSVShadow          bool   `yaml:"csv_shadow" mapstructure:"csv_shadow"`
	CSVPath            string `yaml:"csv_path" mapstructure:"csv_path"`
}

// StuckThreshold returns how long a PROCESSING item may sit before it is
// re-eligible for claim.
func (c QueueConfig) StuckThreshold() time.Duration {
	return time.Duration(c.StuckThresholdSecs) * time.Second
}

// ViralConfig tunes the viral-ideas workflow engine.
type ViralConfig struct {
	InitialPrimaryReels    int    `yaml:"initial_primary_reels" mapstructure:"initial_primary_reels"`
	InitialCompetitorReels int    `yaml:"initial_competitor_reels" mapstructure:"initial_competitor_reels"`
	PrimaryTranscripts     int    `yaml:"primary_transcripts" mapstructure:"primary_transcripts"`
	PrimaryMaxAttempts     int    `yaml:"primary_max_attempts" mapstructure:"primary_max_attempts"`
	CompetitorTranscripts  int    `yaml:"competitor_transcripts" mapstructure:"competitor_transcripts"`
	CompetitorMaxAttempts  int    `yaml:"competitor_max_attempts" mapstructure:"competitor_max_attempts"`
	RecurringTopReels      int    `yaml:"recurring_top_reels" mapstructure:"recurring_top_reels"`
	RefreshHours           int    `yaml:"refresh_hours" mapstructure:"refresh_hours"`
	WorkflowVersion        string `yaml:"workflow_version" mapstructure:"workflow_version"`
}

// RefreshInterval returns the delay before the next scheduled recurring run.
func (c ViralConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshHours) * time.Hour
}

// DiscoveryConfig tunes the network discoverer.
type DiscoveryConfig struct {
	DefaultSeed      string `yaml:"default_seed" mapstructure:"default_seed"`
	MaxRounds        int    `yaml:"max_rounds" mapstructure:"max_rounds"`
	ProfilesPerRound int    `yaml:"profiles_per_round" mapstructure:"profiles_per_round"`
	MaxAccounts      int    `yaml:"max_accounts" mapstructure:"max_accounts"`
	MinFollowers     int64  `yaml:"min_followers" mapstructure:"min_followers"`
	SimilarLimit     int    `yaml:"similar_limit" mapstructure:"similar_limit"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VIRALSCOPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy environment names carried over from earlier deployments.
	bindLegacyEnv(v)

	// Defaults
	v.SetDefault("store.batch_size", 100)
	v.SetDefault("store.max_retries", 3)
	v.SetDefault("store.retry_delay_secs", 1)
	v.SetDefault("images.profile_bucket", "profile-images")
	v.SetDefault("images.content_bucket", "content-thumbnails")
	v.SetDefault("images.region", "us-east-1")
	v.SetDefault("images.upload", true)
	v.SetDefault("instagram.timeout_secs", 30)
	v.SetDefault("instagram.similar_timeout_secs", 45)
	v.SetDefault("instagram.max_content", 200)
	v.SetDefault("instagram.bulk_max_reels", 100)
	v.SetDefault("transcript.timeout_secs", 30)
	v.SetDefault("ai.model", "claude-haiku-4-5-20251001")
	v.SetDefault("ai.max_tokens", 1024)
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("queue.max_concurrent_high", 3)
	v.SetDefault("queue.max_concurrent_low", 2)
	v.SetDefault("queue.tick_secs", 1)
	v.SetDefault("queue.stuck_threshold_secs", 60)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.csv_shadow", false)
	v.SetDefault("queue.csv_path", "queue_shadow.csv")
	v.SetDefault("viral.initial_primary_reels", 100)
	v.SetDefault("viral.initial_competitor_reels", 25)
	v.SetDefault("viral.primary_transcripts", 3)
	v.SetDefault("viral.primary_max_attempts", 10)
	v.SetDefault("viral.competitor_transcripts", 5)
	v.SetDefault("viral.competitor_max_attempts", 20)
	v.SetDefault("viral.recurring_top_reels", 5)
	v.SetDefault("viral.refresh_hours", 24)
	v.SetDefault("viral.workflow_version", "hooks-v2")
	v.SetDefault("discovery.default_seed", "mindset.therapy")
	v.SetDefault("discovery.max_rounds", 5)
	v.SetDefault("discovery.profiles_per_round", 10)
	v.SetDefault("discovery.max_accounts", 50)
	v.SetDefault("discovery.similar_limit", 20)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// bindLegacyEnv wires the environment names used by the original deployment
// onto viper keys. The first set variable wins, in listed order.
func bindLegacyEnv(v *viper.Viper) {
	_ = v.BindEnv("instagram.api_key", "VIRALSCOPE_INSTAGRAM_API_KEY", "RAPIDAPI_KEY", "INSTAGRAM_SCRAPER_API_KEY")
	_ = v.BindEnv("instagram.host", "VIRALSCOPE_INSTAGRAM_HOST", "INSTAGRAM_SCRAPER_API_HOST")
	_ = v.BindEnv("instagram.similar_host", "VIRALSCOPE_INSTAGRAM_SIMILAR_HOST", "SIMILAR_PROFILES_API_HOST")
	_ = v.BindEnv("instagram.secondary_host", "VIRALSCOPE_INSTAGRAM_SECONDARY_HOST", "INSTAGRAM_SCRAPER_SECONDARY_HOST")
	_ = v.BindEnv("instagram.alt_host", "VIRALSCOPE_INSTAGRAM_ALT_HOST", "RAPIDAPI_ALT_HOST_20251")
	_ = v.BindEnv("transcript.api_key", "VIRALSCOPE_TRANSCRIPT_API_KEY", "RAPIDAPI_KEY")
	_ = v.BindEnv("ai.key", "VIRALSCOPE_AI_KEY", "ANTHROPIC_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("store.database_url", "VIRALSCOPE_STORE_DATABASE_URL", "DATABASE_URL", "SUPABASE_URL")
	_ = v.BindEnv("store.batch_size", "VIRALSCOPE_STORE_BATCH_SIZE", "DB_BATCH_SIZE")
	_ = v.BindEnv("store.max_retries", "VIRALSCOPE_STORE_MAX_RETRIES", "DB_MAX_RETRIES")
	_ = v.BindEnv("store.retry_delay_secs", "VIRALSCOPE_STORE_RETRY_DELAY_SECS", "DB_RETRY_DELAY")
	_ = v.BindEnv("images.access_key", "VIRALSCOPE_IMAGES_ACCESS_KEY", "SUPABASE_SERVICE_ROLE_KEY")
	_ = v.BindEnv("images.upload", "VIRALSCOPE_IMAGES_UPLOAD", "UPLOAD_IMAGES_TO_SUPABASE")
	_ = v.BindEnv("queue.csv_shadow", "VIRALSCOPE_QUEUE_CSV_SHADOW", "KEEP_LOCAL_CSV")
	_ = v.BindEnv("queue.max_concurrent_high", "VIRALSCOPE_QUEUE_MAX_CONCURRENT_HIGH", "MAX_CONCURRENT_HIGH_PRIORITY")
	_ = v.BindEnv("queue.max_concurrent_low", "VIRALSCOPE_QUEUE_MAX_CONCURRENT_LOW", "MAX_CONCURRENT_LOW_PRIORITY")
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
