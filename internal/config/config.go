package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Redis        RedisConfig        `yaml:"redis"`
	Auth         AuthConfig         `yaml:"auth"`
	AWS          AWSConfig          `yaml:"aws"`
	Entitlement  EntitlementConfig  `yaml:"entitlement"`
	Generation   GenerationConfig   `yaml:"generation"`
	Campaign     CampaignConfig     `yaml:"campaign"`
	Verification VerificationConfig `yaml:"verification"`
	Library      LibraryConfig      `yaml:"library"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	BaseURL string `yaml:"base_url"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime_minutes"`
}

// RedisConfig holds Redis connection settings for rate limiting,
// campaign run locks and video job state
type RedisConfig struct {
	URL string `yaml:"url"`
}

// AuthConfig holds Google OAuth authentication configuration
type AuthConfig struct {
	Enabled            bool   `yaml:"enabled"`
	GoogleClientID     string `yaml:"google_client_id"`
	GoogleClientSecret string `yaml:"google_client_secret"`
	SessionSecret      string `yaml:"session_secret"`
	CookieName         string `yaml:"cookie_name"`
	CookieMaxAge       int    `yaml:"cookie_max_age"`
}

// AWSConfig holds shared AWS client settings (Bedrock, S3, SES)
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// EntitlementConfig holds credit costs and trial allowances.
// These are business numbers, not tunables; change with care.
type EntitlementConfig struct {
	TextCreditCost       int `yaml:"text_credit_cost"`
	ImageCreditCost      int `yaml:"image_credit_cost"`
	VideoCreditCost      int `yaml:"video_credit_cost"`
	TrialDays            int `yaml:"trial_days"`
	TrialImages          int `yaml:"trial_images"`
	TrialVideos          int `yaml:"trial_videos"`
	TrialVideoCapSeconds int `yaml:"trial_video_cap_seconds"`
	MaxVideoSeconds      int `yaml:"max_video_seconds"`
}

// GenerationConfig holds retry policy and model selection settings
type GenerationConfig struct {
	MaxAttempts       int     `yaml:"max_attempts"`
	BaseDelayMs       int     `yaml:"base_delay_ms"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier"`
	TextModelID       string  `yaml:"text_model_id"`
	ImageModelID      string  `yaml:"image_model_id"`
	VideoModelID      string  `yaml:"video_model_id"`
}

// CampaignConfig holds batch generation cadence and recovery settings
type CampaignConfig struct {
	PostsPerDay        int `yaml:"posts_per_day"`
	MaxPosts           int `yaml:"max_posts"`
	StuckRunMinutes    int `yaml:"stuck_run_minutes"`
	ReaperSweepMinutes int `yaml:"reaper_sweep_minutes"`
	MorningSlotHour    int `yaml:"morning_slot_hour"`
	AfternoonSlotHour  int `yaml:"afternoon_slot_hour"`
}

// VerificationConfig holds email verification settings
type VerificationConfig struct {
	FromAddress        string `yaml:"from_address"`
	CodeTTLMinutes     int    `yaml:"code_ttl_minutes"`
	SendWindowSeconds  int    `yaml:"send_window_seconds"`
	GuessLimit         int    `yaml:"guess_limit"`
	GuessWindowSeconds int    `yaml:"guess_window_seconds"`
}

// LibraryConfig holds media library storage settings
type LibraryConfig struct {
	Bucket    string `yaml:"bucket"`
	CDNDomain string `yaml:"cdn_domain"`
}

// Load reads configuration from the given YAML file, applying
// environment overrides for secrets. A missing file is not an error;
// defaults plus environment variables are enough to boot in dev.
func Load(path string) (*Config, error) {
	// Best-effort .env for local development
	_ = godotenv.Load()

	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30,
		},
		Auth: AuthConfig{
			CookieName:   "postforge_session",
			CookieMaxAge: 86400,
		},
		AWS: AWSConfig{
			Region: "us-east-1",
		},
		Entitlement: EntitlementConfig{
			TextCreditCost:       1,
			ImageCreditCost:      10,
			VideoCreditCost:      50,
			TrialDays:            7,
			TrialImages:          10,
			TrialVideos:          3,
			TrialVideoCapSeconds: 10,
			MaxVideoSeconds:      60,
		},
		Generation: GenerationConfig{
			MaxAttempts:       3,
			BaseDelayMs:       1000,
			BackoffMultiplier: 2,
			TextModelID:       "anthropic.claude-3-5-sonnet-20241022-v2:0",
			ImageModelID:      "amazon.titan-image-generator-v2:0",
			VideoModelID:      "amazon.nova-reel-v1:0",
		},
		Campaign: CampaignConfig{
			PostsPerDay:        2,
			MaxPosts:           14,
			StuckRunMinutes:    30,
			ReaperSweepMinutes: 5,
			MorningSlotHour:    9,
			AfternoonSlotHour:  15,
		},
		Verification: VerificationConfig{
			CodeTTLMinutes:     15,
			SendWindowSeconds:  120,
			GuessLimit:         5,
			GuessWindowSeconds: 600,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_ID"); v != "" {
		cfg.Auth.GoogleClientID = v
	}
	if v := os.Getenv("GOOGLE_CLIENT_SECRET"); v != "" {
		cfg.Auth.GoogleClientSecret = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.AWS.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		cfg.AWS.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		cfg.AWS.SecretAccessKey = v
	}
	if v := os.Getenv("MEDIA_BUCKET"); v != "" {
		cfg.Library.Bucket = v
	}
	if v := os.Getenv("VERIFICATION_FROM"); v != "" {
		cfg.Verification.FromAddress = v
	}
}

// Validate checks required settings and internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid server port %d", c.Server.Port)
	}
	if c.Entitlement.TextCreditCost <= 0 || c.Entitlement.ImageCreditCost <= 0 || c.Entitlement.VideoCreditCost <= 0 {
		return fmt.Errorf("config: credit costs must be positive")
	}
	if c.Entitlement.TrialVideoCapSeconds > c.Entitlement.MaxVideoSeconds {
		return fmt.Errorf("config: trial video cap (%ds) exceeds hard ceiling (%ds)",
			c.Entitlement.TrialVideoCapSeconds, c.Entitlement.MaxVideoSeconds)
	}
	if c.Generation.MaxAttempts <= 0 {
		return fmt.Errorf("config: generation max_attempts must be positive")
	}
	if c.Campaign.PostsPerDay <= 0 || c.Campaign.MaxPosts <= 0 {
		return fmt.Errorf("config: campaign cadence must be positive")
	}
	return nil
}

// BaseDelay returns the retry base delay as a duration.
func (g GenerationConfig) BaseDelay() time.Duration {
	return time.Duration(g.BaseDelayMs) * time.Millisecond
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
