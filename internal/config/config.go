package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"talentai/learning/internal/models"

	"github.com/spf13/viper"
)

// Config is the service configuration. Values come from defaults, an
// optional config.yaml and environment variables (server.port -> SERVER_PORT).
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Log         LogConfig         `mapstructure:"log"`
	Model       ModelConfig       `mapstructure:"model"`
	Learning    LearningConfig    `mapstructure:"learning"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
}

type ServerConfig struct {
	Port           string   `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres | sqlite
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig enables the insights cache when Addr is set.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

// AuthConfig protects operator endpoints when JWTSecret is set.
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json | console
}

type ModelConfig struct {
	ArtifactDir string        `mapstructure:"artifact_dir"`
	RouteTTL    time.Duration `mapstructure:"route_ttl"`
}

type MaintenanceConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Schedule string        `mapstructure:"schedule"`
	Backoff  time.Duration `mapstructure:"backoff"`
}

// LearningConfig holds the pipeline options that can be changed at runtime.
type LearningConfig struct {
	AutoRetrainThreshold            int     `mapstructure:"auto_retrain_threshold" json:"auto_retrain_threshold"`
	MinFeedbackForRetraining        int     `mapstructure:"min_feedback_for_retraining" json:"min_feedback_for_retraining"`
	RetrainIntervalHours            int     `mapstructure:"retrain_interval_hours" json:"retrain_interval_hours"`
	QualityThreshold                float64 `mapstructure:"quality_threshold" json:"quality_threshold"`
	PerformanceDegradationThreshold float64 `mapstructure:"performance_degradation_threshold" json:"performance_degradation_threshold"`
	ABTestTrafficSplit              float64 `mapstructure:"ab_test_traffic_split" json:"ab_test_traffic_split"`
	RetentionDays                   int     `mapstructure:"retention_days" json:"retention_days"`
	MinTrainingExamples             int     `mapstructure:"min_training_examples" json:"min_training_examples"`
	RecentWindowDays                int     `mapstructure:"recent_window_days" json:"recent_window_days"`
	BaselineWindowDays              int     `mapstructure:"baseline_window_days" json:"baseline_window_days"`
}

func DefaultLearningConfig() LearningConfig {
	return LearningConfig{
		AutoRetrainThreshold:            100,
		MinFeedbackForRetraining:        20,
		RetrainIntervalHours:            24,
		QualityThreshold:                0.7,
		PerformanceDegradationThreshold: 0.05,
		ABTestTrafficSplit:              0.1,
		RetentionDays:                   90,
		MinTrainingExamples:             10,
		RecentWindowDays:                3,
		BaselineWindowDays:              14,
	}
}

// RetrainInterval is RetrainIntervalHours as a duration.
func (c LearningConfig) RetrainInterval() time.Duration {
	return time.Duration(c.RetrainIntervalHours) * time.Hour
}

// Apply returns a copy with the non-nil patch fields applied.
func (c LearningConfig) Apply(p models.ConfigPatch) LearningConfig {
	if p.AutoRetrainThreshold != nil {
		c.AutoRetrainThreshold = *p.AutoRetrainThreshold
	}
	if p.MinFeedbackForRetraining != nil {
		c.MinFeedbackForRetraining = *p.MinFeedbackForRetraining
	}
	if p.RetrainIntervalHours != nil {
		c.RetrainIntervalHours = *p.RetrainIntervalHours
	}
	if p.QualityThreshold != nil {
		c.QualityThreshold = *p.QualityThreshold
	}
	if p.PerformanceDegradationThreshold != nil {
		c.PerformanceDegradationThreshold = *p.PerformanceDegradationThreshold
	}
	if p.ABTestTrafficSplit != nil {
		c.ABTestTrafficSplit = *p.ABTestTrafficSplit
	}
	if p.RetentionDays != nil {
		c.RetentionDays = *p.RetentionDays
	}
	if p.MinTrainingExamples != nil {
		c.MinTrainingExamples = *p.MinTrainingExamples
	}
	if p.RecentWindowDays != nil {
		c.RecentWindowDays = *p.RecentWindowDays
	}
	if p.BaselineWindowDays != nil {
		c.BaselineWindowDays = *p.BaselineWindowDays
	}
	return c
}

func (c LearningConfig) Validate() error {
	switch {
	case c.AutoRetrainThreshold <= 0:
		return errors.New("auto_retrain_threshold must be positive")
	case c.MinFeedbackForRetraining <= 0:
		return errors.New("min_feedback_for_retraining must be positive")
	case c.RetrainIntervalHours <= 0:
		return errors.New("retrain_interval_hours must be positive")
	case c.QualityThreshold < 0 || c.QualityThreshold > 1:
		return errors.New("quality_threshold must be between 0 and 1")
	case c.PerformanceDegradationThreshold < 0 || c.PerformanceDegradationThreshold > 1:
		return errors.New("performance_degradation_threshold must be between 0 and 1")
	case c.ABTestTrafficSplit <= 0 || c.ABTestTrafficSplit > 1:
		return errors.New("ab_test_traffic_split must be in (0, 1]")
	case c.RetentionDays <= 0:
		return errors.New("retention_days must be positive")
	case c.MinTrainingExamples <= 0:
		return errors.New("min_training_examples must be positive")
	case c.RecentWindowDays <= 0 || c.BaselineWindowDays <= 0:
		return errors.New("recent_window_days and baseline_window_days must be positive")
	case c.RecentWindowDays >= c.BaselineWindowDays:
		return errors.New("recent_window_days must be shorter than baseline_window_days")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.allowed_origins", []string{"http://localhost:5173"})
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:learning.db?cache=shared")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", "5m")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("model.artifact_dir", "./data")
	v.SetDefault("model.route_ttl", "30m")
	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.schedule", "@every 1h")
	v.SetDefault("maintenance.backoff", "5m")

	d := DefaultLearningConfig()
	v.SetDefault("learning.auto_retrain_threshold", d.AutoRetrainThreshold)
	v.SetDefault("learning.min_feedback_for_retraining", d.MinFeedbackForRetraining)
	v.SetDefault("learning.retrain_interval_hours", d.RetrainIntervalHours)
	v.SetDefault("learning.quality_threshold", d.QualityThreshold)
	v.SetDefault("learning.performance_degradation_threshold", d.PerformanceDegradationThreshold)
	v.SetDefault("learning.ab_test_traffic_split", d.ABTestTrafficSplit)
	v.SetDefault("learning.retention_days", d.RetentionDays)
	v.SetDefault("learning.min_training_examples", d.MinTrainingExamples)
	v.SetDefault("learning.recent_window_days", d.RecentWindowDays)
	v.SetDefault("learning.baseline_window_days", d.BaselineWindowDays)
}

// LoadConfig reads config.yaml from the working directory or ./configs if
// present, then applies environment overrides.
func LoadConfig() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// platform conventions
	_ = v.BindEnv("server.port", "SERVER_PORT", "PORT")
	_ = v.BindEnv("database.dsn", "DATABASE_DSN", "DATABASE_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func validateConfig(cfg *Config) error {
	switch strings.ToLower(cfg.Database.Driver) {
	case "postgres", "postgresql", "sqlite", "sqlite3":
	default:
		return errors.New("unsupported database driver: " + cfg.Database.Driver + ". Currently supported: postgres, sqlite")
	}
	if cfg.Database.DSN == "" {
		return errors.New("database.dsn is required")
	}
	if cfg.Model.ArtifactDir == "" {
		return errors.New("model.artifact_dir is required")
	}
	if cfg.Maintenance.Enabled && cfg.Maintenance.Schedule == "" {
		return errors.New("maintenance.schedule is required when maintenance is enabled")
	}
	return cfg.Learning.Validate()
}
