package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the full service configuration.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Upload       UploadConfig       `mapstructure:"upload"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
	Models       ModelsConfig       `mapstructure:"models"`
	Providers    ProvidersConfig    `mapstructure:"providers"`
	Cleanup      CleanupConfig      `mapstructure:"cleanup"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Database     DatabaseConfig     `mapstructure:"database"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type UploadConfig struct {
	MaxSize           int64    `mapstructure:"max_size"`
	UploadDir         string   `mapstructure:"upload_dir"`
	ResultDir         string   `mapstructure:"result_dir"`
	AllowedExtensions []string `mapstructure:"allowed_extensions"`
}

// SegmentationConfig carries the two tunables of the local pipeline. The
// threshold is an uncalibrated heuristic default, not a validated constant;
// it is exposed here so it can be tuned against representative images.
type SegmentationConfig struct {
	Threshold  float64 `mapstructure:"threshold"`
	BlurRadius float64 `mapstructure:"blur_radius"`
}

type ModelsConfig struct {
	Dir          string `mapstructure:"dir"`
	DefaultModel string `mapstructure:"default_model"`
}

// ProviderEndpoint describes one third-party background-removal API. The
// key is resolved from the named environment variable at startup so secrets
// never live in the config file.
type ProviderEndpoint struct {
	URL       string `mapstructure:"url"`
	APIKeyEnv string `mapstructure:"api_key_env"`
}

type ProvidersConfig struct {
	Default   string                      `mapstructure:"default"`
	Timeout   time.Duration               `mapstructure:"timeout"`
	Endpoints map[string]ProviderEndpoint `mapstructure:"endpoints"`
}

type CleanupConfig struct {
	MaxAge   time.Duration `mapstructure:"max_age"`
	Schedule string        `mapstructure:"schedule"`
}

type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"`
}

// Load reads configuration from a YAML file, filling unset keys with
// defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// New loads config.yaml from the working directory, falling back to the
// defaults when the file is absent.
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		return Default()
	}
	return cfg
}

// Validate checks the tunables that would otherwise fail deep inside a
// request.
func (c *Config) Validate() error {
	if c.Segmentation.Threshold <= 0 {
		return fmt.Errorf("segmentation.threshold must be positive")
	}
	if c.Segmentation.BlurRadius < 0 {
		return fmt.Errorf("segmentation.blur_radius must not be negative")
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive")
	}
	if len(c.Upload.AllowedExtensions) == 0 {
		return fmt.Errorf("upload.allowed_extensions cannot be empty")
	}
	if c.Providers.Timeout <= 0 {
		return fmt.Errorf("providers.timeout must be positive")
	}
	if c.Cleanup.MaxAge <= 0 {
		return fmt.Errorf("cleanup.max_age must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("upload.max_size", 10*1024*1024)
	v.SetDefault("upload.upload_dir", "./static/uploads")
	v.SetDefault("upload.result_dir", "./static/results")
	v.SetDefault("upload.allowed_extensions", []string{"png", "jpg", "jpeg", "webp"})

	v.SetDefault("segmentation.threshold", 30.0)
	v.SetDefault("segmentation.blur_radius", 1.0)

	v.SetDefault("models.dir", "./models")
	v.SetDefault("models.default_model", "segmenter.json")

	v.SetDefault("providers.default", "remove.bg")
	v.SetDefault("providers.timeout", 15*time.Second)
	v.SetDefault("providers.endpoints", map[string]ProviderEndpoint{
		"remove.bg": {URL: "https://api.remove.bg/v1.0/removebg", APIKeyEnv: "REMOVE_BG_API_KEY"},
		"clipdrop":  {URL: "https://clipdrop-api.co/remove-background/v1", APIKeyEnv: "CLIPDROP_API_KEY"},
		"photoroom": {URL: "https://sdk.photoroom.com/v1/segment", APIKeyEnv: "PHOTOROOM_API_KEY"},
	})

	v.SetDefault("cleanup.max_age", 24*time.Hour)
	v.SetDefault("cleanup.schedule", "@hourly")

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.ttl", 5*time.Minute)

	v.SetDefault("database.dsn", "host=postgres user=postgres password=postgres dbname=cutout port=5432 sslmode=disable")
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			Mode:            "debug",
			ShutdownTimeout: 15 * time.Second,
		},
		Upload: UploadConfig{
			MaxSize:           10 * 1024 * 1024,
			UploadDir:         "./static/uploads",
			ResultDir:         "./static/results",
			AllowedExtensions: []string{"png", "jpg", "jpeg", "webp"},
		},
		Segmentation: SegmentationConfig{
			Threshold:  30.0,
			BlurRadius: 1.0,
		},
		Models: ModelsConfig{
			Dir:          "./models",
			DefaultModel: "segmenter.json",
		},
		Providers: ProvidersConfig{
			Default: "remove.bg",
			Timeout: 15 * time.Second,
			Endpoints: map[string]ProviderEndpoint{
				"remove.bg": {URL: "https://api.remove.bg/v1.0/removebg", APIKeyEnv: "REMOVE_BG_API_KEY"},
				"clipdrop":  {URL: "https://clipdrop-api.co/remove-background/v1", APIKeyEnv: "CLIPDROP_API_KEY"},
				"photoroom": {URL: "https://sdk.photoroom.com/v1/segment", APIKeyEnv: "PHOTOROOM_API_KEY"},
			},
		},
		Cleanup: CleanupConfig{
			MaxAge:   24 * time.Hour,
			Schedule: "@hourly",
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  5 * time.Minute,
		},
		Database: DatabaseConfig{
			DSN: "host=postgres user=postgres password=postgres dbname=cutout port=5432 sslmode=disable",
		},
	}
}
