package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

const envPrefix = "ODTSWAP"

// Config holds every startup option of the service
type Config struct {
	Port                int    `mapstructure:"port"`
	UploadDir           string `mapstructure:"upload_dir"`
	OutputDir           string `mapstructure:"output_dir"`
	ScratchDir          string `mapstructure:"scratch_dir"`
	StaticDir           string `mapstructure:"static_dir"`
	DBPath              string `mapstructure:"db_path"`
	KeepScratch         bool   `mapstructure:"keep_scratch"`
	MaxUploadBytes      int64  `mapstructure:"max_upload_bytes"`
	AllowLocalImagePath bool   `mapstructure:"allow_local_image_path"`
	EnableCORS          bool   `mapstructure:"enable_cors"`
	LogLevel            string `mapstructure:"log_level"`
	LogFormat           string `mapstructure:"log_format"`
}

// SetDefaults registers the default value of every key on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault("port", 3000)
	v.SetDefault("upload_dir", "uploads")
	v.SetDefault("output_dir", "outputs")
	v.SetDefault("scratch_dir", "")
	v.SetDefault("static_dir", "public")
	v.SetDefault("db_path", "odtswap.db")
	v.SetDefault("keep_scratch", false)
	v.SetDefault("max_upload_bytes", 32<<20)
	v.SetDefault("allow_local_image_path", false)
	v.SetDefault("enable_cors", false)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")
}

// Load reads configuration from defaults, the optional file at path and
// ODTSWAP_* environment variables, in increasing precedence.
func Load(v *viper.Viper, path string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("upload_dir must be set"))
	}
	if c.OutputDir == "" {
		errs = append(errs, errors.New("output_dir must be set"))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("max_upload_bytes must be positive"))
	}
	switch c.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log_format %q", c.LogFormat))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// EnsureDirs creates the working directories the service writes into
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.UploadDir, c.OutputDir, c.ScratchDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
