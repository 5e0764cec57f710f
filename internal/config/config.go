// Package config loads server settings from defaults, dotenv files, an
// optional TOML file and the environment, in that order of precedence
// (later wins).
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/ironsheep/pdf-tools-mcp/internal/imaging"
	"github.com/ironsheep/pdf-tools-mcp/internal/ocr"
	"github.com/ironsheep/pdf-tools-mcp/internal/source"
)

// EnvConfigPath names the environment variable holding the TOML file path.
const EnvConfigPath = "PDF_MCP_CONFIG"

type Config struct {
	LogLevel  string `toml:"log_level" env:"PDF_MCP_LOG_LEVEL"`
	LogFormat string `toml:"log_format" env:"PDF_MCP_LOG_FORMAT"`

	// MaxConcurrentCalls bounds in-flight tools/call requests. Document
	// access is serialized regardless; this bounds queued goroutines.
	MaxConcurrentCalls int `toml:"max_concurrent_calls" env:"PDF_MCP_MAX_CONCURRENT_CALLS"`

	MaxInlineBytes int64 `toml:"max_inline_bytes" env:"PDF_MCP_MAX_INLINE_BYTES"`

	// IdleTimeout > 0 enables eviction of documents unused for that long.
	IdleTimeout   time.Duration `toml:"idle_timeout" env:"PDF_MCP_IDLE_TIMEOUT"`
	SweepInterval time.Duration `toml:"sweep_interval" env:"PDF_MCP_SWEEP_INTERVAL"`

	RenderCacheSize  int     `toml:"render_cache_size" env:"PDF_MCP_RENDER_CACHE_SIZE"`
	RenderBackground string  `toml:"render_background" env:"PDF_MCP_RENDER_BACKGROUND"`
	MaxRenderScale   float64 `toml:"max_render_scale" env:"PDF_MCP_MAX_RENDER_SCALE"`

	OCRLanguage    string `toml:"ocr_language" env:"PDF_MCP_OCR_LANGUAGE"`
	TessdataPrefix string `toml:"tessdata_prefix" env:"TESSDATA_PREFIX"`

	// MetricsAddr, when set, serves Prometheus metrics on that address.
	MetricsAddr string `toml:"metrics_addr" env:"PDF_MCP_METRICS_ADDR"`
}

func Default() Config {
	return Config{
		LogLevel:           "info",
		LogFormat:          "text",
		MaxConcurrentCalls: 16,
		MaxInlineBytes:     source.DefaultMaxInlineBytes,
		IdleTimeout:        0,
		SweepInterval:      time.Minute,
		RenderCacheSize:    32,
		RenderBackground:   imaging.DefaultBackground,
		MaxRenderScale:     10,
		OCRLanguage:        ocr.DefaultLanguage,
	}
}

// Load builds the configuration. path names a TOML file; when empty,
// $PDF_MCP_CONFIG is used, and when that is unset too no file is read.
func Load(path string) (Config, error) {
	if err := loadDotEnv(); err != nil {
		return Config{}, err
	}

	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Config{}, fmt.Errorf("reading environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDotEnv applies .env and then .env.local without overriding variables
// already present in the environment.
func loadDotEnv() error {
	for _, name := range []string{".env", ".env.local"} {
		values, err := godotenv.Read(name)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("reading %s: %w", name, err)
		}
		for k, v := range values {
			if _, exists := os.LookupEnv(k); !exists {
				if err := os.Setenv(k, v); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format: must be text or json, got %q", c.LogFormat))
	}
	if c.MaxConcurrentCalls < 1 {
		errs = append(errs, fmt.Errorf("max_concurrent_calls: must be at least 1, got %d", c.MaxConcurrentCalls))
	}
	if c.MaxInlineBytes < 1 {
		errs = append(errs, fmt.Errorf("max_inline_bytes: must be positive, got %d", c.MaxInlineBytes))
	}
	if c.IdleTimeout < 0 {
		errs = append(errs, fmt.Errorf("idle_timeout: must not be negative, got %s", c.IdleTimeout))
	}
	if c.IdleTimeout > 0 && c.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("sweep_interval: must be positive when idle_timeout is set"))
	}
	if c.RenderCacheSize < 0 {
		errs = append(errs, fmt.Errorf("render_cache_size: must not be negative, got %d", c.RenderCacheSize))
	}
	if _, err := imaging.ParseBackground(c.RenderBackground); err != nil {
		errs = append(errs, fmt.Errorf("render_background: %w", err))
	}
	if c.MaxRenderScale < 0 {
		errs = append(errs, fmt.Errorf("max_render_scale: must not be negative, got %g", c.MaxRenderScale))
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger. Output goes to w, which must not be
// the protocol stream.
func (c Config) NewLogger(w io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(c.LogLevel)
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(level)
	if c.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, DisableColors: true})
	}
	return log, nil
}
