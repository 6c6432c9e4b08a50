package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds every tunable of a scan. Precedence, lowest first:
// envDefault tags, YAML file, environment, command-line flags (applied by cmd).
type Config struct {
	DatabaseURL string `env:"DATABASE_URL"`

	OCRBackend   string        `env:"OCR_BACKEND"    envDefault:"vision"`
	OCREndpoint  string        `env:"OCR_ENDPOINT"`
	OCRWorkerCmd string        `env:"OCR_WORKER_CMD"`
	OCRTimeout   time.Duration `env:"OCR_TIMEOUT"    envDefault:"30s"`

	Workers       int    `env:"SCAN_WORKERS"    envDefault:"4"`
	JPEGQuality   int    `env:"JPEG_QUALITY"    envDefault:"90"`
	FrameMaxWidth int    `env:"FRAME_MAX_WIDTH" envDefault:"0"`
	Pattern       string `env:"VOUCHER_PATTERN"`
	DownloadDir   string `env:"DOWNLOAD_DIR"`

	MetricsAddr  string `env:"METRICS_ADDR"`
	OTLPEndpoint string `env:"OTLP_ENDPOINT"`
	LogLevel     string `env:"LOG_LEVEL"     envDefault:"info"`
}

// Backends accepted by OCRBackend.
const (
	BackendVision = "vision"
	BackendHTTP   = "http"
	BackendEngine = "engine"
)

// Load builds a Config from the environment. When path is non-empty the YAML file
// at path supplies values for variables the environment leaves unset. File keys
// are the variable names in lower case, e.g. "scan_workers: 8". Load does not
// Validate, so callers can still apply flag overrides first.
func Load(path string) (*Config, error) {
	vars := map[string]string{}
	if path != "" {
		fileVars, err := readFile(path)
		if err != nil {
			return nil, err
		}
		vars = fileVars
	}
	for k, v := range env.ToMap(os.Environ()) {
		vars[k] = v
	}

	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, env.Options{Environment: vars}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	raw := map[string]string{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	vars := make(map[string]string, len(raw))
	for k, v := range raw {
		vars[strings.ToUpper(k)] = v
	}
	return vars, nil
}

// Validate rejects settings no scan could run with.
func (c *Config) Validate() error {
	switch c.OCRBackend {
	case BackendVision:
	case BackendHTTP:
		if c.OCREndpoint == "" {
			return fmt.Errorf("ocr backend %q requires OCR_ENDPOINT", c.OCRBackend)
		}
	case BackendEngine:
		if c.OCRWorkerCmd == "" {
			return fmt.Errorf("ocr backend %q requires OCR_WORKER_CMD", c.OCRBackend)
		}
	default:
		return fmt.Errorf("unknown ocr backend %q (want vision, http or engine)", c.OCRBackend)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		return fmt.Errorf("jpeg quality must be within 1..100, got %d", c.JPEGQuality)
	}
	if c.OCRTimeout < 0 {
		return fmt.Errorf("ocr timeout must not be negative, got %s", c.OCRTimeout)
	}
	if c.FrameMaxWidth < 0 {
		return fmt.Errorf("frame max width must not be negative, got %d", c.FrameMaxWidth)
	}
	return nil
}
