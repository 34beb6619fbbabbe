// Package config holds the recorder settings shared by every vadrec subcommand.
//
// Values come from, in increasing priority: built-in defaults, an optional
// YAML file, then VADREC_* environment variables (a .env file is loaded into
// the environment by the CLI before this package reads it).
package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	ClassifierEnergy = "energy"
	ClassifierSilero = "silero"
)

type Config struct {
	Device           string  `yaml:"device"`
	Threshold        float32 `yaml:"threshold"`
	SilenceTimeoutMs int     `yaml:"silence_timeout_ms"`
	DataDir          string  `yaml:"data_dir"`
	Classifier       string  `yaml:"classifier"`
	SileroModel      string  `yaml:"silero_model"`
	ListenAddr       string  `yaml:"listen_addr"`
	LogLevel         string  `yaml:"log_level"`
}

func Default() *Config {
	return &Config{
		Device:           "default",
		Threshold:        0.5,
		SilenceTimeoutMs: 800,
		DataDir:          defaultDataDir(),
		Classifier:       ClassifierEnergy,
		ListenAddr:       ":8082",
		LogLevel:         "info",
	}
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "vadrec")
}

func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeoutMs) * time.Millisecond
}

// Load reads the YAML file at path on top of the defaults. An empty path only applies the environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()
		if err = decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML on top of the defaults and validates the result. The environment is not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides fields from VADREC_* variables looked up with getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	var errs []error
	setString := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	setString("VADREC_DEVICE", &c.Device)
	setString("VADREC_DATA_DIR", &c.DataDir)
	setString("VADREC_CLASSIFIER", &c.Classifier)
	setString("VADREC_SILERO_MODEL", &c.SileroModel)
	setString("VADREC_LISTEN_ADDR", &c.ListenAddr)
	setString("VADREC_LOG_LEVEL", &c.LogLevel)

	if v := getenv("VADREC_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			errs = append(errs, fmt.Errorf("VADREC_THRESHOLD %q is not a number", v))
		} else {
			c.Threshold = float32(f)
		}
	}
	if v := getenv("VADREC_SILENCE_TIMEOUT_MS"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("VADREC_SILENCE_TIMEOUT_MS %q is not an integer", v))
		} else {
			c.SilenceTimeoutMs = ms
		}
	}
	return errors.Join(errs...)
}

// Validate returns a joined error listing every invalid field.
func (c *Config) Validate() error {
	var errs []error
	if c.Device == "" {
		errs = append(errs, fmt.Errorf("device is required, use %q for the system default", "default"))
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		errs = append(errs, fmt.Errorf("threshold %.2f is out of range [0, 1]", c.Threshold))
	}
	if c.SilenceTimeoutMs <= 0 {
		errs = append(errs, fmt.Errorf("silence_timeout_ms must be positive, got %d", c.SilenceTimeoutMs))
	}
	if c.DataDir == "" {
		errs = append(errs, fmt.Errorf("data_dir is required"))
	}
	switch c.Classifier {
	case ClassifierEnergy:
	case ClassifierSilero:
		if c.SileroModel == "" {
			errs = append(errs, fmt.Errorf("classifier %q requires silero_model", ClassifierSilero))
		}
	default:
		errs = append(errs, fmt.Errorf("classifier %q is invalid; valid values: %s, %s", c.Classifier, ClassifierEnergy, ClassifierSilero))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level %q is invalid", c.LogLevel))
	}
	return errors.Join(errs...)
}
