package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"onnxd/pkg/types"
)

// CORS configures the optional CORS middleware.
type CORS struct {
	Enabled bool     `json:"enabled" yaml:"enabled" toml:"enabled"`
	Origins []string `json:"origins" yaml:"origins" toml:"origins"`
	Methods []string `json:"methods" yaml:"methods" toml:"methods"`
	Headers []string `json:"headers" yaml:"headers" toml:"headers"`
}

// Config holds runtime parameters for the service.
// Zero values mean "unspecified" and are replaced by Default() in main.
type Config struct {
	Addr         string `json:"addr" yaml:"addr" toml:"addr" validate:"omitempty,hostname_port"`
	Backend      string `json:"backend" yaml:"backend" toml:"backend" validate:"omitempty,oneof=echo llama"`
	ModelsDir    string `json:"models_dir" yaml:"models_dir" toml:"models_dir"`
	LogLevel     string `json:"log_level" yaml:"log_level" toml:"log_level" validate:"omitempty,oneof=trace debug info warn error off"`
	LogFormat    string `json:"log_format" yaml:"log_format" toml:"log_format" validate:"omitempty,oneof=console json"`
	MaxBodyBytes int64  `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes" validate:"gte=0"`
	ContextSize  int    `json:"context_size" yaml:"context_size" toml:"context_size" validate:"gte=0"`
	Threads      int    `json:"threads" yaml:"threads" toml:"threads" validate:"gte=0"`
	CORS         CORS   `json:"cors" yaml:"cors" toml:"cors"`
	// Model is loaded at startup when set.
	Model *types.LoadModelRequest `json:"model,omitempty" yaml:"model" toml:"model"`
}

// Default returns the configuration used when no file or flag sets a value.
func Default() Config {
	return Config{
		Addr:         "127.0.0.1:3928",
		Backend:      "echo",
		ModelsDir:    "~/models/onnx",
		LogLevel:     "info",
		LogFormat:    "console",
		MaxBodyBytes: 1 << 20,
	}
}

// Merge overlays the non-zero fields of o on c.
func (c Config) Merge(o Config) Config {
	if o.Addr != "" {
		c.Addr = o.Addr
	}
	if o.Backend != "" {
		c.Backend = o.Backend
	}
	if o.ModelsDir != "" {
		c.ModelsDir = o.ModelsDir
	}
	if o.LogLevel != "" {
		c.LogLevel = o.LogLevel
	}
	if o.LogFormat != "" {
		c.LogFormat = o.LogFormat
	}
	if o.MaxBodyBytes > 0 {
		c.MaxBodyBytes = o.MaxBodyBytes
	}
	if o.ContextSize > 0 {
		c.ContextSize = o.ContextSize
	}
	if o.Threads > 0 {
		c.Threads = o.Threads
	}
	if o.CORS.Enabled || len(o.CORS.Origins) > 0 || len(o.CORS.Methods) > 0 || len(o.CORS.Headers) > 0 {
		c.CORS = o.CORS
	}
	if o.Model != nil {
		c.Model = o.Model
	}
	return c
}

// validate caches struct info; safe for concurrent use.
var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the optional startup model.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Model != nil && strings.TrimSpace(c.Model.ModelPath) == "" && strings.TrimSpace(c.Model.Model) == "" {
		return errors.New("invalid config: model requires model_path or model")
	}
	return nil
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}
