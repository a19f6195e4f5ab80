package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the service.
// Zero values mean "unspecified"; Defaults fills them in.
type Config struct {
	Addr    string `json:"addr" yaml:"addr" toml:"addr"`
	Backend string `json:"backend" yaml:"backend" toml:"backend"`
	Model   string `json:"model" yaml:"model" toml:"model"`
	// RuntimeURL is the base URL of the model runtime (openai, kserve) or a
	// Bedrock endpoint override.
	RuntimeURL string `json:"runtime_url" yaml:"runtime_url" toml:"runtime_url"`
	APIKey     string `json:"api_key" yaml:"api_key" toml:"api_key"`

	Preprocess string    `json:"preprocess" yaml:"preprocess" toml:"preprocess"`
	ImageSize  int       `json:"image_size" yaml:"image_size" toml:"image_size"`
	Mean       []float32 `json:"mean" yaml:"mean" toml:"mean"`
	Std        []float32 `json:"std" yaml:"std" toml:"std"`
	LogitScale float32   `json:"logit_scale" yaml:"logit_scale" toml:"logit_scale"`
	EmbedDim   int       `json:"embed_dim" yaml:"embed_dim" toml:"embed_dim"`
	MaxTexts   int       `json:"max_texts" yaml:"max_texts" toml:"max_texts"`

	MaxBodyBytes          int64 `json:"max_body_bytes" yaml:"max_body_bytes" toml:"max_body_bytes"`
	MaxUploadBytes        int64 `json:"max_upload_bytes" yaml:"max_upload_bytes" toml:"max_upload_bytes"`
	MaxImagePixels        int64 `json:"max_image_pixels" yaml:"max_image_pixels" toml:"max_image_pixels"`
	InferTimeoutSeconds   int64 `json:"infer_timeout_seconds" yaml:"infer_timeout_seconds" toml:"infer_timeout_seconds"`
	RequestTimeoutSeconds int64 `json:"request_timeout_seconds" yaml:"request_timeout_seconds" toml:"request_timeout_seconds"`
	ConnectTimeoutSeconds int64 `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds" toml:"connect_timeout_seconds"`

	// CORSEnabled is a pointer so an explicit false overrides an earlier true.
	CORSEnabled *bool    `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	LogLevel  string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogFormat string `json:"log_format" yaml:"log_format" toml:"log_format"`

	AWSRegion  string `json:"aws_region" yaml:"aws_region" toml:"aws_region"`
	AWSProfile string `json:"aws_profile" yaml:"aws_profile" toml:"aws_profile"`
	// Static credentials for bedrock. Leave empty to use the AWS default chain.
	AWSAccessKeyID     string `json:"aws_access_key_id" yaml:"aws_access_key_id" toml:"aws_access_key_id"`
	AWSSecretAccessKey string `json:"aws_secret_access_key" yaml:"aws_secret_access_key" toml:"aws_secret_access_key"`
	AWSSessionToken    string `json:"aws_session_token" yaml:"aws_session_token" toml:"aws_session_token"`
}

// Defaults returns the configuration used when nothing is specified.
func Defaults() Config {
	return Config{
		Addr:                  ":8000",
		Backend:               "stub",
		Model:                 "hf-hub:Marqo/marqo-fashionSigLIP",
		Preprocess:            "siglip",
		ImageSize:             224,
		LogitScale:            100,
		MaxTexts:              256,
		MaxBodyBytes:          1 << 20,
		MaxUploadBytes:        32 << 20,
		MaxImagePixels:        64 << 20,
		RequestTimeoutSeconds: 60,
		ConnectTimeoutSeconds: 5,
		CORSEnabled:           Bool(true),
		CORSOrigins:           []string{"http://localhost:5173"},
		LogLevel:              "info",
		LogFormat:             "json",
	}
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
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// Merge overlays every non-zero field of o onto c.
func (c Config) Merge(o Config) Config {
	setS := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	setS(&c.Addr, o.Addr)
	setS(&c.Backend, o.Backend)
	setS(&c.Model, o.Model)
	setS(&c.RuntimeURL, o.RuntimeURL)
	setS(&c.APIKey, o.APIKey)
	setS(&c.Preprocess, o.Preprocess)
	setS(&c.LogLevel, o.LogLevel)
	setS(&c.LogFormat, o.LogFormat)
	setS(&c.AWSRegion, o.AWSRegion)
	setS(&c.AWSProfile, o.AWSProfile)
	setS(&c.AWSAccessKeyID, o.AWSAccessKeyID)
	setS(&c.AWSSecretAccessKey, o.AWSSecretAccessKey)
	setS(&c.AWSSessionToken, o.AWSSessionToken)
	if o.ImageSize != 0 {
		c.ImageSize = o.ImageSize
	}
	if len(o.Mean) > 0 {
		c.Mean = append([]float32(nil), o.Mean...)
	}
	if len(o.Std) > 0 {
		c.Std = append([]float32(nil), o.Std...)
	}
	if o.LogitScale != 0 {
		c.LogitScale = o.LogitScale
	}
	if o.EmbedDim != 0 {
		c.EmbedDim = o.EmbedDim
	}
	if o.MaxTexts != 0 {
		c.MaxTexts = o.MaxTexts
	}
	if o.MaxBodyBytes != 0 {
		c.MaxBodyBytes = o.MaxBodyBytes
	}
	if o.MaxUploadBytes != 0 {
		c.MaxUploadBytes = o.MaxUploadBytes
	}
	if o.MaxImagePixels != 0 {
		c.MaxImagePixels = o.MaxImagePixels
	}
	if o.InferTimeoutSeconds != 0 {
		c.InferTimeoutSeconds = o.InferTimeoutSeconds
	}
	if o.RequestTimeoutSeconds != 0 {
		c.RequestTimeoutSeconds = o.RequestTimeoutSeconds
	}
	if o.ConnectTimeoutSeconds != 0 {
		c.ConnectTimeoutSeconds = o.ConnectTimeoutSeconds
	}
	if o.CORSEnabled != nil {
		c.CORSEnabled = Bool(*o.CORSEnabled)
	}
	if len(o.CORSOrigins) > 0 {
		c.CORSOrigins = append([]string(nil), o.CORSOrigins...)
	}
	return c
}

// Bool returns a pointer to v.
func Bool(v bool) *bool { return &v }

// CORS reports whether CORS is enabled.
func (c Config) CORS() bool { return c.CORSEnabled != nil && *c.CORSEnabled }

var knownBackends = map[string]bool{"openai": true, "kserve": true, "bedrock": true, "stub": true}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	if !knownBackends[strings.ToLower(c.Backend)] {
		return fmt.Errorf("unknown backend %q (want openai, kserve, bedrock or stub)", c.Backend)
	}
	if c.ImageSize <= 0 {
		return fmt.Errorf("image_size must be positive, got %d", c.ImageSize)
	}
	if len(c.Mean) != 0 && len(c.Mean) != 3 {
		return fmt.Errorf("mean must have 3 entries, got %d", len(c.Mean))
	}
	if len(c.Std) != 0 && len(c.Std) != 3 {
		return fmt.Errorf("std must have 3 entries, got %d", len(c.Std))
	}
	for i, s := range c.Std {
		if s == 0 {
			return fmt.Errorf("std[%d] must be non-zero", i)
		}
	}
	if c.MaxImagePixels < 0 {
		return fmt.Errorf("max_image_pixels must not be negative")
	}
	if c.LogitScale < 0 {
		return fmt.Errorf("logit_scale must not be negative")
	}
	switch strings.ToLower(c.Backend) {
	case "openai", "kserve":
		if c.RuntimeURL == "" {
			return fmt.Errorf("runtime_url is required for backend %s", c.Backend)
		}
	case "bedrock":
		if c.AWSRegion == "" {
			return fmt.Errorf("aws_region is required for backend bedrock")
		}
		if (c.AWSAccessKeyID == "") != (c.AWSSecretAccessKey == "") {
			return fmt.Errorf("aws_access_key_id and aws_secret_access_key must be set together")
		}
	}
	return nil
}
