package app

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/florianilch/throne-gateway/internal/capability"
)

// envPrefix namespaces the environment layer; THRONE_BASE_URL sets base_url,
// THRONE_CAPABILITY__TTL-style double underscores nest.
const envPrefix = "THRONE_"

// Config is the full gateway configuration, layered defaults < TOML file <
// environment.
type Config struct {
	Listen  string `koanf:"listen" validate:"required,hostname_port"`
	BaseURL string `koanf:"base_url" validate:"required,url"`

	// APIKey overrides the provider env-var chain when set.
	APIKey string `koanf:"api_key"`

	// EndpointOverrides pins the wire dialect per normalized base URL instead
	// of relying on heuristic or probe.
	EndpointOverrides map[string]string `koanf:"endpoint_overrides" validate:"dive,oneof=anthropic_native openai_compatible"`

	// ReasoningModel and CompletionModel fill requests that omit a model.
	ReasoningModel  string `koanf:"reasoning_model"`
	CompletionModel string `koanf:"completion_model" validate:"required"`

	// StripURIFormat removes format:"uri" annotations from tool schemas for
	// upstreams that reject them.
	StripURIFormat bool `koanf:"strip_uri_format"`

	// ForceXMLTools routes every tool-capable request through XML emulation.
	ForceXMLTools bool `koanf:"force_xml_tools"`

	// XMLToolPatterns maps provider id (or "*") to model patterns that must
	// use XML tool emulation.
	XMLToolPatterns map[string][]string `koanf:"xml_tool_patterns"`

	// Capabilities is the static capability table, keyed by provider id
	// (or "*").
	Capabilities map[string][]capability.StaticRuleSpec `koanf:"capabilities"`

	Debug          bool     `koanf:"debug"`
	MaxBodyBytes   int64    `koanf:"max_body_bytes" validate:"gte=0"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

func configDefaults() map[string]any {
	return map[string]any{
		"listen":           "127.0.0.1:4000",
		"base_url":         "https://api.openai.com/v1",
		"reasoning_model":  "o3-mini",
		"completion_model": "gpt-4o-mini",
		"max_body_bytes":   10 << 20,
	}
}

// LoadConfig builds the configuration from defaults, the optional TOML file
// at path, and THRONE_-prefixed environment variables, then validates it.
func LoadConfig(path string) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(configDefaults(), "."), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return Config{}, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(".", env.Opt{
		Prefix: envPrefix,
		TransformFunc: func(key, value string) (string, any) {
			key = strings.ToLower(strings.TrimPrefix(key, envPrefix))
			return strings.ReplaceAll(key, "__", "."), value
		},
	}), nil); err != nil {
		return Config{}, fmt.Errorf("failed to load environment config: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
