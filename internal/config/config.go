package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// ListenerPrefix marks per-workflow variable overrides, e.g. LISTENER_TAKEN_AANMAKEN
const ListenerPrefix = "LISTENER_"

// EnvironmentProduction suppresses audit notes
const EnvironmentProduction = "production"

// Config is the worker configuration, read once at startup
type Config struct {
	RabbitMQURL      string `env:"RABBITMQ_URL,required"`
	RabbitMQExchange string `env:"RABBITMQ_EXCHANGE" envDefault:"mor_core"`
	PrefetchCount    int    `env:"RABBITMQ_PREFETCH_COUNT" envDefault:"1"`

	Environment  string `env:"ENVIRONMENT" envDefault:"production"`
	BotUserEmail string `env:"BOT_USER_EMAIL" envDefault:"botjeknor@rotterdam.nl"`
	GitSHA       string `env:"GIT_SHA" envDefault:"Not found"`

	MorCoreURL          string        `env:"MOR_CORE_URL" envDefault:"http://core.mor.local:8002"`
	MorCoreUser         string        `env:"MOR_CORE_USER" envDefault:"automatr"`
	MorCorePassword     string        `env:"MOR_CORE_PASSWORD" envDefault:"insecure"`
	MorCoreTokenTimeout time.Duration `env:"MOR_CORE_TOKEN_TIMEOUT" envDefault:"0s"`
	HTTPTimeout         time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	VariableSource      string `env:"VARIABLE_SOURCE" envDefault:"embedded"`
	SettingsURL         string `env:"SETTINGS_URL"`
	SettingsDatabaseURL string `env:"SETTINGS_DATABASE_URL"`
	WorkflowDir         string `env:"WORKFLOW_DIR"`

	OpsAddr string `env:"OPS_ADDR" envDefault:":8080"`

	LogLevel        string `env:"LOG_LEVEL" envDefault:"INFO"`
	ErrorSampleRate int    `env:"ERROR_SAMPLE_RATE" envDefault:"1"`
	OTELEnabled     bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTELServiceName string `env:"OTEL_SERVICE_NAME" envDefault:"automatr"`

	// Overrides maps a workflow name to its raw LISTENER_<WORKFLOW> value
	Overrides map[string]string
}

// Load reads the configuration from the process environment
func Load() (*Config, error) {
	return LoadFrom(os.Environ())
}

// LoadFrom reads the configuration from KEY=VALUE pairs
func LoadFrom(environ []string) (*Config, error) {
	vars := make(map[string]string, len(environ))
	for _, kv := range environ {
		k, v, ok := strings.Cut(kv, "=")
		if ok {
			vars[k] = v
		}
	}

	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: vars}); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Overrides = listenerOverrides(vars)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the env tags cannot express
func (c *Config) Validate() error {
	var errs []error
	if c.PrefetchCount < 1 {
		errs = append(errs, fmt.Errorf("RABBITMQ_PREFETCH_COUNT must be at least 1, got %d", c.PrefetchCount))
	}
	switch c.VariableSource {
	case "embedded":
	case "remote":
		if c.SettingsURL == "" && c.SettingsDatabaseURL == "" {
			errs = append(errs, errors.New("VARIABLE_SOURCE=remote needs SETTINGS_URL or SETTINGS_DATABASE_URL"))
		}
	default:
		errs = append(errs, fmt.Errorf("VARIABLE_SOURCE must be embedded or remote, got %q", c.VariableSource))
	}
	return errors.Join(errs...)
}

// Production reports whether audit notes must be suppressed
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, EnvironmentProduction)
}

// Override returns the raw variable override for a workflow
func (c *Config) Override(workflow string) string {
	return c.Overrides[strings.ToLower(workflow)]
}

func listenerOverrides(vars map[string]string) map[string]string {
	out := map[string]string{}
	for k, v := range vars {
		if !strings.HasPrefix(k, ListenerPrefix) || v == "" {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(k, ListenerPrefix))
		if name != "" {
			out[name] = v
		}
	}
	return out
}
