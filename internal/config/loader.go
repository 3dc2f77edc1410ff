package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "STRESSTRACK_"

// LoadOption tweaks Load.
type LoadOption func(*loadOptions)

type loadOptions struct {
	envFile string
}

// WithEnvFile reads dotenv variables from path instead of ".env".
// An empty path disables dotenv loading.
func WithEnvFile(path string) LoadOption {
	return func(o *loadOptions) { o.envFile = path }
}

// Load builds a Config by layering defaults, dotenv, optional file, and env vars.
// Order of precedence (low -> high):
//  1. defaults (New())
//  2. file (YAML) if STRESSTRACK_CONFIG is set
//  3. unprefixed MONGO_URI and PORT
//  4. env (prefix STRESSTRACK_)
//
// Variables from the dotenv file are exported first and never replace
// variables already present in the environment.
func Load(_ context.Context, opts ...LoadOption) (*Config, error) {
	o := loadOptions{envFile: ".env"}
	for _, opt := range opts {
		opt(&o)
	}

	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: dotenv %s: %v", ErrLoadConfig, o.envFile, err)
		}
	}

	base := New()
	k := koanf.New(".")

	if path := os.Getenv(envPrefix + "CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrLoadConfig, path, err)
		}
	}

	// The bare names are what hosting platforms and docker-compose files set.
	legacy := env.Provider("", ".", func(s string) string {
		switch s {
		case "MONGO_URI":
			return "mongo_uri"
		case "PORT":
			return "port"
		}
		return ""
	})
	if err := k.Load(legacy, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	// STRESSTRACK_MONGO_URI -> mongo_uri (flat keys, underscores kept).
	prefixed := env.Provider(envPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, envPrefix))
	})
	if err := k.Load(prefixed, nil); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	cfg := *base
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLoadConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
