package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Live backends
	if cfg.Gemini.APIKey == "" {
		slog.Warn("gemini.api_key is empty; live music and avatar sessions will not connect")
	}
	if cfg.OpenAI.APIKey == "" {
		slog.Warn("openai.api_key is empty; interview questions will be served verbatim from the catalog")
	}

	// Audio timings
	if cfg.Audio.BufferTimeMS < 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_time_ms %d must not be negative", cfg.Audio.BufferTimeMS))
	}
	if cfg.Audio.SettleDelayMS < 0 {
		errs = append(errs, fmt.Errorf("audio.settle_delay_ms %d must not be negative", cfg.Audio.SettleDelayMS))
	}
	if cfg.Audio.BPM < 0 {
		errs = append(errs, fmt.Errorf("audio.bpm %d must not be negative", cfg.Audio.BPM))
	}
	if cfg.Audio.Temperature < 0 || cfg.Audio.Temperature > 3 {
		errs = append(errs, fmt.Errorf("audio.temperature %.2f is out of range [0, 3]", cfg.Audio.Temperature))
	}

	// Prompt limiter timings
	if cfg.Prompts.MinIntervalMS < 0 {
		errs = append(errs, fmt.Errorf("prompts.min_interval_ms %d must not be negative", cfg.Prompts.MinIntervalMS))
	}
	if cfg.Prompts.SettleDelayMS < 0 {
		errs = append(errs, fmt.Errorf("prompts.settle_delay_ms %d must not be negative", cfg.Prompts.SettleDelayMS))
	}

	// Persistence availability
	if cfg.Redis.Addr == "" {
		slog.Warn("redis.addr is empty; prompt state will not survive restarts")
	}
	if cfg.Postgres.DSN == "" {
		slog.Warn("postgres.dsn is empty; interview progress will not survive restarts")
	}

	return errors.Join(errs...)
}
