// Package config loads interdiff settings from defaults, a TOML file and
// INTERDIFF_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kurobon/interdiff/internal/changeid"
	"github.com/kurobon/interdiff/internal/forge"
	"github.com/kurobon/interdiff/internal/interdiff"
	"github.com/kurobon/interdiff/internal/match"
)

// EnvPrefix prefixes every environment override, e.g.
// INTERDIFF_MATCH_THRESHOLD=0.6 sets match.threshold.
const EnvPrefix = "INTERDIFF_"

// DefaultPaths are tried in order when no config file is given.
var DefaultPaths = []string{"./interdiff.toml", "$HOME/.interdiff.toml"}

type RepoConfig struct {
	Path   string `koanf:"path"`
	Remote string `koanf:"remote"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type ChangeIDConfig struct {
	Header  string `koanf:"header"`
	Pattern string `koanf:"pattern"`
}

type InterdiffConfig struct {
	Target       string `koanf:"target"`
	ContextLines int    `koanf:"context_lines"`
	Workers      int    `koanf:"workers"`
}

type TimelineConfig struct {
	Workers int `koanf:"workers"`
}

type ForgeConfig struct {
	Kind          string  `koanf:"kind"`
	URL           string  `koanf:"url"`
	Token         string  `koanf:"token"`
	RatePerSecond float64 `koanf:"rate_per_second"`
	MaxRetries    int     `koanf:"max_retries"`
}

type ServerConfig struct {
	Addr string `koanf:"addr"`
}

// Config is the full application configuration.
type Config struct {
	Repo      RepoConfig      `koanf:"repo"`
	Log       LogConfig       `koanf:"log"`
	ChangeID  ChangeIDConfig  `koanf:"changeid"`
	Match     match.Options   `koanf:"match"`
	Interdiff InterdiffConfig `koanf:"interdiff"`
	Timeline  TimelineConfig  `koanf:"timeline"`
	Forge     ForgeConfig     `koanf:"forge"`
	Server    ServerConfig    `koanf:"server"`
}

func defaults() map[string]interface{} {
	m := match.DefaultOptions()
	return map[string]interface{}{
		"repo.path":               ".",
		"repo.remote":             "origin",
		"log.level":               "info",
		"log.pretty":              false,
		"changeid.header":         changeid.DefaultHeader,
		"changeid.pattern":        changeid.DefaultPattern,
		"match.author_weight":     m.AuthorWeight,
		"match.time_weight":       m.TimeWeight,
		"match.content_weight":    m.ContentWeight,
		"match.time_half_life":    m.TimeHalfLife.String(),
		"match.prefilter_window":  m.PrefilterWindow.String(),
		"match.threshold":         m.Threshold,
		"match.workers":           m.Workers,
		"interdiff.target":        string(interdiff.TargetParent),
		"interdiff.context_lines": 3,
		"interdiff.workers":       interdiff.DefaultOptions().Workers,
		"timeline.workers":        4,
		"forge.kind":              "",
		"forge.url":               "",
		"forge.token":             "",
		"forge.rate_per_second":   forge.DefaultOptions().RatePerSecond,
		"forge.max_retries":       forge.DefaultOptions().MaxRetries,
		"server.addr":             ":8080",
	}
}

// Default returns the configuration with no file and no environment.
func Default() *Config {
	cfg, err := load("", false)
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads the configuration. An empty path searches DefaultPaths; an
// explicit path must exist.
func Load(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, withEnv bool) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else if withEnv {
		for _, p := range DefaultPaths {
			p = os.ExpandEnv(p)
			if _, err := os.Stat(p); err != nil {
				continue
			}
			if err := k.Load(file.Provider(p), toml.Parser()); err != nil {
				return nil, fmt.Errorf("error loading config %s: %w", p, err)
			}
			break
		}
	}

	if withEnv {
		// Only the first underscore separates section from key, so
		// INTERDIFF_MATCH_AUTHOR_WEIGHT maps to match.author_weight.
		err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
			s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
			return strings.Replace(s, "_", ".", 1)
		}), nil)
		if err != nil {
			return nil, fmt.Errorf("error loading environment: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}
	return &cfg, nil
}

const sampleConfig = `# interdiff configuration

[repo]
path = "."
remote = "origin"

[log]
level = "info"
pretty = false

[changeid]
header = "change-id"

[match]
author_weight = 0.5
time_weight = 0.2
content_weight = 0.3
time_half_life = "1h"
prefilter_window = "168h"
threshold = 0.55
workers = 4

[interdiff]
# "parent" or "base"
target = "parent"
context_lines = 3
workers = 4

[timeline]
workers = 4

[forge]
# "static", "github" or "bitbucket"; empty detects it from the url
kind = ""
url = ""
token = ""
rate_per_second = 5.0
max_retries = 3

[server]
addr = ":8080"
`

// InitConfig writes a sample configuration file.
func InitConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0644)
}

// Validate rejects settings the engine cannot run with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if err := cfg.Match.Validate(); err != nil {
		return err
	}
	if err := cfg.InterdiffOptions().Validate(); err != nil {
		return err
	}
	if cfg.Interdiff.ContextLines < 0 {
		return errors.New("interdiff context_lines must not be negative")
	}
	if cfg.Timeline.Workers < 1 {
		return errors.New("timeline workers must be at least 1")
	}
	if cfg.ChangeID.Pattern != "" {
		if _, err := regexp.Compile(cfg.ChangeID.Pattern); err != nil {
			return fmt.Errorf("invalid changeid pattern: %w", err)
		}
	}
	switch forge.Kind(cfg.Forge.Kind) {
	case "", forge.KindStatic, forge.KindGitHub, forge.KindBitbucket:
	default:
		return fmt.Errorf("unknown forge kind %q", cfg.Forge.Kind)
	}
	if cfg.Forge.RatePerSecond < 0 || cfg.Forge.MaxRetries < 0 {
		return errors.New("forge rate_per_second and max_retries must not be negative")
	}
	if cfg.Server.Addr == "" {
		return errors.New("server addr is required")
	}
	return nil
}

// MatchOptions returns the matcher settings.
func (c *Config) MatchOptions() match.Options {
	return c.Match
}

// InterdiffOptions returns the rebase-diff settings.
func (c *Config) InterdiffOptions() interdiff.Options {
	return interdiff.Options{Target: interdiff.Target(c.Interdiff.Target), Workers: c.Interdiff.Workers}
}

// ExtractorOptions returns the change-id settings.
func (c *Config) ExtractorOptions() changeid.Options {
	return changeid.Options{Header: c.ChangeID.Header, Pattern: c.ChangeID.Pattern}
}

// ForgeOptions returns the forge client settings. Without a configured
// token the forge's usual environment variable is used.
func (c *Config) ForgeOptions(kind forge.Kind) forge.Options {
	token := c.Forge.Token
	if token == "" {
		switch kind {
		case forge.KindGitHub:
			token = os.Getenv("GITHUB_TOKEN")
		case forge.KindBitbucket:
			token = os.Getenv("BITBUCKET_TOKEN")
		}
	}
	return forge.Options{
		Token:         token,
		RatePerSecond: c.Forge.RatePerSecond,
		MaxRetries:    c.Forge.MaxRetries,
	}
}
