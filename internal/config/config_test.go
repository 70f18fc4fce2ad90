package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurobon/interdiff/internal/forge"
	"github.com/kurobon/interdiff/internal/interdiff"
	"github.com/kurobon/interdiff/internal/match"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "interdiff.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ".", cfg.Repo.Path)
	assert.Equal(t, "origin", cfg.Repo.Remote)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, match.DefaultOptions(), cfg.MatchOptions())
	assert.Equal(t, interdiff.DefaultOptions(), cfg.InterdiffOptions())
	assert.Equal(t, 3, cfg.Interdiff.ContextLines)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.NoError(t, Validate(cfg))
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
[match]
threshold = 0.7
time_half_life = "30m"

[interdiff]
target = "base"

[forge]
kind = "github"
url = "https://github.com/o/r/pull/1"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 0.7, cfg.Match.Threshold)
	assert.Equal(t, 30*time.Minute, cfg.Match.TimeHalfLife)
	assert.Equal(t, 0.5, cfg.Match.AuthorWeight)
	assert.Equal(t, interdiff.TargetBase, cfg.InterdiffOptions().Target)
	assert.Equal(t, "github", cfg.Forge.Kind)
	assert.NoError(t, Validate(cfg))
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, "[match]\nthreshold = 0.7\n")
	t.Setenv("INTERDIFF_MATCH_THRESHOLD", "0.9")
	t.Setenv("INTERDIFF_MATCH_AUTHOR_WEIGHT", "0.25")
	t.Setenv("INTERDIFF_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.9, cfg.Match.Threshold)
	assert.Equal(t, 0.25, cfg.Match.AuthorWeight)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "interdiff.toml")
	require.NoError(t, InitConfig(path))
	assert.Error(t, InitConfig(path))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NoError(t, Validate(cfg))
	assert.Equal(t, Default().Match, cfg.Match)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"negative weight", func(c *Config) { c.Match.TimeWeight = -1 }},
		{"zero weights", func(c *Config) { c.Match.AuthorWeight, c.Match.TimeWeight, c.Match.ContentWeight = 0, 0, 0 }},
		{"threshold", func(c *Config) { c.Match.Threshold = 1.5 }},
		{"target", func(c *Config) { c.Interdiff.Target = "merge-base" }},
		{"interdiff workers", func(c *Config) { c.Interdiff.Workers = 0 }},
		{"timeline workers", func(c *Config) { c.Timeline.Workers = 0 }},
		{"context lines", func(c *Config) { c.Interdiff.ContextLines = -1 }},
		{"pattern", func(c *Config) { c.ChangeID.Pattern = "([" }},
		{"forge kind", func(c *Config) { c.Forge.Kind = "gerrit" }},
		{"forge retries", func(c *Config) { c.Forge.MaxRetries = -1 }},
		{"addr", func(c *Config) { c.Server.Addr = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
	assert.Error(t, Validate(nil))
}

func TestForgeOptions(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "gh")
	t.Setenv("BITBUCKET_TOKEN", "bb")

	cfg := Default()
	assert.Equal(t, "gh", cfg.ForgeOptions(forge.KindGitHub).Token)
	assert.Equal(t, "bb", cfg.ForgeOptions(forge.KindBitbucket).Token)
	assert.Equal(t, 3, cfg.ForgeOptions(forge.KindGitHub).MaxRetries)

	cfg.Forge.Token = "explicit"
	assert.Equal(t, "explicit", cfg.ForgeOptions(forge.KindGitHub).Token)
}

func TestExtractorOptions(t *testing.T) {
	cfg := Default()
	opts := cfg.ExtractorOptions()
	assert.Equal(t, "change-id", opts.Header)
	assert.NotEmpty(t, opts.Pattern)
}
