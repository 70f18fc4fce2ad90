package main

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/kurobon/interdiff/internal/changeid"
	"github.com/kurobon/interdiff/internal/config"
	"github.com/kurobon/interdiff/internal/forge"
	"github.com/kurobon/interdiff/internal/git"
	"github.com/kurobon/interdiff/internal/interdiff"
	"github.com/kurobon/interdiff/internal/logging"
	"github.com/kurobon/interdiff/internal/match"
	"github.com/kurobon/interdiff/internal/timeline"
)

// loadConfig reads the configuration, applies the global flags and sets up
// logging.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("log-level") {
		cfg.Log.Level = c.String("log-level")
	}
	if c.IsSet("pretty-log") {
		cfg.Log.Pretty = c.Bool("pretty-log")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logging.Setup(cfg.Log.Level, cfg.Log.Pretty, c.App.ErrWriter); err != nil {
		return nil, err
	}
	return cfg, nil
}

type engine struct {
	repo    *git.Repository
	builder *timeline.Builder
}

// newEngine opens the repository and wires the timeline builder. Missing
// objects are fetched from the configured remote.
func newEngine(cfg *config.Config, fetch bool) (*engine, error) {
	var opts []git.Option
	opts = append(opts, git.WithContextLines(cfg.Interdiff.ContextLines))
	if fetch {
		token := cfg.ForgeOptions(forge.Kind(cfg.Forge.Kind)).Token
		src := git.NewRemoteSource(cfg.Repo.Remote, token)
		src.Retry.MaxRetries = cfg.Forge.MaxRetries
		opts = append(opts, git.WithSource(src))
	}

	repo, err := git.Open(cfg.Repo.Path, opts...)
	if err != nil {
		return nil, err
	}

	ext, err := changeid.New(cfg.ExtractorOptions())
	if err != nil {
		return nil, err
	}

	return &engine{
		repo: repo,
		builder: &timeline.Builder{
			Backend:   repo,
			Extractor: changeid.NewCache(ext),
			Matcher:   match.New(cfg.MatchOptions(), interdiff.DiffSource(repo)),
			Computer:  interdiff.New(cfg.InterdiffOptions()),
			Workers:   cfg.Timeline.Workers,
		},
	}, nil
}

// forgeClient returns the history client of prURL, taking the token for
// the detected forge.
func forgeClient(cfg *config.Config, kind forge.Kind, prURL string) (forge.Client, error) {
	if kind == "" {
		kind = forge.Kind(cfg.Forge.Kind)
	}
	if kind == "" {
		detected, err := forge.DetectKind(prURL)
		if err != nil {
			return nil, err
		}
		kind = detected
	}
	return forge.NewClient(kind, prURL, cfg.ForgeOptions(kind))
}
