package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/kurobon/interdiff/internal/forge"
	"github.com/kurobon/interdiff/internal/match"
	"github.com/kurobon/interdiff/internal/server"
	"github.com/kurobon/interdiff/internal/timeline"
	"github.com/kurobon/interdiff/internal/vcs"
)

// TimelineCommand returns the timeline command
func TimelineCommand() *cli.Command {
	return &cli.Command{
		Name:      "timeline",
		Usage:     "Compare consecutive pushes of a pull request",
		ArgsUsage: "[PR-URL]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Path to the local repository",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "Forge kind (github, bitbucket); detected from the URL when empty",
			},
			&cli.StringSliceFlag{
				Name:  "rev",
				Usage: "Head of one push, oldest first; repeat for every push",
			},
			&cli.StringFlag{
				Name:  "from",
				Usage: "Head of the older push (same as the first --rev)",
			},
			&cli.StringFlag{
				Name:  "to",
				Usage: "Head of the newer push (same as the last --rev)",
			},
			&cli.StringFlag{
				Name:  "base",
				Usage: "Base revision the pushes branch from",
				Value: "main",
			},
			&cli.BoolFlag{
				Name:  "fetch",
				Usage: "Fetch missing commits from the configured remote",
				Value: true,
			},
			&cli.StringFlag{
				Name:  "target",
				Usage: "Replay target (parent, base)",
			},
			&cli.BoolFlag{
				Name:  "summary",
				Usage: "Print one line per entry instead of JSON",
			},
		},
		Action: runTimeline,
	}
}

func runTimeline(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("repo") {
		cfg.Repo.Path = c.String("repo")
	}
	if c.IsSet("target") {
		cfg.Interdiff.Target = c.String("target")
		if err := cfg.InterdiffOptions().Validate(); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(cfg, c.Bool("fetch"))
	if err != nil {
		return err
	}

	client, err := historySource(c, cfg.Forge.URL)
	if err != nil {
		return err
	}
	resolve := forge.Resolver(eng.repo.ResolveRevision)
	if client == nil {
		client, err = forgeClient(cfg, forge.Kind(c.String("kind")), prURL(c, cfg.Forge.URL))
		if err != nil {
			return err
		}
		resolve = forge.HashResolver
	}

	pushes, err := client.History(ctx)
	if err != nil {
		return fmt.Errorf("failed to read push history: %w", err)
	}
	its, err := forge.Iterations(pushes, resolve)
	if err != nil {
		return err
	}

	tl, err := eng.builder.Build(ctx, its)
	if err != nil {
		return err
	}

	out := c.App.Writer
	if c.Bool("summary") {
		return writeSummary(out, tl)
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(server.NewTimelineView(tl))
}

func prURL(c *cli.Context, fallback string) string {
	if c.Args().Present() {
		return c.Args().First()
	}
	return fallback
}

// historySource returns a static history when revisions are given on the
// command line, or nil to use the forge.
func historySource(c *cli.Context, fallbackURL string) (forge.Client, error) {
	revs := c.StringSlice("rev")
	if from := c.String("from"); from != "" {
		revs = append([]string{from}, revs...)
	}
	if to := c.String("to"); to != "" {
		revs = append(revs, to)
	}

	switch {
	case len(revs) > 0 && c.Args().Present():
		return nil, errors.New("give either a pull request URL or revisions, not both")
	case len(revs) > 0:
		return forge.NewStatic(c.String("base"), revs...), nil
	case !c.Args().Present() && fallbackURL == "":
		return nil, errors.New("a pull request URL or --from/--to revisions are required")
	}
	return nil, nil
}

func writeSummary(w io.Writer, tl *timeline.Timeline) error {
	for _, p := range tl.Pairs {
		if _, err := fmt.Fprintf(w, "push %d -> %d\n", p.From, p.To); err != nil {
			return err
		}
		if p.Err != nil {
			if _, err := fmt.Fprintf(w, "  error: %s\n", p.Err); err != nil {
				return err
			}
			continue
		}
		for _, e := range p.Entries {
			if _, err := fmt.Fprintf(w, "  %s\n", summaryLine(e)); err != nil {
				return err
			}
		}
	}
	return nil
}

func summaryLine(e timeline.Entry) string {
	var line string
	switch e.Kind {
	case match.Matched:
		line = fmt.Sprintf("~ %s -> %s %s", vcs.Short(e.Old.Commit.ID), vcs.Short(e.New.Commit.ID), e.New.Commit.Title())
	case match.Added:
		line = fmt.Sprintf("+ %s %s", vcs.Short(e.New.Commit.ID), e.New.Commit.Title())
	case match.Removed:
		line = fmt.Sprintf("- %s %s", vcs.Short(e.Old.Commit.ID), e.Old.Commit.Title())
	}

	switch r := e.Interdiff; {
	case e.Unchanged():
		line += " (unchanged)"
	case r == nil:
	case r.ReplayFailed():
		line += fmt.Sprintf(" (replay failed: %s)", r.Failed)
	default:
		line += fmt.Sprintf(" (+%d -%d, %d files)", r.Stats.Additions, r.Stats.Removals, r.Stats.ChangedFiles)
	}
	return line
}
