package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/kurobon/interdiff/internal/forge"
	"github.com/kurobon/interdiff/internal/server"
)

// ServeCommand returns the command starting the JSON API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve timelines as JSON over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address",
			},
			&cli.StringFlag{
				Name:    "repo",
				Aliases: []string{"r"},
				Usage:   "Path to the local repository",
			},
			&cli.BoolFlag{
				Name:  "fetch",
				Usage: "Fetch missing commits from the configured remote",
				Value: true,
			},
		},
		Action: runServe,
	}
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}
	if c.IsSet("repo") {
		cfg.Repo.Path = c.String("repo")
	}

	eng, err := newEngine(cfg, c.Bool("fetch"))
	if err != nil {
		return err
	}

	forges := func(kind forge.Kind, url string) (forge.Client, error) {
		return forgeClient(cfg, kind, url)
	}
	// Pushes posted by clients name commits by hash or by local revision.
	srv := server.NewServer(eng.builder, eng.repo.ResolveRevision, forges)

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("repo", cfg.Repo.Path).Msg("Server listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}
