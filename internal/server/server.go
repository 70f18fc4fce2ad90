// Package server exposes timelines as JSON over HTTP for external
// presenters.
package server

import (
	"context"
	"net/http"

	"github.com/kurobon/interdiff/internal/forge"
	"github.com/kurobon/interdiff/internal/timeline"
)

// ForgeFactory returns the history client of a pull request URL.
type ForgeFactory func(kind forge.Kind, url string) (forge.Client, error)

// TimelineBuilder builds a timeline from iterations.
type TimelineBuilder interface {
	Build(ctx context.Context, its []timeline.Iteration) (*timeline.Timeline, error)
}

type Server struct {
	Builder TimelineBuilder
	Resolve forge.Resolver
	// Forges resolves pull request URLs; nil disables them.
	Forges ForgeFactory
	Mux    *http.ServeMux
}

func NewServer(b TimelineBuilder, resolve forge.Resolver, forges ForgeFactory) *Server {
	if resolve == nil {
		resolve = forge.HashResolver
	}
	s := &Server{
		Builder: b,
		Resolve: resolve,
		Forges:  forges,
		Mux:     http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Mux.HandleFunc("/ping", s.handlePing)
	s.Mux.HandleFunc("/api/timeline", s.handleTimeline)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Mux.ServeHTTP(w, r)
}
