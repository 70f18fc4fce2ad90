// Package forge reads the push history of a pull request from its hosting
// service.
package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kurobon/interdiff/internal/timeline"
	"github.com/kurobon/interdiff/internal/vcs"
)

// Push is one pushed state of a pull request. Head and Base are commit ids
// or, for Static, revisions to resolve locally. Commits is empty when the
// forge only reports the head; the commits are then derived from Head and
// Base.
type Push struct {
	PushedAt time.Time `json:"pushedAt"`
	Head     string    `json:"head"`
	Base     string    `json:"base,omitempty"`
	Commits  []string  `json:"commits,omitempty"`
}

// Client returns the pushes of one pull request, oldest first.
type Client interface {
	History(ctx context.Context) ([]Push, error)
}

// Kind names a forge implementation.
type Kind string

const (
	KindStatic    Kind = "static"
	KindGitHub    Kind = "github"
	KindBitbucket Kind = "bitbucket"
)

// Options configures the HTTP-backed clients.
type Options struct {
	Token         string
	RatePerSecond float64
	MaxRetries    int
	// APIURL overrides the API endpoint (GitHub GraphQL URL or Bitbucket
	// host).
	APIURL     string
	HTTPClient *http.Client
}

// DefaultOptions returns five requests per second and three retries.
func DefaultOptions() Options {
	return Options{RatePerSecond: 5, MaxRetries: 3}
}

// NewClient returns the client for a pull request URL. An empty kind is
// detected from the host.
func NewClient(kind Kind, prURL string, opts Options) (Client, error) {
	if kind == "" {
		detected, err := DetectKind(prURL)
		if err != nil {
			return nil, err
		}
		kind = detected
	}

	switch kind {
	case KindGitHub:
		return NewGitHub(prURL, opts)
	case KindBitbucket:
		return NewBitbucket(prURL, opts)
	case KindStatic:
		return nil, fmt.Errorf("static forge takes explicit refs, not a pull request url")
	default:
		return nil, fmt.Errorf("unsupported forge kind %q", kind)
	}
}

// DetectKind guesses the forge from the host of a pull request URL.
func DetectKind(prURL string) (Kind, error) {
	u, err := url.Parse(strings.TrimSpace(prURL))
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com"):
		return KindGitHub, nil
	case strings.Contains(host, "bitbucket"):
		return KindBitbucket, nil
	}
	return "", fmt.Errorf("unsupported forge host %q", host)
}

// Resolver turns a revision into a commit id.
type Resolver func(rev string) (vcs.Hash, error)

// HashResolver parses full hex ids without consulting a repository.
func HashResolver(rev string) (vcs.Hash, error) {
	if len(rev) != 40 {
		return vcs.ZeroHash, fmt.Errorf("not a full commit id: %q", rev)
	}
	h := vcs.NewHash(rev)
	if h.IsZero() {
		return vcs.ZeroHash, fmt.Errorf("not a commit id: %q", rev)
	}
	return h, nil
}

// Iterations converts pushes into timeline input.
func Iterations(pushes []Push, resolve Resolver) ([]timeline.Iteration, error) {
	its := make([]timeline.Iteration, 0, len(pushes))
	for i, p := range pushes {
		it := timeline.Iteration{PushedAt: p.PushedAt}

		var err error
		if it.Head, err = resolve(p.Head); err != nil {
			return nil, fmt.Errorf("push %d head: %w", i, err)
		}
		if p.Base != "" {
			if it.Base, err = resolve(p.Base); err != nil {
				return nil, fmt.Errorf("push %d base: %w", i, err)
			}
		}
		for _, c := range p.Commits {
			h, err := resolve(c)
			if err != nil {
				return nil, fmt.Errorf("push %d commit: %w", i, err)
			}
			it.Commits = append(it.Commits, h)
		}
		its = append(its, it)
	}
	return its, nil
}
