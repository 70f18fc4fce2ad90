// Package changeid reads the logical change identifier that change-based
// tools (jj, gerrit-style workflows) record in a commit header.
package changeid

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kurobon/interdiff/internal/vcs"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultHeader is the commit header carrying the change id.
	DefaultHeader = "change-id"
	// DefaultPattern accepts the ids jj and Gerrit write.
	DefaultPattern = `^[A-Za-z0-9][A-Za-z0-9._-]{0,127}$`
)

// ErrMalformed is returned by Validate for values that are not usable ids.
// Extraction never returns it.
var ErrMalformed = errors.New("malformed change id")

var defaultPattern = regexp.MustCompile(DefaultPattern)

// Options configures an Extractor.
type Options struct {
	Header  string
	Pattern string
}

// Extractor reads and validates change ids.
type Extractor struct {
	Header  string
	Pattern *regexp.Regexp
}

// New builds an Extractor, falling back to the defaults for empty options.
func New(opts Options) (*Extractor, error) {
	e := &Extractor{Header: opts.Header, Pattern: defaultPattern}
	if e.Header == "" {
		e.Header = DefaultHeader
	}
	if opts.Pattern != "" {
		re, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid change id pattern: %w", err)
		}
		e.Pattern = re
	}
	return e, nil
}

// Default returns an Extractor with the default header and pattern.
func Default() *Extractor {
	return &Extractor{Header: DefaultHeader, Pattern: defaultPattern}
}

// Validate reports whether value is a well-formed id.
func (e *Extractor) Validate(value string) error {
	re := e.Pattern
	if re == nil {
		re = defaultPattern
	}
	if !re.MatchString(value) {
		return fmt.Errorf("%w: %q", ErrMalformed, value)
	}
	return nil
}

// Validate checks value against the default pattern.
func Validate(value string) error {
	return Default().Validate(value)
}

// Extract returns the change id of commit id. A missing, empty or malformed
// header yields ok == false; only backend errors are returned.
func (e *Extractor) Extract(ctx context.Context, r vcs.Reader, id vcs.Hash) (string, bool, error) {
	raw, ok, err := r.ReadHeaderField(ctx, id, e.Header)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return "", false, nil
	}
	if err := e.Validate(value); err != nil {
		log.Warn().Err(err).Str("commit", vcs.Short(id)).Str("header", e.Header).Msg("ignoring change id")
		return "", false, nil
	}
	return value, true, nil
}

type cached struct {
	id string
	ok bool
}

// Cache memoizes extraction results per commit. Commits are immutable, so
// entries never expire. Safe for concurrent use.
type Cache struct {
	extractor *Extractor
	entries   sync.Map // vcs.Hash -> cached
}

// NewCache wraps e with a per-commit cache.
func NewCache(e *Extractor) *Cache {
	return &Cache{extractor: e}
}

// Extract behaves like Extractor.Extract. Errors are not cached.
func (c *Cache) Extract(ctx context.Context, r vcs.Reader, id vcs.Hash) (string, bool, error) {
	if v, found := c.entries.Load(id); found {
		e := v.(cached)
		return e.id, e.ok, nil
	}

	value, ok, err := c.extractor.Extract(ctx, r, id)
	if err != nil {
		return "", false, err
	}
	c.entries.Store(id, cached{id: value, ok: ok})
	return value, ok, nil
}

// Len returns the number of cached commits.
func (c *Cache) Len() int {
	n := 0
	c.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
