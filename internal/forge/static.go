package forge

import (
	"context"
	"errors"
)

// Static is a fixed history of heads on one base, e.g. from --from/--to.
type Static struct {
	Base  string
	Heads []string
}

// NewStatic returns a Static history with one push per head.
func NewStatic(base string, heads ...string) *Static {
	return &Static{Base: base, Heads: heads}
}

func (s *Static) History(ctx context.Context) ([]Push, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.Heads) == 0 {
		return nil, errors.New("static history has no heads")
	}
	pushes := make([]Push, 0, len(s.Heads))
	for _, h := range s.Heads {
		pushes = append(pushes, Push{Head: h, Base: s.Base})
	}
	return pushes, nil
}
