package forge

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const bitbucketPageSize = 50

// Bitbucket reads RESCOPED activities of a Bitbucket Server pull request.
type Bitbucket struct {
	Host    string
	Project string
	Repo    string
	ID      int

	api *apiClient
}

// ParseBitbucketURL splits
// https://<host>/projects/<p>/repos/<r>/pull-requests/<id>[/...].
func ParseBitbucketURL(prURL string) (host, project, repo string, id int, err error) {
	u, err := url.Parse(strings.TrimSpace(prURL))
	if err != nil {
		return "", "", "", 0, fmt.Errorf("failed to parse URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", "", 0, fmt.Errorf("invalid Bitbucket pull request URL: %s", prURL)
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+5 < len(parts); i++ {
		if parts[i] != "projects" || parts[i+2] != "repos" || parts[i+4] != "pull-requests" {
			continue
		}
		id, err = strconv.Atoi(parts[i+5])
		if err != nil || id <= 0 {
			return "", "", "", 0, fmt.Errorf("invalid pull request id in %s", prURL)
		}
		prefix := strings.Join(parts[:i], "/")
		host = u.Scheme + "://" + u.Host
		if prefix != "" {
			host += "/" + prefix
		}
		return host, parts[i+1], parts[i+3], id, nil
	}
	return "", "", "", 0, fmt.Errorf("invalid Bitbucket pull request URL: %s", prURL)
}

// NewBitbucket returns a client for a Bitbucket Server pull request URL.
// Options.APIURL replaces the host part.
func NewBitbucket(prURL string, opts Options) (*Bitbucket, error) {
	host, project, repo, id, err := ParseBitbucketURL(prURL)
	if err != nil {
		return nil, err
	}
	if opts.APIURL != "" {
		host = strings.TrimSuffix(opts.APIURL, "/")
	}
	return &Bitbucket{
		Host:    host,
		Project: project,
		Repo:    repo,
		ID:      id,
		api:     newAPIClient(opts),
	}, nil
}

type bitbucketRef struct {
	LatestCommit string `json:"latestCommit"`
}

type bitbucketPullRequest struct {
	CreatedDate int64        `json:"createdDate"`
	FromRef     bitbucketRef `json:"fromRef"`
	ToRef       bitbucketRef `json:"toRef"`
}

type bitbucketActivity struct {
	Action           string `json:"action"`
	CreatedDate      int64  `json:"createdDate"`
	FromHash         string `json:"fromHash"`
	PreviousFromHash string `json:"previousFromHash"`
	ToHash           string `json:"toHash"`
	PreviousToHash   string `json:"previousToHash"`
}

type bitbucketActivityPage struct {
	IsLastPage    bool                `json:"isLastPage"`
	Start         int                 `json:"start"`
	Limit         int                 `json:"limit"`
	NextPageStart *int                `json:"nextPageStart"`
	Values        []bitbucketActivity `json:"values"`
}

func (b *Bitbucket) prURL() string {
	return fmt.Sprintf("%s/rest/api/latest/projects/%s/repos/%s/pull-requests/%d",
		b.Host, url.PathEscape(b.Project), url.PathEscape(b.Repo), b.ID)
}

// History returns the pushes recorded by RESCOPED activities, oldest first.
// Activities come newest first; the oldest one also yields the initial
// push from its previous hashes.
func (b *Bitbucket) History(ctx context.Context) ([]Push, error) {
	var pr bitbucketPullRequest
	if err := b.api.doJSON(ctx, http.MethodGet, b.prURL(), nil, &pr); err != nil {
		return nil, err
	}

	var rescoped []bitbucketActivity
	start := 0
	for {
		var page bitbucketActivityPage
		u := fmt.Sprintf("%s/activities?start=%d&limit=%d", b.prURL(), start, bitbucketPageSize)
		if err := b.api.doJSON(ctx, http.MethodGet, u, nil, &page); err != nil {
			return nil, err
		}
		for _, a := range page.Values {
			if a.Action == "RESCOPED" && a.FromHash != "" {
				rescoped = append(rescoped, a)
			}
		}
		if page.IsLastPage || len(page.Values) == 0 {
			break
		}
		next := page.Start + page.Limit
		if page.NextPageStart != nil {
			next = *page.NextPageStart
		}
		if next <= start {
			break
		}
		start = next
	}

	pushes := bitbucketPushes(pr, rescoped)
	log.Debug().
		Str("repo", b.Project+"/"+b.Repo).
		Int("pr", b.ID).
		Int("rescoped", len(rescoped)).
		Int("pushes", len(pushes)).
		Msg("Fetched Bitbucket push history")
	return pushes, nil
}

// bitbucketPushes turns newest-first activities into oldest-first pushes.
// A rescope that only moved the target branch repeats the head and is
// dropped.
func bitbucketPushes(pr bitbucketPullRequest, newestFirst []bitbucketActivity) []Push {
	var pushes []Push
	add := func(p Push) {
		if n := len(pushes); n > 0 && pushes[n-1].Head == p.Head {
			pushes[n-1].Base = p.Base
			return
		}
		pushes = append(pushes, p)
	}

	for i := len(newestFirst) - 1; i >= 0; i-- {
		a := newestFirst[i]
		if len(pushes) == 0 && a.PreviousFromHash != "" {
			add(Push{PushedAt: millis(pr.CreatedDate), Head: a.PreviousFromHash, Base: a.PreviousToHash})
		}
		add(Push{PushedAt: millis(a.CreatedDate), Head: a.FromHash, Base: a.ToHash})
	}

	if head := pr.FromRef.LatestCommit; head != "" {
		if n := len(pushes); n == 0 {
			add(Push{PushedAt: millis(pr.CreatedDate), Head: head, Base: pr.ToRef.LatestCommit})
		} else if pushes[n-1].Head != head {
			add(Push{PushedAt: pushes[n-1].PushedAt, Head: head, Base: pr.ToRef.LatestCommit})
		}
	}
	return pushes
}

func millis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
