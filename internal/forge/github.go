package forge

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	githubGraphQLURL = "https://api.github.com/graphql"
	githubPageSize   = 25
)

var githubPRPattern = regexp.MustCompile(`github\.com[/:]([^/]+)/([^/]+)/pull/(\d+)/?$`)

// GitHub reads force-push events of a pull request over the GraphQL API.
type GitHub struct {
	Owner  string
	Repo   string
	Number int

	endpoint string
	api      *apiClient
}

// ParseGitHubURL splits https://github.com/<owner>/<repo>/pull/<n>.
func ParseGitHubURL(prURL string) (owner, repo string, number int, err error) {
	prURL = strings.TrimSpace(prURL)
	prURL = strings.SplitN(prURL, "#", 2)[0]
	prURL = strings.SplitN(prURL, "?", 2)[0]

	m := githubPRPattern.FindStringSubmatch(prURL)
	if len(m) != 4 {
		return "", "", 0, fmt.Errorf("invalid GitHub pull request URL: %s", prURL)
	}
	number, err = strconv.Atoi(m[3])
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid pull request number in %s", prURL)
	}
	return m[1], strings.TrimSuffix(m[2], ".git"), number, nil
}

// NewGitHub returns a client for a GitHub pull request URL.
func NewGitHub(prURL string, opts Options) (*GitHub, error) {
	owner, repo, number, err := ParseGitHubURL(prURL)
	if err != nil {
		return nil, err
	}
	endpoint := opts.APIURL
	if endpoint == "" {
		endpoint = githubGraphQLURL
	}
	return &GitHub{
		Owner:    owner,
		Repo:     repo,
		Number:   number,
		endpoint: endpoint,
		api:      newAPIClient(opts),
	}, nil
}

const githubTimelineQuery = `query($owner: String!, $repo: String!, $number: Int!, $limit: Int!, $cursor: String) {
  repository(owner: $owner, name: $repo) {
    pullRequest(number: $number) {
      createdAt
      baseRefOid
      headRefOid
      timelineItems(last: $limit, before: $cursor, itemTypes: [HEAD_REF_FORCE_PUSHED_EVENT]) {
        pageInfo { hasPreviousPage startCursor }
        edges {
          node {
            ... on HeadRefForcePushedEvent {
              createdAt
              beforeCommit { oid }
              afterCommit { oid }
            }
          }
        }
      }
    }
  }
}`

type graphQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type githubOID struct {
	OID string `json:"oid"`
}

type githubForcePush struct {
	CreatedAt    time.Time  `json:"createdAt"`
	BeforeCommit *githubOID `json:"beforeCommit"`
	AfterCommit  *githubOID `json:"afterCommit"`
}

type githubTimelineResponse struct {
	Data struct {
		Repository *struct {
			PullRequest *struct {
				CreatedAt     time.Time `json:"createdAt"`
				BaseRefOid    string    `json:"baseRefOid"`
				HeadRefOid    string    `json:"headRefOid"`
				TimelineItems struct {
					PageInfo struct {
						HasPreviousPage bool   `json:"hasPreviousPage"`
						StartCursor     string `json:"startCursor"`
					} `json:"pageInfo"`
					Edges []struct {
						Node githubForcePush `json:"node"`
					} `json:"edges"`
				} `json:"timelineItems"`
			} `json:"pullRequest"`
		} `json:"repository"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// History pages the force-push timeline from newest to oldest. The first
// push is the "before" commit of the oldest event; a head that moved after
// the last force-push by a regular push is appended. Bases are left empty
// and later derived from the pull request's current base.
func (g *GitHub) History(ctx context.Context) ([]Push, error) {
	var (
		pages   [][]githubForcePush
		cursor  *string
		created time.Time
		base    string
		head    string
	)

	for {
		var resp githubTimelineResponse
		req := graphQLRequest{
			Query: githubTimelineQuery,
			Variables: map[string]any{
				"owner":  g.Owner,
				"repo":   g.Repo,
				"number": g.Number,
				"limit":  githubPageSize,
				"cursor": cursor,
			},
		}
		if err := g.api.doJSON(ctx, http.MethodPost, g.endpoint, req, &resp); err != nil {
			return nil, err
		}
		if len(resp.Errors) > 0 {
			return nil, fmt.Errorf("github graphql: %s", resp.Errors[0].Message)
		}
		if resp.Data.Repository == nil || resp.Data.Repository.PullRequest == nil {
			return nil, fmt.Errorf("pull request %s/%s#%d not found", g.Owner, g.Repo, g.Number)
		}

		pr := resp.Data.Repository.PullRequest
		created, base, head = pr.CreatedAt, pr.BaseRefOid, pr.HeadRefOid

		page := make([]githubForcePush, 0, len(pr.TimelineItems.Edges))
		for _, e := range pr.TimelineItems.Edges {
			if e.Node.AfterCommit == nil {
				continue
			}
			page = append(page, e.Node)
		}
		pages = append(pages, page)

		info := pr.TimelineItems.PageInfo
		if !info.HasPreviousPage || info.StartCursor == "" {
			break
		}
		c := info.StartCursor
		cursor = &c
	}

	var events []githubForcePush
	for i := len(pages) - 1; i >= 0; i-- {
		events = append(events, pages[i]...)
	}

	pushes := githubPushes(created, head, events)
	for i := range pushes {
		pushes[i].Base = base
	}

	log.Debug().
		Str("repo", g.Owner+"/"+g.Repo).
		Int("pr", g.Number).
		Int("force_pushes", len(events)).
		Int("pushes", len(pushes)).
		Msg("Fetched GitHub push history")
	return pushes, nil
}

func githubPushes(created time.Time, head string, events []githubForcePush) []Push {
	var pushes []Push
	if len(events) > 0 && events[0].BeforeCommit != nil {
		pushes = append(pushes, Push{PushedAt: created, Head: events[0].BeforeCommit.OID})
	}
	for _, e := range events {
		pushes = append(pushes, Push{PushedAt: e.CreatedAt, Head: e.AfterCommit.OID})
	}
	if head != "" && (len(pushes) == 0 || pushes[len(pushes)-1].Head != head) {
		at := created
		if n := len(pushes); n > 0 {
			at = pushes[n-1].PushedAt
		}
		pushes = append(pushes, Push{PushedAt: at, Head: head})
	}
	return pushes
}
