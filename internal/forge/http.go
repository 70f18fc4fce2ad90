package forge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/kurobon/interdiff/internal/retry"
	"github.com/kurobon/interdiff/internal/vcs"
)

const userAgent = "interdiff"

// StatusError is a non-success response from a forge API.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// apiClient is the shared JSON-over-HTTP plumbing of the forge clients.
type apiClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	retry      retry.Config
	token      string
}

func newAPIClient(opts Options) *apiClient {
	def := DefaultOptions()
	if opts.RatePerSecond <= 0 {
		opts.RatePerSecond = def.RatePerSecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	rc := retry.DefaultConfig()
	rc.MaxRetries = opts.MaxRetries
	return &apiClient{
		httpClient: hc,
		limiter:    rate.NewLimiter(rate.Limit(opts.RatePerSecond), 5),
		retry:      rc,
		token:      opts.Token,
	}
}

// doJSON sends body (if any) as JSON and decodes the response into out.
// Authentication and not-found responses fail at once; other failures are
// retried. Errors that survive the retries wrap vcs.ErrUnavailable.
func (c *apiClient) doJSON(ctx context.Context, method, url string, body, out any) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
	}

	_, err := retry.Do(ctx, c.retry, method+" "+url, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		return c.once(ctx, method, url, payload, out)
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%w: %s %s: %v", vcs.ErrUnavailable, method, url, err)
}

func (c *apiClient) once(ctx context.Context, method, url string, payload []byte, out any) error {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return retry.Permanent(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		serr := &StatusError{StatusCode: resp.StatusCode, Body: string(bytes.TrimSpace(msg))}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
			return serr
		default:
			return retry.Permanent(serr)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return retry.Permanent(fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}
