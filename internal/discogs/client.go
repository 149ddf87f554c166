package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"
)

const (
	apiRoot = "https://api.discogs.com"

	// The API advertises how many calls remain in the current window.
	// Below the low-water mark we cool down before the next call rather
	// than waiting to be rejected.
	remainingHeader = "X-Discogs-Ratelimit-Remaining"
	quotaLowWater   = 2
	quotaCooldown   = 10 * time.Second

	maxAttempts  = 5
	retryBackoff = 10 * time.Second

	releaseCacheSize = 512
)

// Client is a rate-limited Discogs API client. All calls queue behind the
// injected limiter, which is shared across every component that talks to
// the remote, so the client must not be driven from multiple goroutines.
type Client struct {
	http    *http.Client
	limiter *rate.Limiter
	token   string
	root    string

	cooldownUntil time.Time

	// Wait durations, fields so tests can shrink them.
	retryWait    time.Duration
	pageWait     time.Duration
	cooldownWait time.Duration

	// Releases are immutable once fetched, so re-walking a page after a
	// resume can reuse them instead of spending quota again.
	releases *lru.Cache[int, Release]
}

// NewClient builds a client around the shared limiter. The token is sent on
// every request as a Discogs personal-access token.
func NewClient(httpClient *http.Client, limiter *rate.Limiter, token string) *Client {
	releases, _ := lru.New[int, Release](releaseCacheSize)
	return &Client{
		http:         httpClient,
		limiter:      limiter,
		token:        token,
		root:         apiRoot,
		retryWait:    retryBackoff,
		pageWait:     pageCooldown,
		cooldownWait: quotaCooldown,
		releases:     releases,
	}
}

// SetRoot points the client at a different API root. Used by tests.
func (c *Client) SetRoot(root string) {
	c.root = root
}

// Call performs a single authenticated GET against the API and decodes the
// JSON response into v. 429s and transport errors are retried with a
// constant backoff up to the attempt budget; any other non-2xx status is
// surfaced immediately as a *RemoteError.
func (c *Client) Call(ctx context.Context, endpoint string, params url.Values, v any) error {
	u, err := c.buildURL(endpoint, params)
	if err != nil {
		return fmt.Errorf("error building url for %s: %w", endpoint, err)
	}

	var body []byte
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewConstant(c.retryWait))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if wait := time.Until(c.cooldownUntil); wait > 0 {
			slog.DebugContext(ctx, "quota low, cooling down", "wait", wait)
			if err := sleepCtx(ctx, wait); err != nil {
				return err
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Discogs token="+c.token)

		resp, err := c.http.Do(req)
		if err != nil {
			slog.DebugContext(ctx, "transport error, retrying", "url", u, "error", err)
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}

		if remaining, err := strconv.Atoi(resp.Header.Get(remainingHeader)); err == nil && remaining < quotaLowWater {
			c.cooldownUntil = time.Now().Add(c.cooldownWait)
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			body = b
			return nil
		case resp.StatusCode == http.StatusTooManyRequests:
			return retry.RetryableError(&RemoteError{
				StatusCode: resp.StatusCode,
				URL:        u,
				Body:       string(b),
			})
		default:
			return &RemoteError{
				StatusCode: resp.StatusCode,
				URL:        u,
				Body:       string(b),
			}
		}
	})
	if err != nil {
		if rerr, ok := AsRemoteError(err); ok {
			return rerr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &RemoteError{URL: u, Body: err.Error()}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return &RemoteError{URL: u, Body: fmt.Sprintf("bad response body: %s", err)}
	}

	return nil
}

func (c *Client) buildURL(endpoint string, params url.Values) (string, error) {
	raw := endpoint
	if len(raw) == 0 || raw[0] == '/' {
		raw = c.root + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// FetchPriceSuggestions returns the suggested price per condition grade
// for a release. Grades the API does not recognize are dropped.
func (c *Client) FetchPriceSuggestions(ctx context.Context, releaseID int) (map[Condition]float64, error) {
	var raw map[string]apiPrice
	if err := c.Call(ctx, fmt.Sprintf("/marketplace/price_suggestions/%d", releaseID), nil, &raw); err != nil {
		return nil, err
	}

	suggestions := make(map[Condition]float64, len(raw))
	for grade, price := range raw {
		condition, ok := ParseCondition(grade)
		if !ok || price.Value == nil {
			continue
		}
		suggestions[condition] = *price.Value
	}

	return suggestions, nil
}

// FetchRelease returns the release with its price suggestions, serving
// repeats from the in-process cache.
func (c *Client) FetchRelease(ctx context.Context, releaseID int) (Release, error) {
	if release, ok := c.releases.Get(releaseID); ok {
		return release, nil
	}

	var a apiRelease
	if err := c.Call(ctx, fmt.Sprintf("/releases/%d", releaseID), nil, &a); err != nil {
		return Release{}, err
	}

	suggestions, err := c.FetchPriceSuggestions(ctx, releaseID)
	if err != nil {
		return Release{}, err
	}

	release := releaseFromAPI(a, suggestions)
	c.releases.Add(releaseID, release)

	return release, nil
}

// FetchListing returns a fresh copy of the listing, attached to the given
// release. Listings are never cached: price and availability move.
func (c *Client) FetchListing(ctx context.Context, listingID int, release Release) (Listing, error) {
	var a apiListing
	if err := c.Call(ctx, fmt.Sprintf("/marketplace/listings/%d", listingID), nil, &a); err != nil {
		return Listing{}, err
	}

	return listingFromAPI(a, release)
}

// sleepCtx blocks for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
