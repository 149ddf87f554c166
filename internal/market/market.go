// Package market scans the Discogs marketplace listings feed for a release.
//
// The marketplace exposes new listings as a paginated Atom feed rather than
// a JSON endpoint, so this package drives the same rate limiter and retry
// policy as the API client over feed pages parsed with gofeed.
package market

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"github.com/kdhayes/cratewatch/internal/discogs"
)

const (
	wwwRoot = "https://www.discogs.com"

	feedPerPage  = 250
	maxAttempts  = 5
	retryBackoff = 10 * time.Second

	maxPageFailures = 5
	pageCooldown    = 10 * time.Second
)

// Entry is a single listing announcement from the marketplace feed. Only
// the listing id, timestamps and the summary line are carried; the full
// listing is fetched through the API when the entry survives pre-filtering.
type Entry struct {
	ID      string
	Title   string
	Updated time.Time
	Summary string
}

// ListingID extracts the numeric listing id from the entry's canonical URL.
func (e Entry) ListingID() (int, error) {
	parts := strings.Split(strings.TrimRight(e.ID, "/"), "/")
	id, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil || id == 0 {
		return 0, &discogs.ValidationError{Kind: "feed entry", Reason: fmt.Sprintf("no listing id in %q", e.ID)}
	}
	return id, nil
}

// SellerUsername recovers the seller from the feed summary line, which is
// formatted "<media> - <seller> - ...". Empty when the line doesn't match,
// in which case callers fall back to the full listing fetch.
func (e Entry) SellerUsername() string {
	parts := strings.Split(e.Summary, " - ")
	if len(parts) < 2 {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Feeds fetches marketplace feed pages through the shared rate limiter.
type Feeds struct {
	http    *http.Client
	limiter *rate.Limiter
	parser  *gofeed.Parser
	root    string

	// Wait durations, fields so tests can shrink them.
	retryWait time.Duration
	pageWait  time.Duration
}

// NewFeeds builds a feed scanner around the same limiter as the API client,
// since both spend the same remote quota.
func NewFeeds(httpClient *http.Client, limiter *rate.Limiter) *Feeds {
	return &Feeds{
		http:      httpClient,
		limiter:   limiter,
		parser:    gofeed.NewParser(),
		root:      wwwRoot,
		retryWait: retryBackoff,
		pageWait:  pageCooldown,
	}
}

// SetRoot points the scanner at a different host. Used by tests.
func (f *Feeds) SetRoot(root string) {
	f.root = root
}

// ListingsForRelease walks the listings feed for a release newest-first,
// invoking fn per entry. The walk stops at the first entry at or before
// since: the feed is ordered by recency, so everything past it is old news.
func (f *Feeds) ListingsForRelease(ctx context.Context, releaseID int, since time.Time, fn func(Entry) error) error {
	params := url.Values{}
	params.Set("release_id", strconv.Itoa(releaseID))

	return f.paginate(ctx, "/sell/mplistrss", params, since, fn)
}

func (f *Feeds) paginate(ctx context.Context, endpoint string, params url.Values, since time.Time, fn func(Entry) error) error {
	page := 1
	failures := 0

	for {
		feed, err := f.get(ctx, endpoint, params, page)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if failures > maxPageFailures {
				slog.WarnContext(ctx, "too many feed page failures, ending scan early", "endpoint", endpoint, "failures", failures)
				return nil
			}
			slog.ErrorContext(ctx, "feed page fetch failed, will retry", "endpoint", endpoint, "page", page, "error", err)
			if serr := sleepCtx(ctx, f.pageWait); serr != nil {
				return serr
			}
			continue
		}
		failures = 0

		if len(feed.Items) == 0 {
			return nil
		}

		for _, item := range feed.Items {
			entry := Entry{
				ID:      item.GUID,
				Title:   item.Title,
				Summary: item.Description,
			}
			if entry.ID == "" {
				entry.ID = item.Link
			}
			if item.UpdatedParsed != nil {
				entry.Updated = *item.UpdatedParsed
			} else if item.PublishedParsed != nil {
				entry.Updated = *item.PublishedParsed
			}

			// The feed is newest-first; the first entry at or
			// before the bound ends the whole walk.
			if !since.IsZero() && !entry.Updated.IsZero() && !entry.Updated.After(since) {
				return nil
			}

			if err := fn(entry); err != nil {
				return err
			}
		}

		page++
	}
}

// get fetches and parses a single feed page, retrying 429s and transport
// errors with a constant backoff up to the attempt budget.
func (f *Feeds) get(ctx context.Context, endpoint string, params url.Values, page int) (*gofeed.Feed, error) {
	u, err := url.Parse(f.root + endpoint)
	if err != nil {
		return nil, fmt.Errorf("error building feed url: %w", err)
	}
	q := u.Query()
	for k, vs := range params {
		q[k] = vs
	}
	q.Set("page", strconv.Itoa(page))
	q.Set("limit", strconv.Itoa(feedPerPage))
	u.RawQuery = q.Encode()

	var feed *gofeed.Feed
	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewConstant(f.retryWait))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return err
		}

		resp, err := f.http.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests:
			io.Copy(io.Discard, resp.Body)
			return retry.RetryableError(&discogs.RemoteError{StatusCode: resp.StatusCode, URL: u.String()})
		default:
			b, _ := io.ReadAll(resp.Body)
			return &discogs.RemoteError{StatusCode: resp.StatusCode, URL: u.String(), Body: string(b)}
		}

		parsed, err := f.parser.Parse(resp.Body)
		if err != nil {
			return &discogs.RemoteError{URL: u.String(), Body: fmt.Sprintf("bad feed page: %s", err)}
		}
		feed = parsed

		return nil
	})
	if err != nil {
		if rerr, ok := discogs.AsRemoteError(err); ok {
			return nil, rerr
		}
		return nil, err
	}

	return feed, nil
}

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
