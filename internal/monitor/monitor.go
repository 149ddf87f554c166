// Package monitor drives a single scan: want-list releases in, qualifying
// feed entries out.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kdhayes/cratewatch/internal/deals"
	"github.com/kdhayes/cratewatch/internal/discogs"
	"github.com/kdhayes/cratewatch/internal/feed"
	"github.com/kdhayes/cratewatch/internal/market"
	"github.com/kdhayes/cratewatch/internal/render"
	"github.com/kdhayes/cratewatch/internal/sqlite"
	"github.com/kdhayes/cratewatch/logger"
)

// ListingFetcher is the slice of the API client the scan needs.
type ListingFetcher interface {
	FetchListing(ctx context.Context, listingID int, release discogs.Release) (discogs.Listing, error)
}

// ListingScanner walks the marketplace feed for one release.
type ListingScanner interface {
	ListingsForRelease(ctx context.Context, releaseID int, since time.Time, fn func(market.Entry) error) error
}

// WantSource provides the cached want-list.
type WantSource interface {
	Get(ctx context.Context, refresh bool) ([]discogs.WantlistItem, error)
}

// Monitor runs the scan on a single logical thread: every remote call
// queues behind the one shared rate limiter, so there is nothing to gain
// from parallelism here.
type Monitor struct {
	api      ListingFetcher
	feeds    ListingScanner
	wants    WantSource
	repo     sqlite.Repo
	criteria deals.Criteria

	// budget bounds the scan wall-clock time; it is checked only between
	// releases, never preempting an in-flight retry. Zero means no bound.
	budget time.Duration
}

func New(api ListingFetcher, feeds ListingScanner, wants WantSource, repo sqlite.Repo, criteria deals.Criteria, budget time.Duration) *Monitor {
	return &Monitor{
		api:      api,
		feeds:    feeds,
		wants:    wants,
		repo:     repo,
		criteria: criteria,
		budget:   budget,
	}
}

// Run scans want-list releases for qualifying listings newer than since.
// The returned entries are valid even when err is non-nil: a scan cut short
// by an error, the time budget or cancellation still reports everything
// accepted so far, and the release cursor is persisted either way so the
// next run resumes instead of restarting.
func (m *Monitor) Run(ctx context.Context, since time.Time, refresh bool) (entries []feed.Entry, err error) {
	last, err := m.repo.Cursor(ctx, sqlite.CursorLastRelease, 0)
	if err != nil {
		return nil, err
	}

	defer func() {
		pctx := context.WithoutCancel(ctx)
		if serr := m.repo.SetCursor(pctx, sqlite.CursorLastRelease, last); serr != nil {
			slog.Error("error persisting scan cursor", "error", serr)
		}
		slog.Info("scan stopped", "accepted", len(entries), "next_release", last)
	}()

	wants, err := m.wants.Get(ctx, refresh)
	if err != nil {
		return entries, err
	}

	pending, err := m.repo.Wants(ctx, sqlite.WantFilter{AfterRelease: last})
	if err != nil {
		return entries, err
	}
	slog.InfoContext(ctx, "starting scan", "wants", len(wants), "pending", len(pending), "since", since)

	start := time.Now()
	for _, want := range pending {
		wctx := logger.Ctx(ctx, slog.Int("release_id", want.Release.ID))

		accepted, serr := m.scanRelease(wctx, want.Release, since)
		entries = append(entries, accepted...)
		if serr != nil {
			return entries, serr
		}

		last = want.Release.ID

		if err := ctx.Err(); err != nil {
			return entries, err
		}
		if m.budget > 0 && time.Since(start) > m.budget {
			slog.InfoContext(ctx, "time budget exhausted", "elapsed", time.Since(start))
			return entries, nil
		}
	}

	// Walked the whole want-list; the next run starts at the top.
	slog.InfoContext(ctx, "finished checking wantlist")
	last = 0

	return entries, nil
}

// scanRelease walks the marketplace feed for one release and evaluates
// every listing newer than since. Per-listing failures are skipped with a
// diagnostic so one bad listing never sinks the rest of the scan.
func (m *Monitor) scanRelease(ctx context.Context, release discogs.Release, since time.Time) ([]feed.Entry, error) {
	var accepted []feed.Entry

	err := m.feeds.ListingsForRelease(ctx, release.ID, since, func(e market.Entry) error {
		// The feed summary names the seller; skipping blocked sellers
		// here saves the listing fetch entirely.
		if u := e.SellerUsername(); u != "" && m.criteria.BlockedSellers[u] {
			slog.DebugContext(ctx, "skipping blocked seller", "seller", u)
			return nil
		}

		listingID, err := e.ListingID()
		if err != nil {
			slog.DebugContext(ctx, "skipping feed entry", "error", err)
			return nil
		}

		listing, err := m.api.FetchListing(ctx, listingID, release)
		if err != nil {
			switch {
			case discogs.IsValidation(err):
				slog.DebugContext(ctx, "skipping listing", "listing_id", listingID, "error", err)
				return nil
			case isRemote(err):
				slog.ErrorContext(ctx, "listing fetch failed, skipping", "listing_id", listingID, "error", err)
				return nil
			default:
				return err
			}
		}

		if !m.criteria.Meets(listing) {
			slog.DebugContext(ctx, "rejected listing", "listing_id", listing.ID)
			return nil
		}

		slog.InfoContext(ctx, "accepted listing",
			"listing_id", listing.ID,
			"seller", listing.Seller.Username,
			"discount", deals.Discount(listing, m.criteria.StandardShipping),
		)
		accepted = append(accepted, feed.Entry{
			ID:      fmt.Sprintf("https://www.discogs.com/sell/item/%d", listing.ID),
			Title:   release.Description(),
			Updated: listing.Posted,
			Link:    listing.URI,
			Content: render.Summary(listing, m.criteria.StandardShipping),
		})

		return nil
	})

	return accepted, err
}

func isRemote(err error) bool {
	_, ok := discogs.AsRemoteError(err)
	return ok
}
