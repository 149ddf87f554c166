// Package wantlist maintains the durable, resumable want-list cache.
//
// Walking a large want-list costs one rate-limited API call per release, so
// a full refresh can take the better part of an hour. The cache makes that
// walk restartable: the page cursor is persisted as pages complete, and a
// run cut short by an error or a signal resumes at the page it died on
// instead of starting over.
package wantlist

import (
	"context"
	"log/slog"

	"github.com/kdhayes/cratewatch/internal/discogs"
	"github.com/kdhayes/cratewatch/internal/sqlite"
)

// Fetcher is the slice of the API client the cache needs.
type Fetcher interface {
	FetchWantlist(ctx context.Context, username string, firstPage int, fn func(page int, want discogs.WantlistItem) error) error
}

// Service reads the want-list through the cache, refreshing it from the
// remote only when empty or explicitly asked to.
type Service struct {
	repo     sqlite.Repo
	api      Fetcher
	username string
}

func New(repo sqlite.Repo, api Fetcher, username string) *Service {
	return &Service{repo: repo, api: api, username: username}
}

// Get returns the cached want-list ordered by release id ascending. An
// empty cache, an explicit refresh, or a page cursor left past page one by
// an interrupted fetch all drive a paginated fetch; the cursor starts the
// walk (page one when refreshing). Every successfully processed page is
// durable before the next begins, so a failure mid-fetch leaves the cursor
// at the failing page and the error still propagates.
func (s *Service) Get(ctx context.Context, refresh bool) ([]discogs.WantlistItem, error) {
	count, err := s.repo.CountWants(ctx)
	if err != nil {
		return nil, err
	}
	firstPage, err := s.repo.Cursor(ctx, sqlite.CursorWantlistPage, 1)
	if err != nil {
		return nil, err
	}
	if refresh {
		firstPage = 1
	}

	// A cursor past page one means the last fetch never completed.
	if count == 0 || refresh || firstPage > 1 {
		slog.InfoContext(ctx, "refreshing wantlist cache", "cached", count, "first_page", firstPage)
		if err := s.refresh(ctx, firstPage); err != nil {
			return nil, err
		}
	}

	return s.repo.Wants(ctx, sqlite.WantFilter{})
}

func (s *Service) refresh(ctx context.Context, firstPage int) error {
	cursor := 0
	err := s.api.FetchWantlist(ctx, s.username, firstPage, func(page int, want discogs.WantlistItem) error {
		if page != cursor {
			// Advance the resume point as soon as a page starts
			// producing items; items are idempotent upserts, so
			// re-walking an interrupted page is harmless.
			if err := s.repo.SetCursor(ctx, sqlite.CursorWantlistPage, page); err != nil {
				return err
			}
			cursor = page
		}

		return s.repo.UpsertWant(ctx, want)
	})
	if err != nil {
		// The cursor stays wherever the walk died; the next Get
		// resumes there.
		return err
	}

	// A finished walk resets the cursor: the cache is complete, and only
	// an explicit refresh re-walks pages.
	return s.repo.SetCursor(ctx, sqlite.CursorWantlistPage, 1)
}

// Clear empties the cache so the next Get re-fetches everything.
func (s *Service) Clear(ctx context.Context) error {
	slog.InfoContext(ctx, "clearing wantlist cache")
	return s.repo.ClearWants(ctx)
}

// Count returns the number of cached want-list items.
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.repo.CountWants(ctx)
}
