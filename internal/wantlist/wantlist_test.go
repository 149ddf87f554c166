package wantlist

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kdhayes/cratewatch/internal/discogs"
	"github.com/kdhayes/cratewatch/internal/sqlite"
)

// fakeFetcher plays back a fixed set of pages, optionally failing partway
// through one of them.
type fakeFetcher struct {
	pages      map[int][]discogs.WantlistItem
	failOnPage int
	calls      int
	firstPages []int
}

func (f *fakeFetcher) FetchWantlist(ctx context.Context, username string, firstPage int, fn func(int, discogs.WantlistItem) error) error {
	f.calls++
	f.firstPages = append(f.firstPages, firstPage)

	for page := firstPage; ; page++ {
		items, ok := f.pages[page]
		if !ok {
			return nil
		}
		if page == f.failOnPage {
			return errors.New("remote went away")
		}
		for _, item := range items {
			if err := fn(page, item); err != nil {
				return err
			}
		}
	}
}

func testRepo(t *testing.T) sqlite.Repo {
	t.Helper()

	dbx, err := sqlite.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbx.Close() })

	return sqlite.New(dbx)
}

func want(releaseID int) discogs.WantlistItem {
	return discogs.WantlistItem{
		Release: discogs.Release{
			ID:      releaseID,
			Title:   "Maggot Brain",
			Artists: []discogs.Artist{{ID: 1, Name: "Funkadelic"}},
		},
		DateAdded: time.Date(2026, 3, 10, 8, 0, 0, 0, time.UTC),
	}
}

func TestGetPopulatesEmptyCache(t *testing.T) {
	repo := testRepo(t)
	api := &fakeFetcher{pages: map[int][]discogs.WantlistItem{
		1: {want(10), want(20)},
		2: {want(30)},
	}}
	svc := New(repo, api, "kd")
	ctx := context.Background()

	wants, err := svc.Get(ctx, false)
	require.NoError(t, err)
	require.Len(t, wants, 3)
	assert.Equal(t, 10, wants[0].Release.ID)
	assert.Equal(t, []int{1}, api.firstPages)

	// A complete walk parks the cursor back at page one.
	page, err := repo.Cursor(ctx, sqlite.CursorWantlistPage, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, page)
}

func TestGetServesWarmCacheWithoutFetching(t *testing.T) {
	repo := testRepo(t)
	api := &fakeFetcher{pages: map[int][]discogs.WantlistItem{1: {want(10)}}}
	svc := New(repo, api, "kd")
	ctx := context.Background()

	_, err := svc.Get(ctx, false)
	require.NoError(t, err)

	wants, err := svc.Get(ctx, false)
	require.NoError(t, err)
	assert.Len(t, wants, 1)
	assert.Equal(t, 1, api.calls, "the second Get should not touch the remote")
}

func TestGetRefreshAlwaysFetchesFromPageOne(t *testing.T) {
	repo := testRepo(t)
	api := &fakeFetcher{pages: map[int][]discogs.WantlistItem{1: {want(10)}}}
	svc := New(repo, api, "kd")
	ctx := context.Background()

	_, err := svc.Get(ctx, false)
	require.NoError(t, err)
	require.NoError(t, repo.SetCursor(ctx, sqlite.CursorWantlistPage, 5))

	_, err = svc.Get(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1}, api.firstPages)
}

func TestFailedFetchResumesAtFailingPage(t *testing.T) {
	repo := testRepo(t)
	api := &fakeFetcher{
		pages: map[int][]discogs.WantlistItem{
			1: {want(10), want(20)},
			2: {want(30)},
			3: {want(40)},
		},
		failOnPage: 3,
	}
	svc := New(repo, api, "kd")
	ctx := context.Background()

	_, err := svc.Get(ctx, false)
	require.Error(t, err)

	// Pages one and two landed; the cursor points at the last page that
	// produced items, so the next attempt re-walks from there.
	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	page, err := repo.Cursor(ctx, sqlite.CursorWantlistPage, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, page)

	api.failOnPage = 0
	wants, err := svc.Get(ctx, false)
	require.NoError(t, err)
	assert.Len(t, wants, 4)
	assert.Equal(t, []int{1, 2}, api.firstPages)
}

func TestClearForcesRefetch(t *testing.T) {
	repo := testRepo(t)
	api := &fakeFetcher{pages: map[int][]discogs.WantlistItem{1: {want(10)}}}
	svc := New(repo, api, "kd")
	ctx := context.Background()

	_, err := svc.Get(ctx, false)
	require.NoError(t, err)

	require.NoError(t, svc.Clear(ctx))
	count, err := svc.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	_, err = svc.Get(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, api.calls)
}
