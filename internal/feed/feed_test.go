package feed

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entry(n int, updated time.Time) Entry {
	return Entry{
		ID:      fmt.Sprintf("https://www.discogs.com/sell/item/%d", n),
		Title:   fmt.Sprintf("Listing %d", n),
		Updated: updated,
		Link:    fmt.Sprintf("https://www.discogs.com/sell/item/%d", n),
		Content: fmt.Sprintf("<b>Listing %d</b> for sale", n),
	}
}

func entries(ns ...int) []Entry {
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)
	out := make([]Entry, 0, len(ns))
	for i, n := range ns {
		out = append(out, entry(n, base.Add(-time.Duration(i)*time.Hour)))
	}
	return out
}

func ids(es []Entry) []int {
	out := make([]int, 0, len(es))
	for _, e := range es {
		var n int
		fmt.Sscanf(e.ID, "https://www.discogs.com/sell/item/%d", &n)
		out = append(out, n)
	}
	return out
}

func TestMergeNewOutranksOld(t *testing.T) {
	old := &Published{Entries: entries(3, 4, 5)}

	merged := Merge(entries(1, 2), old, 50)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, ids(merged))
}

func TestMergeDeduplicatesByID(t *testing.T) {
	old := &Published{Entries: entries(2, 3)}

	merged := Merge(entries(1, 2), old, 50)
	assert.Equal(t, []int{1, 2, 3}, ids(merged))

	// The new copy of a duplicated id wins over the carried-over one.
	fresh := entries(2)
	fresh[0].Title = "Listing 2, relisted"
	merged = Merge(fresh, old, 50)
	assert.Equal(t, "Listing 2, relisted", merged[0].Title)
}

func TestMergeEnforcesCap(t *testing.T) {
	old := &Published{Entries: entries(10, 11, 12)}

	merged := Merge(entries(1, 2, 3), old, 4)
	assert.Equal(t, []int{1, 2, 3, 10}, ids(merged), "new entries take priority when over capacity")

	merged = Merge(entries(1, 2, 3, 4, 5), old, 3)
	assert.Equal(t, []int{1, 2, 3}, ids(merged), "the cap binds even before old entries are considered")
}

func TestMergeIsIdempotent(t *testing.T) {
	old := &Published{Entries: entries(4, 5, 6)}
	fresh := entries(1, 2, 3)

	once := Merge(fresh, old, 5)
	twice := Merge(fresh, &Published{Entries: once}, 5)
	assert.Equal(t, once, twice)
}

func TestMergeWithoutOldFeed(t *testing.T) {
	merged := Merge(entries(1, 2), nil, 50)
	assert.Equal(t, []int{1, 2}, ids(merged))
}

func TestWriteThenLoadRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.xml")
	w := Writer{
		URL:         "https://example.com/deals.xml",
		Title:       "Discogs Deals",
		AuthorName:  "kd",
		AuthorEmail: "kd@example.com",
	}

	written := entries(1, 2, 3)
	require.NoError(t, w.Write(path, written))

	_, err := os.Stat(path + ".new")
	assert.True(t, os.IsNotExist(err), "the temporary file should be renamed away")

	got := Load(path)
	require.NotNil(t, got)
	require.Len(t, got.Entries, 3)
	assert.Equal(t, ids(written), ids(got.Entries))
	assert.Equal(t, written[0].Title, got.Entries[0].Title)
	assert.Contains(t, got.Entries[0].Content, "Listing 1")
	assert.True(t, got.LastUpdated.Equal(written[0].Updated), "last updated tracks the newest entry")
}

func TestLoadMissingFeed(t *testing.T) {
	assert.Nil(t, Load(filepath.Join(t.TempDir(), "nope.xml")))
}

func TestLoadCorruptFeed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deals.xml")
	require.NoError(t, os.WriteFile(path, []byte("<rss this is not a feed"), 0o644))

	assert.Nil(t, Load(path))
}
