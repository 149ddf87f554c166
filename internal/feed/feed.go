// Package feed reads, merges and atomically rewrites the published Atom
// feed of qualifying listings.
package feed

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/gorilla/feeds"
	"github.com/mmcdole/gofeed"
)

// Entry is one published listing in the feed.
type Entry struct {
	ID      string
	Title   string
	Updated time.Time
	Link    string
	Content string
}

// Published is the feed recovered from disk at startup.
type Published struct {
	Entries []Entry
	// LastUpdated is the newest entry timestamp, used as the since bound
	// for the incremental listing scan.
	LastUpdated time.Time
}

// Load reads a previously published feed. A missing file is a normal first
// run and an unreadable one degrades the same way: both return nil, trading
// duplicate work for availability.
func Load(path string) *Published {
	f, err := os.Open(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("published feed unreadable, treating as absent", "path", path, "error", err)
		}
		return nil
	}
	defer f.Close()

	parsed, err := gofeed.NewParser().Parse(f)
	if err != nil {
		slog.Warn("published feed unparseable, treating as absent", "path", path, "error", err)
		return nil
	}

	published := &Published{}
	for _, item := range parsed.Items {
		entry := Entry{
			ID:      item.GUID,
			Title:   item.Title,
			Link:    item.Link,
			Content: item.Content,
		}
		if entry.ID == "" {
			entry.ID = item.Link
		}
		if entry.Content == "" {
			entry.Content = item.Description
		}
		if item.UpdatedParsed != nil {
			entry.Updated = *item.UpdatedParsed
		} else if item.PublishedParsed != nil {
			entry.Updated = *item.PublishedParsed
		}

		if entry.Updated.After(published.LastUpdated) {
			published.LastUpdated = entry.Updated
		}
		published.Entries = append(published.Entries, entry)
	}

	return published
}

// Merge combines newly accepted entries with the previously published feed.
// New entries keep their arrival order and strictly outrank carried-over
// old ones; ids are unique across the result; max is a hard ceiling and
// anything past it is dropped.
//
// Merging the same new entries against the result again reproduces it, so
// re-processing after a crash is harmless.
func Merge(newEntries []Entry, old *Published, max int) []Entry {
	merged := make([]Entry, 0, max)
	seen := make(map[string]bool, max)

	appendEntry := func(e Entry) {
		if len(merged) >= max || seen[e.ID] {
			return
		}
		seen[e.ID] = true
		merged = append(merged, e)
	}

	for _, e := range newEntries {
		appendEntry(e)
	}
	if old != nil {
		for _, e := range old.Entries {
			appendEntry(e)
		}
	}

	return merged
}

// Writer renders and atomically replaces the feed document on disk.
type Writer struct {
	URL         string
	Title       string
	AuthorName  string
	AuthorEmail string
}

// Write serializes entries as Atom under a temporary name and only renames
// it over path once fully written. A partially written feed is never
// observable at the canonical path.
func (w Writer) Write(path string, entries []Entry) error {
	fg := &feeds.Feed{
		Id:      w.URL,
		Title:   w.Title,
		Link:    &feeds.Link{Href: w.URL, Rel: "self"},
		Author:  &feeds.Author{Name: w.AuthorName, Email: w.AuthorEmail},
		Updated: time.Now().UTC(),
	}
	for _, e := range entries {
		fg.Items = append(fg.Items, &feeds.Item{
			Id:      e.ID,
			Title:   e.Title,
			Link:    &feeds.Link{Href: e.Link},
			Updated: e.Updated,
			Content: e.Content,
		})
	}

	atom, err := fg.ToAtom()
	if err != nil {
		return fmt.Errorf("error rendering feed: %s", err)
	}

	tmp := path + ".new"
	if err := os.WriteFile(tmp, []byte(atom), 0o644); err != nil {
		return fmt.Errorf("error writing feed: %s", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("error replacing feed: %s", err)
	}

	return nil
}
