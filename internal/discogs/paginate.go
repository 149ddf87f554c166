package discogs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"
)

const (
	perPage = 100

	// A page that keeps failing is retried in place; after this many
	// consecutive failures the walk ends early rather than hard-failing.
	maxPageFailures = 5
	pageCooldown    = 10 * time.Second
)

// Pagination is the envelope the API wraps page-based collections in.
type Pagination struct {
	Page  int `json:"page"`
	Pages int `json:"pages"`
	URLs  struct {
		Next string `json:"next"`
	} `json:"urls"`
}

// Paginate walks a page-based collection endpoint, invoking fn once per
// page with the raw items found under field. The walk is single-pass and
// restartable by the caller via firstPage; a zero stopAfterPage means walk
// to the end.
//
// A page whose fetch (or fn) fails with a *RemoteError is logged and
// retried at the same page after a cooldown; more than maxPageFailures
// consecutive failures end the walk early as a degraded completion. Any
// other error from fn aborts the walk and is returned.
func (c *Client) Paginate(ctx context.Context, endpoint string, params url.Values, field string, firstPage, stopAfterPage int, fn func(pg Pagination, items []json.RawMessage) error) error {
	merged := url.Values{}
	for k, vs := range params {
		merged[k] = vs
	}
	merged.Set("page", strconv.Itoa(firstPage))
	merged.Set("per_page", strconv.Itoa(perPage))

	failures := 0
	for {
		err := func() error {
			var envelope map[string]json.RawMessage
			if err := c.Call(ctx, endpoint, merged, &envelope); err != nil {
				return err
			}

			var pg Pagination
			if raw, ok := envelope["pagination"]; ok {
				if err := json.Unmarshal(raw, &pg); err != nil {
					return &RemoteError{URL: endpoint, Body: fmt.Sprintf("bad pagination envelope: %s", err)}
				}
			}

			var items []json.RawMessage
			if raw, ok := envelope[field]; ok {
				if err := json.Unmarshal(raw, &items); err != nil {
					return &RemoteError{URL: endpoint, Body: fmt.Sprintf("bad %s collection: %s", field, err)}
				}
			}

			// A terminal page.
			if len(items) == 0 {
				return errDone
			}

			if err := fn(pg, items); err != nil {
				return err
			}

			if pg.URLs.Next == "" || pg.Page == stopAfterPage {
				return errDone
			}

			// The next URL carries the whole query along.
			endpoint = pg.URLs.Next
			merged = nil

			return nil
		}()

		switch {
		case err == nil:
			failures = 0
		case err == errDone:
			return nil
		default:
			if _, ok := AsRemoteError(err); !ok {
				return err
			}
			failures++
			if failures > maxPageFailures {
				slog.WarnContext(ctx, "too many page failures, ending walk early", "endpoint", endpoint, "failures", failures)
				return nil
			}
			slog.ErrorContext(ctx, "page fetch failed, will retry", "endpoint", endpoint, "error", err)
			if serr := sleepCtx(ctx, c.pageWait); serr != nil {
				return serr
			}
		}
	}
}

// errDone signals a clean end of the walk from inside the page closure.
var errDone = fmt.Errorf("pagination done")

// FetchWantlist walks the user's want-list, hydrating each want into a full
// release (with price suggestions) and handing it to fn together with the
// page it came from. Malformed wants are skipped with a diagnostic.
func (c *Client) FetchWantlist(ctx context.Context, username string, firstPage int, fn func(page int, want WantlistItem) error) error {
	endpoint := fmt.Sprintf("/users/%s/wants", url.PathEscape(username))

	return c.Paginate(ctx, endpoint, nil, "wants", firstPage, 0, func(pg Pagination, items []json.RawMessage) error {
		slog.InfoContext(ctx, "loading wantlist page", "page", pg.Page, "pages", pg.Pages)

		for _, raw := range items {
			w, err := wantFromAPI(raw)
			if err != nil {
				slog.DebugContext(ctx, "skipping want", "error", err)
				continue
			}

			release, err := c.FetchRelease(ctx, w.ID)
			if err != nil {
				return err
			}

			dateAdded, err := time.Parse(time.RFC3339, w.DateAdded)
			if err != nil {
				dateAdded = time.Time{}
			}

			if err := fn(pg.Page, WantlistItem{
				Release:   release,
				DateAdded: dateAdded,
				Notes:     w.Notes,
			}); err != nil {
				return err
			}
		}

		return nil
	})
}
