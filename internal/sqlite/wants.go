package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/kdhayes/cratewatch/internal/discogs"
)

// Cursor names. The wantlist page cursor is only meaningful while a fetch
// is in progress; the scan cursor remembers the last release fully checked.
const (
	CursorWantlistPage = "wantlist_page"
	CursorLastRelease  = "scan_last_release"
)

type wantRow struct {
	ReleaseID int       `db:"release_id"`
	DateAdded time.Time `db:"date_added"`
	Notes     string    `db:"notes"`
	Release   []byte    `db:"release"`
}

// UpsertWant stores a want-list item keyed by release id. Re-adding a
// release is an update, never a duplicate.
func (r Repo) UpsertWant(ctx context.Context, want discogs.WantlistItem) error {
	release, err := json.Marshal(want.Release)
	if err != nil {
		return fmt.Errorf("error encoding release %d: %s", want.Release.ID, err)
	}

	const q = `
		INSERT INTO wants (release_id, date_added, notes, release, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (release_id) DO UPDATE SET
			date_added = excluded.date_added,
			notes = excluded.notes,
			release = excluded.release,
			updated_at = CURRENT_TIMESTAMP;`

	if _, err := r.db.ExecContext(ctx, q, want.Release.ID, want.DateAdded, want.Notes, release); err != nil {
		return fmt.Errorf("error upserting want %d: %s", want.Release.ID, err)
	}

	return nil
}

// WantFilter narrows a Wants query.
type WantFilter struct {
	// AfterRelease keeps only wants with a release id strictly greater,
	// which is how an interrupted scan picks up where it stopped.
	AfterRelease int
	Limit        uint64
}

// Wants returns cached want-list items ordered by release id ascending.
// Rows whose stored release no longer decodes are dropped with a
// diagnostic rather than failing the load.
func (r Repo) Wants(ctx context.Context, filter WantFilter) ([]discogs.WantlistItem, error) {
	builder := sq.Select("release_id", "date_added", "notes", "release").
		From("wants").
		OrderBy("release_id ASC")
	if filter.AfterRelease > 0 {
		builder = builder.Where(sq.Gt{"release_id": filter.AfterRelease})
	}
	if filter.Limit > 0 {
		builder = builder.Limit(filter.Limit)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("error constructing sql: %s", err)
	}

	var rows []wantRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("error selecting wants: %s", err)
	}

	wants := make([]discogs.WantlistItem, 0, len(rows))
	for _, row := range rows {
		var release discogs.Release
		if err := json.Unmarshal(row.Release, &release); err != nil {
			slog.WarnContext(ctx, "dropping undecodable cached want", "release_id", row.ReleaseID, "error", err)
			continue
		}
		wants = append(wants, discogs.WantlistItem{
			Release:   release,
			DateAdded: row.DateAdded,
			Notes:     row.Notes,
		})
	}

	return wants, nil
}

// CountWants returns the number of cached want-list items.
func (r Repo) CountWants(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM wants;`

	var count int
	if err := r.db.GetContext(ctx, &count, q); err != nil {
		return 0, fmt.Errorf("error counting wants: %s", err)
	}

	return count, nil
}

// ClearWants empties the want-list cache and resets its page cursor.
func (r Repo) ClearWants(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM wants;`); err != nil {
		return fmt.Errorf("error clearing wants: %s", err)
	}

	return r.SetCursor(ctx, CursorWantlistPage, 1)
}

// Cursor returns the named cursor, or def when it has never been set.
func (r Repo) Cursor(ctx context.Context, name string, def int) (int, error) {
	const q = `SELECT value FROM cursors WHERE name = ?;`

	var value int
	err := r.db.GetContext(ctx, &value, q, name)
	if errors.Is(err, sql.ErrNoRows) {
		return def, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error fetching cursor %s: %s", name, err)
	}

	return value, nil
}

// SetCursor durably stores the named cursor.
func (r Repo) SetCursor(ctx context.Context, name string, value int) error {
	const q = `
		INSERT INTO cursors (name, value) VALUES (?, ?)
		ON CONFLICT (name) DO UPDATE SET value = excluded.value;`

	if _, err := r.db.ExecContext(ctx, q, name, value); err != nil {
		return fmt.Errorf("error storing cursor %s: %s", name, err)
	}

	return nil
}
