// Package discogs holds the catalog and marketplace domain types along with
// the rate-limited client used to fetch them from the Discogs API.
package discogs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"
)

// Condition is a standardized physical-condition grade for a listing.
type Condition string

const (
	Poor         Condition = "Poor (P)"
	Fair         Condition = "Fair (F)"
	Good         Condition = "Good (G)"
	GoodPlus     Condition = "Good Plus (G+)"
	VeryGood     Condition = "Very Good (VG)"
	VeryGoodPlus Condition = "Very Good Plus (VG+)"
	NearMint     Condition = "Near Mint (NM or M-)"
	Mint         Condition = "Mint (M)"
)

var conditions = map[Condition]bool{
	Poor: true, Fair: true, Good: true, GoodPlus: true,
	VeryGood: true, VeryGoodPlus: true, NearMint: true, Mint: true,
}

// ParseCondition validates a condition grade string from the API.
func ParseCondition(s string) (Condition, bool) {
	c := Condition(s)
	return c, conditions[c]
}

// Artists and labels carry a trailing " (N)" disambiguator on Discogs when
// several share a name. It is noise for display and search.
var uniqueNum = regexp.MustCompile(` \(\d+\)$`)

type (
	// Artist is a contributing artist on a release.
	Artist struct {
		ID   int    `json:"id"`
		Name string `json:"name"`
	}

	// Label is a publisher label together with its catalog number for
	// the release it appears on.
	Label struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		Catno string `json:"catno,omitempty"`
	}

	// Release is a catalog entry for a specific edition of a work.
	// Immutable once fetched; re-fetched wholesale when stale.
	Release struct {
		ID        int      `json:"id"`
		MasterID  int      `json:"master_id,omitempty"`
		Title     string   `json:"title"`
		Artists   []Artist `json:"artists"`
		Formats   []string `json:"formats"`
		Labels    []Label  `json:"labels"`
		Thumbnail string   `json:"thumbnail,omitempty"`
		Genres    []string `json:"genres"`
		// Year is nil when Discogs does not know the release year.
		Year    *int   `json:"year,omitempty"`
		Country string `json:"country,omitempty"`
		Have    int    `json:"have"`
		Want    int    `json:"want"`
		// PriceSuggestions maps a condition grade to the suggested
		// price in the configured currency.
		PriceSuggestions map[Condition]float64 `json:"price_suggestions,omitempty"`
	}

	// Seller is the marketplace identity offering a listing.
	Seller struct {
		Username string  `json:"username"`
		Rating   float64 `json:"rating"`
	}

	// Listing is a seller's offer of a release for sale. Ephemeral:
	// price and availability change, so it is never cached long-term.
	Listing struct {
		ID              int       `json:"id"`
		Seller          Seller    `json:"seller"`
		Release         Release   `json:"release"`
		Price           *float64  `json:"price,omitempty"`
		ShippingPrice   *float64  `json:"shipping_price,omitempty"`
		AllowOffers     bool      `json:"allow_offers"`
		Condition       Condition `json:"condition"`
		SleeveCondition Condition `json:"sleeve_condition,omitempty"`
		Posted          time.Time `json:"posted"`
		ShipsFrom       string    `json:"ships_from,omitempty"`
		URI             string    `json:"uri"`
		Comments        string    `json:"comments,omitempty"`
	}

	// WantlistItem associates a release with the date it was added to
	// the user's want-list and any free-text notes.
	WantlistItem struct {
		Release   Release   `json:"release"`
		DateAdded time.Time `json:"date_added"`
		Notes     string    `json:"notes,omitempty"`
	}
)

// Age returns the release's age in whole years. ok is false when the
// release year is unknown.
func (r Release) Age() (int, bool) {
	if r.Year == nil {
		return 0, false
	}
	return time.Now().Year() - *r.Year, true
}

// Description renders the canonical "Artist | Artist - Title" line.
func (r Release) Description() string {
	names := make([]string, 0, len(r.Artists))
	for _, a := range r.Artists {
		names = append(names, a.Name)
	}
	return fmt.Sprintf("%s - %s", strings.Join(names, " | "), r.Title)
}

// DemandRatio is want over have, with have floored at one.
func (r Release) DemandRatio() float64 {
	have := r.Have
	if have < 1 {
		have = 1
	}
	return float64(r.Want) / float64(have)
}

// InGenres reports whether the release shares at least one genre tag with
// the given set.
func (r Release) InGenres(genres map[string]bool) bool {
	for _, g := range r.Genres {
		if genres[g] {
			return true
		}
	}
	return false
}

// The raw API shapes, kept separate from the domain types so the wire
// layout can shift without touching callers.
type (
	apiName struct {
		ID    int    `json:"id"`
		Name  string `json:"name"`
		Catno string `json:"catno"`
	}

	apiRelease struct {
		ID       int       `json:"id"`
		MasterID int       `json:"master_id"`
		Title    string    `json:"title"`
		Artists  []apiName `json:"artists"`
		Formats  []struct {
			Name string `json:"name"`
		} `json:"formats"`
		Labels    []apiName `json:"labels"`
		Thumb     string    `json:"thumb"`
		Genres    []string  `json:"genres"`
		Year      int       `json:"year"`
		Country   string    `json:"country"`
		Community struct {
			Have int `json:"have"`
			Want int `json:"want"`
		} `json:"community"`
	}

	apiPrice struct {
		Value *float64 `json:"value"`
	}

	apiListing struct {
		ID     int `json:"id"`
		Seller struct {
			Username string `json:"username"`
			Stats    struct {
				Rating string `json:"rating"`
			} `json:"stats"`
		} `json:"seller"`
		Release struct {
			ID int `json:"id"`
		} `json:"release"`
		Price           apiPrice `json:"price"`
		ShippingPrice   apiPrice `json:"shipping_price"`
		AllowOffers     bool     `json:"allow_offers"`
		Condition       string   `json:"condition"`
		SleeveCondition string   `json:"sleeve_condition"`
		Posted          string   `json:"posted"`
		ShipsFrom       string   `json:"ships_from"`
		URI             string   `json:"uri"`
		Comments        string   `json:"comments"`
	}

	apiWant struct {
		ID        int    `json:"id"`
		DateAdded string `json:"date_added"`
		Notes     string `json:"notes"`
	}
)

func releaseFromAPI(a apiRelease, suggestions map[Condition]float64) Release {
	seenArtists := map[string]bool{}
	artists := make([]Artist, 0, len(a.Artists))
	for _, ar := range a.Artists {
		name := uniqueNum.ReplaceAllString(ar.Name, "")
		if seenArtists[name] {
			continue
		}
		seenArtists[name] = true
		artists = append(artists, Artist{ID: ar.ID, Name: name})
	}
	slices.SortFunc(artists, func(x, y Artist) int {
		return strings.Compare(x.Name, y.Name)
	})

	seenFormats := map[string]bool{}
	formats := make([]string, 0, len(a.Formats))
	for _, f := range a.Formats {
		if seenFormats[f.Name] {
			continue
		}
		seenFormats[f.Name] = true
		formats = append(formats, f.Name)
	}
	slices.Sort(formats)

	labels := make([]Label, 0, len(a.Labels))
	for _, l := range a.Labels {
		labels = append(labels, Label{
			ID:    l.ID,
			Name:  uniqueNum.ReplaceAllString(l.Name, ""),
			Catno: l.Catno,
		})
	}

	var year *int
	if a.Year != 0 {
		y := a.Year
		year = &y
	}

	return Release{
		ID:               a.ID,
		MasterID:         a.MasterID,
		Title:            a.Title,
		Artists:          artists,
		Formats:          formats,
		Labels:           labels,
		Thumbnail:        a.Thumb,
		Genres:           a.Genres,
		Year:             year,
		Country:          a.Country,
		Have:             a.Community.Have,
		Want:             a.Community.Want,
		PriceSuggestions: suggestions,
	}
}

func listingFromAPI(a apiListing, release Release) (Listing, error) {
	condition, ok := ParseCondition(a.Condition)
	if !ok {
		return Listing{}, &ValidationError{
			Kind:   "listing",
			ID:     a.ID,
			Reason: fmt.Sprintf("unknown condition %q", a.Condition),
		}
	}

	// An unknown sleeve grade ("Generic", "Not Graded", ...) is fine;
	// it just carries no grade.
	sleeve, ok := ParseCondition(a.SleeveCondition)
	if !ok {
		sleeve = ""
	}

	posted, err := time.Parse(time.RFC3339, a.Posted)
	if err != nil {
		return Listing{}, &ValidationError{
			Kind:   "listing",
			ID:     a.ID,
			Reason: fmt.Sprintf("bad posted timestamp %q", a.Posted),
		}
	}

	var rating float64
	if a.Seller.Stats.Rating != "" {
		if _, err := fmt.Sscanf(a.Seller.Stats.Rating, "%f", &rating); err != nil {
			rating = 0
		}
	}

	return Listing{
		ID: a.ID,
		Seller: Seller{
			Username: a.Seller.Username,
			Rating:   rating,
		},
		Release:         release,
		Price:           a.Price.Value,
		ShippingPrice:   a.ShippingPrice.Value,
		AllowOffers:     a.AllowOffers,
		Condition:       condition,
		SleeveCondition: sleeve,
		Posted:          posted,
		ShipsFrom:       a.ShipsFrom,
		URI:             a.URI,
		Comments:        a.Comments,
	}, nil
}

func wantFromAPI(raw json.RawMessage) (apiWant, error) {
	var w apiWant
	if err := json.Unmarshal(raw, &w); err != nil {
		return apiWant{}, &ValidationError{Kind: "want", Reason: err.Error()}
	}
	if w.ID == 0 {
		return apiWant{}, &ValidationError{Kind: "want", Reason: "missing release id"}
	}
	return w, nil
}
