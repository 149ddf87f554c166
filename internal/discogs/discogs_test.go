package discogs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReleaseFromAPI(t *testing.T) {
	a := apiRelease{
		ID:       12345,
		MasterID: 678,
		Title:    "Headless Heroes of the Apotheosis",
		Artists: []apiName{
			{ID: 2, Name: "Eugene McDaniels (2)"},
			{ID: 1, Name: "Alphonse Mouzon"},
			{ID: 3, Name: "Eugene McDaniels"},
		},
		Formats: []struct {
			Name string `json:"name"`
		}{
			{Name: "Vinyl"}, {Name: "LP"}, {Name: "Vinyl"},
		},
		Labels: []apiName{
			{ID: 9, Name: "Atlantic (2)", Catno: "SD 8281"},
		},
		Thumb:   "https://img.example/thumb.jpg",
		Genres:  []string{"Jazz", "Funk / Soul"},
		Year:    1971,
		Country: "US",
	}
	a.Community.Have = 500
	a.Community.Want = 2000

	r := releaseFromAPI(a, map[Condition]float64{NearMint: 80})

	// The " (N)" disambiguator is stripped, which also collapses the
	// duplicated artist; order is by name.
	require.Len(t, r.Artists, 2)
	assert.Equal(t, "Alphonse Mouzon", r.Artists[0].Name)
	assert.Equal(t, "Eugene McDaniels", r.Artists[1].Name)

	assert.Equal(t, []string{"LP", "Vinyl"}, r.Formats)
	assert.Equal(t, "Atlantic", r.Labels[0].Name)
	assert.Equal(t, "SD 8281", r.Labels[0].Catno)

	require.NotNil(t, r.Year)
	assert.Equal(t, 1971, *r.Year)
	assert.Equal(t, 500, r.Have)
	assert.Equal(t, 2000, r.Want)
	assert.InDelta(t, 80.0, r.PriceSuggestions[NearMint], 0.001)
}

func TestReleaseFromAPIUnknownYear(t *testing.T) {
	// Discogs reports an unknown year as zero; it must stay distinct
	// from every real year.
	r := releaseFromAPI(apiRelease{ID: 1, Year: 0}, nil)
	assert.Nil(t, r.Year)

	_, known := r.Age()
	assert.False(t, known)
}

func TestReleaseHelpers(t *testing.T) {
	year := time.Now().Year() - 30
	r := Release{
		Title:   "Maggot Brain",
		Artists: []Artist{{Name: "Funkadelic"}},
		Genres:  []string{"Funk / Soul"},
		Year:    &year,
		Have:    0,
		Want:    3,
	}

	assert.Equal(t, "Funkadelic - Maggot Brain", r.Description())

	age, known := r.Age()
	require.True(t, known)
	assert.Equal(t, 30, age)

	// have is floored at one so a release nobody has still scores.
	assert.InDelta(t, 3.0, r.DemandRatio(), 0.001)

	assert.True(t, r.InGenres(map[string]bool{"Funk / Soul": true}))
	assert.False(t, r.InGenres(map[string]bool{"Classical": true}))
}

func TestListingFromAPI(t *testing.T) {
	a := apiListing{
		ID:              555,
		Condition:       string(VeryGoodPlus),
		SleeveCondition: "Generic",
		Posted:          "2026-08-20T14:30:00-07:00",
		ShipsFrom:       "United States",
		URI:             "https://www.discogs.com/sell/item/555",
		Comments:        "plays great",
		AllowOffers:     true,
	}
	a.Seller.Username = "vinylbarn"
	a.Seller.Stats.Rating = "99.4"
	price := 20.0
	shipping := 5.0
	a.Price.Value = &price
	a.ShippingPrice.Value = &shipping

	l, err := listingFromAPI(a, Release{ID: 7})
	require.NoError(t, err)

	assert.Equal(t, 555, l.ID)
	assert.Equal(t, "vinylbarn", l.Seller.Username)
	assert.InDelta(t, 99.4, l.Seller.Rating, 0.001)
	assert.Equal(t, VeryGoodPlus, l.Condition)
	// An ungraded sleeve carries no grade rather than failing the listing.
	assert.Equal(t, Condition(""), l.SleeveCondition)
	assert.Equal(t, 7, l.Release.ID)
	assert.True(t, l.AllowOffers)
	require.NotNil(t, l.Price)
	assert.InDelta(t, 20.0, *l.Price, 0.001)
	assert.Equal(t, 2026, l.Posted.Year())
}

func TestListingFromAPIRejectsUnknownCondition(t *testing.T) {
	a := apiListing{ID: 556, Condition: "Shrinkwrapped", Posted: "2026-08-20T14:30:00Z"}

	_, err := listingFromAPI(a, Release{})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestListingFromAPIRejectsBadTimestamp(t *testing.T) {
	a := apiListing{ID: 557, Condition: string(Mint), Posted: "yesterday"}

	_, err := listingFromAPI(a, Release{})
	require.Error(t, err)
	assert.True(t, IsValidation(err))
}

func TestParseCondition(t *testing.T) {
	c, ok := ParseCondition("Very Good Plus (VG+)")
	assert.True(t, ok)
	assert.Equal(t, VeryGoodPlus, c)

	_, ok = ParseCondition("Near Mint")
	assert.False(t, ok)
}
