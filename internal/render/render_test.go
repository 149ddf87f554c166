package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kdhayes/cratewatch/internal/discogs"
)

func ptr[T any](v T) *T { return &v }

func listing() discogs.Listing {
	year := 1972
	return discogs.Listing{
		ID: 555,
		Seller: discogs.Seller{
			Username: "cratedigger_77",
			Rating:   99.4,
		},
		Release: discogs.Release{
			ID:        7,
			Title:     "Talking Book",
			Artists:   []discogs.Artist{{ID: 1, Name: "Stevie Wonder"}},
			Thumbnail: "https://i.discogs.com/thumb.jpg",
			Genres:    []string{"Funk / Soul"},
			Year:      &year,
			Have:      100,
			Want:      250,
			PriceSuggestions: map[discogs.Condition]float64{
				discogs.NearMint: 30.0,
			},
		},
		Price:           ptr(20.0),
		ShippingPrice:   ptr(5.0),
		AllowOffers:     true,
		Condition:       discogs.NearMint,
		SleeveCondition: discogs.VeryGoodPlus,
		Posted:          time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC),
		Comments:        "clean copy, plays great",
	}
}

func TestSummary(t *testing.T) {
	got := Summary(listing(), 5.0)

	assert.Contains(t, got, `<img src="https://i.discogs.com/thumb.jpg"/>`)
	assert.Contains(t, got, "<b>Stevie Wonder - Talking Book</b>")
	assert.Contains(t, got, "cratedigger_77 - clean copy, plays great")
	assert.Contains(t, got, "<b>33% below suggested price ($30.00)</b>")
	assert.Contains(t, got, "price: $20.00 (offers)")
	assert.Contains(t, got, "shipping: $5.00")
	assert.Contains(t, got, "demand: 2.5")
	assert.Contains(t, got, "rating: 99.4")
	assert.Contains(t, got, "year: 1972")
	assert.Contains(t, got, "condition: Near Mint (NM or M-)")
	assert.Contains(t, got, "sleeve: Very Good Plus (VG+)")
}

func TestSummaryAboveReference(t *testing.T) {
	l := listing()
	l.Price = ptr(40.0)

	got := Summary(l, 5.0)
	assert.Contains(t, got, "33% above suggested price")
}

func TestSummaryUnknownYear(t *testing.T) {
	l := listing()
	l.Release.Year = nil

	got := Summary(l, 5.0)
	assert.Contains(t, got, "year: unknown")
}

func TestSummaryOmitsEmptyParts(t *testing.T) {
	l := listing()
	l.Release.Thumbnail = ""
	l.Comments = ""
	l.SleeveCondition = ""

	got := Summary(l, 5.0)
	assert.NotContains(t, got, "<img")
	assert.NotContains(t, got, "cratedigger_77 -")
	assert.NotContains(t, got, "sleeve:")
}

func TestSummaryStripsCommentMarkup(t *testing.T) {
	l := listing()
	l.Comments = `<script>alert("x")</script>rare <b>promo</b> pressing`

	got := Summary(l, 5.0)
	assert.NotContains(t, got, "<script>")
	assert.NotContains(t, got, "alert")
	assert.Contains(t, got, "rare promo pressing")
}

func TestSummaryTruncatesLongComments(t *testing.T) {
	l := listing()
	l.Comments = strings.Repeat("very long description ", 100)

	got := Summary(l, 5.0)
	assert.Less(t, len(got), 2048)
}
