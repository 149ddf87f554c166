// Package deals decides whether a marketplace listing is worth publishing.
//
// Everything here is a pure function of the listing and its release: no
// I/O, no clocks beyond the release-age computation, so the policy is
// directly testable against literal fixtures.
package deals

import (
	"math"

	"github.com/kdhayes/cratewatch/internal/discogs"
)

// AdjustedPrice is the listing's total cost with the standard domestic
// shipping credit taken back out. ok is false when the listing is missing
// either price component, in which case no deal can be computed.
func AdjustedPrice(l discogs.Listing, shippingCredit float64) (float64, bool) {
	if l.Price == nil || l.ShippingPrice == nil {
		return 0, false
	}
	return *l.Price + *l.ShippingPrice - shippingCredit, true
}

// ReferencePrice is what the listing's discount is measured against: the
// suggested price for its condition grade when one is known. With no
// suggestion the adjusted price itself is returned, which makes the
// discount zero by construction rather than guessing.
func ReferencePrice(l discogs.Listing, shippingCredit float64) float64 {
	if suggested, ok := l.Release.PriceSuggestions[l.Condition]; ok {
		return suggested
	}
	adjusted, _ := AdjustedPrice(l, shippingCredit)
	return adjusted
}

// Discount is the integer percentage the adjusted price sits below the
// reference price. Positive means priced below reference.
func Discount(l discogs.Listing, shippingCredit float64) int {
	adjusted, ok := AdjustedPrice(l, shippingCredit)
	if !ok {
		return 0
	}
	return discountAgainst(adjusted, ReferencePrice(l, shippingCredit))
}

func discountAgainst(price, reference float64) int {
	if reference == 0 {
		return 0
	}
	return int(math.Round((reference - price) / reference * 100))
}

// Benchmark is a price compared against, with the resulting discount.
type Benchmark struct {
	Price    float64
	Discount int
}

// Stats are historical sale statistics for a release. They come from an
// alternate data source behind the same reference-price shape, so the
// source can be swapped without touching the evaluator.
type Stats struct {
	Min    float64
	Median float64
	Max    float64
}

// Benchmarks compares an adjusted price against each statistic.
func (s Stats) Benchmarks(adjusted float64) (min, median, max Benchmark) {
	min = Benchmark{Price: s.Min, Discount: discountAgainst(adjusted, s.Min)}
	median = Benchmark{Price: s.Median, Discount: discountAgainst(adjusted, s.Median)}
	max = Benchmark{Price: s.Max, Discount: discountAgainst(adjusted, s.Max)}
	return min, median, max
}

// Criteria is the process-wide eligibility policy.
type Criteria struct {
	// StandardShipping is the flat domestic shipping credit.
	StandardShipping float64

	// BlockedSellers are rejected on exact username match, regardless of
	// every other field.
	BlockedSellers map[string]bool

	// LenientGrade is the condition grade that needs the extra checks
	// below; all other grades pass without them.
	LenientGrade discogs.Condition

	// MinSellerRating applies only to LenientGrade listings.
	MinSellerRating float64

	// MinReleaseAge in years, only for LenientGrade listings. A release
	// with an unknown year passes this check: benefit of the doubt is
	// the long-standing policy here, not an oversight.
	MinReleaseAge int

	// AllowedGenres lets a young LenientGrade release through anyway
	// when its genres intersect this set.
	AllowedGenres map[string]bool
}

// Meets reports whether a listing is eligible for publication.
func (c Criteria) Meets(l discogs.Listing) bool {
	if _, ok := AdjustedPrice(l, c.StandardShipping); !ok {
		return false
	}
	if c.BlockedSellers[l.Seller.Username] {
		return false
	}

	if l.Condition == c.LenientGrade {
		if l.Seller.Rating < c.MinSellerRating {
			return false
		}

		age, known := l.Release.Age()
		oldEnough := !known || age >= c.MinReleaseAge
		if !oldEnough && !l.Release.InGenres(c.AllowedGenres) {
			return false
		}
	}

	return true
}
