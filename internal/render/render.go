// Package render produces the HTML body of a published feed entry.
package render

import (
	"bytes"
	"fmt"
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"

	"github.com/kdhayes/cratewatch/internal/deals"
	"github.com/kdhayes/cratewatch/internal/discogs"
)

// Seller comments are free text from the marketplace; strip any markup
// before it lands in the feed.
var stripPolicy = bluemonday.StrictPolicy()

const maxCommentLen = 512

// Summary renders the listing into the HTML published in the feed entry.
func Summary(l discogs.Listing, shippingCredit float64) string {
	var buf bytes.Buffer

	if l.Release.Thumbnail != "" {
		fmt.Fprintf(&buf, `<img src=%q/>`+"\n", l.Release.Thumbnail)
	}

	fmt.Fprintf(&buf, "<b>%s</b><br>\n", html.EscapeString(l.Release.Description()))

	if comments := sanitizeComments(l.Comments); comments != "" {
		fmt.Fprintf(&buf, "%s - %s<br>\n", html.EscapeString(l.Seller.Username), html.EscapeString(comments))
	}

	discount := deals.Discount(l, shippingCredit)
	reference := deals.ReferencePrice(l, shippingCredit)
	fmt.Fprintf(&buf, "<b>%s suggested price ($%.2f)</b><br>\n", summarizeDiscount(discount), reference)

	if l.Price != nil {
		offers := ""
		if l.AllowOffers {
			offers = " (offers)"
		}
		writeRow(&buf, "price", fmt.Sprintf("$%.2f%s", *l.Price, offers))
	}
	if l.ShippingPrice != nil {
		writeRow(&buf, "shipping", fmt.Sprintf("$%.2f", *l.ShippingPrice))
	}

	writeRow(&buf, "demand", fmt.Sprintf("%.1f", l.Release.DemandRatio()))
	writeRow(&buf, "rating", fmt.Sprintf("%.1f", l.Seller.Rating))

	year := "unknown"
	if l.Release.Year != nil {
		year = fmt.Sprintf("%d", *l.Release.Year)
	}
	writeRow(&buf, "year", year)

	writeRow(&buf, "condition", string(l.Condition))
	if l.SleeveCondition != "" {
		writeRow(&buf, "sleeve", string(l.SleeveCondition))
	}

	return buf.String()
}

func writeRow(buf *bytes.Buffer, label, value string) {
	fmt.Fprintf(buf, "%s: %s<br>\n", label, html.EscapeString(value))
}

func sanitizeComments(s string) string {
	s = strings.TrimSpace(stripPolicy.Sanitize(s))
	if len(s) > maxCommentLen {
		s = s[:maxCommentLen]
	}
	return s
}

func summarizeDiscount(discount int) string {
	switch {
	case discount > 0:
		return fmt.Sprintf("%d%% below", discount)
	case discount < 0:
		return fmt.Sprintf("%d%% above", -discount)
	default:
		return "same as"
	}
}
