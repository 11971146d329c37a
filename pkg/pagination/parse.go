package pagination

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// rowSelector locates listing row i (1-based).
func rowSelector(row int) string {
	return "div#results_objectname" + strconv.Itoa(row)
}

// ParseListingPage extracts the identifiers of rows 1..pageSize from a listing page.
// Row i is the element div#results_objectname<i>; its first link points at
// /boardgame/<id>/<slug>. Any row that is missing or does not carry an
// identifier fails the whole page with ErrMalformedListing.
func ParseListingPage(data []byte, pageSize int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedListing, err)
	}

	ids := make([]string, 0, pageSize)
	for row := 1; row <= pageSize; row++ {
		cell := doc.Find(rowSelector(row)).First()
		if cell.Length() == 0 {
			return nil, fmt.Errorf("%w: row %d missing", ErrMalformedListing, row)
		}

		href, ok := cell.Find("a[href]").First().Attr("href")
		if !ok {
			return nil, fmt.Errorf("%w: row %d has no link", ErrMalformedListing, row)
		}

		id, ok := identifierFromHref(href)
		if !ok {
			return nil, fmt.Errorf("%w: row %d link %q has no identifier", ErrMalformedListing, row, href)
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// identifierFromHref returns the path segment following "/boardgame/".
// Both /boardgame/<id>/<slug> and /boardgame/<id> are accepted.
func identifierFromHref(href string) (string, bool) {
	const marker = "/boardgame/"

	i := strings.Index(href, marker)
	if i < 0 {
		return "", false
	}

	rest := href[i+len(marker):]
	if j := strings.IndexAny(rest, "/?#"); j >= 0 {
		rest = rest[:j]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}
