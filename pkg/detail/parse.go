package detail

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var firstInteger = regexp.MustCompile(`\d+`)

type xmlValue struct {
	Value string `xml:"value,attr"`
}

type xmlName struct {
	Type  string `xml:"type,attr"`
	Value string `xml:"value,attr"`
}

type xmlLink struct {
	Type  string `xml:"type,attr"`
	ID    string `xml:"id,attr"`
	Value string `xml:"value,attr"`
}

type xmlRatings struct {
	UsersRated    *xmlValue `xml:"usersrated"`
	Average       *xmlValue `xml:"average"`
	BayesAverage  *xmlValue `xml:"bayesaverage"`
	StdDev        *xmlValue `xml:"stddev"`
	AverageWeight *xmlValue `xml:"averageweight"`
}

type xmlItem struct {
	ID            string      `xml:"id,attr"`
	Names         []xmlName   `xml:"name"`
	YearPublished *xmlValue   `xml:"yearpublished"`
	MinPlayers    *xmlValue   `xml:"minplayers"`
	MaxPlayers    *xmlValue   `xml:"maxplayers"`
	MinPlaytime   *xmlValue   `xml:"minplaytime"`
	MaxPlaytime   *xmlValue   `xml:"maxplaytime"`
	MinAge        *xmlValue   `xml:"minage"`
	Links         []xmlLink   `xml:"link"`
	Ratings       *xmlRatings `xml:"statistics>ratings"`
}

type xmlItems struct {
	XMLName xml.Name  `xml:"items"`
	Items   []xmlItem `xml:"item"`
}

// rawRecord holds the extracted, not yet coerced, attribute text of one item.
type rawRecord struct {
	id, name string

	// scalars is keyed by sub-tag name (intFields and floatFields).
	scalars map[string]string

	categories, mechanics, designers, artists []string
}

var (
	intFields   = []string{"yearpublished", "minplayers", "maxplayers", "minplaytime", "maxplaytime", "minage", "usersrated"}
	floatFields = []string{"average", "bayesaverage", "stddev", "averageweight"}
)

// ParseDetailBatch maps a detail response onto the identifiers it was requested for.
// Item i of the response belongs to ids[i]: the item count must equal len(ids) and
// an item's id attribute, when present, must match.
func ParseDetailBatch(data []byte, ids []string) ([]Record, error) {
	var doc xmlItems
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if len(doc.Items) != len(ids) {
		return nil, fmt.Errorf("%w: got %d items for %d identifiers", ErrMalformedResponse, len(doc.Items), len(ids))
	}

	raws := make([]rawRecord, 0, len(ids))
	for i, item := range doc.Items {
		if item.ID != "" && item.ID != ids[i] {
			return nil, fmt.Errorf("%w: item %d has id %s, requested %s", ErrMalformedResponse, i, item.ID, ids[i])
		}

		raw, err := extract(ids[i], item)
		if err != nil {
			return nil, err
		}
		raws = append(raws, raw)
	}

	records := make([]Record, 0, len(raws))
	for _, raw := range raws {
		record, err := coerce(raw)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func extract(id string, item xmlItem) (rawRecord, error) {
	raw := rawRecord{id: id, scalars: make(map[string]string, len(intFields)+len(floatFields))}

	name, ok := primaryName(item.Names)
	if !ok {
		return raw, fieldError(id, "name", "no primary name")
	}
	raw.name = name

	if item.Ratings == nil {
		return raw, fieldError(id, "statistics", "missing")
	}
	scalars := []struct {
		field string
		value *xmlValue
	}{
		{"yearpublished", item.YearPublished},
		{"minplayers", item.MinPlayers},
		{"maxplayers", item.MaxPlayers},
		{"minplaytime", item.MinPlaytime},
		{"maxplaytime", item.MaxPlaytime},
		{"minage", item.MinAge},
		{"usersrated", item.Ratings.UsersRated},
		{"average", item.Ratings.Average},
		{"bayesaverage", item.Ratings.BayesAverage},
		{"stddev", item.Ratings.StdDev},
		{"averageweight", item.Ratings.AverageWeight},
	}
	for _, s := range scalars {
		if s.value == nil {
			return raw, fieldError(id, s.field, "missing")
		}
		raw.scalars[s.field] = strings.TrimSpace(s.value.Value)
	}

	// minage is free text on some items ("21 and up").
	age := firstInteger.FindString(raw.scalars["minage"])
	if age == "" {
		return raw, fieldError(id, "minage", fmt.Sprintf("no integer in %q", raw.scalars["minage"]))
	}
	raw.scalars["minage"] = age

	raw.categories = linksOfType(item.Links, LinkCategory)
	raw.mechanics = linksOfType(item.Links, LinkMechanic)
	raw.designers = linksOfType(item.Links, LinkDesigner)
	raw.artists = linksOfType(item.Links, LinkArtist)

	return raw, nil
}

// coerce converts the numeric columns to their declared types.
func coerce(raw rawRecord) (Record, error) {
	ints := make(map[string]int, len(intFields))
	for _, field := range intFields {
		n, err := strconv.Atoi(raw.scalars[field])
		if err != nil {
			return Record{}, fieldError(raw.id, field, fmt.Sprintf("not an integer: %q", raw.scalars[field]))
		}
		ints[field] = n
	}

	floats := make(map[string]float64, len(floatFields))
	for _, field := range floatFields {
		f, err := strconv.ParseFloat(raw.scalars[field], 64)
		if err != nil {
			return Record{}, fieldError(raw.id, field, fmt.Sprintf("not a number: %q", raw.scalars[field]))
		}
		floats[field] = f
	}

	return Record{
		ID:            raw.id,
		Name:          raw.name,
		Year:          ints["yearpublished"],
		MinPlayers:    ints["minplayers"],
		MaxPlayers:    ints["maxplayers"],
		MinPlaytime:   ints["minplaytime"],
		MaxPlaytime:   ints["maxplaytime"],
		MinAge:        ints["minage"],
		Categories:    raw.categories,
		Mechanics:     raw.mechanics,
		Designers:     raw.designers,
		Artists:       raw.artists,
		UsersRated:    ints["usersrated"],
		Average:       floats["average"],
		BayesAverage:  floats["bayesaverage"],
		StdDev:        floats["stddev"],
		AverageWeight: floats["averageweight"],
	}, nil
}

func primaryName(names []xmlName) (string, bool) {
	for _, n := range names {
		if n.Type == "primary" {
			return n.Value, true
		}
	}
	return "", false
}

// linksOfType returns the values of links with the given type, in document order.
// The result is never nil.
func linksOfType(links []xmlLink, linkType string) []string {
	values := []string{}
	for _, l := range links {
		if l.Type == linkType {
			values = append(values, l.Value)
		}
	}
	return values
}

func fieldError(id, field, reason string) error {
	return fmt.Errorf("%w: item %s field %s: %s", ErrMalformedResponse, id, field, reason)
}
