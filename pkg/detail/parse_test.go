package detail

import (
	"strings"
	"testing"

	"github.com/Sternrassler/bgg-sync/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDetailBatch_CompleteItem(t *testing.T) {
	doc := testutil.ThingsDocument(testutil.ThingItemXML("174430"))

	records, err := ParseDetailBatch([]byte(doc), []string{"174430"})
	require.NoError(t, err)
	require.Len(t, records, 1)

	want := Record{
		ID:            "174430",
		Name:          "Game 174430",
		Year:          2017,
		MinPlayers:    1,
		MaxPlayers:    4,
		MinPlaytime:   60,
		MaxPlaytime:   120,
		MinAge:        14,
		Categories:    []string{"Adventure", "Exploration"},
		Mechanics:     []string{"Cooperative Game"},
		Designers:     []string{"Isaac Childres"},
		Artists:       []string{"Alexandr Elichev"},
		UsersRated:    42000,
		Average:       8.7,
		BayesAverage:  8.4,
		StdDev:        1.6,
		AverageWeight: 3.9,
	}
	assert.Equal(t, want, records[0])
}

func TestParseDetailBatch_PositionalOrder(t *testing.T) {
	doc := testutil.ThingsDocument(testutil.ThingItemXML("A"), testutil.ThingItemXML("B"))

	records, err := ParseDetailBatch([]byte(doc), []string{"A", "B"})
	require.NoError(t, err)

	require.Len(t, records, 2)
	assert.Equal(t, "A", records[0].ID)
	assert.Equal(t, "Game A", records[0].Name)
	assert.Equal(t, "B", records[1].ID)
	assert.Equal(t, "Game B", records[1].Name)
}

func TestParseDetailBatch_ItemWithoutIDUsesPosition(t *testing.T) {
	item := strings.Replace(testutil.ThingItemXML("7"), ` id="7"`, "", 1)

	records, err := ParseDetailBatch([]byte(testutil.ThingsDocument(item)), []string{"7"})
	require.NoError(t, err)
	assert.Equal(t, "7", records[0].ID)
}

func TestParseDetailBatch_MinAgeFirstInteger(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{value: "14", want: 14},
		{value: "21 and up", want: 21},
		{value: " 8+ ", want: 8},
		{value: "0", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			item := strings.Replace(testutil.ThingItemXML("1"), `<minage value="14"/>`, `<minage value="`+tt.value+`"/>`, 1)

			records, err := ParseDetailBatch([]byte(testutil.ThingsDocument(item)), []string{"1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, records[0].MinAge)
		})
	}
}

func TestParseDetailBatch_NoMatchingLinks(t *testing.T) {
	item := strings.NewReplacer(
		`<link type="boardgamecategory" id="1022" value="Adventure"/>`, "",
		`<link type="boardgamecategory" id="1020" value="Exploration"/>`, "",
		`<link type="boardgameartist" id="77084" value="Alexandr Elichev"/>`, "",
	).Replace(testutil.ThingItemXML("1"))

	records, err := ParseDetailBatch([]byte(testutil.ThingsDocument(item)), []string{"1"})
	require.NoError(t, err)

	assert.NotNil(t, records[0].Categories)
	assert.Empty(t, records[0].Categories)
	assert.Empty(t, records[0].Artists)
	assert.Equal(t, []string{"Cooperative Game"}, records[0].Mechanics)
}

func TestParseDetailBatch_Malformed(t *testing.T) {
	full := testutil.ThingItemXML("1")

	tests := []struct {
		name    string
		doc     string
		ids     []string
		wantMsg string
	}{
		{
			name:    "not xml",
			doc:     "<html>oops",
			ids:     []string{"1"},
			wantMsg: "malformed detail response",
		},
		{
			name:    "missing yearpublished",
			doc:     testutil.ThingsDocument(strings.Replace(full, `<yearpublished value="2017"/>`, "", 1)),
			ids:     []string{"1"},
			wantMsg: "item 1 field yearpublished: missing",
		},
		{
			name:    "no primary name",
			doc:     testutil.ThingsDocument(strings.Replace(full, `type="primary"`, `type="alternate"`, 1)),
			ids:     []string{"1"},
			wantMsg: "item 1 field name",
		},
		{
			name:    "minage without integer",
			doc:     testutil.ThingsDocument(strings.Replace(full, `<minage value="14"/>`, `<minage value="adults"/>`, 1)),
			ids:     []string{"1"},
			wantMsg: "item 1 field minage",
		},
		{
			name:    "uncoercible integer",
			doc:     testutil.ThingsDocument(strings.Replace(full, `<maxplayers value="4"/>`, `<maxplayers value="four"/>`, 1)),
			ids:     []string{"1"},
			wantMsg: "item 1 field maxplayers: not an integer",
		},
		{
			name:    "uncoercible float",
			doc:     testutil.ThingsDocument(strings.Replace(full, `<average value="8.7"/>`, `<average value=""/>`, 1)),
			ids:     []string{"1"},
			wantMsg: "item 1 field average: not a number",
		},
		{
			name:    "missing statistics",
			doc:     testutil.ThingsDocument(full[:strings.Index(full, "<statistics")] + "</item>"),
			ids:     []string{"1"},
			wantMsg: "item 1 field statistics",
		},
		{
			name:    "fewer items than identifiers",
			doc:     testutil.ThingsDocument(full),
			ids:     []string{"1", "2"},
			wantMsg: "got 1 items for 2 identifiers",
		},
		{
			name:    "reordered items",
			doc:     testutil.ThingsDocument(testutil.ThingItemXML("2"), full),
			ids:     []string{"1", "2"},
			wantMsg: "item 0 has id 2, requested 1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ParseDetailBatch([]byte(tt.doc), tt.ids)
			require.Error(t, err)
			assert.Nil(t, records)
			assert.ErrorIs(t, err, ErrMalformedResponse)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
