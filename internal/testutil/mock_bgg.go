// Package testutil provides testing utilities for the catalog fetch pipeline.
package testutil

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
)

// Paths served by MockBGG.
const (
	BrowsePath = "/browse/boardgame"
	APIPath    = "/xmlapi2"
)

// MockResponse defines a canned response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
}

// MockBGG is a configurable mock of the ranked listing and the detail API.
// By default page p row r carries identifier RankID((p-1)*100+r), and every
// requested identifier gets a complete item from ThingItemXML.
type MockBGG struct {
	server *httptest.Server

	mu        sync.Mutex
	requests  []string
	counts    map[string]int
	failures  map[string][]MockResponse
	things    map[string]string
	pageSize  int
	lastQuery map[string]string
}

// NewMockBGG creates and starts a new mock server.
func NewMockBGG() *MockBGG {
	mock := &MockBGG{
		counts:    make(map[string]int),
		failures:  make(map[string][]MockResponse),
		things:    make(map[string]string),
		pageSize:  100,
		lastQuery: make(map[string]string),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockBGG) URL() string {
	return m.server.URL
}

// BrowseURL returns the listing base URL.
func (m *MockBGG) BrowseURL() string {
	return m.server.URL + BrowsePath
}

// APIURL returns the detail API base URL.
func (m *MockBGG) APIURL() string {
	return m.server.URL + APIPath
}

// Close shuts down the mock server.
func (m *MockBGG) Close() {
	m.server.Close()
}

// FailNext makes the next len(responses) requests to path answer with the given responses.
func (m *MockBGG) FailNext(path string, responses ...MockResponse) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = append(m.failures[path], responses...)
}

// SetThing overrides the XML item returned for id.
func (m *MockBGG) SetThing(id, itemXML string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.things[id] = itemXML
}

// Requests returns the request paths (with query) in arrival order.
func (m *MockBGG) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// RequestCount returns the number of requests made to paths starting with prefix.
func (m *MockBGG) RequestCount(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	total := 0
	for path, n := range m.counts {
		if strings.HasPrefix(path, prefix) {
			total += n
		}
	}
	return total
}

// LastQuery returns the last value of a query parameter seen by the server.
func (m *MockBGG) LastQuery(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastQuery[key]
}

func (m *MockBGG) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests = append(m.requests, r.URL.RequestURI())
	m.counts[r.URL.Path]++
	for key := range r.URL.Query() {
		m.lastQuery[key] = r.URL.Query().Get(key)
	}

	var injected *MockResponse
	if queue := m.failures[r.URL.Path]; len(queue) > 0 {
		injected = &queue[0]
		m.failures[r.URL.Path] = queue[1:]
	}
	m.mu.Unlock()

	if injected != nil {
		writeResponse(w, *injected)
		return
	}

	switch {
	case strings.HasPrefix(r.URL.Path, BrowsePath+"/page/"):
		m.handleListing(w, r)
	case r.URL.Path == APIPath+"/thing":
		m.handleThing(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (m *MockBGG) handleListing(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, BrowsePath+"/page/"))
	if err != nil || page < 1 {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ListingPageHTML(page, m.pageSize, RankID)))
}

func (m *MockBGG) handleThing(w http.ResponseWriter, r *http.Request) {
	ids := strings.Split(r.URL.Query().Get("id"), ",")

	m.mu.Lock()
	items := make([]string, 0, len(ids))
	for _, id := range ids {
		if custom, ok := m.things[id]; ok {
			items = append(items, custom)
			continue
		}
		items = append(items, ThingItemXML(id))
	}
	m.mu.Unlock()

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(ThingsDocument(items...)))
}

func writeResponse(w http.ResponseWriter, resp MockResponse) {
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

// RankID is the default identifier at a 1-based rank.
func RankID(rank int) string {
	return strconv.Itoa(100000 + rank)
}

// ListingPageHTML renders a listing page whose rows follow the remote markup:
// row i is div#results_objectname<i> wrapping a link to /boardgame/<id>/<slug>.
func ListingPageHTML(page, pageSize int, idForRank func(rank int) string) string {
	var b strings.Builder
	b.WriteString("<html><body><table id=\"collectionitems\">\n")
	for row := 1; row <= pageSize; row++ {
		rank := (page-1)*pageSize + row
		id := idForRank(rank)
		fmt.Fprintf(&b,
			"<tr id=\"row_\"><td class=\"collection_rank\">%d</td>"+
				"<td class=\"collection_objectname\"><div id=\"results_objectname%d\">"+
				"<a href=\"/boardgame/%s/game-%s\" class=\"primary\">Game %s</a></div></td></tr>\n",
			rank, row, id, id, id)
	}
	b.WriteString("</table></body></html>")
	return b.String()
}

// ThingItemXML renders a complete detail item for id with deterministic values.
func ThingItemXML(id string) string {
	return fmt.Sprintf(`<item type="boardgame" id="%[1]s">
  <name type="alternate" sortindex="1" value="Alt %[1]s"/>
  <name type="primary" sortindex="1" value="Game %[1]s"/>
  <yearpublished value="2017"/>
  <minplayers value="1"/>
  <maxplayers value="4"/>
  <playingtime value="120"/>
  <minplaytime value="60"/>
  <maxplaytime value="120"/>
  <minage value="14"/>
  <link type="boardgamecategory" id="1022" value="Adventure"/>
  <link type="boardgamecategory" id="1020" value="Exploration"/>
  <link type="boardgamemechanic" id="2023" value="Cooperative Game"/>
  <link type="boardgamedesigner" id="12345" value="Isaac Childres"/>
  <link type="boardgameartist" id="77084" value="Alexandr Elichev"/>
  <link type="boardgamepublisher" id="27425" value="Cephalofair Games"/>
  <statistics page="1">
    <ratings>
      <usersrated value="42000"/>
      <average value="8.7"/>
      <bayesaverage value="8.4"/>
      <stddev value="1.6"/>
      <median value="0"/>
      <averageweight value="3.9"/>
    </ratings>
  </statistics>
</item>`, id)
}

// ThingsDocument wraps items in the detail API envelope.
func ThingsDocument(items ...string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` + "\n" +
		`<items termsofuse="https://boardgamegeek.com/xmlapi/termsofuse">` + "\n" +
		strings.Join(items, "\n") + "\n</items>"
}
