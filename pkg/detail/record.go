// Package detail fetches full catalog records for lists of identifiers from
// the batched XML detail API.
package detail

import "errors"

// ErrMalformedResponse is returned when a detail response cannot be mapped to records.
var ErrMalformedResponse = errors.New("malformed detail response")

// Link types selected into the tag lists of a Record.
const (
	LinkCategory = "boardgamecategory"
	LinkMechanic = "boardgamemechanic"
	LinkDesigner = "boardgamedesigner"
	LinkArtist   = "boardgameartist"
)

// Record is the fully populated description of one game.
type Record struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	Year        int `json:"year"`
	MinPlayers  int `json:"min_players"`
	MaxPlayers  int `json:"max_players"`
	MinPlaytime int `json:"min_playtime"`
	MaxPlaytime int `json:"max_playtime"`
	MinAge      int `json:"min_age"`

	Categories []string `json:"categories"`
	Mechanics  []string `json:"mechanics"`
	Designers  []string `json:"designers"`
	Artists    []string `json:"artists"`

	UsersRated    int     `json:"users_rated"`
	Average       float64 `json:"average"`
	BayesAverage  float64 `json:"bayes_average"`
	StdDev        float64 `json:"stddev"`
	AverageWeight float64 `json:"average_weight"`
}
