// Package oracle is the client side of the screenshot verification service:
// given a match screenshot and the game it came from, the service reads the
// final score and reports how confident it is in that reading.
package oracle

import (
	"context"
	"errors"
	"strings"

	"github.com/gosimple/slug"
)

// Errors returned by verifiers. ErrUnavailable is retryable; ErrRejected is
// not (the request itself was refused).
var (
	ErrUnavailable = errors.New("oracle unavailable")
	ErrRejected    = errors.New("oracle rejected request")
)

// Request is one screenshot to read.
type Request struct {
	Image       []byte
	ContentType string
	GameType    string
	GameMode    string
	Region      RegionSpec
}

// Result is the oracle's reading of a screenshot. Raw is the opaque payload
// returned by the service, kept for moderators.
type Result struct {
	Score      int     `json:"score"`
	Confidence float64 `json:"confidence"`
	Raw        string  `json:"-"`
}

// Verifier reads scores from screenshots.
type Verifier interface {
	Verify(ctx context.Context, req Request) (*Result, error)
}

// RegionSpec tells the service where on screen the score is rendered for a
// game/mode. Coordinates are fractions of the image size.
type RegionSpec struct {
	Key    string     `json:"key"`
	Box    [4]float64 `json:"box"` // x, y, width, height
	Digits int        `json:"digits"`
}

// DefaultRegion is used for games without a tuned spec; the service then
// scans the whole frame.
var DefaultRegion = RegionSpec{Key: "default", Box: [4]float64{0, 0, 1, 1}, Digits: 3}

// regions is keyed by GameKey.
var regions = map[string]RegionSpec{
	"chess/blitz":                {Box: [4]float64{0.30, 0.40, 0.40, 0.20}, Digits: 1},
	"chess/rapid":                {Box: [4]float64{0.30, 0.40, 0.40, 0.20}, Digits: 1},
	"fortnite/zero-build":        {Box: [4]float64{0.70, 0.02, 0.28, 0.10}, Digits: 2},
	"call-of-duty/gunfight":      {Box: [4]float64{0.40, 0.02, 0.20, 0.08}, Digits: 2},
	"rocket-league/1v1":          {Box: [4]float64{0.38, 0.00, 0.24, 0.10}, Digits: 2},
	"street-fighter-6/ranked":    {Box: [4]float64{0.35, 0.05, 0.30, 0.10}, Digits: 1},
	"ea-sports-fc/kick-off":      {Box: [4]float64{0.02, 0.02, 0.30, 0.08}, Digits: 2},
	"valorant/deathmatch":        {Box: [4]float64{0.40, 0.00, 0.20, 0.08}, Digits: 2},
	"super-smash-bros-ultimate/": {Box: [4]float64{0.10, 0.70, 0.80, 0.25}, Digits: 3},
}

func init() {
	for k, r := range regions {
		r.Key = k
		regions[k] = r
	}
}

// GameKey normalizes a game type and mode into a stable lookup key, e.g.
// ("Call of Duty", "Gunfight") -> "call-of-duty/gunfight".
func GameKey(gameType, gameMode string) string {
	return slug.Make(gameType) + "/" + slug.Make(gameMode)
}

// Region returns the verification region for a game/mode. An exact match wins, then a
// game-wide entry (empty mode), then DefaultRegion.
func Region(gameType, gameMode string) RegionSpec {
	key := GameKey(gameType, gameMode)
	if r, ok := regions[key]; ok {
		return r
	}
	game := key[:strings.IndexByte(key, '/')+1]
	if r, ok := regions[game]; ok {
		return r
	}
	return DefaultRegion
}

// Unconfigured is the verifier used when no oracle endpoint is set. Every
// call reports the oracle as unavailable so players fall back to mutual or
// moderator verification.
type Unconfigured struct{}

// Verify implements Verifier.
func (Unconfigured) Verify(context.Context, Request) (*Result, error) {
	return nil, ErrUnavailable
}
