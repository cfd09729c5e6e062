// Package campaign holds the static training progression: the ordered list of
// tracks and the fixed rule deciding which levels a pass unlocks.
package campaign

import (
	"errors"
	"fmt"
	"strings"

	"datecoach/internal/domain"
)

// ErrInvalidLevel is returned when a level outside {1,2,3} reaches the unlock rule.
var ErrInvalidLevel = errors.New("invalid level")

// DefaultTracks is the reference campaign order.
var DefaultTracks = []domain.Track{
	"first_contact",
	"keep_conversation",
	"losing_interest",
	"rejections",
	"ask_for_date",
	"intimacy_boundaries",
	"after_date",
}

// Graph is an immutable ordered list of tracks. The zero value has no tracks.
type Graph struct {
	order []domain.Track
	index map[domain.Track]int
}

// New builds a graph from an ordered track list.
func New(tracks []domain.Track) (Graph, error) {
	if len(tracks) == 0 {
		return Graph{}, errors.New("campaign requires at least one track")
	}
	g := Graph{
		order: make([]domain.Track, 0, len(tracks)),
		index: make(map[domain.Track]int, len(tracks)),
	}
	for _, t := range tracks {
		if strings.TrimSpace(string(t)) == "" {
			return Graph{}, errors.New("campaign track id is empty")
		}
		if _, dup := g.index[t]; dup {
			return Graph{}, fmt.Errorf("campaign track %s listed twice", t)
		}
		g.index[t] = len(g.order)
		g.order = append(g.order, t)
	}
	return g, nil
}

// Default returns the seven-track reference campaign.
func Default() Graph {
	g, err := New(DefaultTracks)
	if err != nil {
		panic(err)
	}
	return g
}

// Tracks returns a copy of the track order.
func (g Graph) Tracks() []domain.Track {
	out := make([]domain.Track, len(g.order))
	copy(out, g.order)
	return out
}

func (g Graph) Contains(t domain.Track) bool {
	_, ok := g.index[t]
	return ok
}

// NextTrack returns the track after t, or false when t is last or unknown.
func (g Graph) NextTrack(t domain.Track) (domain.Track, bool) {
	i, ok := g.index[t]
	if !ok || i+1 >= len(g.order) {
		return "", false
	}
	return g.order[i+1], true
}

// UnlockTargets returns the cells a pass of (t, level) unlocks:
//
//	level 1 -> (t,2)
//	level 2 -> (t,3) and (next(t),1) when a next track exists
//	level 3 -> nothing
func (g Graph) UnlockTargets(t domain.Track, level domain.Level) ([]domain.Unlock, error) {
	switch level {
	case domain.LevelEasy:
		return []domain.Unlock{{Track: t, Level: domain.LevelMedium}}, nil
	case domain.LevelMedium:
		targets := []domain.Unlock{{Track: t, Level: domain.LevelHard}}
		if next, ok := g.NextTrack(t); ok {
			targets = append(targets, domain.Unlock{Track: next, Level: domain.LevelEasy})
		}
		return targets, nil
	case domain.LevelHard:
		return []domain.Unlock{}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidLevel, level)
	}
}

// Bootstrap is the set unlocked by onboarding: levels 1 and 2 of the first
// track and level 1 of the second.
func (g Graph) Bootstrap() []domain.Unlock {
	if len(g.order) == 0 {
		return nil
	}
	out := []domain.Unlock{
		{Track: g.order[0], Level: domain.LevelEasy},
		{Track: g.order[0], Level: domain.LevelMedium},
	}
	if len(g.order) > 1 {
		out = append(out, domain.Unlock{Track: g.order[1], Level: domain.LevelEasy})
	}
	return out
}
