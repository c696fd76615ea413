// Package leaderboard aggregates stored responses into ranked standings.
//
// It is a pure read-side projection: it owns no state and never mutates its
// input. Which rows fall into a window is decided by the caller (date or
// week key frozen into each response at write time).
package leaderboard

import (
	"sort"

	"quizbot/internal/quiz"
)

// DefaultSize is how many entries a board keeps unless configured otherwise.
const DefaultSize = 5

// Rank aggregates responses into a leaderboard of at most limit entries.
//
// Ordering is score descending, then total answer time ascending. When both
// are equal the user who answered first in the input stays ahead, which
// keeps output deterministic for identical inputs.
func Rank(rows []quiz.Response, limit int) []quiz.LeaderboardEntry {
	if limit <= 0 {
		limit = DefaultSize
	}
	if len(rows) == 0 {
		return nil
	}

	type acc struct {
		entry quiz.LeaderboardEntry
		seen  int // insertion order of the user's first response
	}
	byUser := make(map[int64]*acc, len(rows))
	order := make([]*acc, 0, len(rows))

	for _, r := range rows {
		a, ok := byUser[r.UserID]
		if !ok {
			a = &acc{entry: quiz.LeaderboardEntry{UserID: r.UserID, Username: r.Username}, seen: len(order)}
			byUser[r.UserID] = a
			order = append(order, a)
		}
		if r.Correct {
			a.entry.Score++
		}
		a.entry.TotalTime += r.TimeTaken
		if a.entry.Username == "" {
			a.entry.Username = r.Username
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		a, b := order[i].entry, order[j].entry
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.TotalTime != b.TotalTime {
			return a.TotalTime < b.TotalTime
		}
		return order[i].seen < order[j].seen
	})

	if len(order) > limit {
		order = order[:limit]
	}
	out := make([]quiz.LeaderboardEntry, len(order))
	for i, a := range order {
		a.entry.Rank = i + 1
		out[i] = a.entry
	}
	return out
}

// Report bundles the two boards the nightly job sends out.
type Report struct {
	Daily  []quiz.LeaderboardEntry
	Weekly []quiz.LeaderboardEntry
}

// Combined builds the nightly report from the two pre-selected windows.
// An empty window simply yields an empty board.
func Combined(daily, weekly []quiz.Response, limit int) Report {
	return Report{
		Daily:  Rank(daily, limit),
		Weekly: Rank(weekly, limit),
	}
}
