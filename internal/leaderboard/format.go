package leaderboard

import (
	"fmt"
	"strings"

	"quizbot/internal/quiz"
)

var medals = []string{"\U0001F947", "\U0001F948", "\U0001F949", "4️⃣", "5️⃣"}

const (
	dailyHeader  = "\U0001F3C6 <b>Daily Top Performers</b>\n\n"
	weeklyHeader = "\U0001F4C5 <b>Weekly Leaderboard</b>\n\n"
	noEntries    = "No participants yet.\n"
)

// FormatBoard renders one board as Telegram HTML.
func FormatBoard(entries []quiz.LeaderboardEntry) string {
	if len(entries) == 0 {
		return noEntries
	}
	var b strings.Builder
	for i, e := range entries {
		medal := fmt.Sprintf("%d.", e.Rank)
		if i < len(medals) {
			medal = medals[i]
		}
		name := e.Username
		if name == "" {
			name = fmt.Sprintf("User %d", e.UserID)
		}
		if !strings.HasPrefix(name, "@") {
			name = "@" + name
		}
		fmt.Fprintf(&b, "%s %s - %d pts (%s)\n", medal, name, e.Score, FormatSeconds(e.TotalTime))
	}
	return b.String()
}

// FormatDaily renders the daily board with its header.
func FormatDaily(entries []quiz.LeaderboardEntry) string {
	return dailyHeader + FormatBoard(entries)
}

// FormatWeekly renders the weekly board with its header.
func FormatWeekly(entries []quiz.LeaderboardEntry) string {
	return weeklyHeader + FormatBoard(entries)
}

// FormatReport renders the combined nightly report.
func (r Report) FormatReport() string {
	var b strings.Builder
	b.WriteString(dailyHeader)
	b.WriteString(FormatBoard(r.Daily))
	b.WriteString("\n")
	b.WriteString(weeklyHeader)
	b.WriteString(FormatBoard(r.Weekly))
	return b.String()
}

// FormatSeconds renders a duration in seconds as "5s", "2m 3s" or "1h 4m 5s".
func FormatSeconds(seconds int64) string {
	if seconds < 60 {
		return fmt.Sprintf("%ds", seconds)
	}
	minutes, secs := seconds/60, seconds%60
	if minutes < 60 {
		return fmt.Sprintf("%dm %ds", minutes, secs)
	}
	return fmt.Sprintf("%dh %dm %ds", minutes/60, minutes%60, secs)
}

// Stats is the admin day/week report: totals plus every participant,
// not truncated to the leaderboard size.
type Stats struct {
	TotalCorrect int
	TotalWrong   int
	Users        []UserStats
}

// UserStats is one participant's line in the admin report.
type UserStats struct {
	UserID    int64
	Username  string
	Correct   int
	Wrong     int
	TotalTime int64
}

// Tally computes admin statistics over a window of responses.
// Users are ordered like the leaderboard (correct desc, time asc, first seen).
func Tally(rows []quiz.Response) Stats {
	var st Stats
	full := Rank(rows, len(rows)+1)
	wrongs := make(map[int64]int, len(full))
	for _, r := range rows {
		if r.Correct {
			st.TotalCorrect++
		} else {
			st.TotalWrong++
			wrongs[r.UserID]++
		}
	}
	for _, e := range full {
		st.Users = append(st.Users, UserStats{
			UserID:    e.UserID,
			Username:  e.Username,
			Correct:   e.Score,
			Wrong:     wrongs[e.UserID],
			TotalTime: e.TotalTime,
		})
	}
	return st
}

// FormatStats renders the admin report as a monospace table.
func FormatStats(title string, st Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\U0001F4CA <b>%s</b>\n\n", title)
	if len(st.Users) == 0 {
		b.WriteString("No data available for this period.")
		return b.String()
	}
	fmt.Fprintf(&b, "Total Correct: %d\nTotal Wrong: %d\n\n<pre>", st.TotalCorrect, st.TotalWrong)
	fmt.Fprintf(&b, "%-20s | %-7s | %-7s | %s\n", "User", "Correct", "Wrong", "Time")
	for _, u := range st.Users {
		name := u.Username
		if name == "" {
			name = fmt.Sprintf("%d", u.UserID)
		}
		if len(name) > 20 {
			name = name[:20]
		}
		fmt.Fprintf(&b, "%-20s | %-7d | %-7d | %s\n", name, u.Correct, u.Wrong, FormatSeconds(u.TotalTime))
	}
	b.WriteString("</pre>")
	return b.String()
}
