// Package quiz defines the domain records shared by storage, the slot
// registry, the scheduler handlers and the leaderboards.
package quiz

import (
	"fmt"
	"strings"
	"time"
)

// Option identifies one of the four answer options of a question.
type Option string

const (
	OptionA Option = "A"
	OptionB Option = "B"
	OptionC Option = "C"
	OptionD Option = "D"
)

// OptionFromIndex maps a zero-based poll option index to an Option.
func OptionFromIndex(i int) (Option, error) {
	if i < 0 || i > 3 {
		return "", fmt.Errorf("%w: option index %d", ErrValidation, i)
	}
	return Option('A' + byte(i)), nil
}

// Index returns the zero-based poll option index of o.
func (o Option) Index() int { return int(o[0] - 'A') }

// Valid reports whether o is one of A..D.
func (o Option) Valid() bool {
	return o == OptionA || o == OptionB || o == OptionC || o == OptionD
}

// TargetAllGroups is the Question.TargetGroups value meaning "post to every
// configured group".
const TargetAllGroups = "all"

// Question is an authored quiz question bound to a named slot.
//
// PostedAt is set exactly once, when the question goes out; response timing
// is measured against it. Questions referenced by responses are never
// deleted, only deactivated.
type Question struct {
	ID            int64
	Text          string
	ImageFileID   string // Telegram file_id, optional
	Options       [4]string
	CorrectOption Option
	Slot          string
	ScheduledDate string // YYYY-MM-DD
	WeekNumber    int
	Posted        bool
	PostedAt      time.Time
	Active        bool
	// TargetGroups is either TargetAllGroups or a comma separated list of
	// group keys from the configuration.
	TargetGroups string
}

// Targets expands TargetGroups against the configured group keys.
func (q Question) Targets(allKeys []string) []string {
	tg := strings.TrimSpace(q.TargetGroups)
	if tg == "" || tg == TargetAllGroups {
		return allKeys
	}
	parts := strings.Split(tg, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks an authored question before it is handed to storage.
func (q Question) Validate() error {
	if strings.TrimSpace(q.Text) == "" {
		return fmt.Errorf("%w: question text is empty", ErrValidation)
	}
	for i, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: option %s is empty", ErrValidation, Option('A'+byte(i)))
		}
	}
	if !q.CorrectOption.Valid() {
		return fmt.Errorf("%w: correct option %q", ErrValidation, string(q.CorrectOption))
	}
	if strings.TrimSpace(q.Slot) == "" {
		return fmt.Errorf("%w: slot is empty", ErrValidation)
	}
	return nil
}

// Response is one user's answer to one question. Immutable once stored;
// date and week are derived from the submission instant at write time and
// never recomputed.
type Response struct {
	ID         int64
	UserID     int64
	Username   string
	QuestionID int64
	Selected   Option
	Correct    bool
	AnsweredAt time.Time
	TimeTaken  int64 // seconds from posting to answering
	Date       string
	WeekNumber int
	GroupKey   string
}

// Slot is a named daily posting trigger.
type Slot struct {
	ID        int64
	Name      string
	Hour      int
	Minute    int
	Active    bool
	CreatedAt time.Time
}

// At formats the slot's time of day as HH:MM.
func (s Slot) At() string { return fmt.Sprintf("%02d:%02d", s.Hour, s.Minute) }

// Post records one delivery of a question to one group, keyed by the
// Telegram poll ID so poll answers can be attributed.
type Post struct {
	QuestionID int64
	GroupKey   string
	PollID     string
	PostedAt   time.Time
}

// LeaderboardEntry is a derived ranking row; never persisted.
type LeaderboardEntry struct {
	UserID    int64
	Username  string
	Score     int
	TotalTime int64 // seconds
	Rank      int
}
