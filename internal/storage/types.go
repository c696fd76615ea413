package storage

import (
	"context"
	"time"

	"quizbot/internal/quiz"
)

// Config selects and configures the backend.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process store, used by tests
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the core. Implementations map
// constraint violations onto the quiz package's sentinel errors:
// quiz.ErrNotFound, quiz.ErrDuplicateSlot, quiz.ErrDuplicateResponse,
// quiz.ErrNoQuestion.
type Store interface {
	// Questions.
	AddQuestion(ctx context.Context, q quiz.Question) (int64, error)
	QuestionByID(ctx context.Context, id int64) (quiz.Question, error)
	UpdateQuestion(ctx context.Context, q quiz.Question) error
	// DeactivateQuestion soft-invalidates a question; rows referencing it
	// stay intact.
	DeactivateQuestion(ctx context.Context, id int64) error
	// NextUnposted returns the oldest active unposted question for a slot.
	NextUnposted(ctx context.Context, slot string) (quiz.Question, error)
	MarkPosted(ctx context.Context, id int64, at time.Time) error

	// Posts (one per question x group delivery).
	AddPost(ctx context.Context, p quiz.Post) error
	PostByPollID(ctx context.Context, pollID string) (quiz.Post, error)

	// Responses. AddResponse is atomic with respect to the
	// (user, question) uniqueness invariant.
	AddResponse(ctx context.Context, r quiz.Response) (int64, error)
	ResponsesByDate(ctx context.Context, date string) ([]quiz.Response, error)
	ResponsesByWeek(ctx context.Context, week int) ([]quiz.Response, error)

	// Slots.
	AddSlot(ctx context.Context, s quiz.Slot) (quiz.Slot, error)
	UpdateSlot(ctx context.Context, s quiz.Slot) error
	RemoveSlot(ctx context.Context, name string) error
	SlotByName(ctx context.Context, name string) (quiz.Slot, error)
	ActiveSlots(ctx context.Context) ([]quiz.Slot, error)

	Close() error
}
