// Package router dispatches chat commands to the quiz services and hosts
// the multi-step question wizard. It only knows ports; the app wires the
// concrete services behind them.
package router

import (
	"context"
	"time"

	"quizbot/internal/config"
	"quizbot/internal/quiz"
	"quizbot/internal/scheduler"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type Access int

const (
	AccessEveryone Access = iota
	AccessAdminOnly
)

type Command struct {
	Route       string // e.g. "day", "addslot"
	Description string
	Usage       string
	Access      Access
	Timeout     time.Duration // optional per-command override
	Handle      HandlerFunc
}

type Request struct {
	Update  kit.Update
	Chat    kit.ChatTarget
	FromID  int64
	From    string
	Command string
	Args    []string

	Adapter kit.Adapter
	Config  *config.Config
	Logger  logx.Logger
}

// Reply sends HTML text back to the originating chat.
func (r *Request) Reply(ctx context.Context, text string) error {
	_, err := r.Adapter.SendText(ctx, r.Chat, text, &kit.SendOptions{
		ParseMode:      "HTML",
		DisablePreview: true,
	})
	return err
}

// PhotoFileID returns the attached photo's file_id, if any.
func (r *Request) PhotoFileID() string {
	if r.Update.Message == nil {
		return ""
	}
	return r.Update.Message.PhotoFileID
}

// SlotsPort is the slot registry surface the commands use.
type SlotsPort interface {
	Add(ctx context.Context, name string, hour, minute int) (quiz.Slot, error)
	Edit(ctx context.Context, name string, hour, minute int) (quiz.Slot, error)
	Remove(ctx context.Context, name string) error
	ListActive(ctx context.Context) ([]quiz.Slot, error)
}

// QuestionsPort covers question management for the wizard and /quiz.
type QuestionsPort interface {
	AddQuestion(ctx context.Context, q quiz.Question) (int64, error)
	QuestionByID(ctx context.Context, id int64) (quiz.Question, error)
	UpdateQuestion(ctx context.Context, q quiz.Question) error
	DeactivateQuestion(ctx context.Context, id int64) error
}

// BoardsPort renders leaderboard and statistics text for a reference instant.
type BoardsPort interface {
	DailyReport(ctx context.Context, at time.Time) (string, error)
	WeeklyReport(ctx context.Context, at time.Time) (string, error)
	StatsReport(ctx context.Context, at time.Time, weekly bool) (string, error)
}

// SchedulerPort exposes the trigger plan to operational commands.
type SchedulerPort interface {
	FireNow(ctx context.Context, slot string) error
	Snapshot() scheduler.Snapshot
}

// AnswersPort receives poll answers pulled off the update stream.
type AnswersPort interface {
	HandleAnswer(ctx context.Context, pa kit.PollAnswer) error
}

type Services struct {
	Slots     SlotsPort
	Questions QuestionsPort
	Boards    BoardsPort
	Scheduler SchedulerPort
	Answers   AnswersPort

	// Now is injectable for tests; defaults to time.Now.
	Now func() time.Time
}
