// Package transport defines the platform-neutral contract between the quiz
// core and the chat transport. The core never talks to Telegram directly;
// it sees an Adapter plus a stream of Updates.
package transport

import "context"

type UpdateKind string

const (
	UpdateMessage    UpdateKind = "message"
	UpdateCallback   UpdateKind = "callback"
	UpdatePollAnswer UpdateKind = "poll_answer"
)

type Update struct {
	Kind       UpdateKind
	Message    *Message
	Callback   *Callback
	PollAnswer *PollAnswer
}

type Message struct {
	ID           int
	ChatID       int64
	FromID       int64
	FromUsername string
	Text         string
	// PhotoFileID is set when the message carries a photo; Text then holds
	// the caption.
	PhotoFileID string
	IsGroup     bool
}

type Callback struct {
	ID        string
	FromID    int64
	ChatID    int64
	MessageID int
	Data      string
}

// PollAnswer is a user's (non-anonymous) vote on a quiz poll.
type PollAnswer struct {
	PollID        string
	UserID        int64
	Username      string
	OptionIndex   int // zero-based; -1 when the vote was retracted
	VoteRetracted bool
}

type ChatTarget struct {
	ChatID int64
}

type MessageRef struct {
	ChatID    int64
	MessageID int
}

type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyMarkup    any // adapter-specific markup (Telegram: *telebot.ReplyMarkup)
}

// QuizPoll is one question rendered as a native quiz poll, optionally
// preceded by a photo + caption message.
type QuizPoll struct {
	Question     string
	Options      []string
	CorrectIndex int
	PhotoFileID  string
	Caption      string
}

// PollRef identifies a sent quiz poll; PollID keys answer attribution.
type PollRef struct {
	ChatID    int64
	MessageID int
	PollID    string
}

// Adapter is the notification sink contract. Sends may fail transiently;
// callers retry once and then report, they never abort the scheduling loop.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
	SendQuizPoll(ctx context.Context, to ChatTarget, poll QuizPoll) (PollRef, error)
	EditText(ctx context.Context, ref MessageRef, text string, opt *SendOptions) error
	AnswerCallback(ctx context.Context, callbackID string, text string) error
}

// BotCommand is one entry of the bot's command menu.
type BotCommand struct {
	Command     string
	Description string
}

// CommandMenuUpdater is optionally implemented by adapters that can publish
// a platform command menu (Telegram setMyCommands).
type CommandMenuUpdater interface {
	UpdateMenuCommands(ctx context.Context, cmds []BotCommand) error
}
