package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"quizbot/internal/config"
	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type sentText struct {
	ChatID int64
	Text   string
}

type sentPoll struct {
	ChatID int64
	Poll   kit.QuizPoll
	Ref    kit.PollRef
}

// fakeAdapter records sends and can be told to fail the first N attempts
// per chat, which exercises the retry paths.
type fakeAdapter struct {
	mu        sync.Mutex
	texts     []sentText
	polls     []sentPoll
	failPolls map[int64]int
	failTexts map[int64]int
	seq       int
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{failPolls: map[int64]int{}, failTexts: map[int64]int{}}
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }

func (f *fakeAdapter) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTexts[to.ChatID] > 0 {
		f.failTexts[to.ChatID]--
		return kit.MessageRef{}, errors.New("send failed")
	}
	f.texts = append(f.texts, sentText{ChatID: to.ChatID, Text: text})
	return kit.MessageRef{ChatID: to.ChatID, MessageID: len(f.texts)}, nil
}

func (f *fakeAdapter) SendQuizPoll(_ context.Context, to kit.ChatTarget, poll kit.QuizPoll) (kit.PollRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPolls[to.ChatID] > 0 {
		f.failPolls[to.ChatID]--
		return kit.PollRef{}, errors.New("send failed")
	}
	f.seq++
	ref := kit.PollRef{ChatID: to.ChatID, MessageID: f.seq, PollID: fmt.Sprintf("poll-%d", f.seq)}
	f.polls = append(f.polls, sentPoll{ChatID: to.ChatID, Poll: poll, Ref: ref})
	return ref, nil
}

func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}

func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) pollsTo(chatID int64) []sentPoll {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentPoll
	for _, p := range f.polls {
		if p.ChatID == chatID {
			out = append(out, p)
		}
	}
	return out
}

func (f *fakeAdapter) textsTo(chatID int64) []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []sentText
	for _, t := range f.texts {
		if t.ChatID == chatID {
			out = append(out, t)
		}
	}
	return out
}

func testConfig() *config.Config {
	return &config.Config{
		Telegram: config.TelegramConfig{
			Token: "test-token",
			Groups: []config.GroupConfig{
				{Key: "alpha", Name: "Alpha", ChatID: -100},
				{Key: "beta", Name: "Beta", ChatID: -200},
			},
		},
	}
}

func testEngine(t *testing.T, ad *fakeAdapter) (*Engine, *storage.Memory) {
	t.Helper()
	st := storage.NewMemory()
	cfg := testConfig()
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		t.Fatalf("load location: %v", err)
	}
	e := NewEngine(st, ad, func() *config.Config { return cfg }, func() *time.Location { return loc }, logx.Nop())
	return e, st
}

func addTestQuestion(t *testing.T, st *storage.Memory, slot, targets string) int64 {
	t.Helper()
	id, err := st.AddQuestion(context.Background(), quiz.Question{
		Text:          "Capital of France?",
		Options:       [4]string{"Paris", "Lyon", "Nice", "Lille"},
		CorrectOption: quiz.OptionA,
		Slot:          slot,
		Active:        true,
		TargetGroups:  targets,
	})
	if err != nil {
		t.Fatalf("add question: %v", err)
	}
	return id
}

func TestPostSlotDeliversToAllGroups(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	id := addTestQuestion(t, st, "morning", quiz.TargetAllGroups)

	firedAt := time.Date(2026, 9, 1, 9, 0, 0, 0, time.UTC)
	e.now = func() time.Time { return firedAt }

	if err := e.PostSlot(context.Background(), "morning"); err != nil {
		t.Fatalf("PostSlot: %v", err)
	}
	if got := len(ad.pollsTo(-100)); got != 1 {
		t.Fatalf("alpha polls = %d, want 1", got)
	}
	if got := len(ad.pollsTo(-200)); got != 1 {
		t.Fatalf("beta polls = %d, want 1", got)
	}

	// Each delivery is keyed by its poll ID for answer attribution.
	for _, p := range ad.polls {
		post, err := st.PostByPollID(context.Background(), p.Ref.PollID)
		if err != nil {
			t.Fatalf("PostByPollID(%s): %v", p.Ref.PollID, err)
		}
		if post.QuestionID != id || !post.PostedAt.Equal(firedAt) {
			t.Fatalf("post = %+v", post)
		}
	}

	// The question is consumed; the next fire stays quiet.
	if err := e.PostSlot(context.Background(), "morning"); err != nil {
		t.Fatalf("second PostSlot: %v", err)
	}
	if got := len(ad.polls); got != 2 {
		t.Fatalf("polls after empty fire = %d, want 2", got)
	}
}

func TestPostSlotHonorsTargetGroups(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	addTestQuestion(t, st, "morning", "beta")

	if err := e.PostSlot(context.Background(), "morning"); err != nil {
		t.Fatalf("PostSlot: %v", err)
	}
	if got := len(ad.pollsTo(-100)); got != 0 {
		t.Fatalf("alpha polls = %d, want 0", got)
	}
	if got := len(ad.pollsTo(-200)); got != 1 {
		t.Fatalf("beta polls = %d, want 1", got)
	}
}

func TestPostSlotRetriesTransientFailure(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	addTestQuestion(t, st, "morning", quiz.TargetAllGroups)
	ad.mu.Lock()
	ad.failPolls[-100] = 1 // first attempt to alpha fails, retry succeeds
	ad.mu.Unlock()

	if err := e.PostSlot(context.Background(), "morning"); err != nil {
		t.Fatalf("PostSlot: %v", err)
	}
	if got := len(ad.pollsTo(-100)); got != 1 {
		t.Fatalf("alpha polls = %d, want 1", got)
	}
}

func TestPostSlotAllDeliveriesFailKeepsQuestion(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	id := addTestQuestion(t, st, "morning", quiz.TargetAllGroups)
	ad.mu.Lock()
	ad.failPolls[-100] = 2
	ad.failPolls[-200] = 2
	ad.mu.Unlock()

	if err := e.PostSlot(context.Background(), "morning"); err == nil {
		t.Fatal("PostSlot succeeded with no delivery")
	}
	// Still unposted, so the next fire retries it.
	q, err := st.NextUnposted(context.Background(), "morning")
	if err != nil {
		t.Fatalf("NextUnposted: %v", err)
	}
	if q.ID != id {
		t.Fatalf("next question = %d, want %d", q.ID, id)
	}
}

// postOne posts the slot's question and returns the poll ID delivered to
// the alpha group.
func postOne(t *testing.T, e *Engine, ad *fakeAdapter, firedAt time.Time) string {
	t.Helper()
	e.now = func() time.Time { return firedAt }
	if err := e.PostSlot(context.Background(), "morning"); err != nil {
		t.Fatalf("PostSlot: %v", err)
	}
	polls := ad.pollsTo(-100)
	if len(polls) == 0 {
		t.Fatal("no poll delivered to alpha")
	}
	return polls[len(polls)-1].Ref.PollID
}

func TestHandleAnswerFreezesCalendarFields(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	addTestQuestion(t, st, "morning", quiz.TargetAllGroups)

	// 2026-09-01 09:00 IST; IST is UTC+5:30.
	postedAt := time.Date(2026, 9, 1, 3, 30, 0, 0, time.UTC)
	pollID := postOne(t, e, ad, postedAt)

	answeredAt := postedAt.Add(42 * time.Second)
	e.now = func() time.Time { return answeredAt }
	err := e.HandleAnswer(context.Background(), kit.PollAnswer{
		PollID:      pollID,
		UserID:      7,
		Username:    "asha",
		OptionIndex: 0,
	})
	if err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}

	rows, err := st.ResponsesByDate(context.Background(), "2026-09-01")
	if err != nil {
		t.Fatalf("ResponsesByDate: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("responses = %d, want 1", len(rows))
	}
	r := rows[0]
	if !r.Correct {
		t.Error("answer A should be correct")
	}
	if r.TimeTaken != 42 {
		t.Errorf("TimeTaken = %d, want 42", r.TimeTaken)
	}
	// ISO week of 2026-09-01 is week 36 of 2026.
	if r.WeekNumber != 202636 {
		t.Errorf("WeekNumber = %d, want 202636", r.WeekNumber)
	}
	if r.GroupKey != "alpha" {
		t.Errorf("GroupKey = %q, want alpha", r.GroupKey)
	}
}

func TestHandleAnswerWrongOption(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	addTestQuestion(t, st, "morning", quiz.TargetAllGroups)
	pollID := postOne(t, e, ad, time.Date(2026, 9, 1, 3, 30, 0, 0, time.UTC))

	err := e.HandleAnswer(context.Background(), kit.PollAnswer{PollID: pollID, UserID: 7, Username: "asha", OptionIndex: 2})
	if err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}
	rows, _ := st.ResponsesByDate(context.Background(), "2026-09-01")
	if len(rows) != 1 || rows[0].Correct {
		t.Fatalf("rows = %+v, want one incorrect response", rows)
	}
}

func TestHandleAnswerDuplicateIgnored(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	addTestQuestion(t, st, "morning", quiz.TargetAllGroups)
	pollID := postOne(t, e, ad, time.Date(2026, 9, 1, 3, 30, 0, 0, time.UTC))

	first := kit.PollAnswer{PollID: pollID, UserID: 7, Username: "asha", OptionIndex: 0}
	if err := e.HandleAnswer(context.Background(), first); err != nil {
		t.Fatalf("first answer: %v", err)
	}
	// A changed vote must not replace the original response.
	second := kit.PollAnswer{PollID: pollID, UserID: 7, Username: "asha", OptionIndex: 1}
	if err := e.HandleAnswer(context.Background(), second); err != nil {
		t.Fatalf("duplicate answer: %v", err)
	}
	rows, _ := st.ResponsesByDate(context.Background(), "2026-09-01")
	if len(rows) != 1 {
		t.Fatalf("responses = %d, want 1", len(rows))
	}
	if !rows[0].Correct {
		t.Error("original response was replaced")
	}
}

func TestHandleAnswerIgnoresRetractionsAndForeignPolls(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)

	err := e.HandleAnswer(context.Background(), kit.PollAnswer{PollID: "someone-elses-poll", UserID: 7, OptionIndex: 1})
	if err != nil {
		t.Fatalf("foreign poll: %v", err)
	}
	err = e.HandleAnswer(context.Background(), kit.PollAnswer{PollID: "any", UserID: 7, OptionIndex: -1, VoteRetracted: true})
	if err != nil {
		t.Fatalf("retraction: %v", err)
	}
	rows, _ := st.ResponsesByWeek(context.Background(), 202636)
	if len(rows) != 0 {
		t.Fatalf("responses = %d, want 0", len(rows))
	}
}

func TestNightlyReportsTheEndedDay(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	addTestQuestion(t, st, "morning", quiz.TargetAllGroups)

	// Sunday 2026-09-06 09:00 IST.
	postedAt := time.Date(2026, 9, 6, 3, 30, 0, 0, time.UTC)
	pollID := postOne(t, e, ad, postedAt)
	e.now = func() time.Time { return postedAt.Add(10 * time.Second) }
	err := e.HandleAnswer(context.Background(), kit.PollAnswer{PollID: pollID, UserID: 7, Username: "asha", OptionIndex: 0})
	if err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}

	// Midnight into Monday: the run reports the Sunday that just ended and
	// the week it closed.
	firedAt := time.Date(2026, 9, 6, 18, 30, 0, 0, time.UTC) // Mon 2026-09-07 00:00 IST
	if err := e.Nightly(context.Background(), firedAt); err != nil {
		t.Fatalf("Nightly: %v", err)
	}
	for _, chatID := range []int64{-100, -200} {
		texts := ad.textsTo(chatID)
		if len(texts) != 1 {
			t.Fatalf("chat %d got %d reports, want 1", chatID, len(texts))
		}
		if !strings.Contains(texts[0].Text, "asha") {
			t.Errorf("report for chat %d does not mention the scorer:\n%s", chatID, texts[0].Text)
		}
	}

	// The new week starts empty; Sunday's responses stay frozen in week 36.
	week, err := e.WeeklyReport(context.Background(), firedAt.Add(time.Minute))
	if err != nil {
		t.Fatalf("WeeklyReport: %v", err)
	}
	if strings.Contains(week, "asha") {
		t.Errorf("new week still credits last week's scorer:\n%s", week)
	}
}

func TestNightlyRetriesFailedSend(t *testing.T) {
	ad := newFakeAdapter()
	e, _ := testEngine(t, ad)
	ad.mu.Lock()
	ad.failTexts[-100] = 1
	ad.mu.Unlock()

	if err := e.Nightly(context.Background(), time.Date(2026, 9, 2, 18, 30, 0, 0, time.UTC)); err != nil {
		t.Fatalf("Nightly: %v", err)
	}
	if got := len(ad.textsTo(-100)); got != 1 {
		t.Fatalf("alpha reports = %d, want 1", got)
	}
	if got := len(ad.textsTo(-200)); got != 1 {
		t.Fatalf("beta reports = %d, want 1", got)
	}
}

func TestBoardsUseTheConfiguredTimezone(t *testing.T) {
	ad := newFakeAdapter()
	e, st := testEngine(t, ad)
	addTestQuestion(t, st, "morning", quiz.TargetAllGroups)

	postedAt := time.Date(2026, 9, 1, 3, 30, 0, 0, time.UTC)
	pollID := postOne(t, e, ad, postedAt)
	e.now = func() time.Time { return postedAt.Add(5 * time.Second) }
	err := e.HandleAnswer(context.Background(), kit.PollAnswer{PollID: pollID, UserID: 7, Username: "asha", OptionIndex: 0})
	if err != nil {
		t.Fatalf("HandleAnswer: %v", err)
	}

	day, err := e.DailyReport(context.Background(), postedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("DailyReport: %v", err)
	}
	if !strings.Contains(day, "asha") {
		t.Errorf("daily board misses scorer:\n%s", day)
	}
	stats, err := e.StatsReport(context.Background(), postedAt.Add(time.Hour), false)
	if err != nil {
		t.Fatalf("StatsReport: %v", err)
	}
	if !strings.Contains(stats, "2026-09-01") {
		t.Errorf("stats title misses local date:\n%s", stats)
	}
}
