package router

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"quizbot/internal/config"
	"quizbot/internal/quiz"
	"quizbot/internal/scheduler"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

type fakeAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeAdapter) Start(context.Context, chan<- kit.Update) error { return nil }
func (f *fakeAdapter) Stop(context.Context) error                     { return nil }
func (f *fakeAdapter) SendText(_ context.Context, _ kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return kit.MessageRef{}, nil
}
func (f *fakeAdapter) SendQuizPoll(context.Context, kit.ChatTarget, kit.QuizPoll) (kit.PollRef, error) {
	return kit.PollRef{}, nil
}
func (f *fakeAdapter) EditText(context.Context, kit.MessageRef, string, *kit.SendOptions) error {
	return nil
}
func (f *fakeAdapter) AnswerCallback(context.Context, string, string) error { return nil }

func (f *fakeAdapter) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeAdapter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeSlots struct {
	slots   []quiz.Slot
	removed []string
}

func (f *fakeSlots) Add(_ context.Context, name string, hour, minute int) (quiz.Slot, error) {
	s := quiz.Slot{Name: name, Hour: hour, Minute: minute, Active: true}
	f.slots = append(f.slots, s)
	return s, nil
}
func (f *fakeSlots) Edit(_ context.Context, name string, hour, minute int) (quiz.Slot, error) {
	return quiz.Slot{Name: name, Hour: hour, Minute: minute, Active: true}, nil
}
func (f *fakeSlots) Remove(_ context.Context, name string) error {
	f.removed = append(f.removed, name)
	return nil
}
func (f *fakeSlots) ListActive(context.Context) ([]quiz.Slot, error) { return f.slots, nil }

type fakeQuestions struct {
	byID    map[int64]quiz.Question
	added   []quiz.Question
	updated []quiz.Question
}

func (f *fakeQuestions) AddQuestion(_ context.Context, q quiz.Question) (int64, error) {
	f.added = append(f.added, q)
	return int64(len(f.added)), nil
}
func (f *fakeQuestions) QuestionByID(_ context.Context, id int64) (quiz.Question, error) {
	if q, ok := f.byID[id]; ok {
		return q, nil
	}
	return quiz.Question{}, quiz.ErrNotFound
}
func (f *fakeQuestions) UpdateQuestion(_ context.Context, q quiz.Question) error {
	f.updated = append(f.updated, q)
	return nil
}
func (f *fakeQuestions) DeactivateQuestion(context.Context, int64) error { return nil }

type fakeBoards struct{}

func (fakeBoards) DailyReport(context.Context, time.Time) (string, error) {
	return "daily board", nil
}
func (fakeBoards) WeeklyReport(context.Context, time.Time) (string, error) {
	return "weekly board", nil
}
func (fakeBoards) StatsReport(context.Context, time.Time, bool) (string, error) {
	return "stats", nil
}

type fakeSched struct {
	fired []string
}

func (f *fakeSched) FireNow(_ context.Context, slot string) error {
	f.fired = append(f.fired, slot)
	return nil
}
func (f *fakeSched) Snapshot() scheduler.Snapshot { return scheduler.Snapshot{} }

type fakeAnswers struct {
	got []kit.PollAnswer
}

func (f *fakeAnswers) HandleAnswer(_ context.Context, pa kit.PollAnswer) error {
	f.got = append(f.got, pa)
	return nil
}

const adminID int64 = 42

func testRouter(t *testing.T) (*Router, *fakeAdapter, *fakeSlots, *fakeQuestions, *fakeSched, *fakeAnswers) {
	t.Helper()
	ad := &fakeAdapter{}
	slots := &fakeSlots{slots: []quiz.Slot{{Name: "morning", Hour: 9, Minute: 0, Active: true}}}
	qs := &fakeQuestions{byID: map[int64]quiz.Question{}}
	sched := &fakeSched{}
	ans := &fakeAnswers{}
	cfg := &config.Config{}
	cfg.Telegram.AdminUserIDs = []int64{adminID}
	r := New(ad, func() *config.Config { return cfg }, Services{
		Slots:     slots,
		Questions: qs,
		Boards:    fakeBoards{},
		Scheduler: sched,
		Answers:   ans,
	}, logx.Nop())
	return r, ad, slots, qs, sched, ans
}

func msg(from int64, text string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: -100, FromID: from, FromUsername: "tester", Text: text,
	}}
}

func photoMsg(from int64, fileID string) kit.Update {
	return kit.Update{Kind: kit.UpdateMessage, Message: &kit.Message{
		ChatID: -100, FromID: from, FromUsername: "tester", PhotoFileID: fileID,
	}}
}

func TestParseCommand(t *testing.T) {
	cases := []struct {
		in   string
		name string
		args int
		ok   bool
	}{
		{"/day", "day", 0, true},
		{"/addslot@QuizBot evening 20:00", "addslot", 2, true},
		{"/DAY", "day", 0, true},
		{"plain text", "", 0, false},
		{"/", "", 0, false},
	}
	for _, tc := range cases {
		name, args, ok := parseCommand(tc.in)
		if ok != tc.ok || name != tc.name || len(args) != tc.args {
			t.Errorf("parseCommand(%q) = (%q, %d args, %v), want (%q, %d, %v)",
				tc.in, name, len(args), ok, tc.name, tc.args, tc.ok)
		}
	}
}

func TestAdminGateSilentlyIgnoresOutsiders(t *testing.T) {
	r, ad, _, _, sched, _ := testRouter(t)
	r.handleUpdate(context.Background(), msg(7, "/fire morning"))
	if len(sched.fired) != 0 {
		t.Fatal("non-admin fired a slot")
	}
	if ad.count() != 0 {
		t.Fatalf("non-admin got a reply: %q", ad.last())
	}
}

func TestFireCommand(t *testing.T) {
	r, ad, _, _, sched, _ := testRouter(t)
	r.handleUpdate(context.Background(), msg(adminID, "/fire morning"))
	if len(sched.fired) != 1 || sched.fired[0] != "morning" {
		t.Fatalf("fired = %v", sched.fired)
	}
	if !strings.Contains(ad.last(), "morning") {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestDayCommandIsPublic(t *testing.T) {
	r, ad, _, _, _, _ := testRouter(t)
	r.handleUpdate(context.Background(), msg(7, "/day"))
	if ad.last() != "daily board" {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestPollAnswerRouted(t *testing.T) {
	r, _, _, _, _, ans := testRouter(t)
	r.handleUpdate(context.Background(), kit.Update{
		Kind:       kit.UpdatePollAnswer,
		PollAnswer: &kit.PollAnswer{PollID: "p1", UserID: 9, OptionIndex: 2},
	})
	if len(ans.got) != 1 || ans.got[0].PollID != "p1" {
		t.Fatalf("answers = %+v", ans.got)
	}
}

func TestAddQuizWizardHappyPath(t *testing.T) {
	r, ad, _, qs, _, _ := testRouter(t)
	ctx := context.Background()

	r.handleUpdate(ctx, msg(adminID, "/addquiz"))
	r.handleUpdate(ctx, msg(adminID, "What is the capital of France?"))
	r.handleUpdate(ctx, msg(adminID, "-"))
	r.handleUpdate(ctx, msg(adminID, "Paris\nLyon\nNice\nLille"))
	r.handleUpdate(ctx, msg(adminID, "a"))
	r.handleUpdate(ctx, msg(adminID, "morning"))
	if !strings.Contains(ad.last(), "post it next") {
		t.Fatalf("date prompt = %q", ad.last())
	}
	r.handleUpdate(ctx, msg(adminID, "-"))
	r.handleUpdate(ctx, msg(adminID, "yes"))

	if len(qs.added) != 1 {
		t.Fatalf("added = %d questions", len(qs.added))
	}
	q := qs.added[0]
	if q.Text != "What is the capital of France?" {
		t.Fatalf("text = %q", q.Text)
	}
	if q.ImageFileID != "" || q.ScheduledDate != "" {
		t.Fatalf("skipped fields not empty: %+v", q)
	}
	if q.Options[0] != "Paris" || q.Options[3] != "Lille" {
		t.Fatalf("options = %v", q.Options)
	}
	if q.CorrectOption != quiz.OptionA {
		t.Fatalf("correct = %q", q.CorrectOption)
	}
	if q.Slot != "morning" {
		t.Fatalf("slot = %q", q.Slot)
	}
	if !q.Active || q.TargetGroups != quiz.TargetAllGroups {
		t.Fatalf("defaults wrong: %+v", q)
	}
	if !strings.Contains(ad.last(), "#1") {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestAddQuizWizardRejectsWrongOptionCount(t *testing.T) {
	r, ad, _, qs, _, _ := testRouter(t)
	ctx := context.Background()

	r.handleUpdate(ctx, msg(adminID, "/addquiz"))
	r.handleUpdate(ctx, msg(adminID, "Q?"))
	r.handleUpdate(ctx, msg(adminID, "-"))
	r.handleUpdate(ctx, msg(adminID, "only\nthree\noptions"))
	if !strings.Contains(ad.last(), "4 options") {
		t.Fatalf("reply = %q", ad.last())
	}
	if len(qs.added) != 0 {
		t.Fatal("question saved prematurely")
	}
}

func TestCancelAbortsWizard(t *testing.T) {
	r, ad, _, qs, _, _ := testRouter(t)
	ctx := context.Background()

	r.handleUpdate(ctx, msg(adminID, "/addquiz"))
	r.handleUpdate(ctx, msg(adminID, "/cancel"))
	if !strings.Contains(ad.last(), "Cancelled") {
		t.Fatalf("reply = %q", ad.last())
	}
	// Plain text afterwards goes nowhere.
	r.handleUpdate(ctx, msg(adminID, "stray text"))
	if len(qs.added) != 0 {
		t.Fatal("wizard survived cancel")
	}
}

func TestWizardIsPerUser(t *testing.T) {
	r, _, _, qs, _, _ := testRouter(t)
	ctx := context.Background()

	r.handleUpdate(ctx, msg(adminID, "/addquiz"))
	// Another user's text in the same chat must not feed the wizard.
	r.handleUpdate(ctx, msg(7, "not the question"))
	r.handleUpdate(ctx, msg(adminID, "The real question?"))
	r.handleUpdate(ctx, msg(adminID, "-"))
	r.handleUpdate(ctx, msg(adminID, "a\nb\nc\nd"))
	r.handleUpdate(ctx, msg(adminID, "B"))
	r.handleUpdate(ctx, msg(adminID, "morning"))
	r.handleUpdate(ctx, msg(adminID, "-"))
	r.handleUpdate(ctx, msg(adminID, "yes"))

	if len(qs.added) != 1 || qs.added[0].Text != "The real question?" {
		t.Fatalf("added = %+v", qs.added)
	}
}

func TestAddQuizWizardCapturesPhoto(t *testing.T) {
	r, ad, _, qs, _, _ := testRouter(t)
	ctx := context.Background()

	r.handleUpdate(ctx, msg(adminID, "/addquiz"))
	r.handleUpdate(ctx, msg(adminID, "Name this landmark."))
	r.handleUpdate(ctx, photoMsg(adminID, "file-123"))
	r.handleUpdate(ctx, msg(adminID, "Eiffel Tower\nBig Ben\nColosseum\nTaj Mahal"))
	r.handleUpdate(ctx, msg(adminID, "a"))
	r.handleUpdate(ctx, msg(adminID, "morning"))
	r.handleUpdate(ctx, msg(adminID, "-"))
	if !strings.Contains(ad.last(), "Image: attached") {
		t.Fatalf("review = %q", ad.last())
	}
	r.handleUpdate(ctx, msg(adminID, "yes"))

	if len(qs.added) != 1 {
		t.Fatalf("added = %d questions", len(qs.added))
	}
	if qs.added[0].ImageFileID != "file-123" {
		t.Fatalf("image = %q", qs.added[0].ImageFileID)
	}
}

func TestEditQuizWizardUpdatesQuestion(t *testing.T) {
	r, ad, _, qs, _, _ := testRouter(t)
	qs.byID[3] = quiz.Question{
		ID: 3, Text: "Old text?",
		Options:       [4]string{"a", "b", "c", "d"},
		CorrectOption: quiz.OptionA,
		Slot:          "morning",
		Active:        true,
		TargetGroups:  quiz.TargetAllGroups,
	}
	ctx := context.Background()

	r.handleUpdate(ctx, msg(adminID, "/editquiz 3"))
	if !strings.Contains(ad.last(), "#3") {
		t.Fatalf("reply = %q", ad.last())
	}
	r.handleUpdate(ctx, msg(adminID, "New text?"))
	r.handleUpdate(ctx, msg(adminID, "-"))
	r.handleUpdate(ctx, msg(adminID, "w\nx\ny\nz"))
	r.handleUpdate(ctx, msg(adminID, "d"))
	r.handleUpdate(ctx, msg(adminID, "morning"))
	r.handleUpdate(ctx, msg(adminID, "-"))
	r.handleUpdate(ctx, msg(adminID, "yes"))

	if len(qs.updated) != 1 || len(qs.added) != 0 {
		t.Fatalf("updated = %d, added = %d", len(qs.updated), len(qs.added))
	}
	q := qs.updated[0]
	if q.ID != 3 || q.Text != "New text?" || q.CorrectOption != quiz.OptionD {
		t.Fatalf("updated question = %+v", q)
	}
	if !strings.Contains(ad.last(), "updated") {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestEditQuizUnknownID(t *testing.T) {
	r, ad, _, qs, _, _ := testRouter(t)
	ctx := context.Background()

	r.handleUpdate(ctx, msg(adminID, "/editquiz 9"))
	if !strings.Contains(ad.last(), "not found") {
		t.Fatalf("reply = %q", ad.last())
	}
	// No wizard started; stray text must not create a question.
	r.handleUpdate(ctx, msg(adminID, "stray"))
	if len(qs.added)+len(qs.updated) != 0 {
		t.Fatal("wizard started for missing question")
	}
}

func TestFireRejectsUnknownSlot(t *testing.T) {
	r, ad, _, _, sched, _ := testRouter(t)
	r.handleUpdate(context.Background(), msg(adminID, "/fire bogus"))
	if len(sched.fired) != 0 {
		t.Fatalf("fired = %v", sched.fired)
	}
	if strings.Contains(ad.last(), "Posting") || !strings.Contains(ad.last(), "bogus") {
		t.Fatalf("reply = %q", ad.last())
	}
}

func TestMenuCommandsExcludeAdmin(t *testing.T) {
	r, _, _, _, _, _ := testRouter(t)
	for _, c := range r.MenuCommands() {
		if c.Command == "fire" || c.Command == "addquiz" {
			t.Fatalf("admin command %q leaked into menu", c.Command)
		}
	}
}
