package router

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"quizbot/internal/quiz"
)

// wizardSession collects a question over several messages:
// text → image → options → correct letter → slot → date → review → save.
// One session per (chat, user); /cancel aborts it. A session seeded with an
// existing question updates it instead of inserting.
type wizardSession struct {
	services Services
	state    wizardState
	draft    quiz.Question
}

type wizardState int

const (
	wizardQuestion wizardState = iota
	wizardImage
	wizardOptions
	wizardCorrect
	wizardSlot
	wizardDate
	wizardConfirm
)

func newWizardSession(services Services, draft quiz.Question) *wizardSession {
	if draft.ID == 0 {
		draft.Active = true
		draft.TargetGroups = quiz.TargetAllGroups
	}
	return &wizardSession{services: services, draft: draft}
}

func (w *wizardSession) editing() bool { return w.draft.ID != 0 }

func (w *wizardSession) begin(ctx context.Context, req *Request) {
	if w.editing() {
		_ = req.Reply(ctx, fmt.Sprintf("✏️ Editing question #%d. Send the new question text (or /cancel).", w.draft.ID))
		return
	}
	_ = req.Reply(ctx, "📝 New question. Send the question text (or /cancel).")
}

// step consumes one message and returns true when the session is finished.
func (w *wizardSession) step(ctx context.Context, req *Request, text string) bool {
	text = strings.TrimSpace(text)
	switch w.state {
	case wizardQuestion:
		if text == "" {
			_ = req.Reply(ctx, "Question text cannot be empty. Try again.")
			return false
		}
		w.draft.Text = text
		w.state = wizardImage
		_ = req.Reply(ctx, "Send a photo for the question, or \"-\" for none.")
		return false

	case wizardImage:
		if pid := req.PhotoFileID(); pid != "" {
			w.draft.ImageFileID = pid
		} else if text == "-" {
			w.draft.ImageFileID = ""
		} else {
			_ = req.Reply(ctx, "Send a photo, or \"-\" for none.")
			return false
		}
		w.state = wizardOptions
		_ = req.Reply(ctx, "Send the four answer options, one per line.")
		return false

	case wizardOptions:
		lines := nonEmptyLines(text)
		if len(lines) != 4 {
			_ = req.Reply(ctx, fmt.Sprintf("Need exactly 4 options, got %d. Send them again, one per line.", len(lines)))
			return false
		}
		copy(w.draft.Options[:], lines)
		w.state = wizardCorrect
		_ = req.Reply(ctx, "Which option is correct? (A, B, C or D)")
		return false

	case wizardCorrect:
		opt := quiz.Option(strings.ToUpper(text))
		if !opt.Valid() {
			_ = req.Reply(ctx, "Answer with A, B, C or D.")
			return false
		}
		w.draft.CorrectOption = opt
		w.state = wizardSlot
		_ = req.Reply(ctx, w.slotPrompt(ctx))
		return false

	case wizardSlot:
		slots, err := w.services.Slots.ListActive(ctx)
		if err != nil {
			_ = req.Reply(ctx, "⚠️ could not load slots, try again")
			return false
		}
		var found bool
		for _, s := range slots {
			if strings.EqualFold(s.Name, text) {
				w.draft.Slot = s.Name
				found = true
				break
			}
		}
		if !found {
			_ = req.Reply(ctx, w.slotPrompt(ctx))
			return false
		}
		w.state = wizardDate
		_ = req.Reply(ctx, "Scheduled date (YYYY-MM-DD), or \"-\" to post it next.")
		return false

	case wizardDate:
		if text == "-" {
			// Undated questions sort ahead of dated ones in the posting
			// queue, so the next fire picks this one up.
			w.draft.ScheduledDate = ""
		} else {
			if _, err := time.Parse("2006-01-02", text); err != nil {
				_ = req.Reply(ctx, "That is not YYYY-MM-DD. Try again, or \"-\" to post it next.")
				return false
			}
			w.draft.ScheduledDate = text
		}
		w.state = wizardConfirm
		_ = req.Reply(ctx, w.review())
		return false

	case wizardConfirm:
		if !strings.EqualFold(text, "yes") {
			_ = req.Reply(ctx, "Discarded.")
			return true
		}
		if err := w.draft.Validate(); err != nil {
			_ = req.Reply(ctx, "⚠️ "+err.Error())
			return true
		}
		if w.editing() {
			if err := w.services.Questions.UpdateQuestion(ctx, w.draft); err != nil {
				_ = req.Reply(ctx, "⚠️ could not save: "+err.Error())
				return true
			}
			_ = req.Reply(ctx, fmt.Sprintf("Question #%d updated.", w.draft.ID))
			return true
		}
		id, err := w.services.Questions.AddQuestion(ctx, w.draft)
		if err != nil {
			_ = req.Reply(ctx, "⚠️ could not save: "+err.Error())
			return true
		}
		_ = req.Reply(ctx, fmt.Sprintf("Saved as question #%d.", id))
		return true
	}
	return true
}

func (w *wizardSession) slotPrompt(ctx context.Context) string {
	slots, err := w.services.Slots.ListActive(ctx)
	if err != nil || len(slots) == 0 {
		return "Which slot should it post in? (no active slots found — add one with /addslot first)"
	}
	names := make([]string, 0, len(slots))
	for _, s := range slots {
		names = append(names, s.Name)
	}
	return "Which slot should it post in? One of: " + html.EscapeString(strings.Join(names, ", "))
}

func (w *wizardSession) review() string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Review</b>\n%s\n\n", html.EscapeString(w.draft.Text))
	for i, opt := range w.draft.Options {
		marker := " "
		if w.draft.CorrectOption.Index() == i {
			marker = "✅"
		}
		fmt.Fprintf(&b, "%c) %s %s\n", 'A'+i, html.EscapeString(opt), marker)
	}
	fmt.Fprintf(&b, "\nSlot: %s", html.EscapeString(w.draft.Slot))
	if w.draft.ImageFileID != "" {
		b.WriteString("\nImage: attached")
	}
	if w.draft.ScheduledDate != "" {
		fmt.Fprintf(&b, "\nDate: %s", w.draft.ScheduledDate)
	}
	b.WriteString("\n\nSave? (yes / anything else discards)")
	return b.String()
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
