package router

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sort"
	"strconv"
	"strings"

	"quizbot/internal/quiz"
)

func (r *Router) registerBuiltins() {
	r.Register(Command{
		Route:       "start",
		Description: "what this bot does",
		Handle:      r.cmdStart,
	})
	r.Register(Command{
		Route:       "help",
		Description: "list commands",
		Handle:      r.cmdHelp,
	})
	r.Register(Command{
		Route:       "day",
		Description: "today's leaderboard",
		Handle:      r.cmdDay,
	})
	r.Register(Command{
		Route:       "week",
		Description: "this week's leaderboard",
		Handle:      r.cmdWeek,
	})
	r.Register(Command{
		Route:       "slots",
		Description: "list quiz slots",
		Access:      AccessAdminOnly,
		Handle:      r.cmdSlots,
	})
	r.Register(Command{
		Route:       "addslot",
		Description: "add a quiz slot",
		Usage:       "/addslot <name> <HH:MM>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdAddSlot,
	})
	r.Register(Command{
		Route:       "editslot",
		Description: "move a quiz slot",
		Usage:       "/editslot <name> <HH:MM>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdEditSlot,
	})
	r.Register(Command{
		Route:       "delslot",
		Description: "remove a quiz slot",
		Usage:       "/delslot <name>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdDelSlot,
	})
	r.Register(Command{
		Route:       "fire",
		Description: "post a slot's question now",
		Usage:       "/fire <slot>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdFire,
	})
	r.Register(Command{
		Route:       "plan",
		Description: "show armed timers",
		Access:      AccessAdminOnly,
		Handle:      r.cmdPlan,
	})
	r.Register(Command{
		Route:       "addquiz",
		Description: "add a question (wizard)",
		Access:      AccessAdminOnly,
		Handle: func(ctx context.Context, req *Request) error {
			r.startWizard(ctx, req, quiz.Question{})
			return nil
		},
	})
	r.Register(Command{
		Route:       "editquiz",
		Description: "edit a question (wizard)",
		Usage:       "/editquiz <id>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdEditQuiz,
	})
	r.Register(Command{
		Route:       "quiz",
		Description: "show a question",
		Usage:       "/quiz <id>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdQuiz,
	})
	r.Register(Command{
		Route:       "delquiz",
		Description: "deactivate a question",
		Usage:       "/delquiz <id>",
		Access:      AccessAdminOnly,
		Handle:      r.cmdDelQuiz,
	})
	r.Register(Command{
		Route:       "stats",
		Description: "answer statistics",
		Usage:       "/stats [week]",
		Access:      AccessAdminOnly,
		Handle:      r.cmdStats,
	})
}

func (r *Router) cmdStart(ctx context.Context, req *Request) error {
	return req.Reply(ctx, "👋 I post quiz questions on a schedule and keep daily and weekly leaderboards.\nTry /day or /week. Admins: /help.")
}

func (r *Router) cmdHelp(ctx context.Context, req *Request) error {
	admin := req.Config != nil && req.Config.IsAdmin(req.FromID)
	var b strings.Builder
	b.WriteString("<b>Commands</b>\n")
	r.mu.Lock()
	cmds := make([]*Command, len(r.commands))
	copy(cmds, r.commands)
	r.mu.Unlock()
	for _, c := range cmds {
		if c.Access == AccessAdminOnly && !admin {
			continue
		}
		use := c.Usage
		if use == "" {
			use = "/" + c.Route
		}
		fmt.Fprintf(&b, "%s — %s\n", html.EscapeString(use), html.EscapeString(c.Description))
	}
	return req.Reply(ctx, b.String())
}

func (r *Router) cmdDay(ctx context.Context, req *Request) error {
	text, err := r.services.Boards.DailyReport(ctx, r.services.Now())
	if err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, text)
}

func (r *Router) cmdWeek(ctx context.Context, req *Request) error {
	text, err := r.services.Boards.WeeklyReport(ctx, r.services.Now())
	if err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, text)
}

func (r *Router) cmdSlots(ctx context.Context, req *Request) error {
	slots, err := r.services.Slots.ListActive(ctx)
	if err != nil {
		return friendly(err)
	}
	if len(slots) == 0 {
		return req.Reply(ctx, "No active slots.")
	}
	sort.Slice(slots, func(i, j int) bool {
		if slots[i].Hour != slots[j].Hour {
			return slots[i].Hour < slots[j].Hour
		}
		return slots[i].Minute < slots[j].Minute
	})
	var b strings.Builder
	b.WriteString("<b>Quiz slots</b>\n")
	for _, s := range slots {
		fmt.Fprintf(&b, "• %s — %s\n", html.EscapeString(s.Name), s.At())
	}
	return req.Reply(ctx, b.String())
}

func (r *Router) cmdAddSlot(ctx context.Context, req *Request) error {
	name, hour, minute, err := slotArgs(req.Args)
	if err != nil {
		return err
	}
	s, err := r.services.Slots.Add(ctx, name, hour, minute)
	if err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, fmt.Sprintf("Slot <b>%s</b> added at %s.", html.EscapeString(s.Name), s.At()))
}

func (r *Router) cmdEditSlot(ctx context.Context, req *Request) error {
	name, hour, minute, err := slotArgs(req.Args)
	if err != nil {
		return err
	}
	s, err := r.services.Slots.Edit(ctx, name, hour, minute)
	if err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, fmt.Sprintf("Slot <b>%s</b> moved to %s.", html.EscapeString(s.Name), s.At()))
}

func (r *Router) cmdDelSlot(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return errors.New("usage: /delslot <name>")
	}
	if err := r.services.Slots.Remove(ctx, req.Args[0]); err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, fmt.Sprintf("Slot <b>%s</b> removed.", html.EscapeString(req.Args[0])))
}

func (r *Router) cmdFire(ctx context.Context, req *Request) error {
	if len(req.Args) != 1 {
		return errors.New("usage: /fire <slot>")
	}
	slots, err := r.services.Slots.ListActive(ctx)
	if err != nil {
		return friendly(err)
	}
	var name string
	for _, s := range slots {
		if strings.EqualFold(s.Name, req.Args[0]) {
			name = s.Name
			break
		}
	}
	if name == "" {
		return fmt.Errorf("no active slot named %q (see /slots)", req.Args[0])
	}
	if err := r.services.Scheduler.FireNow(ctx, name); err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, fmt.Sprintf("Posting <b>%s</b> now.", html.EscapeString(name)))
}

func (r *Router) cmdPlan(ctx context.Context, req *Request) error {
	snap := r.services.Scheduler.Snapshot()
	if len(snap.Entries) == 0 {
		return req.Reply(ctx, "Nothing armed.")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Armed timers</b> (%s)\n", html.EscapeString(snap.Timezone))
	for _, e := range snap.Entries {
		fmt.Fprintf(&b, "• %s @ %s — next %s\n",
			html.EscapeString(e.Name), e.Spec, e.Next.Format("Mon 15:04"))
	}
	return req.Reply(ctx, b.String())
}

func (r *Router) cmdQuiz(ctx context.Context, req *Request) error {
	id, err := idArg(req.Args, "/quiz <id>")
	if err != nil {
		return err
	}
	q, err := r.services.Questions.QuestionByID(ctx, id)
	if err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, formatQuestion(q))
}

func (r *Router) cmdEditQuiz(ctx context.Context, req *Request) error {
	id, err := idArg(req.Args, "/editquiz <id>")
	if err != nil {
		return err
	}
	q, err := r.services.Questions.QuestionByID(ctx, id)
	if err != nil {
		return friendly(err)
	}
	r.startWizard(ctx, req, q)
	return nil
}

func (r *Router) cmdDelQuiz(ctx context.Context, req *Request) error {
	id, err := idArg(req.Args, "/delquiz <id>")
	if err != nil {
		return err
	}
	if err := r.services.Questions.DeactivateQuestion(ctx, id); err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, fmt.Sprintf("Question #%d deactivated.", id))
}

func (r *Router) cmdStats(ctx context.Context, req *Request) error {
	weekly := len(req.Args) > 0 && strings.EqualFold(req.Args[0], "week")
	text, err := r.services.Boards.StatsReport(ctx, r.services.Now(), weekly)
	if err != nil {
		return friendly(err)
	}
	return req.Reply(ctx, text)
}

func formatQuestion(q quiz.Question) string {
	var b strings.Builder
	status := "pending"
	if q.Posted {
		status = "posted"
	}
	if !q.Active {
		status = "inactive"
	}
	fmt.Fprintf(&b, "<b>Question #%d</b> (%s)\n%s\n\n", q.ID, status, html.EscapeString(q.Text))
	for i, opt := range q.Options {
		marker := " "
		if q.CorrectOption.Valid() && q.CorrectOption.Index() == i {
			marker = "✅"
		}
		fmt.Fprintf(&b, "%c) %s %s\n", 'A'+i, html.EscapeString(opt), marker)
	}
	if q.Slot != "" {
		fmt.Fprintf(&b, "\nSlot: %s", html.EscapeString(q.Slot))
	}
	if q.TargetGroups != "" && q.TargetGroups != quiz.TargetAllGroups {
		fmt.Fprintf(&b, "\nGroups: %s", html.EscapeString(q.TargetGroups))
	}
	return b.String()
}

func slotArgs(args []string) (name string, hour, minute int, err error) {
	if len(args) != 2 {
		return "", 0, 0, errors.New("usage: <name> <HH:MM>")
	}
	name = args[0]
	parts := strings.SplitN(args[1], ":", 2)
	if len(parts) != 2 {
		return "", 0, 0, fmt.Errorf("time %q is not HH:MM", args[1])
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil {
		return "", 0, 0, fmt.Errorf("time %q is not HH:MM", args[1])
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil {
		return "", 0, 0, fmt.Errorf("time %q is not HH:MM", args[1])
	}
	return name, hour, minute, nil
}

func idArg(args []string, usage string) (int64, error) {
	if len(args) != 1 {
		return 0, errors.New("usage: " + usage)
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%q is not a question id", args[0])
	}
	return id, nil
}

// friendly maps domain sentinels to short operator-facing messages.
func friendly(err error) error {
	switch {
	case errors.Is(err, quiz.ErrDuplicateSlot):
		return errors.New("a slot with that name already exists")
	case errors.Is(err, quiz.ErrLastSlot):
		return errors.New("cannot remove the last active slot")
	case errors.Is(err, quiz.ErrNotFound):
		return errors.New("not found")
	case errors.Is(err, quiz.ErrNoQuestion):
		return errors.New("no unposted question available for that slot")
	case errors.Is(err, quiz.ErrValidation):
		return err
	default:
		return err
	}
}
