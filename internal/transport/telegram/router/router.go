package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"quizbot/internal/config"
	"quizbot/internal/quiz"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

const defaultCommandTimeout = 30 * time.Second

type Router struct {
	log      logx.Logger
	adapter  kit.Adapter
	cfg      func() *config.Config
	services Services

	mu       sync.Mutex
	commands []*Command
	byRoute  map[string]*Command
	wizards  map[wizardKey]*wizardSession

	mw []Middleware
}

type wizardKey struct {
	ChatID int64
	UserID int64
}

func New(adapter kit.Adapter, cfg func() *config.Config, services Services, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	if services.Now == nil {
		services.Now = time.Now
	}
	r := &Router{
		log:      log.With(logx.String("comp", "router")),
		adapter:  adapter,
		cfg:      cfg,
		services: services,
		byRoute:  make(map[string]*Command),
		wizards:  make(map[wizardKey]*wizardSession),
	}
	r.mw = []Middleware{
		MWPanicRecover(r.log),
		MWRequestLog(r.log),
	}
	r.registerBuiltins()
	return r
}

func (r *Router) Register(cmd Command) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := cmd
	r.commands = append(r.commands, &c)
	r.byRoute[c.Route] = &c
}

// MenuCommands returns the command list for the platform menu, admin-only
// entries excluded.
func (r *Router) MenuCommands() []kit.BotCommand {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]kit.BotCommand, 0, len(r.commands))
	for _, c := range r.commands {
		if c.Access == AccessAdminOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Route, Description: c.Description})
	}
	return out
}

// Run consumes the update stream until ctx is done.
func (r *Router) Run(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.handleUpdate(ctx, up)
		}
	}
}

func (r *Router) handleUpdate(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdatePollAnswer:
		if up.PollAnswer == nil || r.services.Answers == nil {
			return
		}
		if err := r.services.Answers.HandleAnswer(ctx, *up.PollAnswer); err != nil {
			r.log.Warn("poll answer rejected",
				logx.Int64("user_id", up.PollAnswer.UserID),
				logx.String("poll_id", up.PollAnswer.PollID),
				logx.Err(err))
		}
	case kit.UpdateMessage:
		if up.Message == nil {
			return
		}
		r.handleMessage(ctx, up)
	}
}

func (r *Router) handleMessage(ctx context.Context, up kit.Update) {
	m := up.Message
	name, args, isCmd := parseCommand(m.Text)

	req := &Request{
		Update:  up,
		Chat:    kit.ChatTarget{ChatID: m.ChatID},
		FromID:  m.FromID,
		From:    m.FromUsername,
		Command: name,
		Args:    args,
		Adapter: r.adapter,
		Config:  r.cfg(),
		Logger:  r.log,
	}

	key := wizardKey{ChatID: m.ChatID, UserID: m.FromID}

	if isCmd && name == "cancel" {
		r.mu.Lock()
		_, active := r.wizards[key]
		delete(r.wizards, key)
		r.mu.Unlock()
		if active {
			_ = req.Reply(ctx, "Cancelled.")
		}
		return
	}

	// A running wizard consumes plain text from its owner.
	if !isCmd {
		r.mu.Lock()
		w := r.wizards[key]
		r.mu.Unlock()
		if w != nil {
			if done := w.step(ctx, req, m.Text); done {
				r.mu.Lock()
				delete(r.wizards, key)
				r.mu.Unlock()
			}
		}
		return
	}

	r.mu.Lock()
	cmd := r.byRoute[name]
	r.mu.Unlock()
	if cmd == nil {
		return
	}
	if cmd.Access == AccessAdminOnly && (req.Config == nil || !req.Config.IsAdmin(m.FromID)) {
		r.log.Debug("command denied",
			logx.String("cmd", name), logx.Int64("from_id", m.FromID))
		return
	}

	timeout := cmd.Timeout
	if timeout <= 0 {
		timeout = defaultCommandTimeout
	}
	h := Chain(cmd.Handle, append(r.mw, MWTimeout(timeout))...)
	if err := h(ctx, req); err != nil {
		_ = req.Reply(ctx, "⚠️ "+err.Error())
	}
}

// parseCommand splits "/addslot@QuizBot evening 20:00" into name and args.
func parseCommand(text string) (name string, args []string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil, false
	}
	fields := strings.Fields(text)
	name = strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", nil, false
	}
	return name, fields[1:], true
}

func (r *Router) startWizard(ctx context.Context, req *Request, draft quiz.Question) {
	key := wizardKey{ChatID: req.Chat.ChatID, UserID: req.FromID}
	w := newWizardSession(r.services, draft)
	r.mu.Lock()
	r.wizards[key] = w
	r.mu.Unlock()
	w.begin(ctx, req)
}
