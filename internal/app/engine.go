package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"quizbot/internal/clock"
	"quizbot/internal/config"
	"quizbot/internal/leaderboard"
	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	kit "quizbot/internal/transport"
	logx "quizbot/pkg/logx"
)

// Engine is the quiz core: it posts questions when the scheduler fires,
// attributes poll answers, and renders the boards. All calendar math goes
// through the configured timezone.
type Engine struct {
	store   storage.Store
	adapter kit.Adapter
	cfg     func() *config.Config
	log     logx.Logger

	// now and loc are injectable for tests.
	now func() time.Time
	loc func() *time.Location
}

func NewEngine(store storage.Store, adapter kit.Adapter, cfg func() *config.Config, loc func() *time.Location, log logx.Logger) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Engine{
		store:   store,
		adapter: adapter,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "engine")),
		now:     time.Now,
		loc:     loc,
	}
}

// PostSlot posts the slot's next unposted question to its target groups.
// Having no queued question is not an error; the slot simply stays quiet.
func (e *Engine) PostSlot(ctx context.Context, slot string) error {
	q, err := e.store.NextUnposted(ctx, slot)
	if errors.Is(err, quiz.ErrNoQuestion) {
		e.log.Info("no question queued", logx.String("slot", slot))
		return nil
	}
	if err != nil {
		return fmt.Errorf("next question for %q: %w", slot, err)
	}

	cfg := e.cfg()
	allKeys := make([]string, 0, len(cfg.Telegram.Groups))
	for _, g := range cfg.Telegram.Groups {
		allKeys = append(allKeys, g.Key)
	}

	firedAt := e.now()
	var (
		mu    sync.Mutex
		posts []quiz.Post
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, key := range q.Targets(allKeys) {
		group, ok := cfg.GroupByKey(key)
		if !ok {
			e.log.Warn("question targets unknown group",
				logx.Int64("question_id", q.ID), logx.String("group", key))
			continue
		}
		g.Go(func() error {
			poll := kit.QuizPoll{
				Question:     q.Text,
				Options:      q.Options[:],
				CorrectIndex: q.CorrectOption.Index(),
				PhotoFileID:  q.ImageFileID,
			}
			ref, err := e.sendPollRetry(gctx, kit.ChatTarget{ChatID: group.ChatID}, poll)
			if err != nil {
				e.log.Error("question delivery failed",
					logx.Int64("question_id", q.ID),
					logx.String("group", group.Key),
					logx.Err(err))
				return nil // other groups still get the question
			}
			post := quiz.Post{
				QuestionID: q.ID,
				GroupKey:   group.Key,
				PollID:     ref.PollID,
				PostedAt:   firedAt,
			}
			if err := e.store.AddPost(gctx, post); err != nil {
				return fmt.Errorf("record post for %q: %w", group.Key, err)
			}
			mu.Lock()
			posts = append(posts, post)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(posts) == 0 {
		return fmt.Errorf("question %d: no group received it", q.ID)
	}
	if err := e.store.MarkPosted(ctx, q.ID, firedAt); err != nil {
		return fmt.Errorf("mark question %d posted: %w", q.ID, err)
	}
	e.log.Info("question posted",
		logx.Int64("question_id", q.ID),
		logx.String("slot", slot),
		logx.Int("groups", len(posts)))
	return nil
}

// sendPollRetry retries one transient delivery failure before giving up.
func (e *Engine) sendPollRetry(ctx context.Context, to kit.ChatTarget, poll kit.QuizPoll) (kit.PollRef, error) {
	ref, err := e.adapter.SendQuizPoll(ctx, to, poll)
	if err == nil {
		return ref, nil
	}
	e.log.Warn("quiz poll send failed; retrying",
		logx.Int64("chat_id", to.ChatID), logx.Err(err))
	select {
	case <-ctx.Done():
		return kit.PollRef{}, ctx.Err()
	case <-time.After(time.Second):
	}
	return e.adapter.SendQuizPoll(ctx, to, poll)
}

// HandleAnswer attributes one poll answer to its question and records the
// response. Date, week number and elapsed time are derived here, once, and
// never recomputed. A second answer from the same user is rejected by the
// store's uniqueness guarantee.
func (e *Engine) HandleAnswer(ctx context.Context, pa kit.PollAnswer) error {
	if pa.VoteRetracted {
		e.log.Debug("vote retracted; keeping original response",
			logx.Int64("user_id", pa.UserID), logx.String("poll_id", pa.PollID))
		return nil
	}
	post, err := e.store.PostByPollID(ctx, pa.PollID)
	if errors.Is(err, quiz.ErrNotFound) {
		// Not one of our quiz polls.
		return nil
	}
	if err != nil {
		return fmt.Errorf("resolve poll %q: %w", pa.PollID, err)
	}
	q, err := e.store.QuestionByID(ctx, post.QuestionID)
	if err != nil {
		return fmt.Errorf("question %d for poll %q: %w", post.QuestionID, pa.PollID, err)
	}
	selected, err := quiz.OptionFromIndex(pa.OptionIndex)
	if err != nil {
		return err
	}

	answeredAt := e.now()
	loc := e.loc()
	resp := quiz.Response{
		UserID:     pa.UserID,
		Username:   pa.Username,
		QuestionID: q.ID,
		Selected:   selected,
		Correct:    selected == q.CorrectOption,
		AnsweredAt: answeredAt,
		TimeTaken:  clock.TimeTaken(post.PostedAt, answeredAt),
		Date:       clock.DateOf(answeredAt, loc),
		WeekNumber: clock.WeekNumberOf(answeredAt, loc),
		GroupKey:   post.GroupKey,
	}
	if _, err := e.store.AddResponse(ctx, resp); err != nil {
		if errors.Is(err, quiz.ErrDuplicateResponse) {
			e.log.Debug("duplicate answer ignored",
				logx.Int64("user_id", pa.UserID), logx.Int64("question_id", q.ID))
			return nil
		}
		return fmt.Errorf("record response: %w", err)
	}
	e.log.Debug("answer recorded",
		logx.Int64("user_id", pa.UserID),
		logx.Int64("question_id", q.ID),
		logx.Bool("correct", resp.Correct),
		logx.Int64("time_taken", resp.TimeTaken))
	return nil
}

// Nightly sends the combined daily+weekly report to every group. The
// reference instant is one minute before the fire instant, so the midnight
// run reports the day (and, on Mondays, the week) that just ended.
func (e *Engine) Nightly(ctx context.Context, firedAt time.Time) error {
	loc := e.loc()
	ref := firedAt.Add(-time.Minute)

	daily, err := e.store.ResponsesByDate(ctx, clock.DateOf(ref, loc))
	if err != nil {
		return fmt.Errorf("daily window: %w", err)
	}
	week := clock.WeekNumberOf(ref, loc)
	weekly, err := e.store.ResponsesByWeek(ctx, week)
	if err != nil {
		return fmt.Errorf("weekly window: %w", err)
	}

	text := leaderboard.Combined(daily, weekly, e.boardSize()).FormatReport()

	cfg := e.cfg()
	g, gctx := errgroup.WithContext(ctx)
	for _, group := range cfg.Telegram.Groups {
		group := group
		g.Go(func() error {
			err := e.sendTextRetry(gctx, kit.ChatTarget{ChatID: group.ChatID}, text)
			if err != nil {
				e.log.Error("report delivery failed",
					logx.String("group", group.Key), logx.Err(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	if clock.IsMonday(firedAt, loc) {
		// Week numbers are frozen into responses at write time, so the
		// weekly window rolls over by itself once the report is out.
		e.log.Info("weekly window closed", logx.Int("week", week))
	}
	return nil
}

func (e *Engine) sendTextRetry(ctx context.Context, to kit.ChatTarget, text string) error {
	opt := &kit.SendOptions{ParseMode: "HTML", DisablePreview: true}
	_, err := e.adapter.SendText(ctx, to, text, opt)
	if err == nil {
		return nil
	}
	e.log.Warn("report send failed; retrying",
		logx.Int64("chat_id", to.ChatID), logx.Err(err))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(time.Second):
	}
	_, err = e.adapter.SendText(ctx, to, text, opt)
	return err
}

func (e *Engine) boardSize() int {
	if cfg := e.cfg(); cfg != nil && cfg.Quiz.LeaderboardSize > 0 {
		return cfg.Quiz.LeaderboardSize
	}
	return leaderboard.DefaultSize
}

// DailyReport renders today's board for the /day command.
func (e *Engine) DailyReport(ctx context.Context, at time.Time) (string, error) {
	rows, err := e.store.ResponsesByDate(ctx, clock.DateOf(at, e.loc()))
	if err != nil {
		return "", err
	}
	return leaderboard.FormatDaily(leaderboard.Rank(rows, e.boardSize())), nil
}

// WeeklyReport renders the running week's board for the /week command.
func (e *Engine) WeeklyReport(ctx context.Context, at time.Time) (string, error) {
	rows, err := e.store.ResponsesByWeek(ctx, clock.WeekNumberOf(at, e.loc()))
	if err != nil {
		return "", err
	}
	return leaderboard.FormatWeekly(leaderboard.Rank(rows, e.boardSize())), nil
}

// StatsReport renders the admin statistics table for today or the running week.
func (e *Engine) StatsReport(ctx context.Context, at time.Time, weekly bool) (string, error) {
	loc := e.loc()
	var (
		rows  []quiz.Response
		title string
		err   error
	)
	if weekly {
		week := clock.WeekNumberOf(at, loc)
		rows, err = e.store.ResponsesByWeek(ctx, week)
		title = fmt.Sprintf("This Week's Statistics (week %d)", week)
	} else {
		date := clock.DateOf(at, loc)
		rows, err = e.store.ResponsesByDate(ctx, date)
		title = fmt.Sprintf("Today's Statistics (%s)", date)
	}
	if err != nil {
		return "", err
	}
	return leaderboard.FormatStats(title, leaderboard.Tally(rows)), nil
}
