package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const timeLayout = time.RFC3339Nano

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")
	_, _ = db.Exec("PRAGMA foreign_keys = ON")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- questions ----

func (s *sqliteStore) AddQuestion(ctx context.Context, q quiz.Question) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	tg := strings.TrimSpace(q.TargetGroups)
	if tg == "" {
		tg = quiz.TargetAllGroups
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO questions
		 (question_text, image_file_id, option_a, option_b, option_c, option_d,
		  correct_option, slot, scheduled_date, week_number, target_groups)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		q.Text, nullStr(q.ImageFileID), q.Options[0], q.Options[1], q.Options[2], q.Options[3],
		string(q.CorrectOption), q.Slot, q.ScheduledDate, q.WeekNumber, tg,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const questionCols = `question_id, question_text, COALESCE(image_file_id,''),
	option_a, option_b, option_c, option_d, correct_option, slot,
	scheduled_date, week_number, is_posted, COALESCE(posted_at,''), is_active, target_groups`

func scanQuestion(row interface{ Scan(...any) error }) (quiz.Question, error) {
	var q quiz.Question
	var correct string
	var posted, active int
	var postedAt string
	err := row.Scan(&q.ID, &q.Text, &q.ImageFileID,
		&q.Options[0], &q.Options[1], &q.Options[2], &q.Options[3],
		&correct, &q.Slot, &q.ScheduledDate, &q.WeekNumber, &posted, &postedAt, &active, &q.TargetGroups)
	if err != nil {
		return quiz.Question{}, err
	}
	q.CorrectOption = quiz.Option(correct)
	q.Posted = posted != 0
	q.Active = active != 0
	if postedAt != "" {
		q.PostedAt, _ = time.Parse(timeLayout, postedAt)
	}
	return q, nil
}

func (s *sqliteStore) QuestionByID(ctx context.Context, id int64) (quiz.Question, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+questionCols+` FROM questions WHERE question_id = ?`, id)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Question{}, fmt.Errorf("question %d: %w", id, quiz.ErrNotFound)
	}
	return q, err
}

func (s *sqliteStore) UpdateQuestion(ctx context.Context, q quiz.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET question_text=?, image_file_id=?, option_a=?, option_b=?,
		 option_c=?, option_d=?, correct_option=?, slot=?, scheduled_date=?, target_groups=?
		 WHERE question_id=?`,
		q.Text, nullStr(q.ImageFileID), q.Options[0], q.Options[1], q.Options[2], q.Options[3],
		string(q.CorrectOption), q.Slot, q.ScheduledDate, q.TargetGroups, q.ID,
	)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, q.ID)
}

func (s *sqliteStore) DeactivateQuestion(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE questions SET is_active = 0 WHERE question_id = ?`, id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, id)
}

func (s *sqliteStore) NextUnposted(ctx context.Context, slot string) (quiz.Question, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+questionCols+` FROM questions
		 WHERE slot = ? AND is_posted = 0 AND is_active = 1
		 ORDER BY scheduled_date ASC, question_id ASC LIMIT 1`, slot)
	q, err := scanQuestion(row)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Question{}, fmt.Errorf("slot %q: %w", slot, quiz.ErrNoQuestion)
	}
	return q, err
}

func (s *sqliteStore) MarkPosted(ctx context.Context, id int64, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE questions SET is_posted = 1, posted_at = ? WHERE question_id = ?`,
		at.UTC().Format(timeLayout), id)
	if err != nil {
		return err
	}
	return affectedOrNotFound(res, id)
}

// ---- posts ----

func (s *sqliteStore) AddPost(ctx context.Context, p quiz.Post) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO posts (question_id, group_key, poll_id, posted_at) VALUES (?,?,?,?)`,
		p.QuestionID, p.GroupKey, p.PollID, p.PostedAt.UTC().Format(timeLayout))
	return err
}

func (s *sqliteStore) PostByPollID(ctx context.Context, pollID string) (quiz.Post, error) {
	var p quiz.Post
	var postedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT question_id, group_key, poll_id, posted_at FROM posts WHERE poll_id = ?`, pollID).
		Scan(&p.QuestionID, &p.GroupKey, &p.PollID, &postedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Post{}, fmt.Errorf("poll %q: %w", pollID, quiz.ErrNotFound)
	}
	if err != nil {
		return quiz.Post{}, err
	}
	p.PostedAt, _ = time.Parse(timeLayout, postedAt)
	return p, nil
}

// ---- responses ----

func (s *sqliteStore) AddResponse(ctx context.Context, r quiz.Response) (int64, error) {
	if !r.Selected.Valid() {
		return 0, fmt.Errorf("%w: selected option %q", quiz.ErrValidation, string(r.Selected))
	}
	// INSERT OR IGNORE keeps the duplicate check inside the engine, so two
	// concurrent submissions cannot both pass an application-level lookup.
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO responses
		 (user_id, username, question_id, selected_option, is_correct,
		  answered_at, time_taken, date, week_number, group_key)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`,
		r.UserID, nullStr(r.Username), r.QuestionID, string(r.Selected), boolInt(r.Correct),
		r.AnsweredAt.UTC().Format(timeLayout), r.TimeTaken, r.Date, r.WeekNumber, r.GroupKey,
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("user %d question %d: %w", r.UserID, r.QuestionID, quiz.ErrDuplicateResponse)
	}
	return res.LastInsertId()
}

const responseCols = `response_id, user_id, COALESCE(username,''), question_id,
	selected_option, is_correct, answered_at, time_taken, date, week_number, group_key`

func (s *sqliteStore) queryResponses(ctx context.Context, where string, arg any) ([]quiz.Response, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+responseCols+` FROM responses WHERE `+where+` ORDER BY response_id ASC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quiz.Response
	for rows.Next() {
		var r quiz.Response
		var sel, answeredAt string
		var correct int
		if err := rows.Scan(&r.ID, &r.UserID, &r.Username, &r.QuestionID,
			&sel, &correct, &answeredAt, &r.TimeTaken, &r.Date, &r.WeekNumber, &r.GroupKey); err != nil {
			return nil, err
		}
		r.Selected = quiz.Option(sel)
		r.Correct = correct != 0
		r.AnsweredAt, _ = time.Parse(timeLayout, answeredAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ResponsesByDate(ctx context.Context, date string) ([]quiz.Response, error) {
	return s.queryResponses(ctx, "date = ?", date)
}

func (s *sqliteStore) ResponsesByWeek(ctx context.Context, week int) ([]quiz.Response, error) {
	return s.queryResponses(ctx, "week_number = ?", week)
}

// ---- slots ----

func (s *sqliteStore) AddSlot(ctx context.Context, sl quiz.Slot) (quiz.Slot, error) {
	if sl.CreatedAt.IsZero() {
		sl.CreatedAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO slots (slot_name, hour, minute, is_active, created_at)
		 VALUES (?,?,?,1,?)`,
		sl.Name, sl.Hour, sl.Minute, sl.CreatedAt.UTC().Format(timeLayout))
	if err != nil {
		return quiz.Slot{}, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return quiz.Slot{}, err
	}
	if n == 0 {
		return quiz.Slot{}, fmt.Errorf("slot %q: %w", sl.Name, quiz.ErrDuplicateSlot)
	}
	sl.ID, _ = res.LastInsertId()
	sl.Active = true
	return sl, nil
}

func (s *sqliteStore) UpdateSlot(ctx context.Context, sl quiz.Slot) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE slots SET hour = ?, minute = ? WHERE slot_name = ?`, sl.Hour, sl.Minute, sl.Name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("slot %q: %w", sl.Name, quiz.ErrNotFound)
	}
	return nil
}

func (s *sqliteStore) RemoveSlot(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM slots WHERE slot_name = ?`, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("slot %q: %w", name, quiz.ErrNotFound)
	}
	return nil
}

func scanSlot(row interface{ Scan(...any) error }) (quiz.Slot, error) {
	var sl quiz.Slot
	var active int
	var created string
	if err := row.Scan(&sl.ID, &sl.Name, &sl.Hour, &sl.Minute, &active, &created); err != nil {
		return quiz.Slot{}, err
	}
	sl.Active = active != 0
	sl.CreatedAt, _ = time.Parse(timeLayout, created)
	return sl, nil
}

func (s *sqliteStore) SlotByName(ctx context.Context, name string) (quiz.Slot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT slot_id, slot_name, hour, minute, is_active, created_at FROM slots WHERE slot_name = ?`, name)
	sl, err := scanSlot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return quiz.Slot{}, fmt.Errorf("slot %q: %w", name, quiz.ErrNotFound)
	}
	return sl, err
}

func (s *sqliteStore) ActiveSlots(ctx context.Context) ([]quiz.Slot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT slot_id, slot_name, hour, minute, is_active, created_at
		 FROM slots WHERE is_active = 1 ORDER BY hour, minute, slot_name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []quiz.Slot
	for rows.Next() {
		sl, err := scanSlot(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sl)
	}
	return out, rows.Err()
}

// ---- helpers ----

func affectedOrNotFound(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("question %d: %w", id, quiz.ErrNotFound)
	}
	return nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
