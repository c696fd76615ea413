package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"quizbot/internal/quiz"
)

// Memory is an in-process Store used by tests and by environments without a
// database file. It enforces the same invariants as the sqlite backend.
type Memory struct {
	mu sync.Mutex

	nextQuestionID int64
	nextResponseID int64
	nextSlotID     int64

	questions map[int64]quiz.Question
	responses []quiz.Response
	answered  map[string]struct{} // "user/question"
	slots     map[string]quiz.Slot
	posts     map[string]quiz.Post // by poll id
}

func NewMemory() *Memory {
	return &Memory{
		questions: map[int64]quiz.Question{},
		answered:  map[string]struct{}{},
		slots:     map[string]quiz.Slot{},
		posts:     map[string]quiz.Post{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) AddQuestion(_ context.Context, q quiz.Question) (int64, error) {
	if err := q.Validate(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextQuestionID++
	q.ID = m.nextQuestionID
	q.Active = true
	if strings.TrimSpace(q.TargetGroups) == "" {
		q.TargetGroups = quiz.TargetAllGroups
	}
	m.questions[q.ID] = q
	return q.ID, nil
}

func (m *Memory) QuestionByID(_ context.Context, id int64) (quiz.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return quiz.Question{}, fmt.Errorf("question %d: %w", id, quiz.ErrNotFound)
	}
	return q, nil
}

func (m *Memory) UpdateQuestion(_ context.Context, q quiz.Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.questions[q.ID]
	if !ok {
		return fmt.Errorf("question %d: %w", q.ID, quiz.ErrNotFound)
	}
	// Posting state is owned by MarkPosted.
	q.Posted, q.PostedAt, q.Active = cur.Posted, cur.PostedAt, cur.Active
	m.questions[q.ID] = q
	return nil
}

func (m *Memory) DeactivateQuestion(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return fmt.Errorf("question %d: %w", id, quiz.ErrNotFound)
	}
	q.Active = false
	m.questions[id] = q
	return nil
}

func (m *Memory) NextUnposted(_ context.Context, slot string) (quiz.Question, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var cands []quiz.Question
	for _, q := range m.questions {
		if q.Slot == slot && !q.Posted && q.Active {
			cands = append(cands, q)
		}
	}
	if len(cands) == 0 {
		return quiz.Question{}, fmt.Errorf("slot %q: %w", slot, quiz.ErrNoQuestion)
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].ScheduledDate != cands[j].ScheduledDate {
			return cands[i].ScheduledDate < cands[j].ScheduledDate
		}
		return cands[i].ID < cands[j].ID
	})
	return cands[0], nil
}

func (m *Memory) MarkPosted(_ context.Context, id int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.questions[id]
	if !ok {
		return fmt.Errorf("question %d: %w", id, quiz.ErrNotFound)
	}
	q.Posted = true
	q.PostedAt = at
	m.questions[id] = q
	return nil
}

func (m *Memory) AddPost(_ context.Context, p quiz.Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.posts[p.PollID] = p
	return nil
}

func (m *Memory) PostByPollID(_ context.Context, pollID string) (quiz.Post, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.posts[pollID]
	if !ok {
		return quiz.Post{}, fmt.Errorf("poll %q: %w", pollID, quiz.ErrNotFound)
	}
	return p, nil
}

func (m *Memory) AddResponse(_ context.Context, r quiz.Response) (int64, error) {
	if !r.Selected.Valid() {
		return 0, fmt.Errorf("%w: selected option %q", quiz.ErrValidation, string(r.Selected))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d/%d", r.UserID, r.QuestionID)
	if _, dup := m.answered[key]; dup {
		return 0, fmt.Errorf("user %d question %d: %w", r.UserID, r.QuestionID, quiz.ErrDuplicateResponse)
	}
	m.answered[key] = struct{}{}
	m.nextResponseID++
	r.ID = m.nextResponseID
	m.responses = append(m.responses, r)
	return r.ID, nil
}

func (m *Memory) ResponsesByDate(_ context.Context, date string) ([]quiz.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quiz.Response
	for _, r := range m.responses {
		if r.Date == date {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) ResponsesByWeek(_ context.Context, week int) ([]quiz.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quiz.Response
	for _, r := range m.responses {
		if r.WeekNumber == week {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *Memory) AddSlot(_ context.Context, sl quiz.Slot) (quiz.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.slots[sl.Name]; exists {
		return quiz.Slot{}, fmt.Errorf("slot %q: %w", sl.Name, quiz.ErrDuplicateSlot)
	}
	m.nextSlotID++
	sl.ID = m.nextSlotID
	sl.Active = true
	if sl.CreatedAt.IsZero() {
		sl.CreatedAt = time.Now()
	}
	m.slots[sl.Name] = sl
	return sl, nil
}

func (m *Memory) UpdateSlot(_ context.Context, sl quiz.Slot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.slots[sl.Name]
	if !ok {
		return fmt.Errorf("slot %q: %w", sl.Name, quiz.ErrNotFound)
	}
	cur.Hour, cur.Minute = sl.Hour, sl.Minute
	m.slots[sl.Name] = cur
	return nil
}

func (m *Memory) RemoveSlot(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.slots[name]; !ok {
		return fmt.Errorf("slot %q: %w", name, quiz.ErrNotFound)
	}
	delete(m.slots, name)
	return nil
}

func (m *Memory) SlotByName(_ context.Context, name string) (quiz.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sl, ok := m.slots[name]
	if !ok {
		return quiz.Slot{}, fmt.Errorf("slot %q: %w", name, quiz.ErrNotFound)
	}
	return sl, nil
}

func (m *Memory) ActiveSlots(_ context.Context) ([]quiz.Slot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quiz.Slot
	for _, sl := range m.slots {
		if sl.Active {
			out = append(out, sl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Hour != out[j].Hour {
			return out[i].Hour < out[j].Hour
		}
		if out[i].Minute != out[j].Minute {
			return out[i].Minute < out[j].Minute
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}
