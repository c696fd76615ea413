package slots

import (
	"context"
	"errors"
	"testing"

	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	logx "quizbot/pkg/logx"
)

type replanSpy struct{ calls int }

func (r *replanSpy) Replan(context.Context) error {
	r.calls++
	return nil
}

func newRegistry(t *testing.T) (*Registry, *replanSpy) {
	t.Helper()
	reg := NewRegistry(storage.NewMemory(), logx.Nop())
	spy := &replanSpy{}
	reg.SetReplanner(spy)
	return reg, spy
}

func TestAddSlotValidation(t *testing.T) {
	t.Parallel()
	reg, spy := newRegistry(t)
	ctx := context.Background()

	if _, err := reg.Add(ctx, "afternoon", 24, 0); !errors.Is(err, quiz.ErrValidation) {
		t.Fatalf("hour 24 err = %v, want ErrValidation", err)
	}
	if _, err := reg.Add(ctx, "afternoon", 14, 60); !errors.Is(err, quiz.ErrValidation) {
		t.Fatalf("minute 60 err = %v, want ErrValidation", err)
	}
	if _, err := reg.Add(ctx, "  ", 14, 30); !errors.Is(err, quiz.ErrValidation) {
		t.Fatalf("blank name err = %v, want ErrValidation", err)
	}
	if spy.calls != 0 {
		t.Fatalf("re-plan signalled %d times on rejected input, want 0", spy.calls)
	}

	sl, err := reg.Add(ctx, "afternoon", 14, 30)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if sl.At() != "14:30" || !sl.Active {
		t.Fatalf("slot = %+v", sl)
	}
	if spy.calls != 1 {
		t.Fatalf("re-plan calls = %d, want 1", spy.calls)
	}
}

func TestAddDuplicateNameRejected(t *testing.T) {
	t.Parallel()
	reg, spy := newRegistry(t)
	ctx := context.Background()

	if _, err := reg.Add(ctx, "morning", 9, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if _, err := reg.Add(ctx, "morning", 10, 0); !errors.Is(err, quiz.ErrDuplicateSlot) {
		t.Fatalf("duplicate err = %v, want ErrDuplicateSlot", err)
	}
	if spy.calls != 1 {
		t.Fatalf("re-plan calls = %d, want 1 (none for the rejected add)", spy.calls)
	}
}

func TestEditUnknownSlot(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	if _, err := reg.Edit(context.Background(), "ghost", 8, 0); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("Edit err = %v, want ErrNotFound", err)
	}
}

func TestEditTriggersReplan(t *testing.T) {
	t.Parallel()
	reg, spy := newRegistry(t)
	ctx := context.Background()

	if _, err := reg.Add(ctx, "evening", 18, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	sl, err := reg.Edit(ctx, "evening", 19, 15)
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if sl.At() != "19:15" {
		t.Fatalf("edited slot at %s, want 19:15", sl.At())
	}
	if spy.calls != 2 {
		t.Fatalf("re-plan calls = %d, want 2", spy.calls)
	}
}

func TestRemoveLastSlotRejected(t *testing.T) {
	t.Parallel()
	reg, spy := newRegistry(t)
	ctx := context.Background()

	if _, err := reg.Add(ctx, "morning", 9, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Remove(ctx, "morning"); !errors.Is(err, quiz.ErrLastSlot) {
		t.Fatalf("Remove last err = %v, want ErrLastSlot", err)
	}
	active, err := reg.ListActive(ctx)
	if err != nil {
		t.Fatalf("ListActive: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active slots = %d, want 1", len(active))
	}

	// With a second slot present the removal goes through.
	if _, err := reg.Add(ctx, "evening", 18, 0); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Remove(ctx, "morning"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := reg.Remove(ctx, "missing"); !errors.Is(err, quiz.ErrNotFound) {
		t.Fatalf("Remove missing err = %v, want ErrNotFound", err)
	}
	if spy.calls != 3 {
		t.Fatalf("re-plan calls = %d, want 3", spy.calls)
	}
}

func TestSeedOnlyOnEmptyStore(t *testing.T) {
	t.Parallel()
	reg, _ := newRegistry(t)
	ctx := context.Background()

	defaults := []quiz.Slot{{Name: "morning", Hour: 9}, {Name: "evening", Hour: 18}}
	if err := reg.Seed(ctx, defaults); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	active, _ := reg.ListActive(ctx)
	if len(active) != 2 {
		t.Fatalf("seeded slots = %d, want 2", len(active))
	}

	// Second seed is a no-op: existing slots win over configuration.
	if err := reg.Seed(ctx, []quiz.Slot{{Name: "noon", Hour: 12}}); err != nil {
		t.Fatalf("Seed again: %v", err)
	}
	active, _ = reg.ListActive(ctx)
	if len(active) != 2 {
		t.Fatalf("slots after second seed = %d, want 2", len(active))
	}
}
