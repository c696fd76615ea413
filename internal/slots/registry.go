// Package slots owns the durable set of named daily posting triggers and
// keeps the live scheduler in sync with it.
package slots

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"quizbot/internal/quiz"
	"quizbot/internal/storage"
	logx "quizbot/pkg/logx"
)

// Replanner is notified after every committed slot mutation. Implemented by
// the scheduler.
type Replanner interface {
	Replan(ctx context.Context) error
}

// Registry validates and persists slot mutations. All mutations run under
// one mutex and hit storage before the scheduler is told to re-plan, so the
// scheduler can never observe a half-applied change.
type Registry struct {
	store storage.Store
	log   logx.Logger

	mu        sync.Mutex // serializes mutate+replan
	replanner Replanner
}

func NewRegistry(store storage.Store, log logx.Logger) *Registry {
	return &Registry{store: store, log: log}
}

// SetReplanner installs the scheduler hook. Must be called before any
// mutation reaches the registry.
func (r *Registry) SetReplanner(rp Replanner) { r.replanner = rp }

func validateTime(hour, minute int) error {
	if hour < 0 || hour > 23 {
		return fmt.Errorf("%w: hour %d out of range [0,23]", quiz.ErrValidation, hour)
	}
	if minute < 0 || minute > 59 {
		return fmt.Errorf("%w: minute %d out of range [0,59]", quiz.ErrValidation, minute)
	}
	return nil
}

// Add creates a new active slot. Names match case-sensitively.
func (r *Registry) Add(ctx context.Context, name string, hour, minute int) (quiz.Slot, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return quiz.Slot{}, fmt.Errorf("%w: slot name is empty", quiz.ErrValidation)
	}
	if err := validateTime(hour, minute); err != nil {
		return quiz.Slot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	sl, err := r.store.AddSlot(ctx, quiz.Slot{Name: name, Hour: hour, Minute: minute, CreatedAt: time.Now()})
	if err != nil {
		return quiz.Slot{}, err
	}
	r.log.Info("slot added", logx.String("slot", name), logx.String("at", sl.At()))
	r.replan(ctx)
	return sl, nil
}

// Edit changes an existing slot's time of day.
func (r *Registry) Edit(ctx context.Context, name string, hour, minute int) (quiz.Slot, error) {
	if err := validateTime(hour, minute); err != nil {
		return quiz.Slot{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.UpdateSlot(ctx, quiz.Slot{Name: name, Hour: hour, Minute: minute}); err != nil {
		return quiz.Slot{}, err
	}
	sl, err := r.store.SlotByName(ctx, name)
	if err != nil {
		return quiz.Slot{}, err
	}
	r.log.Info("slot updated", logx.String("slot", name), logx.String("at", sl.At()))
	r.replan(ctx)
	return sl, nil
}

// Remove deletes a slot. The last remaining active slot cannot be removed,
// so the posting schedule never goes empty.
func (r *Registry) Remove(ctx context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.store.ActiveSlots(ctx)
	if err != nil {
		return err
	}
	if len(active) == 1 && active[0].Name == name {
		return fmt.Errorf("slot %q: %w", name, quiz.ErrLastSlot)
	}
	if err := r.store.RemoveSlot(ctx, name); err != nil {
		return err
	}
	r.log.Info("slot removed", logx.String("slot", name))
	r.replan(ctx)
	return nil
}

// ListActive returns the active slots ordered by time of day.
func (r *Registry) ListActive(ctx context.Context) ([]quiz.Slot, error) {
	return r.store.ActiveSlots(ctx)
}

// Seed inserts the configured default slots when the store has none yet
// (first run). Existing slots always win over configuration.
func (r *Registry) Seed(ctx context.Context, defaults []quiz.Slot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	active, err := r.store.ActiveSlots(ctx)
	if err != nil {
		return err
	}
	if len(active) > 0 {
		return nil
	}
	for _, sl := range defaults {
		if err := validateTime(sl.Hour, sl.Minute); err != nil {
			return fmt.Errorf("default slot %q: %w", sl.Name, err)
		}
		if _, err := r.store.AddSlot(ctx, sl); err != nil {
			return fmt.Errorf("seed slot %q: %w", sl.Name, err)
		}
	}
	r.log.Info("seeded default slots", logx.Int("count", len(defaults)))
	return nil
}

// replan runs with the registry lock held. A re-plan failure is logged, not
// returned: the mutation is already durable and the scheduler will pick up
// the state on its next re-plan or restart.
func (r *Registry) replan(ctx context.Context) {
	if r.replanner == nil {
		return
	}
	if err := r.replanner.Replan(ctx); err != nil {
		r.log.Error("scheduler re-plan failed", logx.Err(err))
	}
}
