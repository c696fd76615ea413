package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"quizbot/internal/quiz"
	logx "quizbot/pkg/logx"
)

// Config controls the scheduling service.
type Config struct {
	Timezone  string // IANA TZ, e.g. "Asia/Kolkata"
	ReportAt  string // nightly report time "HH:MM"; week reset rides on the Monday run
	Workers   int
	QueueSize int
}

// Jobs are the handlers triggers dispatch into. They are plain functions
// with no reentrancy into scheduler state.
type Jobs struct {
	// PostSlot posts the next question of the named slot.
	PostSlot func(ctx context.Context, slot string) error
	// Nightly sends the combined report; on Mondays it also advances the
	// week pointer after the report went out.
	Nightly func(ctx context.Context, firedAt time.Time) error
}

// SlotSource yields the current active slot set during a re-plan.
// Implemented by the slot registry.
type SlotSource interface {
	ListActive(ctx context.Context) ([]quiz.Slot, error)
}

type job struct {
	name string
	run  func(ctx context.Context) error
}

type slotEntry struct {
	id cron.EntryID
	at string // "HH:MM"
}

// Service owns the authoritative timer plan: one cron entry per active
// slot plus the fixed nightly entry. Fired triggers are dispatched onto a
// bounded queue drained by a worker pool, so arming and cancellation never
// block on handler I/O.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	slots SlotSource
	jobs  Jobs

	c           *cron.Cron
	slotEntries map[string]slotEntry
	reportEntry cron.EntryID

	queue     chan job
	stopCh    chan struct{}
	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup
}

// EntryInfo describes one armed timer.
type EntryInfo struct {
	Name string
	Spec string
	Next time.Time
}

// Snapshot is a point-in-time view of the plan, for status output and tests.
type Snapshot struct {
	Timezone string
	Entries  []EntryInfo
}
