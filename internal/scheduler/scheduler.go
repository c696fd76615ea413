package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	logx "quizbot/pkg/logx"
)

// ErrNotRunning is returned by operations that need an active dispatch loop.
var ErrNotRunning = errors.New("scheduler: not running")

const (
	defaultWorkers   = 2
	defaultQueueSize = 16
	defaultReportAt  = "00:00"
)

// New builds a stopped service. Call Start to arm the plan.
func New(cfg Config, slots SlotSource, jobs Jobs, log logx.Logger) (*Service, error) {
	loc, err := resolveLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	if cfg.ReportAt == "" {
		cfg.ReportAt = defaultReportAt
	}
	if _, _, err := parseHHMM(cfg.ReportAt); err != nil {
		return nil, fmt.Errorf("scheduler: report time: %w", err)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	return &Service{
		log:         log.With(logx.String("component", "scheduler")),
		cfg:         cfg,
		loc:         loc,
		slots:       slots,
		jobs:        jobs,
		slotEntries: make(map[string]slotEntry),
	}, nil
}

// Start arms the nightly entry, plans the current slot set and launches the
// worker pool. Triggers that would have fired while stopped are not replayed.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return nil
	}
	if err := s.startLocked(ctx); err != nil {
		return err
	}
	return s.replanLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) error {
	s.c = cron.New(cron.WithLocation(s.loc))
	s.queue = make(chan job, s.cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.runCtx, s.runCancel = context.WithCancel(context.WithoutCancel(ctx))

	hour, minute, _ := parseHHMM(s.cfg.ReportAt)
	id, err := s.c.AddFunc(cronSpec(hour, minute), func() {
		firedAt := time.Now().In(s.loc)
		s.enqueue(job{name: "nightly", run: func(ctx context.Context) error {
			return s.jobs.Nightly(ctx, firedAt)
		}})
	})
	if err != nil {
		s.teardownLocked()
		return fmt.Errorf("scheduler: arm nightly: %w", err)
	}
	s.reportEntry = id

	for i := 0; i < s.cfg.Workers; i++ {
		s.workerWG.Add(1)
		go s.worker(s.stopCh, s.queue)
	}
	s.c.Start()
	s.log.Info("scheduler started",
		logx.String("timezone", s.loc.String()),
		logx.String("report_at", s.cfg.ReportAt),
		logx.Int("workers", s.cfg.Workers))
	return nil
}

// Stop cancels all armed timers and drains the workers. Queued jobs that
// have not started yet are dropped.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return
	}
	s.teardownLocked()
	s.mu.Unlock()
	s.workerWG.Wait()
	s.log.Info("scheduler stopped")
}

func (s *Service) teardownLocked() {
	if s.c != nil {
		s.c.Stop()
		s.c = nil
	}
	s.slotEntries = make(map[string]slotEntry)
	s.reportEntry = 0
	if s.stopCh != nil {
		close(s.stopCh)
		s.stopCh = nil
	}
	s.queue = nil
	if s.runCancel != nil {
		s.runCancel()
		s.runCancel = nil
	}
}

// Apply swaps in a new configuration. Timezone or report-time changes
// restart the cron runner so every armed entry is re-evaluated in the new
// location; worker/queue changes apply on the next start.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	loc, err := resolveLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	if cfg.ReportAt == "" {
		cfg.ReportAt = defaultReportAt
	}
	if _, _, err := parseHHMM(cfg.ReportAt); err != nil {
		return fmt.Errorf("scheduler: report time: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	restart := s.c != nil && (loc.String() != s.loc.String() || cfg.ReportAt != s.cfg.ReportAt)
	running := s.c != nil
	prevWorkers := s.cfg.Workers

	s.cfg.Timezone = cfg.Timezone
	s.cfg.ReportAt = cfg.ReportAt
	if cfg.Workers > 0 {
		s.cfg.Workers = cfg.Workers
	}
	if cfg.QueueSize > 0 {
		s.cfg.QueueSize = cfg.QueueSize
	}
	s.loc = loc

	if !restart {
		if running && s.cfg.Workers != prevWorkers {
			s.log.Info("worker count change deferred to next restart",
				logx.Int("workers", s.cfg.Workers))
		}
		return nil
	}

	s.teardownLocked()
	s.mu.Unlock()
	s.workerWG.Wait()
	s.mu.Lock()
	if err := s.startLocked(ctx); err != nil {
		return err
	}
	return s.replanLocked(ctx)
}

// Replan reconciles the armed slot entries against the current active slot
// set. Only slot-driven entries are touched; the nightly entry keeps its
// schedule. Callers serialize registry mutation before invoking this.
func (s *Service) Replan(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return ErrNotRunning
	}
	return s.replanLocked(ctx)
}

func (s *Service) replanLocked(ctx context.Context) error {
	active, err := s.slots.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: list slots: %w", err)
	}

	for name, e := range s.slotEntries {
		s.c.Remove(e.id)
		delete(s.slotEntries, name)
	}
	for _, sl := range active {
		name := sl.Name
		id, err := s.c.AddFunc(cronSpec(sl.Hour, sl.Minute), func() {
			s.enqueue(job{name: "post:" + name, run: func(ctx context.Context) error {
				return s.jobs.PostSlot(ctx, name)
			}})
		})
		if err != nil {
			return fmt.Errorf("scheduler: arm slot %q: %w", name, err)
		}
		s.slotEntries[name] = slotEntry{id: id, at: sl.At()}
		s.log.Debug("slot armed",
			logx.String("slot", name),
			logx.String("at", sl.At()))
	}
	s.log.Info("plan updated", logx.Int("slots", len(active)))
	return nil
}

// FireNow dispatches the posting job for the named slot immediately. The
// armed plan is untouched; the slot's regular trigger still fires.
func (s *Service) FireNow(ctx context.Context, slot string) error {
	s.mu.Lock()
	if s.c == nil {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.mu.Unlock()
	s.enqueue(job{name: "fire:" + slot, run: func(ctx context.Context) error {
		return s.jobs.PostSlot(ctx, slot)
	}})
	return nil
}

// Snapshot reports every armed entry with its next fire instant.
func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Timezone: s.loc.String()}
	if s.c == nil {
		return snap
	}
	for name, e := range s.slotEntries {
		snap.Entries = append(snap.Entries, EntryInfo{
			Name: name,
			Spec: e.at,
			Next: s.c.Entry(e.id).Next,
		})
	}
	snap.Entries = append(snap.Entries, EntryInfo{
		Name: "nightly",
		Spec: s.cfg.ReportAt,
		Next: s.c.Entry(s.reportEntry).Next,
	})
	sort.Slice(snap.Entries, func(i, j int) bool { return snap.Entries[i].Name < snap.Entries[j].Name })
	return snap
}

func (s *Service) enqueue(j job) {
	s.mu.Lock()
	queue, stop := s.queue, s.stopCh
	s.mu.Unlock()
	if queue == nil {
		return
	}
	select {
	case queue <- j:
	case <-stop:
	default:
		// Full queue means handlers are wedged; dropping the trigger is
		// the skip-missed behavior, the next scheduled fire recovers.
		s.log.Warn("trigger dropped, queue full", logx.String("job", j.name))
	}
}

func (s *Service) worker(stop <-chan struct{}, queue <-chan job) {
	defer s.workerWG.Done()
	for {
		select {
		case <-stop:
			return
		case j := <-queue:
			s.execOne(j)
		}
	}
}

func (s *Service) execOne(j job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.log.Error("job failed", logx.String("job", j.name), logx.Err(err))
		return
	}
	s.log.Debug("job done",
		logx.String("job", j.name),
		logx.Duration("took", time.Since(start)))
}

func resolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler: timezone %q: %w", tz, err)
	}
	return loc, nil
}

func cronSpec(hour, minute int) string {
	return fmt.Sprintf("%d %d * * *", minute, hour)
}

func parseHHMM(v string) (hour, minute int, err error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("want HH:MM, got %q", v)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", v)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", v)
	}
	return hour, minute, nil
}
