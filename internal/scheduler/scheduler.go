// Package scheduler injects maintenance commands on each device's
// recurrence rule.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"valve-go-home/internal/controller"
	"valve-go-home/internal/store"
)

const DefaultInterval = 60 * time.Second

// Sweeper applies a due function to every device atomically.
type Sweeper interface {
	SweepMaintenance(now time.Time, due controller.DueFunc) ([]string, error)
}

// Scheduler runs a maintenance sweep on a fixed period.
type Scheduler struct {
	sweeper  Sweeper
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger

	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a scheduler. A zero interval means DefaultInterval.
func New(sw Sweeper, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		sweeper:  sw,
		interval: interval,
		now:      time.Now,
		logger:   logger.With("component", "scheduler"),
		stopChan: make(chan struct{}),
	}
}

// Start sweeps once immediately and then every interval until ctx is done
// or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
	s.logger.Info("maintenance scheduler started", "interval", s.interval)
}

// Stop ends the loop and waits for an in-progress sweep.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick()
	for {
		select {
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick runs one sweep. Errors are logged; the loop never stops on them.
func (s *Scheduler) Tick() []string {
	now := s.now()
	ids, err := s.sweeper.SweepMaintenance(now, ShouldTrigger)
	if err != nil {
		s.logger.Error("maintenance sweep", "err", err)
		return nil
	}
	if len(ids) > 0 {
		s.logger.Info("maintenance sweep", "triggered", ids, "at", now.Format("2006-01-02 15:04"))
	}
	return ids
}

// ShouldTrigger reports whether dev's maintenance is due at now. The
// maintenance time must equal now's wall-clock minute exactly; a missed
// minute is not caught up. Dates are interpreted in now's location.
func ShouldTrigger(dev *store.DeviceConfig, now time.Time) bool {
	if !dev.MaintenanceEnabled {
		return false
	}
	if dev.MaintenanceTime != now.Format("15:04") {
		return false
	}

	today := now.Format(store.DateLayout)
	last, hasLast := parseDate(dev.LastMaintenanceDate, now.Location())

	switch dev.MaintenanceFrequency {
	case store.FrequencyDaily:
		return dev.LastMaintenanceDate != today
	case store.FrequencyWeekly:
		if !hasLast {
			return true
		}
		// Compared as (ISO year, week), not the bare week number: the same
		// week number one year later is a different week and triggers.
		ly, lw := last.ISOWeek()
		ny, nw := now.ISOWeek()
		return ly != ny || lw != nw
	case store.FrequencyMonthly:
		if !hasLast {
			return true
		}
		return last.Month() != now.Month() || last.Year() != now.Year()
	default:
		return false
	}
}

func parseDate(s string, loc *time.Location) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(store.DateLayout, s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
