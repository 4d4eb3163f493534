// Package refresh runs a cron-scheduled status sweep so runtime state and
// probe results stay warm even when no client is asking.
package refresh

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"chanhub/internal/config"
	"chanhub/internal/eventbus"
	"chanhub/internal/status"
	logx "chanhub/pkg/logx"
)

const defaultSchedule = "*/5 * * * *"

// statusRunner is the slice of the aggregator the service needs.
type statusRunner interface {
	Report(ctx context.Context, params status.Params) (*status.Report, error)
}

// Service owns the cron scheduler. Apply reconfigures it on config reload;
// overlapping sweeps are skipped rather than queued.
type Service struct {
	runner statusRunner
	bus    eventbus.Bus
	log    logx.Logger

	mu       sync.Mutex
	cron     *cron.Cron
	entry    cron.EntryID
	cfg      config.RefreshConfig
	running  bool
	sweeping bool
}

func New(runner statusRunner, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{runner: runner, bus: bus, log: log}
}

// Apply reconfigures the scheduler from the given config. Disabled or
// unchanged configs are handled cheaply; a schedule change replaces the
// cron entry.
func (s *Service) Apply(cfg config.RefreshConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !cfg.Enabled {
		s.stopLocked()
		s.cfg = cfg
		return
	}
	if s.running && cfg == s.cfg {
		return
	}

	schedule := cfg.Schedule
	if schedule == "" {
		schedule = defaultSchedule
	}

	c := cron.New()
	id, err := c.AddFunc(schedule, s.sweep)
	if err != nil {
		s.log.Error("invalid refresh schedule",
			logx.String("schedule", schedule), logx.Err(err))
		return
	}

	s.stopLocked()
	c.Start()
	s.cron = c
	s.entry = id
	s.cfg = cfg
	s.running = true
	s.log.Info("status refresh scheduled", logx.String("schedule", schedule))
}

// Stop halts the scheduler and waits for an in-flight sweep to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

func (s *Service) stopLocked() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
		s.cron = nil
	}
	s.running = false
}

// sweep runs one status pass. A sweep still running when the next tick
// fires makes the new tick a no-op.
func (s *Service) sweep() {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		s.log.Debug("refresh sweep still running, skipping tick")
		return
	}
	s.sweeping = true
	cfg := s.cfg
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	timeout, err := config.ParseDurationField("status.refresh.timeout", cfg.Timeout)
	if err != nil {
		s.log.Warn("bad refresh timeout", logx.Err(err))
		timeout = 0
	}

	sweepBudget := 2 * time.Minute
	ctx, cancel := context.WithTimeout(context.Background(), sweepBudget)
	defer cancel()

	started := time.Now()
	report, err := s.runner.Report(ctx, status.Params{Probe: cfg.Probe, Timeout: timeout})
	if err != nil {
		s.log.Warn("refresh sweep failed", logx.Err(err))
		return
	}

	s.bus.Publish(eventbus.Event{
		Type: eventbus.TypeStatusRefreshed,
		Data: map[string]any{
			"channels": len(report.ChannelOrder),
			"tookMs":   time.Since(started).Milliseconds(),
			"probed":   cfg.Probe,
		},
	})
	s.log.Debug("refresh sweep done",
		logx.Int("channels", len(report.ChannelOrder)),
		logx.Duration("took", time.Since(started)))
}
