// Package worker runs one long-lived goroutine per enabled channel
// account and keeps the set of running workers reconciled with the
// current configuration.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"chanhub/internal/activity"
	"chanhub/internal/channel"
	"chanhub/internal/config"
	"chanhub/internal/eventbus"
	"chanhub/internal/runtime"
	logx "chanhub/pkg/logx"
)

const (
	stopTimeout    = 10 * time.Second
	restartBackoff = time.Second
	maxBackoff     = time.Minute
	// A worker that stayed up this long gets its backoff reset.
	steadyRuntime = time.Minute
)

type workerKey struct {
	channel string
	account string
}

type running struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Supervisor owns the worker goroutines. All state transitions a worker
// observes flow through callbacks into the runtime state and the activity
// tracker; the supervisor itself only tracks liveness.
type Supervisor struct {
	registry *channel.Registry
	manager  *config.Manager
	runtime  *runtime.State
	activity *activity.Tracker
	bus      eventbus.Bus
	log      logx.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	workers map[workerKey]*running
	stopped bool
}

func NewSupervisor(reg *channel.Registry, mgr *config.Manager, rt *runtime.State, act *activity.Tracker, bus eventbus.Bus, log logx.Logger) *Supervisor {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Supervisor{
		registry: reg,
		manager:  mgr,
		runtime:  rt,
		activity: act,
		bus:      bus,
		log:      log,
		workers:  map[workerKey]*running{},
	}
}

// StartAll launches workers for every enabled, configured account of every
// plugin that provides one. Safe to call once; use Reconcile afterwards.
func (s *Supervisor) StartAll(ctx context.Context) {
	s.mu.Lock()
	if s.ctx == nil {
		s.ctx, s.cancel = context.WithCancel(ctx)
	}
	s.mu.Unlock()
	s.Reconcile()
}

// Reconcile aligns the running worker set with the current configuration:
// starts workers for newly enabled accounts, stops workers whose account
// was disabled or removed. Called on start and after each config reload.
func (s *Supervisor) Reconcile() {
	cfg := s.manager.Get()
	desired := s.desired(cfg)

	s.mu.Lock()
	if s.stopped || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	var toStop []workerKey
	for key := range s.workers {
		if _, ok := desired[key]; !ok {
			toStop = append(toStop, key)
		}
	}
	var toStart []workerKey
	for key := range desired {
		if _, ok := s.workers[key]; !ok {
			toStart = append(toStart, key)
		}
	}
	s.mu.Unlock()

	for _, key := range toStop {
		s.stopOne(key, stopTimeout)
	}
	for _, key := range toStart {
		s.startOne(key)
	}
}

// desired computes which channel+account pairs should have a worker under
// the given config.
func (s *Supervisor) desired(cfg *config.Config) map[workerKey]struct{} {
	out := map[workerKey]struct{}{}
	for _, p := range s.registry.Plugins() {
		if _, ok := p.(channel.WorkerProvider); !ok {
			continue
		}
		for _, accountID := range channel.AccountIDs(p, cfg) {
			acc := channel.ResolveAccount(p, cfg, accountID)
			if !channel.AccountEnabled(p, cfg, accountID, acc) {
				continue
			}
			if cc, ok := p.(channel.ConfiguredChecker); ok && !accountConfigured(cc, cfg, acc) {
				continue
			}
			out[workerKey{channel: p.ID(), account: accountID}] = struct{}{}
		}
	}
	return out
}

func accountConfigured(cc channel.ConfiguredChecker, cfg *config.Config, acc channel.Account) (configured bool) {
	defer func() {
		if recover() != nil {
			configured = false
		}
	}()
	return cc.AccountConfigured(cfg, acc)
}

func (s *Supervisor) startOne(key workerKey) {
	p := s.registry.Plugin(key.channel)
	if p == nil {
		return
	}
	wp, ok := p.(channel.WorkerProvider)
	if !ok {
		return
	}

	s.mu.Lock()
	if s.stopped || s.ctx == nil {
		s.mu.Unlock()
		return
	}
	if _, exists := s.workers[key]; exists {
		s.mu.Unlock()
		return
	}
	wctx, cancel := context.WithCancel(s.ctx)
	r := &running{cancel: cancel, done: make(chan struct{})}
	s.workers[key] = r
	s.mu.Unlock()

	log := s.log.With(
		logx.String("channel", key.channel),
		logx.String("account", key.account))

	go func() {
		defer close(r.done)
		defer s.forget(key)
		s.runLoop(wctx, wp, key, log)
	}()
}

// runLoop constructs and runs the worker, restarting with exponential
// backoff after failures until the worker context is cancelled. The
// account config is re-resolved on every (re)start so a hot reload takes
// effect on the next restart.
func (s *Supervisor) runLoop(ctx context.Context, wp channel.WorkerProvider, key workerKey, log logx.Logger) {
	backoff := restartBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		cfg := s.manager.Get()
		acc := channel.ResolveAccount(s.registry.Plugin(key.channel), cfg, key.account)
		deps := channel.WorkerDeps{
			AccountID: key.account,
			Account:   acc,
			Config:    cfg,
			Log:       log,
			OnState: func(connected bool, err error) {
				s.runtime.SetConnected(key.channel, key.account, connected, err)
			},
			OnInbound: func() {
				s.activity.RecordInbound(key.channel, key.account, time.Now())
			},
			OnOutbound: func() {
				s.activity.RecordOutbound(key.channel, key.account, time.Now())
			},
		}

		w, err := newWorker(wp, deps)
		if err != nil {
			log.Error("worker create failed", logx.Err(err))
			s.runtime.SetConnected(key.channel, key.account, false, err)
			return
		}

		s.runtime.SetRunning(key.channel, key.account, true)
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeWorkerStarted,
			Data: map[string]any{"channel": key.channel, "account": key.account},
		})
		log.Info("worker started")

		started := time.Now()
		err = runWorker(ctx, w)
		ran := time.Since(started)

		s.runtime.SetRunning(key.channel, key.account, false)
		s.bus.Publish(eventbus.Event{
			Type: eventbus.TypeWorkerStopped,
			Data: map[string]any{"channel": key.channel, "account": key.account},
		})

		if ctx.Err() != nil {
			log.Info("worker stopped")
			return
		}
		if err != nil {
			s.runtime.SetConnected(key.channel, key.account, false, err)
			log.Warn("worker exited", logx.Err(err), logx.Duration("ran", ran))
		} else {
			log.Warn("worker exited without error", logx.Duration("ran", ran))
		}

		if ran >= steadyRuntime {
			backoff = restartBackoff
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runWorker invokes Run with panic recovery so one broken plugin cannot
// take down the supervisor.
func runWorker(ctx context.Context, w channel.Worker) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return w.Run(ctx)
}

func newWorker(wp channel.WorkerProvider, deps channel.WorkerDeps) (w channel.Worker, err error) {
	defer func() {
		if r := recover(); r != nil {
			w = nil
			err = &panicError{value: r, stack: debug.Stack()}
		}
	}()
	return wp.NewWorker(deps)
}

func (s *Supervisor) forget(key workerKey) {
	s.mu.Lock()
	delete(s.workers, key)
	s.mu.Unlock()
}

// StopAccount stops the worker for one channel account and waits up to the
// given timeout. Best-effort: a worker that does not exit in time is
// abandoned (its context stays cancelled).
func (s *Supervisor) StopAccount(channelID, accountID string, timeout time.Duration) {
	if timeout <= 0 {
		timeout = stopTimeout
	}
	s.stopOne(workerKey{channel: channelID, account: accountID}, timeout)
}

func (s *Supervisor) stopOne(key workerKey, timeout time.Duration) {
	s.mu.Lock()
	r := s.workers[key]
	s.mu.Unlock()
	if r == nil {
		return
	}
	r.cancel()
	select {
	case <-r.done:
	case <-time.After(timeout):
		s.log.Warn("worker stop timed out",
			logx.String("channel", key.channel),
			logx.String("account", key.account))
	}
}

// Running reports whether a worker is currently alive for channel+account.
func (s *Supervisor) Running(channelID, accountID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.workers[workerKey{channel: channelID, account: accountID}]
	return ok
}

// StopAll cancels every worker and waits up to timeout for all of them.
func (s *Supervisor) StopAll(timeout time.Duration) {
	s.mu.Lock()
	s.stopped = true
	if s.cancel != nil {
		s.cancel()
	}
	var dones []chan struct{}
	for _, r := range s.workers {
		dones = append(dones, r.done)
	}
	s.mu.Unlock()

	deadline := time.After(timeout)
	for _, done := range dones {
		select {
		case <-done:
		case <-deadline:
			s.log.Warn("worker shutdown timed out")
			return
		}
	}
}

type panicError struct {
	value any
	stack []byte
}

func (e *panicError) Error() string {
	return fmt.Sprintf("worker panic: %v", e.value)
}
