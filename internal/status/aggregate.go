package status

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chanhub/internal/activity"
	"chanhub/internal/catalog"
	"chanhub/internal/channel"
	"chanhub/internal/config"
	"chanhub/internal/runtime"
	logx "chanhub/pkg/logx"
)

// Params tunes one status request.
type Params struct {
	// Probe requests live connectivity probes. When false the report is
	// assembled purely from configuration, runtime state and activity.
	Probe bool
	// Timeout bounds each individual probe. Values below one second are
	// raised to one second; zero selects the default.
	Timeout time.Duration
}

// Report is the full status view across all registered channels. Every
// registered channel id appears in ChannelAccounts and Channels, even when
// it has no accounts or no meaningful summary.
type Report struct {
	GeneratedAt int64 `json:"generatedAt"`

	ChannelOrder []string          `json:"channelOrder"`
	Labels       map[string]string `json:"labels"`
	DetailLabels map[string]string `json:"detailLabels"`
	SystemImages map[string]string `json:"systemImages"`

	Channels                map[string]map[string]any            `json:"channels"`
	ChannelAccounts         map[string][]channel.AccountSnapshot `json:"channelAccounts"`
	ChannelDefaultAccountID map[string]string                    `json:"channelDefaultAccountId"`
}

// Aggregator assembles status reports. It owns no mutable state of its
// own; each request works from a config snapshot, a runtime snapshot and
// the activity tracker, so concurrent requests never interfere.
type Aggregator struct {
	registry *channel.Registry
	manager  *config.Manager
	runtime  *runtime.State
	activity *activity.Tracker
	catalog  catalog.Catalog
	log      logx.Logger
}

func NewAggregator(reg *channel.Registry, mgr *config.Manager, rt *runtime.State, act *activity.Tracker, cat catalog.Catalog, log logx.Logger) *Aggregator {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Aggregator{
		registry: reg,
		manager:  mgr,
		runtime:  rt,
		activity: act,
		catalog:  cat,
		log:      log,
	}
}

// Report builds the status view for all registered channels.
//
// Per-account failures (probe errors, plugin panics) degrade that account's
// snapshot and never fail the request; only a cancelled context aborts.
func (a *Aggregator) Report(ctx context.Context, params Params) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	cfg := a.manager.Get()
	rtSnap := a.runtime.Snapshot()
	timeout := clampTimeout(params.Timeout)

	var limiter *rate.Limiter
	if pps := cfg.Status.ProbesPerSec; pps > 0 && params.Probe {
		limiter = rate.NewLimiter(rate.Limit(pps), 1)
	}

	plugins := a.registry.Plugins()
	report := &Report{
		GeneratedAt:             time.Now().UnixMilli(),
		ChannelOrder:            a.catalog.Order,
		Labels:                  make(map[string]string, len(plugins)),
		DetailLabels:            make(map[string]string, len(plugins)),
		SystemImages:            make(map[string]string, len(plugins)),
		Channels:                make(map[string]map[string]any, len(plugins)),
		ChannelAccounts:         make(map[string][]channel.AccountSnapshot, len(plugins)),
		ChannelDefaultAccountID: make(map[string]string, len(plugins)),
	}
	for id, entry := range a.catalog.Entries {
		report.Labels[id] = entry.Label
		report.DetailLabels[id] = entry.DetailLabel
		report.SystemImages[id] = entry.SystemImage
	}

	type channelResult struct {
		id        string
		defaultID string
		snapshots []channel.AccountSnapshot
	}

	results := make([]channelResult, len(plugins))
	var wg sync.WaitGroup
	for i, p := range plugins {
		wg.Add(1)
		go func(i int, p channel.Plugin) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					a.log.Error("channel status panic",
						logx.String("channel", results[i].id),
						logx.Any("panic", r))
				}
			}()
			results[i].id = p.ID()
			results[i].defaultID = channel.ResolveDefaultAccountID(p, cfg)
			results[i].snapshots = a.channelSnapshots(ctx, p, cfg, rtSnap, params.Probe, timeout, limiter, results[i].defaultID)
		}(i, p)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("status: %w", err)
	}

	for i, p := range plugins {
		res := results[i]
		if res.id == "" {
			// Panicked before producing anything; keep the channel present.
			res.id = p.ID()
			res.defaultID = channel.DefaultAccountID
		}
		if res.snapshots == nil {
			res.snapshots = []channel.AccountSnapshot{}
		}
		report.ChannelAccounts[res.id] = res.snapshots
		report.ChannelDefaultAccountID[res.id] = res.defaultID

		def := defaultSnapshot(res.snapshots, res.defaultID)
		report.Channels[res.id] = a.buildSummary(p, cfg, res.defaultID, def)
	}

	return report, nil
}

// channelSnapshots fans out snapshot assembly across one channel's
// accounts. Results land in a pre-sized slice so account order matches the
// plugin's enumeration order without locking. A channel with zero
// configured accounts yields an empty list, never a placeholder entry.
func (a *Aggregator) channelSnapshots(ctx context.Context, p channel.Plugin, cfg *config.Config, rtSnap runtime.Snapshot, probe bool, timeout time.Duration, limiter *rate.Limiter, defaultID string) []channel.AccountSnapshot {
	ids := channel.AccountIDs(p, cfg)
	if len(ids) == 0 {
		return []channel.AccountSnapshot{}
	}

	snaps := make([]channel.AccountSnapshot, len(ids))
	var wg sync.WaitGroup
	for i, accountID := range ids {
		wg.Add(1)
		go func(i int, accountID string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					snaps[i] = channel.AccountSnapshot{AccountID: accountID}
					a.log.Error("account status panic",
						logx.String("channel", p.ID()),
						logx.String("account", accountID),
						logx.Any("panic", r))
				}
			}()
			snap := buildAccountSnapshot(ctx, p, cfg, accountID, probe, timeout, limiter, a.log)
			if st, ok := rtSnap.Account(p.ID(), accountID, defaultID); ok {
				mergeRuntime(&snap, st)
			}
			mergeActivity(&snap, a.activity.Activity(p.ID(), accountID))
			snaps[i] = snap
		}(i, accountID)
	}
	wg.Wait()
	return snaps
}

// defaultSnapshot picks the summary source: the snapshot whose id matches
// the default account id, else the first snapshot.
func defaultSnapshot(snaps []channel.AccountSnapshot, defaultID string) *channel.AccountSnapshot {
	for i := range snaps {
		if snaps[i].AccountID == defaultID {
			return &snaps[i]
		}
	}
	if len(snaps) > 0 {
		return &snaps[0]
	}
	return nil
}

// buildSummary produces the channel-level summary map. A plugin summary
// builder that panics yields a degraded summary instead of failing the
// report.
func (a *Aggregator) buildSummary(p channel.Plugin, cfg *config.Config, defaultID string, snap *channel.AccountSnapshot) map[string]any {
	configured := false
	if snap != nil && snap.Configured != nil {
		configured = *snap.Configured
	}

	sb, ok := p.(channel.SummaryBuilder)
	if !ok {
		return map[string]any{"configured": configured}
	}

	acc := channel.ResolveAccount(p, cfg, defaultID)
	summary, err := safeSummary(sb, acc, snap)
	if err != nil {
		a.log.Warn("summary build failed",
			logx.String("channel", p.ID()),
			logx.Err(err))
		return map[string]any{"configured": configured, "error": err.Error()}
	}
	if summary == nil {
		summary = map[string]any{"configured": configured}
	}
	return summary
}

func safeSummary(sb channel.SummaryBuilder, acc channel.Account, snap *channel.AccountSnapshot) (summary map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary = nil
			err = fmt.Errorf("summary panic: %v", r)
		}
	}()
	return sb.Summary(acc, snap), nil
}
