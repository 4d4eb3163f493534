// Package status assembles per-account snapshots for every registered
// channel: optional live probes and audits, merged with last-known runtime
// state and recorded message activity.
package status

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"chanhub/internal/channel"
	"chanhub/internal/config"
	logx "chanhub/pkg/logx"
)

// minProbeTimeout is the floor applied to caller-supplied probe timeouts.
const minProbeTimeout = time.Second

// defaultProbeTimeout bounds probes when the caller supplies no timeout.
const defaultProbeTimeout = 10 * time.Second

// clampTimeout normalizes a caller-supplied probe timeout.
func clampTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return defaultProbeTimeout
	}
	if d < minProbeTimeout {
		return minProbeTimeout
	}
	return d
}

// probeOne runs one plugin's connectivity probe with panic recovery.
func probeOne(ctx context.Context, p channel.Prober, req channel.ProbeRequest) (payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	return p.Probe(ctx, req)
}

// auditOne runs one plugin's configuration audit with panic recovery.
func auditOne(ctx context.Context, a channel.Auditor, req channel.AuditRequest) (payload map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			payload = nil
			err = fmt.Errorf("audit panic: %v", r)
		}
	}()
	return a.Audit(ctx, req)
}

// buildAccountSnapshot computes the probe-phase snapshot for one account:
// enablement, configuredness, and (when requested and the gate allows it)
// a live probe plus audit. Runtime and activity merging happen afterwards.
//
// A probe runs only when all hold: the caller requested probing, the
// account is enabled, the account is configured (or the plugin has no
// configured check), and the plugin can probe. An explicitly unconfigured
// account short-circuits both probe and audit; there is nothing useful to
// check without credentials.
func buildAccountSnapshot(ctx context.Context, p channel.Plugin, cfg *config.Config, accountID string, probe bool, timeout time.Duration, limiter *rate.Limiter, log logx.Logger) channel.AccountSnapshot {
	acc := channel.ResolveAccount(p, cfg, accountID)
	enabled := channel.AccountEnabled(p, cfg, accountID, acc)

	snap := channel.AccountSnapshot{
		AccountID: accountID,
		Enabled:   channel.Bool(enabled),
	}
	if name, ok := acc["name"].(string); ok && name != "" {
		snap.Name = name
	}

	gate := enabled
	if cc, ok := p.(channel.ConfiguredChecker); ok {
		configured := safeConfigured(cc, cfg, acc)
		snap.Configured = channel.Bool(configured)
		gate = gate && configured
	}

	if !probe || !gate {
		decorate(p, cfg, acc, &snap)
		return snap
	}

	var probePayload map[string]any
	if prober, ok := p.(channel.Prober); ok && waitProbeSlot(ctx, limiter) {
		pctx, cancel := context.WithTimeout(ctx, timeout)
		payload, err := probeOne(pctx, prober, channel.ProbeRequest{
			AccountID: accountID,
			Account:   acc,
			Timeout:   timeout,
			Config:    cfg,
		})
		cancel()

		snap.LastProbeAt = channel.Millis(time.Now())
		if err != nil {
			snap.Connected = channel.Bool(false)
			snap.LastError = channel.StringPtr(err.Error())
			log.Debug("probe failed",
				logx.String("channel", p.ID()),
				logx.String("account", accountID),
				logx.Err(err))
		} else {
			snap.Connected = channel.Bool(true)
			snap.Probe = payload
			probePayload = payload
		}
	}

	if auditor, ok := p.(channel.Auditor); ok {
		actx, cancel := context.WithTimeout(ctx, timeout)
		payload, err := auditOne(actx, auditor, channel.AuditRequest{
			AccountID: accountID,
			Account:   acc,
			Probe:     probePayload,
			Config:    cfg,
		})
		cancel()
		if err != nil {
			snap.Audit = map[string]any{"error": err.Error()}
			if snap.LastError == nil {
				snap.LastError = channel.StringPtr(err.Error())
			}
			log.Debug("audit failed",
				logx.String("channel", p.ID()),
				logx.String("account", accountID),
				logx.Err(err))
		} else {
			snap.Audit = payload
		}
	}

	decorate(p, cfg, acc, &snap)
	return snap
}

// waitProbeSlot blocks on the probe launch limiter. A cancelled context
// skips the probe round-trip; the rest of the snapshot assembly (audit,
// decoration) still runs so every exit path is uniform.
func waitProbeSlot(ctx context.Context, limiter *rate.Limiter) bool {
	if limiter == nil {
		return true
	}
	return limiter.Wait(ctx) == nil
}

func decorate(p channel.Plugin, cfg *config.Config, acc channel.Account, snap *channel.AccountSnapshot) {
	sd, ok := p.(channel.SnapshotDecorator)
	if !ok {
		return
	}
	defer func() { _ = recover() }()
	sd.DecorateSnapshot(cfg, acc, snap)
}

func safeConfigured(cc channel.ConfiguredChecker, cfg *config.Config, acc channel.Account) (configured bool) {
	defer func() {
		if recover() != nil {
			configured = false
		}
	}()
	return cc.AccountConfigured(cfg, acc)
}
