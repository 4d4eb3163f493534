// Package gateway exposes the channel-gateway operations: status
// aggregation, logout, and account save/delete. It validates requests,
// enforces the error taxonomy, and coordinates the collaborators
// (config manager, runtime state, worker supervisor, status aggregator).
package gateway

import (
	"context"
	"regexp"
	"strings"
	"time"

	"chanhub/internal/channel"
	"chanhub/internal/config"
	"chanhub/internal/eventbus"
	"chanhub/internal/runtime"
	"chanhub/internal/status"
	logx "chanhub/pkg/logx"
)

// accountIDPattern constrains caller-supplied account ids: lowercase
// alphanumerics and hyphens, starting with an alphanumeric.
var accountIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)

// workerControl is the slice of the worker supervisor the gateway uses.
type workerControl interface {
	StopAccount(channelID, accountID string, timeout time.Duration)
	Reconcile()
}

// Gateway is the operation surface. Construct once; safe for concurrent use.
type Gateway struct {
	registry   *channel.Registry
	manager    *config.Manager
	runtime    *runtime.State
	aggregator *status.Aggregator
	workers    workerControl
	bus        eventbus.Bus
	log        logx.Logger
}

func New(reg *channel.Registry, mgr *config.Manager, rt *runtime.State, agg *status.Aggregator, workers workerControl, bus eventbus.Bus, log logx.Logger) *Gateway {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Gateway{
		registry:   reg,
		manager:    mgr,
		runtime:    rt,
		aggregator: agg,
		workers:    workers,
		bus:        bus,
		log:        log,
	}
}

// StatusRequest selects what one status call computes.
type StatusRequest struct {
	// Probe requests live connectivity probes for probe-capable accounts.
	Probe bool
	// TimeoutMs bounds each probe in milliseconds. Values below 1000 are
	// raised to 1000; zero selects the default.
	TimeoutMs int64
}

// Status builds the full status report across all registered channels.
func (g *Gateway) Status(ctx context.Context, req StatusRequest) (*status.Report, error) {
	return g.aggregator.Report(ctx, status.Params{
		Probe:   req.Probe,
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
	})
}

// SaveAccountRequest adds or replaces one account's configuration. Name is
// an optional display label stored alongside the account object.
type SaveAccountRequest struct {
	Channel   string
	AccountID string
	Name      string
	Account   map[string]any
}

// SaveAccountResult reports where the account landed.
type SaveAccountResult struct {
	Channel   string `json:"channel"`
	AccountID string `json:"accountId"`
}

// SaveAccount validates and persists one account's configuration, then
// reconciles workers so an enabled account starts without a restart.
func (g *Gateway) SaveAccount(ctx context.Context, req SaveAccountRequest) (SaveAccountResult, error) {
	channelID, p, err := g.resolveChannel(req.Channel)
	if err != nil {
		return SaveAccountResult{}, err
	}
	if req.Account == nil {
		return SaveAccountResult{}, invalidRequestf("account object is required")
	}

	accountID := strings.TrimSpace(req.AccountID)
	if accountID == "" {
		accountID = channel.ResolveDefaultAccountID(p, g.manager.Get())
	}
	if !accountIDPattern.MatchString(accountID) {
		return SaveAccountResult{}, invalidRequestf("account id %q must match %s", accountID, accountIDPattern.String())
	}

	if err := g.requireValidFile(); err != nil {
		return SaveAccountResult{}, err
	}

	account := req.Account
	if name := strings.TrimSpace(req.Name); name != "" {
		account = make(map[string]any, len(req.Account)+1)
		for k, v := range req.Account {
			account[k] = v
		}
		account["name"] = name
	}

	err = g.manager.WriteFile(ctx, func(cfg *config.Config) error {
		if cfg.Channels == nil {
			cfg.Channels = map[string]config.ChannelConfig{}
		}
		cc := cfg.Channels[channelID]
		if cc.Accounts == nil {
			cc.Accounts = map[string]map[string]any{}
		}
		cc.Accounts[accountID] = account
		cfg.Channels[channelID] = cc
		return nil
	})
	if err != nil {
		return SaveAccountResult{}, unavailablef("persist account: %v", err)
	}

	g.workers.Reconcile()
	g.bus.Publish(eventbus.Event{
		Type: eventbus.TypeAccountSaved,
		Data: map[string]any{"channel": channelID, "account": accountID},
	})
	g.log.Info("account saved",
		logx.String("channel", channelID),
		logx.String("account", accountID))

	return SaveAccountResult{Channel: channelID, AccountID: accountID}, nil
}

// DeleteAccountRequest removes one account's configuration.
type DeleteAccountRequest struct {
	Channel   string
	AccountID string
}

// DeleteAccountResult reports what was removed.
type DeleteAccountResult struct {
	Channel   string `json:"channel"`
	AccountID string `json:"accountId"`
	Removed   bool   `json:"removed"`
}

// DeleteAccount stops the account's worker (best-effort) and removes its
// configuration. Plugins with an AccountDeleter perform the config surgery
// themselves; otherwise the account entry is dropped directly.
func (g *Gateway) DeleteAccount(ctx context.Context, req DeleteAccountRequest) (DeleteAccountResult, error) {
	channelID, p, err := g.resolveChannel(req.Channel)
	if err != nil {
		return DeleteAccountResult{}, err
	}

	accountID := channel.ResolveActionAccountID(p, g.manager.Get(), req.AccountID)
	if !accountIDPattern.MatchString(accountID) {
		return DeleteAccountResult{}, invalidRequestf("account id %q must match %s", accountID, accountIDPattern.String())
	}

	if err := g.requireValidFile(); err != nil {
		return DeleteAccountResult{}, err
	}

	g.workers.StopAccount(channelID, accountID, 0)

	removed := false
	err = g.manager.WriteFile(ctx, func(cfg *config.Config) error {
		if ad, ok := p.(channel.AccountDeleter); ok {
			if err := ad.DeleteAccount(cfg, accountID); err != nil {
				return err
			}
			removed = true
			return nil
		}
		cc := cfg.Channels[channelID]
		if _, ok := cc.Accounts[accountID]; ok {
			delete(cc.Accounts, accountID)
			cfg.Channels[channelID] = cc
			removed = true
		}
		return nil
	})
	if err != nil {
		return DeleteAccountResult{}, unavailablef("remove account: %v", err)
	}

	g.workers.Reconcile()
	g.bus.Publish(eventbus.Event{
		Type: eventbus.TypeAccountDeleted,
		Data: map[string]any{"channel": channelID, "account": accountID, "removed": removed},
	})
	g.log.Info("account deleted",
		logx.String("channel", channelID),
		logx.String("account", accountID),
		logx.Bool("removed", removed))

	return DeleteAccountResult{Channel: channelID, AccountID: accountID, Removed: removed}, nil
}

// resolveChannel maps raw caller input to a registered plugin.
func (g *Gateway) resolveChannel(raw string) (string, channel.Plugin, error) {
	id, ok := g.registry.NormalizeID(raw)
	if !ok {
		return "", nil, invalidRequestf("unknown channel %q", strings.TrimSpace(raw))
	}
	return id, g.registry.Plugin(id), nil
}

// requireValidFile refuses config writes while the on-disk file is broken,
// so a write cannot silently clobber a config the operator is mid-editing.
func (g *Gateway) requireValidFile() error {
	snap := g.manager.FileSnapshot()
	if !snap.Valid {
		return unavailablef("config file is invalid; fix it before writing: %v", snap.Err)
	}
	return nil
}
