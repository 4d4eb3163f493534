package gateway

import (
	"context"
	"fmt"

	"chanhub/internal/channel"
	"chanhub/internal/eventbus"
	logx "chanhub/pkg/logx"
)

// LogoutRequest names the channel (required) and optionally the account to
// log out. An empty account id resolves to the plugin's default account.
type LogoutRequest struct {
	Channel   string
	AccountID string
}

// LogoutResult is the outcome of one logout operation. Extra carries
// plugin-defined fields verbatim.
type LogoutResult struct {
	Channel   string         `json:"channel"`
	AccountID string         `json:"accountId"`
	Cleared   bool           `json:"cleared"`
	LoggedOut bool           `json:"loggedOut"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Logout logs one channel account out: stops its worker, invokes the
// plugin's logout capability, and records the outcome in runtime state so
// the next status call reflects it without a probe.
//
// The worker stop is always attempted once the channel resolves, even when
// the plugin turns out to lack a logout capability: stopping the worker is
// independent of credential clearing. A missing capability is then an
// unavailable-capability error, not an invalid request.
func (g *Gateway) Logout(ctx context.Context, req LogoutRequest) (LogoutResult, error) {
	channelID, p, err := g.resolveChannel(req.Channel)
	if err != nil {
		return LogoutResult{}, err
	}

	cfg := g.manager.Get()
	accountID := channel.ResolveActionAccountID(p, cfg, req.AccountID)

	// Stop the worker before touching credentials so the connection does
	// not race the logout. Failure to stop in time is tolerated.
	g.workers.StopAccount(channelID, accountID, 0)

	lc, ok := p.(channel.LogoutCapability)
	if !ok {
		return LogoutResult{}, unavailablef("channel %q does not support logout", channelID)
	}
	// Logout may clear persisted credentials; refuse while the on-disk
	// config cannot be safely rewritten.
	if err := g.requireValidFile(); err != nil {
		return LogoutResult{}, err
	}

	outcome, err := safeLogout(ctx, lc, channel.LogoutRequest{
		AccountID: accountID,
		Account:   channel.ResolveAccount(p, cfg, accountID),
		Config:    cfg,
		Store:     g.manager,
		Runtime:   g.runtime,
	})
	if err != nil {
		return LogoutResult{}, unavailablef("logout %s/%s: %v", channelID, accountID, err)
	}

	loggedOut := outcome.Cleared
	if outcome.LoggedOut != nil {
		loggedOut = *outcome.LoggedOut
	}
	g.runtime.MarkLoggedOut(channelID, loggedOut, accountID)

	g.bus.Publish(eventbus.Event{
		Type: eventbus.TypeChannelLogout,
		Data: map[string]any{"channel": channelID, "account": accountID, "loggedOut": loggedOut},
	})
	g.log.Info("channel logged out",
		logx.String("channel", channelID),
		logx.String("account", accountID),
		logx.Bool("cleared", outcome.Cleared),
		logx.Bool("loggedOut", loggedOut))

	return LogoutResult{
		Channel:   channelID,
		AccountID: accountID,
		Cleared:   outcome.Cleared,
		LoggedOut: loggedOut,
		Extra:     outcome.Extra,
	}, nil
}

func safeLogout(ctx context.Context, lc channel.LogoutCapability, req channel.LogoutRequest) (outcome channel.LogoutOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome = channel.LogoutOutcome{}
			err = fmt.Errorf("logout panic: %v", r)
		}
	}()
	return lc.Logout(ctx, req)
}
