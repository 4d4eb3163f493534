// Package telegram integrates Telegram bot accounts: live getMe probes,
// a long-polling worker per account, and credential clearing on logout.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"chanhub/internal/channel"
	"chanhub/internal/config"
)

const channelID = "telegram"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string { return channelID }

// Accounts lists configured account ids, default slot first, the rest in
// lexical order so enumeration is stable across calls.
func (p *Plugin) Accounts(cfg *config.Config) []string {
	cc := cfg.Channel(channelID)
	ids := make([]string, 0, len(cc.Accounts)+1)
	hasDefault := len(cc.Settings) > 0
	for id := range cc.Accounts {
		if id == channel.DefaultAccountID {
			hasDefault = true
			continue
		}
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if hasDefault {
		ids = append([]string{channel.DefaultAccountID}, ids...)
	}
	return ids
}

// Account resolves one account's config. The default account falls back to
// the channel-level settings block when no explicit entry exists.
func (p *Plugin) Account(cfg *config.Config, accountID string) channel.Account {
	cc := cfg.Channel(channelID)
	if acc, ok := cc.Accounts[accountID]; ok {
		return channel.Account(acc)
	}
	if accountID == channel.DefaultAccountID && cc.Settings != nil {
		return channel.Account(cc.Settings)
	}
	return channel.Account{}
}

// AccountConfigured requires a bot token.
func (p *Plugin) AccountConfigured(_ *config.Config, acc channel.Account) bool {
	return token(acc) != ""
}

// Probe verifies the bot token against the Bot API (telebot performs a
// getMe on construction).
func (p *Plugin) Probe(ctx context.Context, req channel.ProbeRequest) (map[string]any, error) {
	b, err := tele.NewBot(tele.Settings{
		Token:  token(req.Account),
		Client: &http.Client{Timeout: req.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("getMe: %w", err)
	}
	return map[string]any{
		"botId":       b.Me.ID,
		"botUsername": b.Me.Username,
	}, nil
}

// Audit checks the token shape and carries probe identity through.
func (p *Plugin) Audit(_ context.Context, req channel.AuditRequest) (map[string]any, error) {
	out := map[string]any{}
	tok := token(req.Account)
	out["tokenFormat"] = looksLikeBotToken(tok)
	if req.Probe != nil {
		if u, ok := req.Probe["botUsername"]; ok {
			out["botUsername"] = u
		}
	}
	return out, nil
}

func (p *Plugin) DecorateSnapshot(_ *config.Config, acc channel.Account, snap *channel.AccountSnapshot) {
	snap.Mode = "polling"
	if url, _ := acc["webhookUrl"].(string); strings.TrimSpace(url) != "" {
		snap.Mode = "webhook"
	}
	snap.Source = "config"
}

// Summary reports the channel-level view derived from the default account.
func (p *Plugin) Summary(acc channel.Account, snap *channel.AccountSnapshot) map[string]any {
	out := map[string]any{"configured": token(acc) != ""}
	if snap == nil {
		return out
	}
	if snap.Connected != nil {
		out["connected"] = *snap.Connected
	}
	if snap.Running != nil {
		out["running"] = *snap.Running
	}
	if snap.Probe != nil {
		if u, ok := snap.Probe["botUsername"]; ok {
			out["botUsername"] = u
		}
	}
	if snap.LastError != nil {
		out["lastError"] = *snap.LastError
	}
	return out
}

// Logout clears the stored bot token. Telegram has no server-side session
// to revoke; removing the credential is the whole operation.
func (p *Plugin) Logout(ctx context.Context, req channel.LogoutRequest) (channel.LogoutOutcome, error) {
	had := token(req.Account) != ""
	if !had {
		return channel.LogoutOutcome{Cleared: false, LoggedOut: channel.Bool(true)}, nil
	}
	err := req.Store.WriteFile(ctx, func(cfg *config.Config) error {
		cc := cfg.Channels[channelID]
		if acc, ok := cc.Accounts[req.AccountID]; ok {
			delete(acc, "botToken")
		}
		if req.AccountID == channel.DefaultAccountID && cc.Settings != nil {
			delete(cc.Settings, "botToken")
		}
		cfg.Channels[channelID] = cc
		return nil
	})
	if err != nil {
		return channel.LogoutOutcome{}, err
	}
	return channel.LogoutOutcome{Cleared: true}, nil
}

// DeleteAccount removes the account entry; deleting the default account
// also clears the legacy settings slot.
func (p *Plugin) DeleteAccount(cfg *config.Config, accountID string) error {
	cc := cfg.Channels[channelID]
	delete(cc.Accounts, accountID)
	if accountID == channel.DefaultAccountID {
		cc.Settings = nil
	}
	cfg.Channels[channelID] = cc
	return nil
}

// NewWorker supplies the long-polling worker for one bot account.
func (p *Plugin) NewWorker(deps channel.WorkerDeps) (channel.Worker, error) {
	tok := token(deps.Account)
	if tok == "" {
		return nil, fmt.Errorf("telegram: account %s has no bot token", deps.AccountID)
	}
	poll := 10 * time.Second
	if s, _ := deps.Account["pollTimeout"].(string); s != "" {
		d, err := config.ParseDurationField("pollTimeout", s)
		if err != nil {
			return nil, err
		}
		if d > 0 {
			poll = d
		}
	}
	return &worker{token: tok, poll: poll, deps: deps}, nil
}

func token(acc channel.Account) string {
	tok, _ := acc["botToken"].(string)
	return strings.TrimSpace(tok)
}

// looksLikeBotToken checks the "<numeric id>:<secret>" shape without
// calling the API.
func looksLikeBotToken(tok string) bool {
	id, rest, ok := strings.Cut(tok, ":")
	if !ok || id == "" || len(rest) < 30 {
		return false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
