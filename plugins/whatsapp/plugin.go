// Package whatsapp integrates WhatsApp Web sessions. The session lives in
// a credentials directory on disk; linked state is derived from its
// presence, and logout removes it.
package whatsapp

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"chanhub/internal/channel"
	"chanhub/internal/config"
)

const channelID = "whatsapp"

// credsFile is the session marker inside an account's credentials dir.
const credsFile = "creds.json"

type Plugin struct{}

func New() *Plugin { return &Plugin{} }

func (p *Plugin) ID() string { return channelID }

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

// AccountConfigured requires a credentials directory path.
func (p *Plugin) AccountConfigured(_ *config.Config, acc channel.Account) bool {
	return credsDir(acc) != ""
}

// Audit reports whether a linkable session exists on disk.
func (p *Plugin) Audit(_ context.Context, req channel.AuditRequest) (map[string]any, error) {
	dir := credsDir(req.Account)
	if dir == "" {
		return map[string]any{"linked": false}, nil
	}
	linked := sessionExists(dir)
	return map[string]any{"linked": linked, "credsDir": dir}, nil
}

// DecorateSnapshot fills the linked tri-state from the on-disk session so
// status reflects a pairing done by another process.
func (p *Plugin) DecorateSnapshot(_ *config.Config, acc channel.Account, snap *channel.AccountSnapshot) {
	snap.Mode = "web"
	snap.Source = "creds"
	if dir := credsDir(acc); dir != "" {
		snap.Linked = channel.Bool(sessionExists(dir))
	}
}

func (p *Plugin) Summary(acc channel.Account, snap *channel.AccountSnapshot) map[string]any {
	out := map[string]any{"configured": credsDir(acc) != ""}
	if snap == nil {
		return out
	}
	if snap.Linked != nil {
		out["linked"] = *snap.Linked
	}
	if snap.Connected != nil {
		out["connected"] = *snap.Connected
	}
	if snap.LastError != nil {
		out["lastError"] = *snap.LastError
	}
	return out
}

// Logout deletes the on-disk session. The config keeps the credentials
// directory path so the account can relink later.
func (p *Plugin) Logout(_ context.Context, req channel.LogoutRequest) (channel.LogoutOutcome, error) {
	dir := credsDir(req.Account)
	if dir == "" {
		return channel.LogoutOutcome{Cleared: false, LoggedOut: channel.Bool(true)}, nil
	}
	had := sessionExists(dir)
	if err := os.RemoveAll(dir); err != nil {
		return channel.LogoutOutcome{}, fmt.Errorf("remove session: %w", err)
	}
	return channel.LogoutOutcome{
		Cleared: had,
		Extra:   map[string]any{"credsDir": dir},
	}, nil
}

// DeleteAccount drops the config entry and the on-disk session together.
func (p *Plugin) DeleteAccount(cfg *config.Config, accountID string) error {
	cc := cfg.Channels[channelID]
	acc := channel.Account(cc.Accounts[accountID])
	if accountID == channel.DefaultAccountID && acc == nil {
		acc = channel.Account(cc.Settings)
	}
	if dir := credsDir(acc); dir != "" {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove session: %w", err)
		}
	}
	delete(cc.Accounts, accountID)
	if accountID == channel.DefaultAccountID {
		cc.Settings = nil
	}
	cfg.Channels[channelID] = cc
	return nil
}

func credsDir(acc channel.Account) string {
	dir, _ := acc["credsDir"].(string)
	return strings.TrimSpace(dir)
}

func sessionExists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, credsFile))
	return err == nil && !info.IsDir()
}
