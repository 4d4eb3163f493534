// Package webhook integrates plain HTTP endpoints as a channel: the probe
// checks endpoint reachability. Webhooks hold no session, so the plugin
// has no logout capability.
package webhook

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"chanhub/internal/channel"
	"chanhub/internal/config"
)

const channelID = "webhook"

type Plugin struct {
	// Client is overridable for tests; nil uses http.DefaultClient.
	Client *http.Client
}

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

// AccountConfigured requires a syntactically valid http(s) URL.
func (p *Plugin) AccountConfigured(_ *config.Config, acc channel.Account) bool {
	u, err := url.Parse(endpoint(acc))
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Probe checks endpoint reachability with a HEAD request. Any HTTP
// response below 500 counts as reachable.
func (p *Plugin) Probe(ctx context.Context, req channel.ProbeRequest) (map[string]any, error) {
	target := endpoint(req.Account)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodHead, target, nil)
	if err != nil {
		return nil, err
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("endpoint returned %s", resp.Status)
	}
	return map[string]any{"statusCode": resp.StatusCode}, nil
}

func (p *Plugin) DecorateSnapshot(_ *config.Config, acc channel.Account, snap *channel.AccountSnapshot) {
	snap.Mode = "push"
	snap.Source = "config"
}

func (p *Plugin) Summary(acc channel.Account, snap *channel.AccountSnapshot) map[string]any {
	out := map[string]any{"configured": endpoint(acc) != ""}
	if snap == nil {
		return out
	}
	if snap.Connected != nil {
		out["reachable"] = *snap.Connected
	}
	if snap.LastError != nil {
		out["lastError"] = *snap.LastError
	}
	return out
}

func endpoint(acc channel.Account) string {
	u, _ := acc["url"].(string)
	return strings.TrimSpace(u)
}
