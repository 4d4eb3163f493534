package telegram

import (
	"context"
	"reflect"
	"testing"

	"chanhub/internal/channel"
	"chanhub/internal/config"
)

func cfgWith(accounts map[string]map[string]any, settings map[string]any) *config.Config {
	return &config.Config{Channels: map[string]config.ChannelConfig{
		channelID: {Settings: settings, Accounts: accounts},
	}}
}

func TestAccountsOrdering(t *testing.T) {
	t.Parallel()

	p := New()

	tests := []struct {
		name     string
		accounts map[string]map[string]any
		settings map[string]any
		want     []string
	}{
		{
			name: "lexical order",
			accounts: map[string]map[string]any{
				"b": {}, "a": {},
			},
			want: []string{"a", "b"},
		},
		{
			name: "default first",
			accounts: map[string]map[string]any{
				"b": {}, "default": {}, "a": {},
			},
			want: []string{"default", "a", "b"},
		},
		{
			name:     "settings slot implies default",
			accounts: map[string]map[string]any{"a": {}},
			settings: map[string]any{"botToken": "t"},
			want:     []string{"default", "a"},
		},
		{
			name: "no accounts",
			want: nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := p.Accounts(cfgWith(tt.accounts, tt.settings))
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Accounts = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestAccountResolution(t *testing.T) {
	t.Parallel()

	p := New()
	cfg := cfgWith(
		map[string]map[string]any{"work": {"botToken": "work-token"}},
		map[string]any{"botToken": "default-token"},
	)

	if acc := p.Account(cfg, "work"); acc["botToken"] != "work-token" {
		t.Fatalf("explicit account lost: %v", acc)
	}
	// The default account falls back to the channel settings slot.
	if acc := p.Account(cfg, "default"); acc["botToken"] != "default-token" {
		t.Fatalf("default should fall back to settings: %v", acc)
	}
	if acc := p.Account(cfg, "ghost"); len(acc) != 0 {
		t.Fatalf("unknown account should be empty: %v", acc)
	}
}

func TestAccountConfigured(t *testing.T) {
	t.Parallel()

	p := New()
	if p.AccountConfigured(nil, channel.Account{}) {
		t.Fatalf("no token means unconfigured")
	}
	if p.AccountConfigured(nil, channel.Account{"botToken": "   "}) {
		t.Fatalf("blank token means unconfigured")
	}
	if !p.AccountConfigured(nil, channel.Account{"botToken": "123:abc"}) {
		t.Fatalf("token means configured")
	}
}

func TestLooksLikeBotToken(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tok  string
		want bool
	}{
		{"123456789:AAEabcdefghijklmnopqrstuvwxyz1234", true},
		{"abc:AAEabcdefghijklmnopqrstuvwxyz1234", false},
		{"123456789", false},
		{"123:short", false},
		{"", false},
	}
	for _, tt := range tests {
		tt := tt
		if got := looksLikeBotToken(tt.tok); got != tt.want {
			t.Errorf("looksLikeBotToken(%q) = %v, want %v", tt.tok, got, tt.want)
		}
	}
}

func TestAuditCarriesProbeIdentity(t *testing.T) {
	t.Parallel()

	p := New()
	out, err := p.Audit(context.Background(), channel.AuditRequest{
		Account: channel.Account{"botToken": "123456789:AAEabcdefghijklmnopqrstuvwxyz1234"},
		Probe:   map[string]any{"botUsername": "my_bot"},
	})
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if out["tokenFormat"] != true {
		t.Fatalf("expected tokenFormat=true: %v", out)
	}
	if out["botUsername"] != "my_bot" {
		t.Fatalf("probe identity not carried: %v", out)
	}
}

type fakeStore struct {
	cfg *config.Config
}

func (f *fakeStore) WriteFile(_ context.Context, mutate func(cfg *config.Config) error) error {
	return mutate(f.cfg)
}

func TestLogoutClearsToken(t *testing.T) {
	t.Parallel()

	cfg := cfgWith(
		map[string]map[string]any{"work": {"botToken": "tok", "name": "Work"}},
		map[string]any{"botToken": "default-tok"},
	)
	store := &fakeStore{cfg: cfg}
	p := New()

	out, err := p.Logout(context.Background(), channel.LogoutRequest{
		AccountID: "work",
		Account:   p.Account(cfg, "work"),
		Config:    cfg,
		Store:     store,
	})
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !out.Cleared {
		t.Fatalf("token existed; expected cleared=true")
	}
	if _, ok := cfg.Channels[channelID].Accounts["work"]["botToken"]; ok {
		t.Fatalf("token still present after logout")
	}
	// Other account fields survive.
	if cfg.Channels[channelID].Accounts["work"]["name"] != "Work" {
		t.Fatalf("logout must only clear the credential")
	}
	// The default slot is untouched when logging out a named account.
	if cfg.Channels[channelID].Settings["botToken"] != "default-tok" {
		t.Fatalf("default slot clobbered")
	}
}

func TestLogoutWithoutTokenIsLoggedOut(t *testing.T) {
	t.Parallel()

	p := New()
	out, err := p.Logout(context.Background(), channel.LogoutRequest{
		AccountID: "work",
		Account:   channel.Account{},
		Store:     &fakeStore{cfg: &config.Config{}},
	})
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if out.Cleared {
		t.Fatalf("nothing to clear")
	}
	if out.LoggedOut == nil || !*out.LoggedOut {
		t.Fatalf("account without credentials is trivially logged out")
	}
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	cfg := cfgWith(
		map[string]map[string]any{"work": {"botToken": "t"}},
		map[string]any{"botToken": "d"},
	)
	p := New()

	if err := p.DeleteAccount(cfg, "work"); err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if _, ok := cfg.Channels[channelID].Accounts["work"]; ok {
		t.Fatalf("account still present")
	}
	if cfg.Channels[channelID].Settings == nil {
		t.Fatalf("deleting a named account must keep the default slot")
	}

	if err := p.DeleteAccount(cfg, "default"); err != nil {
		t.Fatalf("DeleteAccount default: %v", err)
	}
	if cfg.Channels[channelID].Settings != nil {
		t.Fatalf("deleting the default account must clear the settings slot")
	}
}

func TestSummary(t *testing.T) {
	t.Parallel()

	p := New()
	snap := &channel.AccountSnapshot{
		Connected: channel.Bool(true),
		Running:   channel.Bool(true),
		Probe:     map[string]any{"botUsername": "my_bot"},
	}
	sum := p.Summary(channel.Account{"botToken": "t"}, snap)
	if sum["configured"] != true || sum["connected"] != true || sum["botUsername"] != "my_bot" {
		t.Fatalf("summary = %v", sum)
	}

	if sum := p.Summary(channel.Account{}, nil); sum["configured"] != false {
		t.Fatalf("nil snapshot summary = %v", sum)
	}
}

func TestNewWorkerRequiresToken(t *testing.T) {
	t.Parallel()

	p := New()
	if _, err := p.NewWorker(channel.WorkerDeps{AccountID: "a", Account: channel.Account{}}); err == nil {
		t.Fatalf("worker without token must fail")
	}
	w, err := p.NewWorker(channel.WorkerDeps{
		AccountID: "a",
		Account:   channel.Account{"botToken": "t", "pollTimeout": "3s"},
	})
	if err != nil || w == nil {
		t.Fatalf("NewWorker: %v", err)
	}
	if _, err := p.NewWorker(channel.WorkerDeps{
		AccountID: "a",
		Account:   channel.Account{"botToken": "t", "pollTimeout": "bogus"},
	}); err == nil {
		t.Fatalf("bad pollTimeout must fail")
	}
}
