package gateway

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"chanhub/internal/activity"
	"chanhub/internal/catalog"
	"chanhub/internal/channel"
	"chanhub/internal/config"
	"chanhub/internal/eventbus"
	"chanhub/internal/runtime"
	"chanhub/internal/status"
	logx "chanhub/pkg/logx"
)

type fakeWorkers struct {
	mu         sync.Mutex
	stopped    []string
	reconciled int
}

func (f *fakeWorkers) StopAccount(channelID, accountID string, _ time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, channelID+"/"+accountID)
}

func (f *fakeWorkers) Reconcile() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled++
}

type testPlugin struct {
	id  string
	ids []string

	logoutFn func(ctx context.Context, req channel.LogoutRequest) (channel.LogoutOutcome, error)
}

func (p *testPlugin) ID() string                         { return p.id }
func (p *testPlugin) Accounts(_ *config.Config) []string { return p.ids }
func (p *testPlugin) Account(cfg *config.Config, id string) channel.Account {
	cc := cfg.Channel(p.id)
	if acc, ok := cc.Accounts[id]; ok {
		return channel.Account(acc)
	}
	return channel.Account{}
}

type logoutPlugin struct{ testPlugin }

func (p *logoutPlugin) Logout(ctx context.Context, req channel.LogoutRequest) (channel.LogoutOutcome, error) {
	return p.logoutFn(ctx, req)
}

func newGateway(t *testing.T, cfgBody string, plugins ...channel.Plugin) (*Gateway, *config.Manager, *runtime.State, *fakeWorkers) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	if cfgBody == "" {
		cfgBody = "{}"
	}
	if err := os.WriteFile(path, []byte(cfgBody), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	mgr := config.NewManager(path)
	if _, err := mgr.Load(); err != nil {
		t.Fatalf("load config: %v", err)
	}

	rt := runtime.NewState()
	act, err := activity.Open(activity.Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	reg := channel.NewRegistry(plugins...)
	agg := status.NewAggregator(reg, mgr, rt, act, catalog.Build(reg.Plugins()), logx.Nop())
	workers := &fakeWorkers{}
	gw := New(reg, mgr, rt, agg, workers, eventbus.New(), logx.Nop())
	return gw, mgr, rt, workers
}

func TestStatusTimeoutClamp(t *testing.T) {
	t.Parallel()

	gw, _, _, _ := newGateway(t, "", &testPlugin{id: "telegram"})
	report, err := gw.Status(context.Background(), StatusRequest{Probe: false, TimeoutMs: 1})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if snaps, ok := report.ChannelAccounts["telegram"]; !ok || snaps == nil {
		t.Fatalf("telegram must appear with a non-nil account list")
	}
	if got := report.ChannelDefaultAccountID["telegram"]; got != channel.DefaultAccountID {
		t.Fatalf("default account id = %q, want the global fallback", got)
	}
}

func TestSaveAccountValidation(t *testing.T) {
	t.Parallel()

	gw, _, _, _ := newGateway(t, "", &testPlugin{id: "telegram"})
	ctx := context.Background()

	tests := []struct {
		name string
		req  SaveAccountRequest
	}{
		{"unknown channel", SaveAccountRequest{Channel: "signal", Account: map[string]any{}}},
		{"missing account object", SaveAccountRequest{Channel: "telegram"}},
		{"underscore id", SaveAccountRequest{Channel: "telegram", AccountID: "My_Bot", Account: map[string]any{}}},
		{"uppercase id", SaveAccountRequest{Channel: "telegram", AccountID: "Bot", Account: map[string]any{}}},
		{"leading hyphen", SaveAccountRequest{Channel: "telegram", AccountID: "-bot", Account: map[string]any{}}},
		{"symbols only", SaveAccountRequest{Channel: "telegram", AccountID: "!!", Account: map[string]any{}}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := gw.SaveAccount(ctx, tt.req)
			if !IsInvalidRequest(err) {
				t.Fatalf("expected invalid-request error, got %v", err)
			}
		})
	}
}

func TestSaveAccountPersistsAndReconciles(t *testing.T) {
	t.Parallel()

	gw, mgr, _, workers := newGateway(t, "", &testPlugin{id: "telegram"})

	res, err := gw.SaveAccount(context.Background(), SaveAccountRequest{
		Channel:   "Telegram",
		AccountID: "my-bot-1",
		Name:      "Ops Bot",
		Account:   map[string]any{"botToken": "123:abc"},
	})
	if err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	if res.Channel != "telegram" || res.AccountID != "my-bot-1" {
		t.Fatalf("unexpected result: %+v", res)
	}

	cfg, err := mgr.Parse()
	if err != nil {
		t.Fatalf("reparse config: %v", err)
	}
	acc := cfg.Channels["telegram"].Accounts["my-bot-1"]
	if acc == nil || acc["botToken"] != "123:abc" {
		t.Fatalf("account not persisted: %v", cfg.Channels)
	}
	if acc["name"] != "Ops Bot" {
		t.Fatalf("display name not persisted: %v", acc)
	}
	if workers.reconciled == 0 {
		t.Fatalf("save must reconcile workers")
	}
}

func TestSaveAccountDefaultsAccountID(t *testing.T) {
	t.Parallel()

	gw, mgr, _, _ := newGateway(t, "", &testPlugin{id: "telegram"})
	res, err := gw.SaveAccount(context.Background(), SaveAccountRequest{
		Channel: "telegram",
		Account: map[string]any{"botToken": "t"},
	})
	if err != nil {
		t.Fatalf("SaveAccount: %v", err)
	}
	if res.AccountID != channel.DefaultAccountID {
		t.Fatalf("expected default account id, got %q", res.AccountID)
	}
	cfg, _ := mgr.Parse()
	if cfg.Channels["telegram"].Accounts[channel.DefaultAccountID] == nil {
		t.Fatalf("default account not persisted")
	}
}

func TestWriteRefusedWhileFileInvalid(t *testing.T) {
	t.Parallel()

	gw, mgr, _, _ := newGateway(t, "", &testPlugin{id: "telegram"})
	if err := os.WriteFile(mgr.Path(), []byte("{ not json"), 0o644); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}

	_, err := gw.SaveAccount(context.Background(), SaveAccountRequest{
		Channel: "telegram",
		Account: map[string]any{},
	})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable while file is invalid, got %v", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	t.Parallel()

	body := `{"channels":{"telegram":{"accounts":{"a":{"botToken":"t"},"b":{}}}}}`
	gw, mgr, _, workers := newGateway(t, body, &testPlugin{id: "telegram", ids: []string{"a", "b"}})

	res, err := gw.DeleteAccount(context.Background(), DeleteAccountRequest{Channel: "telegram", AccountID: "a"})
	if err != nil {
		t.Fatalf("DeleteAccount: %v", err)
	}
	if !res.Removed {
		t.Fatalf("expected removed=true")
	}
	cfg, _ := mgr.Parse()
	if _, ok := cfg.Channels["telegram"].Accounts["a"]; ok {
		t.Fatalf("account still present after delete")
	}
	if len(workers.stopped) == 0 || workers.stopped[0] != "telegram/a" {
		t.Fatalf("delete must stop the account's worker, got %v", workers.stopped)
	}

	// Deleting a non-existent account succeeds with removed=false.
	res, err = gw.DeleteAccount(context.Background(), DeleteAccountRequest{Channel: "telegram", AccountID: "ghost"})
	if err != nil {
		t.Fatalf("DeleteAccount ghost: %v", err)
	}
	if res.Removed {
		t.Fatalf("expected removed=false for unknown account")
	}
}

func TestLogoutRefusedWhileFileInvalid(t *testing.T) {
	t.Parallel()

	p := &logoutPlugin{testPlugin{
		id: "telegram",
		logoutFn: func(context.Context, channel.LogoutRequest) (channel.LogoutOutcome, error) {
			t.Fatalf("logout must not run while the config file is invalid")
			return channel.LogoutOutcome{}, nil
		},
	}}
	gw, mgr, _, workers := newGateway(t, "", p)
	if err := os.WriteFile(mgr.Path(), []byte("{ not json"), 0o644); err != nil {
		t.Fatalf("corrupt config: %v", err)
	}

	_, err := gw.Logout(context.Background(), LogoutRequest{Channel: "telegram"})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable while file is invalid, got %v", err)
	}
	// The worker stop still happens; only the credential clearing is
	// refused while the file is broken.
	if len(workers.stopped) != 1 {
		t.Fatalf("worker stop must still be attempted, got %v", workers.stopped)
	}
}

func TestLogoutWithoutCapability(t *testing.T) {
	t.Parallel()

	gw, _, _, workers := newGateway(t, "", &testPlugin{id: "webhook"})
	_, err := gw.Logout(context.Background(), LogoutRequest{Channel: "webhook"})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable for missing capability, got %v", err)
	}
	if IsInvalidRequest(err) {
		t.Fatalf("missing capability is not a caller mistake")
	}
	// The worker stop is independent of credential clearing and happens
	// even when the plugin cannot log out.
	want := "webhook/" + channel.DefaultAccountID
	if len(workers.stopped) != 1 || workers.stopped[0] != want {
		t.Fatalf("worker stop must still be attempted, got %v", workers.stopped)
	}
}

func TestLogoutResolvesDefaultAccountAndMarksRuntime(t *testing.T) {
	t.Parallel()

	var gotAccount string
	p := &logoutPlugin{testPlugin{
		id:  "telegram",
		ids: []string{"first", "second"},
		logoutFn: func(_ context.Context, req channel.LogoutRequest) (channel.LogoutOutcome, error) {
			gotAccount = req.AccountID
			return channel.LogoutOutcome{Cleared: true}, nil
		},
	}}
	gw, _, rt, workers := newGateway(t, "", p)

	res, err := gw.Logout(context.Background(), LogoutRequest{Channel: "telegram"})
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if gotAccount != "first" {
		t.Fatalf("empty account id should resolve to the first configured id, got %q", gotAccount)
	}
	if !res.Cleared || !res.LoggedOut {
		t.Fatalf("LoggedOut should default to Cleared: %+v", res)
	}
	if len(workers.stopped) == 0 || workers.stopped[0] != "telegram/first" {
		t.Fatalf("logout must stop the worker first, got %v", workers.stopped)
	}

	st, ok := rt.Snapshot().Account("telegram", "first", "first")
	if !ok {
		t.Fatalf("logout must record runtime state")
	}
	if st.Linked == nil || *st.Linked {
		t.Fatalf("logout should mark linked=false")
	}
	if st.Connected == nil || *st.Connected {
		t.Fatalf("logout should mark connected=false")
	}
}

func TestLogoutExplicitAccountWinsAndOutcomeOverrides(t *testing.T) {
	t.Parallel()

	p := &logoutPlugin{testPlugin{
		id:  "telegram",
		ids: []string{"first", "second"},
		logoutFn: func(_ context.Context, req channel.LogoutRequest) (channel.LogoutOutcome, error) {
			return channel.LogoutOutcome{
				Cleared:   false,
				LoggedOut: channel.Bool(true),
				Extra:     map[string]any{"note": "session expired upstream"},
			}, nil
		},
	}}
	gw, _, _, _ := newGateway(t, "", p)

	res, err := gw.Logout(context.Background(), LogoutRequest{Channel: "telegram", AccountID: " second "})
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if res.AccountID != "second" {
		t.Fatalf("explicit id should be trimmed and used, got %q", res.AccountID)
	}
	if res.Cleared || !res.LoggedOut {
		t.Fatalf("explicit LoggedOut must override Cleared: %+v", res)
	}
	if res.Extra["note"] != "session expired upstream" {
		t.Fatalf("extra fields must pass through: %v", res.Extra)
	}
}

func TestLogoutPluginFailure(t *testing.T) {
	t.Parallel()

	p := &logoutPlugin{testPlugin{
		id: "telegram",
		logoutFn: func(context.Context, channel.LogoutRequest) (channel.LogoutOutcome, error) {
			return channel.LogoutOutcome{}, errors.New("storage offline")
		},
	}}
	gw, _, rt, _ := newGateway(t, "", p)

	_, err := gw.Logout(context.Background(), LogoutRequest{Channel: "telegram"})
	if !IsUnavailable(err) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	// A failed logout must not mark the account logged out.
	if st, ok := rt.Snapshot().Account("telegram", channel.DefaultAccountID, channel.DefaultAccountID); ok {
		if st.Linked != nil && !*st.Linked {
			t.Fatalf("failed logout must not mark linked=false")
		}
	}
}

func TestLogoutPanicIsAbsorbed(t *testing.T) {
	t.Parallel()

	p := &logoutPlugin{testPlugin{
		id: "telegram",
		logoutFn: func(context.Context, channel.LogoutRequest) (channel.LogoutOutcome, error) {
			panic("broken plugin")
		},
	}}
	gw, _, _, _ := newGateway(t, "", p)

	_, err := gw.Logout(context.Background(), LogoutRequest{Channel: "telegram"})
	if !IsUnavailable(err) {
		t.Fatalf("panic should surface as unavailable, got %v", err)
	}
}
