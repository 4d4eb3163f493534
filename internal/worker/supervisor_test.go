package worker

import (
	"context"
	"testing"
	"time"

	"chanhub/internal/activity"
	"chanhub/internal/channel"
	"chanhub/internal/config"
	"chanhub/internal/eventbus"
	"chanhub/internal/runtime"
	logx "chanhub/pkg/logx"
)

type blockingWorker struct {
	started chan struct{}
	deps    channel.WorkerDeps
}

func (w *blockingWorker) Run(ctx context.Context) error {
	w.deps.OnState(true, nil)
	close(w.started)
	<-ctx.Done()
	w.deps.OnState(false, nil)
	return nil
}

type workerPlugin struct {
	id      string
	started chan struct{}
}

func (p *workerPlugin) ID() string { return p.id }
func (p *workerPlugin) Accounts(cfg *config.Config) []string {
	cc := cfg.Channel(p.id)
	ids := make([]string, 0, len(cc.Accounts))
	for id := range cc.Accounts {
		ids = append(ids, id)
	}
	return ids
}
func (p *workerPlugin) Account(cfg *config.Config, id string) channel.Account {
	return channel.Account(cfg.Channel(p.id).Accounts[id])
}
func (p *workerPlugin) NewWorker(deps channel.WorkerDeps) (channel.Worker, error) {
	return &blockingWorker{started: p.started, deps: deps}, nil
}

func newSupervisor(t *testing.T, cfg *config.Config, plugins ...channel.Plugin) (*Supervisor, *config.Manager, *runtime.State) {
	t.Helper()
	mgr := config.NewManager("unused")
	mgr.Commit(cfg)
	rt := runtime.NewState()
	act, err := activity.Open(activity.Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("open tracker: %v", err)
	}
	reg := channel.NewRegistry(plugins...)
	return NewSupervisor(reg, mgr, rt, act, eventbus.New(), logx.Nop()), mgr, rt
}

func waitFor(t *testing.T, ch <-chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestStartAllRunsEnabledAccounts(t *testing.T) {
	t.Parallel()

	p := &workerPlugin{id: "telegram", started: make(chan struct{})}
	cfg := &config.Config{Channels: map[string]config.ChannelConfig{
		"telegram": {Accounts: map[string]map[string]any{
			"a":        {},
			"disabled": {"enabled": false},
		}},
	}}
	sup, _, rt := newSupervisor(t, cfg, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.StartAll(ctx)
	waitFor(t, p.started, "worker start")

	if !sup.Running("telegram", "a") {
		t.Fatalf("enabled account should have a worker")
	}
	if sup.Running("telegram", "disabled") {
		t.Fatalf("disabled account must not have a worker")
	}

	st, ok := rt.Snapshot().Account("telegram", "a", "a")
	if !ok || st.Running == nil || !*st.Running {
		t.Fatalf("worker start should be reflected in runtime state")
	}
	if st.Connected == nil || !*st.Connected {
		t.Fatalf("worker connection callback should update runtime state")
	}

	sup.StopAll(5 * time.Second)
	if sup.Running("telegram", "a") {
		t.Fatalf("StopAll should remove workers")
	}
}

func TestReconcileStopsRemovedAccounts(t *testing.T) {
	t.Parallel()

	p := &workerPlugin{id: "telegram", started: make(chan struct{})}
	cfg := &config.Config{Channels: map[string]config.ChannelConfig{
		"telegram": {Accounts: map[string]map[string]any{"a": {}}},
	}}
	sup, mgr, _ := newSupervisor(t, cfg, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.StartAll(ctx)
	waitFor(t, p.started, "worker start")

	// Remove the account from config and reconcile.
	mgr.Commit(&config.Config{Channels: map[string]config.ChannelConfig{
		"telegram": {Accounts: map[string]map[string]any{}},
	}})
	sup.Reconcile()

	deadline := time.After(5 * time.Second)
	for sup.Running("telegram", "a") {
		select {
		case <-deadline:
			t.Fatalf("reconcile did not stop the removed account")
		case <-time.After(10 * time.Millisecond):
		}
	}
	sup.StopAll(time.Second)
}

func TestStopAccountIsBestEffort(t *testing.T) {
	t.Parallel()

	p := &workerPlugin{id: "telegram", started: make(chan struct{})}
	cfg := &config.Config{Channels: map[string]config.ChannelConfig{
		"telegram": {Accounts: map[string]map[string]any{"a": {}}},
	}}
	sup, _, rt := newSupervisor(t, cfg, p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.StartAll(ctx)
	waitFor(t, p.started, "worker start")

	sup.StopAccount("telegram", "a", 5*time.Second)
	if sup.Running("telegram", "a") {
		t.Fatalf("StopAccount should remove the worker")
	}
	// Stopping an unknown worker is a no-op.
	sup.StopAccount("telegram", "ghost", time.Second)

	st, _ := rt.Snapshot().Account("telegram", "a", "a")
	if st.Running == nil || *st.Running {
		t.Fatalf("stop should be reflected in runtime state")
	}
	sup.StopAll(time.Second)
}

func TestPluginsWithoutWorkersAreIgnored(t *testing.T) {
	t.Parallel()

	plain := &plainPlugin{id: "webhook"}
	sup, _, _ := newSupervisor(t, &config.Config{Channels: map[string]config.ChannelConfig{
		"webhook": {Accounts: map[string]map[string]any{"a": {}}},
	}}, plain)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sup.StartAll(ctx)

	if sup.Running("webhook", "a") {
		t.Fatalf("plugin without a worker provider must not start workers")
	}
	sup.StopAll(time.Second)
}

type plainPlugin struct{ id string }

func (p *plainPlugin) ID() string                         { return p.id }
func (p *plainPlugin) Accounts(_ *config.Config) []string { return nil }
func (p *plainPlugin) Account(_ *config.Config, _ string) channel.Account {
	return channel.Account{}
}
