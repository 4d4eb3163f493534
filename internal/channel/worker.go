package channel

import (
	"context"

	"chanhub/internal/config"
	logx "chanhub/pkg/logx"
)

// WorkerDeps is everything a channel worker gets from the supervisor.
// The callbacks are the only way a worker touches shared state: connection
// transitions flow into the runtime snapshot, message activity flows into
// the activity tracker, both keyed by this worker's channel+account.
type WorkerDeps struct {
	AccountID string
	Account   Account
	Config    *config.Config
	Log       logx.Logger

	// OnState reports live connection transitions. err may be nil.
	OnState func(connected bool, err error)
	// OnInbound records an inbound message timestamp.
	OnInbound func()
	// OnOutbound records an outbound message timestamp.
	OnOutbound func()
}

// Worker is one running channel connection. Run blocks until ctx is
// cancelled or the connection fails fatally.
type Worker interface {
	Run(ctx context.Context) error
}

// WorkerProvider optionally supplies a long-running worker per enabled
// account. Plugins without it are config/probe-only channels.
type WorkerProvider interface {
	NewWorker(deps WorkerDeps) (Worker, error)
}
