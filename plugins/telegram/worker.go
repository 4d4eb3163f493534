package telegram

import (
	"context"
	"time"

	tele "gopkg.in/telebot.v4"

	"chanhub/internal/channel"
	logx "chanhub/pkg/logx"
)

// worker long-polls one bot account. Inbound updates feed the activity
// tracker through the supervisor callbacks; connection transitions feed
// runtime state the same way.
type worker struct {
	token string
	poll  time.Duration
	deps  channel.WorkerDeps
}

func (w *worker) Run(ctx context.Context) error {
	b, err := tele.NewBot(tele.Settings{
		Token:  w.token,
		Poller: &tele.LongPoller{Timeout: w.poll},
		OnError: func(err error, _ tele.Context) {
			w.deps.Log.Warn("telegram update error", logx.Err(err))
		},
	})
	if err != nil {
		w.deps.OnState(false, err)
		return err
	}
	w.deps.OnState(true, nil)

	markInbound := func(c tele.Context) error {
		w.deps.OnInbound()
		return nil
	}
	b.Handle(tele.OnText, markInbound)
	b.Handle(tele.OnMedia, markInbound)
	b.Handle(tele.OnEdited, markInbound)
	b.Handle(tele.OnCallback, func(c tele.Context) error {
		w.deps.OnInbound()
		return c.Respond()
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Start()
	}()

	select {
	case <-ctx.Done():
		b.Stop()
		<-done
		w.deps.OnState(false, nil)
		return nil
	case <-done:
		// Poller exited on its own; let the supervisor restart us.
		w.deps.OnState(false, nil)
		return nil
	}
}
