// Package activity records last-inbound/last-outbound message timestamps
// per channel account. The status core reads it; only channel workers
// write it.
package activity

import (
	"errors"
	"strings"
	"sync"
	"time"

	logx "chanhub/pkg/logx"
)

// Config selects the tracker backend.
//
// Driver values:
//   - "" or "memory": in-memory only
//   - "sqlite": persisted to a SQLite database file
type Config struct {
	Driver string
	Path   string
}

// Record is the activity view for one channel account, in nullable epoch
// milliseconds.
type Record struct {
	InboundAt  *int64
	OutboundAt *int64
}

type key struct {
	channel string
	account string
}

// Tracker keeps activity in memory and (optionally) writes through to a
// SQLite store so timestamps survive restarts.
type Tracker struct {
	mu  sync.RWMutex
	mem map[key]Record

	store *sqliteStore
	log   logx.Logger
}

// Open creates a tracker for the configured driver. The sqlite driver
// loads previously persisted rows so a fresh process reports last-known
// activity immediately.
func Open(cfg Config, log logx.Logger) (*Tracker, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	t := &Tracker{mem: map[key]Record{}, log: log}

	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "memory":
		return t, nil
	case "sqlite", "sqlite3":
		st, err := openSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		t.store = st
		rows, err := st.loadAll()
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		for k, r := range rows {
			t.mem[k] = r
		}
		if len(rows) > 0 {
			log.Debug("activity loaded", logx.Int("accounts", len(rows)))
		}
		return t, nil
	default:
		return nil, errors.New("unknown activity driver: " + cfg.Driver)
	}
}

// RecordInbound notes an inbound message for channel+account.
func (t *Tracker) RecordInbound(channelID, accountID string, at time.Time) {
	t.record(channelID, accountID, at, true)
}

// RecordOutbound notes an outbound message for channel+account.
func (t *Tracker) RecordOutbound(channelID, accountID string, at time.Time) {
	t.record(channelID, accountID, at, false)
}

func (t *Tracker) record(channelID, accountID string, at time.Time, inbound bool) {
	if t == nil || channelID == "" {
		return
	}
	if at.IsZero() {
		at = time.Now()
	}
	ms := at.UnixMilli()
	k := key{channel: channelID, account: accountID}

	t.mu.Lock()
	r := t.mem[k]
	if inbound {
		r.InboundAt = &ms
	} else {
		r.OutboundAt = &ms
	}
	t.mem[k] = r
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.upsert(k, r); err != nil {
			t.log.Warn("activity persist failed",
				logx.String("channel", channelID),
				logx.String("account", accountID),
				logx.Err(err))
		}
	}
}

// Activity returns the last-known activity for channel+account. The
// returned record is a copy; mutating it has no effect on the tracker.
func (t *Tracker) Activity(channelID, accountID string) Record {
	if t == nil {
		return Record{}
	}
	t.mu.RLock()
	r := t.mem[key{channel: channelID, account: accountID}]
	t.mu.RUnlock()

	cp := Record{}
	if r.InboundAt != nil {
		v := *r.InboundAt
		cp.InboundAt = &v
	}
	if r.OutboundAt != nil {
		v := *r.OutboundAt
		cp.OutboundAt = &v
	}
	return cp
}

func (t *Tracker) Close() error {
	if t == nil || t.store == nil {
		return nil
	}
	return t.store.Close()
}
