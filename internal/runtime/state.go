// Package runtime holds the process-wide last-known live state per
// channel account. It is written by the worker supervisor and the logout
// path, and only ever read (as a copied snapshot) by the status core.
package runtime

import (
	"sync"
	"time"
)

// legacyAccountID is the single-account slot id used by channels that
// predate multi-account support.
const legacyAccountID = "default"

// AccountState is the last-known live state of one channel account.
// All fields are nullable: nil means this dimension was never observed.
type AccountState struct {
	Running   *bool   `json:"running,omitempty"`
	Connected *bool   `json:"connected,omitempty"`
	Linked    *bool   `json:"linked,omitempty"`
	LastError *string `json:"lastError,omitempty"`

	LastConnectedAt *int64 `json:"lastConnectedAt,omitempty"`
	LastStartAt     *int64 `json:"lastStartAt,omitempty"`
	LastStopAt      *int64 `json:"lastStopAt,omitempty"`
}

// Snapshot is a copied, immutable view of the runtime state.
// Channels is the legacy single-account slot per channel id;
// ChannelAccounts is keyed channel id → account id.
type Snapshot struct {
	Channels        map[string]AccountState
	ChannelAccounts map[string]map[string]AccountState
}

// Account looks up the state for channel+account, falling back to the
// channel's legacy slot only when accountID is the given default id.
func (s Snapshot) Account(channelID, accountID, defaultAccountID string) (AccountState, bool) {
	if accounts, ok := s.ChannelAccounts[channelID]; ok {
		if st, ok := accounts[accountID]; ok {
			return st, true
		}
	}
	if accountID == defaultAccountID {
		if st, ok := s.Channels[channelID]; ok {
			return st, true
		}
	}
	return AccountState{}, false
}

// State is the mutable owner of runtime account state. Mutation is keyed
// by channel+account; concurrent writers for different keys never contend
// beyond the map lock.
type State struct {
	mu       sync.RWMutex
	accounts map[string]map[string]*AccountState
}

func NewState() *State {
	return &State{accounts: map[string]map[string]*AccountState{}}
}

func (s *State) upsertLocked(channelID, accountID string) *AccountState {
	accounts := s.accounts[channelID]
	if accounts == nil {
		accounts = map[string]*AccountState{}
		s.accounts[channelID] = accounts
	}
	st := accounts[accountID]
	if st == nil {
		st = &AccountState{}
		accounts[accountID] = st
	}
	return st
}

// SetRunning records a worker start/stop transition.
func (s *State) SetRunning(channelID, accountID string, running bool) {
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.upsertLocked(channelID, accountID)
	st.Running = boolPtr(running)
	if running {
		st.LastStartAt = int64Ptr(now)
		st.LastError = nil
	} else {
		st.LastStopAt = int64Ptr(now)
		st.Connected = boolPtr(false)
	}
}

// SetConnected records a live connection transition observed by a worker.
func (s *State) SetConnected(channelID, accountID string, connected bool, err error) {
	now := time.Now().UnixMilli()
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.upsertLocked(channelID, accountID)
	st.Connected = boolPtr(connected)
	if connected {
		st.LastConnectedAt = int64Ptr(now)
		st.LastError = nil
	} else if err != nil {
		msg := err.Error()
		st.LastError = &msg
	}
}

// MarkLoggedOut records the logout outcome so a subsequent status call
// reflects it without a fresh probe.
func (s *State) MarkLoggedOut(channelID string, loggedOut bool, accountID string) {
	if accountID == "" {
		accountID = legacyAccountID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.upsertLocked(channelID, accountID)
	if loggedOut {
		st.Connected = boolPtr(false)
		st.Linked = boolPtr(false)
	} else {
		st.Linked = boolPtr(true)
	}
}

// Snapshot returns a deep copy of the current state. The copy is handed to
// the aggregator by value at the start of each status call so one call sees
// a consistent view without locking.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		Channels:        map[string]AccountState{},
		ChannelAccounts: make(map[string]map[string]AccountState, len(s.accounts)),
	}
	for ch, accounts := range s.accounts {
		dst := make(map[string]AccountState, len(accounts))
		for id, st := range accounts {
			cp := copyState(st)
			dst[id] = cp
			if id == legacyAccountID {
				snap.Channels[ch] = cp
			}
		}
		snap.ChannelAccounts[ch] = dst
	}
	return snap
}

func copyState(st *AccountState) AccountState {
	cp := AccountState{}
	if st == nil {
		return cp
	}
	cp.Running = copyBool(st.Running)
	cp.Connected = copyBool(st.Connected)
	cp.Linked = copyBool(st.Linked)
	cp.LastConnectedAt = copyInt64(st.LastConnectedAt)
	cp.LastStartAt = copyInt64(st.LastStartAt)
	cp.LastStopAt = copyInt64(st.LastStopAt)
	if st.LastError != nil {
		msg := *st.LastError
		cp.LastError = &msg
	}
	return cp
}

func boolPtr(v bool) *bool    { return &v }
func int64Ptr(v int64) *int64 { return &v }

func copyBool(v *bool) *bool {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
