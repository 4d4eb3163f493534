package runtime

import (
	"errors"
	"testing"
)

func TestSetRunningTransitions(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.SetRunning("telegram", "a", true)

	snap := s.Snapshot()
	st, ok := snap.Account("telegram", "a", "a")
	if !ok {
		t.Fatalf("expected state for telegram/a")
	}
	if st.Running == nil || !*st.Running {
		t.Fatalf("expected running=true")
	}
	if st.LastStartAt == nil {
		t.Fatalf("start should record LastStartAt")
	}
	if st.LastStopAt != nil {
		t.Fatalf("start should not record LastStopAt")
	}

	s.SetRunning("telegram", "a", false)
	st, _ = s.Snapshot().Account("telegram", "a", "a")
	if st.Running == nil || *st.Running {
		t.Fatalf("expected running=false")
	}
	if st.LastStopAt == nil {
		t.Fatalf("stop should record LastStopAt")
	}
	if st.Connected == nil || *st.Connected {
		t.Fatalf("stop should force connected=false")
	}
}

func TestSetConnectedRecordsError(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.SetConnected("telegram", "a", true, nil)
	st, _ := s.Snapshot().Account("telegram", "a", "a")
	if st.LastConnectedAt == nil {
		t.Fatalf("connect should record LastConnectedAt")
	}
	if st.LastError != nil {
		t.Fatalf("connect should clear LastError")
	}

	s.SetConnected("telegram", "a", false, errors.New("socket closed"))
	st, _ = s.Snapshot().Account("telegram", "a", "a")
	if st.LastError == nil || *st.LastError != "socket closed" {
		t.Fatalf("disconnect should record the error, got %v", st.LastError)
	}
}

func TestMarkLoggedOut(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.SetConnected("whatsapp", "default", true, nil)
	s.MarkLoggedOut("whatsapp", true, "default")

	st, _ := s.Snapshot().Account("whatsapp", "default", "default")
	if st.Connected == nil || *st.Connected {
		t.Fatalf("logout should force connected=false")
	}
	if st.Linked == nil || *st.Linked {
		t.Fatalf("logout should force linked=false")
	}

	s.MarkLoggedOut("whatsapp", false, "default")
	st, _ = s.Snapshot().Account("whatsapp", "default", "default")
	if st.Linked == nil || !*st.Linked {
		t.Fatalf("loggedOut=false should mark linked=true")
	}
}

func TestSnapshotLegacySlotLookup(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.SetRunning("telegram", "default", true)

	snap := s.Snapshot()

	// The default-account state is mirrored into the legacy channel slot,
	// so a lookup for the default id finds it even without an exact key.
	if _, ok := snap.Channels["telegram"]; !ok {
		t.Fatalf("default account should populate the legacy slot")
	}

	// An exact per-account key always wins.
	if _, ok := snap.Account("telegram", "default", "default"); !ok {
		t.Fatalf("exact lookup failed")
	}

	// A non-default account never falls back to the legacy slot.
	if _, ok := snap.Account("telegram", "other", "default"); ok {
		t.Fatalf("non-default account must not inherit the legacy slot")
	}

	// An id without an exact key inherits the legacy slot only when it is
	// the channel's default id.
	if _, ok := snap.Account("telegram", "first", "first"); !ok {
		t.Fatalf("default id should fall back to the legacy slot")
	}
	if _, ok := snap.Account("telegram", "first", "other"); ok {
		t.Fatalf("fallback must be gated on the default id")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	t.Parallel()

	s := NewState()
	s.SetRunning("telegram", "a", true)

	snap := s.Snapshot()
	st := snap.ChannelAccounts["telegram"]["a"]
	*st.Running = false

	fresh, _ := s.Snapshot().Account("telegram", "a", "a")
	if fresh.Running == nil || !*fresh.Running {
		t.Fatalf("mutating a snapshot must not affect live state")
	}
}
