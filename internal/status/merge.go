package status

import (
	"chanhub/internal/activity"
	"chanhub/internal/channel"
	"chanhub/internal/runtime"
)

// mergeRuntime fills the snapshot's nil fields from last-known runtime
// state. Fields already set by the probe phase win; runtime only supplies
// what this request did not observe directly. The merge is idempotent and
// never mutates the runtime view.
//
// LastProbeAt is deliberately excluded: it reflects only probes executed
// during this request.
func mergeRuntime(snap *channel.AccountSnapshot, st runtime.AccountState) {
	if snap.Running == nil && st.Running != nil {
		v := *st.Running
		snap.Running = &v
	}
	if snap.Connected == nil && st.Connected != nil {
		v := *st.Connected
		snap.Connected = &v
	}
	if snap.Linked == nil && st.Linked != nil {
		v := *st.Linked
		snap.Linked = &v
	}
	if snap.LastError == nil && st.LastError != nil {
		v := *st.LastError
		snap.LastError = &v
	}
	if snap.LastConnectedAt == nil && st.LastConnectedAt != nil {
		v := *st.LastConnectedAt
		snap.LastConnectedAt = &v
	}
	if snap.LastStartAt == nil && st.LastStartAt != nil {
		v := *st.LastStartAt
		snap.LastStartAt = &v
	}
	if snap.LastStopAt == nil && st.LastStopAt != nil {
		v := *st.LastStopAt
		snap.LastStopAt = &v
	}
}

// mergeActivity fills the snapshot's message timestamps from the activity
// tracker. Activity is the single source of truth for these two fields;
// neither probes nor runtime state supply them, so the nil check only
// protects a decorator that set one explicitly.
func mergeActivity(snap *channel.AccountSnapshot, rec activity.Record) {
	if snap.LastInboundAt == nil {
		snap.LastInboundAt = rec.InboundAt
	}
	if snap.LastOutboundAt == nil {
		snap.LastOutboundAt = rec.OutboundAt
	}
}
