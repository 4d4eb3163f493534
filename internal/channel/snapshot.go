package channel

// AccountSnapshot is the per-account record assembled by the status
// aggregator. It is constructed fresh on every status request and never
// persisted.
//
// Tri-state booleans use *bool: nil means unknown / not applicable for this
// channel. Timestamps are nullable epoch milliseconds.
//
// Invariant: LastProbeAt is set if and only if a probe actually executed
// for this account in this request, never backfilled from runtime state.
type AccountSnapshot struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name,omitempty"`

	Enabled    *bool `json:"enabled,omitempty"`
	Configured *bool `json:"configured,omitempty"`
	Linked     *bool `json:"linked,omitempty"`
	Running    *bool `json:"running,omitempty"`
	Connected  *bool `json:"connected,omitempty"`

	LastConnectedAt *int64 `json:"lastConnectedAt,omitempty"`
	LastStartAt     *int64 `json:"lastStartAt,omitempty"`
	LastStopAt      *int64 `json:"lastStopAt,omitempty"`
	LastInboundAt   *int64 `json:"lastInboundAt,omitempty"`
	LastOutboundAt  *int64 `json:"lastOutboundAt,omitempty"`
	LastProbeAt     *int64 `json:"lastProbeAt,omitempty"`

	LastError *string `json:"lastError,omitempty"`

	// Channel-specific descriptive fields.
	Mode   string `json:"mode,omitempty"`
	Policy string `json:"policy,omitempty"`
	Source string `json:"source,omitempty"`

	// Opaque plugin-defined payloads.
	Probe map[string]any `json:"probe,omitempty"`
	Audit map[string]any `json:"audit,omitempty"`
}

// Clone returns a deep-enough copy for safe mutation during merging.
func (s AccountSnapshot) Clone() AccountSnapshot {
	cp := s
	cp.Enabled = copyBool(s.Enabled)
	cp.Configured = copyBool(s.Configured)
	cp.Linked = copyBool(s.Linked)
	cp.Running = copyBool(s.Running)
	cp.Connected = copyBool(s.Connected)
	cp.LastConnectedAt = copyInt64(s.LastConnectedAt)
	cp.LastStartAt = copyInt64(s.LastStartAt)
	cp.LastStopAt = copyInt64(s.LastStopAt)
	cp.LastInboundAt = copyInt64(s.LastInboundAt)
	cp.LastOutboundAt = copyInt64(s.LastOutboundAt)
	cp.LastProbeAt = copyInt64(s.LastProbeAt)
	cp.LastError = copyString(s.LastError)
	if s.Probe != nil {
		cp.Probe = make(map[string]any, len(s.Probe))
		for k, v := range s.Probe {
			cp.Probe[k] = v
		}
	}
	if s.Audit != nil {
		cp.Audit = make(map[string]any, len(s.Audit))
		for k, v := range s.Audit {
			cp.Audit[k] = v
		}
	}
	return cp
}

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

func copyString(v *string) *string {
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}
