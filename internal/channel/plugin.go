// Package channel defines the plugin contract for messaging-channel
// integrations and the account resolution rules shared by the status
// aggregator and the lifecycle coordinator.
//
// A plugin is a capability bundle: a small required surface (identify the
// channel, enumerate and resolve accounts) plus optional capabilities
// discovered via type assertion. The core always tests for presence before
// calling; absence is a normal, supported state, not an error.
package channel

import (
	"context"
	"time"

	"chanhub/internal/config"
)

// DefaultAccountID is the global fallback account id used when a plugin
// has no configured accounts and no explicit default.
const DefaultAccountID = "default"

// Account is an opaque, plugin-defined account configuration value.
// Its shape varies per channel; the core never interprets it beyond the
// generic enablement rule (a non-nil object with enabled == false).
type Account map[string]any

// Plugin is the required surface every channel integration implements.
// Plugins are registered once at process start and must be safe for
// concurrent use; all state flows in through the config snapshot.
type Plugin interface {
	// ID returns the stable channel identifier (e.g. "telegram").
	ID() string

	// Accounts returns configured account ids in plugin-defined order.
	// The order must be stable across calls for the same configuration.
	Accounts(cfg *config.Config) []string

	// Account resolves one account's configuration. Implementations must
	// return a usable value (typically an empty Account) even for ids not
	// present in config.
	Account(cfg *config.Config, accountID string) Account
}

// DefaultAccounter optionally names the plugin-wide default account.
type DefaultAccounter interface {
	DefaultAccountID(cfg *config.Config) string
}

// EnablementChecker optionally overrides the generic enablement rule.
type EnablementChecker interface {
	AccountEnabled(cfg *config.Config, accountID string) bool
}

// ConfiguredChecker optionally reports whether an account has enough
// configuration (credentials etc.) for a live probe to be worth running.
type ConfiguredChecker interface {
	AccountConfigured(cfg *config.Config, acc Account) bool
}

// ProbeRequest carries everything a live connectivity probe may need.
type ProbeRequest struct {
	AccountID string
	Account   Account
	Timeout   time.Duration
	Config    *config.Config
}

// Prober optionally checks live connectivity for one account. The returned
// payload is opaque to the core; the plugin defines and interprets it.
type Prober interface {
	Probe(ctx context.Context, req ProbeRequest) (map[string]any, error)
}

// AuditRequest carries the inputs of a configuration-health audit. Probe is
// the probe payload when one ran this request (nil otherwise); plugins may
// use it to enrich the audit, or audit purely from configuration.
type AuditRequest struct {
	AccountID string
	Account   Account
	Probe     map[string]any
	Config    *config.Config
}

// Auditor optionally audits one account's configuration health.
type Auditor interface {
	Audit(ctx context.Context, req AuditRequest) (map[string]any, error)
}

// SnapshotDecorator optionally enriches an account snapshot with
// channel-specific fields (linked state, mode, source) derived from
// configuration or, when one ran, the probe payload. Decoration happens
// before runtime merging, so decorated fields win over stale runtime state.
type SnapshotDecorator interface {
	DecorateSnapshot(cfg *config.Config, acc Account, snap *AccountSnapshot)
}

// SummaryBuilder optionally builds the channel-level display summary from
// the default account's config and computed snapshot.
type SummaryBuilder interface {
	Summary(acc Account, snap *AccountSnapshot) map[string]any
}

// ConfigStore is the slice of the configuration manager a logout or
// account-deletion capability may use to clear persisted credentials.
type ConfigStore interface {
	WriteFile(ctx context.Context, mutate func(cfg *config.Config) error) error
}

// RuntimeHandle is the slice of shared runtime state handed to logout
// capabilities.
type RuntimeHandle interface {
	MarkLoggedOut(channelID string, loggedOut bool, accountID string)
}

// LogoutRequest carries the inputs of a logout operation.
type LogoutRequest struct {
	AccountID string
	Account   Account
	Config    *config.Config
	Store     ConfigStore
	Runtime   RuntimeHandle
}

// LogoutOutcome is a plugin's view of a logout.
//
// Cleared means credentials were removed from storage. LoggedOut, when set,
// distinguishes "treat the account as logged out" from Cleared; when nil the
// coordinator defaults it to Cleared. Extra carries plugin-defined fields
// that are flattened into the operation result.
type LogoutOutcome struct {
	Cleared   bool
	LoggedOut *bool
	Extra     map[string]any
}

// LogoutCapability is an explicit opt-in: plugins without it cannot be
// logged out and the operation fails with an unavailable-capability error.
type LogoutCapability interface {
	Logout(ctx context.Context, req LogoutRequest) (LogoutOutcome, error)
}

// AccountDeleter optionally removes one account from the given config in
// place (called inside a config file write transaction). When absent the
// gateway falls back to direct configuration surgery.
type AccountDeleter interface {
	DeleteAccount(cfg *config.Config, accountID string) error
}

// CatalogEntryProvider optionally supplies display metadata for the UI
// catalog; without it the catalog falls back to its built-in table.
type CatalogEntryProvider interface {
	CatalogLabel() string
	CatalogSystemImage() string
}

// Bool returns a pointer for a tri-state boolean snapshot field.
func Bool(v bool) *bool { return &v }

// Millis returns an epoch-millisecond pointer for a timestamp field.
func Millis(t time.Time) *int64 {
	ms := t.UnixMilli()
	return &ms
}

// StringPtr returns a pointer for a nullable string snapshot field.
func StringPtr(v string) *string { return &v }
