package channel

import (
	"strings"

	"chanhub/internal/config"
)

// Account resolution rules shared by the status aggregator and the
// lifecycle coordinator.
//
// Failure semantics: resolving a single account must never propagate past
// the orchestrator. Every helper here absorbs plugin panics and falls back
// to a default value; degraded is always better than fatal for one account.

// AccountIDs returns the plugin's configured account ids in plugin-defined
// order, or an empty list when enumeration fails.
func AccountIDs(p Plugin, cfg *config.Config) (ids []string) {
	defer func() {
		if recover() != nil {
			ids = nil
		}
	}()
	return p.Accounts(cfg)
}

// ResolveAccount resolves one account's configuration, falling back to an
// empty account on failure so downstream checks still run.
func ResolveAccount(p Plugin, cfg *config.Config, accountID string) (acc Account) {
	defer func() {
		if recover() != nil {
			acc = Account{}
		}
	}()
	acc = p.Account(cfg, accountID)
	if acc == nil {
		acc = Account{}
	}
	return acc
}

// AccountEnabled determines whether an account is enabled.
//
// Plugins with an explicit enablement predicate decide themselves;
// otherwise an account is enabled unless its resolved config is a non-nil
// object carrying enabled == false.
func AccountEnabled(p Plugin, cfg *config.Config, accountID string, acc Account) (enabled bool) {
	defer func() {
		if recover() != nil {
			enabled = true
		}
	}()
	if ec, ok := p.(EnablementChecker); ok {
		return ec.AccountEnabled(cfg, accountID)
	}
	if acc == nil {
		return true
	}
	if v, ok := acc["enabled"]; ok {
		if b, ok := v.(bool); ok && !b {
			return false
		}
	}
	return true
}

// ResolveDefaultAccountID resolves the plugin-wide default account id:
// plugin-supplied default, else the first configured account id, else the
// global fallback constant.
func ResolveDefaultAccountID(p Plugin, cfg *config.Config) string {
	if da, ok := p.(DefaultAccounter); ok {
		id := safeDefaultID(da, cfg)
		if id != "" {
			return id
		}
	}
	if ids := AccountIDs(p, cfg); len(ids) > 0 {
		return ids[0]
	}
	return DefaultAccountID
}

func safeDefaultID(da DefaultAccounter, cfg *config.Config) (id string) {
	defer func() {
		if recover() != nil {
			id = ""
		}
	}()
	return strings.TrimSpace(da.DefaultAccountID(cfg))
}

// ResolveActionAccountID picks the account a single-account operation
// (logout, delete) acts on: the explicit caller-supplied id when present,
// else the plugin's default account id.
func ResolveActionAccountID(p Plugin, cfg *config.Config, explicit string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	return ResolveDefaultAccountID(p, cfg)
}
