package channel

import "strings"

// Registry holds the set of registered channel plugins. It is built once
// at process start and read-only afterwards, so lookups need no locking.
type Registry struct {
	order   []string
	plugins map[string]Plugin
}

// NewRegistry builds a registry from the given plugins, preserving
// registration order. A later plugin with a duplicate id replaces the
// earlier one without changing its position.
func NewRegistry(plugins ...Plugin) *Registry {
	r := &Registry{plugins: make(map[string]Plugin, len(plugins))}
	for _, p := range plugins {
		if p == nil {
			continue
		}
		id := strings.ToLower(strings.TrimSpace(p.ID()))
		if id == "" {
			continue
		}
		if _, ok := r.plugins[id]; !ok {
			r.order = append(r.order, id)
		}
		r.plugins[id] = p
	}
	return r
}

// Plugins returns all registered plugins in registration order.
func (r *Registry) Plugins() []Plugin {
	out := make([]Plugin, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.plugins[id])
	}
	return out
}

// Plugin returns the plugin for id, or nil when unknown.
func (r *Registry) Plugin(id string) Plugin {
	return r.plugins[id]
}

// NormalizeID maps raw user input to a registered channel id.
// Returns ("", false) when the input does not name a known channel.
func (r *Registry) NormalizeID(raw string) (string, bool) {
	id := strings.ToLower(strings.TrimSpace(raw))
	if id == "" {
		return "", false
	}
	if _, ok := r.plugins[id]; ok {
		return id, true
	}
	return "", false
}
