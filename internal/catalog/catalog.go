// Package catalog supplies the display metadata (labels, SF Symbol names)
// that status consumers render next to channel entries.
package catalog

import (
	"strings"

	"chanhub/internal/channel"
)

// Entry is the display metadata for one channel.
type Entry struct {
	Label       string
	DetailLabel string
	SystemImage string
}

// Catalog maps registered channel ids to display metadata, preserving
// plugin registration order.
type Catalog struct {
	Order   []string
	Entries map[string]Entry
}

// builtin covers the channels shipped with the gateway. Plugins outside
// this table either implement CatalogEntryProvider or get a generic entry
// derived from their id.
var builtin = map[string]Entry{
	"telegram": {Label: "Telegram", DetailLabel: "Telegram Bot", SystemImage: "paperplane.fill"},
	"whatsapp": {Label: "WhatsApp", DetailLabel: "WhatsApp Web", SystemImage: "phone.circle.fill"},
	"discord":  {Label: "Discord", DetailLabel: "Discord Bot", SystemImage: "gamecontroller.fill"},
	"slack":    {Label: "Slack", DetailLabel: "Slack App", SystemImage: "number.square.fill"},
	"signal":   {Label: "Signal", DetailLabel: "Signal", SystemImage: "waveform.circle.fill"},
	"imessage": {Label: "iMessage", DetailLabel: "iMessage", SystemImage: "message.fill"},
	"webhook":  {Label: "Webhook", DetailLabel: "HTTP Webhook", SystemImage: "arrow.up.right.square.fill"},
}

// Build assembles the catalog for the given plugins. Plugin-provided
// metadata wins over the built-in table; missing pieces fall back to it,
// then to a generic entry.
func Build(plugins []channel.Plugin) Catalog {
	c := Catalog{
		Order:   make([]string, 0, len(plugins)),
		Entries: make(map[string]Entry, len(plugins)),
	}
	for _, p := range plugins {
		id := p.ID()
		entry, ok := builtin[id]
		if !ok {
			entry = Entry{Label: titleCase(id), DetailLabel: titleCase(id), SystemImage: "ellipsis.circle.fill"}
		}
		if cp, ok := p.(channel.CatalogEntryProvider); ok {
			if label := safeLabel(cp.CatalogLabel); label != "" {
				entry.Label = label
				entry.DetailLabel = label
			}
			if img := safeLabel(cp.CatalogSystemImage); img != "" {
				entry.SystemImage = img
			}
		}
		c.Order = append(c.Order, id)
		c.Entries[id] = entry
	}
	return c
}

func safeLabel(fn func() string) (s string) {
	defer func() {
		if recover() != nil {
			s = ""
		}
	}()
	return strings.TrimSpace(fn())
}

func titleCase(id string) string {
	if id == "" {
		return id
	}
	return strings.ToUpper(id[:1]) + id[1:]
}
