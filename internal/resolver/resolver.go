// Package resolver expands user-supplied target expressions into concrete
// device lists.
//
// A target expression is a comma-separated list of tokens; each token is a
// device name, a group name, or an IP literal. When the whole expression is
// IP literals the resolver synthesizes ephemeral devices in an in-memory
// overlay of the configuration; they are never persisted.
package resolver

import (
	"net/netip"
	"sort"
	"strings"
	"unicode"

	"github.com/narrowin/networka-sub002/internal/config"
	"github.com/narrowin/networka-sub002/internal/device"
	nwerrors "github.com/narrowin/networka-sub002/internal/errors"
	"github.com/narrowin/networka-sub002/internal/inventory"
)

// Resolution is the outcome of resolving one target expression.
type Resolution struct {
	Devices []string // Resolved device names, first-seen order, de-duplicated
	Unknown []string // Tokens recognized as neither device, group nor IP
	IPMode  bool     // True when the whole expression was IP literals
}

// Resolver classifies tokens against the effective configuration (base
// config plus the IP overlay created by prior calls).
type Resolver struct {
	cfg     *config.Config
	sel     inventory.Selector
	overlay map[string]*device.Config
}

// New creates a resolver over the loaded configuration. The selector narrows
// group lookups when a group name exists in multiple inventory sources.
func New(cfg *config.Config, sel inventory.Selector) *Resolver {
	return &Resolver{
		cfg:     cfg,
		sel:     sel,
		overlay: make(map[string]*device.Config),
	}
}

// WithSelector returns a resolver sharing this resolver's overlay but using
// a different selector, so a long-lived caller can vary the preference per
// call without losing ephemeral IP devices.
func (r *Resolver) WithSelector(sel inventory.Selector) *Resolver {
	return &Resolver{cfg: r.cfg, sel: sel, overlay: r.overlay}
}

// Resolve expands a target expression into device names and unknown tokens.
// Group expansion is one level only: members are taken verbatim from the
// group definition; nested group references are not followed. Ambiguity
// errors from group resolution propagate unchanged.
//
// Zero resolved devices is not an error here; operation wrappers treat it as
// fatal before starting any device work.
func (r *Resolver) Resolve(expression string) (*Resolution, error) {
	tokens := splitTokens(expression)
	if len(tokens) == 0 {
		return &Resolution{}, nil
	}

	if ips, ok := parseIPTokens(tokens); ok {
		return r.resolveIPs(ips)
	}

	res := &Resolution{}
	seen := make(map[string]bool)
	appendDevice := func(name string) {
		if !seen[name] {
			seen[name] = true
			res.Devices = append(res.Devices, name)
		}
	}

	for _, token := range tokens {
		switch {
		case r.IsDevice(token):
			appendDevice(token)
		case r.IsGroup(token):
			members, err := r.GroupMembers(token)
			if err != nil {
				return nil, err
			}
			for _, member := range members {
				if r.IsDevice(member) {
					appendDevice(member)
				} else {
					res.Unknown = append(res.Unknown, member)
				}
			}
		default:
			res.Unknown = append(res.Unknown, token)
		}
	}

	return res, nil
}

// resolveIPs synthesizes one ephemeral device per IP literal. A platform
// must have been supplied out-of-band; without one the device type cannot
// be determined.
func (r *Resolver) resolveIPs(ips []netip.Addr) (*Resolution, error) {
	if r.cfg.Settings.Platform == "" {
		return nil, nwerrors.NewConfigurationError(
			"IP targets require a platform (use --platform to set the device type)")
	}

	res := &Resolution{IPMode: true}
	seen := make(map[string]bool)
	for _, ip := range ips {
		name := ipDeviceName(ip)
		if seen[name] {
			continue
		}
		seen[name] = true

		if _, exists := r.overlay[name]; !exists {
			r.overlay[name] = &device.Config{
				Host:     ip.String(),
				Platform: r.cfg.Settings.Platform,
			}
		}
		res.Devices = append(res.Devices, name)
	}

	return res, nil
}

// IsDevice reports whether name is a device in the effective configuration.
func (r *Resolver) IsDevice(name string) bool {
	if _, ok := r.overlay[name]; ok {
		return true
	}
	_, ok := r.cfg.Devices[name]
	return ok
}

// IsGroup reports whether name is a group in the effective configuration.
func (r *Resolver) IsGroup(name string) bool {
	_, ok := r.cfg.Groups[name]
	return ok
}

// GroupMembers returns the one-level membership of a group: explicit members
// verbatim, plus tag-matched devices in sorted order for determinism.
func (r *Resolver) GroupMembers(name string) ([]string, error) {
	grp := r.cfg.Groups[name]
	if grp == nil {
		return nil, nil
	}

	// When a catalog tracks multiple sources for this group name, resolve
	// which definition applies. Ambiguity propagates to the caller.
	if r.cfg.Catalog != nil && r.cfg.Catalog.HasGroup(name) {
		entry, err := r.cfg.Catalog.ResolveGroup(name, r.sel)
		if err != nil {
			return nil, err
		}
		if entry != nil {
			grp = entry.Group
		}
	}

	members := append([]string(nil), grp.Members...)

	if len(grp.MatchTags) > 0 {
		var tagged []string
		for devName, dev := range r.cfg.Devices {
			if matchesAnyTag(dev, grp.MatchTags) {
				tagged = append(tagged, devName)
			}
		}
		sort.Strings(tagged)
		members = append(members, tagged...)
	}

	return members, nil
}

// DeviceConfig returns the effective payload for a resolved device name,
// consulting the overlay first, then the catalog-backed configuration.
func (r *Resolver) DeviceConfig(name string) (*device.Config, error) {
	if dev, ok := r.overlay[name]; ok {
		return dev, nil
	}
	return r.cfg.DeviceConfig(name, r.sel)
}

// splitTokens splits on commas and whitespace, drops empties and
// de-duplicates while preserving first-seen order.
func splitTokens(expression string) []string {
	parts := strings.FieldsFunc(expression, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	tokens := make([]string, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, token := range parts {
		if seen[token] {
			continue
		}
		seen[token] = true
		tokens = append(tokens, token)
	}
	return tokens
}

// parseIPTokens reports whether every token is a valid IP literal. The IP
// fast path only applies to the entire expression.
func parseIPTokens(tokens []string) ([]netip.Addr, bool) {
	ips := make([]netip.Addr, 0, len(tokens))
	for _, token := range tokens {
		ip, err := netip.ParseAddr(token)
		if err != nil {
			return nil, false
		}
		ips = append(ips, ip)
	}
	return ips, true
}

// ipDeviceName derives the ephemeral device name for an IP literal, e.g.
// "10.0.0.1" becomes "ip_10_0_0_1".
func ipDeviceName(ip netip.Addr) string {
	replacer := strings.NewReplacer(".", "_", ":", "_")
	return "ip_" + replacer.Replace(ip.String())
}

// matchesAnyTag reports whether the device carries at least one of the tags.
func matchesAnyTag(dev *device.Config, tags []string) bool {
	for _, tag := range tags {
		if dev.HasTag(tag) {
			return true
		}
	}
	return false
}
