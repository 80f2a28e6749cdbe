// Package inventory provides the multi-source inventory catalog for networka.
//
// A catalog merges device and group definitions from arbitrarily many
// inventory sources (declared config, discovered lab topologies, extra
// CLI-supplied inventories) and resolves a name to exactly one entry, or to
// a typed ambiguity error naming the conflicting sources.
//
// The catalog is built additively via AddSource during config load and is
// read-only afterwards; no locking is needed on the resolution path.
package inventory

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/narrowin/networka-sub002/internal/device"
	nwerrors "github.com/narrowin/networka-sub002/internal/errors"
)

// SourceKind identifies the origin class of an inventory source.
type SourceKind string

const (
	KindConfig          SourceKind = "config"           // Devices declared inline in the main config
	KindConfigInventory SourceKind = "config_inventory" // Inventory files referenced by the config
	KindDiscovered      SourceKind = "discovered"       // Auto-discovered lab topologies
	KindCLI             SourceKind = "cli"              // Extra inventories supplied on the command line
)

// SourceRef tags every entry with the source it came from. Immutable,
// created once per loaded source.
type SourceRef struct {
	SourceID      string
	Kind          SourceKind
	Root          string // Optional filesystem root of the source
	InventoryFile string // Optional inventory file path
}

// DeviceEntry binds a device definition to its originating source.
type DeviceEntry struct {
	Name   string
	Device *device.Config
	Ref    SourceRef
}

// GroupEntry binds a group definition to its originating source.
type GroupEntry struct {
	Name  string
	Group *device.Group
	Ref   SourceRef
}

// Selector narrows resolution when a name exists in multiple sources.
// An explicit SourceID always wins over Prefer; Prefer is consulted only
// when SourceID is empty.
type Selector struct {
	SourceID string // Exact source id to select
	Prefer   string // Preference token (see MatchesPrefer for syntax)
}

// Catalog indexes devices and groups by name across all loaded sources.
type Catalog struct {
	devices map[string][]DeviceEntry
	groups  map[string][]GroupEntry
	sources map[string]SourceRef
	order   []string // source ids in registration order
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		devices: make(map[string][]DeviceEntry),
		groups:  make(map[string][]GroupEntry),
		sources: make(map[string]SourceRef),
	}
}

// AddSource registers a source ref and appends an entry for every device and
// group under that source. Registering the same source id twice overwrites
// the ref but still appends entries; duplicate ids are a caller error and
// surface later as AmbiguousSelection.
func (c *Catalog) AddSource(ref SourceRef, devices map[string]*device.Config, groups map[string]*device.Group) {
	if _, seen := c.sources[ref.SourceID]; !seen {
		c.order = append(c.order, ref.SourceID)
	}
	c.sources[ref.SourceID] = ref

	for name, dev := range devices {
		c.devices[name] = append(c.devices[name], DeviceEntry{Name: name, Device: dev, Ref: ref})
	}
	for name, grp := range groups {
		c.groups[name] = append(c.groups[name], GroupEntry{Name: name, Group: grp, Ref: ref})
	}
}

// Sources returns the registered source refs in registration order.
func (c *Catalog) Sources() []SourceRef {
	refs := make([]SourceRef, 0, len(c.order))
	for _, id := range c.order {
		refs = append(refs, c.sources[id])
	}
	return refs
}

// HasDevice reports whether any source defines the device name.
func (c *Catalog) HasDevice(name string) bool {
	return len(c.devices[name]) > 0
}

// HasGroup reports whether any source defines the group name.
func (c *Catalog) HasGroup(name string) bool {
	return len(c.groups[name]) > 0
}

// DeviceNames returns every device name known to the catalog.
func (c *Catalog) DeviceNames() []string {
	names := make([]string, 0, len(c.devices))
	for name := range c.devices {
		names = append(names, name)
	}
	return names
}

// GroupNames returns every group name known to the catalog.
func (c *Catalog) GroupNames() []string {
	names := make([]string, 0, len(c.groups))
	for name := range c.groups {
		names = append(names, name)
	}
	return names
}

// ResolveDevice resolves a device name to a single entry. It returns
// (nil, nil) when the name is unknown, and an ambiguity error when the name
// exists in multiple sources and the selector cannot narrow it to one.
func (c *Catalog) ResolveDevice(name string, sel Selector) (*DeviceEntry, error) {
	entries := c.devices[name]
	if len(entries) == 0 {
		return nil, nil
	}

	refs := make([]SourceRef, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref
	}

	idx, err := resolveEntry(name, "device", refs, sel)
	if err != nil || idx < 0 {
		return nil, err
	}
	return &entries[idx], nil
}

// ResolveGroup resolves a group name following the same cascade as
// ResolveDevice.
func (c *Catalog) ResolveGroup(name string, sel Selector) (*GroupEntry, error) {
	entries := c.groups[name]
	if len(entries) == 0 {
		return nil, nil
	}

	refs := make([]SourceRef, len(entries))
	for i, e := range entries {
		refs[i] = e.Ref
	}

	idx, err := resolveEntry(name, "group", refs, sel)
	if err != nil || idx < 0 {
		return nil, err
	}
	return &entries[idx], nil
}

// resolveEntry runs the resolution cascade over candidate refs and returns
// the index of the selected entry, -1 when the selector filtered everything
// out, or an ambiguity error. The cascade, in order:
//
//  1. explicit source id filter (wins over any preference)
//  2. single-entry shortcut
//  3. preference token match
//  4. ambiguity error listing all candidate sources
func resolveEntry(name, kind string, refs []SourceRef, sel Selector) (int, error) {
	if sel.SourceID != "" {
		return selectBySource(name, kind, refs, sel.SourceID)
	}

	if len(refs) == 1 {
		return 0, nil
	}

	if sel.Prefer != "" {
		idx, err := selectByPreference(name, kind, refs, sel.Prefer)
		if err != nil {
			return -1, err
		}
		if idx >= 0 {
			return idx, nil
		}
		// Zero preference matches fall through to the ambiguity error.
	}

	return -1, &nwerrors.AmbiguousTarget{
		Name:      name,
		Kind:      kind,
		SourceIDs: sourceIDs(refs),
	}
}

// selectBySource filters candidates to an exact source id.
func selectBySource(name, kind string, refs []SourceRef, sourceID string) (int, error) {
	matched := -1
	count := 0
	for i, ref := range refs {
		if ref.SourceID == sourceID {
			matched = i
			count++
		}
	}

	switch count {
	case 0:
		return -1, nil
	case 1:
		return matched, nil
	default:
		return -1, &nwerrors.AmbiguousSelection{
			Name:      name,
			Kind:      kind,
			SourceID:  sourceID,
			SourceIDs: sourceIDs(refs),
		}
	}
}

// selectByPreference applies the preference token to all candidates.
// Returns -1 with nil error when nothing matched.
func selectByPreference(name, kind string, refs []SourceRef, prefer string) (int, error) {
	matched := -1
	var matchedIDs []string
	for i, ref := range refs {
		if ref.MatchesPrefer(prefer) {
			if matched < 0 {
				matched = i
			}
			matchedIDs = append(matchedIDs, ref.SourceID)
		}
	}

	if len(matchedIDs) > 1 {
		return -1, &nwerrors.AmbiguousPreference{
			Name:      name,
			Kind:      kind,
			Prefer:    prefer,
			SourceIDs: matchedIDs,
		}
	}
	return matched, nil
}

// MatchesPrefer reports whether the preference token selects this source.
// Token forms, tried in order:
//
//   - "config": matches the source whose id is literally "config"
//   - "<prefix>:<id>" with prefix in {local, config, cli}: prefix is
//     normalized (local→discovered, config→config_inventory) and compared
//     against the source kind, id against the source id
//   - a bare source id
//   - a filesystem path, compared after absolute-path resolution against the
//     source root or inventory file
//
// Resolution failures (such as a non-existent path) are non-matches, never
// errors.
func (r SourceRef) MatchesPrefer(token string) bool {
	if token == "" {
		return false
	}

	if token == "config" && r.SourceID == "config" {
		return true
	}

	if prefix, id, ok := strings.Cut(token, ":"); ok {
		if kind, known := normalizePrefix(prefix); known {
			return strings.EqualFold(string(r.Kind), string(kind)) && id == r.SourceID
		}
	}

	if token == r.SourceID {
		return true
	}

	if looksLikePath(token) {
		return r.matchesPath(token)
	}

	return false
}

// normalizePrefix maps a user-facing preference prefix to a source kind.
func normalizePrefix(prefix string) (SourceKind, bool) {
	switch strings.ToLower(prefix) {
	case "local":
		return KindDiscovered, true
	case "config":
		return KindConfigInventory, true
	case "cli":
		return KindCLI, true
	default:
		return "", false
	}
}

// looksLikePath reports whether the token should be treated as a filesystem
// path rather than a source id.
func looksLikePath(token string) bool {
	if strings.HasPrefix(token, ".") || strings.HasPrefix(token, "~") ||
		strings.HasPrefix(token, "/") || strings.HasPrefix(token, `\`) {
		return true
	}
	return strings.ContainsRune(token, os.PathSeparator) || strings.ContainsRune(token, '/')
}

// matchesPath compares a path token against the source root and inventory
// file after resolving all three to absolute paths.
func (r SourceRef) matchesPath(token string) bool {
	want, ok := absolutePath(token)
	if !ok {
		return false
	}

	for _, candidate := range []string{r.Root, r.InventoryFile} {
		if candidate == "" {
			continue
		}
		if have, ok := absolutePath(candidate); ok && have == want {
			return true
		}
	}
	return false
}

// absolutePath expands a leading ~ and resolves to an absolute, cleaned path.
func absolutePath(path string) (string, bool) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", false
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	return filepath.Clean(abs), true
}

// sourceIDs returns the unique source ids of refs in first-seen order.
func sourceIDs(refs []SourceRef) []string {
	seen := make(map[string]bool, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if !seen[ref.SourceID] {
			seen[ref.SourceID] = true
			ids = append(ids, ref.SourceID)
		}
	}
	return ids
}
