// Package filter narrows a resolved device list by tags, platform, or
// name patterns before the fan-out runs.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/narrowin/networka-sub002/internal/device"
)

// Filter is one match condition over a named device.
type Filter interface {
	// Match reports whether the device passes the condition.
	Match(name string, dev *device.Config) bool
	// String returns a human-readable description of the condition.
	String() string
}

// TagFilter matches devices carrying all required tags and none of the
// excluded ones. Tag comparison is case-insensitive.
type TagFilter struct {
	Required []string
	Excluded []string
}

func (f *TagFilter) Match(name string, dev *device.Config) bool {
	tags := make(map[string]bool, len(dev.Tags))
	for _, tag := range dev.Tags {
		tags[strings.ToLower(tag)] = true
	}
	for _, required := range f.Required {
		if !tags[strings.ToLower(required)] {
			return false
		}
	}
	for _, excluded := range f.Excluded {
		if tags[strings.ToLower(excluded)] {
			return false
		}
	}
	return true
}

func (f *TagFilter) String() string {
	var parts []string
	if len(f.Required) > 0 {
		parts = append(parts, "tag:"+strings.Join(f.Required, ","))
	}
	if len(f.Excluded) > 0 {
		parts = append(parts, "!tag:"+strings.Join(f.Excluded, ","))
	}
	return strings.Join(parts, " ")
}

// PlatformFilter matches devices with the given platform, case-insensitive.
type PlatformFilter struct {
	Platform string
}

func (f *PlatformFilter) Match(name string, dev *device.Config) bool {
	return strings.EqualFold(dev.Platform, f.Platform)
}

func (f *PlatformFilter) String() string {
	return "platform:" + f.Platform
}

// NameFilter matches device names against a glob-style pattern where *
// matches any run of characters.
type NameFilter struct {
	Pattern string
	re      *regexp.Regexp
}

func NewNameFilter(pattern string) (*NameFilter, error) {
	expr := "^" + strings.ReplaceAll(regexp.QuoteMeta(pattern), `\*`, ".*") + "$"
	re, err := regexp.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid name pattern %q: %w", pattern, err)
	}
	return &NameFilter{Pattern: pattern, re: re}, nil
}

func (f *NameFilter) Match(name string, dev *device.Config) bool {
	return f.re.MatchString(name)
}

func (f *NameFilter) String() string {
	return "name:" + f.Pattern
}

// Parse builds a filter from the CLI's comma-separated spec. Supported
// terms: tag:<t>, !tag:<t>, platform:<p>, name:<glob>, and a bare term
// which is treated as a required tag. All terms must match.
func Parse(spec string) ([]Filter, error) {
	var filters []Filter
	tagFilter := &TagFilter{}

	for _, term := range strings.Split(spec, ",") {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		switch {
		case strings.HasPrefix(term, "tag:"):
			tagFilter.Required = append(tagFilter.Required, strings.TrimPrefix(term, "tag:"))
		case strings.HasPrefix(term, "!tag:"):
			tagFilter.Excluded = append(tagFilter.Excluded, strings.TrimPrefix(term, "!tag:"))
		case strings.HasPrefix(term, "platform:"):
			filters = append(filters, &PlatformFilter{Platform: strings.TrimPrefix(term, "platform:")})
		case strings.HasPrefix(term, "name:"):
			nf, err := NewNameFilter(strings.TrimPrefix(term, "name:"))
			if err != nil {
				return nil, err
			}
			filters = append(filters, nf)
		default:
			tagFilter.Required = append(tagFilter.Required, term)
		}
	}

	if len(tagFilter.Required) > 0 || len(tagFilter.Excluded) > 0 {
		filters = append(filters, tagFilter)
	}
	return filters, nil
}

// Apply keeps the devices matching every filter, preserving order.
// lookup maps a resolved name to its payload; devices without a payload
// are kept untouched only when no filters are set.
func Apply(names []string, lookup func(name string) *device.Config, filters []Filter) []string {
	if len(filters) == 0 {
		return names
	}
	kept := make([]string, 0, len(names))
	for _, name := range names {
		dev := lookup(name)
		if dev == nil {
			continue
		}
		matched := true
		for _, f := range filters {
			if !f.Match(name, dev) {
				matched = false
				break
			}
		}
		if matched {
			kept = append(kept, name)
		}
	}
	return kept
}
