package resolve

import (
	"sort"
	"strings"

	"contractflow/api/internal/placeholder"
)

const sourcePrefix = "source:"

// Descriptor is one declared value source for a placeholder: a literal
// string or a source:<collection>.<field-path> reference.
type Descriptor struct {
	Raw        string
	Literal    string
	Collection string
	Path       []string
}

// IsSource reports whether the descriptor reads a related record.
func (d Descriptor) IsSource() bool {
	return d.Collection != ""
}

// ParseDescriptor classifies raw as a literal or a record reference.
func ParseDescriptor(raw string) Descriptor {
	trimmed := strings.TrimSpace(raw)
	if len(trimmed) < len(sourcePrefix) || !strings.EqualFold(trimmed[:len(sourcePrefix)], sourcePrefix) {
		return Descriptor{Raw: trimmed, Literal: trimmed}
	}

	ref := strings.TrimSpace(trimmed[len(sourcePrefix):])
	idx := strings.IndexAny(ref, ".[")
	if idx < 0 {
		return Descriptor{Raw: trimmed, Collection: ref}
	}
	return Descriptor{
		Raw:        trimmed,
		Collection: ref[:idx],
		Path:       splitFieldPath(ref[idx:]),
	}
}

// splitFieldPath turns "a.b[0].c" into [a b 0 c].
func splitFieldPath(path string) []string {
	path = strings.ReplaceAll(path, "[", ".")
	path = strings.ReplaceAll(path, "]", "")
	parts := strings.Split(path, ".")
	segments := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			segments = append(segments, part)
		}
	}
	return segments
}

// mergeDeclared folds a declared-variables map into bare name -> descriptors.
// Keys written as tokens and as bare names merge; duplicates are dropped and
// first-seen order is kept.
func mergeDeclared(declared map[string][]string) map[string][]Descriptor {
	keys := make([]string, 0, len(declared))
	for key := range declared {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := make(map[string][]Descriptor, len(declared))
	seen := make(map[string]map[string]struct{}, len(declared))
	for _, key := range keys {
		name := placeholder.KeyName(key)
		if name == "" {
			continue
		}
		if seen[name] == nil {
			seen[name] = map[string]struct{}{}
		}
		for _, raw := range declared[key] {
			d := ParseDescriptor(raw)
			if d.Raw == "" {
				continue
			}
			if _, dup := seen[name][d.Raw]; dup {
				continue
			}
			seen[name][d.Raw] = struct{}{}
			merged[name] = append(merged[name], d)
		}
	}
	return merged
}
