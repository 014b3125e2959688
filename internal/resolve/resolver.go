package resolve

import (
	"context"
	"errors"
	"strings"

	"contractflow/api/internal/placeholder"
)

// Missing is the display value of anything that could not be resolved.
const Missing = "--"

const labelSeparator = ", "

// Entry is the resolution result for one placeholder name or, for repeatable
// names, for one occurrence of it.
type Entry struct {
	Key           string   `json:"key"`
	Name          string   `json:"name"`
	OccurrenceKey string   `json:"occurrenceKey"`
	Description   string   `json:"description"`
	Display       string   `json:"resolvedDisplay"`
	RawValues     []string `json:"rawValues"`
	Editable      bool     `json:"editable"`
	InputValue    string   `json:"inputValue,omitempty"`
}

// Miss records a descriptor that resolved to nothing.
type Miss struct {
	Name       string
	Descriptor string
	Reason     string
}

// Result holds the non-repeatable entries of one resolution pass.
type Result struct {
	Entries map[string]*Entry
	Misses  []Miss
}

// Resolver resolves declared descriptors against related records.
type Resolver struct {
	source RecordSource
	cache  RecordCache
}

// NewResolver builds a Resolver. cache may be nil.
func NewResolver(source RecordSource, cache RecordCache) *Resolver {
	return &Resolver{source: source, cache: cache}
}

type fetchResult struct {
	record Record
	err    error
}

// pass memoizes fetches, misses included, for one Resolve call.
type pass struct {
	resolver *Resolver
	subject  Subject
	memo     map[string]fetchResult
	fetches  int
}

// Resolve builds entries for every non-repeatable token name that has at
// least one declared descriptor. A miss never aborts the pass.
func (r *Resolver) Resolve(ctx context.Context, subject Subject, tokens []placeholder.Token, declared map[string][]string) Result {
	p := &pass{resolver: r, subject: subject, memo: map[string]fetchResult{}}
	descriptors := mergeDeclared(declared)

	result := Result{Entries: map[string]*Entry{}}
	for _, name := range placeholder.Names(tokens) {
		if placeholder.IsRepeatable(name) {
			continue
		}
		descs := descriptors[name]
		if len(descs) == 0 {
			continue
		}

		entry := &Entry{
			Key:           placeholder.Literal(name),
			Name:          name,
			OccurrenceKey: name,
			Description:   describe(descs),
			RawValues:     []string{},
		}
		labels := make([]string, 0, len(descs))
		for _, d := range descs {
			values, reason := p.values(ctx, d)
			if reason != "" {
				labels = append(labels, Missing)
				result.Misses = append(result.Misses, Miss{Name: name, Descriptor: d.Raw, Reason: reason})
				continue
			}
			labels = append(labels, strings.Join(values, labelSeparator))
			entry.RawValues = append(entry.RawValues, values...)
		}
		entry.Display = strings.Join(labels, labelSeparator)
		result.Entries[name] = entry
	}
	return result
}

func describe(descs []Descriptor) string {
	parts := make([]string, len(descs))
	for i, d := range descs {
		parts[i] = d.Raw
	}
	return strings.Join(parts, " | ")
}

// values returns the resolved strings of d, or a non-empty miss reason.
func (p *pass) values(ctx context.Context, d Descriptor) ([]string, string) {
	if !d.IsSource() {
		return []string{d.Literal}, ""
	}
	collection, ok := CollectionFor(d.Collection)
	if !ok {
		return nil, "unknown collection " + d.Collection
	}
	if len(d.Path) == 0 {
		return nil, "missing field path"
	}
	record, err := p.record(ctx, collection)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, "record not found"
		}
		return nil, err.Error()
	}
	value, ok := lookupPath(record, d.Path)
	if !ok {
		return nil, "field not found"
	}
	values := scalars(value)
	if len(values) == 0 {
		return nil, "field empty"
	}
	return values, ""
}

func (p *pass) record(ctx context.Context, collection Collection) (Record, error) {
	key := strings.TrimSpace(p.subject.keyFor(collection))
	if key == "" {
		return nil, ErrRecordNotFound
	}
	memoKey := string(collection) + "\x00" + key
	if cached, ok := p.memo[memoKey]; ok {
		return cached.record, cached.err
	}

	cache := p.resolver.cache
	if cache != nil {
		if record, ok := cache.GetRecord(ctx, collection, key); ok {
			p.memo[memoKey] = fetchResult{record: record}
			return record, nil
		}
	}

	p.fetches++
	record, err := p.resolver.source.FetchRecord(ctx, collection, key)
	if err == nil && record == nil {
		err = ErrRecordNotFound
	}
	p.memo[memoKey] = fetchResult{record: record, err: err}
	if err == nil && cache != nil {
		cache.SetRecord(ctx, collection, key, record)
	}
	return record, err
}
