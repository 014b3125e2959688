// Package resolve turns declared placeholder descriptors into values and
// assigns those values, or per-occurrence inputs, to each token occurrence.
package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Collection names a kind of related record.
type Collection string

const (
	Campaigns   Collection = "campaigns"
	Influencers Collection = "influencers"
	Contracts   Collection = "contracts"
	Companies   Collection = "companies"
	Profiles    Collection = "profiles"
)

var collectionAliases = map[string]Collection{
	"campaign":    Campaigns,
	"campaigns":   Campaigns,
	"influencer":  Influencers,
	"influencers": Influencers,
	"contract":    Contracts,
	"contracts":   Contracts,
	"company":     Companies,
	"companies":   Companies,
	"brand":       Companies,
	"user":        Profiles,
	"users":       Profiles,
	"profile":     Profiles,
	"profiles":    Profiles,
}

// CollectionFor maps a descriptor collection name to a Collection.
func CollectionFor(name string) (Collection, bool) {
	c, ok := collectionAliases[strings.ToLower(strings.TrimSpace(name))]
	return c, ok
}

// ErrRecordNotFound marks a lookup that found nothing.
var ErrRecordNotFound = errors.New("record not found")

// Record is a related row decoded as JSON.
type Record map[string]any

// RecordSource fetches related records. Implementations apply the lookup rules
// of each collection, such as secondary keys.
type RecordSource interface {
	FetchRecord(ctx context.Context, collection Collection, key string) (Record, error)
}

// RecordCache is a read-through cache shared across resolution passes.
type RecordCache interface {
	GetRecord(ctx context.Context, collection Collection, key string) (Record, bool)
	SetRecord(ctx context.Context, collection Collection, key string, record Record)
}

// Subject carries the natural keys of the records around one collaboration.
type Subject struct {
	CampaignID   string `json:"campaignId"`
	InfluencerID string `json:"influencerId"`
	ContractID   string `json:"contractId"`
	CompanyID    string `json:"companyId"`
	UserID       string `json:"userId"`
}

func (s Subject) keyFor(c Collection) string {
	switch c {
	case Campaigns:
		return s.CampaignID
	case Influencers:
		return s.InfluencerID
	case Contracts:
		return s.ContractID
	case Companies:
		return s.CompanyID
	case Profiles:
		return s.UserID
	default:
		return ""
	}
}

// MapSource is an in-memory RecordSource keyed by collection then key.
type MapSource map[Collection]map[string]Record

func (m MapSource) FetchRecord(_ context.Context, collection Collection, key string) (Record, error) {
	if rec, ok := m[collection][key]; ok {
		return rec, nil
	}
	return nil, fmt.Errorf("%s %q: %w", collection, key, ErrRecordNotFound)
}

// lookupPath walks path through v. Map keys fall back to a loose comparison
// that ignores case and punctuation. A non-index segment applied to an array
// is projected over its elements.
func lookupPath(v any, path []string) (any, bool) {
	if len(path) == 0 {
		return v, v != nil
	}
	segment := path[0]
	rest := path[1:]

	switch node := v.(type) {
	case Record:
		return lookupPath(map[string]any(node), path)
	case map[string]any:
		child, ok := fieldOf(node, segment)
		if !ok {
			return nil, false
		}
		return lookupPath(child, rest)
	case []any:
		if idx, err := strconv.Atoi(segment); err == nil {
			if idx < 0 || idx >= len(node) {
				return nil, false
			}
			return lookupPath(node[idx], rest)
		}
		projected := make([]any, 0, len(node))
		for _, item := range node {
			if value, ok := lookupPath(item, path); ok {
				projected = append(projected, value)
			}
		}
		return projected, len(projected) > 0
	case []string:
		items := make([]any, len(node))
		for i, s := range node {
			items[i] = s
		}
		return lookupPath(items, path)
	default:
		return nil, false
	}
}

func fieldOf(node map[string]any, field string) (any, bool) {
	if value, ok := node[field]; ok {
		return value, true
	}
	want := normalizeField(field)
	if want == "" {
		return nil, false
	}
	keys := make([]string, 0, len(node))
	for key := range node {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if normalizeField(key) == want {
			return node[key], true
		}
	}
	return nil, false
}

func normalizeField(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// scalars flattens a resolved value into its non-empty string forms.
func scalars(v any) []string {
	switch value := v.(type) {
	case nil:
		return nil
	case string:
		if strings.TrimSpace(value) == "" {
			return nil
		}
		return []string{value}
	case json.Number:
		return []string{value.String()}
	case float64:
		return []string{strconv.FormatFloat(value, 'f', -1, 64)}
	case float32:
		return []string{strconv.FormatFloat(float64(value), 'f', -1, 32)}
	case int, int32, int64, uint, uint32, uint64:
		return []string{fmt.Sprint(value)}
	case bool:
		return []string{strconv.FormatBool(value)}
	case []any:
		var out []string
		for _, item := range value {
			out = append(out, scalars(item)...)
		}
		return out
	case []string:
		var out []string
		for _, item := range value {
			out = append(out, scalars(item)...)
		}
		return out
	default:
		return nil
	}
}
