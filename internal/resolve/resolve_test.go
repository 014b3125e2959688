package resolve

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"contractflow/api/internal/placeholder"
)

type countingSource struct {
	inner RecordSource
	calls map[string]int
	err   error
}

func (c *countingSource) FetchRecord(ctx context.Context, collection Collection, key string) (Record, error) {
	if c.calls == nil {
		c.calls = map[string]int{}
	}
	c.calls[string(collection)+":"+key]++
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.FetchRecord(ctx, collection, key)
}

type memoryCache struct {
	records map[string]Record
	sets    int
}

func (m *memoryCache) GetRecord(_ context.Context, c Collection, key string) (Record, bool) {
	r, ok := m.records[string(c)+":"+key]
	return r, ok
}

func (m *memoryCache) SetRecord(_ context.Context, c Collection, key string, r Record) {
	if m.records == nil {
		m.records = map[string]Record{}
	}
	m.records[string(c)+":"+key] = r
	m.sets++
}

func fixtureSource() MapSource {
	return MapSource{
		Influencers: {
			"inf-1": Record{
				"Full Name": "Ana",
				"handles":   []any{"@ana", "@ana_tv"},
				"address":   map[string]any{"city": "Lisbon"},
			},
		},
		Campaigns: {
			"camp-1": Record{
				"title":     "Spring Launch",
				"districts": []any{"North", "South", "East"},
				"deliverables": []any{
					map[string]any{"kind": "reel"},
					map[string]any{"kind": "story"},
				},
			},
		},
	}
}

func fixtureSubject() Subject {
	return Subject{CampaignID: "camp-1", InfluencerID: "inf-1"}
}

func TestParseDescriptor(t *testing.T) {
	tests := []struct {
		raw        string
		literal    string
		collection string
		path       []string
	}{
		{raw: "Acme Ltd", literal: "Acme Ltd"},
		{raw: "source:influencers.full_name", collection: "influencers", path: []string{"full_name"}},
		{raw: "SOURCE:campaign.deliverables[1].kind", collection: "campaign", path: []string{"deliverables", "1", "kind"}},
		{raw: "  source:companies  ", collection: "companies"},
	}
	for _, tc := range tests {
		t.Run(tc.raw, func(t *testing.T) {
			d := ParseDescriptor(tc.raw)
			assert.Equal(t, tc.literal, d.Literal)
			assert.Equal(t, tc.collection, d.Collection)
			assert.Equal(t, tc.path, d.Path)
			assert.Equal(t, tc.collection != "", d.IsSource())
		})
	}
}

func TestResolveFuzzyFieldMatch(t *testing.T) {
	r := NewResolver(fixtureSource(), nil)
	tokens := placeholder.Parse(`Hello var[{{name}}] from var[{{city}}]`)

	res := r.Resolve(context.Background(), fixtureSubject(), tokens, map[string][]string{
		"name":            {"source:influencers.full_name"},
		"var[{{ city }}]": {"source:influencer.Address.City"},
		"var[{{unused}}]": {"literal"},
	})

	require.Contains(t, res.Entries, "name")
	assert.Equal(t, "Ana", res.Entries["name"].Display)
	assert.Equal(t, []string{"Ana"}, res.Entries["name"].RawValues)
	assert.Equal(t, "Lisbon", res.Entries["city"].Display)
	assert.NotContains(t, res.Entries, "unused")
	assert.Empty(t, res.Misses)
}

func TestResolveMissRendersDashAndSkipsRawValues(t *testing.T) {
	r := NewResolver(fixtureSource(), nil)
	tokens := placeholder.Parse(`var[{{who}}] var[{{who}}]`)

	res := r.Resolve(context.Background(), fixtureSubject(), tokens, map[string][]string{
		"who": {"source:influencers.nickname", "source:influencers.full_name", "source:companies.name"},
	})

	entry := res.Entries["who"]
	require.NotNil(t, entry)
	assert.Equal(t, "--, Ana, --", entry.Display)
	assert.Equal(t, []string{"Ana"}, entry.RawValues)
	require.Len(t, res.Misses, 2)
	assert.Equal(t, "field not found", res.Misses[0].Reason)
	assert.Equal(t, "record not found", res.Misses[1].Reason)
}

func TestResolveMergesAndDeduplicatesDescriptors(t *testing.T) {
	r := NewResolver(fixtureSource(), nil)
	tokens := placeholder.Parse(`var[{{title}}]`)

	res := r.Resolve(context.Background(), fixtureSubject(), tokens, map[string][]string{
		"title":          {"source:campaigns.title", "Draft"},
		"var[{{title}}]": {"source:campaigns.title"},
	})

	assert.Equal(t, "Draft, Spring Launch", res.Entries["title"].Display)
	assert.Equal(t, []string{"Draft", "Spring Launch"}, res.Entries["title"].RawValues)
}

func TestResolveArrayProjectionAndIndex(t *testing.T) {
	r := NewResolver(fixtureSource(), nil)
	tokens := placeholder.Parse(`var[{{kinds}}] var[{{second}}] var[{{handles}}]`)

	res := r.Resolve(context.Background(), fixtureSubject(), tokens, map[string][]string{
		"kinds":   {"source:campaigns.deliverables.kind"},
		"second":  {"source:campaigns.deliverables[1].kind"},
		"handles": {"source:influencers.handles"},
	})

	assert.Equal(t, []string{"reel", "story"}, res.Entries["kinds"].RawValues)
	assert.Equal(t, "story", res.Entries["second"].Display)
	assert.Equal(t, "@ana, @ana_tv", res.Entries["handles"].Display)
}

func TestResolveFetchesEachRecordOncePerPass(t *testing.T) {
	src := &countingSource{inner: fixtureSource()}
	r := NewResolver(src, nil)
	tokens := placeholder.Parse(`var[{{a}}] var[{{b}}] var[{{c}}] var[{{d}}]`)

	r.Resolve(context.Background(), fixtureSubject(), tokens, map[string][]string{
		"a": {"source:influencers.full_name"},
		"b": {"source:influencers.handles"},
		"c": {"source:companies.name"},
		"d": {"source:companies.city"},
	})

	assert.Equal(t, 1, src.calls["influencers:inf-1"])
	assert.Zero(t, src.calls["companies:"], "empty keys never reach the source")
}

func TestResolveUsesRecordCache(t *testing.T) {
	src := &countingSource{inner: fixtureSource()}
	cache := &memoryCache{}
	r := NewResolver(src, cache)
	tokens := placeholder.Parse(`var[{{name}}]`)
	declared := map[string][]string{"name": {"source:influencers.full_name"}}

	r.Resolve(context.Background(), fixtureSubject(), tokens, declared)
	res := r.Resolve(context.Background(), fixtureSubject(), tokens, declared)

	assert.Equal(t, "Ana", res.Entries["name"].Display)
	assert.Equal(t, 1, src.calls["influencers:inf-1"])
	assert.Equal(t, 1, cache.sets)
}

func TestResolveSourceErrorIsAMiss(t *testing.T) {
	src := &countingSource{inner: fixtureSource(), err: errors.New("connection reset")}
	r := NewResolver(src, nil)
	tokens := placeholder.Parse(`var[{{name}}]`)

	res := r.Resolve(context.Background(), fixtureSubject(), tokens, map[string][]string{
		"name": {"source:influencers.full_name"},
	})

	assert.Equal(t, Missing, res.Entries["name"].Display)
	assert.Empty(t, res.Entries["name"].RawValues)
	require.Len(t, res.Misses, 1)
	assert.Equal(t, "connection reset", res.Misses[0].Reason)
}

func TestResolveSkipsRepeatableNames(t *testing.T) {
	r := NewResolver(fixtureSource(), nil)
	tokens := placeholder.Parse(`var[{{signature}}] var[{{text}}]`)

	res := r.Resolve(context.Background(), fixtureSubject(), tokens, map[string][]string{
		"signature": {"source:influencers.full_name"},
		"text":      {"literal"},
	})

	assert.Empty(t, res.Entries)
}

func TestAssignRepeatableOccurrences(t *testing.T) {
	tokens := placeholder.Parse(`Hello var[{{name}}], sign: var[{{signature}}] and var[{{signature}}]`)
	resolved := map[string]*Entry{"name": {Name: "name", OccurrenceKey: "name", Display: "Ana", RawValues: []string{"Ana"}}}

	plan := Assign(tokens, resolved, map[string]string{"signature_0": "A.Ray"})
	require.Len(t, plan.Slots, 3)

	assert.Equal(t, "Ana", plan.Slots[0].Value)
	assert.Equal(t, "signature_0", plan.Slots[1].Entry.OccurrenceKey)
	assert.Equal(t, "signature_1", plan.Slots[2].Entry.OccurrenceKey)
	assert.Equal(t, "A.Ray", plan.Slots[1].Entry.InputValue)
	assert.Empty(t, plan.Slots[2].Entry.InputValue)
	assert.NotSame(t, plan.Slots[1].Entry, plan.Slots[2].Entry)
	assert.True(t, plan.Slots[1].Entry.Editable)
	assert.Len(t, plan.Entries, 3)

	vars := plan.Variables()
	require.NotNil(t, vars["signature_0"])
	assert.Equal(t, "A.Ray", *vars["signature_0"])
	assert.Nil(t, vars["signature_1"])
	assert.Equal(t, "Ana", *vars["name"])
}

func TestAssignSubVariantsCountSeparately(t *testing.T) {
	tokens := placeholder.Parse(`var[{{signature.user}}] var[{{signature.influencer}}] var[{{signature.user}}] var[{{text}}]`)

	plan := Assign(tokens, nil, nil)

	keys := make([]string, len(plan.Slots))
	for i, s := range plan.Slots {
		keys[i] = s.Entry.OccurrenceKey
	}
	assert.Equal(t, []string{"signature.user_0", "signature.influencer_0", "signature.user_1", "text_0"}, keys)
}

func TestAssignCyclesMultiValuedNames(t *testing.T) {
	tokens := placeholder.Parse(`var[{{district}}] var[{{district}}] var[{{district}}] var[{{district}}]`)
	resolved := map[string]*Entry{"district": {
		Name:      "district",
		Display:   "North, South, East",
		RawValues: []string{"North", "South", "East"},
	}}

	plan := Assign(tokens, resolved, nil)

	got := make([]string, len(plan.Slots))
	for i, s := range plan.Slots {
		got[i] = s.Value
	}
	assert.Equal(t, []string{"North", "South", "East", "North"}, got)
	assert.Len(t, plan.Entries, 1)
}

func TestAssignSingleOccurrenceUsesDisplay(t *testing.T) {
	tokens := placeholder.Parse(`var[{{district}}]`)
	resolved := map[string]*Entry{"district": {
		Name:      "district",
		Display:   "North, South",
		RawValues: []string{"North", "South"},
	}}

	plan := Assign(tokens, resolved, nil)
	assert.Equal(t, "North, South", plan.Slots[0].Value)
}

func TestAssignMissExcludedFromCycle(t *testing.T) {
	r := NewResolver(fixtureSource(), nil)
	tokens := placeholder.Parse(`var[{{who}}] var[{{who}}] var[{{who}}]`)
	res := r.Resolve(context.Background(), fixtureSubject(), tokens, map[string][]string{
		"who": {"source:influencers.nickname", "source:influencers.full_name", "source:campaigns.title"},
	})

	plan := Assign(tokens, res.Entries, nil)

	for _, s := range plan.Slots {
		assert.NotEqual(t, Missing, s.Value)
	}
	assert.Equal(t, "Ana", plan.Slots[0].Value)
	assert.Equal(t, "Spring Launch", plan.Slots[1].Value)
	assert.Equal(t, "Ana", plan.Slots[2].Value)
}

func TestAssignUnresolvedSlotHasNoEntry(t *testing.T) {
	plan := Assign(placeholder.Parse(`var[{{unknown}}]`), nil, nil)

	require.Len(t, plan.Slots, 1)
	assert.Nil(t, plan.Slots[0].Entry)
	vars := plan.Variables()
	v, ok := vars["unknown"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestOverridesDropsEmptyValues(t *testing.T) {
	v := "x"
	empty := ""
	got := Overrides(map[string]*string{"a_0": &v, "b_0": &empty, "c_0": nil})
	assert.Equal(t, map[string]string{"a_0": "x"}, got)
}
