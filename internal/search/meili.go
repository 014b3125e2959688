package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"

	"contractflow/api/internal/logging"
)

const idxTimeline = "contract_timeline"

// Meili implements Searcher via Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     logging.Logger
}

// NewMeili creates a Meilisearch client and configures the timeline index.
// An unreachable server is tolerated; a background loop keeps probing it.
func NewMeili(url, apiKey string, log logging.Logger) *Meili {
	if log == nil {
		log = logging.Nop()
	}
	m := &Meili{
		client: meili.New(url, meili.WithAPIKey(apiKey)),
		done:   make(chan struct{}),
		log:    log,
	}

	if _, err := m.client.Health(); err != nil {
		log.Warn(context.Background(), "meilisearch unavailable", "url", url, "error", err)
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	ctx := context.Background()
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxTimeline,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Info(ctx, "create search index (may already exist)", "index", idxTimeline, "error", err)
	}

	index := m.client.Index(idxTimeline)
	filterable := []interface{}{"collaborationKey", "actionType", "actorId"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn(ctx, "update filterable attributes", "index", idxTimeline, "error", err)
	}
	searchable := []string{"description", "remark", "action"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn(ctx, "update searchable attributes", "index", idxTimeline, "error", err)
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info(context.Background(), "meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

func (m *Meili) Search(q Query) ([]Result, int, error) {
	if !m.healthy.Load() {
		return nil, 0, fmt.Errorf("meilisearch unhealthy")
	}

	limit := int64(q.Limit)
	if limit == 0 {
		limit = 20
	}
	sr := &meili.SearchRequest{
		IndexUID:              idxTimeline,
		Query:                 q.Text,
		Limit:                 limit,
		Offset:                int64(q.Offset),
		AttributesToHighlight: []string{"description", "remark"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	}
	if filters := meiliFilters(q); len(filters) > 0 {
		sr.Filter = filters
	}

	resp, err := m.client.MultiSearch(&meili.MultiSearchRequest{
		Queries: []*meili.SearchRequest{sr},
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, 0, fmt.Errorf("meilisearch multi-search: %w", err)
	}

	var results []Result
	total := 0
	for _, res := range resp.Results {
		total += int(res.EstimatedTotalHits)
		for _, hit := range res.Hits {
			results = append(results, hitToResult(hit))
		}
	}
	return results, total, nil
}

func meiliFilters(q Query) []string {
	var filters []string
	if q.CollaborationKey != "" {
		filters = append(filters, fmt.Sprintf("collaborationKey = %q", q.CollaborationKey))
	}
	if q.ActionType != "" {
		filters = append(filters, fmt.Sprintf("actionType = %q", q.ActionType))
	}
	return filters
}

func hitToResult(hit meili.Hit) Result {
	r := Result{
		ID:               decodeString(hit, "id"),
		CollaborationKey: decodeString(hit, "collaborationKey"),
		ActionType:       decodeString(hit, "actionType"),
		OccurredAt:       decodeInt(hit, "occurredAt"),
	}
	r.Title = firstNonBlank(decodeFormattedString(hit, "description"), decodeString(hit, "description"))
	r.Snippet = firstNonBlank(decodeFormattedString(hit, "remark"), decodeString(hit, "remark"), r.Title)
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeInt(hit meili.Hit, key string) int64 {
	raw, ok := hit[key]
	if !ok {
		return 0
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	return 0
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]any
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	s, _ := formatted[key].(string)
	return strings.TrimSpace(s)
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (m *Meili) IndexTimeline(records ...TimelineRecord) error {
	if len(records) == 0 {
		return nil
	}
	_, err := m.client.Index(idxTimeline).AddDocuments(records, nil)
	return err
}

func (m *Meili) DeleteTimeline(id string) error {
	_, err := m.client.Index(idxTimeline).DeleteDocument(id, nil)
	return err
}
