package search

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	meili "github.com/meilisearch/meilisearch-go"
)

type stubSearcher struct {
	results []Result
	total   int
	err     error
	queries []Query
}

func (s *stubSearcher) Search(q Query) ([]Result, int, error) {
	s.queries = append(s.queries, q)
	return s.results, s.total, s.err
}

func (s *stubSearcher) Healthy() bool { return true }

func TestServiceFallsBackWithoutMeili(t *testing.T) {
	fallback := &stubSearcher{results: []Result{{ID: "1", ActionType: "remark_added"}}, total: 1}
	svc := NewService(nil, fallback, nil)

	resp := svc.Search(Query{Text: "voicemail", CollaborationKey: "k1"})
	if resp.Total != 1 || len(resp.Results) != 1 || resp.Query != "voicemail" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(fallback.queries) != 1 || fallback.queries[0].CollaborationKey != "k1" {
		t.Fatalf("expected query to reach fallback, got %+v", fallback.queries)
	}
}

func TestServiceSearchErrorReturnsEmpty(t *testing.T) {
	svc := NewService(nil, &stubSearcher{err: errors.New("boom")}, nil)

	resp := svc.Search(Query{Text: "x"})
	if resp.Results == nil || len(resp.Results) != 0 || resp.Total != 0 {
		t.Fatalf("expected empty non-nil results, got %+v", resp)
	}
}

func TestServiceIndexWithoutMeiliIsNoop(t *testing.T) {
	svc := NewService(nil, nil, nil)
	svc.IndexTimeline(TimelineRecord{ID: "1"})
	svc.DeleteTimeline([]string{"1"})
	if resp := svc.Search(Query{Text: "x"}); len(resp.Results) != 0 {
		t.Fatalf("expected no results, got %+v", resp)
	}
}

func TestPgFTSSearchFiltersByKeyAndType(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT count\(\*\) FROM timeline_entries WHERE .*collaboration_key = \$2 AND action_type = \$3`).
		WithArgs("callback", "k1", "action_taken").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`(?s)SELECT id::text, collaboration_key.*FROM timeline_entries.*LIMIT 5 OFFSET 0`).
		WithArgs("callback", "k1", "action_taken").
		WillReturnRows(sqlmock.NewRows([]string{"id", "collaboration_key", "action_type", "description", "snippet", "occurred_at"}).
			AddRow("12", "k1", "action_taken", "Marked as callback", "<b>callback</b> tomorrow", int64(1760000000)))

	results, total, err := NewPgFTS(db).Search(Query{Text: "callback", CollaborationKey: "k1", ActionType: "action_taken", Limit: 5})
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if total != 1 || len(results) != 1 || results[0].ID != "12" || results[0].OccurredAt != 1760000000 {
		t.Fatalf("unexpected results %+v total=%d", results, total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPgFTSBlankQuery(t *testing.T) {
	results, total, err := NewPgFTS(nil).Search(Query{Text: "  "})
	if err != nil || total != 0 || results != nil {
		t.Fatalf("expected empty result, got %v %d %v", results, total, err)
	}
}

func TestHitToResultPrefersHighlights(t *testing.T) {
	raw := func(v any) json.RawMessage {
		b, _ := json.Marshal(v)
		return b
	}
	hit := meili.Hit{
		"id":               raw("5"),
		"collaborationKey": raw("k1"),
		"actionType":       raw("remark_added"),
		"description":      raw("Remark added"),
		"remark":           raw("call back friday"),
		"occurredAt":       raw(1760000000),
		"_formatted":       raw(map[string]any{"remark": "call back <mark>friday</mark>"}),
	}

	r := hitToResult(hit)
	if r.ID != "5" || r.CollaborationKey != "k1" || r.OccurredAt != 1760000000 {
		t.Fatalf("unexpected result %+v", r)
	}
	if r.Title != "Remark added" || r.Snippet != "call back <mark>friday</mark>" {
		t.Fatalf("unexpected title/snippet %+v", r)
	}
}

func TestMeiliFilters(t *testing.T) {
	got := meiliFilters(Query{CollaborationKey: "a-b-c", ActionType: "contract_sent"})
	if len(got) != 2 || got[0] != `collaborationKey = "a-b-c"` || got[1] != `actionType = "contract_sent"` {
		t.Fatalf("unexpected filters %#v", got)
	}
}
