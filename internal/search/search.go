// Package search indexes collaboration timeline entries for full-text
// lookup. Meilisearch is preferred; PostgreSQL full-text search is the
// fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	ID               string `json:"id"`
	CollaborationKey string `json:"collaborationKey"`
	ActionType       string `json:"actionType"`
	Title            string `json:"title"`
	Snippet          string `json:"snippet"`
	OccurredAt       int64  `json:"occurredAt"`
}

// Query describes a search request.
type Query struct {
	Text             string
	CollaborationKey string // empty = all collaborations
	ActionType       string // empty = all types
	Limit            int
	Offset           int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// TimelineRecord is the data we index for a timeline entry.
type TimelineRecord struct {
	ID               string `json:"id"`
	CollaborationKey string `json:"collaborationKey"`
	ActionType       string `json:"actionType"`
	Description      string `json:"description"`
	Remark           string `json:"remark"`
	Action           string `json:"action"`
	ActorID          string `json:"actorId"`
	OccurredAt       int64  `json:"occurredAt"`
}
