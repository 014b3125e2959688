package app

import (
	"context"
	"strconv"
	"strings"
	"time"

	"contractflow/api/internal/search"
	"contractflow/api/internal/store"
)

const timelineWarning = "The action was saved but could not be added to the timeline."

// TimelineItem is the API shape of a timeline entry.
type TimelineItem struct {
	ID               int64          `json:"id"`
	CollaborationKey string         `json:"collaborationKey"`
	ActionType       string         `json:"actionType"`
	Description      string         `json:"description"`
	Remark           *string        `json:"remark,omitempty"`
	Action           *string        `json:"action,omitempty"`
	OccurredAt       time.Time      `json:"occurredAt"`
	ActorID          string         `json:"actorId"`
	Metadata         map[string]any `json:"metadata"`
}

func toTimelineItem(e store.TimelineEntry) TimelineItem {
	return TimelineItem{
		ID:               e.ID,
		CollaborationKey: e.CollaborationKey,
		ActionType:       e.ActionType,
		Description:      e.Description,
		Remark:           e.Remark,
		Action:           e.Action,
		OccurredAt:       e.OccurredAt,
		ActorID:          e.ActorID,
		Metadata:         e.Metadata,
	}
}

// appendTimeline records an event after the primary write succeeded. A
// failure is logged and returned as a user-facing warning.
func (s *Service) appendTimeline(ctx context.Context, entry store.TimelineEntry) []string {
	saved, err := s.store.InsertTimelineEntry(ctx, entry)
	if err != nil {
		s.log.Warn(ctx, "timeline append failed",
			"collaboration_key", entry.CollaborationKey,
			"action_type", entry.ActionType,
			"error", err,
		)
		return []string{timelineWarning}
	}
	if s.index != nil {
		s.index.IndexTimeline(toSearchRecord(saved))
	}
	return nil
}

func toSearchRecord(e store.TimelineEntry) search.TimelineRecord {
	rec := search.TimelineRecord{
		ID:               strconv.FormatInt(e.ID, 10),
		CollaborationKey: e.CollaborationKey,
		ActionType:       e.ActionType,
		Description:      e.Description,
		ActorID:          e.ActorID,
		OccurredAt:       e.OccurredAt.Unix(),
	}
	if e.Remark != nil {
		rec.Remark = *e.Remark
	}
	if e.Action != nil {
		rec.Action = *e.Action
	}
	return rec
}

func (s *Service) Timeline(ctx context.Context, key string, limit int) ([]TimelineItem, error) {
	entries, err := s.store.ListTimeline(ctx, key, limit)
	if err != nil {
		return nil, err
	}
	items := make([]TimelineItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, toTimelineItem(e))
	}
	return items, nil
}

// clearScanLimit bounds how many entry ids are collected for index removal.
const clearScanLimit = 10000

// ClearTimeline deletes every entry of one collaboration. It is the only
// delete path for timeline entries.
func (s *Service) ClearTimeline(ctx context.Context, session Session, key string) (int64, error) {
	var ids []string
	if s.index != nil {
		entries, err := s.store.ListTimeline(ctx, key, clearScanLimit)
		if err != nil {
			return 0, err
		}
		for _, e := range entries {
			ids = append(ids, strconv.FormatInt(e.ID, 10))
		}
	}

	deleted, err := s.store.ClearTimeline(ctx, key)
	if err != nil {
		return 0, err
	}
	if s.index != nil {
		s.index.DeleteTimeline(ids)
	}
	s.log.Info(ctx, "timeline cleared", "collaboration_key", key, "deleted", deleted, "actor", session.UserID)
	return deleted, nil
}

func (s *Service) SearchTimeline(q search.Query) search.Response {
	q.Text = strings.TrimSpace(q.Text)
	if s.index == nil || q.Text == "" {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.index.Search(q)
}

func strPtr(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
