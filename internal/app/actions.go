package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"contractflow/api/internal/store"
)

var allowedActions = map[string]struct{}{
	store.ActionNone:          {},
	store.ActionInterested:    {},
	store.ActionNotInterested: {},
	store.ActionCallback:      {},
	store.ActionDone:          {},
}

var actionLabels = map[string]string{
	store.ActionNone:          "No action",
	store.ActionInterested:    "Interested",
	store.ActionNotInterested: "Not interested",
	store.ActionCallback:      "Callback",
	store.ActionDone:          "Done",
}

// ActionInput is a submitted disposition. A callback needs CallbackAt, or
// both CallbackDate (YYYY-MM-DD) and CallbackTime (HH:MM, UTC).
type ActionInput struct {
	Action       string     `json:"action"`
	Remark       string     `json:"remark"`
	CallbackAt   *time.Time `json:"callbackAt"`
	CallbackDate string     `json:"callbackDate"`
	CallbackTime string     `json:"callbackTime"`
}

// ActionState is the API shape of an action record.
type ActionState struct {
	CollaborationKey string     `json:"collaborationKey"`
	Action           string     `json:"action"`
	Remark           string     `json:"remark"`
	CallbackAt       *time.Time `json:"callbackAt,omitempty"`
	OccurredAt       *time.Time `json:"occurredAt,omitempty"`
	IsContractSent   bool       `json:"isContractSent"`
	IsSigned         bool       `json:"isSigned"`
}

// ActionResult reports whether a submission changed anything.
type ActionResult struct {
	Action   ActionState `json:"action"`
	Changed  bool        `json:"changed"`
	Warnings []string    `json:"warnings,omitempty"`
}

func toActionState(key string, rec store.ActionRecord) ActionState {
	state := ActionState{
		CollaborationKey: key,
		Action:           rec.Action,
		Remark:           rec.Remark,
		CallbackAt:       rec.CallbackAt,
		IsContractSent:   rec.IsContractSent,
		IsSigned:         rec.IsSigned,
	}
	if !rec.OccurredAt.IsZero() {
		occurred := rec.OccurredAt
		state.OccurredAt = &occurred
	}
	return state
}

func normalizeActionInput(in ActionInput) (ActionInput, error) {
	in.Action = strings.ToLower(strings.TrimSpace(in.Action))
	in.Remark = strings.TrimSpace(in.Remark)
	if _, ok := allowedActions[in.Action]; !ok {
		return in, validationError("Unknown action", map[string]any{"field": "action", "value": in.Action})
	}
	if in.Action != store.ActionCallback {
		in.CallbackAt = nil
		return in, nil
	}

	if in.CallbackAt == nil {
		date, clock := strings.TrimSpace(in.CallbackDate), strings.TrimSpace(in.CallbackTime)
		if date == "" || clock == "" {
			return in, validationError("A callback needs a date and a time", map[string]any{"field": "callbackAt"})
		}
		at, err := time.Parse("2006-01-02 15:04", date+" "+clock)
		if err != nil {
			return in, validationError("Callback date or time is invalid", map[string]any{"field": "callbackAt"})
		}
		in.CallbackAt = &at
	}
	at := in.CallbackAt.UTC().Truncate(time.Minute)
	in.CallbackAt = &at
	return in, nil
}

func sameCallback(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func (s *Service) currentAction(ctx context.Context, key string) (store.ActionRecord, error) {
	rec, err := s.store.GetAction(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return store.ActionRecord{CollaborationKey: key}, nil
	}
	return rec, err
}

func (s *Service) GetAction(ctx context.Context, key string) (ActionState, error) {
	rec, err := s.currentAction(ctx, key)
	if err != nil {
		return ActionState{}, err
	}
	return toActionState(key, rec), nil
}

// SubmitAction stores a new disposition when it differs from the saved one
// and logs it on the timeline.
func (s *Service) SubmitAction(ctx context.Context, session Session, key string, in ActionInput) (ActionResult, error) {
	in, err := normalizeActionInput(in)
	if err != nil {
		return ActionResult{}, err
	}

	current, err := s.currentAction(ctx, key)
	if err != nil {
		return ActionResult{}, err
	}
	if current.Action == in.Action && current.Remark == in.Remark && sameCallback(current.CallbackAt, in.CallbackAt) {
		return ActionResult{Action: toActionState(key, current), Changed: false}, nil
	}

	saved, err := s.store.UpsertAction(ctx, store.ActionRecord{
		CollaborationKey: key,
		Action:           in.Action,
		Remark:           in.Remark,
		CallbackAt:       in.CallbackAt,
		OccurredAt:       s.now().UTC(),
		UpdatedBy:        session.UserID,
	})
	if err != nil {
		return ActionResult{}, err
	}

	description := "Action set to " + actionLabels[in.Action]
	metadata := map[string]any{"previousAction": current.Action}
	if in.CallbackAt != nil {
		description += fmt.Sprintf(" for %s", in.CallbackAt.Format("2006-01-02 15:04 UTC"))
		metadata["callbackAt"] = in.CallbackAt.Format(time.RFC3339)
	}
	warnings := s.appendTimeline(ctx, store.TimelineEntry{
		CollaborationKey: key,
		ActionType:       store.TimelineActionTaken,
		Description:      description,
		Remark:           strPtr(in.Remark),
		Action:           strPtr(in.Action),
		ActorID:          session.UserID,
		Metadata:         metadata,
	})
	return ActionResult{Action: toActionState(key, saved), Changed: true, Warnings: warnings}, nil
}

// MarkSigned flips the signed flag and records the status change.
func (s *Service) MarkSigned(ctx context.Context, session Session, key string, signed bool) (ActionResult, error) {
	current, err := s.currentAction(ctx, key)
	if err != nil {
		return ActionResult{}, err
	}
	if current.IsSigned == signed {
		return ActionResult{Action: toActionState(key, current), Changed: false}, nil
	}
	if err := s.store.SetSigned(ctx, key, signed, session.UserID); err != nil {
		return ActionResult{}, err
	}
	current.IsSigned = signed

	description := "Contract marked as signed"
	if !signed {
		description = "Contract marked as not signed"
	}
	warnings := s.appendTimeline(ctx, store.TimelineEntry{
		CollaborationKey: key,
		ActionType:       store.TimelineStatusChanged,
		Description:      description,
		ActorID:          session.UserID,
		Metadata:         map[string]any{"isSigned": signed},
	})
	return ActionResult{Action: toActionState(key, current), Changed: true, Warnings: warnings}, nil
}

// AddRemark appends a free-form note to the timeline.
func (s *Service) AddRemark(ctx context.Context, session Session, key, remark string) (TimelineItem, error) {
	remark = strings.TrimSpace(remark)
	if remark == "" {
		return TimelineItem{}, validationError("Remark is required", map[string]any{"field": "remark"})
	}
	entry, err := s.store.InsertTimelineEntry(ctx, store.TimelineEntry{
		CollaborationKey: key,
		ActionType:       store.TimelineRemarkAdded,
		Description:      "Remark added",
		Remark:           &remark,
		ActorID:          session.UserID,
		Metadata:         map[string]any{},
	})
	if err != nil {
		return TimelineItem{}, err
	}
	if s.index != nil {
		s.index.IndexTimeline(toSearchRecord(entry))
	}
	return toTimelineItem(entry), nil
}
