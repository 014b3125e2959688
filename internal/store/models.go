package store

import "time"

// Contract is a template document with its declared variable sources.
type Contract struct {
	ID                string
	Name              string
	TemplateHTML      string
	DeclaredVariables map[string][]string
	UpdatedAt         time.Time
}

// OverrideRecord is the persisted rendering of one collaboration. Variables
// and RenderedHTML are always written together.
type OverrideRecord struct {
	CollaborationKey string
	CampaignKey      string
	InfluencerKey    string
	ContractKey      string
	Variables        map[string]*string
	RenderedHTML     string
	ShareToken       string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

const (
	ActionNone          = ""
	ActionInterested    = "interested"
	ActionNotInterested = "not_interested"
	ActionCallback      = "callback"
	ActionDone          = "done"
)

// ActionRecord is the latest disposition of a collaboration.
type ActionRecord struct {
	CollaborationKey string
	Action           string
	Remark           string
	CallbackAt       *time.Time
	OccurredAt       time.Time
	IsContractSent   bool
	IsSigned         bool
	UpdatedBy        string
}

const (
	TimelineActionTaken     = "action_taken"
	TimelineRemarkAdded     = "remark_added"
	TimelineContractSent    = "contract_sent"
	TimelineContractViewed  = "contract_viewed"
	TimelineContractUpdated = "contract_updated"
	TimelineVariableUpdated = "variable_updated"
	TimelineStatusChanged   = "status_changed"
)

type TimelineEntry struct {
	ID               int64
	CollaborationKey string
	ActionType       string
	Description      string
	Remark           *string
	Action           *string
	OccurredAt       time.Time
	ActorID          string
	Metadata         map[string]any
}
