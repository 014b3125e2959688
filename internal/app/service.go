package app

import (
	"context"
	"errors"
	"time"

	"contractflow/api/internal/auth"
	"contractflow/api/internal/blob"
	"contractflow/api/internal/config"
	"contractflow/api/internal/email"
	"contractflow/api/internal/export"
	"contractflow/api/internal/gitrepo"
	"contractflow/api/internal/identity"
	"contractflow/api/internal/logging"
	"contractflow/api/internal/rbac"
	"contractflow/api/internal/resolve"
	"contractflow/api/internal/search"
	"contractflow/api/internal/store"
	"contractflow/api/internal/util"
)

type Session struct {
	Token     string
	UserID    string
	UserName  string
	Role      string
	ExpiresAt time.Time
}

type dataStore interface {
	resolve.RecordSource
	GetContract(context.Context, string) (store.Contract, error)
	CampaignParties(context.Context, string) (string, string, error)
	SaveOverride(context.Context, store.OverrideRecord) (store.OverrideRecord, error)
	GetOverride(context.Context, string) (store.OverrideRecord, error)
	GetOverrideByShareToken(context.Context, string) (store.OverrideRecord, error)
	GetAction(context.Context, string) (store.ActionRecord, error)
	UpsertAction(context.Context, store.ActionRecord) (store.ActionRecord, error)
	MarkContractSent(context.Context, string, string) error
	SetSigned(context.Context, string, bool, string) error
	InsertTimelineEntry(context.Context, store.TimelineEntry) (store.TimelineEntry, error)
	ListTimeline(context.Context, string, int) ([]store.TimelineEntry, error)
	ClearTimeline(context.Context, string) (int64, error)
	Ping(ctx context.Context) error
}

type overrideCache interface {
	GetOverride(context.Context, string) (store.OverrideRecord, bool)
	SetOverride(context.Context, store.OverrideRecord)
	InvalidateOverride(context.Context, string)
}

type revisionStore interface {
	Commit(string, gitrepo.Content, string, string) (gitrepo.Revision, bool, error)
	History(string, int) ([]gitrepo.Revision, error)
	Get(string, string) (gitrepo.Content, gitrepo.Revision, error)
}

type mailer interface {
	IsConfigured() bool
	Send(email.Message) error
}

type exporter interface {
	Export(context.Context, export.Document, export.Format) (*export.Result, error)
}

type archive interface {
	Put(context.Context, string, string, string, []byte) (blob.Object, error)
	URL(context.Context, string, time.Duration) (string, error)
}

type timelineIndex interface {
	Search(search.Query) search.Response
	IndexTimeline(search.TimelineRecord)
	DeleteTimeline([]string)
}

type Service struct {
	cfg         config.Config
	store       dataStore
	keys        *identity.Deriver
	resolver    *resolve.Resolver
	recordCache resolve.RecordCache
	overrides   overrideCache
	revisions   revisionStore
	mail        mailer
	exporter    exporter
	archive     archive
	index       timelineIndex
	log         logging.Logger
	now         func() time.Time
	newToken    func() string
}

// Option wires an optional collaborator into the Service.
type Option func(*Service)

func WithRecordCache(c resolve.RecordCache) Option { return func(s *Service) { s.recordCache = c } }
func WithOverrideCache(c overrideCache) Option { return func(s *Service) { s.overrides = c } }
func WithRevisions(r revisionStore) Option { return func(s *Service) { s.revisions = r } }
func WithMailer(m mailer) Option { return func(s *Service) { s.mail = m } }
func WithExporter(e exporter) Option { return func(s *Service) { s.exporter = e } }
func WithArchive(a archive) Option { return func(s *Service) { s.archive = a } }
func WithSearch(i timelineIndex) Option { return func(s *Service) { s.index = i } }
func WithLogger(l logging.Logger) Option { return func(s *Service) { s.log = l } }

func New(cfg config.Config, dataStore dataStore, opts ...Option) *Service {
	s := &Service{
		cfg:      cfg,
		store:    dataStore,
		keys:     identity.NewDeriver(identity.NewGenerator(cfg.IDStrategy)),
		log:      logging.Nop(),
		now:      time.Now,
		newToken: util.NewShareToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.resolver = resolve.NewResolver(dataStore, s.recordCache)
	return s
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		Token:    token,
		UserID:   claims.Subject,
		UserName: claims.Name,
		Role:     string(rbac.Normalize(claims.Role)),
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	if session.UserName == "" {
		session.UserName = session.UserID
	}
	return session, nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// PingCache checks the override cache when it supports it. ok is false when
// no pingable cache is configured.
func (s *Service) PingCache(ctx context.Context) (ok bool, err error) {
	p, isPinger := s.overrides.(interface{ Ping(context.Context) error })
	if s.overrides == nil || !isPinger {
		return false, nil
	}
	return true, p.Ping(ctx)
}

// CollaborationRef names the natural identifiers of one negotiation.
type CollaborationRef struct {
	CampaignID   string `json:"campaignId"`
	InfluencerID string `json:"influencerId"`
	ContractID   string `json:"contractId"`
}

func (s *Service) DeriveKey(ref CollaborationRef) (identity.Key, error) {
	key, err := s.keys.Derive(ref.CampaignID, ref.InfluencerID, ref.ContractID)
	switch {
	case errors.Is(err, identity.ErrMissingCampaign):
		return identity.Key{}, validationError("campaignId is required", map[string]any{"field": "campaignId"})
	case errors.Is(err, identity.ErrMissingInfluencer):
		return identity.Key{}, validationError("influencerId is required", map[string]any{"field": "influencerId"})
	case err != nil:
		return identity.Key{}, err
	}
	return key, nil
}

// loadOverride reads the stored rendering through the cache. A malformed
// stored variable map is treated as absent.
func (s *Service) loadOverride(ctx context.Context, key string) (store.OverrideRecord, bool, error) {
	if s.overrides != nil {
		if rec, ok := s.overrides.GetOverride(ctx, key); ok {
			return rec, true, nil
		}
	}
	rec, err := s.store.GetOverride(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return store.OverrideRecord{}, false, nil
	case errors.Is(err, store.ErrMalformed):
		s.log.Warn(ctx, "stored override variables malformed", "collaboration_key", key, "error", err)
		rec.Variables = map[string]*string{}
		return rec, true, nil
	case err != nil:
		return store.OverrideRecord{}, false, err
	}
	if s.overrides != nil {
		s.overrides.SetOverride(ctx, rec)
	}
	return rec, true, nil
}

func (s *Service) saveOverride(ctx context.Context, rec store.OverrideRecord) (store.OverrideRecord, error) {
	if rec.ShareToken == "" {
		rec.ShareToken = s.newToken()
	}
	saved, err := s.store.SaveOverride(ctx, rec)
	if err != nil {
		return store.OverrideRecord{}, err
	}
	if s.overrides != nil {
		s.overrides.InvalidateOverride(ctx, saved.CollaborationKey)
		s.overrides.SetOverride(ctx, saved)
	}
	return saved, nil
}

func (s *Service) shareURL(token string) string {
	return email.ShareURL(s.cfg.ShareOrigin, token)
}
