package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"contractflow/api/internal/email"
	"contractflow/api/internal/export"
	"contractflow/api/internal/gitrepo"
	"contractflow/api/internal/identity"
	"contractflow/api/internal/placeholder"
	"contractflow/api/internal/render"
	"contractflow/api/internal/resolve"
	"contractflow/api/internal/store"
)

// RenderInput asks for the contract of one collaboration. TemplateHTML and
// DeclaredVariables override the linked contract's template when set.
type RenderInput struct {
	CollaborationRef
	CompanyID         string              `json:"companyId"`
	UserID            string              `json:"userId"`
	TemplateHTML      string              `json:"templateHtml"`
	DeclaredVariables map[string][]string `json:"declaredVariables"`
	Overrides         map[string]string   `json:"overrides"`
}

// RenderResult is a rendered contract, saved or not.
type RenderResult struct {
	Key        identity.Key       `json:"key"`
	HTML       string             `json:"renderedHtml"`
	Entries    []*resolve.Entry   `json:"entries"`
	Variables  map[string]*string `json:"variables"`
	Unresolved []string           `json:"unresolved"`
	Misses     []resolve.Miss     `json:"misses,omitempty"`
	Saved      bool               `json:"saved"`
	ShareToken string             `json:"shareToken,omitempty"`
	ShareURL   string             `json:"shareUrl,omitempty"`
	Revision   *gitrepo.Revision  `json:"revision,omitempty"`
	Warnings   []string           `json:"warnings,omitempty"`
}

type rendering struct {
	plan   resolve.Plan
	out    render.Result
	misses []resolve.Miss
}

func (s *Service) renderDocument(ctx context.Context, doc string, subject resolve.Subject, declared map[string][]string, overrides map[string]string) rendering {
	doc = render.Normalize(doc)
	tokens := placeholder.Parse(doc)
	resolved := s.resolver.Resolve(ctx, subject, tokens, declared)
	for _, miss := range resolved.Misses {
		s.log.Info(ctx, "placeholder unresolved", "name", miss.Name, "descriptor", miss.Descriptor, "reason", miss.Reason)
	}
	plan := resolve.Assign(tokens, resolved.Entries, overrides)
	return rendering{plan: plan, out: render.Render(doc, plan), misses: resolved.Misses}
}

// Preview renders without saving.
func (s *Service) Preview(ctx context.Context, in RenderInput) (RenderResult, error) {
	return s.renderContract(ctx, Session{}, in, false)
}

// Render renders the contract and saves it as the collaboration's single
// source of truth.
func (s *Service) Render(ctx context.Context, session Session, in RenderInput) (RenderResult, error) {
	return s.renderContract(ctx, session, in, true)
}

func (s *Service) renderContract(ctx context.Context, session Session, in RenderInput, save bool) (RenderResult, error) {
	key, err := s.DeriveKey(in.CollaborationRef)
	if err != nil {
		return RenderResult{}, err
	}

	templateHTML, declared, err := s.templateFor(ctx, in)
	if err != nil {
		return RenderResult{}, err
	}
	subject := s.subjectFor(ctx, in)

	prior, found, err := s.loadOverride(ctx, key.Composite)
	if err != nil {
		return RenderResult{}, err
	}
	overrides := resolve.Overrides(prior.Variables)
	for occurrence, value := range in.Overrides {
		if value == "" {
			delete(overrides, occurrence)
			continue
		}
		overrides[occurrence] = value
	}

	r := s.renderDocument(ctx, templateHTML, subject, declared, overrides)
	result := RenderResult{
		Key:        key,
		HTML:       r.out.HTML,
		Entries:    r.plan.Entries,
		Variables:  r.plan.Variables(),
		Unresolved: nonNilStrings(r.out.Unresolved),
		Misses:     r.misses,
	}
	if result.Entries == nil {
		result.Entries = []*resolve.Entry{}
	}
	if !save {
		return result, nil
	}

	saved, err := s.saveOverride(ctx, store.OverrideRecord{
		CollaborationKey: key.Composite,
		CampaignKey:      key.Campaign,
		InfluencerKey:    key.Influencer,
		ContractKey:      key.Contract,
		Variables:        result.Variables,
		RenderedHTML:     result.HTML,
		ShareToken:       prior.ShareToken,
	})
	if err != nil {
		return RenderResult{}, err
	}
	result.Saved = true
	result.ShareToken = saved.ShareToken
	result.ShareURL = s.shareURL(saved.ShareToken)

	var before map[string]*string
	if found {
		before = prior.Variables
	}
	changed := gitrepo.ChangedVariables(before, result.Variables)
	result.Revision = s.commitRevision(ctx, session, saved, fmt.Sprintf("Render contract (%d variables changed)", len(changed)))
	result.Warnings = s.appendTimeline(ctx, store.TimelineEntry{
		CollaborationKey: key.Composite,
		ActionType:       store.TimelineContractUpdated,
		Description:      fmt.Sprintf("Contract rendered, %d variables updated", len(changed)),
		ActorID:          session.UserID,
		Metadata: map[string]any{
			"variablesTouched": len(changed),
			"occurrenceKeys":   changed,
			"unresolved":       result.Unresolved,
		},
	})
	return result, nil
}

func (s *Service) templateFor(ctx context.Context, in RenderInput) (string, map[string][]string, error) {
	if strings.TrimSpace(in.TemplateHTML) != "" {
		return in.TemplateHTML, in.DeclaredVariables, nil
	}
	if strings.TrimSpace(in.ContractID) == "" {
		return "", nil, validationError("contractId or templateHtml is required", map[string]any{"field": "contractId"})
	}
	contract, err := s.store.GetContract(ctx, in.ContractID)
	if errors.Is(err, store.ErrNotFound) {
		return "", nil, notFound("Contract not found")
	}
	if err != nil {
		return "", nil, err
	}

	declared := make(map[string][]string, len(contract.DeclaredVariables)+len(in.DeclaredVariables))
	for name, descs := range contract.DeclaredVariables {
		declared[name] = append(declared[name], descs...)
	}
	for name, descs := range in.DeclaredVariables {
		declared[name] = append(declared[name], descs...)
	}
	return contract.TemplateHTML, declared, nil
}

func (s *Service) subjectFor(ctx context.Context, in RenderInput) resolve.Subject {
	subject := resolve.Subject{
		CampaignID:   in.CampaignID,
		InfluencerID: in.InfluencerID,
		ContractID:   in.ContractID,
		CompanyID:    in.CompanyID,
		UserID:       in.UserID,
	}
	if subject.CompanyID != "" && subject.UserID != "" {
		return subject
	}
	companyID, userID, err := s.store.CampaignParties(ctx, in.CampaignID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Warn(ctx, "campaign parties lookup failed", "campaign_id", in.CampaignID, "error", err)
		}
		return subject
	}
	if subject.CompanyID == "" {
		subject.CompanyID = companyID
	}
	if subject.UserID == "" {
		subject.UserID = userID
	}
	return subject
}

func (s *Service) commitRevision(ctx context.Context, session Session, rec store.OverrideRecord, message string) *gitrepo.Revision {
	if s.revisions == nil {
		return nil
	}
	author := session.UserName
	if author == "" {
		author = session.UserID
	}
	rev, _, err := s.revisions.Commit(rec.CollaborationKey, gitrepo.Content{HTML: rec.RenderedHTML, Variables: rec.Variables}, author, message)
	if err != nil {
		s.log.Warn(ctx, "revision commit failed", "collaboration_key", rec.CollaborationKey, "error", err)
		return nil
	}
	return &rev
}

// SetVariable sets or clears one editable occurrence and re-renders the
// stored document.
func (s *Service) SetVariable(ctx context.Context, session Session, key, occurrenceKey, value string) (RenderResult, error) {
	occurrenceKey = strings.TrimSpace(occurrenceKey)
	prior, found, err := s.loadOverride(ctx, key)
	if err != nil {
		return RenderResult{}, err
	}
	if !found {
		return RenderResult{}, notFound("Render the contract before editing its variables")
	}

	overrides := resolve.Overrides(prior.Variables)
	if value == "" {
		delete(overrides, occurrenceKey)
	} else {
		overrides[occurrenceKey] = value
	}

	r := s.renderDocument(ctx, prior.RenderedHTML, resolve.Subject{}, nil, overrides)
	if !editableOccurrence(r.plan, occurrenceKey) {
		return RenderResult{}, validationError("Unknown editable occurrence", map[string]any{"occurrenceKey": occurrenceKey})
	}

	// Values baked into the document stay in the variable map.
	vars := make(map[string]*string, len(prior.Variables))
	for k, v := range prior.Variables {
		vars[k] = v
	}
	for k, v := range r.plan.Variables() {
		vars[k] = v
	}

	saved, err := s.saveOverride(ctx, store.OverrideRecord{
		CollaborationKey: prior.CollaborationKey,
		CampaignKey:      prior.CampaignKey,
		InfluencerKey:    prior.InfluencerKey,
		ContractKey:      prior.ContractKey,
		Variables:        vars,
		RenderedHTML:     r.out.HTML,
		ShareToken:       prior.ShareToken,
	})
	if err != nil {
		return RenderResult{}, err
	}

	result := RenderResult{
		Key: identity.Key{
			Campaign:   saved.CampaignKey,
			Influencer: saved.InfluencerKey,
			Contract:   saved.ContractKey,
			Composite:  saved.CollaborationKey,
		},
		HTML:       saved.RenderedHTML,
		Entries:    r.plan.Entries,
		Variables:  saved.Variables,
		Unresolved: nonNilStrings(r.out.Unresolved),
		Saved:      true,
		ShareToken: saved.ShareToken,
		ShareURL:   s.shareURL(saved.ShareToken),
	}

	description := "Updated " + occurrenceKey
	if value == "" {
		description = "Cleared " + occurrenceKey
	}
	result.Revision = s.commitRevision(ctx, session, saved, description)
	result.Warnings = append(result.Warnings, s.appendTimeline(ctx, store.TimelineEntry{
		CollaborationKey: key,
		ActionType:       store.TimelineVariableUpdated,
		Description:      description,
		ActorID:          session.UserID,
		Metadata: map[string]any{
			"occurrenceKey": occurrenceKey,
			"cleared":       value == "",
			"image":         render.IsImage(value),
		},
	})...)
	result.Warnings = append(result.Warnings, s.appendTimeline(ctx, store.TimelineEntry{
		CollaborationKey: key,
		ActionType:       store.TimelineContractUpdated,
		Description:      "Contract re-rendered, 1 variable updated",
		ActorID:          session.UserID,
		Metadata: map[string]any{
			"variablesTouched": 1,
			"occurrenceKeys":   []string{occurrenceKey},
		},
	})...)
	return result, nil
}

func editableOccurrence(plan resolve.Plan, occurrenceKey string) bool {
	for _, slot := range plan.Slots {
		if slot.Entry != nil && slot.Entry.Editable && slot.Entry.OccurrenceKey == occurrenceKey {
			return true
		}
	}
	return false
}

// ContractView is a stored rendering as shown to a signed-in user.
type ContractView struct {
	CollaborationKey string             `json:"collaborationKey"`
	HTML             string             `json:"renderedHtml"`
	Variables        map[string]*string `json:"variables"`
	ShareURL         string             `json:"shareUrl"`
	Action           ActionState        `json:"action"`
	UpdatedAt        time.Time          `json:"updatedAt"`
	Warnings         []string           `json:"warnings,omitempty"`
}

func (s *Service) ViewContract(ctx context.Context, session Session, key string) (ContractView, error) {
	rec, found, err := s.loadOverride(ctx, key)
	if err != nil {
		return ContractView{}, err
	}
	if !found {
		return ContractView{}, notFound("Contract has not been rendered yet")
	}
	action, err := s.GetAction(ctx, key)
	if err != nil {
		return ContractView{}, err
	}
	warnings := s.appendTimeline(ctx, store.TimelineEntry{
		CollaborationKey: key,
		ActionType:       store.TimelineContractViewed,
		Description:      "Contract viewed",
		ActorID:          session.UserID,
		Metadata:         map[string]any{"via": "app"},
	})
	return ContractView{
		CollaborationKey: key,
		HTML:             rec.RenderedHTML,
		Variables:        rec.Variables,
		ShareURL:         s.shareURL(rec.ShareToken),
		Action:           action,
		UpdatedAt:        rec.UpdatedAt,
		Warnings:         warnings,
	}, nil
}

// ViewSharedContract returns the standalone page behind a share link.
// Possession of the token is the only access check.
func (s *Service) ViewSharedContract(ctx context.Context, token string) (string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", notFound("Contract not found")
	}
	rec, err := s.store.GetOverrideByShareToken(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", notFound("Contract not found")
	}
	if err != nil && !errors.Is(err, store.ErrMalformed) {
		return "", err
	}
	s.appendTimeline(ctx, store.TimelineEntry{
		CollaborationKey: rec.CollaborationKey,
		ActionType:       store.TimelineContractViewed,
		Description:      "Contract viewed through share link",
		ActorID:          "share-link",
		Metadata:         map[string]any{"via": "share_link"},
	})
	return render.Standalone("Contract", rec.RenderedHTML), nil
}

// SendInput addresses the share message. With no recipient the contract is
// only marked as sent and the link returned.
type SendInput struct {
	To            string `json:"to"`
	RecipientName string `json:"recipientName"`
	Title         string `json:"title"`
	Note          string `json:"note"`
}

type SendResult struct {
	ShareURL string      `json:"shareUrl"`
	Emailed  bool        `json:"emailed"`
	Action   ActionState `json:"action"`
	Warnings []string    `json:"warnings,omitempty"`
}

func (s *Service) SendContract(ctx context.Context, session Session, key string, in SendInput) (SendResult, error) {
	rec, found, err := s.loadOverride(ctx, key)
	if err != nil {
		return SendResult{}, err
	}
	if !found || rec.ShareToken == "" {
		return SendResult{}, domainError(http.StatusConflict, CodeShareTokenMissing,
			"This contract has no share link yet. Render and save the contract, then send it again.", nil)
	}

	link := s.shareURL(rec.ShareToken)
	to := strings.TrimSpace(in.To)
	emailed := false
	if to != "" {
		if s.mail == nil || !s.mail.IsConfigured() {
			return SendResult{}, domainError(http.StatusServiceUnavailable, CodeEmailUnavailable, "Email is not configured", nil)
		}
		msg, err := email.ComposeShare(to, email.ShareData{
			RecipientName: in.RecipientName,
			SenderName:    session.UserName,
			ContractTitle: in.Title,
			ShareURL:      link,
			Note:          in.Note,
		})
		if err != nil {
			return SendResult{}, validationError(err.Error(), map[string]any{"field": "to"})
		}
		if err := s.mail.Send(msg); err != nil {
			s.log.Error(ctx, "share email failed", "collaboration_key", key, "error", err)
			return SendResult{}, domainError(http.StatusServiceUnavailable, CodeEmailUnavailable, "The email could not be sent", nil)
		}
		emailed = true
	}

	if err := s.store.MarkContractSent(ctx, key, session.UserID); err != nil {
		return SendResult{}, err
	}
	action, err := s.GetAction(ctx, key)
	if err != nil {
		return SendResult{}, err
	}

	metadata := map[string]any{"shareUrl": link, "emailed": emailed}
	if to != "" {
		metadata["recipient"] = to
	}
	warnings := s.appendTimeline(ctx, store.TimelineEntry{
		CollaborationKey: key,
		ActionType:       store.TimelineContractSent,
		Description:      "Contract sent",
		ActorID:          session.UserID,
		Metadata:         metadata,
	})
	return SendResult{ShareURL: link, Emailed: emailed, Action: action, Warnings: warnings}, nil
}

// ExportResult is an exported file and, when archived, its storage key and
// a presigned download link.
type ExportResult struct {
	*export.Result
	ArchiveKey string
	ArchiveURL string
}

const (
	exportActivityLimit = 50
	archiveLinkTTL      = 15 * time.Minute
)

func (s *Service) Export(ctx context.Context, session Session, key string, format export.Format, title string) (ExportResult, error) {
	if s.exporter == nil {
		return ExportResult{}, domainError(http.StatusServiceUnavailable, CodeExportUnavailable, "Export is not configured", nil)
	}
	rec, found, err := s.loadOverride(ctx, key)
	if err != nil {
		return ExportResult{}, err
	}
	if !found {
		return ExportResult{}, notFound("Contract has not been rendered yet")
	}
	action, err := s.currentAction(ctx, key)
	if err != nil {
		return ExportResult{}, err
	}
	entries, err := s.store.ListTimeline(ctx, key, exportActivityLimit)
	if err != nil {
		s.log.Warn(ctx, "export timeline load failed", "collaboration_key", key, "error", err)
	}

	doc := export.Document{
		CollaborationKey: key,
		Title:            title,
		RenderedHTML:     rec.RenderedHTML,
		Action:           action.Action,
		IsContractSent:   action.IsContractSent,
		IsSigned:         action.IsSigned,
		UpdatedAt:        rec.UpdatedAt,
	}
	for _, e := range entries {
		doc.Activity = append(doc.Activity, export.Activity{When: e.OccurredAt, Type: e.ActionType, Description: e.Description, Actor: e.ActorID})
	}

	res, err := s.exporter.Export(ctx, doc, format)
	switch {
	case errors.Is(err, export.ErrPDFDependencyMissing), errors.Is(err, export.ErrDOCXDependencyMissing):
		return ExportResult{}, domainError(http.StatusServiceUnavailable, CodeExportUnavailable, "Export tooling is not installed", map[string]any{"format": format})
	case errors.Is(err, export.ErrUnsupportedFormat):
		return ExportResult{}, validationError("Unsupported export format", map[string]any{"format": format})
	case errors.Is(err, export.ErrContentUnavailable):
		return ExportResult{}, notFound("Contract has no content to export")
	case err != nil:
		return ExportResult{}, err
	}

	out := ExportResult{Result: res}
	if s.archive != nil {
		obj, err := s.archive.Put(ctx, key, res.Filename, res.MimeType, res.Data)
		if err != nil {
			s.log.Warn(ctx, "export archive failed", "collaboration_key", key, "error", err)
		} else {
			out.ArchiveKey = obj.Key
			if link, err := s.archive.URL(ctx, obj.Key, archiveLinkTTL); err != nil {
				s.log.Warn(ctx, "export archive link failed", "object_key", obj.Key, "error", err)
			} else {
				out.ArchiveURL = link
			}
		}
	}
	s.log.Info(ctx, "contract exported", "collaboration_key", key, "format", format, "actor", session.UserID, "bytes", len(res.Data))
	return out, nil
}

func (s *Service) Revisions(_ context.Context, key string) ([]gitrepo.Revision, error) {
	if s.revisions == nil {
		return []gitrepo.Revision{}, nil
	}
	items, err := s.revisions.History(key, 100)
	if errors.Is(err, gitrepo.ErrInvalidCollabKey) {
		return nil, notFound("Collaboration not found")
	}
	return items, err
}

// RevisionView is one past rendering.
type RevisionView struct {
	Revision  gitrepo.Revision   `json:"revision"`
	HTML      string             `json:"renderedHtml"`
	Variables map[string]*string `json:"variables"`
}

func (s *Service) Revision(_ context.Context, key, hash string) (RevisionView, error) {
	if s.revisions == nil {
		return RevisionView{}, notFound("Revision not found")
	}
	content, rev, err := s.revisions.Get(key, hash)
	if errors.Is(err, gitrepo.ErrRevisionNotFound) || errors.Is(err, gitrepo.ErrInvalidCollabKey) {
		return RevisionView{}, notFound("Revision not found")
	}
	if err != nil {
		return RevisionView{}, err
	}
	return RevisionView{Revision: rev, HTML: content.HTML, Variables: content.Variables}, nil
}

func nonNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
