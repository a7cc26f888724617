package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"policydesk/api/internal/auth"
	"policydesk/api/internal/cache"
	"policydesk/api/internal/config"
	"policydesk/api/internal/content"
	"policydesk/api/internal/store"
	"policydesk/api/internal/util"
)

const (
	defaultTitle       = "Untitled policy"
	defaultOwner       = "Policy & Governance Office"
	initialChangeNotes = "Initial draft created"
	slugFallback       = "legal-document"
	timelineLimit      = 8
)

const timelineTimeFormat = "Jan 2, 2006 3:04 PM"

type Session struct {
	Token     string
	UserID    string
	UserName  string
	JTI       string
	ExpiresAt time.Time
}

// DocumentPayload is the editor-facing input for every workflow operation.
// Metadata fields are pointers so a patch can tell "absent" from "blank".
type DocumentPayload struct {
	Slug          string                    `json:"slug"`
	Title         *string                   `json:"title"`
	Summary       *string                   `json:"summary"`
	HeroImageURL  *string                   `json:"heroImageUrl"`
	ContactEmail  *string                   `json:"contactEmail"`
	ContactPhone  *string                   `json:"contactPhone"`
	ContactURL    *string                   `json:"contactUrl"`
	Owner         *string                   `json:"owner"`
	ReviewCadence *string                   `json:"reviewCadence"`
	ChangeNotes   *string                   `json:"changeNotes"`
	Metadata      map[string]any            `json:"metadata"`
	Hero          content.HeroInput         `json:"hero"`
	Contact       content.ContactInput      `json:"contact"`
	Sections      []content.SectionInput    `json:"sections"`
	Attachments   []content.AttachmentInput `json:"attachments"`
}

type dataStore interface {
	InTx(ctx context.Context, fn func(store.TxOps) error) error
	ListDocuments(context.Context) ([]store.Document, error)
	GetDocumentBySlug(context.Context, string) (store.Document, error)
	ListVersions(context.Context, string) ([]store.Version, error)
	LatestVersionsByStatus(context.Context, string) (map[string]store.Version, error)
	RecentVersions(context.Context, int) ([]store.TimelineVersion, error)
	SummaryCounts(context.Context) (int, int, error)
	Ping(ctx context.Context) error
}

type publishedCache interface {
	Get(ctx context.Context, slug string) ([]byte, bool, error)
	Set(ctx context.Context, slug string, payload []byte) error
	Invalidate(ctx context.Context, slug string) error
}

type Service struct {
	cfg   config.Config
	store dataStore
	cache publishedCache
}

func New(cfg config.Config, dataStore *store.PostgresStore) *Service {
	return &Service{cfg: cfg, store: dataStore}
}

func NewWithCache(cfg config.Config, dataStore *store.PostgresStore, publishedCache *cache.PublishedCache) *Service {
	return &Service{cfg: cfg, store: dataStore, cache: publishedCache}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// ── Sessions ──

func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "Editor"
	}

	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	userID := util.NewID("usr")
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  userID,
		Name: userName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    userID,
		UserName:  userName,
		JTI:       jti,
		ExpiresAt: expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

// ── Projections ──

// ListSummary builds the admin dashboard view: per-document status labels
// and health, the recent activity timeline, and aggregate counts. Unknown
// timezone names degrade to UTC rather than failing the listing.
func (s *Service) ListSummary(ctx context.Context, timezone string) (map[string]any, error) {
	loc := time.UTC
	if trimmed := strings.TrimSpace(timezone); trimmed != "" {
		if parsed, err := time.LoadLocation(trimmed); err == nil {
			loc = parsed
		}
	}

	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return nil, err
	}
	publishedByDoc, err := s.store.LatestVersionsByStatus(ctx, store.StatusPublished)
	if err != nil {
		return nil, err
	}
	draftByDoc, err := s.store.LatestVersionsByStatus(ctx, store.StatusDraft)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		published, hasPublished := publishedByDoc[doc.ID]
		draft, hasDraft := draftByDoc[doc.ID]

		statusLabel := "No published versions"
		if hasDraft {
			statusLabel = fmt.Sprintf("Draft v%d awaiting review", draft.Version)
		} else if hasPublished {
			statusLabel = fmt.Sprintf("Published v%d", published.Version)
		}

		health := map[string]any{
			"nextEffective": nil,
			"lastPublished": nil,
		}
		if hasDraft && draft.EffectiveAt != nil {
			health["nextEffective"] = draft.EffectiveAt
		}
		if hasPublished && published.PublishedAt != nil {
			health["lastPublished"] = published.PublishedAt
		}

		items = append(items, map[string]any{
			"slug":        doc.Slug,
			"title":       doc.Title,
			"summary":     doc.Summary,
			"owner":       doc.Owner,
			"statusLabel": statusLabel,
			"health":      health,
			"updatedAt":   doc.UpdatedAt,
		})
	}

	publishedCount, draftCount, err := s.store.SummaryCounts(ctx)
	if err != nil {
		return nil, err
	}

	recent, err := s.store.RecentVersions(ctx, timelineLimit)
	if err != nil {
		return nil, err
	}
	timeline := make([]map[string]any, 0, len(recent))
	for _, entry := range recent {
		timeline = append(timeline, map[string]any{
			"documentSlug":  entry.DocumentSlug,
			"documentTitle": entry.DocumentTitle,
			"version":       entry.Version.Version,
			"status":        entry.Status,
			"changeNotes":   entry.ChangeNotes,
			"updatedAt":     entry.UpdatedAt.In(loc).Format(timelineTimeFormat),
		})
	}

	return map[string]any{
		"documents": items,
		"stats": map[string]any{
			"publishedDocuments": publishedCount,
			"draftDocuments":     draftCount,
		},
		"timeline": timeline,
	}, nil
}

// GetDetail returns the document with every version, newest first, plus the
// single draft (if any) and the currently published version. currentVersion
// follows currentVersionId, not the highest number.
func (s *Service) GetDetail(ctx context.Context, slug string) (map[string]any, error) {
	doc, err := s.store.GetDocumentBySlug(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Document not found")
	}
	if err != nil {
		return nil, err
	}

	versions, err := s.store.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	versionItems := make([]map[string]any, 0, len(versions))
	var draftVersion map[string]any
	var currentVersion map[string]any
	for _, v := range versions {
		item := versionJSON(v)
		versionItems = append(versionItems, item)
		if v.Status == store.StatusDraft && draftVersion == nil {
			draftVersion = item
		}
		if doc.CurrentVersionID != nil && v.ID == *doc.CurrentVersionID {
			currentVersion = item
		}
	}

	detail := documentJSON(doc)
	detail["versions"] = versionItems
	detail["draftVersion"] = draftVersion
	if currentVersion != nil {
		detail["currentVersion"] = currentVersion
	} else {
		detail["currentVersion"] = nil
	}
	return detail, nil
}

// ── Workflow operations ──

// CreateDocument allocates a unique slug, inserts the document with payload
// metadata, and inserts version 1 as a draft. Returns the full detail.
func (s *Service) CreateDocument(ctx context.Context, payload DocumentPayload, actor string) (map[string]any, error) {
	title := strings.TrimSpace(deref(payload.Title))
	requested := strings.TrimSpace(payload.Slug)
	if title == "" && requested == "" {
		return nil, invalidInput("A title or slug is required")
	}

	doc := store.Document{
		ID:            util.NewID("doc"),
		Title:         firstNonBlank(title, defaultTitle),
		Summary:       strings.TrimSpace(deref(payload.Summary)),
		Owner:         firstNonBlank(strings.TrimSpace(deref(payload.Owner)), defaultOwner),
		HeroImageURL:  nilIfBlank(deref(payload.HeroImageURL)),
		ContactEmail:  nilIfBlank(deref(payload.ContactEmail)),
		ContactPhone:  nilIfBlank(deref(payload.ContactPhone)),
		ContactURL:    nilIfBlank(deref(payload.ContactURL)),
		ReviewCadence: nilIfBlank(deref(payload.ReviewCadence)),
		Metadata:      payload.Metadata,
		CreatedBy:     actor,
		UpdatedBy:     actor,
	}

	var slug string
	err := s.store.InTx(ctx, func(tx store.TxOps) error {
		base := util.Slugify(firstNonBlank(requested, title), slugFallback)
		if err := tx.AcquireSlugLock(ctx, base); err != nil {
			return err
		}

		candidate := base
		for suffix := 2; ; suffix++ {
			exists, err := tx.SlugExists(ctx, candidate)
			if err != nil {
				return err
			}
			if !exists {
				break
			}
			candidate = fmt.Sprintf("%s-%d", base, suffix)
		}
		doc.Slug = candidate

		if err := tx.InsertDocument(ctx, doc); err != nil {
			return err
		}

		normalized, err := marshalContent(payload, doc)
		if err != nil {
			return err
		}
		version := store.Version{
			ID:          util.NewID("ver"),
			DocumentID:  doc.ID,
			Version:     1,
			Status:      store.StatusDraft,
			Content:     normalized,
			ChangeNotes: firstNonBlank(deref(payload.ChangeNotes), initialChangeNotes),
			CreatedBy:   actor,
		}
		if err := tx.InsertVersion(ctx, version); err != nil {
			return err
		}

		slug = candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetDetail(ctx, slug)
}

// CreateDraft inserts the next-numbered draft version. The document metadata
// patch carried by the payload takes effect immediately, before any publish.
func (s *Service) CreateDraft(ctx context.Context, slug string, payload DocumentPayload, actor string) (map[string]any, error) {
	err := s.store.InTx(ctx, func(tx store.TxOps) error {
		doc, err := tx.LockDocumentBySlug(ctx, slug)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		if err != nil {
			return err
		}

		existing, err := tx.LockDraft(ctx, doc.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			return conflict("A draft version already exists")
		}

		next, err := tx.NextVersionNumber(ctx, doc.ID)
		if err != nil {
			return err
		}

		if applyMetadataPatch(&doc, payload, actor) {
			if err := tx.UpdateDocumentMetadata(ctx, doc); err != nil {
				return err
			}
		}

		normalized, err := marshalContent(payload, doc)
		if err != nil {
			return err
		}
		version := store.Version{
			ID:          util.NewID("ver"),
			DocumentID:  doc.ID,
			Version:     next,
			Status:      store.StatusDraft,
			Content:     normalized,
			ChangeNotes: strings.TrimSpace(deref(payload.ChangeNotes)),
			CreatedBy:   actor,
		}
		return tx.InsertVersion(ctx, version)
	})
	if err != nil {
		return nil, err
	}

	return s.GetDetail(ctx, slug)
}

// UpdateDraft re-normalizes a draft's content in place. Change notes are
// overwritten only when the payload carries them.
func (s *Service) UpdateDraft(ctx context.Context, slug, versionID string, payload DocumentPayload, actor string) (map[string]any, error) {
	err := s.store.InTx(ctx, func(tx store.TxOps) error {
		doc, err := tx.LockDocumentBySlug(ctx, slug)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		if err != nil {
			return err
		}

		version, err := tx.LockVersion(ctx, doc.ID, versionID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Version not found")
		}
		if err != nil {
			return err
		}
		if version.Status != store.StatusDraft {
			return invalidState("Only draft versions can be updated")
		}

		if applyMetadataPatch(&doc, payload, actor) {
			if err := tx.UpdateDocumentMetadata(ctx, doc); err != nil {
				return err
			}
		}

		normalized, err := marshalContent(payload, doc)
		if err != nil {
			return err
		}
		changeNotes := version.ChangeNotes
		if payload.ChangeNotes != nil {
			changeNotes = strings.TrimSpace(*payload.ChangeNotes)
		}
		return tx.UpdateDraft(ctx, version.ID, normalized, changeNotes)
	})
	if err != nil {
		return nil, err
	}

	return s.GetDetail(ctx, slug)
}

func (s *Service) UpdateMetadata(ctx context.Context, slug string, payload DocumentPayload, actor string) (map[string]any, error) {
	err := s.store.InTx(ctx, func(tx store.TxOps) error {
		doc, err := tx.LockDocumentBySlug(ctx, slug)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		if err != nil {
			return err
		}

		if applyMetadataPatch(&doc, payload, actor) {
			return tx.UpdateDocumentMetadata(ctx, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return s.GetDetail(ctx, slug)
}

// PublishVersion makes the target version the single published one: any
// other published version is archived, the target is stamped, and
// currentVersionId repointed, all in one transaction.
func (s *Service) PublishVersion(ctx context.Context, slug, versionID, effectiveAt, actor string) (map[string]any, error) {
	effective, err := resolveEffectiveAt(effectiveAt)
	if err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx store.TxOps) error {
		doc, err := tx.LockDocumentBySlug(ctx, slug)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		if err != nil {
			return err
		}

		version, err := tx.LockVersion(ctx, doc.ID, versionID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Version not found")
		}
		if err != nil {
			return err
		}

		if err := tx.ArchivePublishedExcept(ctx, doc.ID, version.ID); err != nil {
			return err
		}
		if err := tx.MarkPublished(ctx, version.ID, effective, time.Now(), actor); err != nil {
			return err
		}
		return tx.SetCurrentVersion(ctx, doc.ID, version.ID, actor)
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCache(ctx, slug)
	return s.GetDetail(ctx, slug)
}

func (s *Service) ArchiveDraft(ctx context.Context, slug, versionID string) (map[string]any, error) {
	err := s.store.InTx(ctx, func(tx store.TxOps) error {
		doc, err := tx.LockDocumentBySlug(ctx, slug)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		if err != nil {
			return err
		}

		version, err := tx.LockVersion(ctx, doc.ID, versionID)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Version not found")
		}
		if err != nil {
			return err
		}
		if version.Status != store.StatusDraft {
			return invalidState("Only drafts can be archived")
		}

		return tx.ArchiveVersion(ctx, version.ID)
	})
	if err != nil {
		return nil, err
	}

	return s.GetDetail(ctx, slug)
}

// DeleteDocument removes a document that has never been published. Versions
// go with it through the storage layer's cascade.
func (s *Service) DeleteDocument(ctx context.Context, slug string) error {
	err := s.store.InTx(ctx, func(tx store.TxOps) error {
		doc, err := tx.LockDocumentBySlug(ctx, slug)
		if errors.Is(err, sql.ErrNoRows) {
			return notFound("Document not found")
		}
		if err != nil {
			return err
		}
		if doc.CurrentVersionID != nil {
			return conflict("Cannot delete published document")
		}
		return tx.DeleteDocument(ctx, doc.ID)
	})
	if err != nil {
		return err
	}

	s.invalidateCache(ctx, slug)
	return nil
}

// ── Public read path ──

// PublicDocument serves the published content for anonymous readers, through
// the cache when one is configured. Drafts and archived versions are never
// visible here.
func (s *Service) PublicDocument(ctx context.Context, slug string) ([]byte, error) {
	if s.cache != nil {
		payload, hit, err := s.cache.Get(ctx, slug)
		if err != nil {
			log.Error().Err(err).Str("slug", slug).Msg("published cache read failed")
		} else if hit {
			return payload, nil
		}
	}

	doc, err := s.store.GetDocumentBySlug(ctx, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound("Document not found")
	}
	if err != nil {
		return nil, err
	}
	if doc.CurrentVersionID == nil {
		return nil, notFound("Document not found")
	}

	versions, err := s.store.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	var current *store.Version
	for i := range versions {
		if versions[i].ID == *doc.CurrentVersionID {
			current = &versions[i]
			break
		}
	}
	if current == nil {
		return nil, notFound("Document not found")
	}

	payload, err := json.Marshal(map[string]any{
		"slug":        doc.Slug,
		"title":       doc.Title,
		"summary":     doc.Summary,
		"version":     current.Version,
		"effectiveAt": current.EffectiveAt,
		"publishedAt": current.PublishedAt,
		"content":     json.RawMessage(current.Content),
	})
	if err != nil {
		return nil, fmt.Errorf("marshal public document: %w", err)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, slug, payload); err != nil {
			log.Error().Err(err).Str("slug", slug).Msg("published cache write failed")
		}
	}
	return payload, nil
}

func (s *Service) invalidateCache(ctx context.Context, slug string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, slug); err != nil {
		log.Error().Err(err).Str("slug", slug).Msg("published cache invalidation failed")
	}
}

// ── Helpers ──

// resolveEffectiveAt accepts an RFC 3339 timestamp or a bare date, and
// defaults to now when the input is blank.
func resolveEffectiveAt(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Now(), nil
	}
	if parsed, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return parsed, nil
	}
	if parsed, err := time.Parse("2006-01-02", trimmed); err == nil {
		return parsed, nil
	}
	return time.Time{}, invalidInput("Invalid effective date")
}

// applyMetadataPatch overwrites document fields present in the payload with
// trimmed values. Blank optional fields become null; blank title and owner
// keep their prior values. Reports whether any field was present.
func applyMetadataPatch(doc *store.Document, payload DocumentPayload, actor string) bool {
	patched := false

	if payload.Title != nil {
		patched = true
		if trimmed := strings.TrimSpace(*payload.Title); trimmed != "" {
			doc.Title = trimmed
		}
	}
	if payload.Summary != nil {
		patched = true
		doc.Summary = strings.TrimSpace(*payload.Summary)
	}
	if payload.Owner != nil {
		patched = true
		if trimmed := strings.TrimSpace(*payload.Owner); trimmed != "" {
			doc.Owner = trimmed
		}
	}
	if payload.HeroImageURL != nil {
		patched = true
		doc.HeroImageURL = nilIfBlank(*payload.HeroImageURL)
	}
	if payload.ContactEmail != nil {
		patched = true
		doc.ContactEmail = nilIfBlank(*payload.ContactEmail)
	}
	if payload.ContactPhone != nil {
		patched = true
		doc.ContactPhone = nilIfBlank(*payload.ContactPhone)
	}
	if payload.ContactURL != nil {
		patched = true
		doc.ContactURL = nilIfBlank(*payload.ContactURL)
	}
	if payload.ReviewCadence != nil {
		patched = true
		doc.ReviewCadence = nilIfBlank(*payload.ReviewCadence)
	}

	if patched {
		doc.UpdatedBy = actor
	}
	return patched
}

func marshalContent(payload DocumentPayload, doc store.Document) (json.RawMessage, error) {
	normalized := content.Normalize(content.Submission{
		Hero:        payload.Hero,
		Contact:     payload.Contact,
		Sections:    payload.Sections,
		Attachments: payload.Attachments,
	}, content.Defaults{
		Title:         doc.Title,
		Summary:       doc.Summary,
		ContactEmail:  deref(doc.ContactEmail),
		ContactPhone:  deref(doc.ContactPhone),
		ContactURL:    deref(doc.ContactURL),
		ReviewCadence: deref(doc.ReviewCadence),
		Owner:         doc.Owner,
	})
	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	return raw, nil
}

func documentJSON(doc store.Document) map[string]any {
	return map[string]any{
		"id":               doc.ID,
		"slug":             doc.Slug,
		"title":            doc.Title,
		"summary":          doc.Summary,
		"owner":            doc.Owner,
		"heroImageUrl":     doc.HeroImageURL,
		"contactEmail":     doc.ContactEmail,
		"contactPhone":     doc.ContactPhone,
		"contactUrl":       doc.ContactURL,
		"reviewCadence":    doc.ReviewCadence,
		"metadata":         doc.Metadata,
		"currentVersionId": doc.CurrentVersionID,
		"createdBy":        doc.CreatedBy,
		"updatedBy":        doc.UpdatedBy,
		"createdAt":        doc.CreatedAt,
		"updatedAt":        doc.UpdatedAt,
	}
}

func versionJSON(v store.Version) map[string]any {
	return map[string]any{
		"id":          v.ID,
		"version":     v.Version,
		"status":      v.Status,
		"content":     json.RawMessage(v.Content),
		"changeNotes": v.ChangeNotes,
		"effectiveAt": v.EffectiveAt,
		"publishedAt": v.PublishedAt,
		"createdBy":   v.CreatedBy,
		"publishedBy": v.PublishedBy,
		"createdAt":   v.CreatedAt,
		"updatedAt":   v.UpdatedAt,
	}
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func nilIfBlank(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
