package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"policydesk/api/internal/config"
	"policydesk/api/internal/store"
)

// fakeStore is an in-memory stand-in for the Postgres store. It implements
// both the service's dataStore interface and store.TxOps, so InTx hands the
// fake itself to the workflow closure.
type fakeStore struct {
	mu        sync.Mutex
	documents map[string]*store.Document
	versions  map[string]*store.Version
	clock     time.Time
	pingErr   error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		documents: make(map[string]*store.Document),
		versions:  make(map[string]*store.Version),
		clock:     time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// tick returns a strictly increasing timestamp so updated-at ordering is
// deterministic in tests.
func (f *fakeStore) tick() time.Time {
	f.clock = f.clock.Add(time.Second)
	return f.clock
}

func (f *fakeStore) InTx(ctx context.Context, fn func(store.TxOps) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(f)
}

func (f *fakeStore) AcquireSlugLock(ctx context.Context, base string) error {
	return nil
}

func (f *fakeStore) SlugExists(ctx context.Context, slug string) (bool, error) {
	for _, doc := range f.documents {
		if doc.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) LockDocumentBySlug(ctx context.Context, slug string) (store.Document, error) {
	for _, doc := range f.documents {
		if doc.Slug == slug {
			return *doc, nil
		}
	}
	return store.Document{}, sql.ErrNoRows
}

func (f *fakeStore) LockVersion(ctx context.Context, documentID, versionID string) (store.Version, error) {
	if v, ok := f.versions[versionID]; ok && v.DocumentID == documentID {
		return *v, nil
	}
	return store.Version{}, sql.ErrNoRows
}

func (f *fakeStore) LockDraft(ctx context.Context, documentID string) (*store.Version, error) {
	for _, v := range f.versions {
		if v.DocumentID == documentID && v.Status == store.StatusDraft {
			copied := *v
			return &copied, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) NextVersionNumber(ctx context.Context, documentID string) (int, error) {
	max := 0
	for _, v := range f.versions {
		if v.DocumentID == documentID && v.Version > max {
			max = v.Version
		}
	}
	return max + 1, nil
}

func (f *fakeStore) InsertDocument(ctx context.Context, item store.Document) error {
	now := f.tick()
	item.CreatedAt = now
	item.UpdatedAt = now
	f.documents[item.ID] = &item
	return nil
}

func (f *fakeStore) InsertVersion(ctx context.Context, item store.Version) error {
	now := f.tick()
	item.CreatedAt = now
	item.UpdatedAt = now
	f.versions[item.ID] = &item
	return nil
}

func (f *fakeStore) UpdateDocumentMetadata(ctx context.Context, item store.Document) error {
	doc, ok := f.documents[item.ID]
	if !ok {
		return sql.ErrNoRows
	}
	doc.Title = item.Title
	doc.Summary = item.Summary
	doc.Owner = item.Owner
	doc.HeroImageURL = item.HeroImageURL
	doc.ContactEmail = item.ContactEmail
	doc.ContactPhone = item.ContactPhone
	doc.ContactURL = item.ContactURL
	doc.ReviewCadence = item.ReviewCadence
	doc.UpdatedBy = item.UpdatedBy
	doc.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) UpdateDraft(ctx context.Context, versionID string, content json.RawMessage, changeNotes string) error {
	v, ok := f.versions[versionID]
	if !ok {
		return sql.ErrNoRows
	}
	v.Content = content
	v.ChangeNotes = changeNotes
	v.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) ArchivePublishedExcept(ctx context.Context, documentID, versionID string) error {
	for _, v := range f.versions {
		if v.DocumentID == documentID && v.Status == store.StatusPublished && v.ID != versionID {
			v.Status = store.StatusArchived
			v.UpdatedAt = f.tick()
		}
	}
	return nil
}

func (f *fakeStore) MarkPublished(ctx context.Context, versionID string, effectiveAt, publishedAt time.Time, publishedBy string) error {
	v, ok := f.versions[versionID]
	if !ok {
		return sql.ErrNoRows
	}
	v.Status = store.StatusPublished
	v.EffectiveAt = &effectiveAt
	v.PublishedAt = &publishedAt
	v.PublishedBy = &publishedBy
	v.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) SetCurrentVersion(ctx context.Context, documentID, versionID, updatedBy string) error {
	doc, ok := f.documents[documentID]
	if !ok {
		return sql.ErrNoRows
	}
	doc.CurrentVersionID = &versionID
	doc.UpdatedBy = updatedBy
	doc.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) ArchiveVersion(ctx context.Context, versionID string) error {
	v, ok := f.versions[versionID]
	if !ok {
		return sql.ErrNoRows
	}
	v.Status = store.StatusArchived
	v.UpdatedAt = f.tick()
	return nil
}

func (f *fakeStore) DeleteDocument(ctx context.Context, documentID string) error {
	delete(f.documents, documentID)
	for id, v := range f.versions {
		if v.DocumentID == documentID {
			delete(f.versions, id)
		}
	}
	return nil
}

func (f *fakeStore) ListDocuments(ctx context.Context) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Document, 0, len(f.documents))
	for _, doc := range f.documents {
		items = append(items, *doc)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Title < items[j].Title })
	return items, nil
}

func (f *fakeStore) GetDocumentBySlug(ctx context.Context, slug string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, doc := range f.documents {
		if doc.Slug == slug {
			return *doc, nil
		}
	}
	return store.Document{}, sql.ErrNoRows
}

func (f *fakeStore) ListVersions(ctx context.Context, documentID string) ([]store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.Version, 0)
	for _, v := range f.versions {
		if v.DocumentID == documentID {
			items = append(items, *v)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Version > items[j].Version })
	return items, nil
}

func (f *fakeStore) LatestVersionsByStatus(ctx context.Context, status string) (map[string]store.Version, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make(map[string]store.Version)
	for _, v := range f.versions {
		if v.Status != status {
			continue
		}
		if existing, ok := items[v.DocumentID]; !ok || v.Version > existing.Version {
			items[v.DocumentID] = *v
		}
	}
	return items, nil
}

func (f *fakeStore) RecentVersions(ctx context.Context, limit int) ([]store.TimelineVersion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := make([]store.TimelineVersion, 0, len(f.versions))
	for _, v := range f.versions {
		doc, ok := f.documents[v.DocumentID]
		if !ok {
			continue
		}
		items = append(items, store.TimelineVersion{
			Version:       *v,
			DocumentSlug:  doc.Slug,
			DocumentTitle: doc.Title,
		})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].UpdatedAt.After(items[j].UpdatedAt) })
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (f *fakeStore) SummaryCounts(ctx context.Context) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	publishedDocs := make(map[string]struct{})
	draftDocs := make(map[string]struct{})
	for _, v := range f.versions {
		switch v.Status {
		case store.StatusPublished:
			publishedDocs[v.DocumentID] = struct{}{}
		case store.StatusDraft:
			draftDocs[v.DocumentID] = struct{}{}
		}
	}
	return len(publishedDocs), len(draftDocs), nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	return f.pingErr
}

// fakeCache records cache traffic for the public read path tests.
type fakeCache struct {
	mu            sync.Mutex
	entries       map[string][]byte
	hits          int
	sets          int
	invalidations int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string][]byte)}
}

func (c *fakeCache) Get(ctx context.Context, slug string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[slug]
	if ok {
		c.hits++
	}
	return payload, ok, nil
}

func (c *fakeCache) Set(ctx context.Context, slug string, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[slug] = payload
	c.sets++
	return nil
}

func (c *fakeCache) Invalidate(ctx context.Context, slug string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, slug)
	c.invalidations++
	return nil
}

func newTestService() (*Service, *fakeStore) {
	fake := newFakeStore()
	service := &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   time.Hour,
		},
		store: fake,
	}
	return service, fake
}
