package store

import (
	"encoding/json"
	"time"
)

// Version lifecycle states. A draft may move to published or archived;
// published moves to archived when superseded; archived is terminal.
const (
	StatusDraft     = "draft"
	StatusPublished = "published"
	StatusArchived  = "archived"
)

type Document struct {
	ID               string
	Slug             string
	Title            string
	Summary          string
	Owner            string
	HeroImageURL     *string
	ContactEmail     *string
	ContactPhone     *string
	ContactURL       *string
	ReviewCadence    *string
	Metadata         map[string]any
	CurrentVersionID *string
	CreatedBy        string
	UpdatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Version struct {
	ID          string
	DocumentID  string
	Version     int
	Status      string
	Content     json.RawMessage
	ChangeNotes string
	EffectiveAt *time.Time
	PublishedAt *time.Time
	CreatedBy   string
	PublishedBy *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TimelineVersion annotates a version with its owning document for the
// global activity timeline.
type TimelineVersion struct {
	Version
	DocumentSlug  string
	DocumentTitle string
}
