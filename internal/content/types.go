// Package content normalizes loosely-typed policy submissions into the
// canonical stored content shape.
package content

import "encoding/json"

// Content is the canonical shape persisted on every document version.
type Content struct {
	Hero        Hero         `json:"hero"`
	Contact     Contact      `json:"contact"`
	Metadata    Metadata     `json:"metadata"`
	Sections    []Section    `json:"sections"`
	Attachments []Attachment `json:"attachments"`
}

type Hero struct {
	Eyebrow string `json:"eyebrow"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type Contact struct {
	Email *string `json:"email"`
	Phone *string `json:"phone"`
	URL   string  `json:"url"`
}

type Metadata struct {
	ReviewCadence *string `json:"reviewCadence"`
	Owner         string  `json:"owner"`
}

type Section struct {
	ID          string       `json:"id"`
	Anchor      string       `json:"anchor"`
	Title       string       `json:"title"`
	Summary     *string      `json:"summary"`
	Body        []string     `json:"body"`
	Kind        string       `json:"kind"`
	Attachments []Attachment `json:"attachments"`
}

type Attachment struct {
	ID          *string `json:"id"`
	Label       string  `json:"label"`
	Description *string `json:"description"`
	Type        *string `json:"type"`
	URL         string  `json:"url"`
}

// Submission is the raw shape accepted from editors. Everything is optional;
// section bodies may arrive as a single text blob or as an array of
// paragraphs.
type Submission struct {
	Hero        HeroInput         `json:"hero"`
	Contact     ContactInput      `json:"contact"`
	Sections    []SectionInput    `json:"sections"`
	Attachments []AttachmentInput `json:"attachments"`
}

type HeroInput struct {
	Eyebrow string `json:"eyebrow"`
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

type ContactInput struct {
	Email string `json:"email"`
	Phone string `json:"phone"`
	URL   string `json:"url"`
}

type SectionInput struct {
	ID          string            `json:"id"`
	Anchor      string            `json:"anchor"`
	Title       string            `json:"title"`
	Summary     string            `json:"summary"`
	Kind        string            `json:"kind"`
	Body        json.RawMessage   `json:"body"`
	Attachments []AttachmentInput `json:"attachments"`
}

type AttachmentInput struct {
	ID          string `json:"id"`
	Label       string `json:"label"`
	Description string `json:"description"`
	Type        string `json:"type"`
	URL         string `json:"url"`
}

// Defaults carries the owning document's fields used as fallbacks during
// normalization.
type Defaults struct {
	Title         string
	Summary       string
	ContactEmail  string
	ContactPhone  string
	ContactURL    string
	ReviewCadence string
	Owner         string
}
