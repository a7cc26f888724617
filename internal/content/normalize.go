package content

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"policydesk/api/internal/util"
)

const (
	defaultEyebrow     = "Legal"
	defaultSectionKind = "paragraphs"
	defaultContactURL  = "https://example.org/contact"
)

var blankLine = regexp.MustCompile(`\n\s*\n`)

// Normalize reshapes a raw submission into the canonical stored content.
// It is total: malformed pieces are dropped or defaulted, never rejected,
// so a partially filled form can always be saved as a draft.
func Normalize(sub Submission, d Defaults) Content {
	return Content{
		Hero: Hero{
			Eyebrow: firstNonBlank(sub.Hero.Eyebrow, defaultEyebrow),
			Title:   firstNonBlank(sub.Hero.Title, d.Title),
			Summary: firstNonBlank(sub.Hero.Summary, d.Summary),
		},
		Contact: Contact{
			Email: nilIfBlank(firstNonBlank(sub.Contact.Email, d.ContactEmail)),
			Phone: nilIfBlank(firstNonBlank(sub.Contact.Phone, d.ContactPhone)),
			URL:   firstNonBlank(sub.Contact.URL, d.ContactURL, defaultContactURL),
		},
		Metadata: Metadata{
			ReviewCadence: nilIfBlank(d.ReviewCadence),
			Owner:         d.Owner,
		},
		Sections:    normalizeSections(sub.Sections),
		Attachments: normalizeAttachments(sub.Attachments),
	}
}

func normalizeSections(inputs []SectionInput) []Section {
	sections := make([]Section, 0, len(inputs))
	for i, in := range inputs {
		title := firstNonBlank(in.Title, fmt.Sprintf("Section %d", i+1))
		anchor := strings.TrimSpace(in.Anchor)
		if anchor == "" {
			anchor = util.Slugify(title, fmt.Sprintf("section-%d", i+1))
		}
		id := strings.TrimSpace(in.ID)
		if id == "" {
			id = util.NewID("sec")
		}
		sections = append(sections, Section{
			ID:          id,
			Anchor:      anchor,
			Title:       title,
			Summary:     nilIfBlank(in.Summary),
			Body:        paragraphs(in.Body),
			Kind:        firstNonBlank(in.Kind, defaultSectionKind),
			Attachments: normalizeAttachments(in.Attachments),
		})
	}
	return sections
}

// paragraphs accepts either a JSON string split on blank lines or a JSON
// array of strings, dropping blank entries in both cases.
func paragraphs(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return []string{}
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return trimNonBlank(list)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return trimNonBlank(blankLine.Split(text, -1))
	}
	return []string{}
}

func trimNonBlank(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// normalizeAttachments keeps only entries with a usable URL and numbers the
// survivors for default labels.
func normalizeAttachments(inputs []AttachmentInput) []Attachment {
	attachments := make([]Attachment, 0, len(inputs))
	for _, in := range inputs {
		url := strings.TrimSpace(in.URL)
		if url == "" {
			continue
		}
		attachments = append(attachments, Attachment{
			ID:          nilIfBlank(in.ID),
			Label:       firstNonBlank(in.Label, fmt.Sprintf("Attachment %d", len(attachments)+1)),
			Description: nilIfBlank(in.Description),
			Type:        nilIfBlank(in.Type),
			URL:         url,
		})
	}
	return attachments
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
