package app

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog/log"

	"policydesk/api/internal/content"
)

const bootstrapActor = "System"

// Bootstrap seeds an empty database with starter policy documents. Seeds run
// through the regular workflow operations so they obey every invariant.
func (s *Service) Bootstrap(ctx context.Context) error {
	documents, err := s.store.ListDocuments(ctx)
	if err != nil {
		return err
	}
	if len(documents) > 0 {
		return nil
	}

	terms, err := s.CreateDocument(ctx, DocumentPayload{
		Title:   ptr("Terms of Service"),
		Summary: ptr("The agreement governing use of the platform."),
		Sections: []content.SectionInput{
			{
				Title: "Acceptance of terms",
				Body:  json.RawMessage(`"By accessing the platform you agree to be bound by these terms.\n\nIf you do not agree, do not use the service."`),
			},
			{
				Title: "Changes to the service",
				Body:  json.RawMessage(`"We may modify or discontinue the service at any time.\n\nMaterial changes to these terms are announced before they take effect."`),
			},
		},
	}, bootstrapActor)
	if err != nil {
		return err
	}

	if draft, ok := terms["draftVersion"].(map[string]any); ok {
		slug, _ := terms["slug"].(string)
		versionID, _ := draft["id"].(string)
		if _, err := s.PublishVersion(ctx, slug, versionID, "", bootstrapActor); err != nil {
			return err
		}
	}

	// Left as a draft so the dashboard has something awaiting review.
	_, err = s.CreateDocument(ctx, DocumentPayload{
		Title:   ptr("Privacy Policy"),
		Summary: ptr("How personal data is collected, used, and retained."),
		Sections: []content.SectionInput{
			{
				Title: "Data we collect",
				Body:  json.RawMessage(`"We collect account details you provide and usage data generated by your activity."`),
			},
		},
	}, bootstrapActor)
	if err != nil {
		return err
	}

	log.Info().Msg("seeded starter policy documents")
	return nil
}

func ptr(value string) *string {
	return &value
}
