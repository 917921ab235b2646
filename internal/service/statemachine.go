package service

import (
	"fmt"

	"github.com/openpubs/publications-api/internal/models"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
)

// Lifecycle events. Both entities share the same four-state machine; the
// document variant additionally guards every event on the parent
// publication's status.
const (
	eventDraft   = "draft"
	eventPublish = "publish"
	eventRevoke  = "revoke"
)

type publicationTransition struct {
	from []models.PublicationStatus
	to   models.PublicationStatus
}

var publicationTransitions = map[string]publicationTransition{
	eventDraft: {
		from: []models.PublicationStatus{models.PublicationStatusUnset},
		to:   models.PublicationStatusConcept,
	},
	eventPublish: {
		from: []models.PublicationStatus{models.PublicationStatusUnset, models.PublicationStatusConcept},
		to:   models.PublicationStatusPublished,
	},
	eventRevoke: {
		from: []models.PublicationStatus{models.PublicationStatusPublished},
		to:   models.PublicationStatusRevoked,
	},
}

type documentTransition struct {
	from []models.DocumentStatus
	to   models.DocumentStatus
	// parent lists the publication statuses under which the event is legal.
	// Evaluated against the parent's current, possibly in-memory projected,
	// status so cascades validate before the parent row is committed.
	parent []models.PublicationStatus
}

var documentTransitions = map[string]documentTransition{
	eventDraft: {
		from:   []models.DocumentStatus{models.DocumentStatusUnset},
		to:     models.DocumentStatusConcept,
		parent: []models.PublicationStatus{models.PublicationStatusConcept},
	},
	eventPublish: {
		from:   []models.DocumentStatus{models.DocumentStatusUnset, models.DocumentStatusConcept},
		to:     models.DocumentStatusPublished,
		parent: []models.PublicationStatus{models.PublicationStatusPublished},
	},
	eventRevoke: {
		from:   []models.DocumentStatus{models.DocumentStatusPublished},
		to:     models.DocumentStatusRevoked,
		parent: []models.PublicationStatus{models.PublicationStatusPublished, models.PublicationStatusRevoked},
	},
}

// nextPublicationStatus dispatches an event against the publication table.
func nextPublicationStatus(current models.PublicationStatus, event string) (models.PublicationStatus, error) {
	t, ok := publicationTransitions[event]
	if !ok {
		return current, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("unknown publication event %q", event))
	}
	for _, from := range t.from {
		if from == current {
			return t.to, nil
		}
	}
	return current, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("publication cannot %s from status %q", event, statusLabel(string(current))))
}

// nextDocumentStatus dispatches an event against the document table,
// checking the parent guard.
func nextDocumentStatus(current models.DocumentStatus, parent models.PublicationStatus, event string) (models.DocumentStatus, error) {
	t, ok := documentTransitions[event]
	if !ok {
		return current, appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("unknown document event %q", event))
	}
	legalFrom := false
	for _, from := range t.from {
		if from == current {
			legalFrom = true
			break
		}
	}
	if !legalFrom {
		return current, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("document cannot %s from status %q", event, statusLabel(string(current))))
	}
	for _, allowed := range t.parent {
		if allowed == parent {
			return t.to, nil
		}
	}
	return current, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("document cannot %s under a publication in status %q", event, statusLabel(string(parent))))
}

func statusLabel(status string) string {
	if status == "" {
		return "unset"
	}
	return status
}
