package models

import (
	"time"

	"github.com/lib/pq"
)

// PublicationStatus tracks the lifecycle position of a publication.
type PublicationStatus string

const (
	PublicationStatusUnset     PublicationStatus = ""
	PublicationStatusConcept   PublicationStatus = "concept"
	PublicationStatusPublished PublicationStatus = "published"
	PublicationStatusRevoked   PublicationStatus = "revoked"
)

// Disposition states what happens to a publication once its retention
// period lapses.
type Disposition string

const (
	DispositionRetain  Disposition = "retain"
	DispositionDestroy Disposition = "destroy"
)

// Publication represents one publication row.
type Publication struct {
	ID              string            `db:"id" json:"id"`
	Status          PublicationStatus `db:"status" json:"status"`
	Title           string            `db:"title" json:"title"`
	PublisherID     *string           `db:"publisher_id" json:"publisherId,omitempty"`
	PublisherName   *string           `db:"publisher_name" json:"publisherName,omitempty"`
	PublisherRSIN   *string           `db:"publisher_rsin" json:"publisherRsin,omitempty"`
	OwnerID         string            `db:"owner_id" json:"ownerId"`
	OwnerName       string            `db:"owner_name" json:"ownerName"`
	Classifications pq.StringArray    `db:"classifications" json:"classifications"`
	Topics          pq.StringArray    `db:"topics" json:"topics"`

	RetentionSource       *string     `db:"retention_source" json:"retentionSource,omitempty"`
	RetentionCategoryCode *string     `db:"retention_category_code" json:"retentionCategoryCode,omitempty"`
	RetentionDisposition  Disposition `db:"retention_disposition" json:"retentionDisposition,omitempty"`
	ArchiveActionDate     *time.Time  `db:"archive_action_date" json:"archiveActionDate,omitempty"`
	RetentionExplanation  *string     `db:"retention_explanation" json:"retentionExplanation,omitempty"`

	RegisteredAt   time.Time  `db:"registered_at" json:"registeredAt"`
	LastModifiedAt time.Time  `db:"last_modified_at" json:"lastModifiedAt"`
	PublishedAt    *time.Time `db:"published_at" json:"publishedAt,omitempty"`
	RevokedAt      *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`

	Identifiers []Identifier `db:"-" json:"identifiers,omitempty"`
}

// Identifier is a kenmerk/bron pair. Pairs are unique within their parent.
type Identifier struct {
	Kenmerk string `db:"kenmerk" json:"kenmerk"`
	Bron    string `db:"bron" json:"bron"`
}

// AllowedDocumentStatuses returns the document statuses permitted under a
// publication in the given status. Transitions and document creation are
// validated against this table.
func AllowedDocumentStatuses(status PublicationStatus) []DocumentStatus {
	switch status {
	case PublicationStatusConcept:
		return []DocumentStatus{DocumentStatusConcept}
	case PublicationStatusPublished:
		return []DocumentStatus{DocumentStatusPublished, DocumentStatusRevoked}
	case PublicationStatusRevoked:
		return []DocumentStatus{DocumentStatusRevoked}
	default:
		return nil
	}
}

// DocumentStatusAllowed reports whether a document status is legal under the
// given publication status.
func DocumentStatusAllowed(pub PublicationStatus, doc DocumentStatus) bool {
	for _, allowed := range AllowedDocumentStatuses(pub) {
		if allowed == doc {
			return true
		}
	}
	return false
}
