package models

import "time"

// DocumentStatus tracks the lifecycle position of a document.
type DocumentStatus string

const (
	DocumentStatusUnset     DocumentStatus = ""
	DocumentStatusConcept   DocumentStatus = "concept"
	DocumentStatusPublished DocumentStatus = "published"
	DocumentStatusRevoked   DocumentStatus = "revoked"
)

// Document represents binary content attached to a publication. The bytes
// themselves live in the external content store; this row carries the
// metadata plus the transfer checkpoint fields (store reference, lock token,
// upload_complete) that make mirroring resumable across restarts.
type Document struct {
	ID            string         `db:"id" json:"id"`
	PublicationID string         `db:"publication_id" json:"publicationId"`
	Status        DocumentStatus `db:"status" json:"status"`
	OwnerID       string         `db:"owner_id" json:"ownerId"`
	OwnerName     string         `db:"owner_name" json:"ownerName"`

	FileName  string `db:"file_name" json:"fileName"`
	Format    string `db:"format" json:"format"`
	SizeBytes int64  `db:"size_bytes" json:"sizeBytes"`

	// StoreID and ObjectID are set together or not at all.
	StoreID        *string `db:"store_id" json:"storeId,omitempty"`
	ObjectID       *string `db:"object_id" json:"objectId,omitempty"`
	LockToken      string  `db:"lock_token" json:"-"`
	UploadComplete bool    `db:"upload_complete" json:"uploadComplete"`
	SourceURL      *string `db:"source_url" json:"sourceUrl,omitempty"`

	RegisteredAt   time.Time  `db:"registered_at" json:"registeredAt"`
	LastModifiedAt time.Time  `db:"last_modified_at" json:"lastModifiedAt"`
	PublishedAt    *time.Time `db:"published_at" json:"publishedAt,omitempty"`
	RevokedAt      *time.Time `db:"revoked_at" json:"revokedAt,omitempty"`

	Identifiers []Identifier `db:"-" json:"identifiers,omitempty"`
}

// HasStoreReference reports whether the document has been registered with
// the content store.
func (d *Document) HasStoreReference() bool {
	return d.StoreID != nil && d.ObjectID != nil
}

// FilePart is one chunk of a multi-part upload. Parts are not persisted
// locally; the store reports them and we re-derive URLs for callers.
type FilePart struct {
	Seq       int    `json:"seq"`
	SizeBytes int64  `json:"sizeBytes"`
	Completed bool   `json:"completed"`
	URL       string `json:"url"`
}
