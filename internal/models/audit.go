package models

import "time"

// Audit action constants represent events to be logged.
const (
	AuditActionPublicationDraft   = "PUBLICATION_DRAFT"
	AuditActionPublicationPublish = "PUBLICATION_PUBLISH"
	AuditActionPublicationRevoke  = "PUBLICATION_REVOKE"
	AuditActionPublicationUpdate  = "PUBLICATION_UPDATE"
	AuditActionDocumentDraft      = "DOCUMENT_DRAFT"
	AuditActionDocumentPublish    = "DOCUMENT_PUBLISH"
	AuditActionDocumentRevoke     = "DOCUMENT_REVOKE"
	AuditActionDocumentUpdate     = "DOCUMENT_UPDATE"
	AuditActionDocumentDestroy    = "DOCUMENT_DESTROY"
	AuditActionStoreDeleteFailed  = "STORE_DELETE_FAILED"
)

// AuditLog represents an audit trail record.
type AuditLog struct {
	ID        string `db:"id" json:"id"`
	ActorID   string `db:"actor_id" json:"actorId"`
	ActorName string `db:"actor_name" json:"actorName"`
	Action    string `db:"action" json:"action"`
	Resource  string `db:"resource" json:"resource"`
	// ResourceID references the publication or document the event concerns.
	ResourceID string    `db:"resource_id" json:"resourceId"`
	OldValues  []byte    `db:"old_values" json:"oldValues,omitempty"`
	NewValues  []byte    `db:"new_values" json:"newValues,omitempty"`
	Remarks    string    `db:"remarks" json:"remarks,omitempty"`
	Detail     string    `db:"detail" json:"detail,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Actor identifies who triggered a transition.
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
