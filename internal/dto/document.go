package dto

// CreateDocumentRequest attaches a document to a publication. The initial
// status is derived from the parent publication; any client-submitted status
// is ignored.
type CreateDocumentRequest struct {
	FileName    string              `json:"fileName" validate:"required"`
	Format      string              `json:"format" validate:"required"`
	SizeBytes   int64               `json:"sizeBytes" validate:"required,gt=0"`
	SourceURL   *string             `json:"sourceUrl"`
	OwnerID     string              `json:"ownerId" validate:"required"`
	OwnerName   string              `json:"ownerName" validate:"required"`
	Identifiers []IdentifierPayload `json:"identifiers" validate:"dive"`
}

// UpdateDocumentRequest edits document metadata without a status change.
type UpdateDocumentRequest struct {
	FileName    string              `json:"fileName" validate:"required"`
	Format      string              `json:"format" validate:"required"`
	Identifiers []IdentifierPayload `json:"identifiers" validate:"dive"`
}
