package dto

// IdentifierPayload is one kenmerk/bron pair.
type IdentifierPayload struct {
	Kenmerk string `json:"kenmerk" validate:"required"`
	Bron    string `json:"bron" validate:"required"`
}

// CreatePublicationRequest creates a publication as concept or published.
type CreatePublicationRequest struct {
	Title           string              `json:"title" validate:"required"`
	Status          string              `json:"status" validate:"omitempty,oneof=concept published"`
	PublisherID     *string             `json:"publisherId"`
	PublisherName   *string             `json:"publisherName"`
	PublisherRSIN   *string             `json:"publisherRsin"`
	OwnerID         string              `json:"ownerId" validate:"required"`
	OwnerName       string              `json:"ownerName" validate:"required"`
	Classifications []string            `json:"classifications"`
	Topics          []string            `json:"topics"`
	Identifiers     []IdentifierPayload `json:"identifiers" validate:"dive"`
}

// UpdatePublicationRequest edits publication metadata. Status changes go
// through the publish/revoke endpoints, never through this payload.
type UpdatePublicationRequest struct {
	Title           string              `json:"title" validate:"required"`
	PublisherID     *string             `json:"publisherId"`
	PublisherName   *string             `json:"publisherName"`
	PublisherRSIN   *string             `json:"publisherRsin"`
	OwnerID         string              `json:"ownerId" validate:"required"`
	OwnerName       string              `json:"ownerName" validate:"required"`
	Classifications []string            `json:"classifications"`
	Topics          []string            `json:"topics"`
	Identifiers     []IdentifierPayload `json:"identifiers" validate:"dive"`
}

// TransitionRequest carries actor identity and remarks for publish/revoke.
type TransitionRequest struct {
	ActorID   string `json:"actorId" validate:"required"`
	ActorName string `json:"actorName" validate:"required"`
	Remarks   string `json:"remarks"`
}
