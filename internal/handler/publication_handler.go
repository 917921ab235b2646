package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openpubs/publications-api/internal/dto"
	"github.com/openpubs/publications-api/internal/models"
	"github.com/openpubs/publications-api/internal/service"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
	"github.com/openpubs/publications-api/pkg/response"
)

type publicationService interface {
	Create(ctx context.Context, req dto.CreatePublicationRequest, actor models.Actor) (*models.Publication, error)
	Get(ctx context.Context, id string) (*models.Publication, error)
	Update(ctx context.Context, id string, req dto.UpdatePublicationRequest, actor models.Actor) (*models.Publication, error)
	Publish(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Publication, error)
	Revoke(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Publication, error)
	History(ctx context.Context, id string) ([]models.AuditLog, error)
}

// PublicationHandler manages publication HTTP endpoints.
type PublicationHandler struct {
	service publicationService
	metrics *service.MetricsService
}

// NewPublicationHandler constructs the handler.
func NewPublicationHandler(svc publicationService, metrics *service.MetricsService) *PublicationHandler {
	return &PublicationHandler{service: svc, metrics: metrics}
}

// Create registers a publication as concept or directly published.
func (h *PublicationHandler) Create(c *gin.Context) {
	var req dto.CreatePublicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid publication payload"))
		return
	}
	pub, err := h.service.Create(c.Request.Context(), req, actorFromHeaders(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, pub)
}

// Get returns one publication.
func (h *PublicationHandler) Get(c *gin.Context) {
	pub, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pub)
}

// Update edits publication metadata.
func (h *PublicationHandler) Update(c *gin.Context) {
	var req dto.UpdatePublicationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid publication payload"))
		return
	}
	pub, err := h.service.Update(c.Request.Context(), c.Param("id"), req, actorFromHeaders(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pub)
}

// Publish transitions the publication and its concept documents.
func (h *PublicationHandler) Publish(c *gin.Context) {
	actor, remarks, err := transitionInput(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	pub, err := h.service.Publish(c.Request.Context(), c.Param("id"), actor, remarks)
	h.metrics.RecordTransition("publication", "publish", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pub)
}

// Revoke transitions the publication and its published documents.
func (h *PublicationHandler) Revoke(c *gin.Context) {
	actor, remarks, err := transitionInput(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	pub, err := h.service.Revoke(c.Request.Context(), c.Param("id"), actor, remarks)
	h.metrics.RecordTransition("publication", "revoke", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, pub)
}

// History returns the audit trail of one publication.
func (h *PublicationHandler) History(c *gin.Context) {
	logs, err := h.service.History(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, logs)
}

func transitionInput(c *gin.Context) (models.Actor, string, error) {
	var req dto.TransitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return models.Actor{}, "", appErrors.Clone(appErrors.ErrValidation, "actorId and actorName are required")
	}
	if req.ActorID == "" || req.ActorName == "" {
		return models.Actor{}, "", appErrors.Clone(appErrors.ErrValidation, "actorId and actorName are required")
	}
	return models.Actor{ID: req.ActorID, Name: req.ActorName}, req.Remarks, nil
}

// actorFromHeaders reads the caller identity for non-transition writes.
// There is no authentication layer; upstream gateways supply these headers.
func actorFromHeaders(c *gin.Context) models.Actor {
	actor := models.Actor{
		ID:   c.GetHeader("X-Actor-Id"),
		Name: c.GetHeader("X-Actor-Name"),
	}
	if actor.ID == "" {
		actor.ID = "system"
	}
	if actor.Name == "" {
		actor.Name = "system"
	}
	return actor
}
