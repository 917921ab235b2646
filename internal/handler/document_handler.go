package handler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/openpubs/publications-api/internal/dto"
	"github.com/openpubs/publications-api/internal/models"
	"github.com/openpubs/publications-api/internal/service"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
	"github.com/openpubs/publications-api/pkg/response"
)

type documentService interface {
	Create(ctx context.Context, publicationID string, req dto.CreateDocumentRequest, actor models.Actor) (*models.Document, error)
	Get(ctx context.Context, id string) (*models.Document, error)
	Update(ctx context.Context, id string, req dto.UpdateDocumentRequest, actor models.Actor) (*models.Document, error)
	Publish(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Document, error)
	Revoke(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Document, error)
}

type transferService interface {
	Register(ctx context.Context, documentID string) ([]models.FilePart, error)
	UploadPart(ctx context.Context, documentID string, seq int, data []byte) error
	Download(ctx context.Context, documentID string) (io.ReadCloser, int64, string, error)
	Destroy(ctx context.Context, documentID string, actor models.Actor) error
}

type downloadTokenParser interface {
	Parse(token string, allowExpired bool) (documentID, filename string, expiresAt time.Time, err error)
}

// DocumentHandler manages document and transfer HTTP endpoints.
type DocumentHandler struct {
	documents documentService
	transfers transferService
	tokens    downloadTokenParser
	metrics   *service.MetricsService
}

// NewDocumentHandler constructs the handler. A nil tokens parser disables
// download token checks.
func NewDocumentHandler(documents documentService, transfers transferService, tokens downloadTokenParser, metrics *service.MetricsService) *DocumentHandler {
	return &DocumentHandler{documents: documents, transfers: transfers, tokens: tokens, metrics: metrics}
}

// CreateDocumentResponse pairs the created row with the parts the caller
// must upload. Parts are absent when the document mirrors from a source URL.
type CreateDocumentResponse struct {
	Document *models.Document  `json:"document"`
	Parts    []models.FilePart `json:"parts,omitempty"`
}

// Create attaches a document to a publication and registers it with the
// content store unless the bytes arrive via a source URL mirror.
func (h *DocumentHandler) Create(c *gin.Context) {
	var req dto.CreateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid document payload"))
		return
	}
	doc, err := h.documents.Create(c.Request.Context(), c.Param("id"), req, actorFromHeaders(c))
	if err != nil {
		response.Error(c, err)
		return
	}

	result := CreateDocumentResponse{Document: doc}
	if doc.SourceURL == nil || *doc.SourceURL == "" {
		parts, err := h.transfers.Register(c.Request.Context(), doc.ID)
		h.metrics.RecordTransferOperation("register", err)
		if err != nil {
			response.Error(c, err)
			return
		}
		result.Parts = parts
	}
	response.Created(c, result)
}

// Get returns one document.
func (h *DocumentHandler) Get(c *gin.Context) {
	doc, err := h.documents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc)
}

// Update edits document metadata.
func (h *DocumentHandler) Update(c *gin.Context) {
	var req dto.UpdateDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid document payload"))
		return
	}
	doc, err := h.documents.Update(c.Request.Context(), c.Param("id"), req, actorFromHeaders(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc)
}

// Publish transitions one document.
func (h *DocumentHandler) Publish(c *gin.Context) {
	actor, remarks, err := transitionInput(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.documents.Publish(c.Request.Context(), c.Param("id"), actor, remarks)
	h.metrics.RecordTransition("document", "publish", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc)
}

// Revoke transitions one document.
func (h *DocumentHandler) Revoke(c *gin.Context) {
	actor, remarks, err := transitionInput(c)
	if err != nil {
		response.Error(c, err)
		return
	}
	doc, err := h.documents.Revoke(c.Request.Context(), c.Param("id"), actor, remarks)
	h.metrics.RecordTransition("document", "revoke", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, doc)
}

// UploadPart proxies one chunk to the content store.
func (h *DocumentHandler) UploadPart(c *gin.Context) {
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq < 1 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "part sequence must be a positive integer"))
		return
	}
	data, err := io.ReadAll(c.Request.Body)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "failed to read part body"))
		return
	}
	err = h.transfers.UploadPart(c.Request.Context(), c.Param("id"), seq, data)
	h.metrics.RecordTransferOperation("upload_part", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Download streams the document bytes. Requests must carry a valid signed
// token scoped to the requested document.
func (h *DocumentHandler) Download(c *gin.Context) {
	if h.tokens != nil {
		token := c.Query("token")
		if token == "" {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "download token is required"))
			return
		}
		tokenDocID, _, _, err := h.tokens.Parse(token, false)
		if err != nil || tokenDocID != c.Param("id") {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "download token is invalid or expired"))
			return
		}
	}
	body, length, filename, err := h.transfers.Download(c.Request.Context(), c.Param("id"))
	h.metrics.RecordTransferOperation("download", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer body.Close()
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.DataFromReader(http.StatusOK, length, "application/octet-stream", body, nil)
}

// Delete destroys the document locally, in the store and in the index.
func (h *DocumentHandler) Delete(c *gin.Context) {
	err := h.transfers.Destroy(c.Request.Context(), c.Param("id"), actorFromHeaders(c))
	h.metrics.RecordTransferOperation("destroy", err)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
