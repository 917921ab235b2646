package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/openpubs/publications-api/internal/dto"
	"github.com/openpubs/publications-api/internal/models"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
	"github.com/openpubs/publications-api/pkg/response"
)

type publicationServiceMock struct {
	created       dto.CreatePublicationRequest
	actor         models.Actor
	remarks       string
	publishCalled bool
	err           error
}

func (m *publicationServiceMock) Create(ctx context.Context, req dto.CreatePublicationRequest, actor models.Actor) (*models.Publication, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.created = req
	m.actor = actor
	return &models.Publication{ID: "pub-1", Status: models.PublicationStatusConcept, Title: req.Title}, nil
}

func (m *publicationServiceMock) Get(ctx context.Context, id string) (*models.Publication, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Publication{ID: id, Status: models.PublicationStatusConcept}, nil
}

func (m *publicationServiceMock) Update(ctx context.Context, id string, req dto.UpdatePublicationRequest, actor models.Actor) (*models.Publication, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Publication{ID: id, Title: req.Title}, nil
}

func (m *publicationServiceMock) Publish(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Publication, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.publishCalled = true
	m.actor = actor
	m.remarks = remarks
	return &models.Publication{ID: id, Status: models.PublicationStatusPublished}, nil
}

func (m *publicationServiceMock) Revoke(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Publication, error) {
	if m.err != nil {
		return nil, m.err
	}
	return &models.Publication{ID: id, Status: models.PublicationStatusRevoked}, nil
}

func (m *publicationServiceMock) History(ctx context.Context, id string) ([]models.AuditLog, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []models.AuditLog{{Action: models.AuditActionPublicationPublish, Resource: "publication", ResourceID: id}}, nil
}

func jsonRequest(t *testing.T, method string, body interface{}) *http.Request {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(method, "/", bytes.NewReader(data))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestPublicationHandlerCreateReadsActorHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &publicationServiceMock{}
	h := NewPublicationHandler(mockSvc, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, dto.CreatePublicationRequest{
		Title:     "Besluit",
		OwnerID:   "owner-1",
		OwnerName: "Gemeente Voorbeeld",
	})
	c.Request.Header.Set("X-Actor-Id", "user-1")
	c.Request.Header.Set("X-Actor-Name", "J. de Vries")

	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "Besluit", mockSvc.created.Title)
	require.Equal(t, models.Actor{ID: "user-1", Name: "J. de Vries"}, mockSvc.actor)
}

func TestPublicationHandlerPublishRequiresActor(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &publicationServiceMock{}
	h := NewPublicationHandler(mockSvc, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = jsonRequest(t, http.MethodPost, map[string]string{"remarks": "zonder actor"})

	h.Publish(c)

	require.Equal(t, http.StatusBadRequest, w.Code)
	require.False(t, mockSvc.publishCalled)
}

func TestPublicationHandlerPublishPassesRemarks(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &publicationServiceMock{}
	h := NewPublicationHandler(mockSvc, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "pub-1"}}
	c.Request = jsonRequest(t, http.MethodPost, dto.TransitionRequest{
		ActorID:   "user-1",
		ActorName: "J. de Vries",
		Remarks:   "vastgesteld",
	})

	h.Publish(c)

	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, mockSvc.publishCalled)
	require.Equal(t, "vastgesteld", mockSvc.remarks)
}

func TestPublicationHandlerErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mockSvc := &publicationServiceMock{err: appErrors.Clone(appErrors.ErrConflict, "publication was modified concurrently")}
	h := NewPublicationHandler(mockSvc, nil)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Params = gin.Params{{Key: "id", Value: "pub-1"}}
	c.Request = jsonRequest(t, http.MethodPost, dto.TransitionRequest{ActorID: "user-1", ActorName: "J. de Vries"})

	h.Revoke(c)

	require.Equal(t, http.StatusConflict, w.Code)
	var envelope response.Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Error)
	require.Equal(t, appErrors.ErrConflict.Code, envelope.Error.Code)
}
