package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/openpubs/publications-api/internal/dto"
	"github.com/openpubs/publications-api/internal/models"
	"github.com/openpubs/publications-api/internal/outbox"
	"github.com/openpubs/publications-api/internal/repository"
	"github.com/openpubs/publications-api/internal/searchindex"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
)

type documentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, doc *models.Document) error
	GetByID(ctx context.Context, id string) (*models.Document, error)
	ListByPublication(ctx context.Context, exec sqlx.ExtContext, publicationID string) ([]models.Document, error)
	Update(ctx context.Context, exec sqlx.ExtContext, doc *models.Document, observed models.DocumentStatus) error
	UpdateOwner(ctx context.Context, exec sqlx.ExtContext, id, ownerID, ownerName string) error
	ReplaceIdentifiers(ctx context.Context, exec sqlx.ExtContext, documentID string, identifiers []models.Identifier) error
}

type publicationGetter interface {
	GetByID(ctx context.Context, id string) (*models.Publication, error)
}

type auditLogger interface {
	Insert(ctx context.Context, exec sqlx.ExtContext, log *models.AuditLog) error
	ListByResource(ctx context.Context, resource, resourceID string) ([]models.AuditLog, error)
}

type unitOfWork interface {
	Do(ctx context.Context, fn func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error) error
}

type documentIndexClient interface {
	IndexDocument(ctx context.Context, doc *models.Document, downloadURL string) (searchindex.Result, error)
	RemoveDocument(ctx context.Context, doc *models.Document, force bool) (searchindex.Result, error)
}

type downloadURLSigner interface {
	Generate(documentID, filename string) (string, time.Time, error)
}

type mirrorEnqueuer interface {
	EnqueueMirror(ctx context.Context, documentID string) error
}

// DocumentServiceConfig carries the public base URL used to build download
// URLs handed to the search index.
type DocumentServiceConfig struct {
	PublicBaseURL string
}

// DocumentService drives the per-document state machine. Every transition
// is guarded by the parent publication's status; cascading transitions
// receive the parent's projected status so they validate before the parent
// row is committed.
type DocumentService struct {
	docs      documentStore
	pubs      publicationGetter
	audit     auditLogger
	uow       unitOfWork
	index     documentIndexClient
	signer    downloadURLSigner
	tasks     mirrorEnqueuer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       DocumentServiceConfig
}

// NewDocumentService constructs the service.
func NewDocumentService(docs documentStore, pubs publicationGetter, audit auditLogger, uow unitOfWork, index documentIndexClient, signer downloadURLSigner, tasks mirrorEnqueuer, validate *validator.Validate, logger *zap.Logger, cfg DocumentServiceConfig) *DocumentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:8080/api/v1"
	}
	return &DocumentService{
		docs:      docs,
		pubs:      pubs,
		audit:     audit,
		uow:       uow,
		index:     index,
		signer:    signer,
		tasks:     tasks,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// Create attaches a new document to a publication. The initial status is
// derived from the parent's status at creation time; a client-submitted
// status is never consulted. Creation under a revoked publication is
// rejected outright.
func (s *DocumentService) Create(ctx context.Context, publicationID string, req dto.CreateDocumentRequest, actor models.Actor) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}

	pub, err := s.pubs.GetByID(ctx, publicationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "publication not found")
		}
		return nil, appErrors.FromError(err)
	}
	if pub.Status == models.PublicationStatusRevoked {
		return nil, appErrors.Clone(appErrors.ErrConflict, "cannot add documents to a revoked publication")
	}

	event := eventDraft
	action := models.AuditActionDocumentDraft
	if pub.Status == models.PublicationStatusPublished {
		event = eventPublish
		action = models.AuditActionDocumentPublish
	}

	doc := &models.Document{
		Status:        models.DocumentStatusUnset,
		PublicationID: pub.ID,
		OwnerID:       req.OwnerID,
		OwnerName:     req.OwnerName,
		FileName:      req.FileName,
		Format:        req.Format,
		SizeBytes:     req.SizeBytes,
		SourceURL:     req.SourceURL,
		Identifiers:   toIdentifiers(req.Identifiers),
	}
	next, err := nextDocumentStatus(doc.Status, pub.Status, event)
	if err != nil {
		return nil, err
	}
	if !models.DocumentStatusAllowed(pub.Status, next) {
		return nil, appErrors.Clone(appErrors.ErrConflict, "document status not allowed under the publication")
	}
	doc.Status = next
	if next == models.DocumentStatusPublished {
		now := time.Now().UTC()
		doc.PublishedAt = &now
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		if err := s.docs.Create(ctx, tx, doc); err != nil {
			return appErrors.FromError(err)
		}
		if err := s.docs.ReplaceIdentifiers(ctx, tx, doc.ID, doc.Identifiers); err != nil {
			return appErrors.FromError(err)
		}
		if err := s.audit.Insert(ctx, tx, &models.AuditLog{
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Action:     action,
			Resource:   "document",
			ResourceID: doc.ID,
			NewValues:  statusSnapshot(string(doc.Status)),
		}); err != nil {
			return appErrors.FromError(err)
		}
		if doc.Status == models.DocumentStatusPublished {
			s.ScheduleIndex(fx, doc)
		}
		if doc.SourceURL != nil && *doc.SourceURL != "" && s.tasks != nil {
			docID := doc.ID
			fx.Schedule(documentKey(docID), func(ctx context.Context) error {
				return s.tasks.EnqueueMirror(ctx, docID)
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Get loads one document.
func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "document not found")
		}
		return nil, appErrors.FromError(err)
	}
	return doc, nil
}

// Update edits document metadata without a status change. The document is
// re-indexed with a refreshed download URL so metadata edits stay visible.
func (s *DocumentService) Update(ctx context.Context, id string, req dto.UpdateDocumentRequest, actor models.Actor) (*models.Document, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid document payload")
	}

	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if doc.Status == models.DocumentStatusRevoked {
		return nil, appErrors.Clone(appErrors.ErrConflict, "cannot modify a revoked document")
	}

	observed := doc.Status
	old := statusSnapshot(string(doc.Status))
	doc.FileName = req.FileName
	doc.Format = req.Format
	doc.Identifiers = toIdentifiers(req.Identifiers)

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		if err := s.docs.Update(ctx, tx, doc, observed); err != nil {
			return mapConcurrency(err, "document")
		}
		if err := s.docs.ReplaceIdentifiers(ctx, tx, doc.ID, doc.Identifiers); err != nil {
			return appErrors.FromError(err)
		}
		if err := s.audit.Insert(ctx, tx, &models.AuditLog{
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Action:     models.AuditActionDocumentUpdate,
			Resource:   "document",
			ResourceID: doc.ID,
			OldValues:  old,
			NewValues:  statusSnapshot(string(doc.Status)),
		}); err != nil {
			return appErrors.FromError(err)
		}
		if !fx.Scheduled(documentKey(doc.ID)) {
			s.ScheduleIndex(fx, doc)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Publish transitions a single document to published; legal only while the
// parent publication is published.
func (s *DocumentService) Publish(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pub, err := s.pubs.GetByID(ctx, doc.PublicationID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		return s.PublishWithParent(ctx, tx, fx, doc, pub.Status, actor, remarks)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Revoke transitions a single document to revoked (terminal).
func (s *DocumentService) Revoke(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Document, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	pub, err := s.pubs.GetByID(ctx, doc.PublicationID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		return s.RevokeWithParent(ctx, tx, fx, doc, pub.Status, actor, remarks)
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListByPublication exposes child documents to cascading publication
// transitions; runs inside the caller's transaction.
func (s *DocumentService) ListByPublication(ctx context.Context, exec sqlx.ExtContext, publicationID string) ([]models.Document, error) {
	return s.docs.ListByPublication(ctx, exec, publicationID)
}

// PublishWithParent applies the publish transition against a parent status
// projection. Used directly and by the publication cascade.
func (s *DocumentService) PublishWithParent(ctx context.Context, exec sqlx.ExtContext, fx *outbox.Queue, doc *models.Document, parentStatus models.PublicationStatus, actor models.Actor, remarks string) error {
	observed := doc.Status
	next, err := nextDocumentStatus(doc.Status, parentStatus, eventPublish)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	doc.Status = next
	doc.PublishedAt = &now

	if err := s.docs.Update(ctx, exec, doc, observed); err != nil {
		return mapConcurrency(err, "document")
	}
	if err := s.audit.Insert(ctx, exec, &models.AuditLog{
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     models.AuditActionDocumentPublish,
		Resource:   "document",
		ResourceID: doc.ID,
		OldValues:  statusSnapshot(string(observed)),
		NewValues:  statusSnapshot(string(doc.Status)),
		Remarks:    remarks,
	}); err != nil {
		return appErrors.FromError(err)
	}
	s.ScheduleIndex(fx, doc)
	return nil
}

// RevokeWithParent applies the revoke transition against a parent status
// projection.
func (s *DocumentService) RevokeWithParent(ctx context.Context, exec sqlx.ExtContext, fx *outbox.Queue, doc *models.Document, parentStatus models.PublicationStatus, actor models.Actor, remarks string) error {
	observed := doc.Status
	next, err := nextDocumentStatus(doc.Status, parentStatus, eventRevoke)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	doc.Status = next
	doc.RevokedAt = &now

	if err := s.docs.Update(ctx, exec, doc, observed); err != nil {
		return mapConcurrency(err, "document")
	}
	if err := s.audit.Insert(ctx, exec, &models.AuditLog{
		ActorID:    actor.ID,
		ActorName:  actor.Name,
		Action:     models.AuditActionDocumentRevoke,
		Resource:   "document",
		ResourceID: doc.ID,
		OldValues:  statusSnapshot(string(observed)),
		NewValues:  statusSnapshot(string(doc.Status)),
		Remarks:    remarks,
	}); err != nil {
		return appErrors.FromError(err)
	}
	s.ScheduleRemoval(fx, doc)
	return nil
}

// PropagateOwner copies a publication's owning organisation onto one of its
// documents and re-indexes it. Called from the background worker; idempotent
// so the task queue may retry freely.
func (s *DocumentService) PropagateOwner(ctx context.Context, documentID, ownerID, ownerName string) error {
	doc, err := s.Get(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.OwnerID == ownerID && doc.OwnerName == ownerName {
		return nil
	}
	if err := s.docs.UpdateOwner(ctx, nil, doc.ID, ownerID, ownerName); err != nil {
		return appErrors.FromError(err)
	}
	doc.OwnerID = ownerID
	doc.OwnerName = ownerName
	if doc.Status == models.DocumentStatusPublished {
		if _, err := s.index.IndexDocument(ctx, doc, s.DownloadURL(doc)); err != nil {
			return err
		}
	}
	return nil
}

// ScheduleIndex queues an index upsert carrying a freshly signed download
// URL for the document.
func (s *DocumentService) ScheduleIndex(fx *outbox.Queue, doc *models.Document) {
	snapshot := *doc
	url := s.DownloadURL(&snapshot)
	fx.Schedule(documentKey(doc.ID), func(ctx context.Context) error {
		_, err := s.index.IndexDocument(ctx, &snapshot, url)
		return err
	})
}

// ScheduleRemoval queues an index removal for the document.
func (s *DocumentService) ScheduleRemoval(fx *outbox.Queue, doc *models.Document) {
	snapshot := *doc
	fx.Schedule(documentKey(doc.ID), func(ctx context.Context) error {
		_, err := s.index.RemoveDocument(ctx, &snapshot, false)
		return err
	})
}

// DownloadURL builds the public download URL for a document, carrying a
// signed token the download endpoint verifies. Signing failures are logged
// and yield a bare URL, which the endpoint will reject.
func (s *DocumentService) DownloadURL(doc *models.Document) string {
	base := fmt.Sprintf("%s/documents/%s/download", s.cfg.PublicBaseURL, doc.ID)
	if s.signer == nil {
		return base
	}
	token, _, err := s.signer.Generate(doc.ID, doc.FileName)
	if err != nil {
		s.logger.Warn("download url signing failed", zap.String("document", doc.ID), zap.Error(err))
		return base
	}
	return base + "?token=" + token
}

func documentKey(id string) string { return "document:" + id }

func publicationKey(id string) string { return "publication:" + id }

func statusSnapshot(status string) []byte {
	raw, _ := json.Marshal(map[string]string{"status": statusLabel(status)})
	return raw
}

func toIdentifiers(payload []dto.IdentifierPayload) []models.Identifier {
	identifiers := make([]models.Identifier, 0, len(payload))
	seen := make(map[models.Identifier]struct{}, len(payload))
	for _, p := range payload {
		ident := models.Identifier{Kenmerk: p.Kenmerk, Bron: p.Bron}
		if _, dup := seen[ident]; dup {
			continue
		}
		seen[ident] = struct{}{}
		identifiers = append(identifiers, ident)
	}
	return identifiers
}

func mapConcurrency(err error, resource string) error {
	if errors.Is(err, repository.ErrConcurrentUpdate) {
		return appErrors.Clone(appErrors.ErrConflict, resource+" was modified concurrently")
	}
	return appErrors.FromError(err)
}
