package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/openpubs/publications-api/internal/dto"
	"github.com/openpubs/publications-api/internal/models"
	"github.com/openpubs/publications-api/internal/outbox"
	"github.com/openpubs/publications-api/internal/searchindex"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
)

type publicationStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, pub *models.Publication) error
	GetByID(ctx context.Context, id string) (*models.Publication, error)
	Update(ctx context.Context, exec sqlx.ExtContext, pub *models.Publication, observed models.PublicationStatus) error
	ReplaceIdentifiers(ctx context.Context, exec sqlx.ExtContext, publicationID string, identifiers []models.Identifier) error
}

type classificationLookup interface {
	GetByCodes(ctx context.Context, codes []string) ([]models.Classification, error)
}

type publicationIndexClient interface {
	IndexPublication(ctx context.Context, pub *models.Publication) (searchindex.Result, error)
	RemovePublication(ctx context.Context, pub *models.Publication, force bool) (searchindex.Result, error)
	IndexTopic(ctx context.Context, code string) (searchindex.Result, error)
	RemoveTopic(ctx context.Context, code string) (searchindex.Result, error)
}

// documentCascader is the slice of DocumentService the publication state
// machine needs for cascading child transitions inside its own transaction.
type documentCascader interface {
	ListByPublication(ctx context.Context, exec sqlx.ExtContext, publicationID string) ([]models.Document, error)
	PublishWithParent(ctx context.Context, exec sqlx.ExtContext, fx *outbox.Queue, doc *models.Document, parentStatus models.PublicationStatus, actor models.Actor, remarks string) error
	RevokeWithParent(ctx context.Context, exec sqlx.ExtContext, fx *outbox.Queue, doc *models.Document, parentStatus models.PublicationStatus, actor models.Actor, remarks string) error
	ScheduleIndex(fx *outbox.Queue, doc *models.Document)
}

// ownerPropagator hands owner changes to the background queue; one job per
// affected document.
type ownerPropagator interface {
	EnqueueOwnerPropagation(ctx context.Context, documentID, ownerID, ownerName string) error
}

// PublicationService drives the publication state machine and its cascades.
type PublicationService struct {
	pubs            publicationStore
	documents       documentCascader
	classifications classificationLookup
	audit           auditLogger
	uow             unitOfWork
	index           publicationIndexClient
	propagator      ownerPropagator
	validator       *validator.Validate
	logger          *zap.Logger
}

// NewPublicationService constructs the service.
func NewPublicationService(pubs publicationStore, documents documentCascader, classifications classificationLookup, audit auditLogger, uow unitOfWork, index publicationIndexClient, propagator ownerPropagator, validate *validator.Validate, logger *zap.Logger) *PublicationService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PublicationService{
		pubs:            pubs,
		documents:       documents,
		classifications: classifications,
		audit:           audit,
		uow:             uow,
		index:           index,
		propagator:      propagator,
		validator:       validate,
		logger:          logger,
	}
}

// Create registers a publication. The row starts unset and is immediately
// driven into concept or published; creating a revoked publication is
// impossible by construction of the transition table.
func (s *PublicationService) Create(ctx context.Context, req dto.CreatePublicationRequest, actor models.Actor) (*models.Publication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid publication payload")
	}

	event := eventDraft
	action := models.AuditActionPublicationDraft
	if req.Status == string(models.PublicationStatusPublished) {
		event = eventPublish
		action = models.AuditActionPublicationPublish
	}

	pub := &models.Publication{
		Status:          models.PublicationStatusUnset,
		Title:           req.Title,
		PublisherID:     req.PublisherID,
		PublisherName:   req.PublisherName,
		PublisherRSIN:   req.PublisherRSIN,
		OwnerID:         req.OwnerID,
		OwnerName:       req.OwnerName,
		Classifications: pq.StringArray(req.Classifications),
		Topics:          pq.StringArray(req.Topics),
		Identifiers:     toIdentifiers(req.Identifiers),
	}

	next, err := nextPublicationStatus(pub.Status, event)
	if err != nil {
		return nil, err
	}
	pub.Status = next

	if next == models.PublicationStatusPublished {
		if pub.PublisherID == nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "a publication requires a publisher before publishing")
		}
		now := time.Now().UTC()
		pub.PublishedAt = &now
		if err := s.applyRetention(ctx, pub, now); err != nil {
			return nil, err
		}
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		if err := s.pubs.Create(ctx, tx, pub); err != nil {
			return appErrors.FromError(err)
		}
		if err := s.pubs.ReplaceIdentifiers(ctx, tx, pub.ID, pub.Identifiers); err != nil {
			return appErrors.FromError(err)
		}
		if err := s.audit.Insert(ctx, tx, &models.AuditLog{
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Action:     action,
			Resource:   "publication",
			ResourceID: pub.ID,
			NewValues:  statusSnapshot(string(pub.Status)),
		}); err != nil {
			return appErrors.FromError(err)
		}
		if pub.Status == models.PublicationStatusPublished {
			s.scheduleIndex(fx, pub)
			s.scheduleTopics(fx, nil, pub.Topics)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// Get loads one publication.
func (s *PublicationService) Get(ctx context.Context, id string) (*models.Publication, error) {
	pub, err := s.pubs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "publication not found")
		}
		return nil, appErrors.FromError(err)
	}
	return pub, nil
}

// Publish transitions a publication to published and cascades into every
// child document still in concept. The children evaluate their guard
// against the parent's projected status, before the parent row commits.
func (s *PublicationService) Publish(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Publication, error) {
	pub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	observed := pub.Status
	next, err := nextPublicationStatus(observed, eventPublish)
	if err != nil {
		return nil, err
	}
	if pub.PublisherID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a publication requires a publisher before publishing")
	}

	now := time.Now().UTC()
	pub.Status = next
	pub.PublishedAt = &now
	if err := s.applyRetention(ctx, pub, now); err != nil {
		return nil, err
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		if err := s.pubs.Update(ctx, tx, pub, observed); err != nil {
			return mapConcurrency(err, "publication")
		}
		if err := s.audit.Insert(ctx, tx, &models.AuditLog{
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Action:     models.AuditActionPublicationPublish,
			Resource:   "publication",
			ResourceID: pub.ID,
			OldValues:  statusSnapshot(string(observed)),
			NewValues:  statusSnapshot(string(pub.Status)),
			Remarks:    remarks,
		}); err != nil {
			return appErrors.FromError(err)
		}

		children, err := s.documents.ListByPublication(ctx, tx, pub.ID)
		if err != nil {
			return appErrors.FromError(err)
		}
		for i := range children {
			if children[i].Status != models.DocumentStatusConcept {
				continue
			}
			if err := s.documents.PublishWithParent(ctx, tx, fx, &children[i], pub.Status, actor, remarks); err != nil {
				return err
			}
		}

		s.scheduleIndex(fx, pub)
		s.scheduleTopics(fx, nil, pub.Topics)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// Revoke transitions a published publication to revoked (terminal) and
// cascades into every child document still published. Already-revoked
// children are filtered here at the call site, so a second revoke of a
// child never reaches the document state machine.
func (s *PublicationService) Revoke(ctx context.Context, id string, actor models.Actor, remarks string) (*models.Publication, error) {
	pub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	observed := pub.Status
	next, err := nextPublicationStatus(observed, eventRevoke)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	pub.Status = next
	pub.RevokedAt = &now

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		if err := s.pubs.Update(ctx, tx, pub, observed); err != nil {
			return mapConcurrency(err, "publication")
		}
		if err := s.audit.Insert(ctx, tx, &models.AuditLog{
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Action:     models.AuditActionPublicationRevoke,
			Resource:   "publication",
			ResourceID: pub.ID,
			OldValues:  statusSnapshot(string(observed)),
			NewValues:  statusSnapshot(string(pub.Status)),
			Remarks:    remarks,
		}); err != nil {
			return appErrors.FromError(err)
		}

		children, err := s.documents.ListByPublication(ctx, tx, pub.ID)
		if err != nil {
			return appErrors.FromError(err)
		}
		for i := range children {
			if children[i].Status != models.DocumentStatusPublished {
				continue
			}
			if err := s.documents.RevokeWithParent(ctx, tx, fx, &children[i], pub.Status, actor, remarks); err != nil {
				return err
			}
		}

		s.scheduleRemoval(fx, pub)
		s.scheduleTopics(fx, pub.Topics, nil)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// Update edits metadata without a status change. A classification change on
// an already-published publication re-runs the retention resolver; when the
// resolution inputs, publisher, or owning organisation change, every child
// document is re-indexed, and a publisher change additionally queues a job
// per document carrying the new publisher as its owning organisation.
func (s *PublicationService) Update(ctx context.Context, id string, req dto.UpdatePublicationRequest, actor models.Actor) (*models.Publication, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid publication payload")
	}

	pub, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if pub.Status == models.PublicationStatusRevoked {
		return nil, appErrors.Clone(appErrors.ErrConflict, "cannot modify a revoked publication")
	}

	observed := pub.Status
	oldTopics := append([]string(nil), pub.Topics...)
	classificationsChanged := !sameStringSet(pub.Classifications, req.Classifications)
	publisherChanged := !sameOptional(pub.PublisherID, req.PublisherID)
	ownerChanged := pub.OwnerID != req.OwnerID

	pub.Title = req.Title
	pub.PublisherID = req.PublisherID
	pub.PublisherName = req.PublisherName
	pub.PublisherRSIN = req.PublisherRSIN
	pub.OwnerID = req.OwnerID
	pub.OwnerName = req.OwnerName
	pub.Classifications = pq.StringArray(req.Classifications)
	pub.Topics = pq.StringArray(req.Topics)
	pub.Identifiers = toIdentifiers(req.Identifiers)

	if pub.Status == models.PublicationStatusPublished && classificationsChanged {
		if err := s.applyRetention(ctx, pub, *pub.PublishedAt); err != nil {
			return nil, err
		}
	}

	err = s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		if err := s.pubs.Update(ctx, tx, pub, observed); err != nil {
			return mapConcurrency(err, "publication")
		}
		if err := s.pubs.ReplaceIdentifiers(ctx, tx, pub.ID, pub.Identifiers); err != nil {
			return appErrors.FromError(err)
		}
		if err := s.audit.Insert(ctx, tx, &models.AuditLog{
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Action:     models.AuditActionPublicationUpdate,
			Resource:   "publication",
			ResourceID: pub.ID,
			NewValues:  statusSnapshot(string(pub.Status)),
		}); err != nil {
			return appErrors.FromError(err)
		}

		if !fx.Scheduled(publicationKey(pub.ID)) {
			s.scheduleIndex(fx, pub)
		}
		if pub.Status == models.PublicationStatusPublished {
			s.scheduleTopics(fx, oldTopics, pub.Topics)
		}

		if pub.Status == models.PublicationStatusPublished && (classificationsChanged || publisherChanged || ownerChanged) {
			children, err := s.documents.ListByPublication(ctx, tx, pub.ID)
			if err != nil {
				return appErrors.FromError(err)
			}
			propagate := publisherChanged && s.propagator != nil && pub.PublisherID != nil
			newOwnerID := ""
			newOwnerName := ""
			if propagate {
				newOwnerID = *pub.PublisherID
				if pub.PublisherName != nil {
					newOwnerName = *pub.PublisherName
				}
			}
			for i := range children {
				child := children[i]
				s.documents.ScheduleIndex(fx, &child)
				if propagate {
					docID := child.ID
					fx.Schedule(documentKey(docID), func(ctx context.Context) error {
						return s.propagator.EnqueueOwnerPropagation(ctx, docID, newOwnerID, newOwnerName)
					})
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pub, nil
}

// History lists the audit trail of one publication, newest first.
func (s *PublicationService) History(ctx context.Context, id string) ([]models.AuditLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.audit.ListByResource(ctx, "publication", id)
	if err != nil {
		return nil, appErrors.FromError(err)
	}
	return logs, nil
}

// applyRetention resolves the governing classification and copies the
// decision onto the publication.
func (s *PublicationService) applyRetention(ctx context.Context, pub *models.Publication, publishedAt time.Time) error {
	classifications, err := s.classifications.GetByCodes(ctx, pub.Classifications)
	if err != nil {
		return appErrors.FromError(err)
	}
	decision, err := ResolveRetention(publishedAt, classifications)
	if err != nil {
		return err
	}
	pub.RetentionSource = &decision.Source
	pub.RetentionCategoryCode = &decision.CategoryCode
	pub.RetentionDisposition = decision.Disposition
	pub.RetentionExplanation = &decision.Explanation
	date := decision.ArchiveActionDate
	pub.ArchiveActionDate = &date
	return nil
}

func (s *PublicationService) scheduleIndex(fx *outbox.Queue, pub *models.Publication) {
	snapshot := *pub
	fx.Schedule(publicationKey(pub.ID), func(ctx context.Context) error {
		_, err := s.index.IndexPublication(ctx, &snapshot)
		return err
	})
}

func (s *PublicationService) scheduleRemoval(fx *outbox.Queue, pub *models.Publication) {
	snapshot := *pub
	fx.Schedule(publicationKey(pub.ID), func(ctx context.Context) error {
		_, err := s.index.RemovePublication(ctx, &snapshot, false)
		return err
	})
}

// scheduleTopics upserts topics that appear and removes topics that no
// longer occur on the publication.
func (s *PublicationService) scheduleTopics(fx *outbox.Queue, before, after []string) {
	beforeSet := toSet(before)
	afterSet := toSet(after)
	for code := range afterSet {
		if _, existed := beforeSet[code]; existed {
			continue
		}
		code := code
		fx.Schedule("topic:"+code, func(ctx context.Context) error {
			_, err := s.index.IndexTopic(ctx, code)
			return err
		})
	}
	for code := range beforeSet {
		if _, still := afterSet[code]; still {
			continue
		}
		code := code
		fx.Schedule("topic:"+code, func(ctx context.Context) error {
			_, err := s.index.RemoveTopic(ctx, code)
			return err
		})
	}
}

func sameStringSet(a, b []string) bool {
	if len(toSet(a)) != len(toSet(b)) {
		return false
	}
	set := toSet(a)
	for _, v := range b {
		if _, ok := set[v]; !ok {
			return false
		}
	}
	return true
}

func sameOptional(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
