package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/openpubs/publications-api/internal/contentstore"
	"github.com/openpubs/publications-api/internal/models"
	"github.com/openpubs/publications-api/internal/outbox"
	"github.com/openpubs/publications-api/internal/searchindex"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
)

type transferDocumentStore interface {
	GetByID(ctx context.Context, id string) (*models.Document, error)
	SetStoreReference(ctx context.Context, exec sqlx.ExtContext, id, storeID, objectID, lockToken string) error
	MarkUploadComplete(ctx context.Context, exec sqlx.ExtContext, id string) error
	UpdateFileMetadata(ctx context.Context, exec sqlx.ExtContext, id, fileName, format string, sizeBytes int64) error
	Delete(ctx context.Context, exec sqlx.ExtContext, id string) error
}

type transferIndexClient interface {
	RemoveDocument(ctx context.Context, doc *models.Document, force bool) (searchindex.Result, error)
}

// TransferServiceConfig carries the settings the coordinator needs beyond
// the store client itself.
type TransferServiceConfig struct {
	PublicBaseURL string
	// DefaultOwnerRSIN registers objects when the publication's publisher
	// carries no RSIN.
	DefaultOwnerRSIN string
	// PlaceholderTypeURL registers objects for publications that have no
	// classification yet.
	PlaceholderTypeURL string
}

// TransferService coordinates chunked document transfers against the
// external content store. Checkpoints (store reference, lock token,
// upload_complete) are persisted outside any caller transaction the moment
// they are known, so an interrupted transfer resumes instead of restarting.
type TransferService struct {
	docs            transferDocumentStore
	pubs            publicationGetter
	classifications classificationLookup
	audit           auditLogger
	uow             unitOfWork
	store           contentstore.Client
	index           transferIndexClient
	logger          *zap.Logger
	cfg             TransferServiceConfig
}

// NewTransferService constructs the coordinator.
func NewTransferService(docs transferDocumentStore, pubs publicationGetter, classifications classificationLookup, audit auditLogger, uow unitOfWork, store contentstore.Client, index transferIndexClient, logger *zap.Logger, cfg TransferServiceConfig) *TransferService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:8080/api/v1"
	}
	return &TransferService{
		docs:            docs,
		pubs:            pubs,
		classifications: classifications,
		audit:           audit,
		uow:             uow,
		store:           store,
		index:           index,
		logger:          logger,
		cfg:             cfg,
	}
}

// Register creates the document's object in the content store and persists
// the store reference and lock token immediately. Idempotent: a document
// that already carries a store reference gets its current part state back
// without a second object being created.
func (s *TransferService) Register(ctx context.Context, documentID string) ([]models.FilePart, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if doc.HasStoreReference() {
		obj, err := s.store.RetrieveObject(ctx, *doc.ObjectID)
		if err != nil {
			return nil, transferErr(err, "retrieving registered object")
		}
		return s.callerParts(doc, obj.Parts), nil
	}
	created, err := s.register(ctx, doc)
	if err != nil {
		return nil, err
	}
	return s.callerParts(doc, created.Parts), nil
}

// register performs the store-side object creation and checkpoints the
// reference. Shared by Register and MirrorFromSource.
func (s *TransferService) register(ctx context.Context, doc *models.Document) (*contentstore.CreatedObject, error) {
	pub, err := s.pubs.GetByID(ctx, doc.PublicationID)
	if err != nil {
		return nil, appErrors.FromError(err)
	}

	typeURL, err := s.governingTypeURL(ctx, pub)
	if err != nil {
		return nil, err
	}
	rsin := s.cfg.DefaultOwnerRSIN
	if pub.PublisherRSIN != nil && *pub.PublisherRSIN != "" {
		rsin = *pub.PublisherRSIN
	}

	created, err := s.store.CreateObject(ctx, contentstore.ObjectMetadata{
		FileName:  doc.FileName,
		Format:    doc.Format,
		SizeBytes: doc.SizeBytes,
		TypeURL:   typeURL,
		OwnerRSIN: rsin,
	})
	if err != nil {
		return nil, transferErr(err, "creating object")
	}

	// Checkpoint before anything else can fail; a crash after this point
	// resumes against the same object.
	if err := s.docs.SetStoreReference(ctx, nil, doc.ID, s.store.StoreID(), created.ObjectID, created.LockToken); err != nil {
		return nil, appErrors.FromError(err)
	}
	storeID := s.store.StoreID()
	doc.StoreID = &storeID
	doc.ObjectID = &created.ObjectID
	doc.LockToken = created.LockToken
	return created, nil
}

// UploadPart proxies one chunk to the store under the document's lock token
// and finalizes when the store confirms every part arrived.
func (s *TransferService) UploadPart(ctx context.Context, documentID string, seq int, data []byte) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if !doc.HasStoreReference() {
		return appErrors.Clone(appErrors.ErrConflict, "document is not registered with the content store")
	}
	if doc.UploadComplete {
		return appErrors.Clone(appErrors.ErrConflict, "document upload is already complete")
	}

	expected := expectedPartSize(doc.SizeBytes, s.store.ChunkSize(), seq)
	if expected <= 0 {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("part %d does not exist for this document", seq))
	}
	if int64(len(data)) != expected {
		return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("part %d must be %d bytes, got %d", seq, expected, len(data)))
	}

	if err := s.store.UploadPart(ctx, *doc.ObjectID, seq, doc.LockToken, data); err != nil {
		// Lock token stays on the row so the part can be retried.
		return transferErr(err, fmt.Sprintf("uploading part %d", seq))
	}
	return s.CheckAndFinalize(ctx, doc)
}

// CheckAndFinalize asks the store whether every part arrived; if so the
// object is unlocked and the local row marked complete in one statement.
// Idempotent: an already-complete document is a no-op.
func (s *TransferService) CheckAndFinalize(ctx context.Context, doc *models.Document) error {
	if doc.UploadComplete {
		return nil
	}
	complete, err := s.store.PartsComplete(ctx, *doc.ObjectID)
	if err != nil {
		return transferErr(err, "checking part completion")
	}
	if !complete {
		return nil
	}
	if err := s.store.Unlock(ctx, *doc.ObjectID, doc.LockToken); err != nil {
		return transferErr(err, "unlocking object")
	}
	if err := s.docs.MarkUploadComplete(ctx, nil, doc.ID); err != nil {
		return appErrors.FromError(err)
	}
	doc.LockToken = ""
	doc.UploadComplete = true
	return nil
}

// Download streams the document's bytes. Conflict before the upload
// completed; gateway error when the store disagrees with the local flag.
func (s *TransferService) Download(ctx context.Context, documentID string) (io.ReadCloser, int64, string, error) {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return nil, 0, "", err
	}
	if !doc.UploadComplete || !doc.HasStoreReference() {
		return nil, 0, "", appErrors.Clone(appErrors.ErrConflict, "document upload is not complete")
	}
	complete, err := s.store.PartsComplete(ctx, *doc.ObjectID)
	if err != nil {
		return nil, 0, "", transferErr(err, "checking part completion")
	}
	if !complete {
		return nil, 0, "", appErrors.Clone(appErrors.ErrGateway, "content store reports incomplete content for a completed upload")
	}
	body, length, err := s.store.Download(ctx, *doc.ObjectID)
	if err != nil {
		return nil, 0, "", transferErr(err, "downloading object")
	}
	return body, length, doc.FileName, nil
}

// MirrorFromSource pulls a document's bytes from the foreign store behind
// its source URL into our own store. Resumable at every step: remote
// metadata is copied before registration, registration happens at most
// once, and only parts the store reports incomplete are re-uploaded.
func (s *TransferService) MirrorFromSource(ctx context.Context, documentID string) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}
	if doc.UploadComplete {
		return nil
	}
	if doc.SourceURL == nil || *doc.SourceURL == "" {
		return appErrors.Clone(appErrors.ErrValidation, "document has no source url to mirror from")
	}

	remote, err := s.store.RetrieveObject(ctx, *doc.SourceURL)
	if err != nil {
		return transferErr(err, "retrieving source object")
	}
	if metadataDiffers(doc, remote.Metadata) {
		if err := s.docs.UpdateFileMetadata(ctx, nil, doc.ID, remote.Metadata.FileName, remote.Metadata.Format, remote.Metadata.SizeBytes); err != nil {
			return appErrors.FromError(err)
		}
		doc.FileName = remote.Metadata.FileName
		doc.Format = remote.Metadata.Format
		doc.SizeBytes = remote.Metadata.SizeBytes
	}

	var parts []contentstore.Part
	if doc.HasStoreReference() {
		own, err := s.store.RetrieveObject(ctx, *doc.ObjectID)
		if err != nil {
			return transferErr(err, "retrieving registered object")
		}
		parts = own.Parts
	} else {
		created, err := s.register(ctx, doc)
		if err != nil {
			return err
		}
		parts = created.Parts
	}

	if err := s.ensureLock(ctx, doc); err != nil {
		return err
	}

	remoteBySeq := make(map[int]contentstore.Part, len(remote.Parts))
	for _, p := range remote.Parts {
		remoteBySeq[p.Seq] = p
	}
	for _, part := range parts {
		if part.Completed {
			continue
		}
		source, ok := remoteBySeq[part.Seq]
		if !ok {
			return appErrors.Clone(appErrors.ErrGateway, fmt.Sprintf("source object has no part %d", part.Seq))
		}
		data, err := s.store.DownloadPart(ctx, source.URL)
		if err != nil {
			return transferErr(err, fmt.Sprintf("downloading source part %d", part.Seq))
		}
		if err := s.store.UploadPart(ctx, *doc.ObjectID, part.Seq, doc.LockToken, data); err != nil {
			return transferErr(err, fmt.Sprintf("uploading part %d", part.Seq))
		}
	}

	return s.CheckAndFinalize(ctx, doc)
}

// Destroy removes a document everywhere. The index removal effect is
// scheduled before anything else so search never outlives the row; the
// store deletion is best effort and a failure is logged and audited but
// never blocks the local delete.
func (s *TransferService) Destroy(ctx context.Context, documentID string, actor models.Actor) error {
	doc, err := s.getDocument(ctx, documentID)
	if err != nil {
		return err
	}

	return s.uow.Do(ctx, func(ctx context.Context, tx *sqlx.Tx, fx *outbox.Queue) error {
		snapshot := *doc
		fx.Schedule(documentKey(doc.ID), func(ctx context.Context) error {
			_, err := s.index.RemoveDocument(ctx, &snapshot, true)
			return err
		})

		if doc.HasStoreReference() {
			if err := s.store.DeleteObject(ctx, *doc.ObjectID); err != nil {
				s.logger.Warn("content store delete failed",
					zap.String("document", doc.ID),
					zap.String("object", *doc.ObjectID),
					zap.Error(err))
				if auditErr := s.audit.Insert(ctx, tx, &models.AuditLog{
					ActorID:    actor.ID,
					ActorName:  actor.Name,
					Action:     models.AuditActionStoreDeleteFailed,
					Resource:   "document",
					ResourceID: doc.ID,
					Detail:     err.Error(),
				}); auditErr != nil {
					return appErrors.FromError(auditErr)
				}
			}
		}

		if err := s.docs.Delete(ctx, tx, doc.ID); err != nil {
			return appErrors.FromError(err)
		}
		return appErrors.FromError(s.audit.Insert(ctx, tx, &models.AuditLog{
			ActorID:    actor.ID,
			ActorName:  actor.Name,
			Action:     models.AuditActionDocumentDestroy,
			Resource:   "document",
			ResourceID: doc.ID,
			OldValues:  statusSnapshot(string(doc.Status)),
		}))
	})
}

func (s *TransferService) getDocument(ctx context.Context, id string) (*models.Document, error) {
	doc, err := s.docs.GetByID(ctx, id)
	if err != nil {
		return nil, notFoundOr(err, "document not found")
	}
	return doc, nil
}

// ensureLock reacquires the store lock when the checkpoint lost it, which
// happens when a previous run crashed between unlock and the local flag.
func (s *TransferService) ensureLock(ctx context.Context, doc *models.Document) error {
	if doc.LockToken != "" {
		return nil
	}
	token, err := s.store.Lock(ctx, *doc.ObjectID)
	if err != nil {
		return transferErr(err, "reacquiring object lock")
	}
	if err := s.docs.SetStoreReference(ctx, nil, doc.ID, *doc.StoreID, *doc.ObjectID, token); err != nil {
		return appErrors.FromError(err)
	}
	doc.LockToken = token
	return nil
}

// governingTypeURL resolves the external type URL from the publication's
// governing classification, falling back to the configured placeholder when
// the publication has no classification or the winner carries no type URL.
func (s *TransferService) governingTypeURL(ctx context.Context, pub *models.Publication) (string, error) {
	if len(pub.Classifications) == 0 {
		return s.cfg.PlaceholderTypeURL, nil
	}
	classifications, err := s.classifications.GetByCodes(ctx, pub.Classifications)
	if err != nil {
		return "", appErrors.FromError(err)
	}
	winner := classifications[0]
	if len(classifications) > 1 {
		subset := partitionByDisposition(classifications)
		winner = subset[0]
		for _, cls := range subset[1:] {
			if better(cls, winner) {
				winner = cls
			}
		}
	}
	if winner.TypeURL == "" {
		return s.cfg.PlaceholderTypeURL, nil
	}
	return winner.TypeURL, nil
}

// callerParts maps the store's part list onto caller-resolvable upload URLs
// on our own API. Falls back to deriving the list from size and chunk size
// when the store reported none.
func (s *TransferService) callerParts(doc *models.Document, reported []contentstore.Part) []models.FilePart {
	if len(reported) == 0 {
		reported = deriveParts(doc.SizeBytes, s.store.ChunkSize())
	}
	parts := make([]models.FilePart, 0, len(reported))
	for _, p := range reported {
		parts = append(parts, models.FilePart{
			Seq:       p.Seq,
			SizeBytes: p.SizeBytes,
			Completed: p.Completed,
			URL:       fmt.Sprintf("%s/documents/%s/parts/%d", s.cfg.PublicBaseURL, doc.ID, p.Seq),
		})
	}
	return parts
}

// deriveParts splits a byte size into sequential chunks. Part numbering
// starts at 1; the last part carries the remainder.
func deriveParts(sizeBytes, chunkSize int64) []contentstore.Part {
	if sizeBytes <= 0 || chunkSize <= 0 {
		return nil
	}
	count := int((sizeBytes + chunkSize - 1) / chunkSize)
	parts := make([]contentstore.Part, 0, count)
	remaining := sizeBytes
	for seq := 1; seq <= count; seq++ {
		size := chunkSize
		if remaining < chunkSize {
			size = remaining
		}
		parts = append(parts, contentstore.Part{Seq: seq, SizeBytes: size})
		remaining -= size
	}
	return parts
}

func expectedPartSize(sizeBytes, chunkSize int64, seq int) int64 {
	for _, part := range deriveParts(sizeBytes, chunkSize) {
		if part.Seq == seq {
			return part.SizeBytes
		}
	}
	return 0
}

func metadataDiffers(doc *models.Document, meta contentstore.ObjectMetadata) bool {
	return doc.FileName != meta.FileName || doc.Format != meta.Format || doc.SizeBytes != meta.SizeBytes
}

func transferErr(err error, action string) error {
	return appErrors.Wrap(err, appErrors.ErrTransfer.Code, appErrors.ErrTransfer.Status, "content store transfer failed while "+action)
}

func notFoundOr(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, message)
	}
	return appErrors.FromError(err)
}
