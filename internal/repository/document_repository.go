package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/openpubs/publications-api/internal/models"
)

const documentColumns = `id, publication_id, status, owner_id, owner_name,
       file_name, format, size_bytes,
       store_id, object_id, lock_token, upload_complete, source_url,
       registered_at, last_modified_at, published_at, revoked_at`

// DocumentRepository handles document persistence. The transfer checkpoint
// fields (store reference, lock token, upload_complete) are written through
// dedicated methods so each checkpoint is durable on its own.
type DocumentRepository struct {
	db *sqlx.DB
}

// NewDocumentRepository constructs the repository.
func NewDocumentRepository(db *sqlx.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

func (r *DocumentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a document row.
func (r *DocumentRepository) Create(ctx context.Context, exec sqlx.ExtContext, doc *models.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if doc.RegisteredAt.IsZero() {
		doc.RegisteredAt = now
	}
	doc.LastModifiedAt = now

	const query = `INSERT INTO documents
	(id, publication_id, status, owner_id, owner_name, file_name, format, size_bytes,
	 store_id, object_id, lock_token, upload_complete, source_url,
	 registered_at, last_modified_at, published_at, revoked_at)
	VALUES (:id, :publication_id, :status, :owner_id, :owner_name, :file_name, :format, :size_bytes,
	 :store_id, :object_id, :lock_token, :upload_complete, :source_url,
	 :registered_at, :last_modified_at, :published_at, :revoked_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, doc); err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

// GetByID retrieves one document with its identifiers.
func (r *DocumentRepository) GetByID(ctx context.Context, id string) (*models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE id = $1`, documentColumns)
	var doc models.Document
	if err := r.db.GetContext(ctx, &doc, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get document: %w", err)
	}

	identifiers, err := r.ListIdentifiers(ctx, id)
	if err != nil {
		return nil, err
	}
	doc.Identifiers = identifiers
	return &doc, nil
}

// ListByPublication returns all documents of a publication. Runs against the
// provided executor so cascades see rows inside the surrounding transaction.
func (r *DocumentRepository) ListByPublication(ctx context.Context, exec sqlx.ExtContext, publicationID string) ([]models.Document, error) {
	query := fmt.Sprintf(`SELECT %s FROM documents WHERE publication_id = $1 ORDER BY registered_at`, documentColumns)
	var docs []models.Document
	if err := sqlx.SelectContext(ctx, r.exec(exec), &docs, query, publicationID); err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// Update writes a full document row guarded by a compare-and-swap on the
// observed status; zero matched rows surface as ErrConcurrentUpdate.
func (r *DocumentRepository) Update(ctx context.Context, exec sqlx.ExtContext, doc *models.Document, observed models.DocumentStatus) error {
	doc.LastModifiedAt = time.Now().UTC()

	const query = `UPDATE documents SET
	 status = :status,
	 owner_id = :owner_id,
	 owner_name = :owner_name,
	 file_name = :file_name,
	 format = :format,
	 size_bytes = :size_bytes,
	 store_id = :store_id,
	 object_id = :object_id,
	 lock_token = :lock_token,
	 upload_complete = :upload_complete,
	 source_url = :source_url,
	 last_modified_at = :last_modified_at,
	 published_at = :published_at,
	 revoked_at = :revoked_at
	 WHERE id = :id AND status = :observed_status`

	arg := struct {
		*models.Document
		ObservedStatus models.DocumentStatus `db:"observed_status"`
	}{doc, observed}

	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, arg)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check document update rows: %w", err)
	}
	if affected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// SetStoreReference persists the store registration checkpoint: store id,
// object id and lock token in one statement.
func (r *DocumentRepository) SetStoreReference(ctx context.Context, exec sqlx.ExtContext, id, storeID, objectID, lockToken string) error {
	const query = `UPDATE documents SET store_id = $2, object_id = $3, lock_token = $4, last_modified_at = $5 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, storeID, objectID, lockToken, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set store reference: %w", err)
	}
	return requireRow(res, "set store reference")
}

// MarkUploadComplete clears the lock token and flips the completion flag in
// one statement so the two fields never diverge.
func (r *DocumentRepository) MarkUploadComplete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	const query = `UPDATE documents SET lock_token = '', upload_complete = TRUE, last_modified_at = $2 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("mark upload complete: %w", err)
	}
	return requireRow(res, "mark upload complete")
}

// UpdateFileMetadata persists the metadata copied from a mirrored source
// object before registration.
func (r *DocumentRepository) UpdateFileMetadata(ctx context.Context, exec sqlx.ExtContext, id, fileName, format string, sizeBytes int64) error {
	const query = `UPDATE documents SET file_name = $2, format = $3, size_bytes = $4, last_modified_at = $5 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, fileName, format, sizeBytes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update file metadata: %w", err)
	}
	return requireRow(res, "update file metadata")
}

// UpdateOwner rewrites the owning organisation; used by the propagation job
// after a publisher change.
func (r *DocumentRepository) UpdateOwner(ctx context.Context, exec sqlx.ExtContext, id, ownerID, ownerName string) error {
	const query = `UPDATE documents SET owner_id = $2, owner_name = $3, last_modified_at = $4 WHERE id = $1`
	res, err := r.exec(exec).ExecContext(ctx, query, id, ownerID, ownerName, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update document owner: %w", err)
	}
	return requireRow(res, "update document owner")
}

// Delete removes the document row and its identifiers.
func (r *DocumentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, id string) error {
	target := r.exec(exec)
	if _, err := target.ExecContext(ctx, `DELETE FROM document_identifiers WHERE document_id = $1`, id); err != nil {
		return fmt.Errorf("delete document identifiers: %w", err)
	}
	res, err := target.ExecContext(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return requireRow(res, "delete document")
}

// ReplaceIdentifiers rewrites the kenmerk/bron pairs for a document.
func (r *DocumentRepository) ReplaceIdentifiers(ctx context.Context, exec sqlx.ExtContext, documentID string, identifiers []models.Identifier) error {
	target := r.exec(exec)
	if _, err := target.ExecContext(ctx, `DELETE FROM document_identifiers WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("clear document identifiers: %w", err)
	}
	const query = `INSERT INTO document_identifiers (document_id, kenmerk, bron) VALUES ($1, $2, $3)`
	for _, ident := range identifiers {
		if _, err := target.ExecContext(ctx, query, documentID, ident.Kenmerk, ident.Bron); err != nil {
			return fmt.Errorf("insert document identifier: %w", err)
		}
	}
	return nil
}

// ListIdentifiers returns the kenmerk/bron pairs of a document.
func (r *DocumentRepository) ListIdentifiers(ctx context.Context, documentID string) ([]models.Identifier, error) {
	const query = `SELECT kenmerk, bron FROM document_identifiers WHERE document_id = $1 ORDER BY kenmerk, bron`
	var identifiers []models.Identifier
	if err := r.db.SelectContext(ctx, &identifiers, query, documentID); err != nil {
		return nil, fmt.Errorf("list document identifiers: %w", err)
	}
	return identifiers, nil
}

func requireRow(res sql.Result, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
