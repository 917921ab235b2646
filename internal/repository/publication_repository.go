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

const publicationColumns = `id, status, title, publisher_id, publisher_name, publisher_rsin,
       owner_id, owner_name, classifications, topics,
       retention_source, retention_category_code, retention_disposition, archive_action_date, retention_explanation,
       registered_at, last_modified_at, published_at, revoked_at`

// PublicationRepository handles publication persistence.
type PublicationRepository struct {
	db *sqlx.DB
}

// NewPublicationRepository constructs the repository.
func NewPublicationRepository(db *sqlx.DB) *PublicationRepository {
	return &PublicationRepository{db: db}
}

func (r *PublicationRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// Create inserts a publication row.
func (r *PublicationRepository) Create(ctx context.Context, exec sqlx.ExtContext, pub *models.Publication) error {
	if pub.ID == "" {
		pub.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if pub.RegisteredAt.IsZero() {
		pub.RegisteredAt = now
	}
	pub.LastModifiedAt = now

	const query = `INSERT INTO publications
	(id, status, title, publisher_id, publisher_name, publisher_rsin, owner_id, owner_name, classifications, topics,
	 retention_source, retention_category_code, retention_disposition, archive_action_date, retention_explanation,
	 registered_at, last_modified_at, published_at, revoked_at)
	VALUES (:id, :status, :title, :publisher_id, :publisher_name, :publisher_rsin, :owner_id, :owner_name, :classifications, :topics,
	 :retention_source, :retention_category_code, :retention_disposition, :archive_action_date, :retention_explanation,
	 :registered_at, :last_modified_at, :published_at, :revoked_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, pub); err != nil {
		return fmt.Errorf("create publication: %w", err)
	}
	return nil
}

// GetByID retrieves one publication with its identifiers.
func (r *PublicationRepository) GetByID(ctx context.Context, id string) (*models.Publication, error) {
	query := fmt.Sprintf(`SELECT %s FROM publications WHERE id = $1`, publicationColumns)
	var pub models.Publication
	if err := r.db.GetContext(ctx, &pub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get publication: %w", err)
	}

	identifiers, err := r.ListIdentifiers(ctx, id)
	if err != nil {
		return nil, err
	}
	pub.Identifiers = identifiers
	return &pub, nil
}

// Update writes a full publication row guarded by a compare-and-swap on the
// status observed when the transition began. Zero matched rows surface as
// ErrConcurrentUpdate so a losing writer never silently overwrites.
func (r *PublicationRepository) Update(ctx context.Context, exec sqlx.ExtContext, pub *models.Publication, observed models.PublicationStatus) error {
	pub.LastModifiedAt = time.Now().UTC()

	const query = `UPDATE publications SET
	 status = :status,
	 title = :title,
	 publisher_id = :publisher_id,
	 publisher_name = :publisher_name,
	 publisher_rsin = :publisher_rsin,
	 owner_id = :owner_id,
	 owner_name = :owner_name,
	 classifications = :classifications,
	 topics = :topics,
	 retention_source = :retention_source,
	 retention_category_code = :retention_category_code,
	 retention_disposition = :retention_disposition,
	 archive_action_date = :archive_action_date,
	 retention_explanation = :retention_explanation,
	 last_modified_at = :last_modified_at,
	 published_at = :published_at,
	 revoked_at = :revoked_at
	 WHERE id = :id AND status = :observed_status`

	arg := struct {
		*models.Publication
		ObservedStatus models.PublicationStatus `db:"observed_status"`
	}{pub, observed}

	res, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, arg)
	if err != nil {
		return fmt.Errorf("update publication: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("check publication update rows: %w", err)
	}
	if affected == 0 {
		return ErrConcurrentUpdate
	}
	return nil
}

// ReplaceIdentifiers rewrites the kenmerk/bron pairs for a publication.
func (r *PublicationRepository) ReplaceIdentifiers(ctx context.Context, exec sqlx.ExtContext, publicationID string, identifiers []models.Identifier) error {
	target := r.exec(exec)
	if _, err := target.ExecContext(ctx, `DELETE FROM publication_identifiers WHERE publication_id = $1`, publicationID); err != nil {
		return fmt.Errorf("clear publication identifiers: %w", err)
	}
	const query = `INSERT INTO publication_identifiers (publication_id, kenmerk, bron) VALUES ($1, $2, $3)`
	for _, ident := range identifiers {
		if _, err := target.ExecContext(ctx, query, publicationID, ident.Kenmerk, ident.Bron); err != nil {
			return fmt.Errorf("insert publication identifier: %w", err)
		}
	}
	return nil
}

// ListIdentifiers returns the kenmerk/bron pairs of a publication.
func (r *PublicationRepository) ListIdentifiers(ctx context.Context, publicationID string) ([]models.Identifier, error) {
	const query = `SELECT kenmerk, bron FROM publication_identifiers WHERE publication_id = $1 ORDER BY kenmerk, bron`
	var identifiers []models.Identifier
	if err := r.db.SelectContext(ctx, &identifiers, query, publicationID); err != nil {
		return nil, fmt.Errorf("list publication identifiers: %w", err)
	}
	return identifiers, nil
}
