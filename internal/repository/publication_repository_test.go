package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/openpubs/publications-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func publicationRows(pub *models.Publication) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "status", "title", "publisher_id", "publisher_name", "publisher_rsin",
		"owner_id", "owner_name", "classifications", "topics",
		"retention_source", "retention_category_code", "retention_disposition", "archive_action_date", "retention_explanation",
		"registered_at", "last_modified_at", "published_at", "revoked_at",
	}).AddRow(
		pub.ID, pub.Status, pub.Title, pub.PublisherID, pub.PublisherName, pub.PublisherRSIN,
		pub.OwnerID, pub.OwnerName, "{}", "{}",
		pub.RetentionSource, pub.RetentionCategoryCode, pub.RetentionDisposition, pub.ArchiveActionDate, pub.RetentionExplanation,
		pub.RegisteredAt, pub.LastModifiedAt, pub.PublishedAt, pub.RevokedAt,
	)
}

func TestPublicationRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPublicationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO publications")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	pub := &models.Publication{
		Status:    models.PublicationStatusConcept,
		Title:     "Besluit parkeervergunningen",
		OwnerID:   "org-1",
		OwnerName: "Gemeente Voorbeeld",
	}
	require.NoError(t, repo.Create(context.Background(), nil, pub))
	require.NotEmpty(t, pub.ID)
	require.False(t, pub.RegisteredAt.IsZero())

	pub.RegisteredAt = time.Now().UTC()
	pub.LastModifiedAt = pub.RegisteredAt
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, status, title")).
		WithArgs(pub.ID).
		WillReturnRows(publicationRows(pub))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT kenmerk, bron FROM publication_identifiers")).
		WithArgs(pub.ID).
		WillReturnRows(sqlmock.NewRows([]string{"kenmerk", "bron"}).AddRow("ABC-1", "vergunningen"))

	found, err := repo.GetByID(context.Background(), pub.ID)
	require.NoError(t, err)
	require.Equal(t, pub.ID, found.ID)
	require.Len(t, found.Identifiers, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublicationRepositoryUpdateCompareAndSwap(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPublicationRepository(db)
	pub := &models.Publication{
		ID:        "pub-1",
		Status:    models.PublicationStatusPublished,
		Title:     "Besluit",
		OwnerID:   "org-1",
		OwnerName: "Gemeente Voorbeeld",
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE publications SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.Update(context.Background(), nil, pub, models.PublicationStatusConcept))

	// A concurrent writer already moved the row; zero rows match.
	mock.ExpectExec(regexp.QuoteMeta("UPDATE publications SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.Update(context.Background(), nil, pub, models.PublicationStatusConcept)
	require.ErrorIs(t, err, ErrConcurrentUpdate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPublicationRepositoryReplaceIdentifiers(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewPublicationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM publication_identifiers")).
		WithArgs("pub-1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO publication_identifiers")).
		WithArgs("pub-1", "ABC-1", "vergunningen").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.ReplaceIdentifiers(context.Background(), nil, "pub-1", []models.Identifier{
		{Kenmerk: "ABC-1", Bron: "vergunningen"},
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
