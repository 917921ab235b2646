package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/openpubs/publications-api/internal/models"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
)

// ClassificationRepository reads the information-category value list. The
// list changes rarely, so lookups go through Redis with a short TTL.
type ClassificationRepository struct {
	db     *sqlx.DB
	cache  *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewClassificationRepository constructs the repository. The cache client
// may be nil; lookups then always hit the database.
func NewClassificationRepository(db *sqlx.DB, cache *redis.Client, ttl time.Duration, logger *zap.Logger) *ClassificationRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &ClassificationRepository{db: db, cache: cache, ttl: ttl, logger: logger}
}

// GetByCodes resolves classification codes to value-list entries, in the
// order of the requested codes. Unknown codes are an error: a publication
// must never reference a category that has left the value list.
func (r *ClassificationRepository) GetByCodes(ctx context.Context, codes []string) ([]models.Classification, error) {
	if len(codes) == 0 {
		return nil, nil
	}

	key := cacheKey(codes)
	var cached []models.Classification
	if err := r.cacheGet(ctx, key, &cached); err == nil {
		return cached, nil
	}

	const query = `SELECT code, disposition, retention_years, ordering, source, explanation, type_url
	FROM classifications WHERE code = ANY($1)`
	var rows []models.Classification
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(codes)); err != nil {
		return nil, fmt.Errorf("get classifications: %w", err)
	}

	byCode := make(map[string]models.Classification, len(rows))
	for _, row := range rows {
		byCode[row.Code] = row
	}
	result := make([]models.Classification, 0, len(codes))
	for _, code := range codes {
		cls, ok := byCode[code]
		if !ok {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown classification %q", code))
		}
		result = append(result, cls)
	}

	r.cacheSet(ctx, key, result)
	return result, nil
}

func (r *ClassificationRepository) cacheGet(ctx context.Context, key string, dest interface{}) error {
	if r.cache == nil {
		return appErrors.ErrCacheMiss
	}
	raw, err := r.cache.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return appErrors.ErrCacheMiss
		}
		r.logger.Warn("classification cache get failed", zap.Error(err))
		return appErrors.ErrCacheMiss
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return appErrors.ErrCacheMiss
	}
	return nil
}

func (r *ClassificationRepository) cacheSet(ctx context.Context, key string, value interface{}) {
	if r.cache == nil {
		return
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return
	}
	if err := r.cache.Set(ctx, key, payload, r.ttl).Err(); err != nil {
		r.logger.Warn("classification cache set failed", zap.Error(err))
	}
}

func cacheKey(codes []string) string {
	sorted := append([]string(nil), codes...)
	sort.Strings(sorted)
	return "classifications:" + strings.Join(sorted, ",")
}
