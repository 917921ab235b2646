package service

import (
	"fmt"
	"time"

	"github.com/openpubs/publications-api/internal/models"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
)

// ResolveRetention selects the governing classification for a published
// publication and computes the archive action date.
//
// With multiple classifications the retain-subset wins when non-empty,
// otherwise the destroy-subset. Within the winning subset the shortest
// retention applies for retain and the longest for destroy; ties go to the
// smallest ordering key. The archive action date is the publication date
// plus the winner's retention in calendar years.
func ResolveRetention(publishedAt time.Time, classifications []models.Classification) (*models.RetentionDecision, error) {
	if len(classifications) == 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a published publication requires at least one classification")
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

	if winner.RetentionYears < 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("classification %q has a negative retention period", winner.Code))
	}

	return &models.RetentionDecision{
		Source:            winner.Source,
		CategoryCode:      winner.Code,
		Disposition:       winner.Disposition,
		Explanation:       winner.Explanation,
		ArchiveActionDate: publishedAt.AddDate(winner.RetentionYears, 0, 0),
	}, nil
}

// partitionByDisposition returns the retain-subset when any classification
// retains, otherwise the destroy-subset. The partition is always computed
// explicitly even though mixed sets are rare in practice.
func partitionByDisposition(classifications []models.Classification) []models.Classification {
	var retain, destroy []models.Classification
	for _, cls := range classifications {
		if cls.Disposition == models.DispositionRetain {
			retain = append(retain, cls)
		} else {
			destroy = append(destroy, cls)
		}
	}
	if len(retain) > 0 {
		return retain
	}
	return destroy
}

func better(candidate, current models.Classification) bool {
	if candidate.RetentionYears != current.RetentionYears {
		if candidate.Disposition == models.DispositionRetain {
			return candidate.RetentionYears < current.RetentionYears
		}
		return candidate.RetentionYears > current.RetentionYears
	}
	return candidate.Ordering < current.Ordering
}
