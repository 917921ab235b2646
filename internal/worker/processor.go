// Package worker consumes the background tasks produced by internal/queue.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/openpubs/publications-api/internal/queue"
	appErrors "github.com/openpubs/publications-api/pkg/errors"
)

type mirrorService interface {
	MirrorFromSource(ctx context.Context, documentID string) error
}

type ownerService interface {
	PropagateOwner(ctx context.Context, documentID, ownerID, ownerName string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	transfers mirrorService
	documents ownerService
	logger    *zap.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(transfers mirrorService, documents ownerService, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{transfers: transfers, documents: documents, logger: logger}
}

// Handler registers the task handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.MirrorDocumentTask, p.handleMirror)
	mux.HandleFunc(queue.PropagateOwnerTask, p.handlePropagateOwner)
	return mux
}

func (p *Processor) handleMirror(ctx context.Context, task *asynq.Task) error {
	var payload queue.MirrorPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.transfers.MirrorFromSource(ctx, payload.DocumentID); err != nil {
		if !appErrors.IsRetryable(err) {
			p.logger.Error("mirror failed permanently",
				zap.String("document", payload.DocumentID),
				zap.Error(err))
			return fmt.Errorf("mirror %s: %w", payload.DocumentID, asynq.SkipRetry)
		}
		p.logger.Warn("mirror failed, will retry",
			zap.String("document", payload.DocumentID),
			zap.Error(err))
		return err
	}
	p.logger.Info("document mirrored", zap.String("document", payload.DocumentID))
	return nil
}

func (p *Processor) handlePropagateOwner(ctx context.Context, task *asynq.Task) error {
	var payload queue.PropagateOwnerPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := p.documents.PropagateOwner(ctx, payload.DocumentID, payload.OwnerID, payload.OwnerName); err != nil {
		p.logger.Warn("owner propagation failed",
			zap.String("document", payload.DocumentID),
			zap.Error(err))
		return err
	}
	return nil
}
