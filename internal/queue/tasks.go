// Package queue defines the background task types and their enqueue side of
// the contract; internal/worker holds the consuming side.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// MirrorDocumentTask pulls a document's bytes from its source URL into
	// our own content store.
	MirrorDocumentTask = "document:mirror"
	// PropagateOwnerTask copies a publication's owning organisation onto
	// one child document.
	PropagateOwnerTask = "document:propagate_owner"
)

// MirrorPayload identifies the document to mirror. The source URL lives on
// the row so the payload stays valid when the source changes between
// enqueue and execution.
type MirrorPayload struct {
	DocumentID string `json:"document_id"`
}

// PropagateOwnerPayload carries the new owner for one document.
type PropagateOwnerPayload struct {
	DocumentID string `json:"document_id"`
	OwnerID    string `json:"owner_id"`
	OwnerName  string `json:"owner_name"`
}

// Client wraps the asynq producer with typed enqueue helpers.
type Client struct {
	client     *asynq.Client
	maxRetries int
}

// NewClient constructs the producer. maxRetries applies to every task.
func NewClient(client *asynq.Client, maxRetries int) *Client {
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Client{client: client, maxRetries: maxRetries}
}

// EnqueueMirror schedules a mirror run for the document.
func (c *Client) EnqueueMirror(ctx context.Context, documentID string) error {
	return c.enqueue(ctx, MirrorDocumentTask, MirrorPayload{DocumentID: documentID})
}

// EnqueueOwnerPropagation schedules an owner update for one document.
func (c *Client) EnqueueOwnerPropagation(ctx context.Context, documentID, ownerID, ownerName string) error {
	return c.enqueue(ctx, PropagateOwnerTask, PropagateOwnerPayload{
		DocumentID: documentID,
		OwnerID:    ownerID,
		OwnerName:  ownerName,
	})
}

func (c *Client) enqueue(ctx context.Context, taskType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	task := asynq.NewTask(taskType, data)
	if _, err := c.client.EnqueueContext(ctx, task, asynq.MaxRetry(c.maxRetries)); err != nil {
		return fmt.Errorf("enqueue %s: %w", taskType, err)
	}
	return nil
}
