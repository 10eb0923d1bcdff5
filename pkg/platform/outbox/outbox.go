// Package outbox records domain events in the same transaction as the state
// change that produced them. A worker later publishes them to Kafka.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Entry is a pending event.
type Entry struct {
	ID            uuid.UUID
	AggregateType string // e.g. "document"
	AggregateID   string // e.g. the document public id
	EventType     string // e.g. "document.issued"
	Payload       []byte // JSON
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil while pending
}

func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

func NewEntry(aggregateType, aggregateID, eventType string, payload []byte, at time.Time) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     at,
	}
}

// Store is the outbox persistence contract. Implementations must be safe for
// concurrent use.
type Store interface {
	// Append joins the transaction carried by ctx when there is one.
	Append(ctx context.Context, entry *Entry) error
	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error
	// MarkProcessedBatch marks every pending entry in ids and returns how many changed.
	MarkProcessedBatch(ctx context.Context, ids []uuid.UUID, processedAt time.Time) (int64, error)
	CountPending(ctx context.Context) (int64, error)
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}
