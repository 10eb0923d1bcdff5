// Package events appends document lifecycle events to the outbox.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"educhain/internal/documents/models"
	"educhain/pkg/platform/outbox"
)

const (
	AggregateType = "document"

	TypeIssued  = "document.issued"
	TypeClaimed = "document.claimed"
)

// Issued is the payload of TypeIssued. It never carries identity material.
type Issued struct {
	PublicID     string    `json:"public_id"`
	Kind         string    `json:"kind"`
	IssuerID     string    `json:"issuer_id"`
	NaturalKey   string    `json:"natural_key"`
	ContentHash  string    `json:"content_hash"`
	LedgerTxRef  string    `json:"ledger_tx_ref"`
	AnchorStatus string    `json:"anchor_status"`
	SkipReason   string    `json:"anchor_skip_reason,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Claimed is the payload of TypeClaimed.
type Claimed struct {
	PublicID   string    `json:"public_id"`
	IssuerID   string    `json:"issuer_id"`
	HolderID   string    `json:"holder_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Recorder writes events through an outbox store. Called inside the
// transaction of the state change so both commit together.
type Recorder struct {
	store outbox.Store
}

func NewRecorder(store outbox.Store) *Recorder {
	return &Recorder{store: store}
}

func (r *Recorder) Issued(ctx context.Context, doc *models.Document) error {
	return r.append(ctx, doc.PublicID, TypeIssued, doc.CreatedAt, Issued{
		PublicID:     doc.PublicID,
		Kind:         string(doc.Kind),
		IssuerID:     doc.IssuerID.String(),
		NaturalKey:   string(doc.NaturalKey),
		ContentHash:  doc.ContentHash,
		LedgerTxRef:  doc.Anchor.TxRef,
		AnchorStatus: string(doc.Anchor.Status),
		SkipReason:   string(doc.Anchor.SkipReason),
		OccurredAt:   doc.CreatedAt,
	})
}

// Claimed appends one event per document.
func (r *Recorder) Claimed(ctx context.Context, docs ...*models.Document) error {
	for _, doc := range docs {
		if doc.ClaimedBy == nil || doc.ClaimedAt == nil {
			return fmt.Errorf("document %s is not claimed", doc.PublicID)
		}
		err := r.append(ctx, doc.PublicID, TypeClaimed, *doc.ClaimedAt, Claimed{
			PublicID:   doc.PublicID,
			IssuerID:   doc.IssuerID.String(),
			HolderID:   doc.ClaimedBy.String(),
			OccurredAt: *doc.ClaimedAt,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *Recorder) append(ctx context.Context, aggregateID, eventType string, at time.Time, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", eventType, err)
	}
	if err := r.store.Append(ctx, outbox.NewEntry(AggregateType, aggregateID, eventType, body, at)); err != nil {
		return fmt.Errorf("append %s event: %w", eventType, err)
	}
	return nil
}
