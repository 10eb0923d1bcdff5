package claim

import (
	"context"
	"time"

	"educhain/internal/documents/models"
	"educhain/internal/identity"
	id "educhain/pkg/domain"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Store performs the conditional claim updates. ClaimOne returns
// sentinel.ErrNotFound or sentinel.ErrAlreadyUsed when nothing was claimed.
type Store interface {
	ClaimOne(ctx context.Context, key models.UniquenessKey, holder id.HolderID, at time.Time) (*models.Document, error)
	ClaimAllUnclaimed(ctx context.Context, fingerprint string, issuer *id.IssuerID, holder id.HolderID, at time.Time) ([]*models.Document, error)
}

type Hasher interface {
	Fingerprint(rawID string) (identity.Fingerprint, error)
}

// EventRecorder appends document.claimed in the claim's transaction.
type EventRecorder interface {
	Claimed(ctx context.Context, docs ...*models.Document) error
}
