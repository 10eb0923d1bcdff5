package verification

import (
	"context"
	"time"

	"educhain/internal/documents/models"
	"educhain/internal/ledger"
	id "educhain/pkg/domain"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

type Store interface {
	FindByPublicID(ctx context.Context, publicID string) (*models.Document, error)
	FindByTxRef(ctx context.Context, txRef string) (*models.Document, error)
	ListByHolder(ctx context.Context, holder id.HolderID) ([]*models.Document, error)
}

// Resolver reads anchored facts back from the ledger.
type Resolver interface {
	Resolve(ctx context.Context, documentID string) (ledger.Fact, error)
}

type BlobStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}
