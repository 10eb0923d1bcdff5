package issuance

import (
	"context"

	"educhain/internal/blobstore"
	"educhain/internal/documents/models"
	"educhain/internal/identity"
	"educhain/internal/ledger"
)

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Store persists issued documents. Insert returns sentinel.ErrConflict when
// the uniqueness key is already taken.
type Store interface {
	Exists(ctx context.Context, key models.UniquenessKey) (bool, error)
	Insert(ctx context.Context, doc *models.Document) error
}

// Hasher derives identity fingerprints.
type Hasher interface {
	Fingerprint(rawID string) (identity.Fingerprint, error)
}

// Sealer stamps the provenance banner and verification marker.
type Sealer interface {
	Seal(raw []byte, sealText, verificationRef string) ([]byte, error)
}

// BlobStore keeps sealed artifacts.
type BlobStore interface {
	Put(ctx context.Context, category, hint string, data []byte) (blobstore.Object, error)
}

// Anchorer records integrity facts. It degrades to a skipped receipt.
type Anchorer interface {
	Anchor(ctx context.Context, sub ledger.Submission) (ledger.Receipt, error)
}

// EventRecorder appends the issued event in the record's transaction.
type EventRecorder interface {
	Issued(ctx context.Context, doc *models.Document) error
}
