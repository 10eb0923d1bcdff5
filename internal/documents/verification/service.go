// Package verification answers read-side questions about issued documents:
// whether a document matches what the ledger recorded, what a holder owns,
// and where the owner can download the sealed file.
package verification

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"educhain/internal/blobstore"
	"educhain/internal/documents/metrics"
	"educhain/internal/documents/models"
	"educhain/internal/ledger"
	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
	"educhain/pkg/platform/sentinel"
	"educhain/pkg/platform/tracer"
)

// Verification outcomes, also used as the metric label.
const (
	OutcomeVerified    = "verified"
	OutcomeMismatch    = "mismatch"
	OutcomeSkipped     = "skipped"
	OutcomeNotAnchored = "not_anchored"
)

// Result is the answer to a verification lookup. OnLedger is true only when
// the ledger returned a fact for the document; a skipped anchor never counts.
type Result struct {
	Document    *models.Document
	Outcome     string
	OnLedger    bool
	HashMatches bool
	Fact        *ledger.Fact
}

// Integrity compares the hash recorded at issuance with a fresh hash of the
// stored bytes.
type Integrity struct {
	PublicID     string
	RecordedHash string
	ActualHash   string
	Intact       bool
}

type Service struct {
	store    Store
	resolver Resolver
	blobs    BlobStore
	metrics  *metrics.Metrics
	tracer   tracer.Tracer
	logger   *slog.Logger
}

type Option func(*Service)

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func New(store Store, resolver Resolver, blobs BlobStore, opts ...Option) *Service {
	s := &Service{
		store:    store,
		resolver: resolver,
		blobs:    blobs,
		tracer:   tracer.NewNoop(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Verify looks a document up by public id, or by ledger transaction
// reference when ref starts with 0x, and checks it against the ledger.
func (s *Service) Verify(ctx context.Context, ref string) (res *Result, err error) {
	ref = strings.TrimSpace(ref)
	ctx, span := s.tracer.Start(ctx, tracer.SpanVerify, tracer.String(tracer.AttrPublicID, ref))
	defer func() {
		switch {
		case err == nil:
			s.metrics.IncVerify(res.Outcome)
		default:
			s.metrics.IncVerify(string(dErrors.CodeOf(err)))
		}
		span.End(err)
	}()

	if ref == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "verification reference is required")
	}
	if ref == ledger.SkippedTxRef {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "skipped anchors have no ledger reference")
	}

	var doc *models.Document
	if isTxRef(ref) {
		doc, err = s.store.FindByTxRef(ctx, ref)
	} else {
		doc, err = s.store.FindByPublicID(ctx, strings.ToUpper(ref))
	}
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no document matches this reference")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
	}

	res = &Result{Document: doc}
	if doc.Anchor.Status == ledger.StatusSkipped {
		res.Outcome = OutcomeSkipped
		span.SetAttributes(tracer.String(tracer.AttrAnchorStatus, string(ledger.StatusSkipped)))
		return res, nil
	}

	fact, err := s.resolver.Resolve(ctx, doc.PublicID)
	switch {
	case errors.Is(err, ledger.ErrNotAnchored):
		// the record claims an anchor the ledger does not know about
		s.logger.WarnContext(ctx, "anchored document missing from ledger",
			"public_id", doc.PublicID,
			"tx_ref", doc.Anchor.TxRef,
		)
		res.Outcome = OutcomeNotAnchored
		return res, nil
	case err != nil:
		return nil, dErrors.Wrap(err, dErrors.CodeAnchorLookupFailed, "ledger lookup failed")
	}

	res.OnLedger = true
	res.Fact = &fact
	res.HashMatches = strings.EqualFold(fact.ContentHash, doc.ContentHash)
	res.Outcome = OutcomeVerified
	if !res.HashMatches {
		res.Outcome = OutcomeMismatch
		s.logger.WarnContext(ctx, "ledger hash mismatch", "public_id", doc.PublicID)
	}
	return res, nil
}

// ListHeld returns the documents claimed by holder, newest first.
func (s *Service) ListHeld(ctx context.Context, holder id.HolderID) ([]*models.Document, error) {
	if holder.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "holder id is required")
	}
	docs, err := s.store.ListByHolder(ctx, holder)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list documents")
	}
	slices.Reverse(docs)
	if docs == nil {
		docs = []*models.Document{}
	}
	return docs, nil
}

// DownloadURL returns a short-lived signed URL for the sealed file. Only the
// holder of a claimed document may download it. A zero ttl uses the default.
func (s *Service) DownloadURL(ctx context.Context, holder id.HolderID, publicID string, ttl time.Duration) (string, error) {
	doc, err := s.find(ctx, publicID)
	if err != nil {
		return "", err
	}
	if holder.IsNil() || !doc.HeldBy(holder) {
		return "", dErrors.New(dErrors.CodeForbidden, "only the holder may download this document")
	}
	url, err := s.blobs.SignedURL(ctx, doc.StorageKey, blobstore.ClampTTL(ttl))
	if err != nil {
		return "", blobError(err, "failed to sign download url")
	}
	return url, nil
}

// CheckIntegrity re-reads the stored file and recomputes its content hash.
func (s *Service) CheckIntegrity(ctx context.Context, publicID string) (*Integrity, error) {
	doc, err := s.find(ctx, publicID)
	if err != nil {
		return nil, err
	}
	data, err := s.blobs.Get(ctx, doc.StorageKey)
	if err != nil {
		return nil, blobError(err, "failed to read stored document")
	}
	sum := sha256.Sum256(data)
	actual := hex.EncodeToString(sum[:])
	result := &Integrity{
		PublicID:     doc.PublicID,
		RecordedHash: doc.ContentHash,
		ActualHash:   actual,
		Intact:       actual == doc.ContentHash,
	}
	if !result.Intact {
		s.logger.WarnContext(ctx, "stored document does not match its content hash", "public_id", doc.PublicID)
	}
	return result, nil
}

func (s *Service) find(ctx context.Context, publicID string) (*models.Document, error) {
	publicID = strings.ToUpper(strings.TrimSpace(publicID))
	if publicID == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "public id is required")
	}
	doc, err := s.store.FindByPublicID(ctx, publicID)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "document not found")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load document")
	}
	return doc, nil
}

func blobError(err error, msg string) error {
	switch {
	case errors.Is(err, blobstore.ErrNotFound):
		return dErrors.Wrap(err, dErrors.CodeNotFound, msg)
	case errors.Is(err, blobstore.ErrMisconfigured):
		return dErrors.Wrap(err, dErrors.CodeStoreMisconfigured, msg)
	case errors.Is(err, blobstore.ErrUnavailable):
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, msg)
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, msg)
	}
}

func isTxRef(ref string) bool {
	return len(ref) > 2 && (strings.HasPrefix(ref, "0x") || strings.HasPrefix(ref, "0X"))
}
