// Package issuance turns a raw document and identity material into a sealed,
// stored, anchored and recorded IssuedDocument.
package issuance

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"educhain/internal/blobstore"
	"educhain/internal/documents/metrics"
	"educhain/internal/documents/models"
	"educhain/internal/identity"
	"educhain/internal/ledger"
	"educhain/internal/seal"
	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
	"educhain/pkg/platform/sentinel"
	"educhain/pkg/platform/tracer"
	"educhain/pkg/platform/tx"
	"educhain/pkg/requestcontext"
)

const VerifyPath = "/api/documents/verify/"

// Orchestrator owns creation of IssuedDocument records.
type Orchestrator struct {
	store         Store
	hasher        Hasher
	sealer        Sealer
	blobs         BlobStore
	anchorer      Anchorer
	events        EventRecorder
	tx            tx.Runner
	verifyBaseURL string
	storeTimeout  time.Duration
	metrics       *metrics.Metrics
	tracer        tracer.Tracer
	logger        *slog.Logger
}

type Option func(*Orchestrator)

// WithVerifyBaseURL sets the origin embedded in verification markers.
func WithVerifyBaseURL(base string) Option {
	return func(o *Orchestrator) { o.verifyBaseURL = strings.TrimRight(base, "/") }
}

// WithStoreTimeout bounds the blob upload. A timed-out upload fails issuance.
func WithStoreTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.storeTimeout = d
		}
	}
}

// WithEvents records document.issued in the same transaction as the insert.
func WithEvents(r EventRecorder) Option {
	return func(o *Orchestrator) { o.events = r }
}

func WithTxRunner(r tx.Runner) Option {
	return func(o *Orchestrator) {
		if r != nil {
			o.tx = r
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithTracer(t tracer.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

func New(store Store, hasher Hasher, sealer Sealer, blobs BlobStore, anchorer Anchorer, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:         store,
		hasher:        hasher,
		sealer:        sealer,
		blobs:         blobs,
		anchorer:      anchorer,
		tx:            tx.NoopRunner{},
		verifyBaseURL: "http://localhost:8080",
		storeTimeout:  30 * time.Second,
		tracer:        tracer.NewNoop(),
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// VerificationURL is the payload of the scannable marker for publicID.
func (o *Orchestrator) VerificationURL(publicID string) string {
	return o.verifyBaseURL + VerifyPath + publicID
}

// Issue validates, seals, stores, anchors and finally records one document.
// Nothing is recorded unless every earlier step succeeded; the store upload
// and ledger anchor of an aborted attempt are unreferenced orphans.
func (o *Orchestrator) Issue(ctx context.Context, req Request) (doc *models.Document, err error) {
	start := time.Now()
	ctx, span := o.tracer.Start(ctx, tracer.SpanIssue,
		tracer.String(tracer.AttrIssuerID, req.IssuerID.String()),
		tracer.String(tracer.AttrKind, string(req.Kind)),
	)
	defer func() {
		o.metrics.IncIssue(string(req.Kind), resultOf(err))
		o.metrics.ObserveIssueLatency(time.Since(start))
		span.End(err)
	}()

	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fp, err := o.hasher.Fingerprint(req.NationalID)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidFormat) {
			return nil, dErrors.Wrap(err, dErrors.CodeInvalidInput, "national id must be 12 digits")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fingerprint identity")
	}
	span.SetAttributes(tracer.String(tracer.AttrIdentity, fp.Short()))

	now := requestcontext.Now(ctx)
	issuedOn := req.Metadata.IssuedOn
	if issuedOn.IsZero() {
		issuedOn = now
	}
	doc = &models.Document{
		ID:         id.DocumentID(uuid.New()),
		PublicID:   models.NewPublicID(req.Kind),
		Kind:       req.Kind,
		IssuerID:   req.IssuerID,
		NaturalKey: req.coordinates().NaturalKey(),
		HolderName: req.Metadata.HolderName,
		Subject:    req.Metadata.Subject,
		RollNumber: strings.ToUpper(req.Metadata.RollNumber),
		Period:     models.Period{Year: req.Metadata.Year, Semester: req.Metadata.Semester},
		Identity:   fp,
		ClaimState: models.ClaimUnclaimed,
		CreatedAt:  now,
	}
	logger := o.logger.With(
		"issuer_id", doc.IssuerID.String(),
		"kind", string(doc.Kind),
		"identity", fp.Short(),
		"natural_key", string(doc.NaturalKey),
	)

	// Fast path only; the insert below is the authoritative guard.
	exists, err := o.store.Exists(ctx, doc.UniquenessKey())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to check existing documents")
	}
	if exists {
		return nil, duplicate()
	}

	sealed, err := o.sealer.Seal(req.Document, sealText(req.Kind, req.Metadata, fp, issuedOn), o.VerificationURL(doc.PublicID))
	if err != nil {
		return nil, sealError(err)
	}
	sum := sha256.Sum256(sealed)
	doc.ContentHash = hex.EncodeToString(sum[:])

	storeCtx, cancel := context.WithTimeout(ctx, o.storeTimeout)
	obj, err := o.blobs.Put(storeCtx, doc.Kind.Category(), string(doc.NaturalKey), sealed)
	cancel()
	if err != nil {
		logger.WarnContext(ctx, "sealed document upload failed", "error", err)
		return nil, storeError(err)
	}
	doc.StorageKey = obj.Key
	doc.PublicURL = obj.PublicURL

	receipt, err := o.anchorer.Anchor(ctx, ledger.Submission{
		DocumentID:  doc.PublicID,
		SubjectName: subjectName(doc),
		Subject:     doc.Subject,
		ContentHash: doc.ContentHash,
	})
	if err != nil {
		logger.ErrorContext(ctx, "ledger anchoring failed", "public_id", doc.PublicID, "error", err)
		return nil, anchorError(err)
	}
	doc.Anchor = models.Anchor{TxRef: receipt.TxRef, Status: receipt.Status, SkipReason: receipt.Reason}
	span.SetAttributes(tracer.String(tracer.AttrAnchorStatus, string(receipt.Status)))

	if err := doc.CheckInvariants(); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "issued document is inconsistent")
	}

	err = o.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := o.store.Insert(ctx, doc); err != nil {
			return err
		}
		if o.events != nil {
			return o.events.Issued(ctx, doc)
		}
		return nil
	})
	if errors.Is(err, sentinel.ErrConflict) {
		logger.InfoContext(ctx, "concurrent issuance won the uniqueness key", "public_id", doc.PublicID)
		return nil, duplicate()
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record document")
	}

	o.metrics.IncAnchor(string(receipt.Status), string(receipt.Reason))
	logger.InfoContext(ctx, "document issued",
		"public_id", doc.PublicID,
		"anchor_status", string(receipt.Status),
		"anchor_skip_reason", string(receipt.Reason),
	)
	return doc, nil
}

// subjectName is the name anchored on the ledger. Marksheets may have no
// holder name, so the roll number stands in.
func subjectName(doc *models.Document) string {
	if doc.HolderName != "" {
		return doc.HolderName
	}
	return doc.RollNumber
}

func duplicate() error {
	return dErrors.New(dErrors.CodeDuplicateIssuance, "a document already exists for this identity and period")
}

func sealError(err error) error {
	if errors.Is(err, seal.ErrUnsealableInput) {
		return dErrors.Wrap(err, dErrors.CodeInvalidInput, "document is not a valid PDF")
	}
	return dErrors.Wrap(err, dErrors.CodeSealRenderingFailed, "failed to seal document")
}

func storeError(err error) error {
	switch {
	case errors.Is(err, blobstore.ErrMisconfigured):
		return dErrors.Wrap(err, dErrors.CodeStoreMisconfigured, "document storage is misconfigured")
	case errors.Is(err, blobstore.ErrUnavailable), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "document storage is unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeStoreUnavailable, "failed to store document")
	}
}

func anchorError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrRejected), errors.Is(err, ledger.ErrAnchorRequired):
		return dErrors.Wrap(err, dErrors.CodeAnchorFailed, "ledger anchoring failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return dErrors.Wrap(err, dErrors.CodeTimeout, "issuance cancelled during anchoring")
	default:
		return dErrors.Wrap(err, dErrors.CodeAnchorFailed, "ledger anchoring failed")
	}
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(dErrors.CodeOf(err))
}
