// Package claim transfers unclaimed documents to the identity they were
// issued for. Every transfer is a conditional update in the store, so the
// first writer wins and claims are never reversed.
package claim

import (
	"context"
	"errors"
	"log/slog"

	"educhain/internal/documents/metrics"
	"educhain/internal/documents/models"
	"educhain/internal/identity"
	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
	"educhain/pkg/platform/sentinel"
	"educhain/pkg/platform/tracer"
	"educhain/pkg/platform/tx"
	"educhain/pkg/requestcontext"
)

// Claimant is the verified identity asking for documents: the holder account
// that will own them and the national ID they were issued against.
type Claimant struct {
	HolderID   id.HolderID
	NationalID string
}

type Reconciler struct {
	store   Store
	hasher  Hasher
	events  EventRecorder
	tx      tx.Runner
	metrics *metrics.Metrics
	tracer  tracer.Tracer
	logger  *slog.Logger
}

type Option func(*Reconciler)

func WithEvents(r EventRecorder) Option {
	return func(rc *Reconciler) { rc.events = r }
}

func WithTxRunner(r tx.Runner) Option {
	return func(rc *Reconciler) {
		if r != nil {
			rc.tx = r
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(rc *Reconciler) { rc.metrics = m }
}

func WithTracer(t tracer.Tracer) Option {
	return func(rc *Reconciler) {
		if t != nil {
			rc.tracer = t
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(rc *Reconciler) {
		if logger != nil {
			rc.logger = logger
		}
	}
}

func New(store Store, hasher Hasher, opts ...Option) *Reconciler {
	rc := &Reconciler{
		store:  store,
		hasher: hasher,
		tx:     tx.NoopRunner{},
		tracer: tracer.NewNoop(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// ClaimOne claims the document at (issuer, naturalKey) issued to the
// claimant's identity. It fails with not_found when no such document exists
// and already_claimed when someone, possibly the claimant, holds it.
func (r *Reconciler) ClaimOne(ctx context.Context, c Claimant, issuer id.IssuerID, naturalKey models.NaturalKey) (doc *models.Document, err error) {
	ctx, span := r.tracer.Start(ctx, tracer.SpanClaimOne, tracer.String(tracer.AttrIssuerID, issuer.String()))
	defer func() {
		transferred := 0
		if doc != nil {
			transferred = 1
		}
		r.metrics.IncClaim("one", resultOf(err), transferred)
		span.End(err)
	}()

	fp, err := r.fingerprint(c)
	if err != nil {
		return nil, err
	}
	naturalKey = models.NormalizeNaturalKey(string(naturalKey))
	if issuer.IsNil() || naturalKey == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuer id and natural key are required")
	}
	span.SetAttributes(tracer.String(tracer.AttrIdentity, fp.Short()))
	key := models.UniquenessKey{IssuerID: issuer, Fingerprint: fp.Digest, NaturalKey: naturalKey}
	at := requestcontext.Now(ctx)

	err = r.tx.RunInTx(ctx, func(ctx context.Context) error {
		claimed, err := r.store.ClaimOne(ctx, key, c.HolderID, at)
		if err != nil {
			return err
		}
		if r.events != nil {
			if err := r.events.Claimed(ctx, claimed); err != nil {
				return err
			}
		}
		doc = claimed
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "no document matches this identity and key")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return nil, dErrors.Wrap(err, dErrors.CodeAlreadyClaimed, "document is already claimed")
	default:
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim document")
	}

	r.logger.InfoContext(ctx, "document claimed",
		"public_id", doc.PublicID,
		"issuer_id", issuer.String(),
		"identity", fp.Short(),
		"holder_id", c.HolderID.String(),
	)
	return doc, nil
}

// ClaimAll claims every unclaimed document issued to the claimant's identity
// by any issuer. An identity with nothing left to claim gets an empty slice.
func (r *Reconciler) ClaimAll(ctx context.Context, c Claimant) ([]*models.Document, error) {
	return r.claimAll(ctx, c, nil)
}

// ClaimAllFrom is ClaimAll restricted to one issuer.
func (r *Reconciler) ClaimAllFrom(ctx context.Context, c Claimant, issuer id.IssuerID) ([]*models.Document, error) {
	if issuer.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "issuer id is required")
	}
	return r.claimAll(ctx, c, &issuer)
}

func (r *Reconciler) claimAll(ctx context.Context, c Claimant, issuer *id.IssuerID) (docs []*models.Document, err error) {
	ctx, span := r.tracer.Start(ctx, tracer.SpanClaimAll)
	defer func() {
		span.SetAttributes(tracer.Int(tracer.AttrClaimed, len(docs)))
		r.metrics.IncClaim("all", resultOf(err), len(docs))
		span.End(err)
	}()

	fp, err := r.fingerprint(c)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(tracer.String(tracer.AttrIdentity, fp.Short()))
	at := requestcontext.Now(ctx)

	err = r.tx.RunInTx(ctx, func(ctx context.Context) error {
		claimed, err := r.store.ClaimAllUnclaimed(ctx, fp.Digest, issuer, c.HolderID, at)
		if err != nil {
			return err
		}
		if r.events != nil && len(claimed) > 0 {
			if err := r.events.Claimed(ctx, claimed...); err != nil {
				return err
			}
		}
		docs = claimed
		return nil
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to claim documents")
	}
	if docs == nil {
		docs = []*models.Document{}
	}

	r.logger.InfoContext(ctx, "bulk claim finished",
		"identity", fp.Short(),
		"holder_id", c.HolderID.String(),
		"claimed", len(docs),
	)
	return docs, nil
}

func (r *Reconciler) fingerprint(c Claimant) (identity.Fingerprint, error) {
	if c.HolderID.IsNil() {
		return identity.Fingerprint{}, dErrors.New(dErrors.CodeInvalidInput, "holder id is required")
	}
	fp, err := r.hasher.Fingerprint(c.NationalID)
	if errors.Is(err, identity.ErrInvalidFormat) {
		return identity.Fingerprint{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "national id must be 12 digits")
	}
	if err != nil {
		return identity.Fingerprint{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to fingerprint identity")
	}
	return fp, nil
}

func resultOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(dErrors.CodeOf(err))
}
