package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"educhain/pkg/platform/circuit"
	"educhain/pkg/platform/tracer"
)

//go:generate mockgen -source=ledger.go -destination=mocks/mocks.go -package=mocks

// Service wraps a Client with the degrade policy, a circuit breaker, a
// resolve cache and single-flight resolution.
type Service struct {
	client    Client
	cache     Cache
	breaker   *circuit.Breaker
	timeout   time.Duration
	mandatory bool
	group     singleflight.Group
	metrics   *Metrics
	tracer    tracer.Tracer
	logger    *slog.Logger
}

type Option func(*Service)

// WithClient sets the ledger client. Without one the ledger is unconfigured.
func WithClient(c Client) Option {
	return func(s *Service) { s.client = c }
}

func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Service) {
		if b != nil {
			s.breaker = b
		}
	}
}

// WithTimeout bounds each ledger call.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithMandatory makes Anchor fail instead of returning a skipped receipt.
func WithMandatory(mandatory bool) Option {
	return func(s *Service) { s.mandatory = mandatory }
}

func WithMetrics(m *Metrics) Option {
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

func NewService(opts ...Option) *Service {
	s := &Service{
		breaker: circuit.New("ledger", circuit.WithFailureThreshold(3), circuit.WithSuccessThreshold(1)),
		timeout: 10 * time.Second,
		tracer:  tracer.NewNoop(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Configured reports whether a ledger client is wired.
func (s *Service) Configured() bool {
	return s.client != nil
}

// Anchor submits sub. Unconfigured, unreachable, timed-out, signer-side or
// circuit-open failures yield a skipped receipt, or ErrAnchorRequired in
// mandatory mode.
// A rejection by the ledger is returned as an error.
func (s *Service) Anchor(ctx context.Context, sub Submission) (receipt Receipt, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanLedgerAnchor, tracer.String(tracer.AttrPublicID, sub.DocumentID))
	defer func() {
		span.SetAttributes(tracer.String(tracer.AttrAnchorStatus, string(receipt.Status)))
		span.End(err)
	}()

	if s.client == nil {
		return s.skip(ctx, sub, ReasonUnconfigured, nil)
	}
	if !s.breaker.Allow() {
		return s.skip(ctx, sub, ReasonCircuitOpen, nil)
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	txRef, err := s.client.Submit(callCtx, sub)
	cancel()
	s.metrics.ObserveSubmit(time.Since(start))

	switch {
	case err == nil:
		s.recordSuccess()
		s.metrics.IncAnchor(StatusAnchored, "")
		return Receipt{TxRef: txRef, Status: StatusAnchored}, nil
	case errors.Is(err, ErrRejected):
		// the ledger answered, so it is healthy
		s.recordSuccess()
		s.metrics.IncAnchor("rejected", "")
		return Receipt{}, fmt.Errorf("anchor %s: %w", sub.DocumentID, err)
	case errors.Is(ctx.Err(), context.Canceled):
		return Receipt{}, fmt.Errorf("anchor %s: %w", sub.DocumentID, ctx.Err())
	}

	reason := ReasonUnreachable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		reason = ReasonTimeout
	case errors.Is(err, ErrSignerUnavailable):
		reason = ReasonSigner
	}
	s.recordFailure()
	return s.skip(ctx, sub, reason, err)
}

func (s *Service) skip(ctx context.Context, sub Submission, reason SkipReason, cause error) (Receipt, error) {
	if s.mandatory {
		s.metrics.IncAnchor("required_failed", reason)
		if cause == nil {
			return Receipt{}, fmt.Errorf("%w: %s", ErrAnchorRequired, reason)
		}
		return Receipt{}, fmt.Errorf("%w: %s: %w", ErrAnchorRequired, reason, cause)
	}
	s.metrics.IncAnchor(StatusSkipped, reason)
	s.logger.WarnContext(ctx, "ledger anchoring skipped",
		"document_id", sub.DocumentID,
		"reason", string(reason),
		"error", cause,
	)
	return Receipt{TxRef: SkippedTxRef, Status: StatusSkipped, Reason: reason}, nil
}

// Resolve returns the anchored fact for documentID, ErrNotAnchored when the
// ledger has none, or ErrLookupFailed when the ledger could not be read.
func (s *Service) Resolve(ctx context.Context, documentID string) (fact Fact, err error) {
	ctx, span := s.tracer.Start(ctx, tracer.SpanLedgerResolve, tracer.String(tracer.AttrPublicID, documentID))
	defer func() { span.End(err) }()

	if s.client == nil {
		return Fact{}, fmt.Errorf("%w: ledger not configured", ErrLookupFailed)
	}
	if s.cache != nil {
		cached, ok, cerr := s.cache.Get(ctx, documentID)
		if cerr != nil {
			s.logger.WarnContext(ctx, "ledger cache read failed", "document_id", documentID, "error", cerr)
		} else if ok {
			s.metrics.IncCache(true)
			span.SetAttributes(tracer.Bool(tracer.AttrCacheHit, true))
			return cached, nil
		}
		s.metrics.IncCache(false)
	}

	v, err, _ := s.group.Do(documentID, func() (any, error) {
		// detached so one caller giving up does not fail the others sharing this call
		callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()
		fact, err := s.client.Lookup(callCtx, documentID)
		if err != nil {
			return Fact{}, err
		}
		if s.cache != nil {
			if cerr := s.cache.Set(callCtx, fact); cerr != nil {
				s.logger.WarnContext(ctx, "ledger cache write failed", "document_id", documentID, "error", cerr)
			}
		}
		return fact, nil
	})
	if err != nil {
		if errors.Is(err, ErrNotAnchored) {
			return Fact{}, fmt.Errorf("resolve %s: %w", documentID, ErrNotAnchored)
		}
		if errors.Is(err, ErrLookupFailed) {
			return Fact{}, fmt.Errorf("resolve %s: %w", documentID, err)
		}
		return Fact{}, fmt.Errorf("resolve %s: %w: %w", documentID, ErrLookupFailed, err)
	}
	return v.(Fact), nil
}

func (s *Service) recordSuccess() {
	if _, change := s.breaker.RecordSuccess(); change.Closed {
		s.logger.Info("ledger circuit closed")
		s.metrics.SetCircuitOpen(false)
	}
}

func (s *Service) recordFailure() {
	if _, change := s.breaker.RecordFailure(); change.Opened {
		s.logger.Warn("ledger circuit opened")
		s.metrics.SetCircuitOpen(true)
	}
}
