// Package tracer provides a small tracing abstraction over OpenTelemetry.
//
// Services depend on the Tracer interface. Production wiring uses OTelTracer
// backed by the global provider; tests use NoopTracer.
package tracer

import (
	"context"
	"time"
)

// Span represents an active trace span. End must be called exactly once.
type Span interface {
	// End completes the span. A non-nil err marks the span as failed.
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer creates spans. Implementations must be safe for concurrent use.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

// Attribute represents a key-value pair attached to spans.
type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute {
	return Attribute{Key: key, Value: value}
}

func Bool(key string, value bool) Attribute {
	return Attribute{Key: key, Value: value}
}

func Int(key string, value int) Attribute {
	return Attribute{Key: key, Value: int64(value)}
}

// Duration creates a duration attribute in milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{Key: key, Value: value.Milliseconds()}
}

// Span names.
const (
	SpanIssue         = "documents.issue"
	SpanClaimOne      = "documents.claim_one"
	SpanClaimAll      = "documents.claim_all"
	SpanVerify        = "documents.verify"
	SpanLedgerAnchor  = "ledger.anchor"
	SpanLedgerResolve = "ledger.resolve"
)

// Attribute keys. Identity values are always fingerprint prefixes, never raw IDs.
const (
	AttrIdentity     = "identity"
	AttrIssuerID     = "issuer_id"
	AttrKind         = "document.kind"
	AttrPublicID     = "document.public_id"
	AttrAnchorStatus = "anchor.status"
	AttrCacheHit     = "cache.hit"
	AttrClaimed      = "claimed.count"
)
