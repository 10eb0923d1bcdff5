// Package ledger anchors document integrity facts on an external append-only
// ledger and resolves them for verification.
//
// Anchoring is degradable: when the ledger is unconfigured, unreachable or
// slow, Anchor returns a receipt carrying SkippedTxRef instead of failing,
// unless the service runs in mandatory mode.
package ledger

import (
	"context"
	"errors"
	"time"
)

// SkippedTxRef is recorded in place of a transaction hash when anchoring was skipped.
const SkippedTxRef = "anchor-skipped"

var (
	// ErrNotAnchored means the ledger has no fact for the document.
	ErrNotAnchored = errors.New("document not anchored")
	// ErrLookupFailed means the ledger could not be read.
	ErrLookupFailed = errors.New("anchor lookup failed")
	// ErrUnreachable is returned by clients when the ledger cannot be contacted in time.
	ErrUnreachable = errors.New("ledger unreachable")
	// ErrRejected is returned by clients when the ledger refused the submission.
	ErrRejected = errors.New("ledger rejected submission")
	// ErrSignerUnavailable is returned by clients when the submitting account
	// cannot pay for or sequence the transaction. The fact itself was not refused.
	ErrSignerUnavailable = errors.New("ledger signer unavailable")
	// ErrAnchorRequired is returned in mandatory mode instead of a skipped receipt.
	ErrAnchorRequired = errors.New("anchoring required but not performed")
)

// Submission is the integrity fact written for one document.
type Submission struct {
	DocumentID  string
	SubjectName string
	Subject     string
	ContentHash string
}

// Fact is an anchored Submission as read back from the ledger.
type Fact struct {
	DocumentID  string    `json:"document_id"`
	SubjectName string    `json:"subject_name"`
	Subject     string    `json:"subject"`
	ContentHash string    `json:"content_hash"`
	AnchoredAt  time.Time `json:"anchored_at"`
	AnchoredBy  string    `json:"anchored_by"`
}

type Status string

const (
	StatusAnchored Status = "anchored"
	StatusSkipped  Status = "skipped"
)

// SkipReason explains a skipped anchor.
type SkipReason string

const (
	ReasonUnconfigured SkipReason = "unconfigured"
	ReasonUnreachable  SkipReason = "unreachable"
	ReasonTimeout      SkipReason = "timeout"
	ReasonCircuitOpen  SkipReason = "circuit_open"
	ReasonSigner       SkipReason = "signer_unavailable"
)

// Receipt is the outcome of Anchor.
type Receipt struct {
	TxRef  string
	Status Status
	Reason SkipReason // set only when Status is StatusSkipped
}

func (r Receipt) Skipped() bool {
	return r.Status == StatusSkipped
}

// Client talks to a concrete ledger. Submit classifies failures as
// ErrUnreachable, ErrSignerUnavailable or ErrRejected; Lookup returns
// ErrNotAnchored when the fact is absent.
type Client interface {
	Submit(ctx context.Context, sub Submission) (txRef string, err error)
	Lookup(ctx context.Context, documentID string) (Fact, error)
}

// Cache stores resolved facts. Facts never change once anchored.
type Cache interface {
	Get(ctx context.Context, documentID string) (Fact, bool, error)
	Set(ctx context.Context, fact Fact) error
}
