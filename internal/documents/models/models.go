// Package models defines issued documents and their variants.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"educhain/internal/identity"
	"educhain/internal/ledger"
	id "educhain/pkg/domain"
)

// Kind discriminates document variants.
type Kind string

const (
	KindCertificate Kind = "certificate"
	KindMarksheet   Kind = "marksheet"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindCertificate, KindMarksheet:
		return k, nil
	default:
		return "", fmt.Errorf("unknown document kind %q", s)
	}
}

// Category is the blob store folder for the kind.
func (k Kind) Category() string {
	switch k {
	case KindMarksheet:
		return "marksheets"
	default:
		return "certificates"
	}
}

func (k Kind) publicPrefix() string {
	if k == KindMarksheet {
		return "MKS-"
	}
	return "CERT-"
}

type ClaimState string

const (
	ClaimUnclaimed ClaimState = "unclaimed"
	ClaimClaimed   ClaimState = "claimed"
)

// NaturalKey is the issuer-defined coordinate of a document, stable across
// re-issuance attempts.
type NaturalKey string

// Period is the academic period a document covers.
type Period struct {
	Year     string
	Semester string // marksheets only
}

// Coordinates are the variant-specific fields a natural key is built from.
type Coordinates struct {
	Kind       Kind
	RollNumber string
	Period     Period
}

// NormalizeNaturalKey is the canonical form of a natural key: trimmed and
// upper-cased. Every key that reaches a store passes through it.
func NormalizeNaturalKey(s string) NaturalKey {
	return NaturalKey(strings.ToUpper(strings.TrimSpace(s)))
}

// NaturalKey builds {year}-{roll} for certificates and {year}-{roll}-S{semester}
// for marksheets, in canonical form.
func (c Coordinates) NaturalKey() NaturalKey {
	roll := strings.TrimSpace(c.RollNumber)
	year := strings.TrimSpace(c.Period.Year)
	if c.Kind == KindMarksheet {
		return NormalizeNaturalKey(fmt.Sprintf("%s-%s-S%s", year, roll, strings.TrimSpace(c.Period.Semester)))
	}
	return NormalizeNaturalKey(year + "-" + roll)
}

// UniquenessKey identifies the single document allowed per person and period.
type UniquenessKey struct {
	IssuerID    id.IssuerID
	Fingerprint string
	NaturalKey  NaturalKey
}

// Anchor records how a document's integrity fact reached the ledger.
type Anchor struct {
	TxRef      string
	Status     ledger.Status
	SkipReason ledger.SkipReason
}

// Document is the persisted record shared by both variants.
type Document struct {
	ID          id.DocumentID
	PublicID    string
	Kind        Kind
	IssuerID    id.IssuerID
	NaturalKey  NaturalKey
	HolderName  string
	Subject     string
	RollNumber  string
	Period      Period
	Identity    identity.Fingerprint
	ContentHash string
	StorageKey  string
	PublicURL   string
	Anchor      Anchor
	ClaimState  ClaimState
	ClaimedBy   *id.HolderID
	ClaimedAt   *time.Time
	CreatedAt   time.Time
}

// NewPublicID returns a fresh public identifier for kind.
func NewPublicID(kind Kind) string {
	raw := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return kind.publicPrefix() + raw[:16]
}

func (d *Document) UniquenessKey() UniquenessKey {
	return UniquenessKey{IssuerID: d.IssuerID, Fingerprint: d.Identity.Digest, NaturalKey: d.NaturalKey}
}

func (d *Document) IsClaimed() bool {
	return d.ClaimState == ClaimClaimed
}

// HeldBy reports whether holder has claimed the document.
func (d *Document) HeldBy(holder id.HolderID) bool {
	return d.IsClaimed() && d.ClaimedBy != nil && *d.ClaimedBy == holder
}

// Claim moves an unclaimed document to claimed. It is the only state transition.
func (d *Document) Claim(holder id.HolderID, at time.Time) error {
	if d.IsClaimed() {
		return fmt.Errorf("document %s already claimed", d.PublicID)
	}
	h := holder
	t := at
	d.ClaimState = ClaimClaimed
	d.ClaimedBy = &h
	d.ClaimedAt = &t
	return nil
}

// CheckInvariants verifies the claim fields agree with the claim state and
// that required fields are present.
func (d *Document) CheckInvariants() error {
	switch d.ClaimState {
	case ClaimClaimed:
		if d.ClaimedBy == nil || d.ClaimedBy.IsNil() {
			return fmt.Errorf("claimed document %s has no holder", d.PublicID)
		}
	case ClaimUnclaimed:
		if d.ClaimedBy != nil {
			return fmt.Errorf("unclaimed document %s has a holder", d.PublicID)
		}
	default:
		return fmt.Errorf("document %s has unknown claim state %q", d.PublicID, d.ClaimState)
	}
	if d.ContentHash == "" || d.Anchor.TxRef == "" || d.Identity.IsZero() {
		return fmt.Errorf("document %s is missing integrity fields", d.PublicID)
	}
	return nil
}

// Clone returns a deep copy so stores never share mutable pointers with callers.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	if d.ClaimedBy != nil {
		h := *d.ClaimedBy
		c.ClaimedBy = &h
	}
	if d.ClaimedAt != nil {
		t := *d.ClaimedAt
		c.ClaimedAt = &t
	}
	return &c
}
