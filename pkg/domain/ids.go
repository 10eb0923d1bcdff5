// Package domain provides type-safe identifiers to prevent mixing up IDs at compile time.
package domain

import (
	"github.com/google/uuid"

	dErrors "educhain/pkg/domain-errors"
)

// Distinct ID types - compiler prevents passing HolderID where IssuerID is expected.
type (
	IssuerID   uuid.UUID
	HolderID   uuid.UUID
	DocumentID uuid.UUID
)

// Parse functions - use at trust boundaries (handlers, API inputs).

func ParseIssuerID(s string) (IssuerID, error) {
	id, err := parseUUID(s, "issuer ID")
	return IssuerID(id), err
}

func ParseHolderID(s string) (HolderID, error) {
	id, err := parseUUID(s, "holder ID")
	return HolderID(id), err
}

func ParseDocumentID(s string) (DocumentID, error) {
	id, err := parseUUID(s, "document ID")
	return DocumentID(id), err
}

// String methods - for logging and debugging.

func (id IssuerID) String() string   { return uuid.UUID(id).String() }
func (id HolderID) String() string   { return uuid.UUID(id).String() }
func (id DocumentID) String() string { return uuid.UUID(id).String() }

// IsNil checks - used for service-layer validation.

func (id IssuerID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id HolderID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id DocumentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }

// parseUUID is the shared validation logic. Nil UUIDs parse successfully;
// services reject them with IsNil so lookups stay uniform.
func parseUUID(s, label string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, label+" cannot be empty")
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+label+" format")
	}
	return id, nil
}
