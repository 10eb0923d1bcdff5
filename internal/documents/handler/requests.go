package handler

import (
	"strings"

	"educhain/internal/documents/models"
	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
)

// ClaimRequest is the body of POST /api/documents/claim.
type ClaimRequest struct {
	IssuerID   string `json:"issuer_id"`
	NaturalKey string `json:"natural_key"`
	NationalID string `json:"national_id"`
}

func (r *ClaimRequest) Normalize() {
	r.IssuerID = strings.TrimSpace(r.IssuerID)
	r.NaturalKey = string(models.NormalizeNaturalKey(r.NaturalKey))
	r.NationalID = strings.TrimSpace(r.NationalID)
}

func (r *ClaimRequest) Validate() error {
	if r.IssuerID == "" || r.NaturalKey == "" || r.NationalID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "issuer_id, natural_key and national_id are required")
	}
	if _, err := id.ParseIssuerID(r.IssuerID); err != nil {
		return dErrors.New(dErrors.CodeInvalidInput, "malformed issuer_id")
	}
	return nil
}

func (r *ClaimRequest) ParsedIssuerID() id.IssuerID {
	issuer, _ := id.ParseIssuerID(r.IssuerID)
	return issuer
}

func (r *ClaimRequest) ParsedNaturalKey() models.NaturalKey {
	return models.NaturalKey(r.NaturalKey)
}

// ClaimAllRequest is the body of POST /api/documents/claim-all. IssuerID
// optionally restricts the claim to one issuer.
type ClaimAllRequest struct {
	NationalID string `json:"national_id"`
	IssuerID   string `json:"issuer_id,omitempty"`
}

func (r *ClaimAllRequest) Normalize() {
	r.NationalID = strings.TrimSpace(r.NationalID)
	r.IssuerID = strings.TrimSpace(r.IssuerID)
}

func (r *ClaimAllRequest) Validate() error {
	if r.NationalID == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "national_id is required")
	}
	if r.IssuerID != "" {
		if _, err := id.ParseIssuerID(r.IssuerID); err != nil {
			return dErrors.New(dErrors.CodeInvalidInput, "malformed issuer_id")
		}
	}
	return nil
}

// ParsedIssuerID returns nil when no issuer filter was sent.
func (r *ClaimAllRequest) ParsedIssuerID() *id.IssuerID {
	if r.IssuerID == "" {
		return nil
	}
	issuer, _ := id.ParseIssuerID(r.IssuerID)
	return &issuer
}
