package handler

import (
	"time"

	"educhain/internal/documents/models"
	"educhain/internal/documents/verification"
)

// DocumentResponse is the public view of a document. It never carries the
// identity digest, only the masked form.
type DocumentResponse struct {
	PublicID         string     `json:"public_id"`
	Kind             string     `json:"kind"`
	IssuerID         string     `json:"issuer_id"`
	NaturalKey       string     `json:"natural_key"`
	HolderName       string     `json:"holder_name,omitempty"`
	Subject          string     `json:"subject,omitempty"`
	RollNumber       string     `json:"roll_number"`
	Year             string     `json:"year"`
	Semester         string     `json:"semester,omitempty"`
	Identity         string     `json:"identity"`
	ContentHash      string     `json:"content_hash"`
	PublicURL        string     `json:"public_url"`
	TxRef            string     `json:"tx_ref"`
	AnchorStatus     string     `json:"anchor_status"`
	AnchorSkipReason string     `json:"anchor_skip_reason,omitempty"`
	ClaimState       string     `json:"claim_state"`
	ClaimedAt        *time.Time `json:"claimed_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func FromDocument(doc *models.Document) DocumentResponse {
	return DocumentResponse{
		PublicID:         doc.PublicID,
		Kind:             string(doc.Kind),
		IssuerID:         doc.IssuerID.String(),
		NaturalKey:       string(doc.NaturalKey),
		HolderName:       doc.HolderName,
		Subject:          doc.Subject,
		RollNumber:       doc.RollNumber,
		Year:             doc.Period.Year,
		Semester:         doc.Period.Semester,
		Identity:         doc.Identity.Masked(),
		ContentHash:      doc.ContentHash,
		PublicURL:        doc.PublicURL,
		TxRef:            doc.Anchor.TxRef,
		AnchorStatus:     string(doc.Anchor.Status),
		AnchorSkipReason: string(doc.Anchor.SkipReason),
		ClaimState:       string(doc.ClaimState),
		ClaimedAt:        doc.ClaimedAt,
		CreatedAt:        doc.CreatedAt,
	}
}

func FromDocuments(docs []*models.Document) []DocumentResponse {
	out := make([]DocumentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, FromDocument(doc))
	}
	return out
}

type IssueResponse struct {
	Document        DocumentResponse `json:"document"`
	VerificationURL string           `json:"verification_url"`
	AnchorSkipped   bool             `json:"anchor_skipped"`
}

type ClaimAllResponse struct {
	Claimed []DocumentResponse `json:"claimed"`
	Count   int                `json:"count"`
}

type ListResponse struct {
	Documents []DocumentResponse `json:"documents"`
}

type LedgerFactResponse struct {
	SubjectName string    `json:"subject_name"`
	Subject     string    `json:"subject"`
	ContentHash string    `json:"content_hash"`
	AnchoredAt  time.Time `json:"anchored_at"`
	AnchoredBy  string    `json:"anchored_by"`
}

type VerifyResponse struct {
	Outcome     string              `json:"outcome"`
	OnLedger    bool                `json:"on_ledger"`
	HashMatches bool                `json:"hash_matches"`
	Document    DocumentResponse    `json:"document"`
	Ledger      *LedgerFactResponse `json:"ledger,omitempty"`
}

func FromResult(res *verification.Result) VerifyResponse {
	out := VerifyResponse{
		Outcome:     res.Outcome,
		OnLedger:    res.OnLedger,
		HashMatches: res.HashMatches,
		Document:    FromDocument(res.Document),
	}
	if res.Fact != nil {
		out.Ledger = &LedgerFactResponse{
			SubjectName: res.Fact.SubjectName,
			Subject:     res.Fact.Subject,
			ContentHash: res.Fact.ContentHash,
			AnchoredAt:  res.Fact.AnchoredAt,
			AnchoredBy:  res.Fact.AnchoredBy,
		}
	}
	return out
}

type DownloadResponse struct {
	URL              string `json:"url"`
	ExpiresInSeconds int64  `json:"expires_in_seconds"`
}

type IntegrityResponse struct {
	PublicID     string `json:"public_id"`
	RecordedHash string `json:"recorded_hash"`
	ActualHash   string `json:"actual_hash"`
	Intact       bool   `json:"intact"`
}
