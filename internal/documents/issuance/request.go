package issuance

import (
	"fmt"
	"strings"
	"time"

	"educhain/internal/documents/models"
	"educhain/internal/identity"
	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
)

// Metadata is the variant-specific description of a document.
type Metadata struct {
	HolderName string
	Subject    string // course for certificates, subject for marksheets
	RollNumber string
	Year       string
	Semester   string    // marksheets only
	IssuedOn   time.Time // printed in the seal; zero uses the request clock
}

// Request carries everything needed to issue one document. NaturalKey is
// optional; when set it must agree with the key derived from Metadata.
type Request struct {
	IssuerID   id.IssuerID
	Kind       models.Kind
	NaturalKey models.NaturalKey
	NationalID string
	Document   []byte
	Metadata   Metadata
}

func (r *Request) Normalize() {
	r.Metadata.HolderName = strings.TrimSpace(r.Metadata.HolderName)
	r.Metadata.Subject = strings.TrimSpace(r.Metadata.Subject)
	r.Metadata.RollNumber = strings.TrimSpace(r.Metadata.RollNumber)
	r.Metadata.Year = strings.TrimSpace(r.Metadata.Year)
	r.Metadata.Semester = strings.TrimSpace(r.Metadata.Semester)
	r.NaturalKey = models.NormalizeNaturalKey(string(r.NaturalKey))
}

// Validate checks the fields required by the variant. It does not look at
// the identity number, which the hasher validates.
func (r *Request) Validate() error {
	if r.IssuerID.IsNil() {
		return dErrors.New(dErrors.CodeInvalidInput, "issuer id is required")
	}
	if len(r.Document) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "document is required")
	}
	m := r.Metadata
	var missing []string
	require := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	switch r.Kind {
	case models.KindCertificate:
		require("holder_name", m.HolderName)
		require("subject", m.Subject)
		require("roll_number", m.RollNumber)
		require("year", m.Year)
	case models.KindMarksheet:
		require("roll_number", m.RollNumber)
		require("subject", m.Subject)
		require("semester", m.Semester)
		require("year", m.Year)
	default:
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unsupported document kind %q", r.Kind))
	}
	if len(missing) > 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "missing required fields: "+strings.Join(missing, ", "))
	}
	if r.NaturalKey != "" && r.NaturalKey != r.coordinates().NaturalKey() {
		return dErrors.New(dErrors.CodeInvalidInput, "natural key does not match document metadata")
	}
	return nil
}

func (r *Request) coordinates() models.Coordinates {
	return models.Coordinates{
		Kind:       r.Kind,
		RollNumber: r.Metadata.RollNumber,
		Period:     models.Period{Year: r.Metadata.Year, Semester: r.Metadata.Semester},
	}
}

// sealText is the human-readable provenance banner. The raw identity number
// never appears; only its masked form does.
func sealText(kind models.Kind, m Metadata, fp identity.Fingerprint, issuedOn time.Time) string {
	date := issuedOn.UTC().Format("2006-01-02")
	if kind == models.KindMarksheet {
		return strings.Join([]string{
			"EduChain Marksheet",
			"Roll No: " + m.RollNumber,
			"Semester: " + m.Semester + " / " + m.Year,
			"ID: " + fp.Masked(),
			date,
		}, "\n")
	}
	return strings.Join([]string{
		"Issued via EduChain",
		m.HolderName,
		"Roll No: " + m.RollNumber,
		"ID: " + fp.Masked(),
		date,
	}, "\n")
}
