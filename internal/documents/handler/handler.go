package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"educhain/internal/blobstore"
	"educhain/internal/documents/claim"
	"educhain/internal/documents/issuance"
	"educhain/internal/documents/models"
	"educhain/internal/documents/verification"
	"educhain/internal/ledger"
	"educhain/internal/platform/middleware"
	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
	"educhain/pkg/platform/httputil"
	"educhain/pkg/requestcontext"
)

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks

const defaultMaxUploadBytes = 10 << 20

type Issuer interface {
	Issue(ctx context.Context, req issuance.Request) (*models.Document, error)
	VerificationURL(publicID string) string
}

type Claimer interface {
	ClaimOne(ctx context.Context, c claim.Claimant, issuer id.IssuerID, naturalKey models.NaturalKey) (*models.Document, error)
	ClaimAll(ctx context.Context, c claim.Claimant) ([]*models.Document, error)
	ClaimAllFrom(ctx context.Context, c claim.Claimant, issuer id.IssuerID) ([]*models.Document, error)
}

type Verifier interface {
	Verify(ctx context.Context, ref string) (*verification.Result, error)
	ListHeld(ctx context.Context, holder id.HolderID) ([]*models.Document, error)
	DownloadURL(ctx context.Context, holder id.HolderID, publicID string, ttl time.Duration) (string, error)
	CheckIntegrity(ctx context.Context, publicID string) (*verification.Integrity, error)
}

// Handler exposes issuance, claims and verification under /api/documents.
type Handler struct {
	issuer         Issuer
	claimer        Claimer
	verifier       Verifier
	logger         *slog.Logger
	maxUploadBytes int64
	downloadTTL    time.Duration
}

func New(issuer Issuer, claimer Claimer, verifier Verifier, logger *slog.Logger, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &Handler{
		issuer:         issuer,
		claimer:        claimer,
		verifier:       verifier,
		logger:         logger,
		maxUploadBytes: maxUploadBytes,
		downloadTTL:    blobstore.DefaultSignedURLTTL,
	}
}

// SetDownloadTTL sets the link lifetime used when a download names no ttl.
func (h *Handler) SetDownloadTTL(ttl time.Duration) {
	h.downloadTTL = blobstore.ClampTTL(ttl)
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/api/documents", func(r chi.Router) {
		r.Post("/issue", h.HandleIssue)
		r.Get("/verify/{ref}", h.HandleVerify)
		r.Get("/{publicID}/integrity", h.HandleIntegrity)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireHolder)
			r.Post("/claim", h.HandleClaim)
			r.Post("/claim-all", h.HandleClaimAll)
			r.Get("/mine", h.HandleListMine)
			r.Get("/{publicID}/download", h.HandleDownload)
		})
	})
}

// HandleIssue handles POST /api/documents/issue as multipart/form-data with
// the raw file in the "document" part.
func (h *Handler) HandleIssue(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, err := h.parseIssueForm(w, r)
	if err != nil {
		h.logger.WarnContext(ctx, "invalid issue request", "request_id", requestID, "error", err)
		httputil.WriteError(w, err)
		return
	}

	doc, err := h.issuer.Issue(ctx, *req)
	if err != nil {
		h.logFailure(ctx, "issuance failed", err, "request_id", requestID, "issuer_id", req.IssuerID.String())
		httputil.WriteError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, IssueResponse{
		Document:        FromDocument(doc),
		VerificationURL: h.issuer.VerificationURL(doc.PublicID),
		AnchorSkipped:   doc.Anchor.Status == ledger.StatusSkipped,
	})
}

func (h *Handler) parseIssueForm(w http.ResponseWriter, r *http.Request) (*issuance.Request, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "document exceeds the upload limit")
		}
		return nil, dErrors.New(dErrors.CodeBadRequest, "expected multipart form data")
	}

	issuer, err := id.ParseIssuerID(r.FormValue("issuer_id"))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed issuer_id")
	}
	kind, err := models.ParseKind(r.FormValue("kind"))
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, err.Error())
	}

	file, _, err := r.FormFile("document")
	if err != nil {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "document file is required")
	}
	defer file.Close()
	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeBadRequest, "failed to read document")
	}

	req := &issuance.Request{
		IssuerID:   issuer,
		Kind:       kind,
		NaturalKey: models.NaturalKey(r.FormValue("natural_key")),
		NationalID: r.FormValue("national_id"),
		Document:   raw,
		Metadata: issuance.Metadata{
			HolderName: r.FormValue("holder_name"),
			Subject:    r.FormValue("subject"),
			RollNumber: r.FormValue("roll_number"),
			Year:       r.FormValue("year"),
			Semester:   r.FormValue("semester"),
		},
	}
	if v := r.FormValue("issued_on"); v != "" {
		issuedOn, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return nil, dErrors.New(dErrors.CodeInvalidInput, "issued_on must be YYYY-MM-DD")
		}
		req.Metadata.IssuedOn = issuedOn
	}
	return req, nil
}

// HandleClaim handles POST /api/documents/claim.
func (h *Handler) HandleClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	holder := requestcontext.HolderID(ctx)

	req, ok := httputil.DecodeAndPrepare[ClaimRequest](w, r, h.logger)
	if !ok {
		return
	}

	doc, err := h.claimer.ClaimOne(ctx, claim.Claimant{HolderID: holder, NationalID: req.NationalID},
		req.ParsedIssuerID(), req.ParsedNaturalKey())
	if err != nil {
		h.logFailure(ctx, "claim failed", err, "request_id", requestID, "holder_id", holder.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromDocument(doc))
}

// HandleClaimAll handles POST /api/documents/claim-all.
func (h *Handler) HandleClaimAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	holder := requestcontext.HolderID(ctx)

	req, ok := httputil.DecodeAndPrepare[ClaimAllRequest](w, r, h.logger)
	if !ok {
		return
	}

	claimant := claim.Claimant{HolderID: holder, NationalID: req.NationalID}
	var docs []*models.Document
	var err error
	if issuer := req.ParsedIssuerID(); issuer != nil {
		docs, err = h.claimer.ClaimAllFrom(ctx, claimant, *issuer)
	} else {
		docs, err = h.claimer.ClaimAll(ctx, claimant)
	}
	if err != nil {
		h.logFailure(ctx, "bulk claim failed", err, "request_id", requestID, "holder_id", holder.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ClaimAllResponse{Claimed: FromDocuments(docs), Count: len(docs)})
}

// HandleVerify handles GET /api/documents/verify/{ref} where ref is a public
// id or a ledger transaction reference.
func (h *Handler) HandleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.verifier.Verify(ctx, chi.URLParam(r, "ref"))
	if err != nil {
		h.logFailure(ctx, "verification failed", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, FromResult(res))
}

// HandleListMine handles GET /api/documents/mine.
func (h *Handler) HandleListMine(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	docs, err := h.verifier.ListHeld(ctx, requestcontext.HolderID(ctx))
	if err != nil {
		h.logFailure(ctx, "listing documents failed", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, ListResponse{Documents: FromDocuments(docs)})
}

// HandleDownload handles GET /api/documents/{publicID}/download with an
// optional ttl query parameter in seconds.
func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ttl := h.downloadTTL
	if v := r.URL.Query().Get("ttl"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil || secs <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "ttl must be a positive number of seconds"))
			return
		}
		ttl = time.Duration(secs) * time.Second
	}
	ttl = blobstore.ClampTTL(ttl)

	url, err := h.verifier.DownloadURL(ctx, requestcontext.HolderID(ctx), chi.URLParam(r, "publicID"), ttl)
	if err != nil {
		h.logFailure(ctx, "download failed", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, DownloadResponse{URL: url, ExpiresInSeconds: int64(ttl.Seconds())})
}

// HandleIntegrity handles GET /api/documents/{publicID}/integrity.
func (h *Handler) HandleIntegrity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res, err := h.verifier.CheckIntegrity(ctx, chi.URLParam(r, "publicID"))
	if err != nil {
		h.logFailure(ctx, "integrity check failed", err, "request_id", requestcontext.RequestID(ctx))
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, IntegrityResponse{
		PublicID:     res.PublicID,
		RecordedHash: res.RecordedHash,
		ActualHash:   res.ActualHash,
		Intact:       res.Intact,
	})
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "error", err, "code", string(dErrors.CodeOf(err)))
	if httputil.DomainCodeToHTTPStatus(dErrors.CodeOf(err)) < http.StatusInternalServerError {
		h.logger.WarnContext(ctx, msg, attrs...)
		return
	}
	h.logger.ErrorContext(ctx, msg, attrs...)
}
