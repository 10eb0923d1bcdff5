package verification_test

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"educhain/internal/blobstore"
	"educhain/internal/documents/models"
	"educhain/internal/documents/verification"
	"educhain/internal/documents/verification/mocks"
	"educhain/internal/ledger"
	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
	"educhain/pkg/platform/sentinel"
)

type VerificationSuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	store    *mocks.MockStore
	resolver *mocks.MockResolver
	blobs    *mocks.MockBlobStore
	svc      *verification.Service
	ctx      context.Context
	holder   id.HolderID
}

func TestVerificationSuite(t *testing.T) {
	suite.Run(t, new(VerificationSuite))
}

func (s *VerificationSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = mocks.NewMockStore(s.ctrl)
	s.resolver = mocks.NewMockResolver(s.ctrl)
	s.blobs = mocks.NewMockBlobStore(s.ctrl)
	s.svc = verification.New(s.store, s.resolver, s.blobs,
		verification.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.ctx = context.Background()
	s.holder = id.HolderID(uuid.New())
}

func (s *VerificationSuite) TearDownTest() {
	s.ctrl.Finish()
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (s *VerificationSuite) anchoredDoc() *models.Document {
	return &models.Document{
		PublicID:    "CERT-0123456789ABCDEF",
		StorageKey:  "certificates/2024-roll42-abcdefabcdef.pdf",
		ContentHash: hashOf([]byte("sealed")),
		Anchor:      models.Anchor{TxRef: "0xabc123", Status: ledger.StatusAnchored},
		ClaimState:  models.ClaimUnclaimed,
	}
}

func (s *VerificationSuite) heldDoc() *models.Document {
	doc := s.anchoredDoc()
	s.Require().NoError(doc.Claim(s.holder, time.Now()))
	return doc
}

func (s *VerificationSuite) TestVerify() {
	s.Run("public id with matching ledger hash", func() {
		doc := s.anchoredDoc()
		s.store.EXPECT().FindByPublicID(gomock.Any(), "CERT-0123456789ABCDEF").Return(doc, nil)
		s.resolver.EXPECT().Resolve(gomock.Any(), doc.PublicID).Return(ledger.Fact{DocumentID: doc.PublicID, ContentHash: doc.ContentHash}, nil)

		res, err := s.svc.Verify(s.ctx, "cert-0123456789abcdef")
		s.Require().NoError(err)
		s.True(res.OnLedger)
		s.True(res.HashMatches)
		s.Equal(verification.OutcomeVerified, res.Outcome)
	})

	s.Run("tx reference goes through the anchor index", func() {
		doc := s.anchoredDoc()
		s.store.EXPECT().FindByTxRef(gomock.Any(), "0xabc123").Return(doc, nil)
		s.resolver.EXPECT().Resolve(gomock.Any(), doc.PublicID).Return(ledger.Fact{ContentHash: "deadbeef"}, nil)

		res, err := s.svc.Verify(s.ctx, "0xabc123")
		s.Require().NoError(err)
		s.True(res.OnLedger)
		s.False(res.HashMatches)
		s.Equal(verification.OutcomeMismatch, res.Outcome)
	})

	s.Run("skipped anchor is reported, not resolved", func() {
		doc := s.anchoredDoc()
		doc.Anchor = models.Anchor{TxRef: ledger.SkippedTxRef, Status: ledger.StatusSkipped, SkipReason: ledger.ReasonUnconfigured}
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(doc, nil)

		res, err := s.svc.Verify(s.ctx, doc.PublicID)
		s.Require().NoError(err)
		s.False(res.OnLedger)
		s.False(res.HashMatches)
		s.Equal(verification.OutcomeSkipped, res.Outcome)
	})

	s.Run("skip sentinel is not a reference", func() {
		_, err := s.svc.Verify(s.ctx, ledger.SkippedTxRef)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("empty reference", func() {
		_, err := s.svc.Verify(s.ctx, "  ")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("unknown reference", func() {
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(nil, sentinel.ErrNotFound)
		_, err := s.svc.Verify(s.ctx, "CERT-FFFFFFFFFFFFFFFF")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("ledger missing the fact", func() {
		doc := s.anchoredDoc()
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(doc, nil)
		s.resolver.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(ledger.Fact{}, ledger.ErrNotAnchored)

		res, err := s.svc.Verify(s.ctx, doc.PublicID)
		s.Require().NoError(err)
		s.False(res.OnLedger)
		s.Equal(verification.OutcomeNotAnchored, res.Outcome)
	})

	s.Run("ledger read failure", func() {
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(s.anchoredDoc(), nil)
		s.resolver.EXPECT().Resolve(gomock.Any(), gomock.Any()).Return(ledger.Fact{}, ledger.ErrLookupFailed)

		_, err := s.svc.Verify(s.ctx, "CERT-0123456789ABCDEF")
		s.True(dErrors.HasCode(err, dErrors.CodeAnchorLookupFailed))
		s.ErrorIs(err, ledger.ErrLookupFailed)
	})
}

func (s *VerificationSuite) TestListHeld() {
	s.Run("newest first", func() {
		older, newer := s.heldDoc(), s.heldDoc()
		older.PublicID, newer.PublicID = "CERT-A", "CERT-B"
		s.store.EXPECT().ListByHolder(gomock.Any(), s.holder).Return([]*models.Document{older, newer}, nil)

		docs, err := s.svc.ListHeld(s.ctx, s.holder)
		s.Require().NoError(err)
		s.Require().Len(docs, 2)
		s.Equal("CERT-B", docs[0].PublicID)
	})

	s.Run("nothing held", func() {
		s.store.EXPECT().ListByHolder(gomock.Any(), s.holder).Return(nil, nil)
		docs, err := s.svc.ListHeld(s.ctx, s.holder)
		s.Require().NoError(err)
		s.NotNil(docs)
		s.Empty(docs)
	})
}

func (s *VerificationSuite) TestDownloadURL() {
	s.Run("owner gets a signed url with the default ttl", func() {
		doc := s.heldDoc()
		s.store.EXPECT().FindByPublicID(gomock.Any(), doc.PublicID).Return(doc, nil)
		s.blobs.EXPECT().SignedURL(gomock.Any(), doc.StorageKey, blobstore.DefaultSignedURLTTL).Return("https://signed", nil)

		url, err := s.svc.DownloadURL(s.ctx, s.holder, doc.PublicID, 0)
		s.Require().NoError(err)
		s.Equal("https://signed", url)
	})

	s.Run("ttl is clamped", func() {
		doc := s.heldDoc()
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(doc, nil)
		s.blobs.EXPECT().SignedURL(gomock.Any(), gomock.Any(), blobstore.MaxSignedURLTTL).Return("https://signed", nil)

		_, err := s.svc.DownloadURL(s.ctx, s.holder, doc.PublicID, 24*time.Hour)
		s.Require().NoError(err)
	})

	s.Run("someone else is forbidden", func() {
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(s.heldDoc(), nil)
		_, err := s.svc.DownloadURL(s.ctx, id.HolderID(uuid.New()), "CERT-0123456789ABCDEF", 0)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("unclaimed document is forbidden", func() {
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(s.anchoredDoc(), nil)
		_, err := s.svc.DownloadURL(s.ctx, s.holder, "CERT-0123456789ABCDEF", 0)
		s.True(dErrors.HasCode(err, dErrors.CodeForbidden))
	})

	s.Run("store outage", func() {
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(s.heldDoc(), nil)
		s.blobs.EXPECT().SignedURL(gomock.Any(), gomock.Any(), gomock.Any()).Return("", blobstore.ErrUnavailable)
		_, err := s.svc.DownloadURL(s.ctx, s.holder, "CERT-0123456789ABCDEF", 0)
		s.True(dErrors.HasCode(err, dErrors.CodeStoreUnavailable))
	})
}

func (s *VerificationSuite) TestCheckIntegrity() {
	s.Run("intact", func() {
		doc := s.anchoredDoc()
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(doc, nil)
		s.blobs.EXPECT().Get(gomock.Any(), doc.StorageKey).Return([]byte("sealed"), nil)

		res, err := s.svc.CheckIntegrity(s.ctx, doc.PublicID)
		s.Require().NoError(err)
		s.True(res.Intact)
		s.Equal(doc.ContentHash, res.ActualHash)
	})

	s.Run("tampered", func() {
		doc := s.anchoredDoc()
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(doc, nil)
		s.blobs.EXPECT().Get(gomock.Any(), doc.StorageKey).Return([]byte("sealed!"), nil)

		res, err := s.svc.CheckIntegrity(s.ctx, doc.PublicID)
		s.Require().NoError(err)
		s.False(res.Intact)
	})

	s.Run("missing blob", func() {
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(s.anchoredDoc(), nil)
		s.blobs.EXPECT().Get(gomock.Any(), gomock.Any()).Return(nil, blobstore.ErrNotFound)

		_, err := s.svc.CheckIntegrity(s.ctx, "CERT-0123456789ABCDEF")
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("store failure", func() {
		s.store.EXPECT().FindByPublicID(gomock.Any(), gomock.Any()).Return(nil, errors.New("db down"))
		_, err := s.svc.CheckIntegrity(s.ctx, "CERT-0123456789ABCDEF")
		s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	})
}
