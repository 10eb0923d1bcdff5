//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"educhain/internal/documents/models"
	"educhain/internal/documents/store"
	"educhain/internal/identity"
	"educhain/internal/ledger"
	id "educhain/pkg/domain"
	"educhain/pkg/platform/sentinel"
	txcontext "educhain/pkg/platform/tx"
	"educhain/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	issuer   id.IssuerID
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	s.postgres = containers.GetManager().GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateAll(context.Background()))
	s.issuer = id.IssuerID(uuid.New())
}

func (s *PostgresStoreSuite) newDoc(digest string, key models.NaturalKey) *models.Document {
	return &models.Document{
		ID:          id.DocumentID(uuid.New()),
		PublicID:    models.NewPublicID(models.KindMarksheet),
		Kind:        models.KindMarksheet,
		IssuerID:    s.issuer,
		NaturalKey:  key,
		Subject:     "Physics",
		RollNumber:  "R42",
		Period:      models.Period{Year: "2024", Semester: "3"},
		Identity:    identity.Fingerprint{Digest: digest, LastFour: "9012"},
		ContentHash: "abc",
		StorageKey:  "marksheets/r42-000000000000.pdf",
		PublicURL:   "memory://educhain/marksheets/r42-000000000000.pdf",
		Anchor:      models.Anchor{TxRef: ledger.SkippedTxRef, Status: ledger.StatusSkipped, SkipReason: ledger.ReasonTimeout},
		ClaimState:  models.ClaimUnclaimed,
		CreatedAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
}

func (s *PostgresStoreSuite) TestInsertRoundTrip() {
	ctx := context.Background()
	doc := s.newDoc("d1", "2024-R42-S3")
	s.Require().NoError(s.store.Insert(ctx, doc))

	got, err := s.store.FindByPublicID(ctx, doc.PublicID)
	s.Require().NoError(err)
	s.Equal(doc.ID, got.ID)
	s.Equal(doc.Period, got.Period)
	s.Equal(doc.Identity, got.Identity)
	s.Equal(doc.Anchor, got.Anchor)
	s.Equal(models.ClaimUnclaimed, got.ClaimState)
	s.Nil(got.ClaimedBy)
	s.True(doc.CreatedAt.Equal(got.CreatedAt))

	s.ErrorIs(s.store.Insert(ctx, s.newDoc("d1", "2024-R42-S3")), sentinel.ErrConflict)

	_, err = s.store.FindByPublicID(ctx, "MKS-UNKNOWN")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestInsertRollsBackWithTransaction() {
	ctx := context.Background()
	doc := s.newDoc("d1", "2024-R42-S3")
	runner := txcontext.NewSQLRunner(s.postgres.DB)
	boom := errors.New("boom")

	err := runner.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.store.Insert(ctx, doc); err != nil {
			return err
		}
		return boom
	})
	s.ErrorIs(err, boom)

	exists, err := s.store.Exists(ctx, doc.UniquenessKey())
	s.Require().NoError(err)
	s.False(exists)
}

// TestConcurrentInsert checks that only one of many racing issuances for the
// same key is stored.
func (s *PostgresStoreSuite) TestConcurrentInsert() {
	ctx := context.Background()
	const goroutines = 20
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Insert(ctx, s.newDoc("d1", "2024-R42-S3"))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())
}

func (s *PostgresStoreSuite) TestClaimOne() {
	ctx := context.Background()
	doc := s.newDoc("d1", "2024-R42-S3")
	s.Require().NoError(s.store.Insert(ctx, doc))
	at := time.Now().UTC().Truncate(time.Microsecond)

	const goroutines = 20
	var wins, used atomic.Int32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.ClaimOne(ctx, doc.UniquenessKey(), id.HolderID(uuid.New()), at)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrAlreadyUsed):
				used.Add(1)
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), used.Load())

	missing := doc.UniquenessKey()
	missing.NaturalKey = "2025-R42-S1"
	_, err := s.store.ClaimOne(ctx, missing, id.HolderID(uuid.New()), at)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestClaimAllUnclaimed() {
	ctx := context.Background()
	for _, key := range []models.NaturalKey{"2024-R42-S1", "2024-R42-S2", "2024-R42-S3"} {
		s.Require().NoError(s.store.Insert(ctx, s.newDoc("d1", key)))
	}
	s.Require().NoError(s.store.Insert(ctx, s.newDoc("d2", "2024-R7-S1")))
	holder := id.HolderID(uuid.New())
	at := time.Now().UTC()

	otherIssuer := id.IssuerID(uuid.New())
	none, err := s.store.ClaimAllUnclaimed(ctx, "d1", &otherIssuer, holder, at)
	s.Require().NoError(err)
	s.Empty(none)

	claimed, err := s.store.ClaimAllUnclaimed(ctx, "d1", nil, holder, at)
	s.Require().NoError(err)
	s.Len(claimed, 3)
	for _, d := range claimed {
		s.True(d.HeldBy(holder))
	}

	again, err := s.store.ClaimAllUnclaimed(ctx, "d1", nil, holder, at)
	s.Require().NoError(err)
	s.Empty(again)

	held, err := s.store.ListByHolder(ctx, holder)
	s.Require().NoError(err)
	s.Len(held, 3)
}

// TestConcurrentClaimAll checks that racing sweeps partition the documents
// without double-claiming any.
func (s *PostgresStoreSuite) TestConcurrentClaimAll() {
	ctx := context.Background()
	const docs = 10
	for i := range docs {
		key := models.NaturalKey("2024-R" + uuid.NewString()[:4] + string(rune('A'+i)))
		s.Require().NoError(s.store.Insert(ctx, s.newDoc("d1", key)))
	}

	var total atomic.Int32
	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := s.store.ClaimAllUnclaimed(ctx, "d1", nil, id.HolderID(uuid.New()), time.Now())
			if err == nil {
				total.Add(int32(len(got)))
			}
		}()
	}
	wg.Wait()
	s.Equal(int32(docs), total.Load())
}
