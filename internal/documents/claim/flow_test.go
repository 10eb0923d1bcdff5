package claim_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"educhain/internal/blobstore"
	"educhain/internal/documents/claim"
	"educhain/internal/documents/events"
	"educhain/internal/documents/issuance"
	"educhain/internal/documents/models"
	"educhain/internal/documents/store"
	"educhain/internal/identity"
	"educhain/internal/ledger"
	id "educhain/pkg/domain"
	dErrors "educhain/pkg/domain-errors"
	"educhain/pkg/platform/outbox/store/memory"
)

type passSealer struct{}

func (passSealer) Seal(raw []byte, text, _ string) ([]byte, error) {
	return append(append([]byte{}, raw...), text...), nil
}

type world struct {
	issue  *issuance.Orchestrator
	claims *claim.Reconciler
	outbox *memory.Store
}

func newWorld(t *testing.T) world {
	t.Helper()
	hasher, err := identity.NewHasher([]byte("test-pepper"))
	require.NoError(t, err)
	docs := store.NewInMemory()
	outbox := memory.New()
	recorder := events.NewRecorder(outbox)
	return world{
		issue: issuance.New(docs, hasher, passSealer{}, blobstore.NewMemoryStore(""), ledger.NewService(),
			issuance.WithEvents(recorder)),
		claims: claim.New(docs, hasher, claim.WithEvents(recorder)),
		outbox: outbox,
	}
}

func certificate(issuer id.IssuerID, nationalID, roll string) issuance.Request {
	return issuance.Request{
		IssuerID:   issuer,
		Kind:       models.KindCertificate,
		NationalID: nationalID,
		Document:   []byte("%PDF-1.4 body"),
		Metadata: issuance.Metadata{
			HolderName: "Asha Rao",
			Subject:    "B.Sc Physics",
			RollNumber: roll,
			Year:       "2024",
		},
	}
}

func countEvents(s *memory.Store, eventType string) int {
	n := 0
	for _, e := range s.Entries() {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func TestIssueThenClaimLifecycle(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	issuer := id.IssuerID(uuid.New())
	owner := claim.Claimant{HolderID: id.HolderID(uuid.New()), NationalID: "123456789012"}

	doc, err := w.issue.Issue(ctx, certificate(issuer, "123456789012", "ROLL42"))
	require.NoError(t, err)
	assert.Equal(t, models.NaturalKey("2024-ROLL42"), doc.NaturalKey)
	assert.False(t, doc.IsClaimed())

	_, err = w.issue.Issue(ctx, certificate(issuer, "123456789012", "ROLL42"))
	assert.True(t, dErrors.HasCode(err, dErrors.CodeDuplicateIssuance))

	claimed, err := w.claims.ClaimOne(ctx, owner, issuer, "2024-ROLL42")
	require.NoError(t, err)
	assert.Equal(t, doc.PublicID, claimed.PublicID)
	assert.True(t, claimed.HeldBy(owner.HolderID))

	_, err = w.claims.ClaimOne(ctx, owner, issuer, "2024-ROLL42")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeAlreadyClaimed))

	assert.Equal(t, 1, countEvents(w.outbox, events.TypeIssued))
	assert.Equal(t, 1, countEvents(w.outbox, events.TypeClaimed))
}

func TestClaimOne_MixedCaseMarksheetKey(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	issuer := id.IssuerID(uuid.New())
	owner := claim.Claimant{HolderID: id.HolderID(uuid.New()), NationalID: "123456789012"}

	doc, err := w.issue.Issue(ctx, issuance.Request{
		IssuerID:   issuer,
		Kind:       models.KindMarksheet,
		NaturalKey: "2024-r42-Sii",
		NationalID: owner.NationalID,
		Document:   []byte("%PDF-1.4 body"),
		Metadata: issuance.Metadata{
			Subject:    "Physics",
			RollNumber: "r42",
			Year:       "2024",
			Semester:   "ii",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, models.NaturalKey("2024-R42-SII"), doc.NaturalKey)

	claimed, err := w.claims.ClaimOne(ctx, owner, issuer, " 2024-r42-sii ")
	require.NoError(t, err)
	assert.Equal(t, doc.PublicID, claimed.PublicID)
}

func TestClaimOne_WrongIdentityIsNotFound(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	issuer := id.IssuerID(uuid.New())
	_, err := w.issue.Issue(ctx, certificate(issuer, "123456789012", "ROLL42"))
	require.NoError(t, err)

	stranger := claim.Claimant{HolderID: id.HolderID(uuid.New()), NationalID: "999988887777"}
	_, err = w.claims.ClaimOne(ctx, stranger, issuer, "2024-ROLL42")
	assert.True(t, dErrors.HasCode(err, dErrors.CodeNotFound))
}

func TestClaimAll_SecondRunFindsNothing(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	for _, roll := range []string{"R1", "R2", "R3"} {
		_, err := w.issue.Issue(ctx, certificate(id.IssuerID(uuid.New()), "123456789012", roll))
		require.NoError(t, err)
	}
	_, err := w.issue.Issue(ctx, certificate(id.IssuerID(uuid.New()), "111122223333", "R9"))
	require.NoError(t, err)

	owner := claim.Claimant{HolderID: id.HolderID(uuid.New()), NationalID: "1234 5678 9012"}
	first, err := w.claims.ClaimAll(ctx, owner)
	require.NoError(t, err)
	assert.Len(t, first, 3)

	second, err := w.claims.ClaimAll(ctx, owner)
	require.NoError(t, err)
	assert.Empty(t, second)
	assert.Equal(t, 3, countEvents(w.outbox, events.TypeClaimed), "one event per transferred document")
}

func TestClaimOne_ConcurrentClaimantsOneWins(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	issuer := id.IssuerID(uuid.New())
	_, err := w.issue.Issue(ctx, certificate(issuer, "123456789012", "ROLL42"))
	require.NoError(t, err)

	const goroutines = 24
	var wins, lost atomic.Int32
	var wg sync.WaitGroup
	for range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := claim.Claimant{HolderID: id.HolderID(uuid.New()), NationalID: "123456789012"}
			_, err := w.claims.ClaimOne(ctx, c, issuer, "2024-ROLL42")
			switch {
			case err == nil:
				wins.Add(1)
			case dErrors.HasCode(err, dErrors.CodeAlreadyClaimed):
				lost.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(goroutines-1), lost.Load())
}

func TestClaimAll_ConcurrentRunsPartitionDocuments(t *testing.T) {
	w := newWorld(t)
	ctx := context.Background()
	issuer := id.IssuerID(uuid.New())
	const docs = 10
	for i := range docs {
		_, err := w.issue.Issue(ctx, certificate(issuer, "123456789012", "R"+string(rune('A'+i))))
		require.NoError(t, err)
	}

	var total atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := claim.Claimant{HolderID: id.HolderID(uuid.New()), NationalID: "123456789012"}
			got, err := w.claims.ClaimAllFrom(ctx, c, issuer)
			if err == nil {
				total.Add(int32(len(got)))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(docs), total.Load(), "every document claimed exactly once")
}
