package models

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"educhain/internal/identity"
	id "educhain/pkg/domain"
)

func TestCoordinates_NaturalKey(t *testing.T) {
	cert := Coordinates{Kind: KindCertificate, RollNumber: "roll42", Period: Period{Year: "2024"}}
	assert.Equal(t, NaturalKey("2024-ROLL42"), cert.NaturalKey())

	mks := Coordinates{Kind: KindMarksheet, RollNumber: " ROLL42 ", Period: Period{Year: "2024", Semester: "3"}}
	assert.Equal(t, NaturalKey("2024-ROLL42-S3"), mks.NaturalKey())

	roman := Coordinates{Kind: KindMarksheet, RollNumber: "r42", Period: Period{Year: "2024", Semester: "ii"}}
	assert.Equal(t, NaturalKey("2024-R42-SII"), roman.NaturalKey())
	assert.Equal(t, roman.NaturalKey(), NormalizeNaturalKey(" 2024-r42-Sii "))
}

func TestNormalizeNaturalKey(t *testing.T) {
	assert.Equal(t, NaturalKey("2024-ROLL42"), NormalizeNaturalKey("\t2024-roll42 "))
	assert.Equal(t, NaturalKey(""), NormalizeNaturalKey("   "))
}

func TestParseKind(t *testing.T) {
	k, err := ParseKind(" Marksheet ")
	require.NoError(t, err)
	assert.Equal(t, KindMarksheet, k)
	assert.Equal(t, "marksheets", k.Category())

	_, err = ParseKind("diploma")
	assert.Error(t, err)
}

func TestNewPublicID(t *testing.T) {
	a := NewPublicID(KindCertificate)
	b := NewPublicID(KindCertificate)
	assert.Regexp(t, `^CERT-[0-9A-F]{16}$`, a)
	assert.NotEqual(t, a, b)
	assert.Regexp(t, `^MKS-`, NewPublicID(KindMarksheet))
}

func TestDocument_ClaimTransition(t *testing.T) {
	doc := &Document{
		PublicID:    "CERT-1",
		ClaimState:  ClaimUnclaimed,
		ContentHash: "h",
		Anchor:      Anchor{TxRef: "0x1"},
		Identity:    identity.Fingerprint{Digest: "d", LastFour: "9012"},
	}
	require.NoError(t, doc.CheckInvariants())

	holder := id.HolderID(uuid.New())
	at := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, doc.Claim(holder, at))
	assert.True(t, doc.HeldBy(holder))
	assert.Equal(t, at, *doc.ClaimedAt)
	require.NoError(t, doc.CheckInvariants())

	assert.Error(t, doc.Claim(id.HolderID(uuid.New()), at), "claims are terminal")
	assert.True(t, doc.HeldBy(holder))
}

func TestDocument_CheckInvariants(t *testing.T) {
	holder := id.HolderID(uuid.New())
	base := Document{PublicID: "CERT-1", ContentHash: "h", Anchor: Anchor{TxRef: "0x1"}, Identity: identity.Fingerprint{Digest: "d"}}

	claimedWithoutHolder := base
	claimedWithoutHolder.ClaimState = ClaimClaimed
	assert.Error(t, claimedWithoutHolder.CheckInvariants())

	unclaimedWithHolder := base
	unclaimedWithHolder.ClaimState = ClaimUnclaimed
	unclaimedWithHolder.ClaimedBy = &holder
	assert.Error(t, unclaimedWithHolder.CheckInvariants())

	noHash := base
	noHash.ClaimState = ClaimUnclaimed
	noHash.ContentHash = ""
	assert.Error(t, noHash.CheckInvariants())
}

func TestDocument_CloneIsDeep(t *testing.T) {
	holder := id.HolderID(uuid.New())
	at := time.Now()
	doc := &Document{ClaimedBy: &holder, ClaimedAt: &at}
	c := doc.Clone()
	*c.ClaimedBy = id.HolderID(uuid.New())
	assert.Equal(t, holder, *doc.ClaimedBy)
}
