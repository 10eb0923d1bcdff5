package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCache_Expiry(t *testing.T) {
	now := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	_, ok, err := c.Get(ctx, "CERT-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Set(ctx, Fact{DocumentID: "CERT-1", ContentHash: "ab12"}))
	fact, ok, err := c.Get(ctx, "CERT-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "ab12", fact.ContentHash)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "CERT-1")
	assert.False(t, ok, "entry expires at the ttl boundary")
}
