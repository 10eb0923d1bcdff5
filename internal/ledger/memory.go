package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"
)

// MemorySigner is the signer identity reported by MemoryClient.
const MemorySigner = "0x000000000000000000000000000000000000ed0c"

// MemoryClient is an in-process append-only ledger for local runs and tests.
type MemoryClient struct {
	mu    sync.RWMutex
	facts map[string]Fact
	seq   uint64
	now   func() time.Time
}

func NewMemoryClient() *MemoryClient {
	return &MemoryClient{facts: make(map[string]Fact), now: time.Now}
}

func (c *MemoryClient) Submit(ctx context.Context, sub Submission) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreachable, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.facts[sub.DocumentID]; exists {
		return "", fmt.Errorf("%w: %s already anchored", ErrRejected, sub.DocumentID)
	}
	c.seq++
	c.facts[sub.DocumentID] = Fact{
		DocumentID:  sub.DocumentID,
		SubjectName: sub.SubjectName,
		Subject:     sub.Subject,
		ContentHash: sub.ContentHash,
		AnchoredAt:  c.now().UTC().Truncate(time.Second),
		AnchoredBy:  MemorySigner,
	}
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s", c.seq, sub.DocumentID, sub.ContentHash)))
	return "0x" + hex.EncodeToString(sum[:]), nil
}

func (c *MemoryClient) Lookup(_ context.Context, documentID string) (Fact, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	fact, ok := c.facts[documentID]
	if !ok {
		return Fact{}, ErrNotAnchored
	}
	return fact, nil
}

var _ Client = (*MemoryClient)(nil)
