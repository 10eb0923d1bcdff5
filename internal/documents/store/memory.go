// Package store persists issued documents.
//
// Both implementations enforce one document per (issuer, identity, natural key)
// and make the unclaimed-to-claimed transition conditional, so concurrent
// issuers and claimants settle on a single winner.
package store

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"educhain/internal/documents/models"
	"educhain/internal/ledger"
	id "educhain/pkg/domain"
	"educhain/pkg/platform/sentinel"
)

// InMemoryStore keeps documents in process with a single RWMutex guarding
// the indexes.
type InMemoryStore struct {
	mu       sync.RWMutex
	byID     map[id.DocumentID]*models.Document
	byPublic map[string]id.DocumentID
	byKey    map[models.UniquenessKey]id.DocumentID
}

func NewInMemory() *InMemoryStore {
	return &InMemoryStore{
		byID:     make(map[id.DocumentID]*models.Document),
		byPublic: make(map[string]id.DocumentID),
		byKey:    make(map[models.UniquenessKey]id.DocumentID),
	}
}

func (s *InMemoryStore) Exists(_ context.Context, key models.UniquenessKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.byKey[key]
	return ok, nil
}

func (s *InMemoryStore) Insert(_ context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := doc.UniquenessKey()
	if _, ok := s.byKey[key]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byPublic[doc.PublicID]; ok {
		return sentinel.ErrConflict
	}
	if _, ok := s.byID[doc.ID]; ok {
		return sentinel.ErrConflict
	}
	stored := doc.Clone()
	s.byID[doc.ID] = stored
	s.byPublic[doc.PublicID] = doc.ID
	s.byKey[key] = doc.ID
	return nil
}

func (s *InMemoryStore) FindByPublicID(_ context.Context, publicID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docID, ok := s.byPublic[publicID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.byID[docID].Clone(), nil
}

// FindByTxRef only matches anchored documents; the skip sentinel is shared and
// never identifies one.
func (s *InMemoryStore) FindByTxRef(_ context.Context, txRef string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, doc := range s.byID {
		if doc.Anchor.TxRef == txRef && doc.Anchor.Status == ledger.StatusAnchored {
			return doc.Clone(), nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemoryStore) ClaimOne(_ context.Context, key models.UniquenessKey, holder id.HolderID, at time.Time) (*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	docID, ok := s.byKey[key]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	doc := s.byID[docID]
	if doc.IsClaimed() {
		return nil, sentinel.ErrAlreadyUsed
	}
	if err := doc.Claim(holder, at); err != nil {
		return nil, sentinel.ErrAlreadyUsed
	}
	return doc.Clone(), nil
}

func (s *InMemoryStore) ClaimAllUnclaimed(_ context.Context, fingerprint string, issuer *id.IssuerID, holder id.HolderID, at time.Time) ([]*models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var claimed []*models.Document
	for _, doc := range s.byID {
		if doc.Identity.Digest != fingerprint || doc.IsClaimed() {
			continue
		}
		if issuer != nil && doc.IssuerID != *issuer {
			continue
		}
		if err := doc.Claim(holder, at); err != nil {
			continue
		}
		claimed = append(claimed, doc.Clone())
	}
	sortByCreated(claimed)
	return claimed, nil
}

func (s *InMemoryStore) ListByHolder(_ context.Context, holder id.HolderID) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var held []*models.Document
	for _, doc := range s.byID {
		if doc.HeldBy(holder) {
			held = append(held, doc.Clone())
		}
	}
	sortByCreated(held)
	return held, nil
}

func sortByCreated(docs []*models.Document) {
	slices.SortFunc(docs, func(a, b *models.Document) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.PublicID, b.PublicID)
	})
}
