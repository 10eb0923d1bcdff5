// Package blobstore persists sealed artifacts and hands out time-boxed access.
package blobstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrUnavailable is a transient failure; callers may retry.
	ErrUnavailable = errors.New("blob store unavailable")
	// ErrMisconfigured is a permission or configuration failure; retrying will not help.
	ErrMisconfigured = errors.New("blob store misconfigured")
	// ErrNotFound means no object exists under the key.
	ErrNotFound = errors.New("blob not found")
)

const (
	DefaultSignedURLTTL = 5 * time.Minute
	MaxSignedURLTTL     = 15 * time.Minute
	minSignedURLTTL     = time.Second

	suffixBytes = 6
	objectExt   = ".pdf"
)

// Object is the retrieval handle for a stored artifact.
type Object struct {
	Key       string
	PublicURL string
}

// Store is implemented by every backend.
type Store interface {
	Put(ctx context.Context, category, hint string, data []byte) (Object, error)
	Get(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// NewKey builds {category}/{hint}-{random}.pdf. The random suffix keeps
// repeated uploads for the same hint from colliding.
func NewKey(category, hint string) (string, error) {
	category = sanitize(category)
	hint = sanitize(hint)
	if category == "" || hint == "" {
		return "", errors.New("category and hint are required")
	}
	buf := make([]byte, suffixBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate key suffix: %w", err)
	}
	return category + "/" + hint + "-" + hex.EncodeToString(buf) + objectExt, nil
}

// ClampTTL bounds ttl to [1s, MaxSignedURLTTL]; zero or negative selects the default.
func ClampTTL(ttl time.Duration) time.Duration {
	switch {
	case ttl <= 0:
		return DefaultSignedURLTTL
	case ttl < minSignedURLTTL:
		return minSignedURLTTL
	case ttl > MaxSignedURLTTL:
		return MaxSignedURLTTL
	default:
		return ttl
	}
}

// sanitize keeps key segments to [A-Za-z0-9._-] so hints never introduce
// path separators.
func sanitize(s string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			b.WriteRune(r)
		case r == ' ' || r == '/':
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), ".-")
}

func publicURL(base, key string) string {
	if base == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + key
}
