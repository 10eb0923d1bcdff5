package blobstore

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var keyPattern = regexp.MustCompile(`^certificates/CERT-42-[0-9a-f]{12}\.pdf$`)

func TestNewKey(t *testing.T) {
	t.Run("follows category/hint-suffix layout", func(t *testing.T) {
		key, err := NewKey("certificates", "CERT-42")
		require.NoError(t, err)
		assert.Regexp(t, keyPattern, key)
	})

	t.Run("repeated hints never collide", func(t *testing.T) {
		a, _ := NewKey("certificates", "CERT-42")
		b, _ := NewKey("certificates", "CERT-42")
		assert.NotEqual(t, a, b)
	})

	t.Run("hint cannot escape its category", func(t *testing.T) {
		key, err := NewKey("marksheets", "../../etc/passwd")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(key, "marksheets/etc-passwd-"), key)
		assert.NotContains(t, key, "..")
	})

	t.Run("requires category and hint", func(t *testing.T) {
		_, err := NewKey("", "x")
		assert.Error(t, err)
		_, err = NewKey("certificates", "///")
		assert.Error(t, err)
	})
}

func TestClampTTL(t *testing.T) {
	assert.Equal(t, DefaultSignedURLTTL, ClampTTL(0))
	assert.Equal(t, DefaultSignedURLTTL, ClampTTL(-time.Minute))
	assert.Equal(t, time.Second, ClampTTL(time.Millisecond))
	assert.Equal(t, 90*time.Second, ClampTTL(90*time.Second))
	assert.Equal(t, MaxSignedURLTTL, ClampTTL(6*time.Hour))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code string
		want error
	}{
		{"AccessDenied", ErrMisconfigured},
		{"NoSuchBucket", ErrMisconfigured},
		{"SignatureDoesNotMatch", ErrMisconfigured},
		{"NoSuchKey", ErrNotFound},
		{"SlowDown", ErrUnavailable},
		{"InternalError", ErrUnavailable},
	}
	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			err := classify("put object", &smithy.GenericAPIError{Code: tc.code, Message: "x"})
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("network errors are transient", func(t *testing.T) {
		err := classify("put object", errors.New("dial tcp: connection refused"))
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

type MemoryStoreSuite struct {
	suite.Suite
	store *MemoryStore
	ctx   context.Context
}

func TestMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(MemoryStoreSuite))
}

func (s *MemoryStoreSuite) SetupTest() {
	s.store = NewMemoryStore("https://blobs.test")
	s.ctx = context.Background()
}

func (s *MemoryStoreSuite) TestRoundTrip() {
	obj, err := s.store.Put(s.ctx, "certificates", "CERT-42", []byte("sealed"))
	s.Require().NoError(err)
	s.Regexp(keyPattern, obj.Key)
	s.Equal("https://blobs.test/"+obj.Key, obj.PublicURL)

	data, err := s.store.Get(s.ctx, obj.Key)
	s.Require().NoError(err)
	s.Equal([]byte("sealed"), data)
}

func (s *MemoryStoreSuite) TestSignedURL() {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.store.now = func() time.Time { return fixed }
	obj, err := s.store.Put(s.ctx, "certificates", "CERT-42", []byte("sealed"))
	s.Require().NoError(err)

	url, err := s.store.SignedURL(s.ctx, obj.Key, 24*time.Hour)
	s.Require().NoError(err)
	s.Contains(url, obj.Key)
	s.Contains(url, "expires=1772367300", "ttl is capped at 15 minutes")

	_, err = s.store.SignedURL(s.ctx, "certificates/missing.pdf", time.Minute)
	s.ErrorIs(err, ErrNotFound)
}

func (s *MemoryStoreSuite) TestCancelledContextIsTransient() {
	ctx, cancel := context.WithCancel(s.ctx)
	cancel()
	_, err := s.store.Put(ctx, "certificates", "CERT-42", []byte("sealed"))
	s.ErrorIs(err, ErrUnavailable)
	s.Equal(0, s.store.Len())
}
