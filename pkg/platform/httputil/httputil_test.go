package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "educhain/pkg/domain-errors"
)

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

func TestWriteError(t *testing.T) {
	t.Run("internal error omits description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeInternal, "db failed"))

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "internal_error", body["error"])
		assert.NotContains(t, body, "error_description")
	})

	t.Run("client error includes description", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, dErrors.New(dErrors.CodeAlreadyClaimed, "document is already claimed"))

		assert.Equal(t, http.StatusConflict, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, "already_claimed", body["error"])
		assert.Equal(t, "document is already claimed", body["error_description"])
	})

	t.Run("plain errors are internal", func(t *testing.T) {
		w := httptest.NewRecorder()
		WriteError(w, errors.New("boom"))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "internal_error", decodeBody(t, w)["error"])
	})
}

func TestDomainCodeToHTTPStatus(t *testing.T) {
	cases := map[dErrors.Code]int{
		dErrors.CodeInvalidInput:        http.StatusBadRequest,
		dErrors.CodeForbidden:           http.StatusForbidden,
		dErrors.CodeNotFound:            http.StatusNotFound,
		dErrors.CodeDuplicateIssuance:   http.StatusConflict,
		dErrors.CodeAlreadyClaimed:      http.StatusConflict,
		dErrors.CodeStoreUnavailable:    http.StatusServiceUnavailable,
		dErrors.CodeAnchorLookupFailed:  http.StatusServiceUnavailable,
		dErrors.CodeAnchorFailed:        http.StatusBadGateway,
		dErrors.CodeSealRenderingFailed: http.StatusInternalServerError,
		dErrors.CodeStoreMisconfigured:  http.StatusInternalServerError,
		dErrors.CodeInternal:            http.StatusInternalServerError,
	}
	for code, status := range cases {
		assert.Equal(t, status, DomainCodeToHTTPStatus(code), string(code))
	}
}

type namedRequest struct {
	Name string `json:"name"`
}

func (r *namedRequest) Normalize() { r.Name = strings.TrimSpace(r.Name) }

func (r *namedRequest) Validate() error {
	if r.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

func TestDecodeAndPrepare(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("normalizes and validates", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"  asha "}`))
		w := httptest.NewRecorder()
		req, ok := DecodeAndPrepare[namedRequest](w, r, logger)
		require.True(t, ok)
		assert.Equal(t, "asha", req.Name)
	})

	t.Run("validation failure is invalid input", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":" "}`))
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[namedRequest](w, r, logger)
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "invalid_input", decodeBody(t, w)["error"])
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"asha","role":"admin"}`))
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[namedRequest](w, r, logger)
		require.False(t, ok)
		assert.Equal(t, "bad_request", decodeBody(t, w)["error"])
	})

	t.Run("trailing data is rejected", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"asha"}{"name":"ravi"}`))
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[namedRequest](w, r, logger)
		require.False(t, ok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		body := `{"name":"` + strings.Repeat("a", MaxJSONBody) + `"}`
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[namedRequest](w, r, logger)
		require.False(t, ok)
		assert.Equal(t, "request body too large", decodeBody(t, w)["error_description"])
	})

	t.Run("malformed body", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
		w := httptest.NewRecorder()
		_, ok := DecodeAndPrepare[namedRequest](w, r, logger)
		require.False(t, ok)
		assert.Equal(t, "bad_request", decodeBody(t, w)["error"])
	})
}
