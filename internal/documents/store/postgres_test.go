package store

import (
	"errors"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"

	"educhain/pkg/platform/sentinel"
)

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify(&pgconn.PgError{Code: pgUniqueViolation}), sentinel.ErrConflict)

	err := classify(&pgconn.PgError{Code: pgCheckViolation, ConstraintName: "documents_claim_consistent"})
	assert.ErrorIs(t, err, sentinel.ErrInvalidState)
	assert.Contains(t, err.Error(), "documents_claim_consistent")

	other := errors.New("conn reset")
	assert.Equal(t, other, classify(other))
}
