package database

import (
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

func pqError(code string) error {
	return &pq.Error{Code: pq.ErrorCode(code), Message: "test"}
}

func TestIsTransientSQLStates(t *testing.T) {
	transient := []string{"40001", "40P01", "57P01", "57P03", "08006", "53300"}
	for _, code := range transient {
		assert.True(t, IsTransient(pqError(code)), "code %s should be transient", code)
	}

	permanent := []string{
		"23505", // unique_violation
		"23503", // foreign_key_violation
		"42601", // syntax_error
		"42P01", // undefined_table
		"22P02", // invalid_text_representation
	}
	for _, code := range permanent {
		assert.False(t, IsTransient(pqError(code)), "code %s should not be transient", code)
	}
}

func TestIsTransientWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("query failed: %w", pqError("40001"))
	assert.True(t, IsTransient(wrapped))
}

func TestIsTransientNetworkMessages(t *testing.T) {
	assert.True(t, IsTransient(errors.New("dial tcp 10.0.0.1:5432: connection refused")))
	assert.True(t, IsTransient(errors.New("read tcp: connection reset by peer")))
	assert.True(t, IsTransient(errors.New("write: broken pipe")))
	assert.True(t, IsTransient(errors.New("unexpected EOF")))
	assert.True(t, IsTransient(errors.New("driver: bad connection")))

	assert.False(t, IsTransient(errors.New("pq: duplicate key value violates unique constraint")))
	assert.False(t, IsTransient(nil))
}

func TestIsConnectionError(t *testing.T) {
	assert.True(t, isConnectionError(pqError("08006")))
	assert.True(t, isConnectionError(pqError("57P01")))
	assert.True(t, isConnectionError(errors.New("connection refused")))

	// Retryable but not a connection loss
	assert.False(t, isConnectionError(pqError("40001")))
	assert.False(t, isConnectionError(pqError("53300")))
	assert.False(t, isConnectionError(nil))
}
