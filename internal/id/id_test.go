package id

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumeric_Increasing(t *testing.T) {
	a := Numeric()
	b := Numeric()
	assert.Greater(t, b, a)
}

func TestULID_Unique(t *testing.T) {
	assert.NotEqual(t, ULID(), ULID())
	assert.Len(t, ULID(), 26)
}

func TestIssueKey_IsUUID(t *testing.T) {
	_, err := uuid.Parse(IssueKey())
	require.NoError(t, err)
}
