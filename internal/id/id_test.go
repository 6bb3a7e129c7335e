package id

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsUUID(t *testing.T) {
	first := New()
	_, err := uuid.Parse(first)
	require.NoError(t, err)
	assert.NotEqual(t, first, New())
}

func TestBatchKeyCarriesOwnerAndTimestamp(t *testing.T) {
	at := time.Unix(1_700_000_000, 0)
	key := BatchKey("acct-7", at)

	assert.True(t, strings.HasPrefix(key, "acct-7_1700000000_"), key)
	assert.NotEqual(t, key, BatchKey("acct-7", at))
}
