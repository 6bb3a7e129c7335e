package storage

import (
	"testing"

	"github.com/dunamismax/pawtrait/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageKey(t *testing.T) {
	assert.Equal(t, "jobs/abc/original.png", ImageKey("abc", domain.SlotOriginal))
	assert.Equal(t, "jobs/abc/final.png", ImageKey("abc", domain.SlotFinal))
}

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(Config{Endpoint: "localhost:9000"})
	require.Error(t, err)

	client, err := NewClient(Config{Endpoint: "localhost:9000", Access: "a", Secret: "b", Bucket: "pawtrait"})
	require.NoError(t, err)
	assert.Equal(t, "pawtrait", client.Bucket())
}
