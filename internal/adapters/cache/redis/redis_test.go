package redis

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makaronz/animatize/internal/cache"
	"github.com/makaronz/animatize/pkg/schema"
)

func TestDecodeEntryRoundTrip(t *testing.T) {
	now := time.Unix(1000, 0).UTC()
	raw, err := json.Marshal(envelope{Entry: &cache.Entry{
		Key:       "k-1",
		Value:     &schema.UnifiedResponse{Status: schema.StatusSuccess, Provider: "flux"},
		Provider:  "flux",
		Model:     "flux-dev",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}})
	require.NoError(t, err)

	entry, err := decodeEntry("k-1", raw)
	require.NoError(t, err)
	assert.Equal(t, "k-1", entry.Key)
	assert.Equal(t, "flux", entry.Provider)
	assert.Equal(t, schema.StatusSuccess, entry.Value.Status)
}

func TestDecodeEntryCorruptPayload(t *testing.T) {
	_, err := decodeEntry("k-1", []byte("{not json"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "corrupt cache payload for k-1")
}

func TestDecodeEntryEmptyEnvelope(t *testing.T) {
	// valid JSON with a null entry must not surface as a corrupt-payload
	// error wrapping nil
	_, err := decodeEntry("k-1", []byte(`{"entry":null}`))
	require.Error(t, err)
	assert.Equal(t, "empty cache envelope for k-1", err.Error())
}
