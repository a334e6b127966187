package tasks

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionExpirePayload_KeepsStartInstant(t *testing.T) {
	started := time.Date(2024, 5, 1, 9, 0, 0, 123000000, time.UTC)
	raw, err := NewSessionExpirePayload("s1", started)
	require.NoError(t, err)

	var p SessionExpirePayload
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, "s1", p.SessionID)
	assert.True(t, p.StartedAt.Equal(started))
}

func TestTaskIDs_AreStablePerSession(t *testing.T) {
	assert.Equal(t, ExpireTaskID("s1"), ExpireTaskID("s1"))
	assert.NotEqual(t, ExpireTaskID("s1"), ExpireTaskID("s2"))
	assert.NotEqual(t, ExpireTaskID("s1"), ArchiveTaskID("s1"))
}
