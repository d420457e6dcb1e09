package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	session := Session{ExpiresAt: now}

	assert.False(t, session.Expired(now.Add(-time.Second)))
	assert.True(t, session.Expired(now))
	assert.True(t, session.Expired(now.Add(time.Second)))
}

func TestSessionTokenNeverSerialized(t *testing.T) {
	session := Session{ID: "sess-1", Token: "opaque-token-value"}

	raw, err := json.Marshal(session)
	assert.NoError(t, err)
	assert.NotContains(t, string(raw), "opaque-token-value")
}
