package audit

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })
	return &buf
}

func TestLogFromRequest(t *testing.T) {
	buf := captureLog(t)

	req := httptest.NewRequest("POST", "/api/plex/oauth/logout", nil)
	req.RemoteAddr = "192.0.2.7:51234"
	req.Header.Set("User-Agent", "test-agent")

	LogFromRequest(req, Event{
		Type:     EventServerSelect,
		Username: "alice",
		Details:  map[string]any{"machineIdentifier": "m1", "local": true, "attempts": 2},
	})

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "security", entry["audit"])
	assert.Equal(t, "server_select", entry["event_type"])
	assert.Equal(t, "alice", entry["username"])
	assert.Equal(t, "192.0.2.7", entry["ip"])
	assert.Equal(t, "test-agent", entry["user_agent"])
	assert.Equal(t, "m1", entry["machineIdentifier"])
	assert.Equal(t, true, entry["local"])
	assert.Equal(t, float64(2), entry["attempts"])
	assert.NotContains(t, entry, "pin_id")
}
