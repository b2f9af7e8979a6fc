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

	req := httptest.NewRequest("DELETE", "/v1/sessions/abc", nil)
	req.Header.Set("X-Real-IP", "10.0.0.7")
	req.Header.Set("User-Agent", "curl/8")

	LogFromRequest(req, Event{
		Type:      EventSessionTerminate,
		OwnerID:   "owner-1",
		SessionID: "abc",
		Details:   map[string]any{"state": "Connected", "attempt": 2},
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "security", line["audit"])
	assert.Equal(t, "session_terminate", line["eventType"])
	assert.Equal(t, "owner-1", line["ownerId"])
	assert.Equal(t, "abc", line["sessionId"])
	assert.Equal(t, "10.0.0.7", line["ip"])
	assert.Equal(t, "curl/8", line["userAgent"])
	assert.Equal(t, "Connected", line["state"])
	assert.Equal(t, float64(2), line["attempt"])
}

func TestLog_OmitsEmptyFields(t *testing.T) {
	buf := captureLog(t)

	Log(t.Context(), Event{Type: EventCleanupRun})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "cleanup_run", line["eventType"])
	assert.NotContains(t, line, "ownerId")
	assert.NotContains(t, line, "sessionId")
	assert.NotContains(t, line, "ip")
}
