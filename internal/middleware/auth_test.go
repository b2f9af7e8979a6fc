package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openclaw/wa-session-broker/internal/util"
)

func ownerEcho() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetOwner(r.Context())))
	})
}

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

func TestAuthMiddleware(t *testing.T) {
	const token = "s3cret-token"
	mw := NewAuthMiddleware(util.HashToken(token))

	tests := []struct {
		name       string
		header     string
		owner      string
		accept     string
		query      string
		wantStatus int
		wantCode   string
		wantOwner  string
	}{
		{
			name:       "missing token",
			owner:      "owner-1",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "invalid token",
			header:     "Bearer wrong",
			owner:      "owner-1",
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
		{
			name:       "missing owner",
			header:     "Bearer " + token,
			wantStatus: http.StatusBadRequest,
			wantCode:   "MISSING_REQUIRED",
		},
		{
			name:       "owner too long",
			header:     "Bearer " + token,
			owner:      strings.Repeat("o", maxOwnerIDLength+1),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "valid token",
			header:     "Bearer " + token,
			owner:      " owner-1 ",
			wantStatus: http.StatusOK,
			wantOwner:  "owner-1",
		},
		{
			name:       "query token for event streams",
			owner:      "owner-2",
			accept:     "text/event-stream",
			query:      "?token=" + token,
			wantStatus: http.StatusOK,
			wantOwner:  "owner-2",
		},
		{
			name:       "query token ignored for plain requests",
			owner:      "owner-2",
			query:      "?token=" + token,
			wantStatus: http.StatusUnauthorized,
			wantCode:   "UNAUTHORIZED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/sessions"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.owner != "" {
				req.Header.Set(OwnerHeader, tt.owner)
			}
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			rec := httptest.NewRecorder()

			mw.Handler(ownerEcho()).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantCode != "" {
				assert.Equal(t, tt.wantCode, decodeCode(t, rec))
			}
			if tt.wantOwner != "" {
				assert.Equal(t, tt.wantOwner, rec.Body.String())
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	mw := NewAuthMiddleware("")

	req := httptest.NewRequest(http.MethodGet, "/v1/sessions", nil)
	req.Header.Set(OwnerHeader, "owner-1")
	rec := httptest.NewRecorder()

	mw.Handler(ownerEcho()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "owner-1", rec.Body.String())
}

func TestGetOwner_Empty(t *testing.T) {
	assert.Equal(t, "", GetOwner(t.Context()))
	assert.Equal(t, "abc", GetOwner(WithOwner(t.Context(), "abc")))
}
