package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/openclaw/wa-session-broker/internal/errors"
	"github.com/openclaw/wa-session-broker/internal/httputil"
	"github.com/openclaw/wa-session-broker/internal/model"
)

const statusTerminated = "terminated"

// terminateResponse acknowledges a terminate. Session carries the final record.
type terminateResponse struct {
	Status    string        `json:"status"`
	SessionID string        `json:"sessionId"`
	Session   model.Session `json:"session"`
}

func terminated(s model.Session) terminateResponse {
	return terminateResponse{Status: statusTerminated, SessionID: s.ID, Session: s}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return apperrors.PayloadTooLarge()
		}
		return apperrors.ValidationError("Invalid request body")
	}
	return nil
}
