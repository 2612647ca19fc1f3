package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	apperrors "github.com/louisbranch/gatekeeper/internal/platform/errors"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps a domain error onto its status. Faults are logged with the
// request line and answered with a stable message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := apperrors.CodeOf(err)
	if code == apperrors.CodeFault || code == apperrors.CodeUnknown {
		code = apperrors.CodeFault
		log.Printf("httpapi: %s %s: %v", r.Method, r.URL.Path, err)
	}
	writeJSON(w, code.HTTPStatus(), errorResponse{Error: string(code), Message: apperrors.PublicMessage(err)})
}

// decodeJSON reads a JSON body into dst. An empty body leaves dst untouched.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return apperrors.Wrap(apperrors.CodeInvalidRequest, "invalid request body", fmt.Errorf("decode body: %w", err))
	}
	return nil
}

func millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
