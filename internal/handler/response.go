package handler

import (
	"encoding/json"
	"io"
	"net/http"

	apperrors "github.com/wagate/gateway-server-go/internal/errors"
	"github.com/wagate/gateway-server-go/internal/httputil"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

func writeError(w http.ResponseWriter, err error) {
	httputil.WriteError(w, err)
}

// decodeJSON reads a request body into dst and reports malformed input as a
// validation error rather than a 500. An empty body leaves dst zeroed so
// required-field checks can produce a precise message.
func decodeJSON(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && err != io.EOF {
		return apperrors.New(apperrors.ErrCodeInvalidInput, "Invalid JSON body")
	}
	return nil
}
