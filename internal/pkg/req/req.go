/*
Package req binds HTTP request bodies into Go values.
*/
package req

import (
	"encoding/json"
	"net/http"
	"strings"

	"dospill/internal/pkg/errs"
)

// MaxJSONBody caps every JSON request body.
const MaxJSONBody int64 = 64 << 10

// BindJSON decodes a single JSON document from the request body into dst.
// Unknown fields and trailing content are rejected.
func BindJSON(w http.ResponseWriter, r *http.Request, dst any) *errs.CustomError {
	contentType := r.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "application/json") {
		return errs.NewError(errs.ErrUnsupportedMediaType)
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxJSONBody))
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}

	if decoder.More() {
		return errs.NewError(errs.ErrExtraContentInBody)
	}

	return nil
}

// DecodeFrame decodes a websocket frame payload into dst.
func DecodeFrame(payload json.RawMessage, dst any) *errs.CustomError {
	if len(payload) == 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if err := json.Unmarshal(payload, dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}
	return nil
}
