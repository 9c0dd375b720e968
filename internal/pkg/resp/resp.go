/*
Package resp writes JSON responses.

Most API endpoints use the envelope {code, message, data}; the three public request
handlers (credential check, upload URL, client config) answer with bare JSON bodies,
written through RespondJSON directly.
*/
package resp

import (
	"encoding/json"
	"net/http"

	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
)

// JSONResponse is the standard envelope.
type JSONResponse struct {
	// Code is 0 on success, otherwise an errs code.
	Code int `json:"code"`

	Message string `json:"message"`

	Data any `json:"data,omitempty"`
}

// RespondJSON marshals payload and writes it with httpStatus.
func RespondJSON(w http.ResponseWriter, r *http.Request, httpStatus int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		logx.Error(err, "Error encoding JSON response", "http_status", httpStatus)
		http.Error(w, "Error encoding JSON response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(body)
}

// RespondSuccess writes a 200 envelope carrying data.
func RespondSuccess(w http.ResponseWriter, r *http.Request, data any) {
	RespondJSON(w, r, http.StatusOK, JSONResponse{
		Code:    0,
		Message: "success",
		Data:    data,
	})
}

// RespondError writes customErr as an envelope using its HTTP status.
func RespondError(w http.ResponseWriter, r *http.Request, customErr *errs.CustomError) {
	if customErr == nil {
		customErr = errs.NewError(errs.ErrUnknown)
	}

	RespondJSON(w, r, customErr.Status, JSONResponse{
		Code:    customErr.Code,
		Message: customErr.Message,
	})
}

// RespondMessage writes the bare {"message": ...} body used by the public handlers.
func RespondMessage(w http.ResponseWriter, r *http.Request, httpStatus int, message string) {
	RespondJSON(w, r, httpStatus, map[string]string{"message": message})
}
