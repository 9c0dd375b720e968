package handler

import (
	"errors"
	"net/http"

	"dospill/internal/app/storage"
	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/resp"
)

// HandleUploadURL reserves an upload URL with the configured object-storage provider.
func HandleUploadURL(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			resp.RespondMessage(w, r, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		up, err := deps.Uploads.UploadURL(r.Context(), storage.UploadRequest{})
		if err != nil {
			if errors.Is(err, storage.ErrNotConfigured) {
				logx.Error(err, "Upload URL requested without provider credentials", "provider", deps.Uploads.Name())
				resp.RespondMessage(w, r, http.StatusInternalServerError, errs.NewError(errs.ErrServerConfigMissing).Message)
				return
			}
			logx.Error(err, "Error getting upload URL", "provider", deps.Uploads.Name())
			resp.RespondMessage(w, r, http.StatusInternalServerError, errs.NewError(errs.ErrUploadProviderFailed).Message)
			return
		}

		resp.RespondJSON(w, r, http.StatusOK, up)
	}
}

// HandleConfig serves the public client configuration.
func HandleConfig(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			resp.RespondMessage(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}

		pub := deps.Config.Public
		if !pub.Complete() {
			logx.Error(errors.New("public client configuration incomplete"), "Missing PUBLIC_* environment variable")
			resp.RespondJSON(w, r, http.StatusInternalServerError, map[string]string{
				"error": errs.NewError(errs.ErrServerConfigMissing).Message,
			})
			return
		}

		resp.RespondJSON(w, r, http.StatusOK, pub)
	}
}
