/*
Package handler provides the HTTP handlers for the DoSpill server.

The credential check, upload-URL and config endpoints answer with bare JSON bodies
that browser clients already understand; everything else uses the resp envelope.
*/
package handler

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"dospill/internal/app/store"
	"dospill/internal/pkg/auth/jwt"
	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/req"
	"dospill/internal/pkg/resp"
)

type adminLoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type adminLoginResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Token   string `json:"token,omitempty"`
}

// HandleAdminLogin checks the submitted credentials against the server-held admin
// credentials and, on a match, issues a short-lived admin session token.
func HandleAdminLogin(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			resp.RespondMessage(w, r, http.StatusMethodNotAllowed, "Method Not Allowed")
			return
		}

		if deps.Config.AdminUser == "" || deps.Config.AdminPass == "" {
			logx.Error(errors.New("ADMIN_USER or ADMIN_PASS is not set"), "Admin login unavailable")
			resp.RespondJSON(w, r, http.StatusInternalServerError, adminLoginResult{
				Message: errs.NewError(errs.ErrServerConfigMissing).Message,
			})
			return
		}

		var input adminLoginInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondJSON(w, r, http.StatusBadRequest, adminLoginResult{Message: customErr.Message})
			return
		}

		if !credentialsMatch(input, deps.Config.AdminUser, deps.Config.AdminPass) {
			logx.Warn("Admin login rejected")
			resp.RespondJSON(w, r, http.StatusUnauthorized, adminLoginResult{
				Message: errs.NewError(errs.ErrInvalidCredentials).Message,
			})
			return
		}

		token, err := jwt.GenerateToken(&jwt.Payload{Role: jwt.RoleAdmin, DisplayName: input.Username},
			deps.Config.JWTSecret, jwt.AdminSessionExpiration)
		if err != nil {
			logx.Error(err, "Failed to issue admin session token")
			resp.RespondJSON(w, r, http.StatusInternalServerError, adminLoginResult{
				Message: errs.NewError(errs.ErrUnknown).Message,
			})
			return
		}

		logx.Info("Admin signed in")
		resp.RespondJSON(w, r, http.StatusOK, adminLoginResult{Success: true, Token: token})
	}
}

// credentialsMatch compares in constant time. A password starting with "$2" is
// treated as a bcrypt hash.
func credentialsMatch(in adminLoginInput, user, pass string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(in.Username), []byte(user)) == 1

	var passOK bool
	if strings.HasPrefix(pass, "$2") {
		passOK = bcrypt.CompareHashAndPassword([]byte(pass), []byte(in.Password)) == nil
	} else {
		passOK = subtle.ConstantTimeCompare([]byte(in.Password), []byte(pass)) == 1
	}
	return userOK && passOK
}

// HandleGetReport returns one open report. Dismissed reports are gone.
func HandleGetReport(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		report, err := deps.Store.GetReport(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrReportNotFound))
			return
		}
		resp.RespondSuccess(w, r, report)
	}
}

// HandleListReports returns every open report.
func HandleListReports(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reports, err := deps.Store.ListReports(r.Context())
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrUnknown))
			return
		}
		resp.RespondSuccess(w, r, map[string]any{"reports": reports, "total": len(reports)})
	}
}

// HandleDismissReport deletes a report.
func HandleDismissReport(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DismissReport(r.Context(), chi.URLParam(r, "id")); err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrReportNotFound))
			return
		}
		resp.RespondSuccess(w, r, nil)
	}
}

// HandleSetBanned bans or unbans a user. Connected sessions of a banned user are
// signed out by their own profile watch.
func HandleSetBanned(deps *AppDeps, banned bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		u, err := deps.Store.SetBanned(r.Context(), chi.URLParam(r, "id"), banned)
		if err != nil {
			resp.RespondError(w, r, storeError(err, errs.ErrUserNotFound))
			return
		}
		resp.RespondSuccess(w, r, u)
	}
}

func storeError(err error, notFound int) *errs.CustomError {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errs.NewError(notFound)
	case errors.Is(err, store.ErrClosed):
		return errs.NewError(errs.ErrUnknown)
	default:
		return errs.NewError(errs.ErrUnknown, err)
	}
}
