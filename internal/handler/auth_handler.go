package handler

import (
	"net/http"

	"dospill/internal/pkg/auth/jwt"
	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/randx"
	"dospill/internal/pkg/resp"
)

// HandleGuestSignIn issues an identity token for a fresh anonymous account.
// The profile document is created when the token first opens a shell session.
func HandleGuestSignIn(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if payload := jwt.GetPayloadFromContext(r); payload.IsUser() {
			resp.RespondSuccess(w, r, map[string]any{
				"user": map[string]any{"id": payload.ID, "role": payload.Role},
			})
			return
		}

		guestID, err := randx.GuestID()
		if err != nil {
			logx.Error(err, "Failed to generate guest id")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		payload := &jwt.Payload{ID: guestID, Role: jwt.RoleGuest}
		token, err := jwt.GenerateToken(payload, deps.Config.JWTSecret, jwt.UserIdentityExpiration)
		if err != nil {
			logx.Error(err, "Failed to generate guest token")
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		logx.Info("Guest signed in", "user_id", guestID)
		resp.RespondSuccess(w, r, map[string]any{
			"token": token,
			"user":  map[string]any{"id": guestID, "role": jwt.RoleGuest},
		})
	}
}
