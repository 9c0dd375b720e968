package handler

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"dospill/internal/app/shell"
	"dospill/internal/app/user"
	"dospill/internal/pkg/auth/jwt"
	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/resp"
)

// HandleWebSocket upgrades a signed-in request into a shell session. admin selects
// the admin shell, which requires an admin session token; the UI shell requires a
// user token.
func HandleWebSocket(deps *AppDeps, upgrader websocket.Upgrader, admin bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload := jwt.GetPayloadFromContext(r)
		if (admin && !payload.IsAdmin()) || (!admin && !payload.IsUser()) {
			logx.Warn("WebSocket request rejected: missing or wrong identity", "admin_shell", admin)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnauthorized))
			return
		}
		identity := user.FromPayload(payload)

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logx.Error(err, "Failed to upgrade connection to WebSocket")
			return
		}

		sessionID := uuid.NewString()
		client := shell.NewClient(conn, logx.Component("ws").With().Str("session_id", sessionID).Logger())

		session := deps.Hub.Open(sessionID, identity, client)
		if session == nil {
			client.Close(websocket.CloseGoingAway, "server shutting down")
			client.WritePump()
			return
		}

		go client.WritePump()

		// The session outlives the upgrade request's context.
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		logx.Info("WebSocket connection established", "session_id", sessionID, "role", identity.Role)

		if err := session.Start(ctx); err != nil {
			logx.Info("Session ended during start", "session_id", sessionID, "error", err.Error())
		}

		client.ReadPump(func(in shell.Inbound) {
			session.Handle(ctx, in)
		}, func() {
			deps.Hub.Remove(sessionID)
		})
	}
}
