package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"dospill/internal/pkg/auth/jwt"
	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/limiter"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/resp"
)

const (
	AdminLoginRate  = 0.1
	AdminLoginBurst = 5
	GuestRate       = 0.05
	GuestBurst      = 3
	UploadRate      = 0.5
	UploadBurst     = 10
	SocketRate      = 0.2
	SocketBurst     = 5
)

// Limiters are the per-IP budgets applied by Router. Close them on shutdown.
type Limiters struct {
	AdminLogin *limiter.IPRateLimiter
	Guest      *limiter.IPRateLimiter
	Upload     *limiter.IPRateLimiter
	Socket     *limiter.IPRateLimiter
}

// NewLimiters returns the default per-IP budgets.
func NewLimiters() *Limiters {
	return &Limiters{
		AdminLogin: limiter.NewIPRateLimiter(rate.Limit(AdminLoginRate), AdminLoginBurst),
		Guest:      limiter.NewIPRateLimiter(rate.Limit(GuestRate), GuestBurst),
		Upload:     limiter.NewIPRateLimiter(rate.Limit(UploadRate), UploadBurst),
		Socket:     limiter.NewIPRateLimiter(rate.Limit(SocketRate), SocketBurst),
	}
}

// Close stops every limiter's sweeper.
func (l *Limiters) Close() {
	l.AdminLogin.Close()
	l.Guest.Close()
	l.Upload.Close()
	l.Socket.Close()
}

// Router sets up the HTTP routing table: the public request handlers, the admin REST
// surface, the shell websockets, the cache control channel and, for every other
// path, the cache edge in front of the app origin.
func Router(deps *AppDeps, limits *Limiters) http.Handler {
	r := chi.NewRouter()

	allowedOrigins := make(map[string]struct{})
	for _, origin := range deps.Config.AllowedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	wsUpgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if deps.Config.IsDevelopment() {
				return true
			}

			origin := r.Header.Get("Origin")
			if _, ok := allowedOrigins[origin]; ok {
				return true
			}

			logx.Warn("WebSocket connection rejected: Origin not allowed.", "origin", origin)
			return false
		},
	}

	corsAllowedOrigins := []string{}
	if deps.Config.IsDevelopment() {
		corsAllowedOrigins = []string{"*"}
	} else if len(deps.Config.AllowedOrigins) > 0 {
		corsAllowedOrigins = deps.Config.AllowedOrigins
	}

	c := cors.New(cors.Options{
		AllowedOrigins:   corsAllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{},
		AllowCredentials: true,
		MaxAge:           300,
	})
	r.Use(c.Handler)

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logx.RequestLogger())
	r.Use(middleware.Recoverer)

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		resp.RespondMessage(w, r, http.StatusMethodNotAllowed, errs.NewError(errs.ErrMethodNotAllowed).Message)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		data := map[string]any{
			"status":   "ok",
			"service":  "DoSpill Server",
			"sessions": deps.Hub.Len(),
		}
		if active := deps.Registry.Active(); active != nil {
			data["cacheVersion"] = active.Version()
		}
		resp.RespondSuccess(w, r, data)
	})

	r.Route("/api", func(api chi.Router) {
		api.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		// These three check the method themselves to keep their own 405 bodies.
		api.Handle("/admin-login", limits.AdminLogin.Middleware(HandleAdminLogin(deps)))
		api.Handle("/upload-url", limits.Upload.Middleware(HandleUploadURL(deps)))
		api.Handle("/config", HandleConfig(deps))

		api.With(limits.Guest.Middleware).Post("/auth/guest", HandleGuestSignIn(deps))

		api.Route("/admin", func(admin chi.Router) {
			admin.Use(jwt.RequireAdmin)

			admin.Get("/reports", HandleListReports(deps))
			admin.Get("/reports/{id}", HandleGetReport(deps))
			admin.Delete("/reports/{id}", HandleDismissReport(deps))
			admin.Post("/users/{id}/ban", HandleSetBanned(deps, true))
			admin.Post("/users/{id}/unban", HandleSetBanned(deps, false))
			admin.Post("/cache", HandleCacheDeploy(deps))
		})
	})

	r.Post("/sw/control", HandleCacheControl(deps))

	r.Group(func(ws chi.Router) {
		ws.Use(limits.Socket.Middleware)
		ws.Use(jwt.IdentityExtractorMiddleware(deps.Config.JWTSecret))

		ws.Get("/ws/app", HandleWebSocket(deps, wsUpgrader, false))
		ws.Get("/ws/admin", HandleWebSocket(deps, wsUpgrader, true))
	})

	r.Get("/cdn/{host}/*", HandleCDN(deps))
	r.Handle("/*", deps.Edge)

	return r
}
