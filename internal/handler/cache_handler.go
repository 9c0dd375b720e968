package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"dospill/internal/app/cachectl"
	"dospill/internal/pkg/errs"
	"dospill/internal/pkg/logx"
	"dospill/internal/pkg/req"
	"dospill/internal/pkg/resp"
)

const controlTimeout = 30 * time.Second

type controlInput struct {
	Type string `json:"type"`
}

// HandleCacheControl is the cache controller's control channel. GET_VERSION answers
// with the active version tag; SKIP_WAITING activates the waiting generation.
func HandleCacheControl(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input controlInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), controlTimeout)
		defer cancel()

		reply := make(chan cachectl.Reply, 1)
		err := deps.Registry.Post(ctx, cachectl.Message{Type: input.Type, Reply: reply})
		switch {
		case errors.Is(err, cachectl.ErrUnknownMessage):
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		case err != nil:
			logx.Error(err, "Cache control message failed", "type", input.Type)
			resp.RespondError(w, r, errs.NewError(errs.ErrUnknown))
			return
		}

		select {
		case rep := <-reply:
			resp.RespondSuccess(w, r, rep)
		default:
			var version string
			if active := deps.Registry.Active(); active != nil {
				version = active.Version()
			}
			resp.RespondSuccess(w, r, map[string]string{"version": version})
		}
	}
}

// HandleCDN serves a known cross-origin asset host through the cache-first route.
func HandleCDN(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Edge.ServeCDN(w, r, chi.URLParam(r, "host"), chi.URLParam(r, "*"))
	}
}

const deployTimeout = 2 * time.Minute

type deployInput struct {
	Version  string   `json:"version"`
	Manifest []string `json:"manifest"`
}

// HandleCacheDeploy installs a new cache generation next to the active one. The
// first generation activates at once; later ones wait for SKIP_WAITING.
func HandleCacheDeploy(deps *AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var input deployInput
		if customErr := req.BindJSON(w, r, &input); customErr != nil {
			resp.RespondError(w, r, customErr)
			return
		}
		input.Version = strings.TrimSpace(input.Version)
		if input.Version == "" {
			resp.RespondError(w, r, errs.NewError(errs.ErrInvalidParams))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), deployTimeout)
		defer cancel()

		c, err := deps.Deployer.Deploy(ctx, input.Version, input.Manifest)
		switch {
		case errors.Is(err, cachectl.ErrVersionActive):
			resp.RespondError(w, r, errs.NewError(errs.ErrCacheVersionActive))
			return
		case err != nil:
			logx.Error(err, "Cache deploy failed", "cache_version", input.Version)
			resp.RespondError(w, r, errs.NewError(errs.ErrCacheInstallFailed))
			return
		}

		logx.Info("Cache generation deployed", "cache_version", c.Version(), "state", c.State().String())
		resp.RespondSuccess(w, r, map[string]string{
			"version": c.Version(),
			"state":   c.State().String(),
		})
	}
}
