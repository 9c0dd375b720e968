package handler

import (
	"dospill/internal/app/cachectl"
	"dospill/internal/app/shell"
	"dospill/internal/app/storage"
	"dospill/internal/app/store"
	"dospill/internal/configs"
)

// AppDeps are the services shared by every handler.
type AppDeps struct {
	Config   *configs.AppConfig
	Store    *store.Service
	Uploads  storage.Provider
	Hub      *shell.Hub
	Registry *cachectl.Registry
	Edge     *cachectl.Edge
	Deployer *cachectl.Deployer
}
