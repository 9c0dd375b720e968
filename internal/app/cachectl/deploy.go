package cachectl

import (
	"context"
	"errors"
	"fmt"
)

// ErrVersionActive is returned by Deploy for the version already in charge.
var ErrVersionActive = errors.New("cachectl: version is already active")

// Deployer builds controller generations that share one origin, network and storage,
// and hands them to the registry. A deploy installs next to the active generation,
// which keeps serving until SKIP_WAITING.
type Deployer struct {
	registry *Registry
	base     Config
	network  Network
	storage  Storage
}

// NewDeployer returns a deployer whose generations copy base apart from version and manifest.
func NewDeployer(registry *Registry, base Config, network Network, storage Storage) *Deployer {
	return &Deployer{registry: registry, base: base, network: network, storage: storage}
}

// Deploy installs the generation tagged version. A nil manifest keeps the base one.
// The first deploy activates at once; later ones wait.
func (d *Deployer) Deploy(ctx context.Context, version string, manifest []string) (*Controller, error) {
	if active := d.registry.Active(); active != nil && active.Version() == version {
		return nil, fmt.Errorf("%w: %s", ErrVersionActive, version)
	}

	cfg := d.base
	cfg.Version = version
	if manifest != nil {
		cfg.Manifest = manifest
	}

	c, err := NewController(cfg, d.network, d.storage)
	if err != nil {
		return nil, err
	}
	if err := d.registry.Register(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}
