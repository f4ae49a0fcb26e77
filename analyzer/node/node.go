// Package node assembles the analytics core: provider registry, fetch
// coordinator, snapshot store, engine and comparison service behind one
// handle with a single Close.
package node

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/govscope/govscope/analyzer/comparison"
	"github.com/govscope/govscope/analyzer/db"
	"github.com/govscope/govscope/analyzer/db/iface"
	"github.com/govscope/govscope/analyzer/engine"
	"github.com/govscope/govscope/analyzer/fetcher"
	"github.com/govscope/govscope/analyzer/providers"
	"github.com/govscope/govscope/analyzer/simulator"
	"github.com/govscope/govscope/config"
)

var log = logrus.WithField("prefix", "node")

// httpTimeout bounds a single external HTTP request; retries and deadlines
// above it are the fetch coordinator's business.
const httpTimeout = 30 * time.Second

// Core is the assembled analytics node.
type Core struct {
	Config     *config.Config
	Store      iface.Store
	Engine     *engine.Engine
	Comparison *comparison.Service
	Fetcher    *fetcher.Service
	Simulator  *simulator.Generator
}

// New validates the configuration and wires the core.
func New(cfg *config.Config) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := &http.Client{Timeout: httpTimeout}
	registry, err := providers.NewDefaultRegistry(cfg, client)
	if err != nil {
		return nil, err
	}
	sim := simulator.New(cfg.Simulator)
	fetch, err := fetcher.New(cfg, registry, sim)
	if err != nil {
		return nil, err
	}
	store, err := db.NewStore(cfg.SnapshotStore)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"backend":   cfg.SnapshotStore.Backend,
		"protocols": len(cfg.Protocols),
		"sources":   registry.IDs(),
	}).Info("Analytics core ready")
	return &Core{
		Config:     cfg,
		Store:      store,
		Engine:     engine.New(cfg, fetch, store, sim),
		Comparison: comparison.New(store),
		Fetcher:    fetch,
		Simulator:  sim,
	}, nil
}

// Close releases the core's resources.
func (c *Core) Close() error {
	return c.Store.Close()
}
