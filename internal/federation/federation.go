// Package federation keeps the cache of nodes retrieved from child maps fresh.
package federation

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/client"
	"github.com/woozymasta/nodeatlas/internal/config"
	"github.com/woozymasta/nodeatlas/internal/metrics"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/realtime"
	"github.com/woozymasta/nodeatlas/internal/storage"
)

// Child is a remote map nodes are cached from.
type Child interface {
	BaseURL() string
	AllNodes(ctx context.Context) (map[string][]models.Node, error)
	Status(ctx context.Context) (models.Summary, error)
}

// Options wire the refresher into the rest of the application.
type Options struct {
	Broker  *realtime.Broker
	Metrics *metrics.Metrics

	// OnRefresh is called after the cache changed, typically to reload the snapshot.
	OnRefresh func(ctx context.Context) error

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// Refresher fetches child maps on a heartbeat and replaces the cached nodes.
type Refresher struct {
	store     *storage.Repository
	broker    *realtime.Broker
	metrics   *metrics.Metrics
	onRefresh func(ctx context.Context) error
	now       func() time.Time
	children  []Child
	heartbeat time.Duration
	expiry    time.Duration
	mu        sync.Mutex
}

// New creates a refresher for the configured child maps.
func New(store *storage.Repository, cfg config.Federation, opts Options) *Refresher {
	children := make([]Child, 0, len(cfg.ChildMaps))
	for _, addr := range cfg.ChildMaps {
		children = append(children, client.New(addr, client.Options{
			Timeout:  cfg.Timeout,
			MaxTries: cfg.MaxTries,
		}))
	}
	return NewWithChildren(store, children, cfg.Heartbeat, cfg.CacheExpiry, opts)
}

// NewWithChildren creates a refresher over explicit children.
func NewWithChildren(store *storage.Repository, children []Child, heartbeat, expiry time.Duration, opts Options) *Refresher {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Refresher{
		store:     store,
		broker:    opts.Broker,
		metrics:   opts.Metrics,
		onRefresh: opts.OnRefresh,
		now:       opts.Now,
		children:  children,
		heartbeat: heartbeat,
		expiry:    expiry,
	}
}

// Run refreshes immediately and then on every heartbeat until ctx is done.
func (r *Refresher) Run(ctx context.Context) {
	if len(r.children) == 0 || r.heartbeat <= 0 {
		return
	}

	ticker := time.NewTicker(r.heartbeat)
	defer ticker.Stop()

	for {
		if _, err := r.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("Child map cache refresh failed")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type fetched struct {
	child Child
	nodes map[string][]models.Node
	name  string
}

// Refresh replaces the cache with the current nodes of every child map and
// returns the number of cached nodes. A failing child is logged and skipped.
func (r *Refresher) Refresh(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := r.now()
	if len(r.children) == 0 {
		return 0, nil
	}

	if err := r.store.ClearCache(ctx); err != nil {
		return 0, err
	}

	results := make([]fetched, len(r.children))
	var wg sync.WaitGroup
	for i, c := range r.children {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nodes, err := c.AllNodes(ctx)
			r.metrics.IncChildMapFetch(err == nil)
			if err != nil {
				log.Warn().Err(err).Str("map", c.BaseURL()).Msg("Failed to fetch child map")
				return
			}
			res := fetched{child: c, nodes: nodes}
			if s, err := c.Status(ctx); err == nil {
				res.name = s.Name
			}
			results[i] = res
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return 0, err
	}

	local, err := r.localAddresses(ctx)
	if err != nil {
		return 0, err
	}

	var cached []models.Node
	for _, res := range results {
		if res.nodes == nil {
			continue
		}
		for source, nodes := range res.nodes {
			name := ""
			if source == storage.LocalSource {
				source, name = res.child.BaseURL(), res.name
			}
			id, err := r.store.AddMapSource(ctx, source, name)
			if err != nil {
				log.Warn().Err(err).Str("map", res.child.BaseURL()).Str("source", source).Msg("Skipping map source")
				continue
			}
			for _, raw := range nodes {
				n, err := raw.Sanitize()
				if err != nil {
					log.Warn().Err(err).Str("map", res.child.BaseURL()).Str("addr", raw.ID()).Msg("Skipping invalid cached node")
					continue
				}
				if _, ok := local[n.ID()]; ok {
					continue
				}
				n.SourceID = id
				cached = append(cached, n)
			}
		}
	}

	if err := r.store.CacheNodes(ctx, cached); err != nil {
		return 0, err
	}

	if r.expiry > 0 {
		removed, err := r.store.DeleteExpiredCache(ctx, r.now().Add(-r.expiry))
		if err != nil {
			return 0, err
		}
		if removed > 0 {
			log.Info().Int64("removed", removed).Msg("Expired cached nodes removed")
		}
	}

	if r.onRefresh != nil {
		if err := r.onRefresh(ctx); err != nil {
			return 0, err
		}
	}

	elapsed := r.now().Sub(start)
	r.metrics.ObserveCacheRefresh(elapsed)
	r.broker.Publish(realtime.Event{Type: realtime.CacheRefreshed, Payload: len(cached)})

	log.Info().
		Int("maps", len(r.children)).
		Int("nodes", len(cached)).
		Dur("duration", elapsed).
		Msg("Child map cache refreshed")

	return len(cached), nil
}

func (r *Refresher) localAddresses(ctx context.Context) (map[string]struct{}, error) {
	nodes, err := r.store.DumpLocal(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		out[n.ID()] = struct{}{}
	}
	return out, nil
}
