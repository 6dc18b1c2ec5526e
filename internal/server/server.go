// Package server implements the HTTP API, middleware, and request handlers of the map.
package server

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/atlas"
	"github.com/woozymasta/nodeatlas/internal/config"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/realtime"
)

const (
	requestTimeout = 15 * time.Second
	feedMaxAge     = 30 * 24 * time.Hour
)

// New creates a new Server instance with the provided dependencies and configuration.
func New(deps Deps, cfg *config.Config) *Server {
	adminMap := make(map[uint64]struct{})
	for _, addr := range cfg.Server.AdminAddrs {
		if ip := net.ParseIP(addr); ip != nil {
			adminMap[xxhash.Sum64String(ip.String())] = struct{}{}
		} else {
			log.Warn().Str("address", addr).Msg("Ignoring invalid admin address")
		}
	}

	if deps.Cache == nil {
		deps.Cache = atlas.NewCache()
	}
	if deps.Broker == nil {
		deps.Broker = realtime.NewBroker()
	}

	return &Server{
		storage:        deps.Store,
		geoip:          deps.GeoIP,
		cache:          deps.Cache,
		broker:         deps.Broker,
		metrics:        deps.Metrics,
		adminAddrs:     adminMap,
		site:           cfg.Site,
		netmask:        cfg.Server.Netmask,
		authToken:      cfg.Server.AuthToken,
		hostname:       cfg.Server.Hostname,
		maxBody:        cfg.Server.MaxBodySize,
		trustProxy:     cfg.Server.TrustProxy,
		requireFrom:    cfg.Server.RequireFrom,
		hardLimitCount: cfg.RateLimit.HardLimitCount,
		hardLimitWin:   cfg.RateLimit.HardLimitWin,
		softLimitDur:   cfg.RateLimit.SoftLimitDur,
		feedMaxAge:     feedMaxAge,

		shutdown: make(chan struct{}),
	}
}

// StartWorkers starts the soft-limit cache cleanup routine.
func (s *Server) StartWorkers() {
	go s.gcSoftLimitCache()
}

// StopWorkers stops the background routines.
func (s *Server) StopWorkers() {
	s.stopOnce.Do(func() { close(s.shutdown) })
}

// Refresh reloads every node from storage into the public snapshot.
func (s *Server) Refresh(ctx context.Context) (*atlas.Snapshot, error) {
	// Dump and store must not interleave with another refresh, or an older
	// dump could replace a newer snapshot.
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	nodes, err := s.storage.DumpNodes(ctx)
	if err != nil {
		return nil, err
	}

	local := 0
	for i := range nodes {
		nodes[i] = nodes[i].Public()
		if !nodes[i].Cached() {
			local++
		}
	}

	snap := s.cache.Store(nodes)
	s.metrics.SetNodes(local, len(nodes)-local)
	log.Debug().
		Int("nodes", len(nodes)).
		Uint64("version", snap.Version).
		Msg("Snapshot refreshed")

	return snap, nil
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Recoverer)
	r.Use(s.LoggingMiddleware)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/api/events", s.broker.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/api/all", s.handleAll)
		r.Get("/api/search", s.handleSearch)
		r.Get("/api/node", s.handleGetNode)
		r.Get("/api/status", s.handleStatus)
		r.Get("/api/echo", s.handleEcho)
		r.Get("/api/all_peers", s.handlePeers)
		r.Get("/api/links", s.handleLinks)
		r.Get("/api/distance", s.handleDistance)
		r.Get("/api/locate", s.handleLocate)
		r.Get("/api/child_maps", s.handleChildMaps)
		r.Get("/api/version", s.handleVersion)
		r.Get("/feeds/nodes.rss", s.handleFeed)
		r.Get("/feeds/nodes.atom", s.handleFeed)

		r.Group(func(r chi.Router) {
			r.Use(s.RateLimitMiddleware)

			r.Post("/api/node", s.handleRegisterNode)
			r.Put("/api/node", s.handleUpdateNode)
			r.Delete("/api/node", s.handleDeleteNode)
			r.With(s.AdminAuthMiddleware).Put("/api/peers", s.handleReplacePeers)
		})
	})

	return r
}

// afterChange refreshes the snapshot and notifies websocket subscribers.
func (s *Server) afterChange(ctx context.Context, eventType string, n models.Node) {
	if _, err := s.Refresh(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to refresh snapshot")
	}

	evt := realtime.Event{Type: eventType, Address: n.ID()}
	if eventType != realtime.NodeDeleted {
		evt.Payload = n.Public()
	}
	s.broker.Publish(evt)
}

// softLimited reports whether key was written within softLimitDur.
func (s *Server) softLimited(key string) bool {
	if s.softLimitDur <= 0 {
		return false
	}

	if v, ok := s.seenCache.Load(key); ok {
		if t, ok := v.(time.Time); ok && time.Since(t) < s.softLimitDur {
			return true
		}
	}
	return false
}

// markWritten starts the soft limit window of key after a successful write.
func (s *Server) markWritten(key string) {
	if s.softLimitDur > 0 {
		s.seenCache.Store(key, time.Now())
	}
}

// gcSoftLimitCache periodically cleans up expired entries from the soft rate-limit cache.
func (s *Server) gcSoftLimitCache() {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			now := time.Now()
			s.seenCache.Range(func(key, value any) bool {
				if t, ok := value.(time.Time); ok {
					if now.Sub(t) > s.softLimitDur {
						s.seenCache.Delete(key)
					}
				} else {
					s.seenCache.Delete(key)
				}
				return true
			})
		}
	}
}
