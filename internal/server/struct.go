package server

import (
	"sync"
	"time"

	"github.com/woozymasta/nodeatlas/internal/atlas"
	"github.com/woozymasta/nodeatlas/internal/config"
	"github.com/woozymasta/nodeatlas/internal/geoip"
	"github.com/woozymasta/nodeatlas/internal/metrics"
	"github.com/woozymasta/nodeatlas/internal/realtime"
	"github.com/woozymasta/nodeatlas/internal/storage"
)

// Deps are the shared components the server reads from and writes to.
// Cache and Broker are created when nil; GeoIP and Metrics may stay nil.
type Deps struct {
	Store   *storage.Repository
	GeoIP   *geoip.Provider
	Cache   *atlas.Cache
	Broker  *realtime.Broker
	Metrics *metrics.Metrics
}

// Server holds the dependencies, configuration, and runtime state required
// to handle HTTP requests.
type Server struct {
	// storage provides access to local nodes, cached nodes, child maps and peers.
	storage *storage.Repository

	// geoip resolves addresses to country codes and location hints.
	// It can be nil if the GeoIP database is not initialized.
	geoip *geoip.Provider

	// cache holds the public snapshot every read endpoint is served from.
	cache *atlas.Cache

	// broker pushes node changes to websocket subscribers.
	broker *realtime.Broker

	// metrics is nil when metrics are disabled.
	metrics *metrics.Metrics

	// adminAddrs is a set of hashed admin addresses (using xxhash) allowed
	// to manage any node. Used for fast allowlist verification.
	adminAddrs map[uint64]struct{}

	// shutdown is a signal channel used to stop background routines.
	shutdown chan struct{}

	// seenCache tracks recently registered or updated addresses.
	// It supports the "soft rate limit" on repeated node writes.
	seenCache sync.Map

	// site is the presentation settings reported by /api/status.
	site config.Site

	// netmask restricts the addresses accepted on registration and echo.
	netmask config.CIDR

	// authToken is the bearer token granting admin access. Empty disables it.
	authToken string

	// hostname is the public URL of this map used in feeds.
	hostname string

	// maxBody specifies the maximum allowed size (in bytes) for incoming HTTP request bodies.
	maxBody int64

	// hardLimitCount is the maximum number of write requests allowed per IP address
	// within the hardLimitWin duration.
	hardLimitCount int

	// hardLimitWin is the time window duration for the hard rate limiter.
	hardLimitWin time.Duration

	// softLimitDur is the duration for which another write of the same
	// address is rejected.
	softLimitDur time.Duration

	// feedMaxAge limits the feed to nodes updated recently.
	feedMaxAge time.Duration

	// stopOnce guards shutdown.
	stopOnce sync.Once

	// refreshMu serializes snapshot reloads.
	refreshMu sync.Mutex

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool

	// requireFrom forces registrations to come from the registered address.
	requireFrom bool
}
