// Package config handles the parsing and validation of application configuration
// from command-line arguments, environment variables, .env and the site file.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/woozymasta/nodeatlas/internal/logger"
	"github.com/woozymasta/nodeatlas/internal/vars"
)

// Config represents the complete application flags configuration.
type Config struct {
	// betteralign:ignore

	Server     Server        `group:"Server Options" env-namespace:"NODEATLAS"`
	Storage    Storage       `group:"Storage Options" namespace:"db" env-namespace:"NODEATLAS_DB"`
	GeoIP      GeoIP         `group:"GeoIP Options" namespace:"geoip" env-namespace:"NODEATLAS_GEOIP"`
	RateLimit  RateLimit     `group:"Rate Limit Options" namespace:"rate-limit" env-namespace:"NODEATLAS_RATE_LIMIT"`
	Federation Federation    `group:"Federation Options" namespace:"federation" env-namespace:"NODEATLAS_FEDERATION"`
	Probe      Probe         `group:"Probe Options" namespace:"probe" env-namespace:"NODEATLAS_PROBE"`
	Logger     logger.Config `group:"Logger Options" namespace:"log" env-namespace:"NODEATLAS_LOG"`

	// Site is loaded from Server.SiteFile, defaults otherwise.
	Site Site `no-flag:"true"`

	Version bool `short:"v" long:"version" description:"Print version and build info"`
}

// Server holds web server configuration.
type Server struct {
	// betteralign:ignore

	Address     string   `short:"l" long:"address" env:"LISTEN_ADDRESS" description:"Server listen address" default:":8077"`
	Hostname    string   `long:"hostname" env:"HOSTNAME" description:"Public URL of this map, used in feeds" default:"http://localhost:8077"`
	SiteFile    string   `short:"s" long:"site" env:"SITE" description:"Path to YAML file with map presentation settings"`
	AuthToken   string   `short:"t" long:"auth-token" env:"AUTH_TOKEN" description:"Admin bearer token for node management and peer updates"`
	AdminAddrs  []string `long:"admin-address" env:"ADMIN_ADDRESSES" env-delim:"," description:"Addresses allowed to manage any node"`
	Netmask     CIDR     `long:"netmask" env:"NETMASK" description:"Only accept node addresses inside this CIDR network"`
	MaxBodySize int64    `long:"max-body-size" env:"MAX_BODY_SIZE" description:"Max body size for incoming requests" default:"4096"`
	TrustProxy  bool     `long:"trust-proxy" env:"TRUST_PROXY" description:"Trust X-Forwarded-For headers"`
	RequireFrom bool     `long:"require-from-node" env:"REQUIRE_FROM_NODE" description:"Node changes must come from the node address"`
}

// Storage holds database configuration and one-shot maintenance tasks.
type Storage struct {
	// betteralign:ignore

	Driver        string `long:"driver" env:"DRIVER" description:"Database driver" choice:"sqlite" choice:"mysql" default:"sqlite"`
	DSN           string `short:"d" long:"dsn" env:"DSN" description:"SQLite file path or MySQL DSN" default:"nodeatlas.db"`
	ReadOnly      bool   `long:"read-only" env:"READ_ONLY" description:"Reject every write to the database"`
	Import        string `long:"import" description:"Import nodes from a JSON file and exit"`
	PruneCache    bool   `long:"prune-cache" description:"Delete expired cached nodes and exit"`
	ProbeNodes    bool   `long:"probe" description:"Dial every local node, update the pingable flag and exit"`
	GenerateCount int    `long:"gen-fake-data" hidden:"true"`
}

// GeoIP holds MaxMind GeoIP configuration.
type GeoIP struct {
	// betteralign:ignore

	Path     string        `short:"g" long:"path" env:"PATH" description:"Path to country MMDB file" default:"nodeatlas.mmdb"`
	URL      string        `long:"url" env:"URL" description:"URL to download country MMDB" default:"https://git.io/GeoLite2-Country.mmdb"`
	CityPath string        `long:"city-path" env:"CITY_PATH" description:"Optional path to city MMDB file for location hints"`
	Interval time.Duration `long:"interval" env:"INTERVAL" description:"Update interval check" default:"24h"`
}

// RateLimit holds API rate limiting configuration.
type RateLimit struct {
	// betteralign:ignore

	HardLimitCount int           `long:"hard-count" env:"HARD_COUNT" description:"Hard IP limit on writes: requests count" default:"8"`
	HardLimitWin   time.Duration `long:"hard-window" env:"HARD_WINDOW" description:"Hard IP limit on writes: window duration" default:"1m"`
	SoftLimitDur   time.Duration `long:"soft" env:"SOFT" description:"Soft limit: reject repeated registration of an address within duration" default:"1m"`
}

// Federation holds child map caching configuration.
type Federation struct {
	// betteralign:ignore

	ChildMaps   []string      `short:"c" long:"child-map" env:"CHILD_MAPS" env-delim:"," description:"Base URL of a map to cache nodes from"`
	Heartbeat   time.Duration `long:"heartbeat" env:"HEARTBEAT" description:"Interval of cache refresh and pruning" default:"30m"`
	CacheExpiry time.Duration `long:"cache-expiry" env:"CACHE_EXPIRY" description:"Age after which cached nodes are removed" default:"168h"`
	Timeout     time.Duration `long:"timeout" env:"TIMEOUT" description:"Child map request timeout" default:"30s"`
	MaxTries    uint          `long:"max-tries" env:"MAX_TRIES" description:"Attempts per child map request" default:"3"`
}

// Probe holds reachability check configuration.
type Probe struct {
	// betteralign:ignore

	Port    int           `long:"port" env:"PORT" description:"TCP port dialed on each node" default:"80"`
	Timeout time.Duration `long:"timeout" env:"TIMEOUT" description:"Dial timeout" default:"3s"`
	Workers int           `long:"workers" env:"WORKERS" description:"Concurrent probes" default:"10"`
}

// CIDR is a network mask flag value. The zero value matches everything.
type CIDR struct {
	*net.IPNet
}

// UnmarshalFlag implements flags.Unmarshaler.
func (c *CIDR) UnmarshalFlag(value string) error {
	if strings.TrimSpace(value) == "" {
		c.IPNet = nil
		return nil
	}
	_, n, err := net.ParseCIDR(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("invalid netmask %q: %w", value, err)
	}
	c.IPNet = n
	return nil
}

// MarshalFlag implements flags.Marshaler.
func (c CIDR) MarshalFlag() (string, error) {
	if c.IPNet == nil {
		return "", nil
	}
	return c.String(), nil
}

// Contains reports whether ip is inside the mask. A nil mask contains every address.
func (c CIDR) Contains(ip net.IP) bool {
	if c.IPNet == nil {
		return true
	}
	return c.IPNet.Contains(ip)
}

// ErrVersion is returned by ParseArgs when the version flag was given.
var ErrVersion = errors.New("version requested")

// ParseArgs parses args and the environment into a validated configuration.
func ParseArgs(args []string) (*Config, error) {
	var cfg Config
	parser := flags.NewParser(&cfg, flags.HelpFlag|flags.PassDoubleDash)
	parser.NamespaceDelimiter = "-"

	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}

	if cfg.Version {
		return &cfg, ErrVersion
	}

	cfg.Site = DefaultSite()
	if cfg.Server.SiteFile != "" {
		site, err := LoadSite(cfg.Server.SiteFile)
		if err != nil {
			return nil, err
		}
		cfg.Site = site
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that flag parsing cannot.
func (c *Config) Validate() error {
	if c.Server.MaxBodySize <= 0 {
		return errors.New("max body size must be positive")
	}
	if c.Federation.MaxTries == 0 {
		return errors.New("federation max tries must be at least 1")
	}
	if c.Probe.Workers <= 0 {
		return errors.New("probe workers must be positive")
	}
	for _, m := range c.Federation.ChildMaps {
		if !strings.HasPrefix(m, "http://") && !strings.HasPrefix(m, "https://") {
			return fmt.Errorf("child map %q must be an http(s) URL", m)
		}
	}
	return c.Site.Validate()
}

// Parse loads .env, reads the configuration from flags and environment variables.
// It terminates the application if the configuration is invalid or if the help flag is invoked.
func Parse() *Config {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to load .env:", err)
			os.Exit(1)
		}
	}

	cfg, err := ParseArgs(os.Args[1:])
	if err != nil {
		var flagsErr *flags.Error
		switch {
		case errors.Is(err, ErrVersion):
			vars.Print()
			os.Exit(0)
		case errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp:
			fmt.Fprintln(os.Stdout, err)
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	return cfg
}
