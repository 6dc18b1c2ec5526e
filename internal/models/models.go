// Package models defines the data structures used for API requests and database persistence.
package models

import (
	"math"
	"time"

	"github.com/woozymasta/nodeatlas/internal/status"
)

// Node is a registered computer, radio, or any other endpoint of a mesh network.
type Node struct {
	// UpdatedAt is the last time the local record changed.
	UpdatedAt time.Time `json:"updated_at"`

	// Addr is the mesh network address and the node identifier.
	Addr IP `json:"addr"`

	OwnerName string `json:"owner_name"`

	// OwnerEmail is never served publicly, see Public.
	OwnerEmail string `json:"owner_email,omitempty"`

	Contact string `json:"contact,omitempty"`
	Details string `json:"details,omitempty"`

	// Country is the ISO code resolved by GeoIP at registration time.
	Country string `json:"country,omitempty"`

	PGP PGPID `json:"pgp,omitempty"`

	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// RetrieveTime is the Unix time a cached node was fetched from its home map.
	// Zero for local nodes.
	RetrieveTime int64 `json:"retrieve_time,omitempty"`

	// SourceID is the local id of the map the node came from; 0 is local.
	SourceID int `json:"-"`

	Status status.Status `json:"status"`
}

// ID returns the node identifier used by search and links.
func (n Node) ID() string {
	return n.Addr.String()
}

// Cached reports whether the node was retrieved from another map.
func (n Node) Cached() bool {
	return n.SourceID != 0
}

// Facets decodes the node status.
func (n Node) Facets() status.FacetSet {
	return status.Decode(n.Status)
}

// Public returns a copy without sensitive fields.
func (n Node) Public() Node {
	n.OwnerEmail = ""
	return n
}

// Sanitize checks the fields of a node received from outside the API
// (imports, child maps) and clears reserved status bits.
func (n Node) Sanitize() (Node, error) {
	if len(n.Addr) == 0 {
		return n, &ValidationError{Field: "address", Reason: "invalid address"}
	}
	if err := checkPosition(n.Latitude, n.Longitude); err != nil {
		return n, err
	}
	n.Status = status.Sanitize(n.Status)
	return n, nil
}

func checkPosition(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return &ValidationError{Field: "latitude", Reason: "must be between -90 and 90"}
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return &ValidationError{Field: "longitude", Reason: "must be between -180 and 180"}
	}
	return nil
}

// Pair is an undirected peer connection between two node addresses.
type Pair struct {
	A IP `json:"a"`
	B IP `json:"b"`
}

// Normalize orders the pair so that A sorts before B.
func (p Pair) Normalize() Pair {
	if p.B.Less(p.A) {
		p.A, p.B = p.B, p.A
	}
	return p
}

// Key is a stable string identifying the normalized pair.
func (p Pair) Key() string {
	n := p.Normalize()
	return n.A.String() + "-" + n.B.String()
}

// MapSource is a child map from which nodes are cached.
type MapSource struct {
	Hostname string `json:"hostname"`
	Name     string `json:"name,omitempty"`
	ID       int    `json:"id"`
}

// Summary is the short status report of this instance.
type Summary struct {
	Name        string `json:"name"`
	LocalNodes  int    `json:"local_nodes"`
	CachedNodes int    `json:"cached_nodes"`
	CachedMaps  int    `json:"cached_maps"`
	Pingable    int    `json:"pingable"`
}
