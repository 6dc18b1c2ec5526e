// Package features converts nodes and mesh links to and from GeoJSON.
package features

import (
	"fmt"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/woozymasta/nodeatlas/internal/mesh"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/status"
)

// Node returns a point feature of a public node. GeoJSON orders
// coordinates as longitude, latitude.
func Node(n models.Node) *geojson.Feature {
	n = n.Public()
	f := geojson.NewFeature(orb.Point{n.Longitude, n.Latitude})
	f.ID = n.ID()
	f.Properties["owner_name"] = n.OwnerName
	f.Properties["status"] = uint32(n.Status)
	f.Properties["facets"] = n.Facets()
	f.Properties["updated_at"] = n.UpdatedAt.UTC().Format(time.RFC3339)

	if n.Contact != "" {
		f.Properties["contact"] = n.Contact
	}
	if n.Details != "" {
		f.Properties["details"] = n.Details
	}
	if len(n.PGP) > 0 {
		f.Properties["pgp"] = n.PGP.String()
	}
	if n.Country != "" {
		f.Properties["country"] = n.Country
	}
	if n.Cached() {
		f.Properties["cached"] = true
		f.Properties["retrieve_time"] = n.RetrieveTime
	}
	return f
}

// Nodes returns a feature collection of nodes.
func Nodes(nodes []models.Node) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, n := range nodes {
		fc.Append(Node(n))
	}
	return fc
}

// Links returns line features of resolved mesh links.
func Links(links []mesh.Link) *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	for _, l := range links {
		f := geojson.NewFeature(orb.LineString{
			{l.From.Longitude, l.From.Latitude},
			{l.To.Longitude, l.To.Latitude},
		})
		f.Properties["a"] = l.A.String()
		f.Properties["b"] = l.B.String()
		f.Properties["km"] = l.Kilometers
		fc.Append(f)
	}
	return fc
}

// ParseNodes reads point features back into nodes. Features without a
// parseable address id or with a non-point geometry fail the whole collection.
func ParseNodes(data []byte) ([]models.Node, error) {
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode feature collection: %w", err)
	}

	nodes := make([]models.Node, 0, len(fc.Features))
	for i, f := range fc.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			return nil, fmt.Errorf("feature %d: geometry %T is not a point", i, f.Geometry)
		}

		id, _ := f.ID.(string)
		addr, err := models.ParseIP(id)
		if err != nil {
			return nil, fmt.Errorf("feature %d: %w", i, err)
		}

		n := models.Node{
			Addr:      addr,
			Longitude: pt[0],
			Latitude:  pt[1],
			OwnerName: str(f.Properties, "owner_name"),
			Contact:   str(f.Properties, "contact"),
			Details:   str(f.Properties, "details"),
			Country:   str(f.Properties, "country"),
			Status:    status.Sanitize(status.Status(num(f.Properties, "status"))),
		}
		if pgp := str(f.Properties, "pgp"); pgp != "" {
			if n.PGP, err = models.DecodePGPID(pgp); err != nil {
				return nil, fmt.Errorf("feature %d: %w", i, err)
			}
		}
		if ts := str(f.Properties, "updated_at"); ts != "" {
			if t, err := time.Parse(time.RFC3339, ts); err == nil {
				n.UpdatedAt = t
			}
		}
		n.RetrieveTime = int64(num(f.Properties, "retrieve_time"))
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// str and num read optional properties, ignoring values of the wrong type.
func str(p geojson.Properties, key string) string {
	v, _ := p[key].(string)
	return v
}

func num(p geojson.Properties, key string) float64 {
	v, _ := p[key].(float64)
	return v
}
