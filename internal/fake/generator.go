// Package fake provides utilities for generating random nodes and peers for testing and development purposes.
package fake

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/status"
	"github.com/woozymasta/nodeatlas/internal/storage"
)

type city struct {
	Country   string
	Latitude  float64
	Longitude float64
}

var cities = []city{
	{"DE", 52.52, 13.40}, {"DE", 48.14, 11.58}, {"US", 40.71, -74.01}, {"US", 37.77, -122.42},
	{"FR", 48.86, 2.35}, {"GB", 51.51, -0.13}, {"PL", 52.23, 21.01}, {"CZ", 50.08, 14.44},
	{"NL", 52.37, 4.90}, {"SE", 59.33, 18.07}, {"JP", 35.68, 139.69}, {"BR", -23.55, -46.63},
	{"AU", -33.87, 151.21}, {"CA", 43.65, -79.38}, {"UA", 50.45, 30.52}, {"FI", 60.17, 24.94},
}

var (
	owners  = []string{"alice", "bob", "carol", "dave", "erin", "frank", "grace", "heidi", "ivan", "judy"}
	details = []string{
		"rooftop omni antenna", "home office node", "hackerspace gateway", "backyard relay",
		"community center uplink", "balcony sector", "school library ap", "planned tower site",
	}
)

// Nodes returns count random nodes around a fixed set of cities. Nodes share
// an earlier position 20% of the time to form local clusters.
func Nodes(rnd *rand.Rand, count int) []models.Node {
	nodes := make([]models.Node, 0, count)
	for i := 0; i < count; i++ {
		// Random date-time in 30 days range
		daysAgo := rnd.Intn(30)
		seenTime := time.Now().Add(-time.Duration(daysAgo) * 24 * time.Hour).
			Add(-time.Duration(rnd.Intn(1440)) * time.Minute)

		var c city
		if len(nodes) > 0 && rnd.Float32() < 0.2 {
			prev := nodes[rnd.Intn(len(nodes))]
			c = city{Country: prev.Country, Latitude: prev.Latitude, Longitude: prev.Longitude}
		} else {
			c = cities[rnd.Intn(len(cities))]
		}

		addr := make(net.IP, net.IPv6len)
		addr[0] = 0xfc
		rnd.Read(addr[1:])

		var s status.Status
		for _, f := range status.Facets() {
			s = s.With(f, rnd.Float32() < 0.5)
		}

		nodes = append(nodes, models.Node{
			Addr:      models.IP(addr),
			OwnerName: owners[rnd.Intn(len(owners))],
			Contact:   fmt.Sprintf("irc: node%d", rnd.Intn(1000)),
			Details:   details[rnd.Intn(len(details))],
			Country:   c.Country,
			Latitude:  c.Latitude + (rnd.Float64()-0.5)*0.2,
			Longitude: c.Longitude + (rnd.Float64()-0.5)*0.2,
			Status:    s,
			UpdatedAt: seenTime,
		})
	}
	return nodes
}

// Peers links every node to one or two random earlier nodes.
func Peers(rnd *rand.Rand, nodes []models.Node) []models.Pair {
	var pairs []models.Pair
	for i := 1; i < len(nodes); i++ {
		links := 1 + rnd.Intn(2)
		for j := 0; j < links; j++ {
			pairs = append(pairs, models.Pair{A: nodes[i].Addr, B: nodes[rnd.Intn(i)].Addr})
		}
	}
	return pairs
}

// GenerateData populates the storage with a specified number of randomized nodes
// and a random peer table between them.
func GenerateData(ctx context.Context, store *storage.Repository, count int) error {
	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

	nodes := Nodes(rnd, count)
	if err := store.AddNodes(ctx, nodes); err != nil {
		return fmt.Errorf("store fake nodes: %w", err)
	}

	pairs := Peers(rnd, nodes)
	if err := store.ReplacePeers(ctx, pairs); err != nil {
		return fmt.Errorf("store fake peers: %w", err)
	}

	log.Info().Int("nodes", len(nodes)).Int("peers", len(pairs)).Msg("Fake data generated")
	return nil
}
