// Package mesh resolves peer connections into drawable links between node positions.
package mesh

import (
	"github.com/woozymasta/nodeatlas/internal/geo"
	"github.com/woozymasta/nodeatlas/internal/models"
)

// Link is a peer connection whose both ends are known nodes.
type Link struct {
	A          models.IP `json:"a"`
	B          models.IP `json:"b"`
	From       geo.Point `json:"from"`
	To         geo.Point `json:"to"`
	Kilometers float64   `json:"km"`
}

// Normalize orders every pair, drops self-links and duplicates, keeping first-seen order.
func Normalize(pairs []models.Pair) []models.Pair {
	seen := make(map[string]struct{}, len(pairs))
	out := make([]models.Pair, 0, len(pairs))
	for _, p := range pairs {
		if len(p.A) == 0 || len(p.B) == 0 || p.A.Equal(p.B) {
			continue
		}
		p = p.Normalize()
		key := p.Key()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

// FromAdjacency flattens a source -> destinations table into normalized pairs.
func FromAdjacency(peers map[string][]models.IP) []models.Pair {
	var pairs []models.Pair
	for src, dsts := range peers {
		a, err := models.ParseIP(src)
		if err != nil {
			continue
		}
		for _, b := range dsts {
			pairs = append(pairs, models.Pair{A: a, B: b})
		}
	}
	return Normalize(pairs)
}

// Links resolves pairs against nodes. Pairs with an unknown endpoint are skipped.
func Links(nodes []models.Node, pairs []models.Pair) []Link {
	byID := make(map[string]models.Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID()] = n
	}

	pairs = Normalize(pairs)
	links := make([]Link, 0, len(pairs))
	for _, p := range pairs {
		a, okA := byID[p.A.String()]
		b, okB := byID[p.B.String()]
		if !okA || !okB {
			continue
		}
		from := geo.Point{Latitude: a.Latitude, Longitude: a.Longitude}
		to := geo.Point{Latitude: b.Latitude, Longitude: b.Longitude}
		links = append(links, Link{
			A:          p.A,
			B:          p.B,
			From:       from,
			To:         to,
			Kilometers: geo.Distance(from, to),
		})
	}
	return links
}
