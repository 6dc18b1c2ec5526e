// Package filter selects the nodes whose status matches a combination of facet toggles.
package filter

import (
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/status"
)

// Matches reports whether s carries every bit of include and none of exclude.
func Matches(s, include, exclude status.Status) bool {
	return s&include == include && s&exclude == 0
}

// Apply returns the nodes matching include and exclude, in input order.
// A zero include matches every node; a zero exclude forbids nothing.
func Apply(nodes []models.Node, include, exclude status.Status) []models.Node {
	out := make([]models.Node, 0, len(nodes))
	for _, n := range nodes {
		if Matches(n.Status, include, exclude) {
			out = append(out, n)
		}
	}
	return out
}

// Count returns how many nodes match without allocating the subset.
func Count(nodes []models.Node, include, exclude status.Status) int {
	var c int
	for _, n := range nodes {
		if Matches(n.Status, include, exclude) {
			c++
		}
	}
	return c
}
