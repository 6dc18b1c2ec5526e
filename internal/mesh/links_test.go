package mesh

import (
	"testing"

	"github.com/woozymasta/nodeatlas/internal/models"
)

func ip(s string) models.IP { return models.MustParseIP(s) }

func TestNormalize(t *testing.T) {
	pairs := Normalize([]models.Pair{
		{A: ip("fc00::2"), B: ip("fc00::1")},
		{A: ip("fc00::1"), B: ip("fc00::2")},
		{A: ip("fc00::3"), B: ip("fc00::3")},
		{A: ip("fc00::1"), B: ip("fc00::3")},
	})
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %d", len(pairs))
	}
	if pairs[0].A.String() != "fc00::1" || pairs[0].B.String() != "fc00::2" {
		t.Fatalf("unexpected first pair %+v", pairs[0])
	}
}

func TestLinks_SkipsUnknown(t *testing.T) {
	nodes := []models.Node{
		{Addr: ip("fc00::1"), Latitude: 0, Longitude: 0},
		{Addr: ip("fc00::2"), Latitude: 0, Longitude: 1},
	}
	links := Links(nodes, []models.Pair{
		{A: ip("fc00::2"), B: ip("fc00::1")},
		{A: ip("fc00::1"), B: ip("fc00::9")},
	})
	if len(links) != 1 {
		t.Fatalf("expected 1 link, got %d", len(links))
	}
	l := links[0]
	if l.A.String() != "fc00::1" || l.From.Longitude != 0 || l.To.Longitude != 1 {
		t.Fatalf("unexpected link %+v", l)
	}
	if l.Kilometers < 111 || l.Kilometers > 112 {
		t.Fatalf("unexpected length %v", l.Kilometers)
	}
}

func TestFromAdjacency(t *testing.T) {
	pairs := FromAdjacency(map[string][]models.IP{
		"fc00::1": {ip("fc00::2")},
		"fc00::2": {ip("fc00::1"), ip("fc00::3")},
		"bad":     {ip("fc00::4")},
	})
	if len(pairs) != 2 {
		t.Fatalf("expected 2 pairs, got %+v", pairs)
	}
}
