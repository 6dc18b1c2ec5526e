// Package feed renders recently registered local nodes as RSS and Atom.
package feed

import (
	"sort"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"github.com/woozymasta/nodeatlas/internal/models"
)

// Options describe the feed channel.
type Options struct {
	Now      time.Time
	Title    string
	Hostname string
	MaxAge   time.Duration
}

// Build returns a feed of local nodes updated within MaxAge, newest first.
func Build(nodes []models.Node, opts Options) *feeds.Feed {
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	host := strings.TrimRight(opts.Hostname, "/")

	f := &feeds.Feed{
		Title:       opts.Title + " NodeAtlas",
		Link:        &feeds.Link{Href: host},
		Description: "New local node feed",
		Created:     opts.Now,
	}

	recent := make([]models.Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Cached() {
			continue
		}
		if opts.MaxAge > 0 && opts.Now.Sub(n.UpdatedAt) > opts.MaxAge {
			continue
		}
		recent = append(recent, n)
	}
	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].UpdatedAt.After(recent[j].UpdatedAt)
	})

	for _, n := range recent {
		link := host + "/node/" + n.ID()
		f.Items = append(f.Items, &feeds.Item{
			Id:          link,
			Title:       n.OwnerName,
			Link:        &feeds.Link{Href: link},
			Description: n.Details,
			Created:     n.UpdatedAt,
		})
	}
	if len(recent) > 0 {
		f.Updated = recent[0].UpdatedAt
	}
	return f
}
