package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/config"
	"github.com/woozymasta/nodeatlas/internal/features"
	"github.com/woozymasta/nodeatlas/internal/feed"
	"github.com/woozymasta/nodeatlas/internal/filter"
	"github.com/woozymasta/nodeatlas/internal/geo"
	"github.com/woozymasta/nodeatlas/internal/mesh"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/realtime"
	"github.com/woozymasta/nodeatlas/internal/status"
	"github.com/woozymasta/nodeatlas/internal/storage"
	"github.com/woozymasta/nodeatlas/internal/vars"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.storage.Ping(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database is not reachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "read_only": s.storage.ReadOnly()})
}

// handleStatus reports node counts and the site presentation settings.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		writeStoreError(w, err, "dump nodes")
		return
	}
	sources, err := s.storage.MapSources(r.Context())
	if err != nil {
		writeStoreError(w, err, "map sources")
		return
	}

	local, err := s.storage.LenNodes(r.Context(), false)
	if err != nil {
		writeStoreError(w, err, "count nodes")
		return
	}
	total, err := s.storage.LenNodes(r.Context(), true)
	if err != nil {
		writeStoreError(w, err, "count nodes")
		return
	}

	summary := models.Summary{
		Name:        s.site.Name,
		LocalNodes:  local,
		CachedNodes: total - local,
		CachedMaps:  len(sources),
		Pingable:    filter.Count(snap.Nodes, status.Pingable, 0),
	}

	writeJSON(w, http.StatusOK, struct {
		models.Summary
		Site config.Site `json:"site"`
	}{summary, s.site})
}

// handleEcho returns the caller address when it is inside the network mask.
func (s *Server) handleEcho(w http.ResponseWriter, r *http.Request) {
	if s.netmask.IPNet == nil {
		writeError(w, http.StatusNotFound, "netmask_not_set", "netmask not set", nil)
		return
	}

	ip := s.remoteIP(r)
	if ip == nil || !s.netmask.Contains(ip) {
		writeError(w, http.StatusForbidden, "outside_netmask", "remote address not in subnet", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": ip.String()})
}

// handlePeers lists the stored peer pairs.
func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	pairs, err := s.storage.Peers(r.Context())
	if err != nil {
		writeStoreError(w, err, "peers")
		return
	}
	if pairs == nil {
		pairs = []models.Pair{}
	}
	writeJSON(w, http.StatusOK, pairs)
}

// handleLinks resolves peer pairs to drawable links. Query params: ?geojson
func (s *Server) handleLinks(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		writeStoreError(w, err, "dump nodes")
		return
	}
	pairs, err := s.storage.Peers(r.Context())
	if err != nil {
		writeStoreError(w, err, "peers")
		return
	}

	links := mesh.Links(snap.Nodes, pairs)
	if r.URL.Query().Has("geojson") {
		writeJSON(w, http.StatusOK, features.Links(links))
		return
	}
	writeJSON(w, http.StatusOK, links)
}

type peersRequest struct {
	Adjacency map[string][]models.IP `json:"adjacency,omitempty"`
	Pairs     []models.Pair          `json:"pairs,omitempty"`
}

// handleReplacePeers swaps the peer table. Accepts pairs, an adjacency table or both.
func (s *Server) handleReplacePeers(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody*64)

	var req peersRequest
	if err := decodeJSONStrict(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
		return
	}

	pairs := mesh.Normalize(append(req.Pairs, mesh.FromAdjacency(req.Adjacency)...))
	if err := s.storage.ReplacePeers(r.Context(), pairs); err != nil {
		writeStoreError(w, err, "replace peers")
		return
	}

	log.Info().Int("pairs", len(pairs)).Msg("Peers replaced")
	s.broker.Publish(realtime.Event{Type: realtime.PeersUpdated, Payload: len(pairs)})

	writeJSON(w, http.StatusOK, map[string]int{"pairs": len(pairs)})
}

// handleDistance measures the distance between two known nodes. Query params: ?from=fc00::1&to=fc00::2
func (s *Server) handleDistance(w http.ResponseWriter, r *http.Request) {
	from, err := models.ParseIP(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "from: "+err.Error(), nil)
		return
	}
	to, err := models.ParseIP(r.URL.Query().Get("to"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", "to: "+err.Error(), nil)
		return
	}

	snap, err := s.snapshot(r)
	if err != nil {
		writeStoreError(w, err, "dump nodes")
		return
	}

	var a, b *models.Node
	for i := range snap.Nodes {
		switch n := &snap.Nodes[i]; {
		case a == nil && n.Addr.Equal(from):
			a = n
		case b == nil && n.Addr.Equal(to):
			b = n
		}
	}
	if from.Equal(to) {
		b = a
	}
	if a == nil || b == nil {
		writeError(w, http.StatusNotFound, "not_found", "no matching node", nil)
		return
	}

	writeJSON(w, http.StatusOK, struct {
		From string `json:"from"`
		To   string `json:"to"`
		geo.Measure
	}{
		From:    a.ID(),
		To:      b.ID(),
		Measure: geo.Measured(geo.Point{Latitude: a.Latitude, Longitude: a.Longitude}, geo.Point{Latitude: b.Latitude, Longitude: b.Longitude}),
	})
}

// handleLocate returns a GeoIP position hint for the caller.
func (s *Server) handleLocate(w http.ResponseWriter, r *http.Request) {
	loc, ok := s.geoip.Locate(s.remoteIP(r))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown_location", "no location for remote address", nil)
		return
	}
	writeJSON(w, http.StatusOK, loc)
}

// handleChildMaps dumps nodes keyed by the map they come from, "local" for this one.
func (s *Server) handleChildMaps(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		writeStoreError(w, err, "dump nodes")
		return
	}
	sources, err := s.storage.MapSources(r.Context())
	if err != nil {
		writeStoreError(w, err, "map sources")
		return
	}

	grouped := storage.GroupBySource(snap.Nodes, sources)
	if _, ok := grouped[storage.LocalSource]; !ok {
		grouped[storage.LocalSource] = []models.Node{}
	}
	writeJSON(w, http.StatusOK, grouped)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}

// handleFeed renders recently updated local nodes as RSS or Atom, by path suffix.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	snap, err := s.snapshot(r)
	if err != nil {
		writeStoreError(w, err, "dump nodes")
		return
	}

	f := feed.Build(snap.Nodes, feed.Options{
		Title:    s.site.Name,
		Hostname: s.hostname,
		MaxAge:   s.feedMaxAge,
	})

	var (
		body        string
		contentType string
	)
	if strings.HasSuffix(r.URL.Path, ".atom") {
		body, err = f.ToAtom()
		contentType = "application/atom+xml; charset=utf-8"
	} else {
		body, err = f.ToRss()
		contentType = "application/rss+xml; charset=utf-8"
	}
	if err != nil {
		log.Error().Err(err).Msg("Failed to render feed")
		writeError(w, http.StatusInternalServerError, "feed_error", "failed to render feed", nil)
		return
	}

	w.Header().Set("Content-Type", contentType)
	_, _ = w.Write([]byte(body))
}
