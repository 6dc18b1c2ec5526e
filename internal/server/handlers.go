package server

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/woozymasta/nodeatlas/internal/atlas"
	"github.com/woozymasta/nodeatlas/internal/features"
	"github.com/woozymasta/nodeatlas/internal/filter"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/realtime"
	"github.com/woozymasta/nodeatlas/internal/status"
	"github.com/woozymasta/nodeatlas/internal/storage"
)

// viewParams reads the view, include and exclude query parameters into a
// selection and raw bitmasks.
func viewParams(r *http.Request) (filter.Selection, status.Status, status.Status, error) {
	q := r.URL.Query()

	sel, err := filter.ParseViews(q.Get("view"))
	if err != nil {
		return sel, 0, 0, err
	}

	var masks [2]status.Status
	for i, name := range []string{"include", "exclude"} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return sel, 0, 0, errors.New(name + " must be an unsigned 32-bit integer")
		}
		masks[i] = status.Sanitize(status.Status(v))
	}

	return sel, masks[0], masks[1], nil
}

// snapshot returns the current snapshot, loading it on first use.
func (s *Server) snapshot(r *http.Request) (*atlas.Snapshot, error) {
	if s.cache.Loaded() {
		return s.cache.Load(), nil
	}
	return s.Refresh(r.Context())
}

// handleAll dumps every node. Query params: ?since=RFC3339&view=active,wireless&include=&exclude=&geojson
func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	sel, include, exclude, err := viewParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error(), nil)
		return
	}

	var nodes []models.Node
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_time", "since must be an RFC3339 timestamp", nil)
			return
		}
		if nodes, err = s.storage.DumpChanges(r.Context(), t); err != nil {
			writeStoreError(w, err, "dump changes")
			return
		}
		for i := range nodes {
			nodes[i] = nodes[i].Public()
		}
	} else {
		snap, err := s.snapshot(r)
		if err != nil {
			writeStoreError(w, err, "dump nodes")
			return
		}
		w.Header().Set("ETag", snap.ETag)
		if r.Header.Get("If-None-Match") == snap.ETag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		nodes = snap.Nodes
	}

	viewInclude, viewExclude := sel.Masks()
	nodes = filter.Apply(nodes, include|viewInclude, exclude|viewExclude)

	if r.URL.Query().Has("geojson") {
		writeJSON(w, http.StatusOK, features.Nodes(nodes))
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

// handleSearch ranks the visible nodes. Query params: ?q=office&view=active
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	sel, include, exclude, err := viewParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_filter", err.Error(), nil)
		return
	}

	snap, err := s.snapshot(r)
	if err != nil {
		writeStoreError(w, err, "dump nodes")
		return
	}

	state := atlas.Apply(atlas.State{Selection: sel}, atlas.Refreshed{Nodes: filter.Apply(snap.Nodes, include, exclude)})
	state = atlas.Apply(state, atlas.Searched{Query: r.URL.Query().Get("q")})

	writeJSON(w, http.StatusOK, map[string]any{
		"query":   state.Query,
		"view":    state.Selection.String(),
		"results": state.Results(),
	})
}

// handleGetNode returns a single public node. Query params: ?address=fc00::1&geojson
func (s *Server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	addr, err := models.ParseIP(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error(), nil)
		return
	}

	node, err := s.storage.GetNode(r.Context(), addr)
	if err != nil {
		writeStoreError(w, err, "get node")
		return
	}

	if r.URL.Query().Has("geojson") {
		writeJSON(w, http.StatusOK, features.Node(node))
		return
	}
	writeJSON(w, http.StatusOK, node.Public())
}

// decodeRegistration reads the request body into a validated node.
func (s *Server) decodeRegistration(w http.ResponseWriter, r *http.Request, requireEmail bool) (models.Node, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)

	var reg models.Registration
	if err := decodeJSONStrict(r, &reg); err != nil {
		log.Debug().
			Err(err).
			Str("ip", GetRealIP(r, s.trustProxy)).
			Msg("Invalid JSON")
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid JSON body", nil)
		return models.Node{}, false
	}

	node, err := reg.Node(requireEmail)
	if err != nil {
		writeValidationError(w, err)
		return models.Node{}, false
	}
	return node, true
}

// canManage reports whether the request comes from the node itself or an admin.
func (s *Server) canManage(r *http.Request, addr models.IP) bool {
	if ip := s.remoteIP(r); ip != nil && ip.Equal(net.IP(addr)) {
		return true
	}
	return s.isAdmin(r)
}

// countryOf resolves the node address, falling back to the caller address.
func (s *Server) countryOf(r *http.Request, addr models.IP) string {
	if c := s.geoip.CountryCode(net.IP(addr)); c != "" {
		return c
	}
	return s.geoip.CountryCode(s.remoteIP(r))
}

// handleRegisterNode adds a new local node.
func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	if s.storage.ReadOnly() {
		writeStoreError(w, storage.ErrReadOnly, "add node")
		return
	}

	node, ok := s.decodeRegistration(w, r, true)
	if !ok {
		s.metrics.IncNodeChange("add", "invalid")
		return
	}

	if !s.netmask.Contains(net.IP(node.Addr)) {
		s.metrics.IncNodeChange("add", "invalid")
		writeError(w, http.StatusBadRequest, "outside_netmask", "address is not inside the network "+s.netmask.String(), nil)
		return
	}
	if s.requireFrom && !s.canManage(r, node.Addr) {
		s.metrics.IncNodeChange("add", "forbidden")
		writeError(w, http.StatusForbidden, "address_mismatch", "remote address does not match node address", nil)
		return
	}
	if s.softLimited(node.ID()) {
		writeError(w, http.StatusTooManyRequests, "soft_limited", "address was changed recently", nil)
		return
	}

	node.Country = s.countryOf(r, node.Addr)
	node.UpdatedAt = time.Now().UTC()

	if err := s.storage.AddNode(r.Context(), node); err != nil {
		s.metrics.IncNodeChange("add", "error")
		writeStoreError(w, err, "add node")
		return
	}

	s.markWritten(node.ID())
	s.metrics.IncNodeChange("add", "ok")
	log.Info().Str("addr", node.ID()).Str("country", node.Country).Msg("Node registered")
	s.afterChange(r.Context(), realtime.NodeAdded, node)

	writeJSON(w, http.StatusCreated, node.Public())
}

// handleUpdateNode replaces the details of an existing local node.
func (s *Server) handleUpdateNode(w http.ResponseWriter, r *http.Request) {
	if s.storage.ReadOnly() {
		writeStoreError(w, storage.ErrReadOnly, "update node")
		return
	}

	node, ok := s.decodeRegistration(w, r, false)
	if !ok {
		s.metrics.IncNodeChange("update", "invalid")
		return
	}

	existing, err := s.storage.GetNode(r.Context(), node.Addr)
	if err == nil && existing.Cached() {
		err = storage.ErrNotFound
	}
	if err != nil {
		s.metrics.IncNodeChange("update", "error")
		writeStoreError(w, err, "get node")
		return
	}

	if !s.canManage(r, node.Addr) {
		s.metrics.IncNodeChange("update", "forbidden")
		writeError(w, http.StatusForbidden, "address_mismatch", "remote address does not match node address", nil)
		return
	}
	if s.softLimited(node.ID()) {
		writeError(w, http.StatusTooManyRequests, "soft_limited", "address was changed recently", nil)
		return
	}

	node.Country = existing.Country
	if node.Country == "" {
		node.Country = s.countryOf(r, node.Addr)
	}
	node.UpdatedAt = time.Now().UTC()

	if err := s.storage.UpdateNode(r.Context(), node); err != nil {
		s.metrics.IncNodeChange("update", "error")
		writeStoreError(w, err, "update node")
		return
	}

	s.markWritten(node.ID())
	s.metrics.IncNodeChange("update", "ok")
	log.Info().Str("addr", node.ID()).Msg("Node updated")
	s.afterChange(r.Context(), realtime.NodeUpdated, node)

	writeJSON(w, http.StatusOK, node.Public())
}

// handleDeleteNode removes a local node. Query params: ?address=fc00::1
func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	addr, err := models.ParseIP(r.URL.Query().Get("address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_address", err.Error(), nil)
		return
	}

	if !s.canManage(r, addr) {
		s.metrics.IncNodeChange("delete", "forbidden")
		writeError(w, http.StatusForbidden, "address_mismatch", "remote address does not match node address", nil)
		return
	}

	if err := s.storage.DeleteNode(r.Context(), addr); err != nil {
		s.metrics.IncNodeChange("delete", "error")
		writeStoreError(w, err, "delete node")
		return
	}

	s.metrics.IncNodeChange("delete", "ok")
	log.Info().Str("addr", addr.String()).Msg("Node deleted")
	s.afterChange(r.Context(), realtime.NodeDeleted, models.Node{Addr: addr})

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "message": "Node deleted"})
}
