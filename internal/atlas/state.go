// Package atlas holds the map state: the node snapshot, the enabled
// views and the current query, advanced by events through Apply.
package atlas

import (
	"github.com/woozymasta/nodeatlas/internal/filter"
	"github.com/woozymasta/nodeatlas/internal/models"
	"github.com/woozymasta/nodeatlas/internal/search"
)

// State is an immutable value; Apply returns a new one.
type State struct {
	Selection filter.Selection
	Query     string
	Nodes     []models.Node
}

// Event changes the state.
type Event interface {
	apply(State) State
}

// Refreshed replaces the whole node list.
type Refreshed struct {
	Nodes []models.Node
}

// Toggled flips one map view.
type Toggled struct {
	View filter.View
}

// Searched sets the search query.
type Searched struct {
	Query string
}

// Cleared resets views and query, keeping the nodes.
type Cleared struct{}

func (e Refreshed) apply(s State) State {
	s.Nodes = append([]models.Node(nil), e.Nodes...)
	return s
}

func (e Toggled) apply(s State) State {
	s.Selection = s.Selection.Toggle(e.View)
	return s
}

func (e Searched) apply(s State) State {
	s.Query = e.Query
	return s
}

func (Cleared) apply(s State) State {
	s.Selection = s.Selection.Reset()
	s.Query = ""
	return s
}

// Apply returns the state after ev. A nil event leaves the state unchanged.
func Apply(s State, ev Event) State {
	if ev == nil {
		return s
	}
	return ev.apply(s)
}

// Visible returns the nodes passing the enabled views.
func (s State) Visible() []models.Node {
	include, exclude := s.Selection.Masks()
	return filter.Apply(s.Nodes, include, exclude)
}

// Results ranks the visible nodes against the query.
func (s State) Results() []search.Result {
	return search.Search(s.Visible(), s.Query)
}
