package filter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/woozymasta/nodeatlas/internal/status"
)

// View is a map layer toggle. Each view turns one facet into an include or exclude requirement.
type View string

// Map layer toggles.
const (
	ViewAll         View = "all"
	ViewActive      View = "active"
	ViewPotential   View = "potential"
	ViewResidential View = "residential"
	ViewVPS         View = "vps"
	ViewInternet    View = "internet"
	ViewWireless    View = "wireless"
	ViewWired       View = "wired"
	ViewPingable    View = "pingable"
)

type viewRule struct {
	bit      status.Status
	excluded bool
	opposite View
}

var viewRules = map[View]viewRule{
	ViewActive:      {bit: status.Active, opposite: ViewPotential},
	ViewPotential:   {bit: status.Active, excluded: true, opposite: ViewActive},
	ViewResidential: {bit: status.Physical, opposite: ViewVPS},
	ViewVPS:         {bit: status.Physical, excluded: true, opposite: ViewResidential},
	ViewInternet:    {bit: status.Internet},
	ViewWireless:    {bit: status.Wireless},
	ViewWired:       {bit: status.Wired},
	ViewPingable:    {bit: status.Pingable},
}

// ParseView resolves a case-insensitive view name. A facet name selects the
// view that requires the facet, so "physical" is "residential".
func ParseView(name string) (View, error) {
	v := View(strings.ToLower(strings.TrimSpace(name)))
	if v == ViewAll {
		return v, nil
	}
	if _, ok := viewRules[v]; ok {
		return v, nil
	}
	if f, err := status.ParseFacet(name); err == nil {
		for view, rule := range viewRules {
			if rule.bit == f.Bit() && !rule.excluded {
				return view, nil
			}
		}
	}
	return "", fmt.Errorf("unknown view %q", name)
}

// Selection is the set of enabled views. Active/Potential and
// Residential/VPS are exclusive pairs: at most one side of each is on.
// The zero value shows every node.
type Selection struct {
	on map[View]struct{}
}

// ParseViews enables the comma separated views in order, e.g. "active,wireless".
func ParseViews(list string) (Selection, error) {
	var s Selection
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		v, err := ParseView(part)
		if err != nil {
			return Selection{}, err
		}
		s = s.Enable(v)
	}
	return s, nil
}

// Enabled reports whether v is on.
func (s Selection) Enabled(v View) bool {
	if v == ViewAll {
		return len(s.on) == 0
	}
	_, ok := s.on[v]
	return ok
}

// Enable turns v on, switching its pair opposite off. ViewAll clears the selection.
func (s Selection) Enable(v View) Selection {
	if v == ViewAll {
		return Selection{}
	}
	rule, ok := viewRules[v]
	if !ok {
		return s
	}
	next := s.clone()
	if rule.opposite != "" {
		delete(next.on, rule.opposite)
	}
	next.on[v] = struct{}{}
	return next
}

// Toggle flips v. Selections are values; the receiver is never modified.
func (s Selection) Toggle(v View) Selection {
	if v == ViewAll {
		return Selection{}
	}
	if s.Enabled(v) {
		next := s.clone()
		delete(next.on, v)
		return next
	}
	return s.Enable(v)
}

// Reset turns every view off.
func (s Selection) Reset() Selection {
	return Selection{}
}

// Views lists the enabled views in name order.
func (s Selection) Views() []View {
	out := make([]View, 0, len(s.on))
	for v := range s.on {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Masks combines the enabled views into include and exclude bitmasks for Apply.
func (s Selection) Masks() (include, exclude status.Status) {
	for v := range s.on {
		rule := viewRules[v]
		if rule.excluded {
			exclude |= rule.bit
		} else {
			include |= rule.bit
		}
	}
	return include, exclude
}

func (s Selection) String() string {
	views := s.Views()
	if len(views) == 0 {
		return string(ViewAll)
	}
	names := make([]string, len(views))
	for i, v := range views {
		names[i] = string(v)
	}
	return strings.Join(names, ",")
}

func (s Selection) clone() Selection {
	next := Selection{on: make(map[View]struct{}, len(s.on)+1)}
	for v := range s.on {
		next.on[v] = struct{}{}
	}
	return next
}
