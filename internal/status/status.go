// Package status converts the 32-bit node status field to and from its named facets.
package status

import (
	"fmt"
	"strings"
)

// Status is the bit field stored with every node.
type Status uint32

// Named status bits. Every other bit is reserved and always zero on encode.
const (
	Active   Status = 1 << 0  // active / planned
	Physical Status = 1 << 7  // residential or physical server / hosted VPS
	Internet Status = 1 << 8  // has internet access
	Wireless Status = 1 << 9  // has wireless access
	Wired    Status = 1 << 10 // has wired access
	Pingable Status = 1 << 24 // reachable / down

	// Named is the union of every named bit.
	Named = Active | Physical | Internet | Wireless | Wired | Pingable

	// Reserved holds the bits with no defined meaning.
	Reserved = ^Named
)

// Facet identifies one named boolean property of a status.
type Facet int

// Facets in bit order.
const (
	FacetActive Facet = iota
	FacetPhysical
	FacetInternet
	FacetWireless
	FacetWired
	FacetPingable
)

var facetBits = [...]Status{Active, Physical, Internet, Wireless, Wired, Pingable}

var facetNames = [...]string{"active", "physical", "internet", "wireless", "wired", "pingable"}

// Facets lists every facet in bit order.
func Facets() []Facet {
	return []Facet{FacetActive, FacetPhysical, FacetInternet, FacetWireless, FacetWired, FacetPingable}
}

// Bit returns the status bit of the facet, or 0 for an unknown facet.
func (f Facet) Bit() Status {
	if f < 0 || int(f) >= len(facetBits) {
		return 0
	}
	return facetBits[f]
}

func (f Facet) String() string {
	if f < 0 || int(f) >= len(facetNames) {
		return fmt.Sprintf("facet(%d)", int(f))
	}
	return facetNames[f]
}

// ParseFacet resolves a case-insensitive facet name.
func ParseFacet(name string) (Facet, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range facetNames {
		if n == name {
			return Facet(i), nil
		}
	}
	return 0, fmt.Errorf("unknown facet %q", name)
}

// FacetSet is the decoded form of a status.
type FacetSet struct {
	Active   bool `json:"active"`
	Physical bool `json:"physical"`
	Internet bool `json:"internet"`
	Wireless bool `json:"wireless"`
	Wired    bool `json:"wired"`
	Pingable bool `json:"pingable"`
}

// Has reports whether the facet is present in the set.
func (fs FacetSet) Has(f Facet) bool {
	switch f {
	case FacetActive:
		return fs.Active
	case FacetPhysical:
		return fs.Physical
	case FacetInternet:
		return fs.Internet
	case FacetWireless:
		return fs.Wireless
	case FacetWired:
		return fs.Wired
	case FacetPingable:
		return fs.Pingable
	}
	return false
}

// Decode tests each named bit of s. Reserved bits are ignored.
func Decode(s Status) FacetSet {
	return FacetSet{
		Active:   s&Active != 0,
		Physical: s&Physical != 0,
		Internet: s&Internet != 0,
		Wireless: s&Wireless != 0,
		Wired:    s&Wired != 0,
		Pingable: s&Pingable != 0,
	}
}

// Encode ORs together the bits of every facet present in fs.
func Encode(fs FacetSet) Status {
	var s Status
	for _, f := range Facets() {
		if fs.Has(f) {
			s |= f.Bit()
		}
	}
	return s
}

// Sanitize clears the reserved bits of s.
func Sanitize(s Status) Status {
	return s & Named
}

// Has reports whether every bit of mask is set in s.
func (s Status) Has(mask Status) bool {
	return s&mask == mask
}

// With returns s with the facet bit set or cleared.
func (s Status) With(f Facet, on bool) Status {
	if on {
		return s | f.Bit()
	}
	return s &^ f.Bit()
}

// String lists the set facets, e.g. "active|wireless".
func (s Status) String() string {
	var names []string
	for _, f := range Facets() {
		if s&f.Bit() != 0 {
			names = append(names, f.String())
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "|")
}
