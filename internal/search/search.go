// Package search implements free-text ranked search over a node list.
package search

import (
	"encoding/json"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/woozymasta/nodeatlas/internal/models"
)

// FieldDetails is the highlight key of the node details text.
const FieldDetails = "details"

// Span is an inclusive [start, end] rune offset range of a match.
type Span [2]int

// Highlight marks the matched parts of one searchable field.
// Encoded as false when nothing matched, true when the whole field
// matched, or a list of spans otherwise.
type Highlight struct {
	Spans []Span
	Full  bool
}

func (h Highlight) MarshalJSON() ([]byte, error) {
	switch {
	case h.Full:
		return []byte("true"), nil
	case len(h.Spans) == 0:
		return []byte("false"), nil
	}
	return json.Marshal(h.Spans)
}

func (h *Highlight) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "true":
		*h = Highlight{Full: true}
		return nil
	case "false", "null":
		*h = Highlight{}
		return nil
	}
	h.Full = false
	return json.Unmarshal(b, &h.Spans)
}

// Result is a node decorated with its relevance.
type Result struct {
	Highlights map[string]Highlight `json:"highlights"`
	Node       models.Node          `json:"node"`
	Relevance  float64              `json:"relevance"`

	// DirectHit is set when the query names the node address.
	DirectHit bool `json:"direct_hit"`
}

// Search scores every node against query and returns the ones that
// matched, most relevant first. Equal scores keep their input order.
func Search(nodes []models.Node, query string) []Result {
	query = strings.TrimSpace(query)
	terms := strings.Fields(query)

	results := make([]Result, 0)
	for _, n := range nodes {
		r := Score(n, query, terms)
		if r.Relevance > 0 {
			results = append(results, r)
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Relevance > results[j].Relevance
	})
	return results
}

// Score computes the relevance of a single node. query must be trimmed
// and terms must be its whitespace separated words.
func Score(n models.Node, query string, terms []string) Result {
	r := Result{Node: n, Highlights: map[string]Highlight{}}

	addr := AddressScore(n.ID(), query)
	r.DirectHit = addr == 1

	details, hl, ok := DetailsScore(n.Details, terms)
	if ok {
		r.Highlights[FieldDetails] = hl
	}

	r.Relevance = (addr + details) / 2
	return r
}

// AddressScore is 1 when the query contains the node id, 0 otherwise.
// The direction is intentional: pasting a full address or URL into the
// search box jumps to that node.
func AddressScore(id, query string) float64 {
	if id == "" || query == "" {
		return 0
	}
	if strings.Contains(query, id) {
		return 1
	}
	return 0
}

// DetailsScore returns matches²/(terms×words) for the given details text
// along with the match highlight. ok is false when the node has no details.
func DetailsScore(details string, terms []string) (score float64, hl Highlight, ok bool) {
	if details == "" {
		return 0, Highlight{}, false
	}

	var matches int
	for _, term := range terms {
		idx := strings.Index(details, term)
		if idx < 0 {
			continue
		}
		start := utf8.RuneCountInString(details[:idx])
		end := start + utf8.RuneCountInString(term) - 1
		hl.Spans = append(hl.Spans, Span{start, end})
		matches++
	}

	if len(hl.Spans) == 1 && hl.Spans[0] == (Span{0, utf8.RuneCountInString(details) - 1}) {
		hl = Highlight{Full: true}
	}

	words := len(strings.Fields(details))
	if len(terms) == 0 || words == 0 {
		return 0, hl, true
	}

	score = float64(matches*matches) / float64(len(terms)*words)
	if score > 1 {
		score = 1
	}
	return score, hl, true
}
