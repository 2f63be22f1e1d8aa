// Package search builds filter predicates and ranked match indexes over
// materialized tree nodes. Predicates feed tree.Filter; the Index backs
// jump-to-result style navigation in the UI.
package search

import (
	"strings"

	"github.com/lithammer/fuzzysearch/fuzzy"
	sahilm "github.com/sahilm/fuzzy"

	"github.com/ewhitmore/lmsx/internal/tree"
)

// Substring returns a predicate matching a case-insensitive substring of a
// node's filter content. This is the default filter behavior.
func Substring(query string) tree.Predicate {
	query = strings.ToLower(strings.TrimSpace(query))
	return func(node *tree.Node) bool {
		if query == "" {
			return true
		}
		return strings.Contains(strings.ToLower(node.Entity().FilterContent()), query)
	}
}

// Fuzzy returns a predicate using normalized fuzzy matching, tolerant of
// diacritics and skipped characters.
func Fuzzy(query string) tree.Predicate {
	query = strings.TrimSpace(query)
	return func(node *tree.Node) bool {
		if query == "" {
			return true
		}
		return fuzzy.MatchNormalizedFold(query, node.Entity().FilterContent())
	}
}

// Match is one ranked search hit
type Match struct {
	Node           *tree.Node
	Score          int
	MatchedIndexes []int // rune positions in the label, for highlighting
}

// Index is a snapshot of nodes prepared for ranked fuzzy search. It
// implements sahilm/fuzzy.Source over lowercase labels.
type Index struct {
	nodes  []*tree.Node
	labels []string
}

// NewIndex builds an index over a node snapshot
func NewIndex(nodes []*tree.Node) *Index {
	labels := make([]string, len(nodes))
	for i, n := range nodes {
		labels[i] = strings.ToLower(n.Entity().Label())
	}
	return &Index{nodes: nodes, labels: labels}
}

// String returns the label at i (implements fuzzy.Source)
func (ix *Index) String(i int) string { return ix.labels[i] }

// Len returns the number of indexed nodes (implements fuzzy.Source)
func (ix *Index) Len() int { return len(ix.nodes) }

// Rank returns nodes matching the query, best score first.
func (ix *Index) Rank(query string) []Match {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" {
		return nil
	}

	results := sahilm.FindFrom(query, ix)
	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{
			Node:           ix.nodes[r.Index],
			Score:          r.Score,
			MatchedIndexes: r.MatchedIndexes,
		}
	}
	return matches
}
