package tree

// Predicate decides whether a single node matches a filter
type Predicate func(node *Node) bool

// Filter returns the already-materialized nodes whose subtree contains at
// least one match, in depth-first order. Matching is a pure view: ancestors
// of a match are kept so the result stays a navigable chain, and no
// expansion is triggered for unloaded branches.
func (t *Tree) Filter(pred Predicate) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []*Node
	for _, root := range t.roots {
		keepSubtree(root, pred, &kept)
	}
	return kept
}

// keepSubtree reports whether the subtree rooted at n contains a match and
// appends the kept chain in depth-first order.
func keepSubtree(n *Node, pred Predicate, kept *[]*Node) bool {
	mark := len(*kept)
	*kept = append(*kept, n) // tentatively keep; rolled back on no match

	matched := pred(n)
	for _, child := range n.children {
		if keepSubtree(child, pred, kept) {
			matched = true
		}
	}

	if !matched {
		*kept = (*kept)[:mark]
	}
	return matched
}
