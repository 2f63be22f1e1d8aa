// Package tree materializes the lazily-expanded hierarchy over cached LMS
// entities. Nodes move collapsed → expanding → expanded or error; error is
// recoverable by expanding again. The materializer pulls children through a
// Loader so it stays decoupled from any UI loop and testable on its own.
package tree

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ewhitmore/lmsx/internal/domain"
)

// State is a node's expansion state
type State int

const (
	StateCollapsed State = iota
	StateExpanding
	StateExpanded
	StateError
)

func (s State) String() string {
	switch s {
	case StateCollapsed:
		return "collapsed"
	case StateExpanding:
		return "expanding"
	case StateExpanded:
		return "expanded"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Loader supplies entity records for roots and node children. The facade
// implements it on top of the entity cache.
type Loader interface {
	Roots(ctx context.Context) ([]domain.Entity, error)
	Children(ctx context.Context, parent domain.Entity) ([]domain.Entity, error)
}

// NotifyFunc observes node state transitions, e.g. to drive UI progress.
type NotifyFunc func(node *Node, state State)

// nodeKey is the stable identity of a node across re-expansions
type nodeKey struct {
	kind domain.Kind
	id   int64
}

// Node wraps one entity record with expansion state. All state access goes
// through the owning tree's lock so concurrent expansions of the same node
// cannot interleave.
type Node struct {
	entity   domain.Entity
	parent   *Node
	state    State
	err      error
	children []*Node
	byKey    map[nodeKey]*Node
	pending  chan struct{} // non-nil while an expansion is in flight
}

// Entity returns the node's record. The record is immutable; refreshes swap
// it for a new one rather than mutating it.
func (n *Node) Entity() domain.Entity { return n.entity }

// Parent returns the node's parent, nil for roots.
func (n *Node) Parent() *Node { return n.parent }

// Tree owns the materialized node graph for one connection.
type Tree struct {
	loader Loader
	logger *slog.Logger
	notify NotifyFunc

	mu      sync.Mutex
	roots   []*Node
	byKey   map[nodeKey]*Node // root index; child indexes live on their parent
	rootsOK bool
}

// New creates an empty tree over the given loader
func New(loader Loader, logger *slog.Logger) *Tree {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tree{
		loader: loader,
		logger: logger,
		byKey:  make(map[nodeKey]*Node),
	}
}

// SetNotify installs the state-transition observer. Pass nil to remove it.
func (t *Tree) SetNotify(fn NotifyFunc) {
	t.mu.Lock()
	t.notify = fn
	t.mu.Unlock()
}

// State returns the node's current expansion state.
func (t *Tree) State(n *Node) State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return n.state
}

// Err returns the error attached to a node in the error state.
func (t *Tree) Err(n *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return n.err
}

// Children returns a snapshot of the node's materialized children.
func (t *Tree) Children(n *Node) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Node(nil), n.children...)
}

// Roots materializes (or replays) the root node sequence. Re-invocation
// merges on node identity, so previously expanded root subtrees survive.
func (t *Tree) Roots(ctx context.Context) ([]*Node, error) {
	t.mu.Lock()
	if t.rootsOK {
		roots := append([]*Node(nil), t.roots...)
		t.mu.Unlock()
		return roots, nil
	}
	t.mu.Unlock()

	entities, err := t.loader.Roots(ctx)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.roots, t.byKey = mergeNodes(t.byKey, nil, entities)
	t.rootsOK = true
	t.logger.Debug("materialized roots", "count", len(t.roots))
	return append([]*Node(nil), t.roots...), nil
}

// Expand fetches and materializes a node's children. Expanding an expanded
// node merges fresh records into the existing children, preserving any
// deeper subtree already loaded. A failed expansion parks the node in the
// error state; expanding again retries.
func (t *Tree) Expand(ctx context.Context, n *Node) ([]*Node, error) {
	t.mu.Lock()
	if n.state == StateExpanding {
		// Attach to the expansion already in flight.
		done := n.pending
		t.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		if n.state == StateError {
			return nil, n.err
		}
		return append([]*Node(nil), n.children...), nil
	}

	n.state = StateExpanding
	n.pending = make(chan struct{})
	notify := t.notify
	t.mu.Unlock()

	if notify != nil {
		notify(n, StateExpanding)
	}

	entities, err := t.loader.Children(ctx, n.entity)

	t.mu.Lock()
	if err != nil {
		n.state = StateError
		n.err = &domain.ExpansionError{NodeLabel: n.entity.Label(), Err: err}
		t.logger.Warn("expansion failed", "node", n.entity.Label(), "error", err)
	} else {
		n.children, n.byKey = mergeNodes(n.byKey, n, entities)
		n.state = StateExpanded
		n.err = nil
	}
	children := append([]*Node(nil), n.children...)
	settled, settledErr := n.state, n.err
	close(n.pending)
	n.pending = nil
	notify = t.notify
	t.mu.Unlock()

	if notify != nil {
		notify(n, settled)
	}
	if settledErr != nil {
		return nil, settledErr
	}
	return children, nil
}

// Collapse resets a node's subtree to the collapsed state, discarding its
// materialized children. Used after cache invalidation so the next expand
// rebuilds from fresh records.
func (t *Tree) Collapse(n *Node) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n.state == StateExpanding {
		return // let the in-flight expansion settle first
	}
	n.children = nil
	n.byKey = nil
	n.state = StateCollapsed
	n.err = nil
}

// Reset drops the whole materialized graph. Called on disconnect.
func (t *Tree) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.roots = nil
	t.byKey = make(map[nodeKey]*Node)
	t.rootsOK = false
}

// mergeNodes folds a fresh entity sequence into an existing child set.
// Nodes whose id survives keep their identity (and loaded subtree) with the
// record swapped in place; new ids get collapsed nodes; vanished ids drop.
// Output order follows the entity sequence.
func mergeNodes(index map[nodeKey]*Node, parent *Node, entities []domain.Entity) ([]*Node, map[nodeKey]*Node) {
	if index == nil {
		index = make(map[nodeKey]*Node)
	}

	merged := make([]*Node, 0, len(entities))
	seen := make(map[nodeKey]bool, len(entities))
	for _, e := range entities {
		key := nodeKey{kind: e.EntityKind(), id: e.EntityID()}
		if seen[key] {
			continue // duplicate id within a page; first occurrence wins
		}
		seen[key] = true

		if node, ok := index[key]; ok {
			node.entity = e
			merged = append(merged, node)
			continue
		}

		node := &Node{entity: e, parent: parent, state: StateCollapsed}
		index[key] = node
		merged = append(merged, node)
	}

	for key := range index {
		if !seen[key] {
			delete(index, key)
		}
	}

	return merged, index
}
