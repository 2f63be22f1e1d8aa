package service

import (
	"context"

	"github.com/ewhitmore/lmsx/internal/domain"
	"github.com/ewhitmore/lmsx/internal/search"
	"github.com/ewhitmore/lmsx/internal/tree"
)

// RootNodes materializes the tree's root layer: top-level categories
// ordered by name.
func (s *Service) RootNodes(ctx context.Context) ([]*tree.Node, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	return sess.tree.Roots(ctx)
}

// Expand materializes a node's children, fetching through the cache. A
// failed expansion leaves the node in the error state; calling Expand again
// retries.
func (s *Service) Expand(ctx context.Context, node *tree.Node) ([]*tree.Node, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	return sess.tree.Expand(ctx, node)
}

// Refresh invalidates the cached listings behind a node, collapses its
// subtree and re-expands it from fresh records.
func (s *Service) Refresh(ctx context.Context, node *tree.Node) ([]*tree.Node, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}

	s.invalidateFor(sess, node.Entity())
	sess.tree.Collapse(node)
	return sess.tree.Expand(ctx, node)
}

// RefreshAll drops every cached record and the materialized tree; the next
// RootNodes call rebuilds from the service.
func (s *Service) RefreshAll() {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return
	}
	sess.cache.Clear()
	sess.tree.Reset()
	s.logger.Info("full refresh requested")
}

// Filter returns the already-materialized nodes whose subtree matches the
// text, ancestors included. Unloaded branches are not fetched.
func (s *Service) Filter(text string) []*tree.Node {
	sess, err := s.current()
	if err != nil {
		return nil
	}
	return sess.tree.Filter(search.Substring(text))
}

// FilterFunc runs an arbitrary predicate over the materialized tree.
func (s *Service) FilterFunc(pred tree.Predicate) []*tree.Node {
	sess, err := s.current()
	if err != nil {
		return nil
	}
	return sess.tree.Filter(pred)
}

// NodeState reports a node's expansion state.
func (s *Service) NodeState(node *tree.Node) tree.State {
	sess, err := s.current()
	if err != nil {
		return tree.StateCollapsed
	}
	return sess.tree.State(node)
}

// NodeErr reports the error attached to a node in the error state.
func (s *Service) NodeErr(node *tree.Node) error {
	sess, err := s.current()
	if err != nil {
		return err
	}
	return sess.tree.Err(node)
}

// NodeChildren returns a snapshot of a node's materialized children.
func (s *Service) NodeChildren(node *tree.Node) []*tree.Node {
	sess, err := s.current()
	if err != nil {
		return nil
	}
	return sess.tree.Children(node)
}

// invalidateFor drops the cached listings a node's expansion reads, so the
// re-expansion refetches.
func (s *Service) invalidateFor(sess *session, e domain.Entity) {
	switch rec := e.(type) {
	case domain.Category:
		sess.cache.InvalidateList(keyCategories)
		sess.cache.InvalidateList(keyCourses)
	case domain.Course:
		sess.cache.InvalidateList(keySections(rec.ID))
		sess.cache.InvalidateList(keyGroups(rec.ID))
		sess.cache.InvalidateList(keyUsers(rec.ID))
	case domain.Section:
		sess.cache.InvalidateList(keyModules(rec.ID))
		sess.cache.InvalidateList(keySections(rec.CourseID))
	case domain.Group:
		sess.cache.InvalidateList(keyMembers(rec.ID))
	default:
		sess.cache.Invalidate(e.EntityKind(), e.EntityID())
	}
}
