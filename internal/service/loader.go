package service

import (
	"context"
	"fmt"

	"github.com/ewhitmore/lmsx/internal/domain"
)

// loader adapts one session's fetch paths to the tree materializer. The
// fixed child orderings (categories by name, courses by short name,
// sections by position, users by full name) live here so navigation is
// predictable regardless of service-returned order.
type loader struct {
	svc  *Service
	sess *session
}

// Roots returns the top-level categories: parent id zero, or a parent the
// server never listed (surfaced at the root rather than dropped). The
// category graph is checked for cycles first.
func (l *loader) Roots(ctx context.Context) ([]domain.Entity, error) {
	cats, err := l.svc.categories(ctx, l.sess)
	if err != nil {
		return nil, err
	}

	if err := checkCategoryCycles(cats); err != nil {
		return nil, err
	}

	known := make(map[int64]bool, len(cats))
	for _, c := range cats {
		known[c.ID] = true
	}

	var roots []domain.Category
	for _, c := range cats {
		if c.ParentID == 0 || !known[c.ParentID] {
			roots = append(roots, c)
		}
	}
	domain.SortCategories(roots)

	return asEntities(roots), nil
}

func (l *loader) Children(ctx context.Context, parent domain.Entity) ([]domain.Entity, error) {
	switch rec := parent.(type) {
	case domain.Category:
		return l.categoryChildren(ctx, rec)
	case domain.Course:
		return l.courseChildren(ctx, rec)
	case domain.Section:
		return l.sectionChildren(ctx, rec)
	case domain.Group:
		return l.groupChildren(ctx, rec)
	case domain.Module, domain.User:
		return nil, nil // leaves
	default:
		return nil, fmt.Errorf("unexpected node kind %s", parent.EntityKind())
	}
}

// categoryChildren: subcategories ordered by name, then the category's
// courses ordered by short name.
func (l *loader) categoryChildren(ctx context.Context, cat domain.Category) ([]domain.Entity, error) {
	cats, err := l.svc.categories(ctx, l.sess)
	if err != nil {
		return nil, err
	}
	courses, err := l.svc.courses(ctx, l.sess)
	if err != nil {
		return nil, err
	}

	var subcats []domain.Category
	for _, c := range cats {
		if c.ParentID == cat.ID {
			subcats = append(subcats, c)
		}
	}
	domain.SortCategories(subcats)

	var mine []domain.Course
	for _, c := range courses {
		if c.CategoryID == cat.ID {
			mine = append(mine, c)
		}
	}
	domain.SortCourses(mine)

	children := make([]domain.Entity, 0, len(subcats)+len(mine))
	children = append(children, asEntities(subcats)...)
	children = append(children, asEntities(mine)...)
	return children, nil
}

// courseChildren: sections ordered by position, then groups ordered by
// name.
func (l *loader) courseChildren(ctx context.Context, course domain.Course) ([]domain.Entity, error) {
	sections, err := l.svc.sections(ctx, l.sess, course.ID)
	if err != nil {
		return nil, err
	}
	ordered := append([]domain.Section(nil), sections...)
	domain.SortSections(ordered)

	groups, err := l.svc.groups(ctx, l.sess, course.ID)
	if err != nil {
		return nil, err
	}

	children := make([]domain.Entity, 0, len(ordered)+len(groups))
	children = append(children, asEntities(ordered)...)
	children = append(children, asEntities(groups)...)
	return children, nil
}

// sectionChildren: modules in the service's display order.
func (l *loader) sectionChildren(ctx context.Context, section domain.Section) ([]domain.Entity, error) {
	modules, err := l.svc.modules(ctx, l.sess, section)
	if err != nil {
		return nil, err
	}
	return asEntities(modules), nil
}

// groupChildren: member users ordered by full name.
func (l *loader) groupChildren(ctx context.Context, group domain.Group) ([]domain.Entity, error) {
	users, err := l.svc.members(ctx, l.sess, group)
	if err != nil {
		return nil, err
	}
	ordered := append([]domain.User(nil), users...)
	domain.SortUsers(ordered)
	return asEntities(ordered), nil
}

// checkCategoryCycles walks every category's parent chain. A chain that
// revisits a node is a data-integrity error reported outright, never
// recursed into.
func checkCategoryCycles(cats []domain.Category) error {
	parents := make(map[int64]int64, len(cats))
	for _, c := range cats {
		parents[c.ID] = c.ParentID
	}

	for _, c := range cats {
		visited := map[int64]bool{c.ID: true}
		id := c.ParentID
		for id != 0 {
			if visited[id] {
				return &domain.IntegrityError{Kind: domain.KindCategory, ID: c.ID, Reason: "cycle in category parent chain"}
			}
			visited[id] = true
			parent, ok := parents[id]
			if !ok {
				break // dangling parent; the category surfaces as a root
			}
			id = parent
		}
	}
	return nil
}
