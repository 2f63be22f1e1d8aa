package tui

import (
	"context"
	"errors"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ewhitmore/lmsx/internal/domain"
	"github.com/ewhitmore/lmsx/internal/service"
	"github.com/ewhitmore/lmsx/internal/tree"
)

// opTimeout caps every UI-driven fetch so a dead server settles into an
// error state instead of a stuck spinner.
const opTimeout = 45 * time.Second

// loadRoots materializes the root categories off the UI loop
func loadRoots(svc *service.Service) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		nodes, err := svc.RootNodes(ctx)
		return rootsMsg{nodes: nodes, err: err}
	}
}

// expandNode fetches a node's children off the UI loop
func expandNode(svc *service.Service, node *tree.Node) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		children, err := svc.Expand(ctx, node)
		return expandMsg{node: node, children: children, err: err}
	}
}

// refreshNode invalidates and re-expands a node off the UI loop
func refreshNode(svc *service.Service, node *tree.Node) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		children, err := svc.Refresh(ctx, node)
		return expandMsg{node: node, children: children, err: err}
	}
}

// loadUsers fetches a course's enrolment listing for the status line
func loadUsers(svc *service.Service, courseID int64) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), opTimeout)
		defer cancel()

		users, err := svc.GetEnrolledUsers(ctx, courseID)

		var pe *domain.PartialError
		if errors.As(err, &pe) {
			return usersMsg{courseID: courseID, count: len(users), partial: true}
		}
		if err != nil {
			return usersMsg{courseID: courseID, err: err}
		}
		return usersMsg{courseID: courseID, count: len(users)}
	}
}

// waitEvent pumps one facade event into the update loop; re-issued after
// every delivery.
func waitEvent(svc *service.Service) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-svc.Events()
		if !ok {
			return nil
		}
		return eventMsg(ev)
	}
}
