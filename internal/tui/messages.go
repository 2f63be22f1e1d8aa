package tui

import (
	"github.com/ewhitmore/lmsx/internal/service"
	"github.com/ewhitmore/lmsx/internal/tree"
)

// rootsMsg delivers the materialized root layer
type rootsMsg struct {
	nodes []*tree.Node
	err   error
}

// expandMsg delivers the result of one node expansion
type expandMsg struct {
	node     *tree.Node
	children []*tree.Node
	err      error
}

// usersMsg delivers a course enrolment listing for the detail pane
type usersMsg struct {
	courseID int64
	count    int
	partial  bool
	err      error
}

// eventMsg forwards one facade event into the Bubble Tea loop
type eventMsg service.Event
