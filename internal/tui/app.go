package tui

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ewhitmore/lmsx/internal/domain"
	"github.com/ewhitmore/lmsx/internal/search"
	"github.com/ewhitmore/lmsx/internal/service"
	"github.com/ewhitmore/lmsx/internal/tree"
	"github.com/ewhitmore/lmsx/internal/tui/styles"
)

// row is one visible line of the flattened tree
type row struct {
	node  *tree.Node
	depth int
}

// Model is the main Bubble Tea model for the browser
type Model struct {
	svc    *service.Service
	keys   KeyMap
	logger *slog.Logger

	width  int
	height int
	ready  bool

	roots  []*tree.Node
	rows   []row
	cursor int
	offset int

	// open tracks which expanded nodes the user currently has unfolded;
	// distinct from tree state so collapsing in the UI keeps cached children.
	open map[*tree.Node]bool

	spin        spinner.Model
	filterInput textinput.Model
	filtering   bool
	filterText  string
	useFuzzy    bool
	showHidden  bool
	kept        map[*tree.Node]bool

	status    string
	statusErr bool
	quitting  bool
}

// Options carries the UI preferences the browser honors
type Options struct {
	FuzzyFilter bool // fuzzy instead of substring filtering
	ShowHidden  bool // list courses marked invisible
}

// NewModel builds the browser model
func NewModel(svc *service.Service, opts Options, logger *slog.Logger) Model {
	sp := spinner.New()
	sp.Spinner = spinner.MiniDot
	sp.Style = styles.FilterPrompt

	ti := textinput.New()
	ti.Prompt = "/"
	ti.Placeholder = "filter"
	ti.CharLimit = 80

	return Model{
		svc:         svc,
		keys:        DefaultKeyMap(),
		logger:      logger,
		open:        make(map[*tree.Node]bool),
		spin:        sp,
		filterInput: ti,
		useFuzzy:    opts.FuzzyFilter,
		showHidden:  opts.ShowHidden,
		status:      "loading...",
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spin.Tick, loadRoots(m.svc), waitEvent(m.svc))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.clampScroll()
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case rootsMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		m.roots = msg.nodes
		m.status = fmt.Sprintf("%d categories", len(m.roots))
		m.statusErr = false
		m.rebuild()
		return m, nil

	case expandMsg:
		if msg.err != nil {
			m.setError(msg.err)
		} else {
			m.open[msg.node] = true
			m.status = fmt.Sprintf("%s: %d items", msg.node.Entity().Label(), len(msg.children))
			m.statusErr = false
		}
		m.rebuild()
		return m, nil

	case usersMsg:
		if msg.err != nil {
			m.setError(msg.err)
			return m, nil
		}
		if msg.partial {
			m.status = fmt.Sprintf("%d enrolled users (partial)", msg.count)
		} else {
			m.status = fmt.Sprintf("%d enrolled users", msg.count)
		}
		m.statusErr = false
		return m, nil

	case eventMsg:
		return m.handleEvent(service.Event(msg))

	case tea.KeyMsg:
		if m.filtering {
			return m.updateFilter(msg)
		}
		return m.updateBrowse(msg)
	}

	return m, nil
}

// handleEvent reacts to facade notifications delivered between frames
func (m Model) handleEvent(ev service.Event) (tea.Model, tea.Cmd) {
	switch ev.Type {
	case service.EventConnectionChanged:
		if !ev.Connected {
			m.roots = nil
			m.rows = nil
			m.setError(domain.ErrNotConnected)
		}
	case service.EventNodeState:
		// a background transition may change markers on visible rows
		m.rebuild()
	case service.EventFetchError:
		m.logger.Warn("fetch failed", "op", ev.Op, "error", ev.Err)
	}
	return m, waitEvent(m.svc)
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Escape):
		m.filtering = false
		m.filterInput.Blur()
		m.filterInput.SetValue("")
		m.filterText = ""
		m.kept = nil
		m.rebuild()
		return m, nil

	case key.Matches(msg, m.keys.Toggle):
		m.filtering = false
		m.filterInput.Blur()
		m.applyFilter(m.filterInput.Value())
		return m, nil
	}

	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	m.applyFilter(m.filterInput.Value())
	return m, cmd
}

func (m Model) updateBrowse(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		m.quitting = true
		return m, tea.Quit

	case key.Matches(msg, m.keys.Up):
		m.moveCursor(-1)

	case key.Matches(msg, m.keys.Down):
		m.moveCursor(1)

	case key.Matches(msg, m.keys.Top):
		m.cursor = 0
		m.clampScroll()

	case key.Matches(msg, m.keys.Bottom):
		m.cursor = len(m.rows) - 1
		m.clampScroll()

	case key.Matches(msg, m.keys.Toggle), key.Matches(msg, m.keys.Expand):
		return m.toggleCurrent(key.Matches(msg, m.keys.Expand))

	case key.Matches(msg, m.keys.Collapse):
		m.collapseCurrent()

	case key.Matches(msg, m.keys.Refresh):
		if n := m.currentNode(); n != nil {
			m.status = "refreshing " + n.Entity().Label()
			m.statusErr = false
			return m, refreshNode(m.svc, n)
		}

	case key.Matches(msg, m.keys.RefreshAll):
		m.svc.RefreshAll()
		m.open = make(map[*tree.Node]bool)
		m.status = "refreshing everything"
		m.statusErr = false
		return m, loadRoots(m.svc)

	case key.Matches(msg, m.keys.Users):
		if n := m.currentNode(); n != nil {
			if course, ok := n.Entity().(domain.Course); ok {
				m.status = "loading enrolment for " + course.ShortName
				m.statusErr = false
				return m, loadUsers(m.svc, course.ID)
			}
		}

	case key.Matches(msg, m.keys.Filter):
		m.filtering = true
		m.filterInput.Focus()
		return m, textinput.Blink

	case key.Matches(msg, m.keys.Escape):
		if m.filterText != "" {
			m.filterText = ""
			m.filterInput.SetValue("")
			m.kept = nil
			m.rebuild()
		}
	}

	return m, nil
}

// toggleCurrent expands a closed node or folds an open one; expandOnly
// keeps already-open nodes open (the l/right binding).
func (m Model) toggleCurrent(expandOnly bool) (tea.Model, tea.Cmd) {
	n := m.currentNode()
	if n == nil || isLeaf(n) {
		return m, nil
	}

	switch m.svc.NodeState(n) {
	case tree.StateExpanding:
		return m, nil
	case tree.StateExpanded:
		if m.open[n] && !expandOnly {
			delete(m.open, n)
			m.rebuild()
			return m, nil
		}
		m.open[n] = true
		m.rebuild()
		return m, nil
	default:
		// collapsed or errored: fetch (errored nodes retry)
		return m, expandNode(m.svc, n)
	}
}

func (m *Model) collapseCurrent() {
	n := m.currentNode()
	if n == nil {
		return
	}
	if m.open[n] {
		delete(m.open, n)
		m.rebuild()
		return
	}
	// already folded: jump to the parent row
	parent := n.Parent()
	if parent == nil {
		return
	}
	for i, r := range m.rows {
		if r.node == parent {
			m.cursor = i
			m.clampScroll()
			return
		}
	}
}

func (m *Model) applyFilter(text string) {
	m.filterText = text
	if text == "" {
		m.kept = nil
		m.rebuild()
		return
	}

	var nodes []*tree.Node
	if m.useFuzzy {
		nodes = m.svc.FilterFunc(search.Fuzzy(text))
	} else {
		nodes = m.svc.Filter(text)
	}
	m.kept = make(map[*tree.Node]bool, len(nodes))
	for _, n := range nodes {
		m.kept[n] = true
	}
	m.rebuild()
}

// rebuild re-flattens the visible tree into rows
func (m *Model) rebuild() {
	var cur *tree.Node
	if m.cursor < len(m.rows) {
		cur = m.rows[m.cursor].node
	}

	m.rows = m.rows[:0]
	for _, n := range m.roots {
		m.appendRows(n, 0)
	}

	// keep the cursor on the same node when it survives the rebuild
	m.cursor = 0
	for i, r := range m.rows {
		if r.node == cur {
			m.cursor = i
			break
		}
	}
	m.clampScroll()
}

func (m *Model) appendRows(n *tree.Node, depth int) {
	if m.kept != nil && !m.kept[n] {
		return
	}
	if !m.showHidden {
		if course, ok := n.Entity().(domain.Course); ok && !course.Visible {
			return
		}
	}
	m.rows = append(m.rows, row{node: n, depth: depth})

	unfolded := m.open[n] || m.kept != nil
	if !unfolded || m.svc.NodeState(n) != tree.StateExpanded {
		return
	}
	for _, child := range m.svc.NodeChildren(n) {
		m.appendRows(child, depth+1)
	}
}

func (m *Model) currentNode() *tree.Node {
	if m.cursor < 0 || m.cursor >= len(m.rows) {
		return nil
	}
	return m.rows[m.cursor].node
}

func (m *Model) moveCursor(delta int) {
	m.cursor += delta
	m.clampScroll()
}

func (m *Model) clampScroll() {
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.cursor >= len(m.rows) {
		m.cursor = len(m.rows) - 1
		if m.cursor < 0 {
			m.cursor = 0
		}
	}
	visible := m.listHeight()
	if visible <= 0 {
		return
	}
	if m.cursor < m.offset {
		m.offset = m.cursor
	}
	if m.cursor >= m.offset+visible {
		m.offset = m.cursor - visible + 1
	}
}

func (m *Model) setError(err error) {
	m.status = err.Error()
	m.statusErr = true
}

// header + footer + filter line
func (m *Model) listHeight() int {
	h := m.height - 3
	if h < 1 {
		h = 1
	}
	return h
}

func (m Model) View() string {
	if m.quitting {
		return ""
	}
	if !m.ready {
		return "loading..."
	}

	var b strings.Builder
	b.WriteString(m.viewHeader())
	b.WriteByte('\n')

	visible := m.listHeight()
	end := m.offset + visible
	if end > len(m.rows) {
		end = len(m.rows)
	}
	for i := m.offset; i < end; i++ {
		b.WriteString(m.viewRow(i))
		b.WriteByte('\n')
	}
	for i := end - m.offset; i < visible; i++ {
		b.WriteByte('\n')
	}

	b.WriteString(m.viewFooter())
	return b.String()
}

func (m Model) viewHeader() string {
	title := "lmsx"
	if conn := m.svc.Connection(); conn != nil {
		if conn.SiteName != "" {
			title = conn.SiteName
		} else {
			title = conn.BaseURL
		}
	}
	return styles.Header.Render(title)
}

func (m Model) viewRow(i int) string {
	r := m.rows[i]
	n := r.node

	marker := m.marker(n)
	label := renderEntity(n.Entity())
	line := strings.Repeat("  ", r.depth) + marker + " " + label

	if i == m.cursor {
		return styles.Selected.Render("> " + line)
	}
	return "  " + line
}

func (m Model) marker(n *tree.Node) string {
	if isLeaf(n) {
		return " "
	}
	switch m.svc.NodeState(n) {
	case tree.StateExpanding:
		return m.spin.View()
	case tree.StateError:
		return styles.Error.Render("!")
	case tree.StateExpanded:
		if m.open[n] || m.kept != nil {
			return "▾"
		}
		return "▸"
	default:
		return "▸"
	}
}

func (m Model) viewFooter() string {
	if m.filtering {
		return styles.FilterPrompt.Render(m.filterInput.View())
	}

	status := m.status
	if m.statusErr {
		status = styles.Error.Render(status)
	} else {
		status = styles.Status.Render(status)
	}
	if m.filterText != "" {
		status += styles.Dim.Render(fmt.Sprintf("  [filter: %s]", m.filterText))
	}
	help := styles.Dim.Render("  j/k move · enter toggle · / filter · r refresh · u users · q quit")
	return status + help
}

// renderEntity styles a node label by its kind
func renderEntity(e domain.Entity) string {
	switch v := e.(type) {
	case domain.Category:
		return styles.Category.Render(v.Name)
	case domain.Course:
		label := styles.Course.Render(v.ShortName) + " " + styles.Dim.Render(v.FullName)
		if !v.Visible {
			label += styles.Dim.Render(" (hidden)")
		}
		return label
	case domain.Section:
		return v.Name
	case domain.Module:
		return v.Name + " " + styles.Dim.Render(v.ModuleType)
	case domain.Group:
		return "⊕ " + v.Name
	case domain.User:
		label := v.FullName
		if roles := v.RoleNames(); len(roles) > 0 {
			label += " " + styles.Dim.Render(strings.Join(roles, ","))
		}
		return label
	default:
		return e.Label()
	}
}

// isLeaf reports whether a node can never have children
func isLeaf(n *tree.Node) bool {
	switch n.Entity().EntityKind() {
	case domain.KindModule, domain.KindUser:
		return true
	}
	return false
}
