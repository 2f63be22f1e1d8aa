package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Kind distinguishes entity types in the LMS hierarchy
type Kind int

const (
	KindCategory Kind = iota
	KindCourse
	KindSection
	KindModule
	KindUser
	KindGroup
)

// String returns the lowercase kind name used in cache keys and logs
func (k Kind) String() string {
	switch k {
	case KindCategory:
		return "category"
	case KindCourse:
		return "course"
	case KindSection:
		return "section"
	case KindModule:
		return "module"
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Entity is the capability contract every record kind satisfies.
// The kind set is closed, so consumers switch on EntityKind rather
// than relying on further dispatch.
type Entity interface {
	EntityID() int64
	EntityKind() Kind
	Label() string
	FilterContent() string // searchable haystack for tree filtering
}

// Connection identifies one authenticated session against an LMS instance.
// It is immutable; disconnecting discards it rather than mutating it.
type Connection struct {
	BaseURL  string
	User     string
	Token    string
	Service  string
	SiteName string // reported by the server, may be empty
}

// Category is one node of the course-category tree. Root categories
// have ParentID == 0.
type Category struct {
	ID          int64
	Name        string
	ParentID    int64
	Description string
}

func (c Category) EntityID() int64  { return c.ID }
func (c Category) EntityKind() Kind { return KindCategory }
func (c Category) Label() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("Category %d", c.ID)
}

func (c Category) FilterContent() string {
	return fmt.Sprintf("%s %d", c.Name, c.ID)
}

// Course belongs to exactly one Category via CategoryID.
type Course struct {
	ID         int64
	FullName   string
	ShortName  string
	CategoryID int64
	Visible    bool
	StartDate  time.Time
	Summary    string
}

func (c Course) EntityID() int64  { return c.ID }
func (c Course) EntityKind() Kind { return KindCourse }

// Label renders the course the way the explorer lists it: short name
// first, full name for context.
func (c Course) Label() string {
	switch {
	case c.ShortName != "" && c.FullName != "" && c.ShortName != c.FullName:
		return fmt.Sprintf("%s — %s", c.ShortName, c.FullName)
	case c.FullName != "":
		return c.FullName
	case c.ShortName != "":
		return c.ShortName
	default:
		return fmt.Sprintf("Course %d", c.ID)
	}
}

func (c Course) FilterContent() string {
	return fmt.Sprintf("%s %s %d", c.ShortName, c.FullName, c.ID)
}

// Section is ordered within its course by Position.
type Section struct {
	ID       int64
	CourseID int64
	Name     string
	Position int
	Summary  string
}

func (s Section) EntityID() int64  { return s.ID }
func (s Section) EntityKind() Kind { return KindSection }
func (s Section) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return fmt.Sprintf("Section %d", s.Position)
}

func (s Section) FilterContent() string {
	return fmt.Sprintf("%s %d", s.Name, s.ID)
}

// Module is one activity or resource inside a section. URL is empty for
// module types that have no view page (labels, for instance).
type Module struct {
	ID         int64
	SectionID  int64
	Name       string
	ModuleType string // Moodle modname: "assign", "forum", "resource", ...
	URL        string
}

func (m Module) EntityID() int64  { return m.ID }
func (m Module) EntityKind() Kind { return KindModule }
func (m Module) Label() string {
	if m.Name != "" {
		return m.Name
	}
	return fmt.Sprintf("Module %d", m.ID)
}

func (m Module) FilterContent() string {
	return fmt.Sprintf("%s %s", m.Name, m.ModuleType)
}

// User is an enrolled account. Roles holds role shortnames; membership is
// set-like and unordered.
type User struct {
	ID       int64
	Username string
	FullName string
	Email    string
	Roles    map[string]bool
}

func (u User) EntityID() int64  { return u.ID }
func (u User) EntityKind() Kind { return KindUser }
func (u User) Label() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

func (u User) FilterContent() string {
	return fmt.Sprintf("%s %s %s %d", u.FullName, u.Username, u.Email, u.ID)
}

// HasRole reports whether the user holds the given role shortname.
func (u User) HasRole(shortname string) bool {
	return u.Roles[shortname]
}

// RoleNames returns the user's roles sorted for stable display.
func (u User) RoleNames() []string {
	names := make([]string, 0, len(u.Roles))
	for name := range u.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Group is a named set of users within one course.
type Group struct {
	ID            int64
	CourseID      int64
	Name          string
	MemberUserIDs map[int64]bool
}

func (g Group) EntityID() int64  { return g.ID }
func (g Group) EntityKind() Kind { return KindGroup }
func (g Group) Label() string {
	if g.Name != "" {
		return g.Name
	}
	return fmt.Sprintf("Group %d", g.ID)
}

func (g Group) FilterContent() string {
	return fmt.Sprintf("%s %d", g.Name, g.ID)
}

// SortCategories orders categories by name, case-insensitively.
func SortCategories(cats []Category) {
	sort.SliceStable(cats, func(i, j int) bool {
		return strings.ToLower(cats[i].Name) < strings.ToLower(cats[j].Name)
	})
}

// SortCourses orders courses by short name, case-insensitively.
func SortCourses(courses []Course) {
	sort.SliceStable(courses, func(i, j int) bool {
		return strings.ToLower(courses[i].ShortName) < strings.ToLower(courses[j].ShortName)
	})
}

// SortSections orders sections by their position within the course.
func SortSections(sections []Section) {
	sort.SliceStable(sections, func(i, j int) bool {
		return sections[i].Position < sections[j].Position
	})
}

// SortUsers orders users by full name, case-insensitively.
func SortUsers(users []User) {
	sort.SliceStable(users, func(i, j int) bool {
		return strings.ToLower(users[i].FullName) < strings.ToLower(users[j].FullName)
	})
}
