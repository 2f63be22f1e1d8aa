package moodle

import "encoding/json"

// tokenResponse is the body of login/token.php. Exactly one of Token or
// Error is populated; Moodle answers HTTP 200 either way.
type tokenResponse struct {
	Token     string `json:"token"`
	Error     string `json:"error"`
	ErrorCode string `json:"errorcode"`
}

// wsError is the error object the web-service endpoint embeds in an
// otherwise-200 response.
type wsError struct {
	Exception string `json:"exception"`
	ErrorCode string `json:"errorcode"`
	Message   string `json:"message"`
}

// siteInfoDTO mirrors core_webservice_get_site_info, used to validate a
// token and name the connection.
type siteInfoDTO struct {
	SiteName string `json:"sitename"`
	Username string `json:"username"`
	FullName string `json:"fullname"`
	UserID   int64  `json:"userid"`
}

// categoryDTO mirrors one element of core_course_get_categories
type categoryDTO struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Parent      int64  `json:"parent"`
	Description string `json:"description"`
}

// courseDTO mirrors one element of core_course_get_courses.
// Visible is a pointer so an absent field can default to visible.
type courseDTO struct {
	ID         int64  `json:"id"`
	FullName   string `json:"fullname"`
	ShortName  string `json:"shortname"`
	CategoryID int64  `json:"categoryid"`
	Visible    *int   `json:"visible"`
	StartDate  int64  `json:"startdate"` // unix seconds
	Summary    string `json:"summary"`
}

// sectionDTO mirrors one element of core_course_get_contents; modules
// arrive nested inside their section.
type sectionDTO struct {
	ID      int64       `json:"id"`
	Name    string      `json:"name"`
	Section *int        `json:"section"` // position within the course
	Summary string      `json:"summary"`
	Modules []moduleDTO `json:"modules"`
}

type moduleDTO struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	ModName string `json:"modname"`
	URL     string `json:"url"`
}

// userDTO mirrors one element of core_enrol_get_enrolled_users and
// core_user_get_users_by_field (the latter omits roles).
type userDTO struct {
	ID       int64     `json:"id"`
	Username string    `json:"username"`
	FullName string    `json:"fullname"`
	Email    string    `json:"email"`
	Roles    []roleDTO `json:"roles"`
}

type roleDTO struct {
	RoleID    int64  `json:"roleid"`
	Name      string `json:"name"`
	ShortName string `json:"shortname"`
}

// groupDTO mirrors one element of core_group_get_course_groups
type groupDTO struct {
	ID       int64  `json:"id"`
	CourseID int64  `json:"courseid"`
	Name     string `json:"name"`
}

// groupMembersDTO mirrors one element of core_group_get_group_members
type groupMembersDTO struct {
	GroupID int64   `json:"groupid"`
	UserIDs []int64 `json:"userids"`
}

// listKeys names the wrapper keys Moodle nests record arrays under when a
// function answers with an object instead of a bare list.
var listKeys = []string{"courses", "categories", "users", "groups", "sections"}

// rawRecords is the shape-agnostic form a payload is reduced to before
// per-record mapping.
type rawRecords []json.RawMessage
