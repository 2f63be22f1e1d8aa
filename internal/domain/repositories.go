package domain

import "context"

// LMSRepository is the contract a remote LMS backend must implement.
// All methods require an authenticated transport; results are normalized
// records in service-returned order.
type LMSRepository interface {
	// GetCategories returns every course category visible to the session.
	GetCategories(ctx context.Context) ([]Category, error)

	// GetCourses returns every course visible to the session.
	GetCourses(ctx context.Context) ([]Course, error)

	// GetCourseContents returns a course's sections with their modules
	// split into separate records.
	GetCourseContents(ctx context.Context, courseID int64) ([]Section, []Module, error)

	// GetEnrolledUsers returns one page of users enrolled in a course.
	// offset/limit address the page; total counts are not reported by the
	// service, so an underfull page marks the end.
	GetEnrolledUsers(ctx context.Context, courseID int64, offset, limit int) ([]User, error)

	// GetCourseGroups returns the groups defined in a course.
	GetCourseGroups(ctx context.Context, courseID int64) ([]Group, error)

	// GetGroupMembers resolves the member user ids of a group.
	GetGroupMembers(ctx context.Context, groupID int64) ([]int64, error)

	// GetUserByField looks up a single user by field name ("id",
	// "username", "email"). Returns nil when no user matches.
	GetUserByField(ctx context.Context, field, value string) (*User, error)
}
