package service

import (
	"fmt"

	"github.com/ewhitmore/lmsx/internal/domain"
)

// Cache list keys for entity listings
const (
	// keyCategories is the cache key for the full category listing
	keyCategories = "categories"

	// keyCourses is the cache key for the full course listing
	keyCourses = "courses"
)

// keySections is the cache key for a course's section listing
func keySections(courseID int64) string {
	return fmt.Sprintf("sections:%d", courseID)
}

// keyModules is the cache key for a section's module listing
func keyModules(sectionID int64) string {
	return fmt.Sprintf("modules:%d", sectionID)
}

// keyUsers is the cache key for a course's enrolment listing
func keyUsers(courseID int64) string {
	return fmt.Sprintf("users:%d", courseID)
}

// keyGroups is the cache key for a course's group listing
func keyGroups(courseID int64) string {
	return fmt.Sprintf("groups:%d", courseID)
}

// keyMembers is the cache key for a group's resolved member listing
func keyMembers(groupID int64) string {
	return fmt.Sprintf("members:%d", groupID)
}

// asEntities widens a typed record slice for cache storage
func asEntities[T domain.Entity](records []T) []domain.Entity {
	out := make([]domain.Entity, len(records))
	for i, r := range records {
		out[i] = r
	}
	return out
}
