package moodle

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ewhitmore/lmsx/internal/domain"
)

// decodeRecords reduces a heterogeneous payload to a flat record list.
// Moodle answers with a bare array, or an object wrapping the array under a
// named key, or an error object; the error case is surfaced as a
// ServiceError before any field mapping happens.
func decodeRecords(kind domain.Kind, body []byte) (rawRecords, error) {
	var records rawRecords
	if err := json.Unmarshal(body, &records); err == nil {
		return records, nil
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, &domain.NormalizationError{Kind: kind, Reason: fmt.Sprintf("unexpected payload shape: %v", err)}
	}

	if raw, ok := wrapper["exception"]; ok && len(raw) > 0 {
		var we wsError
		if json.Unmarshal(body, &we) == nil && we.Exception != "" {
			return nil, &domain.ServiceError{Function: kind.String(), Code: we.ErrorCode, Message: we.Message}
		}
	}

	for _, key := range listKeys {
		raw, ok := wrapper[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, &records); err != nil {
			return nil, &domain.NormalizationError{Kind: kind, Reason: fmt.Sprintf("wrapper %q is not a list", key)}
		}
		return records, nil
	}

	return nil, &domain.NormalizationError{Kind: kind, Reason: "no record list in payload"}
}

// skip logs one dropped record. A malformed record never aborts its page.
func (c *Client) skip(kind domain.Kind, reason string) {
	nerr := &domain.NormalizationError{Kind: kind, Reason: reason}
	c.logger.Warn("skipping malformed record", "kind", kind.String(), "error", nerr)
}

// mapCategories maps core_course_get_categories output, preserving
// service order.
func (c *Client) mapCategories(body []byte) ([]domain.Category, error) {
	records, err := decodeRecords(domain.KindCategory, body)
	if err != nil {
		return nil, err
	}

	cats := make([]domain.Category, 0, len(records))
	for _, raw := range records {
		var dto categoryDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			c.skip(domain.KindCategory, err.Error())
			continue
		}
		if dto.ID == 0 {
			c.skip(domain.KindCategory, "missing id")
			continue
		}
		cats = append(cats, domain.Category{
			ID:          dto.ID,
			Name:        dto.Name,
			ParentID:    dto.Parent,
			Description: dto.Description,
		})
	}
	return cats, nil
}

func (c *Client) mapCourses(body []byte) ([]domain.Course, error) {
	records, err := decodeRecords(domain.KindCourse, body)
	if err != nil {
		return nil, err
	}

	courses := make([]domain.Course, 0, len(records))
	for _, raw := range records {
		var dto courseDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			c.skip(domain.KindCourse, err.Error())
			continue
		}
		if dto.ID == 0 {
			c.skip(domain.KindCourse, "missing id")
			continue
		}

		// Absent visibility means visible; Moodle only sends 0 to hide.
		visible := dto.Visible == nil || *dto.Visible != 0

		var start time.Time
		if dto.StartDate > 0 {
			start = time.Unix(dto.StartDate, 0).UTC()
		}

		courses = append(courses, domain.Course{
			ID:         dto.ID,
			FullName:   dto.FullName,
			ShortName:  dto.ShortName,
			CategoryID: dto.CategoryID,
			Visible:    visible,
			StartDate:  start,
			Summary:    dto.Summary,
		})
	}
	return courses, nil
}

// mapCourseContents splits core_course_get_contents into section and module
// records. Missing position falls back to the section's index in the page.
func (c *Client) mapCourseContents(body []byte, courseID int64) ([]domain.Section, []domain.Module, error) {
	records, err := decodeRecords(domain.KindSection, body)
	if err != nil {
		return nil, nil, err
	}

	sections := make([]domain.Section, 0, len(records))
	var modules []domain.Module
	for i, raw := range records {
		var dto sectionDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			c.skip(domain.KindSection, err.Error())
			continue
		}
		if dto.ID == 0 {
			c.skip(domain.KindSection, "missing id")
			continue
		}

		position := i
		if dto.Section != nil {
			position = *dto.Section
		}

		sections = append(sections, domain.Section{
			ID:       dto.ID,
			CourseID: courseID,
			Name:     dto.Name,
			Position: position,
			Summary:  dto.Summary,
		})

		for _, mod := range dto.Modules {
			if mod.ID == 0 {
				c.skip(domain.KindModule, "missing id")
				continue
			}
			modules = append(modules, domain.Module{
				ID:         mod.ID,
				SectionID:  dto.ID,
				Name:       mod.Name,
				ModuleType: mod.ModName,
				URL:        mod.URL,
			})
		}
	}
	return sections, modules, nil
}

func (c *Client) mapUsers(body []byte) ([]domain.User, error) {
	records, err := decodeRecords(domain.KindUser, body)
	if err != nil {
		return nil, err
	}

	users := make([]domain.User, 0, len(records))
	for _, raw := range records {
		var dto userDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			c.skip(domain.KindUser, err.Error())
			continue
		}
		if dto.ID == 0 {
			c.skip(domain.KindUser, "missing id")
			continue
		}

		roles := make(map[string]bool, len(dto.Roles))
		for _, role := range dto.Roles {
			if role.ShortName != "" {
				roles[role.ShortName] = true
			}
		}

		users = append(users, domain.User{
			ID:       dto.ID,
			Username: dto.Username,
			FullName: dto.FullName,
			Email:    dto.Email,
			Roles:    roles,
		})
	}
	return users, nil
}

func (c *Client) mapGroups(body []byte) ([]domain.Group, error) {
	records, err := decodeRecords(domain.KindGroup, body)
	if err != nil {
		return nil, err
	}

	groups := make([]domain.Group, 0, len(records))
	for _, raw := range records {
		var dto groupDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			c.skip(domain.KindGroup, err.Error())
			continue
		}
		if dto.ID == 0 {
			c.skip(domain.KindGroup, "missing id")
			continue
		}
		groups = append(groups, domain.Group{
			ID:            dto.ID,
			CourseID:      dto.CourseID,
			Name:          dto.Name,
			MemberUserIDs: make(map[int64]bool),
		})
	}
	return groups, nil
}

// mapGroupMembers extracts the member ids for one group from the batch
// response shape of core_group_get_group_members.
func (c *Client) mapGroupMembers(body []byte, groupID int64) ([]int64, error) {
	records, err := decodeRecords(domain.KindGroup, body)
	if err != nil {
		return nil, err
	}

	for _, raw := range records {
		var dto groupMembersDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			c.skip(domain.KindGroup, err.Error())
			continue
		}
		if dto.GroupID == groupID {
			return dto.UserIDs, nil
		}
	}
	return nil, nil
}
