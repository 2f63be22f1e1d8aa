package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewhitmore/lmsx/internal/domain"
	"github.com/ewhitmore/lmsx/internal/log"
)

// mockBackend is a scriptable Backend; unset functions panic so a test
// never silently exercises a path it did not script.
type mockBackend struct {
	mu    sync.Mutex
	token string
	calls map[string]int

	authFn        func(ctx context.Context, username, password string) (string, error)
	siteInfoFn    func(ctx context.Context) (string, error)
	categoriesFn  func(ctx context.Context) ([]domain.Category, error)
	coursesFn     func(ctx context.Context) ([]domain.Course, error)
	contentsFn    func(ctx context.Context, courseID int64) ([]domain.Section, []domain.Module, error)
	usersFn       func(ctx context.Context, courseID int64, offset, limit int) ([]domain.User, error)
	groupsFn      func(ctx context.Context, courseID int64) ([]domain.Group, error)
	membersFn     func(ctx context.Context, groupID int64) ([]int64, error)
	userByFieldFn func(ctx context.Context, field, value string) (*domain.User, error)
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		calls: make(map[string]int),
		authFn: func(context.Context, string, string) (string, error) {
			return "tok-test", nil
		},
		siteInfoFn: func(context.Context) (string, error) {
			return "Test Site", nil
		},
	}
}

func (m *mockBackend) count(name string) {
	m.mu.Lock()
	m.calls[name]++
	m.mu.Unlock()
}

func (m *mockBackend) callCount(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[name]
}

func (m *mockBackend) SetToken(token string) { m.token = token }

func (m *mockBackend) Authenticate(ctx context.Context, username, password string) (string, error) {
	m.count("authenticate")
	if m.authFn == nil {
		panic("unexpected Authenticate")
	}
	return m.authFn(ctx, username, password)
}

func (m *mockBackend) SiteInfo(ctx context.Context) (string, error) {
	m.count("site_info")
	if m.siteInfoFn == nil {
		panic("unexpected SiteInfo")
	}
	return m.siteInfoFn(ctx)
}

func (m *mockBackend) GetCategories(ctx context.Context) ([]domain.Category, error) {
	m.count("categories")
	if m.categoriesFn == nil {
		panic("unexpected GetCategories")
	}
	return m.categoriesFn(ctx)
}

func (m *mockBackend) GetCourses(ctx context.Context) ([]domain.Course, error) {
	m.count("courses")
	if m.coursesFn == nil {
		panic("unexpected GetCourses")
	}
	return m.coursesFn(ctx)
}

func (m *mockBackend) GetCourseContents(ctx context.Context, courseID int64) ([]domain.Section, []domain.Module, error) {
	m.count("contents")
	if m.contentsFn == nil {
		panic("unexpected GetCourseContents")
	}
	return m.contentsFn(ctx, courseID)
}

func (m *mockBackend) GetEnrolledUsers(ctx context.Context, courseID int64, offset, limit int) ([]domain.User, error) {
	m.count("users")
	if m.usersFn == nil {
		panic("unexpected GetEnrolledUsers")
	}
	return m.usersFn(ctx, courseID, offset, limit)
}

func (m *mockBackend) GetCourseGroups(ctx context.Context, courseID int64) ([]domain.Group, error) {
	m.count("groups")
	if m.groupsFn == nil {
		panic("unexpected GetCourseGroups")
	}
	return m.groupsFn(ctx, courseID)
}

func (m *mockBackend) GetGroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	m.count("members")
	if m.membersFn == nil {
		panic("unexpected GetGroupMembers")
	}
	return m.membersFn(ctx, groupID)
}

func (m *mockBackend) GetUserByField(ctx context.Context, field, value string) (*domain.User, error) {
	m.count("user_by_field")
	if m.userByFieldFn == nil {
		panic("unexpected GetUserByField")
	}
	return m.userByFieldFn(ctx, field, value)
}

func newConnected(t *testing.T, backend *mockBackend) *Service {
	t.Helper()
	svc := New(log.Null())
	svc.SetDialer(func(string, string, *slog.Logger) Backend { return backend })

	_, err := svc.Connect(context.Background(), ConnectParams{
		URL:      "https://lms.test",
		Username: "teacher",
		Password: "hunter2",
	})
	require.NoError(t, err)
	return svc
}

func TestConnect(t *testing.T) {
	backend := newMockBackend()
	svc := newConnected(t, backend)

	conn := svc.Connection()
	require.NotNil(t, conn)
	assert.Equal(t, "https://lms.test", conn.BaseURL)
	assert.Equal(t, "tok-test", conn.Token)
	assert.Equal(t, "Test Site", conn.SiteName)
	assert.Equal(t, 1, backend.callCount("authenticate"))
	assert.Equal(t, 1, backend.callCount("site_info"))
}

func TestConnectWithRestoredToken(t *testing.T) {
	backend := newMockBackend()
	backend.authFn = nil // must not be called

	svc := New(log.Null())
	svc.SetDialer(func(string, string, *slog.Logger) Backend { return backend })

	conn, err := svc.Connect(context.Background(), ConnectParams{
		URL:      "https://lms.test",
		Username: "teacher",
		Token:    "tok-restored",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok-restored", conn.Token)
	assert.Equal(t, "tok-restored", backend.token)
	assert.Equal(t, 0, backend.callCount("authenticate"))
}

func TestConnectRejected(t *testing.T) {
	backend := newMockBackend()
	backend.authFn = func(context.Context, string, string) (string, error) {
		return "", &domain.AuthError{Code: "invalidlogin", Message: "Invalid login"}
	}

	svc := New(log.Null())
	svc.SetDialer(func(string, string, *slog.Logger) Backend { return backend })

	_, err := svc.Connect(context.Background(), ConnectParams{URL: "https://lms.test", Username: "x", Password: "y"})
	require.Error(t, err)
	assert.True(t, domain.IsAuthError(err))
	assert.Nil(t, svc.Connection())
	assert.Equal(t, 1, backend.callCount("authenticate"), "terminal rejection must not retry")
}

func TestNotConnected(t *testing.T) {
	svc := New(log.Null())

	_, err := svc.GetCategories(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestCategoriesCached(t *testing.T) {
	backend := newMockBackend()
	backend.categoriesFn = func(context.Context) ([]domain.Category, error) {
		return []domain.Category{{ID: 1, Name: "General"}}, nil
	}
	svc := newConnected(t, backend)
	ctx := context.Background()

	first, err := svc.GetCategories(ctx)
	require.NoError(t, err)
	second, err := svc.GetCategories(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, backend.callCount("categories"))
}

func TestGetCoursesByCategory(t *testing.T) {
	backend := newMockBackend()
	backend.coursesFn = func(context.Context) ([]domain.Course, error) {
		return []domain.Course{
			{ID: 10, ShortName: "CS101", CategoryID: 1},
			{ID: 11, ShortName: "BIO110", CategoryID: 2},
		}, nil
	}
	svc := newConnected(t, backend)

	courses, err := svc.GetCourses(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, courses, 1)
	assert.Equal(t, "CS101", courses[0].ShortName)

	all, err := svc.GetCourses(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, 1, backend.callCount("courses"))
}

func TestOrphanedCourses(t *testing.T) {
	backend := newMockBackend()
	backend.categoriesFn = func(context.Context) ([]domain.Category, error) {
		return []domain.Category{{ID: 1, Name: "General"}}, nil
	}
	backend.coursesFn = func(context.Context) ([]domain.Course, error) {
		return []domain.Course{
			{ID: 10, ShortName: "CS101", CategoryID: 1},
			{ID: 99, ShortName: "LOST", CategoryID: 404},
		}, nil
	}
	svc := newConnected(t, backend)

	orphans, err := svc.OrphanedCourses(context.Background())
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, "LOST", orphans[0].ShortName)
}

func TestRetryOnTransportError(t *testing.T) {
	backend := newMockBackend()
	var attempts int
	backend.categoriesFn = func(context.Context) ([]domain.Category, error) {
		attempts++
		if attempts == 1 {
			return nil, &domain.TransportError{Op: "get_categories", Err: errors.New("connection reset")}
		}
		return []domain.Category{{ID: 1, Name: "General"}}, nil
	}
	svc := newConnected(t, backend)

	cats, err := svc.GetCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, cats, 1)
	assert.Equal(t, 2, attempts)
}

func TestNoRetryOnServiceError(t *testing.T) {
	backend := newMockBackend()
	backend.categoriesFn = func(context.Context) ([]domain.Category, error) {
		return nil, &domain.ServiceError{Function: "core_course_get_categories", Code: "nopermission"}
	}
	svc := newConnected(t, backend)

	_, err := svc.GetCategories(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, backend.callCount("categories"))
	assert.NotNil(t, svc.Connection(), "service errors do not kill the session")
}

func TestAuthFailureKillsSession(t *testing.T) {
	backend := newMockBackend()
	backend.categoriesFn = func(context.Context) ([]domain.Category, error) {
		return nil, &domain.AuthError{Code: "invalidtoken", Message: "Invalid token"}
	}
	svc := newConnected(t, backend)

	_, err := svc.GetCategories(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuthError(err))

	// session is gone; later calls fail fast with the auth error and
	// never reach the backend
	assert.Nil(t, svc.Connection())
	_, err = svc.GetCourses(context.Background(), 0)
	assert.True(t, domain.IsAuthError(err))
	assert.Equal(t, 0, backend.callCount("courses"))

	// disconnect was announced on the event stream
	var sawDisconnect bool
	for len(svc.Events()) > 0 {
		ev := <-svc.Events()
		if ev.Type == EventConnectionChanged && !ev.Connected {
			sawDisconnect = true
		}
	}
	assert.True(t, sawDisconnect)
}

func TestEnrolledUsersPagination(t *testing.T) {
	backend := newMockBackend()
	backend.usersFn = func(_ context.Context, courseID int64, offset, limit int) ([]domain.User, error) {
		require.Equal(t, usersPageSize, limit)
		if offset == 0 {
			users := make([]domain.User, usersPageSize)
			for i := range users {
				users[i] = domain.User{ID: int64(i + 1), FullName: "User"}
			}
			return users, nil
		}
		return []domain.User{{ID: 1000, FullName: "Last"}}, nil
	}
	svc := newConnected(t, backend)

	users, err := svc.GetEnrolledUsers(context.Background(), 42)
	require.NoError(t, err)
	assert.Len(t, users, usersPageSize+1)
	assert.Equal(t, 2, backend.callCount("users"))

	// listing is cached
	_, err = svc.GetEnrolledUsers(context.Background(), 42)
	require.NoError(t, err)
	assert.Equal(t, 2, backend.callCount("users"))
}

func TestEnrolledUsersPartialFailure(t *testing.T) {
	backend := newMockBackend()
	backend.usersFn = func(_ context.Context, courseID int64, offset, limit int) ([]domain.User, error) {
		if offset == 0 {
			users := make([]domain.User, usersPageSize)
			for i := range users {
				users[i] = domain.User{ID: int64(i + 1), FullName: "User"}
			}
			return users, nil
		}
		return nil, &domain.ServiceError{Function: "core_enrol_get_enrolled_users", Code: "nopermission"}
	}
	svc := newConnected(t, backend)

	users, err := svc.GetEnrolledUsers(context.Background(), 42)
	require.Error(t, err)

	var perr *domain.PartialError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, usersPageSize, perr.Got)
	assert.Len(t, users, usersPageSize, "completed pages come back alongside the error")
}

func TestGroupMembersResolution(t *testing.T) {
	backend := newMockBackend()
	backend.membersFn = func(_ context.Context, groupID int64) ([]int64, error) {
		return []int64{7, 8, 9}, nil
	}
	backend.userByFieldFn = func(_ context.Context, field, value string) (*domain.User, error) {
		switch value {
		case "7":
			return &domain.User{ID: 7, FullName: "Amy Pond"}, nil
		case "8":
			return &domain.User{ID: 8, FullName: "Rory Williams"}, nil
		default:
			return nil, nil // unresolvable member is skipped, not fatal
		}
	}
	svc := newConnected(t, backend)

	group := domain.Group{ID: 3, CourseID: 42, Name: "Lab A"}
	users, err := svc.GetGroupMembers(context.Background(), group)
	require.NoError(t, err)
	require.Len(t, users, 2)
	assert.Equal(t, int64(7), users[0].ID)
	assert.Equal(t, 3, backend.callCount("user_by_field"))

	// membership listing and resolved users are cached
	_, err = svc.GetGroupMembers(context.Background(), group)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.callCount("members"))
	assert.Equal(t, 3, backend.callCount("user_by_field"))
}
