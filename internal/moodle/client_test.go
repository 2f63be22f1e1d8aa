package moodle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewhitmore/lmsx/internal/domain"
	"github.com/ewhitmore/lmsx/internal/log"
)

// fakeMoodle serves the token endpoint and dispatches web-service calls by
// wsfunction to per-function handlers.
type fakeMoodle struct {
	t         *testing.T
	password  string
	token     string
	functions map[string]func(r *http.Request) string
}

func newFakeMoodle(t *testing.T) *fakeMoodle {
	return &fakeMoodle{
		t:         t,
		password:  "hunter2",
		token:     "tok-abc123",
		functions: make(map[string]func(r *http.Request) string),
	}
}

func (f *fakeMoodle) handle(function, body string) {
	f.functions[function] = func(*http.Request) string { return body }
}

func (f *fakeMoodle) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	require.NoError(f.t, r.ParseForm())

	switch r.URL.Path {
	case "/login/token.php":
		if r.PostFormValue("password") != f.password {
			fmt.Fprint(w, `{"error":"Invalid login, please try again","errorcode":"invalidlogin"}`)
			return
		}
		fmt.Fprintf(w, `{"token":%q}`, f.token)

	case "/webservice/rest/server.php":
		if r.PostFormValue("wstoken") != f.token {
			fmt.Fprint(w, `{"exception":"moodle_exception","errorcode":"invalidtoken","message":"Invalid token"}`)
			return
		}
		fn := f.functions[r.PostFormValue("wsfunction")]
		if fn == nil {
			fmt.Fprint(w, `{"exception":"webservice_access_exception","errorcode":"accessexception","message":"Access control exception"}`)
			return
		}
		fmt.Fprint(w, fn(r))

	default:
		http.NotFound(w, r)
	}
}

func newTestClient(t *testing.T) (*Client, *fakeMoodle) {
	fake := newFakeMoodle(t)
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "", log.Null()), fake
}

func TestAuthenticate(t *testing.T) {
	client, _ := newTestClient(t)

	token, err := client.Authenticate(context.Background(), "teacher", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "tok-abc123", token)
	assert.Equal(t, "tok-abc123", client.Token())
}

func TestAuthenticateRejected(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.Authenticate(context.Background(), "teacher", "wrong")
	require.Error(t, err)

	var aerr *domain.AuthError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, "invalidlogin", aerr.Code)
	assert.True(t, domain.IsAuthError(err))
	assert.False(t, domain.IsRetryable(err))
	assert.Empty(t, client.Token())
}

func TestCallWithoutToken(t *testing.T) {
	client, _ := newTestClient(t)

	_, err := client.GetCategories(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotConnected)
}

func TestInvalidTokenMapsToAuthError(t *testing.T) {
	client, _ := newTestClient(t)
	client.SetToken("stale-token")

	_, err := client.GetCategories(context.Background())
	require.Error(t, err)
	assert.True(t, domain.IsAuthError(err))
}

func TestServiceErrorBody(t *testing.T) {
	client, fake := newTestClient(t)
	client.SetToken(fake.token)
	fake.handle("core_course_get_contents",
		`{"exception":"invalid_parameter_exception","errorcode":"invalidparameter","message":"Invalid parameter value detected"}`)

	_, _, err := client.GetCourseContents(context.Background(), 99)
	require.Error(t, err)

	var serr *domain.ServiceError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, "invalidparameter", serr.Code)
	assert.False(t, domain.IsRetryable(err))
	assert.False(t, domain.IsAuthError(err))
}

func TestTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(srv.Close)

	client := NewClient(srv.URL, "", log.Null())
	client.SetToken("tok")

	_, err := client.GetCategories(context.Background())
	require.Error(t, err)

	var terr *domain.TransportError
	require.ErrorAs(t, err, &terr)
	assert.True(t, domain.IsRetryable(err))
}

func TestGetCategories(t *testing.T) {
	client, fake := newTestClient(t)
	client.SetToken(fake.token)
	fake.handle("core_course_get_categories",
		`[{"id":1,"name":"General","parent":0},{"id":2,"name":"Science","parent":1}]`)

	cats, err := client.GetCategories(context.Background())
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, int64(1), cats[0].ID)
	assert.Equal(t, "Science", cats[1].Name)
	assert.Equal(t, int64(1), cats[1].ParentID)
}

func TestGetEnrolledUsersPaging(t *testing.T) {
	client, fake := newTestClient(t)
	client.SetToken(fake.token)

	fake.functions["core_enrol_get_enrolled_users"] = func(r *http.Request) string {
		assert.Equal(t, "42", r.PostFormValue("courseid"))
		assert.Equal(t, "limitfrom", r.PostFormValue("options[0][name]"))
		assert.Equal(t, "100", r.PostFormValue("options[0][value]"))
		assert.Equal(t, "limitnumber", r.PostFormValue("options[1][name]"))
		assert.Equal(t, "50", r.PostFormValue("options[1][value]"))
		return `[{"id":7,"username":"amy","fullname":"Amy Pond","roles":[{"roleid":5,"shortname":"student"}]}]`
	}

	users, err := client.GetEnrolledUsers(context.Background(), 42, 100, 50)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, "Amy Pond", users[0].FullName)
	assert.True(t, users[0].HasRole("student"))
}

func TestGetGroupMembers(t *testing.T) {
	client, fake := newTestClient(t)
	client.SetToken(fake.token)
	fake.handle("core_group_get_group_members",
		`[{"groupid":3,"userids":[7,8,9]}]`)

	ids, err := client.GetGroupMembers(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, ids)
}

func TestGetUserByField(t *testing.T) {
	client, fake := newTestClient(t)
	client.SetToken(fake.token)

	fake.functions["core_user_get_users_by_field"] = func(r *http.Request) string {
		assert.Equal(t, "id", r.PostFormValue("field"))
		assert.Equal(t, "7", r.PostFormValue("values[0]"))
		return `[{"id":7,"username":"amy","fullname":"Amy Pond","email":"amy@example.edu"}]`
	}

	user, err := client.GetUserByField(context.Background(), "id", "7")
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "amy", user.Username)
}

func TestGetUserByFieldNoMatch(t *testing.T) {
	client, fake := newTestClient(t)
	client.SetToken(fake.token)
	fake.handle("core_user_get_users_by_field", `[]`)

	user, err := client.GetUserByField(context.Background(), "id", "404")
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestSiteInfo(t *testing.T) {
	client, fake := newTestClient(t)
	client.SetToken(fake.token)
	fake.handle("core_webservice_get_site_info",
		`{"sitename":"Example University","username":"teacher","userid":12}`)

	name, err := client.SiteInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Example University", name)
}

func TestContextCancellation(t *testing.T) {
	client, fake := newTestClient(t)
	client.SetToken(fake.token)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.GetCategories(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled) || domain.IsRetryable(err))
}
