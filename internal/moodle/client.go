package moodle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ewhitmore/lmsx/internal/domain"
)

const (
	// DefaultService is Moodle's built-in mobile web-service shortname,
	// enabled on virtually every instance.
	DefaultService = "moodle_mobile_app"

	tokenPath = "/login/token.php"
	wsPath    = "/webservice/rest/server.php"

	defaultTimeout = 30 * time.Second
)

// Client is the Moodle REST transport plus normalizer. It implements
// domain.LMSRepository once a token is attached via Authenticate or SetToken.
// The token is cached for the client's lifetime, never re-derived per call.
type Client struct {
	baseURL    string
	service    string
	token      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a Moodle API client for one instance
func NewClient(baseURL, service string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if service == "" {
		service = DefaultService
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		service: service,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger: logger,
	}
}

// BaseURL returns the normalized instance URL.
func (c *Client) BaseURL() string { return c.baseURL }

// Token returns the cached web-service token, empty before authentication.
func (c *Client) Token() string { return c.token }

// SetToken attaches a previously issued token, e.g. one restored from the
// saved-session store.
func (c *Client) SetToken(token string) { c.token = token }

// Authenticate exchanges credentials for a web-service token and caches it.
func (c *Client) Authenticate(ctx context.Context, username, password string) (string, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	form.Set("service", c.service)

	body, err := c.postForm(ctx, c.baseURL+tokenPath, form)
	if err != nil {
		return "", &domain.TransportError{Op: "authenticate", Err: err}
	}

	var resp tokenResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", &domain.TransportError{Op: "authenticate", Err: fmt.Errorf("decode token response: %w", err)}
	}

	if resp.Token == "" {
		code := resp.ErrorCode
		if code == "" {
			code = "invalidlogin"
		}
		c.logger.Warn("authentication rejected", "code", code)
		return "", &domain.AuthError{Code: code, Message: resp.Error}
	}

	c.token = resp.Token
	c.logger.Info("authenticated", "url", c.baseURL, "user", username, "service", c.service)
	return resp.Token, nil
}

// call invokes one web-service function. The token, function name and
// parameters travel as a single form-encoded POST; the response is decoded
// only far enough to detect Moodle's embedded error object.
func (c *Client) call(ctx context.Context, function string, params url.Values) (json.RawMessage, error) {
	if c.token == "" {
		return nil, domain.ErrNotConnected
	}

	form := url.Values{}
	form.Set("wstoken", c.token)
	form.Set("wsfunction", function)
	form.Set("moodlewsrestformat", "json")
	for key, values := range params {
		for _, v := range values {
			form.Add(key, v)
		}
	}

	c.logger.Debug("ws call", "function", function)

	body, err := c.postForm(ctx, c.baseURL+wsPath, form)
	if err != nil {
		return nil, &domain.TransportError{Op: function, Err: err}
	}

	if err := checkServiceError(function, body); err != nil {
		return nil, err
	}

	return body, nil
}

// postForm issues a form-encoded POST and returns the body of a 200
// response. Moodle reports call failures inside 200 bodies, so any other
// status is a transport-level problem.
func (c *Client) postForm(ctx context.Context, reqURL string, form url.Values) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return body, nil
}

// checkServiceError inspects a 200 body for Moodle's error object and maps
// it to the right error class. An invalid or expired token is an auth
// failure, not a per-call one.
func checkServiceError(function string, body []byte) error {
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	if !strings.HasPrefix(trimmed, "{") {
		return nil // arrays and scalars cannot carry an error object
	}

	var we wsError
	if err := json.Unmarshal(body, &we); err != nil || we.Exception == "" {
		return nil
	}

	switch we.ErrorCode {
	case "invalidtoken", "accessexception":
		return &domain.AuthError{Code: we.ErrorCode, Message: we.Message}
	default:
		return &domain.ServiceError{Function: function, Code: we.ErrorCode, Message: we.Message}
	}
}

// SiteInfo reports the server-side site name for the session. Doubles as a
// cheap validity probe for a restored token.
func (c *Client) SiteInfo(ctx context.Context) (string, error) {
	body, err := c.call(ctx, "core_webservice_get_site_info", nil)
	if err != nil {
		return "", err
	}

	var dto siteInfoDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		return "", &domain.TransportError{Op: "core_webservice_get_site_info", Err: fmt.Errorf("decode site info: %w", err)}
	}
	return dto.SiteName, nil
}

// GetCategories returns every course category visible to the session
func (c *Client) GetCategories(ctx context.Context) ([]domain.Category, error) {
	body, err := c.call(ctx, "core_course_get_categories", nil)
	if err != nil {
		return nil, err
	}
	return c.mapCategories(body)
}

// GetCourses returns every course visible to the session
func (c *Client) GetCourses(ctx context.Context) ([]domain.Course, error) {
	body, err := c.call(ctx, "core_course_get_courses", nil)
	if err != nil {
		return nil, err
	}
	return c.mapCourses(body)
}

// GetCourseContents returns a course's sections and their modules
func (c *Client) GetCourseContents(ctx context.Context, courseID int64) ([]domain.Section, []domain.Module, error) {
	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))

	body, err := c.call(ctx, "core_course_get_contents", params)
	if err != nil {
		return nil, nil, err
	}
	return c.mapCourseContents(body, courseID)
}

// GetEnrolledUsers returns one page of a course's enrolment list
func (c *Client) GetEnrolledUsers(ctx context.Context, courseID int64, offset, limit int) ([]domain.User, error) {
	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))
	params.Set("options[0][name]", "limitfrom")
	params.Set("options[0][value]", strconv.Itoa(offset))
	params.Set("options[1][name]", "limitnumber")
	params.Set("options[1][value]", strconv.Itoa(limit))

	body, err := c.call(ctx, "core_enrol_get_enrolled_users", params)
	if err != nil {
		return nil, err
	}
	return c.mapUsers(body)
}

// GetCourseGroups returns the groups defined in a course
func (c *Client) GetCourseGroups(ctx context.Context, courseID int64) ([]domain.Group, error) {
	params := url.Values{}
	params.Set("courseid", strconv.FormatInt(courseID, 10))

	body, err := c.call(ctx, "core_group_get_course_groups", params)
	if err != nil {
		return nil, err
	}
	return c.mapGroups(body)
}

// GetGroupMembers resolves a group's member user ids
func (c *Client) GetGroupMembers(ctx context.Context, groupID int64) ([]int64, error) {
	params := url.Values{}
	params.Set("groupids[0]", strconv.FormatInt(groupID, 10))

	body, err := c.call(ctx, "core_group_get_group_members", params)
	if err != nil {
		return nil, err
	}
	return c.mapGroupMembers(body, groupID)
}

// GetUserByField looks up a single user by field name
func (c *Client) GetUserByField(ctx context.Context, field, value string) (*domain.User, error) {
	params := url.Values{}
	params.Set("field", field)
	params.Set("values[0]", value)

	body, err := c.call(ctx, "core_user_get_users_by_field", params)
	if err != nil {
		return nil, err
	}

	users, err := c.mapUsers(body)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}
