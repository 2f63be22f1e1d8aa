// Package service is the LMS client facade: the single entry point the UI
// layer talks to. It owns the active connection, routes every fetch through
// the entity cache, applies the bounded retry policy to transport failures,
// and materializes the browse tree.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ewhitmore/lmsx/internal/cache"
	"github.com/ewhitmore/lmsx/internal/domain"
	"github.com/ewhitmore/lmsx/internal/moodle"
	"github.com/ewhitmore/lmsx/internal/tree"
)

const (
	// maxRetries bounds re-attempts of transport-class failures; auth and
	// service errors propagate immediately.
	maxRetries = 2
	retryDelay = 250 * time.Millisecond

	// usersPageSize is the enrolment listing page size
	usersPageSize = 100

	eventBuffer = 64
)

// Backend combines the transport operations the facade needs. moodle.Client
// is the production implementation.
type Backend interface {
	domain.LMSRepository
	Authenticate(ctx context.Context, username, password string) (string, error)
	SetToken(token string)
	SiteInfo(ctx context.Context) (string, error)
}

// Dialer builds a backend for one LMS instance. Swappable in tests.
type Dialer func(baseURL, service string, logger *slog.Logger) Backend

// ConnectParams is the fully-resolved credential tuple. Token, when set,
// short-circuits the password exchange (a session restored from the store).
type ConnectParams struct {
	URL      string
	Username string
	Password string
	Service  string
	Token    string
}

// session bundles everything owned by one connection. Disconnect swaps the
// whole session out, so results from in-flight fetches land in the orphaned
// session's cache and never leak into a newer one.
type session struct {
	conn    domain.Connection
	backend Backend
	cache   *cache.Store
	tree    *tree.Tree
	gen     uint64
}

// Service is the LMS client facade. One connection at a time.
type Service struct {
	logger *slog.Logger
	dial   Dialer
	events chan Event

	mu       sync.Mutex
	sess     *session
	gen      uint64
	authFail *domain.AuthError // set when the session died of an auth rejection
}

// New creates a disconnected facade
func New(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger: logger,
		dial: func(baseURL, service string, logger *slog.Logger) Backend {
			return moodle.NewClient(baseURL, service, logger)
		},
		events: make(chan Event, eventBuffer),
	}
}

// SetDialer replaces the backend factory, for tests.
func (s *Service) SetDialer(dial Dialer) { s.dial = dial }

// Events is the notification stream for the UI: connection changes, node
// state transitions and consolidated fetch errors.
func (s *Service) Events() <-chan Event { return s.events }

// Connect authenticates against an LMS instance. An existing connection is
// torn down first, cache included.
func (s *Service) Connect(ctx context.Context, params ConnectParams) (*domain.Connection, error) {
	s.teardown()

	serviceName := params.Service
	if serviceName == "" {
		serviceName = moodle.DefaultService
	}

	backend := s.dial(params.URL, serviceName, s.logger)

	token := params.Token
	if token != "" {
		backend.SetToken(token)
	} else {
		var err error
		err = s.withRetry(ctx, "authenticate", func() error {
			var aerr error
			token, aerr = backend.Authenticate(ctx, params.Username, params.Password)
			return aerr
		})
		if err != nil {
			s.emit(Event{Type: EventFetchError, Op: "authenticate", Err: err})
			return nil, err
		}
	}

	// Probe the token and pick up the site name. Catches restored tokens
	// that expired while we were away.
	var siteName string
	err := s.withRetry(ctx, "site_info", func() error {
		var serr error
		siteName, serr = backend.SiteInfo(ctx)
		return serr
	})
	if err != nil {
		s.emit(Event{Type: EventFetchError, Op: "site_info", Err: err})
		return nil, err
	}

	s.mu.Lock()
	s.gen++
	sess := &session{
		conn: domain.Connection{
			BaseURL:  params.URL,
			User:     params.Username,
			Token:    token,
			Service:  serviceName,
			SiteName: siteName,
		},
		backend: backend,
		cache:   cache.New(s.logger),
		gen:     s.gen,
	}
	sess.tree = tree.New(&loader{svc: s, sess: sess}, s.logger)
	sess.tree.SetNotify(func(n *tree.Node, st tree.State) {
		if s.currentGen() == sess.gen {
			s.emit(Event{Type: EventNodeState, Node: n, State: st})
		}
	})
	s.sess = sess
	s.authFail = nil
	s.mu.Unlock()

	s.logger.Info("connected", "url", params.URL, "user", params.Username, "site", siteName)
	s.emit(Event{Type: EventConnectionChanged, Connected: true})

	conn := sess.conn
	return &conn, nil
}

// Disconnect tears down the active connection and clears all cached state.
func (s *Service) Disconnect() {
	if s.teardown() {
		s.logger.Info("disconnected")
	}
}

// Connection returns the active connection, nil when disconnected.
func (s *Service) Connection() *domain.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return nil
	}
	conn := s.sess.conn
	return &conn
}

// GetCategories returns all course categories in service order, from cache
// when present.
func (s *Service) GetCategories(ctx context.Context) ([]domain.Category, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.categories(ctx, sess)
}

// GetCourses returns courses in service order, restricted to one category
// when categoryID is non-zero. Courses whose category is unknown are
// reachable via OrphanedCourses, not dropped silently.
func (s *Service) GetCourses(ctx context.Context, categoryID int64) ([]domain.Course, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}

	courses, err := s.courses(ctx, sess)
	if err != nil {
		return nil, err
	}
	if categoryID == 0 {
		return courses, nil
	}

	filtered := make([]domain.Course, 0, len(courses))
	for _, c := range courses {
		if c.CategoryID == categoryID {
			filtered = append(filtered, c)
		}
	}
	return filtered, nil
}

// OrphanedCourses returns courses referencing a category the server never
// listed. Surfaced for diagnosis instead of failing resolution.
func (s *Service) OrphanedCourses(ctx context.Context) ([]domain.Course, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}

	cats, err := s.categories(ctx, sess)
	if err != nil {
		return nil, err
	}
	courses, err := s.courses(ctx, sess)
	if err != nil {
		return nil, err
	}

	known := make(map[int64]bool, len(cats))
	for _, c := range cats {
		known[c.ID] = true
	}

	var orphans []domain.Course
	for _, c := range courses {
		if !known[c.CategoryID] {
			orphans = append(orphans, c)
		}
	}
	if len(orphans) > 0 {
		s.logger.Warn("orphaned courses", "count", len(orphans))
	}
	return orphans, nil
}

// GetCourseContents returns a course's sections and modules, from cache
// when present. Sections arrive in service order; modules grouped per
// section in display order.
func (s *Service) GetCourseContents(ctx context.Context, courseID int64) ([]domain.Section, []domain.Module, error) {
	sess, err := s.current()
	if err != nil {
		return nil, nil, err
	}

	sections, err := s.sections(ctx, sess, courseID)
	if err != nil {
		return nil, nil, err
	}

	var modules []domain.Module
	for _, sec := range sections {
		mods, err := s.modules(ctx, sess, sec)
		if err != nil {
			return nil, nil, err
		}
		modules = append(modules, mods...)
	}
	return sections, modules, nil
}

// GetEnrolledUsers returns a course's enrolment list, accumulating pages
// until an underfull page. A mid-listing failure after at least one good
// page returns the partial result wrapped in a PartialError.
func (s *Service) GetEnrolledUsers(ctx context.Context, courseID int64) ([]domain.User, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}

	var partial []domain.User
	var partialErr error

	ents, err := sess.cache.GetOrFetchList(ctx, keyUsers(courseID), func(ctx context.Context) ([]domain.Entity, error) {
		users, ferr := s.fetchAllUsers(ctx, sess, courseID)
		if ferr != nil {
			if len(users) > 0 {
				partial = users
				partialErr = &domain.PartialError{Got: len(users), Err: ferr}
			}
			return nil, ferr
		}
		return asEntities(users), nil
	})
	if err != nil {
		if partialErr != nil {
			s.logger.Warn("partial enrolment listing", "courseID", courseID, "got", len(partial), "error", err)
			return partial, partialErr
		}
		s.observeError(sess, "get_enrolled_users", err)
		return nil, err
	}

	return entitiesAs[domain.User](ents), nil
}

// GetGroups returns a course's groups in service order.
func (s *Service) GetGroups(ctx context.Context, courseID int64) ([]domain.Group, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.groups(ctx, sess, courseID)
}

func (s *Service) groups(ctx context.Context, sess *session, courseID int64) ([]domain.Group, error) {
	ents, err := sess.cache.GetOrFetchList(ctx, keyGroups(courseID), func(ctx context.Context) ([]domain.Entity, error) {
		var groups []domain.Group
		ferr := s.withRetry(ctx, "get_course_groups", func() error {
			var rerr error
			groups, rerr = sess.backend.GetCourseGroups(ctx, courseID)
			return rerr
		})
		if ferr != nil {
			return nil, ferr
		}
		return asEntities(groups), nil
	})
	if err != nil {
		s.observeError(sess, "get_course_groups", err)
		return nil, err
	}

	return entitiesAs[domain.Group](ents), nil
}

// GetGroupMembers resolves a group's members to user records. Members not
// already cached from an enrolment listing are fetched individually.
func (s *Service) GetGroupMembers(ctx context.Context, group domain.Group) ([]domain.User, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}
	return s.members(ctx, sess, group)
}

func (s *Service) members(ctx context.Context, sess *session, group domain.Group) ([]domain.User, error) {
	ents, err := sess.cache.GetOrFetchList(ctx, keyMembers(group.ID), func(ctx context.Context) ([]domain.Entity, error) {
		var ids []int64
		ferr := s.withRetry(ctx, "get_group_members", func() error {
			var rerr error
			ids, rerr = sess.backend.GetGroupMembers(ctx, group.ID)
			return rerr
		})
		if ferr != nil {
			return nil, ferr
		}

		users := make([]domain.Entity, 0, len(ids))
		members := make(map[int64]bool, len(ids))
		for _, id := range ids {
			user, uerr := s.resolveUser(ctx, sess, id)
			if uerr != nil {
				return nil, uerr
			}
			if user == nil {
				s.logger.Warn("group member not resolvable", "groupID", group.ID, "userID", id)
				continue
			}
			users = append(users, *user)
			members[id] = true
		}

		// Refresh the group record with its resolved membership set.
		updated := group
		updated.MemberUserIDs = members
		sess.cache.PutMany([]domain.Entity{updated})

		return users, nil
	})
	if err != nil {
		s.observeError(sess, "get_group_members", err)
		return nil, err
	}

	return entitiesAs[domain.User](ents), nil
}

// GetUserByField looks up one user by field name, cache-first for id
// lookups.
func (s *Service) GetUserByField(ctx context.Context, field, value string) (*domain.User, error) {
	sess, err := s.current()
	if err != nil {
		return nil, err
	}

	var user *domain.User
	err = s.withRetry(ctx, "get_users_by_field", func() error {
		var rerr error
		user, rerr = sess.backend.GetUserByField(ctx, field, value)
		return rerr
	})
	if err != nil {
		s.observeError(sess, "get_users_by_field", err)
		return nil, err
	}
	if user != nil {
		sess.cache.PutMany([]domain.Entity{*user})
	}
	return user, nil
}

// === internal fetch plumbing ===

// current snapshots the active session. After an auth rejection the stored
// AuthError keeps propagating so callers fail fast instead of reading stale
// cache.
func (s *Service) current() (*session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		if s.authFail != nil {
			return nil, s.authFail
		}
		return nil, domain.ErrNotConnected
	}
	return s.sess, nil
}

func (s *Service) currentGen() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// teardown drops the session and clears its cache and tree. Reports whether
// there was a session to drop.
func (s *Service) teardown() bool {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.authFail = nil
	if sess != nil {
		s.gen++
	}
	s.mu.Unlock()

	if sess == nil {
		return false
	}
	sess.cache.Clear()
	sess.tree.Reset()
	s.emit(Event{Type: EventConnectionChanged, Connected: false})
	return true
}

// withRetry runs fn with the bounded retry policy: transport-class failures
// only, linear delay, everything else propagates on first failure.
func (s *Service) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("retrying", "op", op, "attempt", attempt)
			select {
			case <-time.After(retryDelay * time.Duration(attempt)):
			case <-ctx.Done():
				return &domain.TransportError{Op: op, Err: ctx.Err()}
			}
		}
		if err = fn(); err == nil {
			return nil
		}
		if !domain.IsRetryable(err) {
			return err
		}
	}
	return err
}

// observeError reports a failed fetch once and force-disconnects on auth
// rejection: the token is dead, so is the session.
func (s *Service) observeError(sess *session, op string, err error) {
	s.emit(Event{Type: EventFetchError, Op: op, Err: err})

	if !domain.IsAuthError(err) {
		return
	}

	s.mu.Lock()
	active := s.sess == sess
	if active {
		s.sess = nil
		s.gen++
		var ae *domain.AuthError
		if errors.As(err, &ae) {
			s.authFail = ae
		}
	}
	s.mu.Unlock()

	if active {
		sess.cache.Clear()
		sess.tree.Reset()
		s.logger.Warn("session terminated by auth failure", "op", op, "error", err)
		s.emit(Event{Type: EventConnectionChanged, Connected: false})
	}
}

func (s *Service) categories(ctx context.Context, sess *session) ([]domain.Category, error) {
	ents, err := sess.cache.GetOrFetchList(ctx, keyCategories, func(ctx context.Context) ([]domain.Entity, error) {
		var cats []domain.Category
		ferr := s.withRetry(ctx, "get_categories", func() error {
			var rerr error
			cats, rerr = sess.backend.GetCategories(ctx)
			return rerr
		})
		if ferr != nil {
			return nil, ferr
		}
		return asEntities(cats), nil
	})
	if err != nil {
		s.observeError(sess, "get_categories", err)
		return nil, err
	}
	return entitiesAs[domain.Category](ents), nil
}

func (s *Service) courses(ctx context.Context, sess *session) ([]domain.Course, error) {
	ents, err := sess.cache.GetOrFetchList(ctx, keyCourses, func(ctx context.Context) ([]domain.Entity, error) {
		var courses []domain.Course
		ferr := s.withRetry(ctx, "get_courses", func() error {
			var rerr error
			courses, rerr = sess.backend.GetCourses(ctx)
			return rerr
		})
		if ferr != nil {
			return nil, ferr
		}
		return asEntities(courses), nil
	})
	if err != nil {
		s.observeError(sess, "get_courses", err)
		return nil, err
	}
	return entitiesAs[domain.Course](ents), nil
}

// sections loads a course's section listing; the single contents call also
// fills each section's module listing.
func (s *Service) sections(ctx context.Context, sess *session, courseID int64) ([]domain.Section, error) {
	ents, err := sess.cache.GetOrFetchList(ctx, keySections(courseID), func(ctx context.Context) ([]domain.Entity, error) {
		sections, modules, ferr := s.fetchContents(ctx, sess, courseID)
		if ferr != nil {
			return nil, ferr
		}

		bySection := make(map[int64][]domain.Entity)
		for _, m := range modules {
			bySection[m.SectionID] = append(bySection[m.SectionID], m)
		}
		for _, sec := range sections {
			sess.cache.PutList(keyModules(sec.ID), bySection[sec.ID])
		}

		return asEntities(sections), nil
	})
	if err != nil {
		s.observeError(sess, "get_contents", err)
		return nil, err
	}
	return entitiesAs[domain.Section](ents), nil
}

// modules loads one section's module listing, re-fetching the whole course
// contents if the listing was invalidated.
func (s *Service) modules(ctx context.Context, sess *session, section domain.Section) ([]domain.Module, error) {
	ents, err := sess.cache.GetOrFetchList(ctx, keyModules(section.ID), func(ctx context.Context) ([]domain.Entity, error) {
		_, modules, ferr := s.fetchContents(ctx, sess, section.CourseID)
		if ferr != nil {
			return nil, ferr
		}

		mine := make([]domain.Entity, 0, len(modules))
		for _, m := range modules {
			if m.SectionID == section.ID {
				mine = append(mine, m)
			}
		}
		return mine, nil
	})
	if err != nil {
		s.observeError(sess, "get_contents", err)
		return nil, err
	}
	return entitiesAs[domain.Module](ents), nil
}

func (s *Service) fetchContents(ctx context.Context, sess *session, courseID int64) ([]domain.Section, []domain.Module, error) {
	var sections []domain.Section
	var modules []domain.Module
	err := s.withRetry(ctx, "get_contents", func() error {
		var rerr error
		sections, modules, rerr = sess.backend.GetCourseContents(ctx, courseID)
		return rerr
	})
	if err != nil {
		return nil, nil, err
	}
	return sections, modules, nil
}

// fetchAllUsers walks enrolment pages until an underfull page. On failure
// it returns whatever pages succeeded so the caller can flag a partial
// result.
func (s *Service) fetchAllUsers(ctx context.Context, sess *session, courseID int64) ([]domain.User, error) {
	var all []domain.User
	offset := 0
	for {
		var page []domain.User
		err := s.withRetry(ctx, "get_enrolled_users", func() error {
			var rerr error
			page, rerr = sess.backend.GetEnrolledUsers(ctx, courseID, offset, usersPageSize)
			return rerr
		})
		if err != nil {
			return all, err
		}

		all = append(all, page...)
		if len(page) < usersPageSize {
			return all, nil
		}
		offset += usersPageSize
	}
}

// resolveUser returns a user record by id, cache-first.
func (s *Service) resolveUser(ctx context.Context, sess *session, id int64) (*domain.User, error) {
	if e, ok := sess.cache.Get(domain.KindUser, id); ok {
		u := e.(domain.User)
		return &u, nil
	}

	var user *domain.User
	err := s.withRetry(ctx, "get_users_by_field", func() error {
		var rerr error
		user, rerr = sess.backend.GetUserByField(ctx, "id", formatID(id))
		return rerr
	})
	if err != nil {
		return nil, err
	}
	if user != nil {
		sess.cache.PutMany([]domain.Entity{*user})
	}
	return user, nil
}
