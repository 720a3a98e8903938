package auth

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"uk.co.dudmesh.gatehouse/internal/docstore"
	"uk.co.dudmesh.gatehouse/internal/events"
	"uk.co.dudmesh.gatehouse/internal/metrics"
	"uk.co.dudmesh.gatehouse/internal/model"
	"uk.co.dudmesh.gatehouse/internal/service/token"
	"uk.co.dudmesh.gatehouse/internal/service/user"
	"uk.co.dudmesh.gatehouse/internal/siteconfig"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type tokenService interface {
	TokenService
	Owner(t *model.Token) model.UserID
}

type fixture struct {
	clock    *clock
	settings *siteconfig.Settings
	events   *events.Dispatcher
	tokens   tokenService
	users    UserService
	auth     *service
}

func newFixture(t *testing.T, docs docstore.Store) *fixture {
	c := &clock{now: time.Unix(1700000000, 0)}
	tokens := token.New(docs, token.WithClock(c.Now))
	users := user.New(docs, tokens, user.WithClock(c.Now))
	settings := siteconfig.New(docs)
	dispatcher := events.NewDispatcher()

	svc, err := New(users, tokens, settings,
		WithEvents(dispatcher),
		WithMetrics(metrics.New(prometheus.NewRegistry())))
	require.NoError(t, err)

	return &fixture{
		clock:    c,
		settings: settings,
		events:   dispatcher,
		tokens:   tokens,
		users:    users,
		auth:     svc,
	}
}

func reasonOf(err error) Reason {
	var f *Failure
	if errors.As(err, &f) {
		return f.Reason
	}
	return ""
}

func TestRegisterLoginLogout(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, docstore.NewMemory())

	var registered []string
	f.events.On(events.UserRegisterAfter, func(payload interface{}) {
		registered = append(registered, payload.(events.UserEvent).Handle)
	})

	var reg *RegisterResult
	var login *LoginResult

	t.Run("Register first user", func(t *testing.T) {
		var err error
		reg, err = f.auth.Register("alice@example.com", "alice")
		require.NoError(t, err)
		assert.Equal("alice", reg.Handle)
		assert.Len(reg.Password, 30)
		assert.Len(string(reg.ID), 20)
		assert.Equal([]string{"alice"}, registered)

		u, err := f.users.Load(reg.ID)
		require.NoError(t, err)
		assert.ElementsMatch(model.AllRoles(), u.Roles)
		assert.Equal(3, u.RoleScore())
		assert.Equal("alice@example.com", u.Email)
	})

	t.Run("Login", func(t *testing.T) {
		var err error
		login, err = f.auth.Login("alice", reg.Password, "192.0.2.7")
		require.NoError(t, err)
		assert.Equal(reg.ID, login.UserID)
		assert.Len(string(login.Token), 32)
		assert.NotEmpty(login.Key)
		assert.Equal(f.clock.Now().Add(14*24*time.Hour).Unix(), login.Expires.Unix())

		userID, ok, err := f.tokens.ResolveID(login.Token, login.Key, true)
		assert.Nil(err)
		assert.True(ok)
		assert.Equal(reg.ID, userID)

		u, err := f.auth.CurrentUser(login.Token, login.Key)
		assert.Nil(err)
		if assert.NotNil(u) {
			assert.Equal("alice", u.Handle)
		}

		_, err = f.auth.CurrentUser(login.Token, "")
		assert.Equal(ReasonInvalidCredentials, reasonOf(err))
	})

	t.Run("Logout", func(t *testing.T) {
		assert.Nil(f.auth.Logout(login.Token))

		_, ok, err := f.tokens.ResolveID(login.Token, login.Key, true)
		assert.Nil(err)
		assert.False(ok)
		_, err = f.tokens.Load(login.Token)
		assert.ErrorIs(err, model.ErrorTokenNotFound)

		u, err := f.users.Load(reg.ID)
		assert.Nil(err)
		assert.NotContains(u.Tokens, login.Token)

		assert.Nil(f.auth.Logout(login.Token), "logging out twice still succeeds")
		assert.Nil(f.auth.Logout("never-issued"))
		assert.Nil(f.auth.Logout(""))
	})

	t.Run("Register same handle again", func(t *testing.T) {
		_, err := f.auth.Register("", "alice")
		assert.Equal(ReasonAlreadyExists, reasonOf(err))
		var failure *Failure
		if assert.ErrorAs(err, &failure) {
			assert.Equal(MessageHandleTaken, failure.Message)
		}
	})

	t.Run("Second user gets no roles", func(t *testing.T) {
		bob, err := f.auth.Register("", "bob")
		require.NoError(t, err)
		u, err := f.users.Load(bob.ID)
		assert.Nil(err)
		assert.Empty(u.Roles)
		assert.Equal(0, u.RoleScore())
	})
}

func TestRegisterValidation(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, docstore.NewMemory())

	for _, handle := range []string{"", "Bob", "a_b", "a b", "abcdefghijklmnopqrstuvwxyz01234"} {
		_, err := f.auth.Register("", handle)
		assert.Equal(ReasonInvalidHandle, reasonOf(err), handle)
	}

	long := make([]byte, model.MaxEmailLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err := f.auth.Register(string(long), "carol")
	assert.Equal(ReasonInvalidInput, reasonOf(err))

	t.Run("Disabled", func(t *testing.T) {
		require.NoError(t, f.settings.Set(siteconfig.SettingRegister, false, true, false))
		_, err := f.auth.Register("", "carol")
		assert.Equal(ReasonNotAllowed, reasonOf(err))
		var failure *Failure
		if assert.ErrorAs(err, &failure) {
			assert.Equal(MessageRegisterDisabled, failure.Message)
		}

		n, err := f.users.Count()
		assert.Nil(err)
		assert.Equal(0, n)
	})
}

func TestLoginFailuresAreUniform(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, docstore.NewMemory())

	reg, err := f.auth.Register("", "alice")
	require.NoError(t, err)

	cases := map[string][2]string{
		"unknown handle":   {"bob", reg.Password},
		"wrong password":   {"alice", reg.Password + "x"},
		"malformed handle": {"Alice", reg.Password},
		"empty handle":     {"", reg.Password},
	}
	for name, c := range cases {
		f.clock.Advance(time.Minute)
		_, err := f.auth.Login(c[0], c[1], "")
		var failure *Failure
		if assert.ErrorAs(err, &failure, name) {
			assert.Equal(ReasonInvalidCredentials, failure.Reason, name)
			assert.Equal(MessageInvalidLogin, failure.Message, name)
		}
	}

	t.Run("Rate limited looks the same", func(t *testing.T) {
		f.clock.Advance(time.Minute)
		_, err := f.auth.Login("alice", reg.Password, "")
		require.NoError(t, err)

		_, err = f.auth.Login("alice", reg.Password, "")
		var failure *Failure
		if assert.ErrorAs(err, &failure) {
			assert.Equal(ReasonInvalidCredentials, failure.Reason)
			assert.Equal(MessageInvalidLogin, failure.Message)
			assert.ErrorIs(err, model.ErrorRateLimited)
		}

		f.clock.Advance(15 * time.Second)
		_, err = f.auth.Login("alice", reg.Password, "")
		assert.Nil(err)
	})
}

func TestLogoutAll(t *testing.T) {
	assert := assert.New(t)
	f := newFixture(t, docstore.NewMemory())

	reg, err := f.auth.Register("", "alice")
	require.NoError(t, err)

	var sessions []*LoginResult
	for i := 0; i < 2; i++ {
		login, err := f.auth.Login("alice", reg.Password, "")
		require.NoError(t, err)
		sessions = append(sessions, login)
		f.clock.Advance(time.Minute)
	}

	u, err := f.auth.CurrentUser(sessions[0].Token, sessions[0].Key)
	require.NoError(t, err)

	_, err = f.auth.LogoutAll(u, "stale")
	assert.Equal(ReasonNotAllowed, reasonOf(err))

	// a session opened after u was loaded is counted too
	login, err := f.auth.Login("alice", reg.Password, "")
	require.NoError(t, err)
	sessions = append(sessions, login)
	assert.Len(u.Tokens, 2)

	n, err := f.auth.LogoutAll(u, u.SAK)
	assert.Nil(err)
	assert.Equal(3, n)
	for _, s := range sessions {
		_, ok, err := f.tokens.ResolveID(s.Token, s.Key, true)
		assert.Nil(err)
		assert.False(ok)
	}
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Has(collection, key string) (bool, error) {
	args := m.Called(collection, key)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Load(collection, key string, v interface{}) error {
	return m.Called(collection, key, v).Error(0)
}

func (m *mockStore) Save(collection, key string, v interface{}) error {
	return m.Called(collection, key, v).Error(0)
}

func (m *mockStore) Insert(collection, key string, v interface{}) error {
	return m.Called(collection, key, v).Error(0)
}

func (m *mockStore) Delete(collection, key string) error {
	return m.Called(collection, key).Error(0)
}

func (m *mockStore) FindOne(collection, field, value string) (string, error) {
	args := m.Called(collection, field, value)
	return args.String(0), args.Error(1)
}

func (m *mockStore) Keys(collection string) ([]string, error) {
	args := m.Called(collection)
	return args.Get(0).([]string), args.Error(1)
}

func (m *mockStore) Close() error {
	return m.Called().Error(0)
}

func TestStorageFailures(t *testing.T) {
	assert := assert.New(t)
	diskError := errors.New("disk on fire")

	t.Run("Login", func(t *testing.T) {
		docs := &mockStore{}
		docs.On("FindOne", user.Collection, "handle", "alice").Return("", diskError)
		f := newFixture(t, docs)

		_, err := f.auth.Login("alice", "password", "")
		assert.Equal(ReasonInternal, reasonOf(err))
		assert.ErrorIs(err, diskError)
		docs.AssertExpectations(t)
	})

	t.Run("Register", func(t *testing.T) {
		docs := &mockStore{}
		docs.On("Load", siteconfig.Collection, siteconfig.Key, mock.Anything).Return(diskError)
		f := newFixture(t, docs)

		_, err := f.auth.Register("", "alice")
		assert.Equal(ReasonInternal, reasonOf(err))
		assert.ErrorIs(err, diskError)
		docs.AssertNotCalled(t, "Insert", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Register insert", func(t *testing.T) {
		docs := &mockStore{}
		docs.On("Load", siteconfig.Collection, siteconfig.Key, mock.Anything).Return(docstore.ErrNotFound)
		docs.On("FindOne", user.Collection, "handle", "alice").Return("", docstore.ErrNotFound)
		docs.On("Keys", user.Collection).Return([]string{}, nil)
		docs.On("Insert", user.Collection, mock.Anything, mock.Anything).Return(diskError)
		f := newFixture(t, docs)

		_, err := f.auth.Register("", "alice")
		assert.Equal(ReasonInternal, reasonOf(err))
		docs.AssertExpectations(t)
	})

	t.Run("Logout", func(t *testing.T) {
		docs := &mockStore{}
		docs.On("Load", token.Collection, "abc", mock.Anything).Return(diskError)
		f := newFixture(t, docs)

		err := f.auth.Logout("abc")
		assert.Equal(ReasonInternal, reasonOf(err))
	})
}

func TestLegacyLockboxSessions(t *testing.T) {
	assert := assert.New(t)

	docs := docstore.NewMemory()
	tokens := token.New(docs, token.WithLockboxPolicy(model.LockboxLegacy))
	users := user.New(docs, tokens)
	svc, err := New(users, tokens, siteconfig.New(docs))
	require.NoError(t, err)

	reg, err := svc.Register("", "alice")
	require.NoError(t, err)
	login, err := svc.Login("alice", reg.Password, "")
	require.NoError(t, err)

	_, err = svc.CurrentUser(login.Token, "")
	assert.Equal(ReasonInvalidCredentials, reasonOf(err))

	_, err = svc.CurrentUser(login.Token, "wrong")
	assert.Equal(ReasonInvalidCredentials, reasonOf(err))

	u, err := svc.CurrentUser(login.Token, login.Key)
	assert.Nil(err)
	assert.Equal(reg.ID, u.ID)
}

// faultyStore fails Save when failSave returns an error.
type faultyStore struct {
	docstore.Store
	failSave func(collection string) error
}

func (s *faultyStore) Save(collection, key string, v interface{}) error {
	if s.failSave != nil {
		if err := s.failSave(collection); err != nil {
			return err
		}
	}
	return s.Store.Save(collection, key, v)
}

func TestLoginLockboxFailure(t *testing.T) {
	assert := assert.New(t)
	diskError := errors.New("disk on fire")

	docs := &faultyStore{Store: docstore.NewMemory()}
	f := newFixture(t, docs)
	reg, err := f.auth.Register("", "alice")
	require.NoError(t, err)

	// the token is inserted when bound, the lockbox is the first overwrite
	docs.failSave = func(collection string) error {
		if collection == token.Collection {
			return diskError
		}
		return nil
	}

	_, err = f.auth.Login("alice", reg.Password, "")
	assert.Equal(ReasonInternal, reasonOf(err))
	assert.ErrorIs(err, diskError)

	keys, err := docs.Keys(token.Collection)
	assert.Nil(err)
	assert.Empty(keys)

	u, err := f.users.Load(reg.ID)
	require.NoError(t, err)
	assert.Empty(u.Tokens)
}
