package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.gatehouse/internal/events"
	"uk.co.dudmesh.gatehouse/internal/model"
	"uk.co.dudmesh.gatehouse/internal/service/user"
	"uk.co.dudmesh.gatehouse/internal/siteconfig"
	"uk.co.dudmesh.gatehouse/pkg/crypt"
)

type UserService interface {
	NewID() (model.UserID, error)
	Create(id model.UserID) (*model.User, error)
	Load(id model.UserID) (*model.User, error)
	Insert(u *model.User) error
	GeneratePassword(u *model.User) (string, error)
	IssueToken(u *model.User, creds user.Credentials) (*model.Token, error)
	LookupHandle(handle string) (model.UserID, error)
	Count() (int, error)
	RemoveToken(userID model.UserID, id model.TokenID) error
	RotateSingleActionKey(u *model.User, presented string) (bool, error)
	RevokeAllTokens(u *model.User) (int, []string, error)
}

type TokenService interface {
	Load(id model.TokenID) (*model.Token, error)
	RotateLockbox(t *model.Token) (string, error)
	Revoke(id model.TokenID) error
	ResolveID(id model.TokenID, secret string, requireLockbox bool) (model.UserID, bool, error)
}

type Settings interface {
	Bool(key string, def bool) (bool, error)
}

type Recorder interface {
	Login(result string)
	Registration(result string)
	TokensRevoked(n int)
}

type LoginResult struct {
	UserID  model.UserID
	Token   model.TokenID
	Key     string
	Expires time.Time
}

type RegisterResult struct {
	ID       model.UserID
	Handle   string
	Password string
}

type service struct {
	users    UserService
	tokens   TokenService
	settings Settings
	events   *events.Dispatcher
	metrics  Recorder

	registerMu sync.Mutex
	dummyHash  string
}

type Option func(*service)

func WithEvents(d *events.Dispatcher) Option {
	return func(s *service) { s.events = d }
}

func WithMetrics(m Recorder) Option {
	return func(s *service) { s.metrics = m }
}

func New(users UserService, tokens TokenService, settings Settings, opts ...Option) (*service, error) {
	// unknown handles are checked against this so they cost the same as a
	// wrong password
	filler, err := crypt.RandomPassword(crypt.DefaultPasswordLength)
	if err != nil {
		return nil, err
	}
	dummyHash, err := crypt.HashPassword(filler)
	if err != nil {
		return nil, err
	}

	s := &service{
		users:     users,
		tokens:    tokens,
		settings:  settings,
		dummyHash: dummyHash,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *service) Login(handle string, password string, remoteAddr string) (*LoginResult, error) {
	result, err := s.login(handle, password, remoteAddr)
	outcome := outcomeOf(err)
	if s.metrics != nil {
		s.metrics.Login(outcome)
	}
	if outcome == string(ReasonInternal) {
		log.Errorf("login for %q: %+v", handle, err)
	} else {
		log.Infoj(log.JSON{"event": "login", "handle": handle, "result": outcome, "remote": remoteAddr})
	}
	return result, err
}

func (s *service) login(handle string, password string, remoteAddr string) (*LoginResult, error) {
	if len(handle) > model.MaxHandleLength || !model.ValidateHandle(handle) || len(password) > model.MaxPasswordLength {
		crypt.CheckPassword(s.dummyHash, password)
		return nil, invalidLogin(model.ErrorInvalidHandle)
	}

	id, err := s.users.LookupHandle(handle)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			crypt.CheckPassword(s.dummyHash, password)
			return nil, invalidLogin(err)
		}
		return nil, internal(err)
	}

	u, err := s.users.Load(id)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			return nil, invalidLogin(err)
		}
		return nil, internal(err)
	}

	token, err := s.users.IssueToken(u, user.Credentials{Password: password, RemoteAddr: remoteAddr})
	if err != nil {
		if errors.Is(err, model.ErrorInvalidCredentials) {
			return nil, invalidLogin(err)
		}
		return nil, internal(err)
	}

	key, err := s.tokens.RotateLockbox(token)
	if err != nil {
		return nil, internal(errors.Join(err, s.discard(u.ID, token.ID)))
	}

	s.events.Trigger(events.UserLoginAfter, events.UserEvent{UserID: string(u.ID), Handle: u.Handle})

	return &LoginResult{
		UserID:  u.ID,
		Token:   token.ID,
		Key:     key,
		Expires: token.ExpiresAt(),
	}, nil
}

func (s *service) Register(email string, handle string) (*RegisterResult, error) {
	result, err := s.register(email, handle)
	outcome := outcomeOf(err)
	if s.metrics != nil {
		s.metrics.Registration(outcome)
	}
	if outcome == string(ReasonInternal) {
		log.Errorf("registering %q: %+v", handle, err)
	} else {
		log.Infoj(log.JSON{"event": "register", "handle": handle, "result": outcome})
	}
	return result, err
}

func (s *service) register(email string, handle string) (*RegisterResult, error) {
	allowed, err := s.settings.Bool(siteconfig.SettingRegister, true)
	if err != nil {
		return nil, internal(err)
	}
	if !allowed {
		return nil, fail(ReasonNotAllowed, MessageRegisterDisabled, model.ErrorRegistrationDisabled)
	}
	if len(email) > model.MaxEmailLength {
		return nil, fail(ReasonInvalidInput, MessageInputTooLong, model.ErrorInputTooLong)
	}
	if len(handle) > model.MaxHandleLength || !model.ValidateHandle(handle) {
		return nil, fail(ReasonInvalidHandle, MessageInvalidHandle, model.ErrorInvalidHandle)
	}

	s.registerMu.Lock()
	defer s.registerMu.Unlock()

	if _, err := s.users.LookupHandle(handle); err == nil {
		return nil, fail(ReasonAlreadyExists, MessageHandleTaken, model.ErrorHandleTaken)
	} else if !errors.Is(err, model.ErrorUserNotFound) {
		return nil, internal(err)
	}

	count, err := s.users.Count()
	if err != nil {
		return nil, internal(err)
	}

	id, err := s.users.NewID()
	if err != nil {
		return nil, internal(err)
	}
	u, err := s.users.Create(id)
	if err != nil {
		return nil, internal(err)
	}
	u.Handle = handle
	u.Email = email

	password, err := s.users.GeneratePassword(u)
	if err != nil {
		return nil, internal(err)
	}
	if count == 0 {
		u.Roles = model.AllRoles()
	}

	if err := s.users.Insert(u); err != nil {
		return nil, internal(err)
	}

	s.events.Trigger(events.UserRegisterAfter, events.UserEvent{UserID: string(u.ID), Handle: u.Handle})

	return &RegisterResult{
		ID:       u.ID,
		Handle:   u.Handle,
		Password: password,
	}, nil
}

// discard removes a token that was issued but cannot be handed out.
func (s *service) discard(userID model.UserID, id model.TokenID) error {
	if err := s.tokens.Revoke(id); err != nil {
		return fmt.Errorf("revoking unused token: %w", err)
	}
	if err := s.users.RemoveToken(userID, id); err != nil {
		return fmt.Errorf("unlisting unused token: %w", err)
	}
	return nil
}

// Logout revokes the token. Unknown tokens are treated as already revoked.
func (s *service) Logout(id model.TokenID) error {
	t, err := s.tokens.Load(id)
	if err != nil {
		if errors.Is(err, model.ErrorTokenNotFound) {
			return nil
		}
		return internal(err)
	}

	if err := s.tokens.Revoke(id); err != nil {
		return internal(err)
	}
	if t.Bound() {
		if err := s.users.RemoveToken(t.User, id); err != nil {
			return internal(err)
		}
	}
	if s.metrics != nil {
		s.metrics.TokensRevoked(1)
	}
	s.events.Trigger(events.UserLogoutAfter, events.UserEvent{UserID: string(t.User), Count: 1})
	return nil
}

// CurrentUser returns the user behind a session token and its lockbox key.
// Both are required whatever the lockbox policy.
func (s *service) CurrentUser(id model.TokenID, key string) (*model.User, error) {
	if id == "" || key == "" {
		return nil, invalidLogin(model.ErrorTokenNotFound)
	}
	userID, ok, err := s.tokens.ResolveID(id, key, true)
	if err != nil {
		return nil, internal(err)
	}
	if !ok {
		return nil, invalidLogin(model.ErrorTokenNotFound)
	}

	u, err := s.users.Load(userID)
	if err != nil {
		if errors.Is(err, model.ErrorUserNotFound) {
			return nil, invalidLogin(err)
		}
		return nil, internal(err)
	}
	return u, nil
}

// LogoutAll signs the user out of every session. sak must be the user's
// current single action key; it is consumed.
func (s *service) LogoutAll(u *model.User, sak string) (int, error) {
	ok, err := s.users.RotateSingleActionKey(u, sak)
	if err != nil {
		return 0, internal(err)
	}
	if !ok {
		return 0, fail(ReasonNotAllowed, MessageActionExpired, nil)
	}

	count, addrs, err := s.users.RevokeAllTokens(u)
	if err != nil {
		return 0, internal(err)
	}
	if s.metrics != nil {
		s.metrics.TokensRevoked(count)
	}
	log.Infoj(log.JSON{"event": "logout_all", "handle": u.Handle, "tokens": count, "addresses": addrs})
	s.events.Trigger(events.UserTokensRevoked, events.UserEvent{UserID: string(u.ID), Handle: u.Handle, Count: count})
	return count, nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "success"
	}
	var f *Failure
	if errors.As(err, &f) {
		return string(f.Reason)
	}
	return string(ReasonInternal)
}
