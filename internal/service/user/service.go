package user

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"uk.co.dudmesh.gatehouse/internal/docstore"
	"uk.co.dudmesh.gatehouse/internal/keylock"
	"uk.co.dudmesh.gatehouse/internal/model"
	"uk.co.dudmesh.gatehouse/pkg/crypt"
)

const (
	Collection = "user"

	DefaultLoginCooldown = 15 * time.Second

	idLength    = 20
	sakBytes    = 16
	maxAttempts = 8
)

type TokenService interface {
	Issue() (*model.Token, error)
	Load(id model.TokenID) (*model.Token, error)
	Bind(t *model.Token, userID model.UserID) (model.TokenID, error)
	Owner(t *model.Token) model.UserID
	Revoke(id model.TokenID) error
}

// Credentials are presented to IssueToken. MFACode is accepted for
// compatibility and not checked.
type Credentials struct {
	Password   string
	MFACode    string
	RemoteAddr string
}

type service struct {
	docs     docstore.Store
	tokens   TokenService
	locks    *keylock.Locker
	cooldown time.Duration
	now      func() time.Time
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithLoginCooldown(cooldown time.Duration) Option {
	return func(s *service) { s.cooldown = cooldown }
}

func New(docs docstore.Store, tokens TokenService, opts ...Option) *service {
	s := &service{
		docs:     docs,
		tokens:   tokens,
		locks:    keylock.New(keylock.DefaultStripes),
		cooldown: DefaultLoginCooldown,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) NewID() (model.UserID, error) {
	id, err := crypt.RandomBase32(idLength)
	if err != nil {
		return "", fmt.Errorf("generating user id: %w", err)
	}
	return model.UserID(id), nil
}

func newSAK() (string, error) {
	sak, err := crypt.RandomHex(sakBytes)
	if err != nil {
		return "", fmt.Errorf("generating single action key: %w", err)
	}
	return sak, nil
}

// Create returns a new, unsaved user with no password and no roles.
func (s *service) Create(id model.UserID) (*model.User, error) {
	sak, err := newSAK()
	if err != nil {
		return nil, err
	}
	return model.NewUser(id, s.now(), sak), nil
}

func (s *service) Load(id model.UserID) (*model.User, error) {
	raw := json.RawMessage{}
	if err := s.docs.Load(Collection, string(id), &raw); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, model.ErrorUserNotFound
		}
		return nil, fmt.Errorf("loading user: %w", err)
	}
	return model.DecodeUser(raw)
}

func (s *service) Save(u *model.User) error {
	if err := s.docs.Save(Collection, string(u.ID), u); err != nil {
		return fmt.Errorf("saving user: %w", err)
	}
	return nil
}

// Insert stores a user that does not exist yet. If the id is already taken a
// new one is drawn, so u.ID may change.
func (s *service) Insert(u *model.User) error {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.docs.Insert(Collection, string(u.ID), u)
		if err == nil {
			return nil
		}
		if !errors.Is(err, docstore.ErrExists) {
			return fmt.Errorf("inserting user: %w", err)
		}
		id, err := s.NewID()
		if err != nil {
			return err
		}
		u.ID = id
	}
	return model.ErrorIDExhausted
}

// update runs fn on a freshly loaded copy of u while holding u's lock and
// copies the result back into u. fn is responsible for saving.
func (s *service) update(u *model.User, fn func(fresh *model.User) error) error {
	unlock := s.locks.Lock(string(u.ID))
	defer unlock()

	fresh, err := s.Load(u.ID)
	if err != nil {
		return err
	}
	err = fn(fresh)
	*u = *fresh
	return err
}

func (s *service) SetPassword(u *model.User, password string) error {
	hash, err := crypt.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	u.Password = hash
	return nil
}

// GeneratePassword sets a random password on u and returns it.
func (s *service) GeneratePassword(u *model.User) (string, error) {
	password, err := crypt.RandomPassword(crypt.DefaultPasswordLength)
	if err != nil {
		return "", fmt.Errorf("generating password: %w", err)
	}
	if err := s.SetPassword(u, password); err != nil {
		return "", err
	}
	return password, nil
}

func (s *service) Authenticate(u *model.User, password string) bool {
	if !u.HasPassword() {
		return false
	}
	return crypt.CheckPassword(u.Password, password)
}

func (s *service) ReconcileTokens(u *model.User) error {
	return s.update(u, func(fresh *model.User) error {
		_, err := s.reconcile(fresh)
		return err
	})
}

// reconcile drops listed tokens that are missing, expired or owned by
// someone else, deleting their records, and saves u if its list changed.
func (s *service) reconcile(u *model.User) (int, error) {
	owners := make(map[model.TokenID]model.UserID, len(u.Tokens))
	for _, id := range u.Tokens {
		t, err := s.tokens.Load(id)
		if err != nil {
			if errors.Is(err, model.ErrorTokenNotFound) {
				continue
			}
			return 0, err
		}
		owners[id] = s.tokens.Owner(t)
	}

	kept, dropped := model.ReconcileTokens(u.ID, u.Tokens, owners)
	for _, id := range dropped {
		if err := s.tokens.Revoke(id); err != nil {
			return 0, err
		}
	}
	if model.SameTokens(kept, u.Tokens) {
		return 0, nil
	}
	u.Tokens = kept
	return len(dropped), s.Save(u)
}

// RevokeAllTokens deletes every token listed on the stored record of u and
// returns how many were listed and the addresses they were issued to, where
// known.
func (s *service) RevokeAllTokens(u *model.User) (int, []string, error) {
	var count int
	var addrs []string
	err := s.update(u, func(fresh *model.User) error {
		var err error
		count = len(fresh.Tokens)
		addrs, err = s.revokeAll(fresh)
		return err
	})
	if err != nil {
		return 0, nil, err
	}
	return count, addrs, nil
}

func (s *service) revokeAll(u *model.User) ([]string, error) {
	addrs := []string{}
	for _, id := range u.Tokens {
		t, err := s.tokens.Load(id)
		if err != nil && !errors.Is(err, model.ErrorTokenNotFound) {
			return nil, err
		}
		if t != nil && t.IP != "" {
			addrs = append(addrs, t.IP)
		}
		if err := s.tokens.Revoke(id); err != nil {
			return nil, err
		}
	}
	u.Tokens = []model.TokenID{}
	return addrs, s.Save(u)
}

func (s *service) Delete(u *model.User) error {
	return s.update(u, func(fresh *model.User) error {
		if _, err := s.revokeAll(fresh); err != nil {
			return err
		}
		if err := s.docs.Delete(Collection, string(fresh.ID)); err != nil {
			return fmt.Errorf("deleting user: %w", err)
		}
		return nil
	})
}

// CheckRateLimit reports true when a login attempt is not allowed yet.
// Allowed attempts push login_wait out by the cool-down.
func (s *service) CheckRateLimit(u *model.User) (bool, error) {
	var denied bool
	err := s.update(u, func(fresh *model.User) error {
		var err error
		denied, err = s.rateLimit(fresh)
		return err
	})
	return denied, err
}

func (s *service) rateLimit(u *model.User) (bool, error) {
	now := s.now()
	if u.RateLimited(now) {
		return true, nil
	}
	u.LoginWait = now.Add(s.cooldown).Unix()
	return false, s.Save(u)
}

// IssueToken is the login step for a known user: rate limit, reconcile,
// check the password, then bind a new token. Rejections return an error
// wrapping model.ErrorInvalidCredentials.
func (s *service) IssueToken(u *model.User, creds Credentials) (*model.Token, error) {
	var token *model.Token
	err := s.update(u, func(fresh *model.User) error {
		denied, err := s.rateLimit(fresh)
		if err != nil {
			return err
		}
		if denied {
			return fmt.Errorf("%w: %w", model.ErrorInvalidCredentials, model.ErrorRateLimited)
		}

		if _, err := s.reconcile(fresh); err != nil {
			return err
		}

		if !s.Authenticate(fresh, creds.Password) {
			return model.ErrorInvalidCredentials
		}
		if crypt.NeedsRehash(fresh.Password) {
			if err := s.SetPassword(fresh, creds.Password); err != nil {
				return err
			}
		}

		token, err = s.tokens.Issue()
		if err != nil {
			return err
		}
		token.IP = creds.RemoteAddr
		id, err := s.tokens.Bind(token, fresh.ID)
		if err != nil {
			return err
		}
		fresh.Tokens = append(fresh.Tokens, id)
		if err := s.Save(fresh); err != nil {
			// the bound token is unreachable through the user, drop it
			fresh.Tokens = fresh.Tokens[:len(fresh.Tokens)-1]
			if revokeErr := s.tokens.Revoke(id); revokeErr != nil {
				return errors.Join(err, revokeErr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return token, nil
}

// RotateSingleActionKey consumes presented if it is the current key and
// replaces it with a new one.
func (s *service) RotateSingleActionKey(u *model.User, presented string) (bool, error) {
	rotated := false
	err := s.update(u, func(fresh *model.User) error {
		if fresh.SAK == "" || subtle.ConstantTimeCompare([]byte(fresh.SAK), []byte(presented)) != 1 {
			return nil
		}
		sak, err := newSAK()
		if err != nil {
			return err
		}
		fresh.SAK = sak
		if err := s.Save(fresh); err != nil {
			return err
		}
		rotated = true
		return nil
	})
	return rotated, err
}

func (s *service) AddRole(u *model.User, role model.Role) error {
	return s.update(u, func(fresh *model.User) error {
		fresh.Roles = model.AddRole(fresh.Roles, role)
		return s.Save(fresh)
	})
}

func (s *service) RemoveRole(u *model.User, role model.Role) error {
	return s.update(u, func(fresh *model.User) error {
		fresh.Roles = model.RemoveRole(fresh.Roles, role)
		return s.Save(fresh)
	})
}

func (s *service) SetVerified(u *model.User, verified bool) error {
	return s.update(u, func(fresh *model.User) error {
		if verified {
			ts := s.now().Unix()
			fresh.Verified = &ts
		} else {
			fresh.Verified = nil
		}
		return s.Save(fresh)
	})
}

// RemoveToken drops id from the user's token list. A missing user is not an
// error.
func (s *service) RemoveToken(userID model.UserID, id model.TokenID) error {
	err := s.update(&model.User{ID: userID}, func(fresh *model.User) error {
		tokens := model.RemoveToken(fresh.Tokens, id)
		if len(tokens) == len(fresh.Tokens) {
			return nil
		}
		fresh.Tokens = tokens
		return s.Save(fresh)
	})
	if errors.Is(err, model.ErrorUserNotFound) {
		return nil
	}
	return err
}

// ResetPassword replaces the password with a random one, signs the user out
// everywhere and clears the login cool-down.
func (s *service) ResetPassword(u *model.User) (string, error) {
	var password string
	err := s.update(u, func(fresh *model.User) error {
		var err error
		if password, err = s.GeneratePassword(fresh); err != nil {
			return err
		}
		fresh.LoginWait = 0
		_, err = s.revokeAll(fresh)
		return err
	})
	if err != nil {
		return "", err
	}
	return password, nil
}

func (s *service) LookupHandle(handle string) (model.UserID, error) {
	key, err := s.docs.FindOne(Collection, "handle", handle)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return "", model.ErrorUserNotFound
		}
		return "", fmt.Errorf("looking up handle: %w", err)
	}
	return model.UserID(key), nil
}

func (s *service) Count() (int, error) {
	keys, err := s.docs.Keys(Collection)
	if err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return len(keys), nil
}

func (s *service) List() ([]*model.User, error) {
	keys, err := s.docs.Keys(Collection)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	users := make([]*model.User, 0, len(keys))
	for _, key := range keys {
		u, err := s.Load(model.UserID(key))
		if err != nil {
			if errors.Is(err, model.ErrorUserNotFound) {
				continue
			}
			return nil, err
		}
		users = append(users, u)
	}
	return users, nil
}
