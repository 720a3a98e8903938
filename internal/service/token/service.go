package token

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.gatehouse/internal/docstore"
	"uk.co.dudmesh.gatehouse/internal/model"
	"uk.co.dudmesh.gatehouse/pkg/crypt"
)

const (
	Collection = "token"

	idBytes     = 16
	secretBytes = 32
	maxAttempts = 8
)

type service struct {
	docs   docstore.Store
	ttl    time.Duration
	policy model.LockboxPolicy
	now    func() time.Time
}

type Option func(*service)

func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

func WithTTL(ttl time.Duration) Option {
	return func(s *service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithLockboxPolicy(policy model.LockboxPolicy) Option {
	return func(s *service) { s.policy = policy }
}

func New(docs docstore.Store, opts ...Option) *service {
	s := &service{
		docs:   docs,
		ttl:    model.DefaultTokenTTL,
		policy: model.LockboxStrict,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) TTL() time.Duration {
	return s.ttl
}

func newID() (model.TokenID, error) {
	id, err := crypt.RandomHex(idBytes)
	if err != nil {
		return "", fmt.Errorf("generating token id: %w", err)
	}
	return model.TokenID(id), nil
}

// Issue returns a new unbound token. It is not stored until it is bound or
// given a lockbox.
func (s *service) Issue() (*model.Token, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		id, err := newID()
		if err != nil {
			return nil, err
		}
		exists, err := s.docs.Has(Collection, string(id))
		if err != nil {
			return nil, fmt.Errorf("checking token id: %w", err)
		}
		if !exists {
			return model.NewToken(id, s.now(), s.ttl), nil
		}
	}
	return nil, model.ErrorIDExhausted
}

func (s *service) Load(id model.TokenID) (*model.Token, error) {
	raw := json.RawMessage{}
	if err := s.docs.Load(Collection, string(id), &raw); err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, model.ErrorTokenNotFound
		}
		return nil, fmt.Errorf("loading token: %w", err)
	}
	return model.DecodeToken(raw)
}

// Bind sets the token's owner and stores it. A token can be bound once;
// binding again returns ErrorTokenBound and changes nothing.
func (s *service) Bind(t *model.Token, userID model.UserID) (model.TokenID, error) {
	if userID == "" {
		return "", fmt.Errorf("binding token: %w", model.ErrorUserNotFound)
	}
	if t.Bound() {
		return "", model.ErrorTokenBound
	}
	if t.Stored {
		current, err := s.Load(t.ID)
		if err != nil && !errors.Is(err, model.ErrorTokenNotFound) {
			return "", err
		}
		if current != nil && current.Bound() {
			return "", model.ErrorTokenBound
		}
	}

	t.User = userID
	if err := s.persist(t); err != nil {
		t.User = ""
		return "", err
	}
	return t.ID, nil
}

// persist writes the token. The first write is an insert; if another token
// took the id in the meantime a fresh id is drawn.
func (s *service) persist(t *model.Token) error {
	if t.Stored {
		if err := s.docs.Save(Collection, string(t.ID), t); err != nil {
			return fmt.Errorf("saving token: %w", err)
		}
		return nil
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err := s.docs.Insert(Collection, string(t.ID), t)
		if err == nil {
			t.Stored = true
			return nil
		}
		if !errors.Is(err, docstore.ErrExists) {
			return fmt.Errorf("inserting token: %w", err)
		}
		id, err := newID()
		if err != nil {
			return err
		}
		t.ID = id
	}
	return model.ErrorIDExhausted
}

// Resolve returns the owner of a usable token. Under the strict policy a
// token with a lockbox always requires the matching secret.
func (s *service) Resolve(t *model.Token, secret string, requireLockbox bool) (model.UserID, bool) {
	if s.policy == model.LockboxStrict && t.KeyHash != "" {
		requireLockbox = true
	}
	return t.Resolve(s.now(), secret, requireLockbox)
}

// ResolveID loads and resolves a token in one step. A missing token resolves
// to nothing without an error.
func (s *service) ResolveID(id model.TokenID, secret string, requireLockbox bool) (model.UserID, bool, error) {
	t, err := s.Load(id)
	if err != nil {
		if errors.Is(err, model.ErrorTokenNotFound) {
			return "", false, nil
		}
		return "", false, err
	}
	user, ok := s.Resolve(t, secret, requireLockbox)
	return user, ok, nil
}

// Owner is the bound user of a token inside its validity window, ignoring
// the lockbox.
func (s *service) Owner(t *model.Token) model.UserID {
	return t.Owner(s.now())
}

// RotateLockbox gives the token a new lockbox secret, stores only its hash
// and returns the plaintext.
func (s *service) RotateLockbox(t *model.Token) (string, error) {
	secret, err := crypt.RandomHex(secretBytes)
	if err != nil {
		return "", fmt.Errorf("generating lockbox secret: %w", err)
	}
	previous := t.KeyHash
	t.KeyHash = crypt.HashSecret(secret)
	if err := s.persist(t); err != nil {
		t.KeyHash = previous
		return "", err
	}
	return secret, nil
}

func (s *service) Revoke(id model.TokenID) error {
	if err := s.docs.Delete(Collection, string(id)); err != nil {
		return fmt.Errorf("revoking token: %w", err)
	}
	return nil
}

// PurgeExpired deletes every stored token whose expiry has passed and
// returns how many were removed.
func (s *service) PurgeExpired() (int, error) {
	keys, err := s.docs.Keys(Collection)
	if err != nil {
		return 0, fmt.Errorf("listing tokens: %w", err)
	}

	now := s.now().Unix()
	purged := 0
	for _, key := range keys {
		t, err := s.Load(model.TokenID(key))
		if err != nil {
			if errors.Is(err, model.ErrorTokenNotFound) {
				continue
			}
			log.Warnf("skipping unreadable token record: %+v", err)
			continue
		}
		if now < t.Expire {
			continue
		}
		if err := s.Revoke(model.TokenID(key)); err != nil {
			return purged, err
		}
		purged++
	}
	return purged, nil
}
