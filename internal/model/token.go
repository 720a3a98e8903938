package model

import (
	"encoding/json"
	"fmt"
	"time"

	"uk.co.dudmesh.gatehouse/pkg/crypt"
)

type TokenID string

// TokenSchema is the current token record version. Records written before
// versioning have no schema field and may lack key and ip; both default to
// empty.
const TokenSchema = 2

const DefaultTokenTTL = 14 * 24 * time.Hour

type LockboxPolicy int

const (
	// LockboxStrict requires the lockbox secret whenever the token has one.
	LockboxStrict LockboxPolicy = iota
	// LockboxLegacy only checks the lockbox when the caller presents a secret
	// or asks for it.
	LockboxLegacy
)

func ParseLockboxPolicy(s string) (LockboxPolicy, error) {
	switch s {
	case "", "strict":
		return LockboxStrict, nil
	case "legacy":
		return LockboxLegacy, nil
	}
	return 0, fmt.Errorf("unknown lockbox policy %q", s)
}

type Token struct {
	Schema  int     `json:"schema"`
	ID      TokenID `json:"id"`
	User    UserID  `json:"user"`    // empty until bound
	Created int64   `json:"created"` // unix seconds
	Expire  int64   `json:"expire"`  // unix seconds
	KeyHash string  `json:"key"`     // sha256 of the lockbox secret, empty if none
	IP      string  `json:"ip,omitempty"`

	// Stored is set once the record exists in the document store.
	Stored bool `json:"-"`
}

func NewToken(id TokenID, now time.Time, ttl time.Duration) *Token {
	return &Token{
		Schema:  TokenSchema,
		ID:      id,
		Created: now.Unix(),
		Expire:  now.Add(ttl).Unix(),
	}
}

// DecodeToken reads a stored token record, filling defaults for fields that
// older schemas lack.
func DecodeToken(data []byte) (*Token, error) {
	t := &Token{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("unmarshalling token: %w", err)
	}
	t.Schema = TokenSchema
	t.Stored = true
	return t, nil
}

func (t *Token) Bound() bool {
	return t.User != ""
}

// Valid reports whether now falls inside [created, expire).
func (t *Token) Valid(now time.Time) bool {
	ts := now.Unix()
	return ts >= t.Created && ts < t.Expire
}

// Owner returns the bound user if the token is inside its validity window,
// without consulting the lockbox.
func (t *Token) Owner(now time.Time) UserID {
	if !t.Bound() || !t.Valid(now) {
		return ""
	}
	return t.User
}

// Resolve returns the bound user when the token is usable. The lockbox is
// checked when a secret is supplied or requireLockbox is set; a token without
// a lockbox never passes that check.
func (t *Token) Resolve(now time.Time, secret string, requireLockbox bool) (UserID, bool) {
	owner := t.Owner(now)
	if owner == "" {
		return "", false
	}
	if secret != "" || requireLockbox {
		if t.KeyHash == "" || !crypt.EqualHash(crypt.HashSecret(secret), t.KeyHash) {
			return "", false
		}
	}
	return owner, true
}

func (t *Token) ExpiresAt() time.Time {
	return time.Unix(t.Expire, 0).UTC()
}
