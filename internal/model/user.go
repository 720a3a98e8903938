package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type UserID string

// UserSchema is the current user record version.
const UserSchema = 2

const (
	DefaultDisplayName = "New User"
	DefaultImageType   = "gravatar"
)

// User is the account aggregate. Password holds a PHC hash, empty until a
// password is set.
type User struct {
	Schema    int       `json:"schema"`
	ID        UserID    `json:"id"`
	Handle    string    `json:"handle"`
	Display   string    `json:"display"`
	Pronouns  string    `json:"pronouns"`
	Password  string    `json:"password"`
	Tokens    []TokenID `json:"tokens"`
	Email     string    `json:"email"`
	Created   int64     `json:"created"`
	LoginWait int64     `json:"login_wait"`
	Verified  *int64    `json:"verified"`
	ImageType string    `json:"image_type"`
	Image     string    `json:"image"`
	Roles     []Role    `json:"roles"`
	SAK       string    `json:"sak"`
}

func NewUser(id UserID, now time.Time, sak string) *User {
	return &User{
		Schema:    UserSchema,
		ID:        id,
		Display:   DefaultDisplayName,
		Tokens:    []TokenID{},
		Created:   now.Unix(),
		ImageType: DefaultImageType,
		Roles:     []Role{},
		SAK:       sak,
	}
}

func DecodeUser(data []byte) (*User, error) {
	u := &User{}
	if err := json.Unmarshal(data, u); err != nil {
		return nil, fmt.Errorf("unmarshalling user: %w", err)
	}
	if u.Schema < 2 {
		if u.Display == "" {
			u.Display = DefaultDisplayName
		}
		if u.ImageType == "" {
			u.ImageType = DefaultImageType
		}
	}
	if u.Tokens == nil {
		u.Tokens = []TokenID{}
	}
	if u.Roles == nil {
		u.Roles = []Role{}
	}
	u.Schema = UserSchema
	return u, nil
}

func (u *User) HasPassword() bool {
	return u.Password != ""
}

func (u *User) HasRole(role Role) bool {
	return HasRole(u.Roles, role)
}

func (u *User) RoleCount() int {
	return len(u.Roles)
}

func (u *User) RoleScore() int {
	return RoleScore(u.Roles)
}

func (u *User) IsAdmin() bool {
	return IsAdmin(u.Roles)
}

func (u *User) IsModerator() bool {
	return IsModerator(u.Roles)
}

// RateLimited reports whether a login attempt at now falls inside the cool-down.
func (u *User) RateLimited(now time.Time) bool {
	return u.LoginWait > now.Unix()
}

// Profile is the public view of a user, safe to return to clients.
type Profile struct {
	ID        UserID `json:"id" yaml:"id"`
	Handle    string `json:"handle" yaml:"handle"`
	Display   string `json:"display" yaml:"display"`
	Pronouns  string `json:"pronouns,omitempty" yaml:"pronouns,omitempty"`
	Email     string `json:"email,omitempty" yaml:"email,omitempty"`
	Created   int64  `json:"created" yaml:"created"`
	Verified  *int64 `json:"verified,omitempty" yaml:"verified,omitempty"`
	ImageType string `json:"image_type" yaml:"image_type"`
	Image     string `json:"image,omitempty" yaml:"image,omitempty"`
	Roles     []Role `json:"roles" yaml:"roles"`
}

func (u *User) Profile() *Profile {
	roles := make([]Role, len(u.Roles))
	copy(roles, u.Roles)
	return &Profile{
		ID:        u.ID,
		Handle:    u.Handle,
		Display:   u.Display,
		Pronouns:  u.Pronouns,
		Email:     u.Email,
		Created:   u.Created,
		Verified:  u.Verified,
		ImageType: u.ImageType,
		Image:     u.Image,
		Roles:     roles,
	}
}
