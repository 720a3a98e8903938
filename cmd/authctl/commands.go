package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"uk.co.dudmesh.gatehouse/internal/boot"
	"uk.co.dudmesh.gatehouse/internal/docstore"
	"uk.co.dudmesh.gatehouse/internal/model"
	"uk.co.dudmesh.gatehouse/internal/service/token"
	"uk.co.dudmesh.gatehouse/internal/service/user"
	"uk.co.dudmesh.gatehouse/internal/siteconfig"
)

var errUsage = errors.New("usage")

type UserService interface {
	Load(id model.UserID) (*model.User, error)
	LookupHandle(handle string) (model.UserID, error)
	List() ([]*model.User, error)
	AddRole(u *model.User, role model.Role) error
	RemoveRole(u *model.User, role model.Role) error
	ResetPassword(u *model.User) (string, error)
	RevokeAllTokens(u *model.User) (int, []string, error)
	Delete(u *model.User) error
}

type TokenService interface {
	PurgeExpired() (int, error)
}

type cli struct {
	settings *siteconfig.Settings
	users    UserService
	tokens   TokenService
	out      io.Writer
}

func newCLI(docs docstore.Store, config *boot.Config, out io.Writer) *cli {
	tokens := token.New(docs,
		token.WithTTL(config.Auth.TokenTTL),
		token.WithLockboxPolicy(config.LockboxPolicy()),
	)
	return &cli{
		settings: siteconfig.New(docs),
		users:    user.New(docs, tokens),
		tokens:   tokens,
		out:      out,
	}
}

func (c *cli) run(command string, args []string) error {
	switch command {
	case "get-config":
		if len(args) != 1 {
			return errUsage
		}
		return c.getConfig(args[0])
	case "set-config":
		if len(args) < 2 {
			return errUsage
		}
		return c.setConfig(args[0], args[1], args[2:])
	case "reset-password":
		if len(args) != 1 {
			return errUsage
		}
		return c.resetPassword(args[0])
	case "grant", "revoke":
		if len(args) != 2 {
			return errUsage
		}
		return c.changeRole(command == "grant", args[0], args[1])
	case "revoke-tokens":
		if len(args) != 1 {
			return errUsage
		}
		return c.revokeTokens(args[0])
	case "delete-user":
		if len(args) != 1 {
			return errUsage
		}
		return c.deleteUser(args[0])
	case "purge-tokens":
		return c.purgeTokens()
	case "export-users":
		return c.exportUsers(args)
	}
	return errUsage
}

func (c *cli) getConfig(key string) error {
	value, err := c.settings.Get(key, nil)
	if err != nil {
		return err
	}
	if value == nil {
		return fmt.Errorf("setting %s is not set", key)
	}
	fmt.Fprintln(c.out, value)
	return nil
}

// setConfig stores value as a yaml scalar, so "false" is saved as a boolean
// and anything that is not valid yaml as a plain string.
func (c *cli) setConfig(key string, raw string, allowedRaw []string) error {
	allowed := make([]interface{}, 0, len(allowedRaw))
	for _, a := range allowedRaw {
		allowed = append(allowed, scalar(a))
	}
	if err := c.settings.Set(key, scalar(raw), allowed...); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s updated\n", key)
	return nil
}

func scalar(raw string) interface{} {
	var value interface{}
	if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
		return raw
	}
	switch value.(type) {
	case bool, string, int, float64:
		return value
	}
	return raw
}

func (c *cli) lookup(handle string) (*model.User, error) {
	id, err := c.users.LookupHandle(handle)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", handle, err)
	}
	return c.users.Load(id)
}

func (c *cli) resetPassword(handle string) error {
	u, err := c.lookup(handle)
	if err != nil {
		return err
	}
	password, err := c.users.ResetPassword(u)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "new password for %s: %s\n", u.Handle, password)
	return nil
}

func (c *cli) changeRole(grant bool, handle string, name string) error {
	role, err := model.ParseRole(name)
	if err != nil {
		return err
	}
	u, err := c.lookup(handle)
	if err != nil {
		return err
	}
	if grant {
		err = c.users.AddRole(u, role)
	} else {
		err = c.users.RemoveRole(u, role)
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%s roles: %v\n", u.Handle, u.Roles)
	return nil
}

func (c *cli) revokeTokens(handle string) error {
	u, err := c.lookup(handle)
	if err != nil {
		return err
	}
	count, addrs, err := c.users.RevokeAllTokens(u)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "revoked %d tokens for %s\n", count, u.Handle)
	for _, addr := range addrs {
		fmt.Fprintf(c.out, "  %s\n", addr)
	}
	return nil
}

func (c *cli) deleteUser(handle string) error {
	u, err := c.lookup(handle)
	if err != nil {
		return err
	}
	if err := c.users.Delete(u); err != nil {
		return err
	}
	fmt.Fprintf(c.out, "deleted %s\n", u.Handle)
	return nil
}

func (c *cli) purgeTokens() error {
	n, err := c.tokens.PurgeExpired()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "purged %d expired tokens\n", n)
	return nil
}

func (c *cli) exportUsers(args []string) error {
	flags := flag.NewFlagSet("export-users", flag.ContinueOnError)
	flags.SetOutput(io.Discard)
	output := flags.String("o", "", "write to FILE instead of stdout")
	if err := flags.Parse(args); err != nil {
		return errUsage
	}

	users, err := c.users.List()
	if err != nil {
		return err
	}
	profiles := make([]*model.Profile, 0, len(users))
	for _, u := range users {
		profiles = append(profiles, u.Profile())
	}

	out := c.out
	if *output != "" {
		f, err := os.OpenFile(*output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
		if err != nil {
			return fmt.Errorf("creating export file: %w", err)
		}
		defer f.Close()
		out = f
	}

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(map[string]interface{}{"users": profiles}); err != nil {
		return fmt.Errorf("encoding users: %w", err)
	}
	return enc.Close()
}
