package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"

	"uk.co.dudmesh.gatehouse/internal/model"
	"uk.co.dudmesh.gatehouse/internal/service/auth"
)

const (
	CookieToken = "token"
	CookieKey   = "key"

	contextUser = "user"
)

type AuthService interface {
	Login(handle string, password string, remoteAddr string) (*auth.LoginResult, error)
	Register(email string, handle string) (*auth.RegisterResult, error)
	Logout(id model.TokenID) error
	CurrentUser(id model.TokenID, key string) (*model.User, error)
	LogoutAll(u *model.User, sak string) (int, error)
}

type CookieConfig struct {
	Secure bool
	TTL    time.Duration
}

type loginParams struct {
	Handle   string `json:"handle" form:"handle"`
	Password string `json:"password" form:"password"`
}

type registerParams struct {
	Email  string `json:"email" form:"email"`
	Handle string `json:"handle" form:"handle"`
}

type actionParams struct {
	SAK string `json:"sak" form:"sak"`
}

func Login(authService AuthService, cookies CookieConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &loginParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		result, err := authService.Login(strings.TrimSpace(params.Handle), params.Password, c.RealIP())
		if err != nil {
			return failure(c, err)
		}

		setSession(c, cookies, string(result.Token), result.Key)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "success",
			"message":   auth.MessageLoggedIn,
			"user_id":   result.UserID,
			"token":     result.Token,
			"token_key": result.Key,
			"expires":   result.Expires.Unix(),
		})
	}
}

func Register(authService AuthService) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &registerParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		result, err := authService.Register(strings.TrimSpace(params.Email), strings.TrimSpace(params.Handle))
		if err != nil {
			return failure(c, err)
		}
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":   "success",
			"message":  auth.MessageRegistered,
			"handle":   result.Handle,
			"password": result.Password,
			"id":       result.ID,
		})
	}
}

func Logout(authService AuthService, cookies CookieConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		token, _ := sessionCredentials(c)
		if err := authService.Logout(model.TokenID(token)); err != nil {
			return failure(c, err)
		}
		clearSession(c, cookies)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "success",
			"message": auth.MessageLoggedOut,
		})
	}
}

func LogoutAll(authService AuthService, cookies CookieConfig) echo.HandlerFunc {
	return func(c echo.Context) error {
		params := &actionParams{}
		if err := c.Bind(params); err != nil {
			return err
		}
		n, err := authService.LogoutAll(CurrentUser(c), params.SAK)
		if err != nil {
			return failure(c, err)
		}
		clearSession(c, cookies)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "success",
			"message": auth.MessageSignedOutAll,
			"revoked": n,
		})
	}
}

func Me() echo.HandlerFunc {
	return func(c echo.Context) error {
		u := CurrentUser(c)
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":    "success",
			"user":      u.Profile(),
			"sak":       u.SAK,
			"moderator": u.IsModerator(),
			"admin":     u.IsAdmin(),
		})
	}
}

// Session rejects requests without a valid session and makes the user
// available through CurrentUser.
func Session(authService AuthService) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, key := sessionCredentials(c)
			u, err := authService.CurrentUser(model.TokenID(token), key)
			if err != nil {
				return failure(c, err)
			}
			c.Set(contextUser, u)
			return next(c)
		}
	}
}

func CurrentUser(c echo.Context) *model.User {
	u, _ := c.Get(contextUser).(*model.User)
	return u
}

// sessionCredentials reads the token and lockbox key from the session
// cookies, falling back to "Authorization: Bearer <token>.<key>".
func sessionCredentials(c echo.Context) (string, string) {
	var token, key string
	if cookie, err := c.Cookie(CookieToken); err == nil {
		token = cookie.Value
	}
	if cookie, err := c.Cookie(CookieKey); err == nil {
		key = cookie.Value
	}
	if token != "" {
		return token, key
	}

	header := c.Request().Header.Get(echo.HeaderAuthorization)
	if bearer := strings.TrimPrefix(header, "Bearer "); bearer != header {
		parts := strings.SplitN(bearer, ".", 2)
		if len(parts) == 2 {
			return parts[0], parts[1]
		}
		return parts[0], ""
	}
	return "", ""
}

func setSession(c echo.Context, cookies CookieConfig, token string, key string) {
	expires := time.Now().Add(cookies.TTL)
	for name, value := range map[string]string{CookieToken: token, CookieKey: key} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    value,
			Path:     "/",
			Expires:  expires,
			MaxAge:   int(cookies.TTL.Seconds()),
			HttpOnly: true,
			Secure:   cookies.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func clearSession(c echo.Context, cookies CookieConfig) {
	for _, name := range []string{CookieToken, CookieKey} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Expires:  time.Unix(0, 0),
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   cookies.Secure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

var statusByReason = map[auth.Reason]int{
	auth.ReasonInvalidCredentials: http.StatusUnauthorized,
	auth.ReasonNotAllowed:         http.StatusForbidden,
	auth.ReasonInvalidHandle:      http.StatusBadRequest,
	auth.ReasonInvalidInput:       http.StatusBadRequest,
	auth.ReasonAlreadyExists:      http.StatusConflict,
	auth.ReasonInternal:           http.StatusInternalServerError,
}

func failure(c echo.Context, err error) error {
	var f *auth.Failure
	if !errors.As(err, &f) {
		log.Errorf("unexpected error: %+v", err)
		f = &auth.Failure{Reason: auth.ReasonInternal, Message: auth.MessageInternal}
	}
	status, ok := statusByReason[f.Reason]
	if !ok {
		status = http.StatusInternalServerError
	}
	return c.JSON(status, map[string]interface{}{
		"status":  "error",
		"reason":  f.Reason,
		"message": f.Message,
	})
}
