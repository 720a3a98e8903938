package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"uk.co.dudmesh.gatehouse/internal/notify"
)

type KeySet interface {
	JWKS() (*notify.JWKS, error)
}

// JWKS publishes the webhook signing key. Without a signer the set is empty.
func JWKS(keys KeySet) echo.HandlerFunc {
	return func(c echo.Context) error {
		if keys == nil {
			return c.JSON(http.StatusOK, &notify.JWKS{Keys: []json.RawMessage{}})
		}
		jwks, err := keys.JWKS()
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, jwks)
	}
}

func Health() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
