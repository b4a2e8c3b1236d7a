package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

var (
	errMissingAuthorization = errors.New("missing authorization header")
	errBadAuthorization     = errors.New("bad auth header")
)

const bearerPrefix = "Bearer "

func bearerTokenFromHeader(header http.Header) (string, error) {
	values := header.Values(echo.HeaderAuthorization)
	if len(values) == 0 {
		return "", errMissingAuthorization
	}
	return bearerTokenFromString(values[0])
}

// bearerTokenFromString returns the compact JWT carried by a "Bearer" header.
func bearerTokenFromString(raw string) (string, error) {
	raw = strings.Trim(raw, " ")
	if raw == "" {
		return "", errMissingAuthorization
	}
	token, ok := strings.CutPrefix(raw, bearerPrefix)
	if !ok || token == "" {
		return "", errBadAuthorization
	}
	if strings.Count(token, ".") != 2 {
		return "", errBadAuthorization
	}
	return token, nil
}
