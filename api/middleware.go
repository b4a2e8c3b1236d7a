package api

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// GzipRequestMiddleware inflates gzip encoded request bodies. A body that is
// not valid gzip is rejected with 400, any other content coding with 415.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			gz, err := requestCoding(req.Header.Get(echo.HeaderContentEncoding))
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusUnsupportedMediaType, err.Error())
			}
			if !gz {
				return next(c)
			}
			gr, err := gzip.NewReader(req.Body)
			if err != nil {
				_ = req.Body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = &gzipBody{Reader: gr, raw: req.Body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

// requestCoding reports whether the body is gzip encoded. Only a single gzip
// layer or identity is accepted.
func requestCoding(header string) (bool, error) {
	gz := false
	for _, enc := range strings.Split(header, ",") {
		switch enc = strings.ToLower(strings.TrimSpace(enc)); enc {
		case "", "identity":
		case "gzip", "x-gzip":
			if gz {
				return false, errors.New("nested gzip encoding not supported")
			}
			gz = true
		default:
			return false, errors.New("unsupported content encoding " + enc)
		}
	}
	return gz, nil
}

type gzipBody struct {
	*gzip.Reader
	raw io.Closer
}

func (g *gzipBody) Close() error {
	return errors.Join(g.Reader.Close(), g.raw.Close())
}
