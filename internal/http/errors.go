package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/repolens/internal/fetcher"
	"github.com/fyrsmithlabs/repolens/internal/github"
	"github.com/fyrsmithlabs/repolens/internal/indexer"
	"github.com/fyrsmithlabs/repolens/internal/repository"
	"github.com/fyrsmithlabs/repolens/internal/retrieval"
)

// ErrorResponse is the body of every error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// statusFor maps an error returned by a handler to an HTTP status code.
func statusFor(err error) int {
	var (
		httpErr  *echo.HTTPError
		queryErr *retrieval.ValidationError
		indexErr *indexer.ValidationError
		urlErr   *fetcher.ValidationError
		conflict *indexer.ConflictError
		cloneErr *fetcher.CloneError
	)
	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code
	case errors.As(err, &queryErr), errors.As(err, &indexErr), errors.As(err, &urlErr):
		return http.StatusBadRequest
	case errors.As(err, &conflict), errors.Is(err, repository.ErrIndexingInProgress),
		errors.Is(err, repository.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, github.ErrRepositoryNotFound):
		return http.StatusNotFound
	case errors.As(err, &cloneErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// handleError writes handler errors as JSON. Server errors are logged and
// their detail is not returned to the client.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := statusFor(err)
	msg := err.Error()
	var httpErr *echo.HTTPError
	if errors.As(err, &httpErr) {
		if m, ok := httpErr.Message.(string); ok {
			msg = m
		} else {
			msg = http.StatusText(status)
		}
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "request failed",
			zap.String("method", c.Request().Method),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
		msg = http.StatusText(status)
	}

	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(status)
		return
	}
	if werr := c.JSON(status, ErrorResponse{Error: msg}); werr != nil {
		s.logger.Warn(c.Request().Context(), "failed to write error response", zap.Error(werr))
	}
}
