package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"nfcom/internal/notifier"
	"nfcom/internal/scheduler"
	"nfcom/internal/store"
)

// APIError is the JSON body of every error response.
type APIError struct {
	Message string `json:"message"`
	Status  int    `json:"-"`
}

func (a *APIError) Error() string {
	return a.Message
}

func (a *APIError) Code() int {
	return a.Status
}

func newError(status int, msg string) *APIError {
	return &APIError{Status: status, Message: msg}
}

var (
	malformedJSONError  = newError(http.StatusBadRequest, "Malformed JSON body")
	internalServerError = newError(http.StatusInternalServerError, "Internal server error")
	notFoundError       = newError(http.StatusNotFound, "Resource not found")
)

// fail maps domain errors to a response. Unknown errors are logged and hidden.
func (s *Server) fail(c echo.Context, err error) error {
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.Is(err, store.ErrNotFound):
		apiErr = notFoundError
	case errors.Is(err, notifier.ErrNoDocuments), errors.Is(err, scheduler.ErrNotRetryable):
		apiErr = newError(http.StatusBadRequest, err.Error())
	default:
		s.log.Error().
			Err(err).
			Str("request_id", requestID(c)).
			Str("path", c.Path()).
			Msg("Request failed")
		apiErr = internalServerError
	}
	return c.JSON(apiErr.Code(), apiErr)
}
