package restapi

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/flocker-cluster/flocker/pkg/model"
)

// APIError is the error envelope: {"description": ..., "errors"?: ...}.
// Adapted from evalgo-org-graphium's APIError/HTTPErrorHandler pattern,
// reshaped to this API's own field names.
type APIError struct {
	Code        int      `json:"-"`
	Description string   `json:"description"`
	Errors      []string `json:"errors,omitempty"`
}

func (e *APIError) Error() string { return e.Description }

func badRequest(description string, errs ...string) *APIError {
	return &APIError{Code: http.StatusBadRequest, Description: description, Errors: errs}
}

func notFound(description string) *APIError {
	return &APIError{Code: http.StatusNotFound, Description: description}
}

func conflict(description string) *APIError {
	return &APIError{Code: http.StatusConflict, Description: description}
}

func serviceUnavailable(description string) *APIError {
	return &APIError{Code: http.StatusServiceUnavailable, Description: description}
}

func internal(description string) *APIError {
	return &APIError{Code: http.StatusInternalServerError, Description: description}
}

// HTTPErrorHandler renders every handler error into the envelope shape,
// classifying model.Error by model.Kind the way the convergence loop
// already does, so a configstore KindConflict becomes a 409 rather than
// a generic 500.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	switch e := err.(type) {
	case *APIError:
		apiErr = e
	case *echo.HTTPError:
		apiErr = &APIError{Code: e.Code, Description: http.StatusText(e.Code)}
	default:
		apiErr = classifyModelError(err)
	}

	if jsonErr := c.JSON(apiErr.Code, apiErr); jsonErr != nil {
		c.Logger().Error(jsonErr)
	}
}

func classifyModelError(err error) *APIError {
	switch model.KindOf(err) {
	case model.KindSchemaMismatch:
		return badRequest(err.Error())
	case model.KindConflict:
		return conflict(err.Error())
	case model.KindBackendTransient, model.KindPeerUnavailable:
		return serviceUnavailable(err.Error())
	default:
		return internal(err.Error())
	}
}
