package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/tokensweep/tokensweep/credential"
)

// PipelineError wraps errors that occur during pipeline execution
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline failed at stage %q: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// ValidationError indicates invalid job parameters
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field %q: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// SearchError indicates the search stage could not finish
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search error: %v", e.Err)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// ErrorResponse maps an error to an HTTP status code and response body
func ErrorResponse(err error) (int, map[string]any) {
	var validationErr *ValidationError
	var searchErr *SearchError
	var pipelineErr *PipelineError

	// Check for pipeline error first and unwrap
	if errors.As(err, &pipelineErr) {
		err = pipelineErr.Err
	}

	switch {
	case errors.As(err, &validationErr):
		return http.StatusBadRequest, map[string]any{
			"error": map[string]string{
				"message": validationErr.Message,
				"type":    "validation_error",
				"field":   validationErr.Field,
			},
		}

	case errors.Is(err, credential.ErrExhausted):
		return http.StatusServiceUnavailable, map[string]any{
			"error": map[string]string{
				"message": "no credentials available",
				"type":    "credentials_exhausted",
			},
		}

	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, map[string]any{
			"error": map[string]string{
				"message": "search cancelled",
				"type":    "cancelled",
			},
		}

	case errors.As(err, &searchErr):
		return http.StatusBadGateway, map[string]any{
			"error": map[string]string{
				"message": searchErr.Err.Error(),
				"type":    "search_error",
			},
		}

	default:
		return http.StatusInternalServerError, map[string]any{
			"error": map[string]string{
				"message": "internal server error",
				"type":    "api_error",
			},
		}
	}
}
