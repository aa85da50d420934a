package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/aretw0/notesync/pkg/core"
)

// APIError is the JSON body of every failed request.
type APIError struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
	Status  int                 `json:"-"`
}

func (a *APIError) Code() int {
	return a.Status
}

var (
	malformedBodyError = &APIError{Status: http.StatusBadRequest, Message: "Malformed JSON body"}
	missingParamError  = &APIError{Status: http.StatusBadRequest, Message: "Missing query parameter 'username'"}
)

// fromError maps a backend error to its HTTP form.
func fromError(err error) *APIError {
	switch {
	case errors.Is(err, core.ErrNotFound):
		return &APIError{Status: http.StatusNotFound, Message: "Resource not found"}
	case errors.Is(err, core.ErrConflict):
		return &APIError{Status: http.StatusConflict, Message: "Resource already exists"}
	case core.IsTransient(err), errors.Is(err, context.Canceled):
		return &APIError{Status: http.StatusServiceUnavailable, Message: "Backend unavailable"}
	default:
		return &APIError{Status: http.StatusInternalServerError, Message: "Internal server error"}
	}
}

// fromValidationError returns nil if err does not come from the validator.
func fromValidationError(err error) *APIError {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return nil
	}

	problems := map[string][]string{}
	for _, fe := range ve {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			problems[field] = append(problems[field], "This field is required")
		case "min":
			problems[field] = append(problems[field], "Value is too short, min: "+fe.Param())
		case "max":
			problems[field] = append(problems[field], "Value is too long, max: "+fe.Param())
		default:
			problems[field] = append(problems[field], "Invalid value provided")
		}
	}

	return &APIError{
		Status:  http.StatusBadRequest,
		Message: "Validation failed",
		Errors:  problems,
	}
}
