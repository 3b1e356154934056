// Package llm defines the language-model collaborator used to turn questions
// into analysis snippets.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrModelService matches every failure reported by a model client.
var ErrModelService = errors.New("model service error")

// Client completes a single system + user prompt exchange.
type Client interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// ClientFunc adapts a function to the Client interface.
type ClientFunc func(ctx context.Context, system, user string) (string, error)

// Complete calls f.
func (f ClientFunc) Complete(ctx context.Context, system, user string) (string, error) {
	return f(ctx, system, user)
}

// ServiceError describes a failed model call.
type ServiceError struct {
	// StatusCode is the HTTP status returned by the service, 0 when the
	// request never got a response.
	StatusCode int
	Message    string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (status %d)", e.Message, e.StatusCode)
	}
	return e.Message
}

// Unwrap exposes ErrModelService and the underlying cause.
func (e *ServiceError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrModelService}
	}
	return []error{ErrModelService, e.Err}
}
