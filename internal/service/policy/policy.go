// Package policy hosts the optional rails engine consulted between the
// lexical filter and direct model invocation.
package policy

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned by every call on an engine that failed to start.
	ErrUnavailable = errors.New("policy: engine unavailable")
	// ErrNotConfigured marks an engine left out by configuration.
	ErrNotConfigured = errors.New("policy: engine not configured")
	// ErrEmptyResponse means the engine produced no usable content.
	ErrEmptyResponse = errors.New("policy: engine returned empty response")
	// ErrOutputRejected means an output rail refused the generated reply.
	ErrOutputRejected = errors.New("policy: output rail rejected reply")
	// ErrNoTurns is returned when there is nothing to respond to.
	ErrNoTurns = errors.New("policy: no conversation turns")
)

// Role values of a Turn.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one normalized conversation entry handed to the engine.
type Turn struct {
	Role    string
	Content string
}

// Generator is the policy capability. Implementations are immutable after
// construction and safe for concurrent use.
type Generator interface {
	// Available reports whether TryGenerate can be attempted at all.
	Available() bool
	// TryGenerate produces a reply for the conversation whose last turn is
	// the user's.
	TryGenerate(ctx context.Context, turns []Turn) (string, error)
}

// Unavailable is the Generator left in place when the engine could not be
// initialised. It stays unavailable for the process lifetime.
type Unavailable struct {
	Reason error
}

// Available always reports false.
func (Unavailable) Available() bool { return false }

// TryGenerate always fails with ErrUnavailable.
func (u Unavailable) TryGenerate(context.Context, []Turn) (string, error) {
	if u.Reason == nil {
		return "", ErrUnavailable
	}
	return "", fmt.Errorf("%w: %v", ErrUnavailable, u.Reason)
}
