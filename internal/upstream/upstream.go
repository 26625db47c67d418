// Package upstream defines the chat-completion capability the relay depends
// on. Providers implement Completer; the relay only ever sees this interface.
package upstream

import (
	"context"
	"errors"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrUpstream marks any failure of the upstream completion call.
	ErrUpstream = errors.New("upstream: completion failed")
	// ErrNoChoices is returned when the provider answers without a completion.
	ErrNoChoices = errors.New("upstream: response contained no choices")
	// ErrMissingCredential is returned when a provider has no API key.
	ErrMissingCredential = errors.New("upstream: missing credential")
)

// Message is a single role/content pair sent to the provider.
type Message struct {
	Role    string
	Content string
}

// Completer turns a list of messages into the text of the first completion.
type Completer interface {
	Complete(ctx context.Context, messages []Message) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, messages []Message) (string, error)

// Complete calls f.
func (f CompleterFunc) Complete(ctx context.Context, messages []Message) (string, error) {
	return f(ctx, messages)
}

// Error wraps a provider failure. errors.Is(err, ErrUpstream) holds for every
// *Error while the original cause stays reachable through Unwrap.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Op + ": " + ErrUpstream.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrUpstream.
func (e *Error) Is(target error) bool { return target == ErrUpstream }

// Wrap returns err as an *Error for op. A nil err stays nil and an existing
// *Error is returned unchanged.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var ue *Error
	if errors.As(err, &ue) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// UserPrompt builds the single-message exchange the relay sends.
func UserPrompt(prompt string) []Message {
	return []Message{{Role: RoleUser, Content: prompt}}
}
