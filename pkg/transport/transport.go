// Package transport defines the executor boundary between the offline data
// layer and the network. The core never speaks a wire protocol itself; it
// hands requests to an Executor and classifies the outcome.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Request is a network operation to execute.
type Request struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// Response is a successful execution result.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// ETag returns the response validator, if any.
func (r *Response) ETag() string {
	if r == nil {
		return ""
	}
	return r.Headers["ETag"]
}

// ErrorKind classifies execution failures. The sync coordinator's behavior
// depends only on the kind, never on transport-specific details.
type ErrorKind int

const (
	// KindNetwork is a connection-level failure; retryable.
	KindNetwork ErrorKind = iota
	// KindTimeout is a deadline expiry; retryable.
	KindTimeout
	// KindServer is a 5xx-class remote fault; retryable.
	KindServer
	// KindConflict means the remote state diverged; resolved by the
	// conflict hook, not by retrying blindly.
	KindConflict
	// KindClient is a non-retryable caller error.
	KindClient
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindServer:
		return "server"
	case KindConflict:
		return "conflict"
	case KindClient:
		return "client"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Retryable reports whether a failure of this kind may succeed on a later
// attempt.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindNetwork, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// Error is a classified execution failure.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transport %s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with a classification.
func NewError(kind ErrorKind, statusCode int, err error) *Error {
	return &Error{Kind: kind, StatusCode: statusCode, Err: err}
}

// KindOf extracts the classification from err. Unclassified errors are
// treated by how they present: deadline expiry is a timeout, everything else
// a network fault, so unknown failures stay retryable rather than being
// dead-lettered by guesswork.
func KindOf(err error) ErrorKind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindNetwork
}

// Executor attempts a request over the network. Implementations must honor
// ctx cancellation and deadlines.
type Executor interface {
	Execute(ctx context.Context, req Request) (*Response, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (*Response, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (*Response, error) {
	return f(ctx, req)
}
