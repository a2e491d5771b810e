// Package conflict defines the hook invoked when a queued request fails
// because the remote state diverged. The core supplies mechanism only; what
// a conflict means for the data is the caller's business rule.
package conflict

import (
	"context"

	"goflare.io/satchel/pkg/model"
)

// Info describes the divergence reported by the transport.
type Info struct {
	StatusCode int
	RemoteETag string
	RemoteBody []byte
	Message    string
}

// Decision is the hook's verdict. It is authoritative; the core does not
// second-guess it.
type Decision int

const (
	// DecisionRetry re-queues the request, optionally with a new body.
	DecisionRetry Decision = iota
	// DecisionAbandon dead-letters the request.
	DecisionAbandon
	// DecisionReplace treats the request as completed with the supplied result.
	DecisionReplace
)

func (d Decision) String() string {
	switch d {
	case DecisionRetry:
		return "retry"
	case DecisionAbandon:
		return "abandon"
	case DecisionReplace:
		return "replace"
	default:
		return "unknown"
	}
}

// Resolution carries the decision and its payloads.
type Resolution struct {
	Decision Decision
	// NewBody replaces the request body when Decision is DecisionRetry and
	// NewBody is non-nil.
	NewBody []byte
	// Result is the completed result when Decision is DecisionReplace.
	Result []byte
}

// RetryWithBody builds a retry resolution with a modified body.
func RetryWithBody(body []byte) Resolution {
	return Resolution{Decision: DecisionRetry, NewBody: body}
}

// Abandon builds an abandon resolution.
func Abandon() Resolution {
	return Resolution{Decision: DecisionAbandon}
}

// ReplaceAndComplete builds a replace resolution.
func ReplaceAndComplete(result []byte) Resolution {
	return Resolution{Decision: DecisionReplace, Result: result}
}

// Resolver decides what to do with a conflicted request.
type Resolver interface {
	Resolve(ctx context.Context, req model.OfflineRequest, info Info) (Resolution, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, req model.OfflineRequest, info Info) (Resolution, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, req model.OfflineRequest, info Info) (Resolution, error) {
	return f(ctx, req, info)
}
