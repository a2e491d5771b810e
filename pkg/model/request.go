package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders queued requests during a drain. Higher drains first.
type Priority int8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	default:
		return fmt.Sprintf("priority(%d)", int8(p))
	}
}

// ParsePriority converts a configuration string to a Priority.
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "low":
		return PriorityLow, nil
	case "normal", "":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	default:
		return PriorityNormal, fmt.Errorf("unknown priority: %q", s)
	}
}

// MarshalJSON stores priorities by name so persisted queues stay readable.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// OfflineRequest is a mutating operation captured while disconnected.
// The queue owns instances exclusively until they are drained; callers
// receive copies.
type OfflineRequest struct {
	ID            string            `json:"id"`
	Method        string            `json:"method"`
	URL           string            `json:"url"`
	Headers       map[string]string `json:"headers,omitempty"`
	Body          []byte            `json:"body,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	RetryCount    int               `json:"retry_count"`
	LastAttemptAt *time.Time        `json:"last_attempt_at,omitempty"`
	Priority      Priority          `json:"priority"`
	LastError     string            `json:"last_error,omitempty"`
	Metadata      map[string]any    `json:"metadata,omitempty"`
}

// Validate checks the request invariants: lastAttemptAt is set iff the
// request has failed at least once.
func (r *OfflineRequest) Validate() error {
	if r.Method == "" || r.URL == "" {
		return ErrInvalidRequest
	}
	if r.RetryCount < 0 {
		return ErrInvalidRequest
	}
	if (r.RetryCount > 0) != (r.LastAttemptAt != nil) {
		return ErrInvalidRequest
	}
	return nil
}

// Clone returns a deep copy.
func (r *OfflineRequest) Clone() OfflineRequest {
	out := *r
	if r.LastAttemptAt != nil {
		t := *r.LastAttemptAt
		out.LastAttemptAt = &t
	}
	if r.Headers != nil {
		out.Headers = make(map[string]string, len(r.Headers))
		for k, v := range r.Headers {
			out.Headers[k] = v
		}
	}
	if r.Body != nil {
		out.Body = make([]byte, len(r.Body))
		copy(out.Body, r.Body)
	}
	if r.Metadata != nil {
		out.Metadata = make(map[string]any, len(r.Metadata))
		for k, v := range r.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}

// DeadRequest is the terminal record kept when a request exhausts its
// attempts or is abandoned by the conflict hook. Retained for diagnostics
// instead of being deleted outright.
type DeadRequest struct {
	Request     OfflineRequest `json:"request"`
	AbandonedAt time.Time      `json:"abandoned_at"`
	Reason      string         `json:"reason"`
}
