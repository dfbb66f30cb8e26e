package retries

import (
	"strings"
	"time"
)

// Status values for retry records. A record only ever moves out of StatusPending.
type Status string

const (
	StatusPending            Status = "pending"
	StatusCompleted          Status = "completed"
	StatusFailed             Status = "failed"
	StatusCompletedWithError Status = "completed_with_error"
)

// Terminal reports whether no further transitions can happen from s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCompletedWithError:
		return true
	default:
		return false
	}
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// ReplayHeader marks a request as a replay of the record whose id it carries.
// The capture middleware never captures requests that carry it.
const ReplayHeader = "X-Retry-Attempt"

// Record is a captured request waiting for (or done with) replay.
type Record struct {
	ID                int64               `json:"id"`
	Fingerprint       string              `json:"fingerprint,omitempty"` // empty means none
	Method            string              `json:"method"`
	URI               string              `json:"uri"`
	Headers           map[string][]string `json:"headers,omitempty"`
	Body              map[string]any      `json:"body,omitempty"`
	Files             FileTree            `json:"files,omitempty"`
	Tags              []string            `json:"tags,omitempty"`
	RetriesCount      int                 `json:"retries_count"`
	MaxRetries        int                 `json:"max_retries"`
	RetryDelaySeconds int                 `json:"retry_delay"`
	NextAttemptAt     *time.Time          `json:"next_attempt_at,omitempty"`
	Status            Status              `json:"status"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// RetryDelay returns the configured delay as a duration.
func (r *Record) RetryDelay() time.Duration {
	return time.Duration(r.RetryDelaySeconds) * time.Second
}

// Apply copies the non-nil fields of p onto r. Stores use it to keep
// in-memory copies consistent with what they persisted.
func (r *Record) Apply(p Patch, now time.Time) {
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.RetriesCount != nil {
		r.RetriesCount = *p.RetriesCount
	}
	if p.NextAttemptAt != nil {
		t := *p.NextAttemptAt
		r.NextAttemptAt = &t
	}
	r.UpdatedAt = now
}

// NormalizeTags trims, drops empties and removes duplicates while keeping order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
