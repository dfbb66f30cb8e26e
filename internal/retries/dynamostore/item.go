package dynamostore

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// item is the DynamoDB shape of a retry record. JSON-shaped fields are kept as
// encoded strings so arbitrary request bodies survive without type mapping.
type item struct {
	ID            int64    `dynamodbav:"id"`
	Fingerprint   string   `dynamodbav:"fingerprint,omitempty"`
	Method        string   `dynamodbav:"method"`
	URI           string   `dynamodbav:"uri"`
	Headers       string   `dynamodbav:"headers,omitempty"`
	Body          string   `dynamodbav:"body,omitempty"`
	Files         string   `dynamodbav:"files,omitempty"`
	Tags          []string `dynamodbav:"tags"`
	RetriesCount  int      `dynamodbav:"retries_count"`
	MaxRetries    int      `dynamodbav:"max_retries"`
	RetryDelay    int      `dynamodbav:"retry_delay"`
	NextAttemptAt *int64   `dynamodbav:"next_attempt_at,omitempty"` // unix millis
	Status        string   `dynamodbav:"status"`
	CreatedAt     string   `dynamodbav:"created_at"`
	UpdatedAt     string   `dynamodbav:"updated_at"`
}

func toItem(r *retries.Record) (*item, error) {
	it := &item{
		ID:           r.ID,
		Fingerprint:  r.Fingerprint,
		Method:       r.Method,
		URI:          r.URI,
		Tags:         r.Tags,
		RetriesCount: r.RetriesCount,
		MaxRetries:   r.MaxRetries,
		RetryDelay:   r.RetryDelaySeconds,
		Status:       string(r.Status),
		CreatedAt:    r.CreatedAt.UTC().Format(time.RFC3339Nano),
		UpdatedAt:    r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if it.Tags == nil {
		it.Tags = []string{}
	}
	if r.NextAttemptAt != nil {
		ms := r.NextAttemptAt.UnixMilli()
		it.NextAttemptAt = &ms
	}

	var err error
	if it.Headers, err = encode(r.Headers, len(r.Headers) > 0); err != nil {
		return nil, fmt.Errorf("encode headers: %w", err)
	}
	if it.Body, err = encode(r.Body, len(r.Body) > 0); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	if it.Files, err = encode(r.Files, len(r.Files) > 0); err != nil {
		return nil, fmt.Errorf("encode files: %w", err)
	}
	return it, nil
}

func (it *item) record() (retries.Record, error) {
	r := retries.Record{
		ID:                it.ID,
		Fingerprint:       it.Fingerprint,
		Method:            it.Method,
		URI:               it.URI,
		Tags:              it.Tags,
		RetriesCount:      it.RetriesCount,
		MaxRetries:        it.MaxRetries,
		RetryDelaySeconds: it.RetryDelay,
		Status:            retries.Status(it.Status),
	}
	if it.NextAttemptAt != nil {
		t := time.UnixMilli(*it.NextAttemptAt).UTC()
		r.NextAttemptAt = &t
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, it.CreatedAt)
	r.UpdatedAt, _ = time.Parse(time.RFC3339Nano, it.UpdatedAt)

	if it.Headers != "" {
		if err := json.Unmarshal([]byte(it.Headers), &r.Headers); err != nil {
			return r, fmt.Errorf("decode headers: %w", err)
		}
	}
	if it.Body != "" {
		body, err := retries.DecodeParams([]byte(it.Body))
		if err != nil {
			return r, fmt.Errorf("decode body: %w", err)
		}
		r.Body = body
	}
	if it.Files != "" {
		if err := json.Unmarshal([]byte(it.Files), &r.Files); err != nil {
			return r, fmt.Errorf("decode files: %w", err)
		}
	}
	return r, nil
}

func encode(v any, present bool) (string, error) {
	if !present {
		return "", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
