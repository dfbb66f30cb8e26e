package retries

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a record id does not exist.
	ErrNotFound = errors.New("retry record not found")
	// ErrStatusMismatch is returned when Patch.ExpectStatus does not match the stored status.
	ErrStatusMismatch = errors.New("status mismatch/conditional failed")
)

// StorageError reports a backend failure during a store operation.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("retry store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Patch is a partial update. Nil fields are left untouched.
type Patch struct {
	Status        *Status
	RetriesCount  *int
	NextAttemptAt *time.Time
	// ExpectStatus, when set, makes the update conditional on the current status.
	ExpectStatus *Status
}

// ListOptions controls admin listings.
type ListOptions struct {
	Status Status // empty means any
	Limit  int    // zero means no limit
	Offset int
}

// Store is the persistence contract for retry records.
type Store interface {
	// Insert persists rec, assigns rec.ID and returns it.
	Insert(ctx context.Context, rec *Record) (int64, error)

	// FindPendingByFingerprint returns the pending record with fp, or (nil, nil).
	FindPendingByFingerprint(ctx context.Context, fp string) (*Record, error)

	// QueryDue returns pending records that are due and match f, in ascending id order.
	QueryDue(ctx context.Context, f Filter) ([]Record, error)

	// Get returns a record by id or ErrNotFound.
	Get(ctx context.Context, id int64) (*Record, error)

	// List returns records for inspection, newest first.
	List(ctx context.Context, opts ListOptions) ([]Record, error)

	// Update applies p atomically. Returns ErrNotFound or ErrStatusMismatch.
	Update(ctx context.Context, id int64, p Patch) error
}

// StatusPtr, IntPtr and TimePtr build Patch fields.
func StatusPtr(s Status) *Status { return &s }

func IntPtr(n int) *int { return &n }

func TimePtr(t time.Time) *time.Time { return &t }
