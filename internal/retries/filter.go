package retries

import (
	"slices"
	"time"
)

// Filter narrows a due-record query. Zero-valued fields do not restrict; set fields are ANDed.
type Filter struct {
	IDs         []int64
	Tag         string
	Fingerprint string
}

// Predicate is a single condition over a record.
type Predicate func(Record) bool

// IsPending matches records that have not reached a terminal status.
func IsPending(r Record) bool {
	return r.Status == StatusPending
}

// IsDue matches records whose next attempt is unset or not after now.
func IsDue(now time.Time) Predicate {
	return func(r Record) bool {
		return r.NextAttemptAt == nil || !r.NextAttemptAt.After(now)
	}
}

// InIDs matches records whose id is listed. An empty list matches everything.
func InIDs(ids []int64) Predicate {
	return func(r Record) bool {
		return len(ids) == 0 || slices.Contains(ids, r.ID)
	}
}

// HasTag matches records tagged with tag. An empty tag matches everything.
func HasTag(tag string) Predicate {
	return func(r Record) bool {
		return tag == "" || slices.Contains(r.Tags, tag)
	}
}

// HasFingerprint matches records with exactly fp. An empty fp matches everything.
func HasFingerprint(fp string) Predicate {
	return func(r Record) bool {
		return fp == "" || r.Fingerprint == fp
	}
}

// All combines predicates with AND.
func All(preds ...Predicate) Predicate {
	return func(r Record) bool {
		for _, p := range preds {
			if !p(r) {
				return false
			}
		}
		return true
	}
}

// Due is the full due-query predicate for f at time now.
func (f Filter) Due(now time.Time) Predicate {
	return All(IsPending, IsDue(now), InIDs(f.IDs), HasTag(f.Tag), HasFingerprint(f.Fingerprint))
}

// Match reports whether r is due at now and satisfies f.
func (f Filter) Match(r Record, now time.Time) bool {
	return f.Due(now)(r)
}
