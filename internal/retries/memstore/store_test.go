package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

func TestInsertFindUpdate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 9, 0, 0, 0, 0, time.UTC)
	s := New().WithClock(func() time.Time { return now })

	rec := &retries.Record{Fingerprint: "fp1", Method: "POST", URI: "/x", MaxRetries: 3, NextAttemptAt: &now}
	id, err := s.Insert(ctx, rec)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id != 1 || rec.ID != 1 {
		t.Fatalf("expected id 1, got %d/%d", id, rec.ID)
	}

	found, err := s.FindPendingByFingerprint(ctx, "fp1")
	if err != nil || found == nil {
		t.Fatalf("expected pending record, got %v %v", found, err)
	}

	err = s.Update(ctx, id, retries.Patch{
		Status:       retries.StatusPtr(retries.StatusCompleted),
		ExpectStatus: retries.StatusPtr(retries.StatusPending),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	found, _ = s.FindPendingByFingerprint(ctx, "fp1")
	if found != nil {
		t.Fatalf("completed record must not be pending")
	}

	err = s.Update(ctx, id, retries.Patch{
		Status:       retries.StatusPtr(retries.StatusFailed),
		ExpectStatus: retries.StatusPtr(retries.StatusPending),
	})
	if !errors.Is(err, retries.ErrStatusMismatch) {
		t.Fatalf("expected ErrStatusMismatch, got %v", err)
	}

	if err := s.Update(ctx, 99, retries.Patch{}); !errors.Is(err, retries.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i := 0; i < 3; i++ {
		if _, err := s.Insert(ctx, &retries.Record{Method: "GET", URI: "/"}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	_ = s.Update(ctx, 2, retries.Patch{Status: retries.StatusPtr(retries.StatusFailed)})

	all, _ := s.List(ctx, retries.ListOptions{})
	if len(all) != 3 || all[0].ID != 3 {
		t.Fatalf("unexpected listing %+v", all)
	}
	failed, _ := s.List(ctx, retries.ListOptions{Status: retries.StatusFailed})
	if len(failed) != 1 || failed[0].ID != 2 {
		t.Fatalf("unexpected failed listing %+v", failed)
	}
	page, _ := s.List(ctx, retries.ListOptions{Limit: 1, Offset: 1})
	if len(page) != 1 || page[0].ID != 2 {
		t.Fatalf("unexpected page %+v", page)
	}
}

func TestBodyNumbersSurviveClone(t *testing.T) {
	ctx := context.Background()
	s := New()
	id, err := s.Insert(ctx, &retries.Record{
		Method: "POST",
		URI:    "/orders",
		Body:   map[string]any{"order_id": int64(9007199254740993), "items": []any{int64(1), 2.5}},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Body["order_id"] != int64(9007199254740993) {
		t.Fatalf("large integer changed: %#v", got.Body["order_id"])
	}
	items := got.Body["items"].([]any)
	if items[0] != int64(1) || items[1] != 2.5 {
		t.Fatalf("unexpected items %#v", items)
	}
}
