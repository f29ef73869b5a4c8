package store

import (
	"context"
	"testing"
	"time"
)

func Test_adapt_exposes_active_record_by_token(t *testing.T) {
	mem := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()
	if err := mem.Create(ctx, &Record{Route: "svc", Token: "tok", UserID: 3, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	adapted := Adapt(mem)
	rec, err := adapted.GetByToken(ctx, "tok")
	if err != nil {
		t.Fatalf("get by token failed: %v", err)
	}
	if rec == nil || rec.Route != "svc" || rec.OwnerUserID != 3 {
		t.Fatalf("unexpected record: %+v", rec)
	}
}

func Test_adapt_returns_nil_for_unknown_token(t *testing.T) {
	adapted := Adapt(NewMemoryStore())
	rec, err := adapted.GetByToken(context.Background(), "nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec != nil {
		t.Fatalf("expected nil record, got %+v", rec)
	}
}
