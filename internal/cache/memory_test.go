package cache

import (
	"context"
	"testing"
	"time"
)

func TestMemory_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("lg", time.Minute)

	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatal(err)
	}
	got, err := c.Get(ctx, "k")
	if err != nil || got != "v" {
		t.Fatalf("got %q err=%v", got, err)
	}
	_ = c.Delete(ctx, "k")
	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Fatalf("expected not found after delete")
	}

	st, _ := c.Stats(ctx)
	if st.Hits != 1 || st.Misses != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestMemory_TTLExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemory("", time.Minute)
	_ = c.Set(ctx, "k", "v", 10*time.Millisecond)
	time.Sleep(25 * time.Millisecond)
	if _, err := c.Get(ctx, "k"); !IsNotFound(err) {
		t.Fatalf("expected expiry, got %v", err)
	}
}
