// Package cachetest holds the behavioural suite every cache.Cache must pass.
package cachetest

import (
	"context"
	"testing"
	"time"

	"github.com/Apsistec/fitos-app-sub001/internal/port/cache"
)

// Run exercises c with the standard get/set/delete contract.
func Run(t *testing.T, c cache.Cache) {
	t.Helper()
	ctx := context.Background()

	t.Run("SetAndGet", func(t *testing.T) {
		if err := c.Set(ctx, "stats:trainer-1", []byte(`{"total":3}`), time.Minute); err != nil {
			t.Fatal(err)
		}
		val, found, err := c.Get(ctx, "stats:trainer-1")
		if err != nil {
			t.Fatal(err)
		}
		if !found {
			t.Fatal("expected found after Set")
		}
		if string(val) != `{"total":3}` {
			t.Fatalf("unexpected value %s", val)
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		_, found, err := c.Get(ctx, "stats:nobody")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss for unknown key")
		}
	})

	t.Run("Delete", func(t *testing.T) {
		if err := c.Set(ctx, "stats:trainer-2", []byte("x"), time.Minute); err != nil {
			t.Fatal(err)
		}
		if err := c.Delete(ctx, "stats:trainer-2"); err != nil {
			t.Fatal(err)
		}
		_, found, err := c.Get(ctx, "stats:trainer-2")
		if err != nil {
			t.Fatal(err)
		}
		if found {
			t.Fatal("expected miss after Delete")
		}
	})

	t.Run("DeleteMissing", func(t *testing.T) {
		if err := c.Delete(ctx, "stats:never"); err != nil {
			t.Fatalf("Delete of missing key: %v", err)
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		_ = c.Set(ctx, "stats:trainer-3", []byte("v1"), time.Minute)
		_ = c.Set(ctx, "stats:trainer-3", []byte("v2"), time.Minute)
		val, found, err := c.Get(ctx, "stats:trainer-3")
		if err != nil {
			t.Fatal(err)
		}
		if !found || string(val) != "v2" {
			t.Fatalf("expected v2 after overwrite, got %q (found=%v)", val, found)
		}
	})
}
