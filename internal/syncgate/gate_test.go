package syncgate

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func TestOverrideWins(t *testing.T) {
	client := newTestClient(t)
	w, err := Init(context.Background(), client, 1, 500, 100, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if w.EnableBlock() != 500 {
		t.Errorf("enable block %d, want override 500", w.EnableBlock())
	}
}

func TestChainHeadUsedWithoutOverride(t *testing.T) {
	client := newTestClient(t)
	w, err := Init(context.Background(), client, 1, 0, 250, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	if w.EnableBlock() != 250 {
		t.Errorf("enable block %d, want chain head 250", w.EnableBlock())
	}
}

func TestPersistedWatermarkSurvivesRestart(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	if _, err := Init(ctx, client, 1, 900, 0, zerolog.Nop()); err != nil {
		t.Fatalf("first init: %v", err)
	}

	// Restart with a lower boot head: the persisted value holds.
	w, err := Init(ctx, client, 1, 0, 100, zerolog.Nop())
	if err != nil {
		t.Fatalf("second init: %v", err)
	}
	if w.EnableBlock() != 900 {
		t.Errorf("enable block %d, want persisted 900", w.EnableBlock())
	}
}

func TestInitIdempotent(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	a, err := Init(ctx, client, 1, 0, 300, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}
	b, err := Init(ctx, client, 1, 0, 300, zerolog.Nop())
	if err != nil {
		t.Fatalf("reinit: %v", err)
	}
	if a.EnableBlock() != b.EnableBlock() {
		t.Errorf("watermark changed across identical inits: %d vs %d", a.EnableBlock(), b.EnableBlock())
	}
}

func TestInSyncBoundary(t *testing.T) {
	client := newTestClient(t)
	w, err := Init(context.Background(), client, 1, 100, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	if w.InSync(99) {
		t.Error("block before the watermark must not be in sync")
	}
	if !w.InSync(100) {
		t.Error("the watermark block itself is in sync")
	}
	if !w.InSync(101) {
		t.Error("blocks past the watermark are in sync")
	}
}

func TestExecuteIfInSyncSuppressesDuringBackfill(t *testing.T) {
	client := newTestClient(t)
	w, err := Init(context.Background(), client, 1, 100, 0, zerolog.Nop())
	if err != nil {
		t.Fatalf("init: %v", err)
	}

	ran := false
	if err := w.ExecuteIfInSync(50, func() error { ran = true; return nil }); err != nil {
		t.Fatalf("gate must not fail: %v", err)
	}
	if ran {
		t.Error("fn ran for a backfill block")
	}

	if err := w.ExecuteIfInSync(150, func() error { ran = true; return nil }); err != nil {
		t.Fatalf("in-sync execute: %v", err)
	}
	if !ran {
		t.Error("fn did not run for a live block")
	}
}
