package incremental_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"covhook/scan-runner/internal/incremental"
	"covhook/scan-runner/internal/model"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := incremental.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "covhook")
	ctx := context.Background()

	if _, ok, err := store.Load(ctx, "svc"); err != nil || ok {
		t.Fatalf("expected empty store, got ok=%v err=%v", ok, err)
	}
	if err := store.Save(ctx, "svc", incremental.Snapshot{CommitID: "c1", Report: report(30, 70)}); err != nil {
		t.Fatal(err)
	}
	if !mr.Exists("covhook:snapshot:svc") {
		t.Error("expected snapshot under covhook:snapshot:svc")
	}
	snap, ok, err := store.Load(ctx, "svc")
	if err != nil || !ok {
		t.Fatalf("expected snapshot, got ok=%v err=%v", ok, err)
	}
	if snap.CommitID != "c1" || snap.Report.Percentage(model.CounterLine) != 70 {
		t.Errorf("unexpected snapshot %+v", snap)
	}
}

func TestRedisStore_CorruptSnapshot(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.Set("covhook:snapshot:svc", "{not json")
	store := incremental.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}), "")

	if _, _, err := store.Load(context.Background(), "svc"); err == nil {
		t.Error("expected decode error")
	}
}
