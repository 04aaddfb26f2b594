package worker_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"covhook/scan-runner/internal/model"
	"covhook/scan-runner/internal/worker"
)

// gatedRunner blocks every scan until release is closed.
type gatedRunner struct {
	calls   atomic.Int32
	started chan string
	release chan struct{}
}

func newGatedRunner() *gatedRunner {
	return &gatedRunner{started: make(chan string, 16), release: make(chan struct{})}
}

func (g *gatedRunner) Run(_ context.Context, req model.ScanRequest, taskID string) model.ScanResult {
	g.calls.Add(1)
	g.started <- taskID
	<-g.release
	return model.ScanResult{TaskID: taskID, CommitID: req.CommitID, Status: model.StatusCompleted, Stage: model.StageDone}
}

func quietLogger() logrus.FieldLogger {
	log, _ := logtest.NewNullLogger()
	return log
}

func req(service, commit string) model.ScanRequest {
	return model.ScanRequest{ServiceName: service, CommitID: commit, RepoURL: "http://git.local/" + service + ".git"}
}

func TestSubmit_CoalescesDuplicates(t *testing.T) {
	runner := newGatedRunner()
	pool := worker.NewPool(runner, worker.Options{Workers: 2, QueueSize: 4}, quietLogger())
	defer pool.Shutdown(context.Background())

	var wg sync.WaitGroup
	tickets := make([]worker.Ticket, 8)
	for i := range tickets {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tk, err := pool.Submit(context.Background(), req("svc", "abc"))
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
			}
			tickets[i] = tk
		}(i)
	}
	wg.Wait()

	for _, tk := range tickets[1:] {
		if tk.TaskID != tickets[0].TaskID {
			t.Fatalf("expected all submissions to share one task, got %s and %s", tickets[0].TaskID, tk.TaskID)
		}
	}
	<-runner.started
	close(runner.release)

	res, err := pool.Wait(context.Background(), tickets[0].TaskID)
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != model.StatusCompleted {
		t.Errorf("expected completed, got %s", res.Status)
	}
	if n := runner.calls.Load(); n != 1 {
		t.Errorf("expected exactly one execution, got %d", n)
	}
}

func TestSubmit_SameCommitAfterCompletionRunsAgain(t *testing.T) {
	runner := newGatedRunner()
	close(runner.release)
	pool := worker.NewPool(runner, worker.Options{Workers: 1, QueueSize: 1}, quietLogger())
	defer pool.Shutdown(context.Background())

	first, _ := pool.Submit(context.Background(), req("svc", "abc"))
	if _, err := pool.Wait(context.Background(), first.TaskID); err != nil {
		t.Fatal(err)
	}
	second, err := pool.Submit(context.Background(), req("svc", "abc"))
	if err != nil {
		t.Fatal(err)
	}
	if second.TaskID == first.TaskID || second.Coalesced {
		t.Error("a finished scan must not absorb new submissions")
	}
}

func TestSubmit_DistinctKeysRunConcurrently(t *testing.T) {
	runner := newGatedRunner()
	pool := worker.NewPool(runner, worker.Options{Workers: 2, QueueSize: 2}, quietLogger())
	defer pool.Shutdown(context.Background())

	pool.Submit(context.Background(), req("svc", "a"))
	pool.Submit(context.Background(), req("svc", "b"))

	for i := 0; i < 2; i++ {
		select {
		case <-runner.started:
		case <-time.After(2 * time.Second):
			t.Fatal("expected both scans to start in parallel")
		}
	}
	close(runner.release)
}

func TestSubmit_QueueFull(t *testing.T) {
	runner := newGatedRunner()
	pool := worker.NewPool(runner, worker.Options{Workers: 1, QueueSize: 1}, quietLogger())
	defer func() {
		close(runner.release)
		pool.Shutdown(context.Background())
	}()

	if _, err := pool.Submit(context.Background(), req("svc", "a")); err != nil {
		t.Fatal(err)
	}
	<-runner.started
	if _, err := pool.Submit(context.Background(), req("svc", "b")); err != nil {
		t.Fatal(err)
	}
	_, err := pool.Submit(context.Background(), req("svc", "c"))
	if !errors.Is(err, worker.ErrQueueFull) {
		t.Errorf("expected ErrQueueFull, got %v", err)
	}
}

func TestGet_Unknown(t *testing.T) {
	pool := worker.NewPool(newGatedRunner(), worker.Options{}, quietLogger())
	defer pool.Shutdown(context.Background())

	if _, err := pool.Get("nope"); !errors.Is(err, worker.ErrTaskNotFound) {
		t.Errorf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestGet_ReportsProgress(t *testing.T) {
	runner := newGatedRunner()
	pool := worker.NewPool(runner, worker.Options{Workers: 1, QueueSize: 1}, quietLogger())
	defer pool.Shutdown(context.Background())

	tk, _ := pool.Submit(context.Background(), req("svc", "a"))
	if tk.Status != model.StatusAccepted {
		t.Errorf("expected accepted, got %s", tk.Status)
	}
	<-runner.started
	res, _ := pool.Get(tk.TaskID)
	if res.Status != model.StatusRunning {
		t.Errorf("expected running, got %s", res.Status)
	}
	close(runner.release)
}

func TestWait_ContextCancelled(t *testing.T) {
	runner := newGatedRunner()
	pool := worker.NewPool(runner, worker.Options{Workers: 1, QueueSize: 1}, quietLogger())
	defer func() {
		close(runner.release)
		pool.Shutdown(context.Background())
	}()

	tk, _ := pool.Submit(context.Background(), req("svc", "a"))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := pool.Wait(ctx, tk.TaskID); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}

func TestShutdown_RejectsNewWork(t *testing.T) {
	runner := newGatedRunner()
	close(runner.release)
	pool := worker.NewPool(runner, worker.Options{Workers: 1, QueueSize: 1}, quietLogger())
	if err := pool.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Submit(context.Background(), req("svc", "a")); !errors.Is(err, worker.ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func newRedis(t *testing.T) redis.Cmdable {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestRedisClaimer(t *testing.T) {
	rc := newRedis(t)
	ctx := context.Background()
	a := worker.NewRedisClaimer(rc, "covhook", "host-a", time.Minute)
	b := worker.NewRedisClaimer(rc, "covhook", "host-b", time.Minute)

	ok, err := a.Claim(ctx, "svc@abc")
	if err != nil || !ok {
		t.Fatalf("first claim should succeed, got %v %v", ok, err)
	}
	ok, err = b.Claim(ctx, "svc@abc")
	if err != nil || ok {
		t.Fatalf("second claim should fail, got %v %v", ok, err)
	}
	if err := b.Release(ctx, "svc@abc"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.Claim(ctx, "svc@abc"); ok {
		t.Fatal("release by a non-owner must not free the key")
	}
	if err := a.Release(ctx, "svc@abc"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := b.Claim(ctx, "svc@abc"); !ok {
		t.Fatal("key should be free after the owner released it")
	}
}

func TestSubmit_DuplicateAcrossInstances(t *testing.T) {
	rc := newRedis(t)
	runner := newGatedRunner()
	defer close(runner.release)

	a := worker.NewPool(runner, worker.Options{Workers: 1, QueueSize: 1, Claimer: worker.NewRedisClaimer(rc, "covhook", "a", time.Minute)}, quietLogger())
	b := worker.NewPool(runner, worker.Options{Workers: 1, QueueSize: 1, Claimer: worker.NewRedisClaimer(rc, "covhook", "b", time.Minute)}, quietLogger())

	if _, err := a.Submit(context.Background(), req("svc", "abc")); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Submit(context.Background(), req("svc", "abc")); !errors.Is(err, worker.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}
