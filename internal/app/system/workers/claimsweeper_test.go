package workers

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/familyspace/internal/app/recovery"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSweeper struct {
	calls atomic.Int32
	err   error
	block bool
}

func (f *fakeSweeper) SweepExpired(ctx context.Context) (recovery.SweepResult, error) {
	f.calls.Add(1)
	if f.block {
		<-ctx.Done()
		return recovery.SweepResult{}, ctx.Err()
	}
	return recovery.SweepResult{Scanned: 1, Expired: 1}, f.err
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestClaimSweeper_SweepsImmediatelyAndOnTick(t *testing.T) {
	f := &fakeSweeper{}
	w := NewClaimSweeper(f, zap.NewNop(), 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	waitFor(t, func() bool { return f.calls.Load() >= 3 })
}

func TestClaimSweeper_KeepsRunningAfterError(t *testing.T) {
	f := &fakeSweeper{err: errors.New("boom")}
	w := NewClaimSweeper(f, zap.NewNop(), 10*time.Millisecond)
	w.Start()
	defer w.Stop()

	waitFor(t, func() bool { return f.calls.Load() >= 2 })
}

func TestClaimSweeper_StopCancelsInFlightSweep(t *testing.T) {
	f := &fakeSweeper{block: true}
	w := NewClaimSweeper(f, zap.NewNop(), time.Hour)
	w.Start()
	waitFor(t, func() bool { return f.calls.Load() == 1 })

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return while a sweep was blocked")
	}
}

func TestClaimSweeper_StopTwice(t *testing.T) {
	w := NewClaimSweeper(&fakeSweeper{}, zap.NewNop(), time.Hour)
	w.Start()
	w.Stop()
	w.Stop()
}
