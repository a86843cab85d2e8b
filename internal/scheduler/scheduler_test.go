package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"billing/internal/service"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeSweeper struct {
	calls atomic.Int32
	at    time.Time
	res   service.ScheduledSweepResult
	err   error
}

func (f *fakeSweeper) RunScheduledSweep(_ context.Context, now time.Time) (service.ScheduledSweepResult, error) {
	f.calls.Add(1)
	f.at = now
	return f.res, f.err
}

func TestRunOncePassesClockAndLogsCounts(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	sweeper := &fakeSweeper{res: service.ScheduledSweepResult{
		Renewals:    service.SweepResult{Scanned: 3, Processed: 2, Skipped: 1},
		Expirations: service.SweepResult{Scanned: 1, Processed: 1},
	}}
	fixed := time.Date(2026, 3, 1, 2, 0, 0, 0, time.UTC)

	s := New(sweeper, "0 2 * * *", zap.New(core))
	s.now = func() time.Time { return fixed }

	res, err := s.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce returned error: %v", err)
	}
	if res.Renewals.Processed != 2 || res.Expirations.Processed != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if !sweeper.at.Equal(fixed) {
		t.Fatalf("expected sweep at %s, got %s", fixed, sweeper.at)
	}

	finished := logs.FilterMessage("billing sweep finished").All()
	if len(finished) != 1 {
		t.Fatalf("expected one summary log, got %d", len(finished))
	}
	if got := finished[0].ContextMap()["renewals_issued"]; got != int64(2) {
		t.Fatalf("expected renewals_issued 2, got %v", got)
	}
}

func TestRunOnceReturnsSweepError(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	boom := errors.New("db down")
	s := New(&fakeSweeper{err: boom}, "@daily", zap.New(core))

	if _, err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected %v, got %v", boom, err)
	}
	if logs.FilterMessage("billing sweep failed").Len() != 1 {
		t.Fatal("expected failure to be logged")
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := New(&fakeSweeper{}, "not a schedule", zap.NewNop())
	if err := s.Start(); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestStartRunsSweepOnSchedule(t *testing.T) {
	sweeper := &fakeSweeper{}
	s := New(sweeper, "@every 1s", zap.NewNop())
	if err := s.Start(); err != nil {
		t.Fatalf("Start returned error: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for sweeper.calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	<-s.Stop().Done()

	if sweeper.calls.Load() == 0 {
		t.Fatal("expected the sweep to run at least once")
	}
}
