package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestRunOnceReturnsJobError(t *testing.T) {
	boom := errors.New("boom")
	calls := 0
	loop := &Loop{Name: "sync", Once: true, Job: func(ctx context.Context) error {
		calls++
		return boom
	}}
	if err := loop.Run(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected job error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected one call, got %d", calls)
	}
}

func TestRunOnceSuccess(t *testing.T) {
	loop := &Loop{Name: "sync", Once: true, Job: func(ctx context.Context) error { return nil }}
	if err := loop.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestRunForeverSurvivesErrorsUntilCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var outcomes []Outcome
	calls := 0
	loop := &Loop{
		Name:        "sync",
		Interval:    5 * time.Millisecond,
		RunOnStart:  true,
		IsTransient: func(err error) bool { return true },
		Job: func(ctx context.Context) error {
			calls++
			if calls == 3 {
				cancel()
			}
			return errors.New("remote unavailable")
		},
		OnTick: func(ctx context.Context, outcome Outcome, err error) {
			mu.Lock()
			outcomes = append(outcomes, outcome)
			mu.Unlock()
		},
	}

	err := loop.Run(ctx)
	if !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(outcomes) < 3 {
		t.Fatalf("expected at least 3 ticks, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if o != OutcomeTransient {
			t.Fatalf("expected transient outcomes, got %v", outcomes)
		}
	}
}

func TestRunWithoutRunOnStartWaitsForTick(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	loop := &Loop{Name: "images", Interval: time.Hour, Job: func(ctx context.Context) error {
		calls++
		return nil
	}}
	if err := loop.Run(ctx); !errors.Is(err, ErrInterrupted) {
		t.Fatalf("expected ErrInterrupted, got %v", err)
	}
	if calls != 0 {
		t.Fatalf("expected no calls before first interval, got %d", calls)
	}
}

func TestRunValidates(t *testing.T) {
	if err := (&Loop{Name: "x"}).Run(context.Background()); err == nil {
		t.Fatal("expected error for missing job")
	}
	loop := &Loop{Name: "x", Job: func(ctx context.Context) error { return nil }}
	if err := loop.Run(context.Background()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}

func TestClassify(t *testing.T) {
	loop := &Loop{IsTransient: func(err error) bool { return err.Error() == "temp" }}
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeOK},
		{errors.New("temp"), OutcomeTransient},
		{errors.New("bad"), OutcomePermanent},
	}
	for _, tt := range tests {
		if got := loop.classify(tt.err); got != tt.want {
			t.Fatalf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
	if got := (&Loop{}).classify(errors.New("temp")); got != OutcomePermanent {
		t.Fatalf("expected permanent without classifier, got %s", got)
	}
}
