package jobs

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewSweeperRejectsBadSpec(t *testing.T) {
	if _, err := NewSweeper("every tuesday", time.Second); err == nil {
		t.Fatalf("expected invalid schedule error")
	}
}

func TestRunOnceRunsAllTasks(t *testing.T) {
	var ran []string
	s, err := NewSweeper("@every 1h", time.Second,
		Task{Name: "revocations", Run: func(context.Context) (int, error) {
			ran = append(ran, "revocations")
			return 2, nil
		}},
		Task{Name: "broken", Run: func(context.Context) (int, error) {
			ran = append(ran, "broken")
			return 0, errors.New("store down")
		}},
		Task{Name: "ratelimit", Run: func(ctx context.Context) (int, error) {
			if _, ok := ctx.Deadline(); !ok {
				t.Errorf("task context has no deadline")
			}
			ran = append(ran, "ratelimit")
			return 0, nil
		}},
	)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.RunOnce()
	if len(ran) != 3 || ran[2] != "ratelimit" {
		t.Fatalf("tasks ran = %v", ran)
	}
}

func TestStartStop(t *testing.T) {
	s, err := NewSweeper("@every 1h", time.Second)
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	s.Start()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
}
