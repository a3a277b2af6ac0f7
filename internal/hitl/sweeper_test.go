package hitl

import (
	"context"
	"testing"
	"time"
)

func TestNewSweeperValidatesSchedule(t *testing.T) {
	s := newSetup(t)

	if _, err := NewSweeper(s.mgr, "not a cron", nil); err == nil {
		t.Error("invalid schedule should be rejected")
	}
	if _, err := NewSweeper(s.mgr, "*/5 * * * *", nil); err != nil {
		t.Errorf("valid schedule rejected: %v", err)
	}

	sw, err := NewSweeper(s.mgr, "", nil)
	if err != nil {
		t.Fatal(err)
	}
	if sw.schedule != "* * * * *" {
		t.Errorf("default schedule = %q", sw.schedule)
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	s := newSetup(t)
	sw, err := NewSweeper(s.mgr, "* * * * *", nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop on cancel")
	}
}
