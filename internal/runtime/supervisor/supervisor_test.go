package supervisor

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	logx "timebox/pkg/logx"
)

func TestGoRecordsFirstError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	boom := errors.New("boom")
	s.Go("bad", func(ctx context.Context) error { return boom })
	s.Go("good", func(ctx context.Context) error { return nil })

	if err := s.Wait(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
}

func TestCancelOnError(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()), WithCancelOnError(true))

	released := make(chan struct{})
	s.Go("waiter", func(ctx context.Context) error {
		<-ctx.Done()
		close(released)
		return nil
	})
	s.Go("fatal", func(ctx context.Context) error { return errors.New("fatal") })

	select {
	case <-released:
	case <-time.After(2 * time.Second):
		t.Fatal("sibling goroutine was not cancelled")
	}
	_ = s.Wait(context.Background())
}

func TestPanicRecovered(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("panicky", func(ctx context.Context) error { panic("ouch") })

	err := s.Wait(context.Background())
	if err == nil {
		t.Fatal("panic must surface as error")
	}
}

func TestGoRestartBacksOffAndStops(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))

	var runs int32
	s.GoRestart("flappy", func(ctx context.Context) error {
		if atomic.AddInt32(&runs, 1) < 3 {
			return errors.New("transient")
		}
		return nil
	})

	if err := s.Wait(context.Background()); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if got := atomic.LoadInt32(&runs); got != 3 {
		t.Errorf("runs = %d, want 3", got)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	s := New(context.Background(), WithLogger(logx.Nop()))
	s.Go("stuck", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}

	s.Cancel()
	_ = s.Wait(context.Background())
}
