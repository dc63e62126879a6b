package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
)

type stubExchanger struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (s *stubExchanger) GetChatCredentials(ctx context.Context, accessToken string) (model.ChatCredentials, error) {
	n := s.calls.Add(1)
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return model.ChatCredentials{}, ctx.Err()
		}
	}
	if s.err != nil {
		return model.ChatCredentials{}, s.err
	}
	return model.ChatCredentials{Token: accessToken, Key: string(rune('a' + n - 1))}, nil
}

func TestGetCachesPerCounsellor(t *testing.T) {
	ex := &stubExchanger{}
	c := NewCredentials(ex, 0, logger.Nop())
	ctx := context.Background()

	first, err := c.Get(ctx, "conseiller-1", "t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	second, err := c.Get(ctx, "conseiller-1", "t2")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first != second || ex.calls.Load() != 1 {
		t.Fatalf("expected cached credentials, got %+v %+v after %d calls", first, second, ex.calls.Load())
	}

	if _, err := c.Get(ctx, "conseiller-2", "t3"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ex.calls.Load() != 2 {
		t.Fatalf("expected one exchange per counsellor, got %d", ex.calls.Load())
	}
}

func TestGetSharesConcurrentExchange(t *testing.T) {
	ex := &stubExchanger{delay: 50 * time.Millisecond}
	c := NewCredentials(ex, 0, logger.Nop())

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Get(context.Background(), "conseiller-1", "t"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if ex.calls.Load() != 1 {
		t.Fatalf("expected a single exchange, got %d", ex.calls.Load())
	}
}

func TestInvalidateForcesNewExchange(t *testing.T) {
	ex := &stubExchanger{}
	c := NewCredentials(ex, 0, logger.Nop())
	ctx := context.Background()

	first, _ := c.Get(ctx, "conseiller-1", "t")
	c.Invalidate("conseiller-1")
	second, err := c.Get(ctx, "conseiller-1", "t")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if first == second || ex.calls.Load() != 2 {
		t.Fatalf("expected fresh credentials after Invalidate")
	}
}

func TestGetDoesNotCacheFailures(t *testing.T) {
	ex := &stubExchanger{err: errors.New("backend down")}
	c := NewCredentials(ex, 0, logger.Nop())
	ctx := context.Background()

	if _, err := c.Get(ctx, "conseiller-1", "t"); !errors.Is(err, ex.err) {
		t.Fatalf("expected backend error, got %v", err)
	}
	ex.err = nil
	if _, err := c.Get(ctx, "conseiller-1", "t"); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
}

func TestGetSurvivesCancelledLeader(t *testing.T) {
	ex := &stubExchanger{delay: 200 * time.Millisecond}
	c := NewCredentials(ex, time.Second, logger.Nop())

	leaderCtx, cancel := context.WithCancel(context.Background())
	leaderErr := make(chan error, 1)
	go func() {
		_, err := c.Get(leaderCtx, "conseiller-1", "t")
		leaderErr <- err
	}()

	deadline := time.Now().Add(time.Second)
	for ex.calls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("exchange never started")
		}
		time.Sleep(time.Millisecond)
	}

	followerErr := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), "conseiller-1", "t")
		followerErr <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	if err := <-leaderErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancelled caller to get context.Canceled, got %v", err)
	}
	if err := <-followerErr; err != nil {
		t.Fatalf("expected live caller to get credentials, got %v", err)
	}
	if ex.calls.Load() != 1 {
		t.Fatalf("expected a single exchange, got %d", ex.calls.Load())
	}

	if _, err := c.Get(context.Background(), "conseiller-1", "t"); err != nil || ex.calls.Load() != 1 {
		t.Fatalf("expected credentials cached after the shared exchange, err=%v calls=%d", err, ex.calls.Load())
	}
}

func TestGetAppliesExchangeTimeout(t *testing.T) {
	ex := &stubExchanger{delay: time.Second}
	c := NewCredentials(ex, 20*time.Millisecond, logger.Nop())

	if _, err := c.Get(context.Background(), "conseiller-1", "t"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
