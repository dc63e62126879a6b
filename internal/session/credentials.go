// Package session holds per-counsellor chat credentials for the lifetime of
// their session. Credentials are kept in memory only.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/conseiller-portal/messagerie/internal/model"
	"github.com/conseiller-portal/messagerie/pkg/logger"
)

// Exchanger trades an access token for chat credentials.
type Exchanger interface {
	GetChatCredentials(ctx context.Context, accessToken string) (model.ChatCredentials, error)
}

// Credentials caches ChatCredentials per counsellor.
type Credentials struct {
	exchanger Exchanger
	timeout   time.Duration
	logger    *logger.Logger

	mu          sync.RWMutex
	cache       map[string]model.ChatCredentials
	generations map[string]uint64
	group       singleflight.Group
}

// NewCredentials creates an empty cache. timeout bounds one exchange; zero
// leaves it to the exchanger.
func NewCredentials(exchanger Exchanger, timeout time.Duration, log *logger.Logger) *Credentials {
	return &Credentials{
		exchanger:   exchanger,
		timeout:     timeout,
		logger:      log.Named("session"),
		cache:       make(map[string]model.ChatCredentials),
		generations: make(map[string]uint64),
	}
}

// Get returns the counsellor's credentials, exchanging accessToken on first
// use. Concurrent callers for the same counsellor share one exchange.
func (c *Credentials) Get(ctx context.Context, counsellorID, accessToken string) (model.ChatCredentials, error) {
	c.mu.RLock()
	creds, ok := c.cache[counsellorID]
	gen := c.generations[counsellorID]
	c.mu.RUnlock()
	if ok {
		return creds, nil
	}

	// The exchange is shared, so it must outlive any single caller.
	ch := c.group.DoChan(counsellorID, func() (any, error) {
		c.mu.RLock()
		cached, ok := c.cache[counsellorID]
		c.mu.RUnlock()
		if ok {
			return cached, nil
		}

		exCtx := context.WithoutCancel(ctx)
		if c.timeout > 0 {
			var cancel context.CancelFunc
			exCtx, cancel = context.WithTimeout(exCtx, c.timeout)
			defer cancel()
		}

		creds, err := c.exchanger.GetChatCredentials(exCtx, accessToken)
		if err != nil {
			return model.ChatCredentials{}, err
		}

		c.mu.Lock()
		if c.generations[counsellorID] == gen {
			c.cache[counsellorID] = creds
		}
		c.mu.Unlock()

		c.logger.Debug("Chat credentials obtained", zap.String("conseiller_id", counsellorID))
		return creds, nil
	})

	select {
	case <-ctx.Done():
		return model.ChatCredentials{}, fmt.Errorf("failed to obtain chat credentials: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return model.ChatCredentials{}, fmt.Errorf("failed to obtain chat credentials: %w", res.Err)
		}
		return res.Val.(model.ChatCredentials), nil
	}
}

// Invalidate drops the cached credentials, for example on session renewal.
// An exchange already in flight is not cached.
func (c *Credentials) Invalidate(counsellorID string) {
	c.mu.Lock()
	delete(c.cache, counsellorID)
	c.generations[counsellorID]++
	c.mu.Unlock()
	c.group.Forget(counsellorID)
}
