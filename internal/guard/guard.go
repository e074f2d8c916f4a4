// Package guard enforces the per-chat turn rules shared by every connection:
// at most one turn in flight per chat, and an optional hourly turn budget.
package guard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrBusy        = errors.New("busy")
	ErrRateLimited = errors.New("rate limit exceeded")
)

// Guard admits chat turns. Acquire returns a release func that must be called
// once the turn has finished; calling it more than once is safe.
type Guard interface {
	Acquire(ctx context.Context, chatID string) (release func(), err error)
}

// hourWindow returns the start of the rate window containing now and the
// key suffix identifying it.
func hourWindow(now time.Time) (time.Time, string) {
	start := now.UTC().Truncate(time.Hour)
	return start, start.Format("2006010215")
}

// LocalGuard is the in-process Guard used when no Redis server is configured.
type LocalGuard struct {
	mu       sync.Mutex
	inFlight map[string]struct{}
	counts   map[string]int
	window   string
	limit    int
	now      func() time.Time
}

var _ Guard = (*LocalGuard)(nil)

// NewLocal returns a LocalGuard allowing ratePerHour turns per chat per clock
// hour; zero disables the rate limit.
func NewLocal(ratePerHour int) *LocalGuard {
	return &LocalGuard{
		inFlight: make(map[string]struct{}),
		counts:   make(map[string]int),
		limit:    ratePerHour,
		now:      time.Now,
	}
}

func (g *LocalGuard) Acquire(_ context.Context, chatID string) (func(), error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, busy := g.inFlight[chatID]; busy {
		return nil, ErrBusy
	}

	if g.limit > 0 {
		_, window := hourWindow(g.now())
		if window != g.window {
			g.window = window
			g.counts = make(map[string]int)
		}
		g.counts[chatID]++
		if g.counts[chatID] > g.limit {
			return nil, fmt.Errorf("%w: %d turns per hour", ErrRateLimited, g.limit)
		}
	}

	g.inFlight[chatID] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.inFlight, chatID)
			g.mu.Unlock()
		})
	}, nil
}
