package service

import (
	"context"
	"sync"
)

// runningGuard ensures only one run of a given task id is in flight and
// lets shutdown wait for the ones that are. idle is open while anything
// runs and closed when the last run ends, so new runs may start while
// someone waits.
type runningGuard struct {
	mu      sync.Mutex
	running map[string]struct{}
	idle    chan struct{}
}

// TryLock marks taskID as running. It returns false if it already is.
func (g *runningGuard) TryLock(taskID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running == nil {
		g.running = make(map[string]struct{})
	}
	if _, ok := g.running[taskID]; ok {
		return false
	}
	if len(g.running) == 0 {
		g.idle = make(chan struct{})
	}
	g.running[taskID] = struct{}{}
	return true
}

// Unlock must follow a successful TryLock.
func (g *runningGuard) Unlock(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.running[taskID]; !ok {
		return
	}
	delete(g.running, taskID)
	if len(g.running) == 0 {
		close(g.idle)
	}
}

// Running lists the tasks currently in flight.
func (g *runningGuard) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.running))
	for id := range g.running {
		out = append(out, id)
	}
	return out
}

// WaitAll blocks until no task is running or ctx is cancelled. A run that
// starts while waiting extends the wait.
func (g *runningGuard) WaitAll(ctx context.Context) {
	for {
		g.mu.Lock()
		if len(g.running) == 0 {
			g.mu.Unlock()
			return
		}
		idle := g.idle
		g.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return
		}
	}
}
