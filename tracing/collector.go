// Package tracing records what the pipeline does, cycle by cycle. Recorders
// are Akita hooks attached to the pipeline; they only read the items the
// pipeline hands them.
package tracing

import (
	"sync"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/sarchlab/tomasim/timing/pipeline"
)

// Collector keeps snapshots, issue events and broadcasts in memory. It is
// safe to read while the pipeline runs on another goroutine.
type Collector struct {
	mu sync.RWMutex

	maxSnapshots int
	snapshots    []pipeline.Snapshot
	issues       []pipeline.IssueEvent
	broadcasts   []pipeline.Broadcast
	diagnostics  []pipeline.Diagnostic
}

// NewCollector creates a collector that keeps at most maxSnapshots
// snapshots, dropping the oldest first. Zero keeps every snapshot.
func NewCollector(maxSnapshots int) *Collector {
	return &Collector{maxSnapshots: maxSnapshots}
}

// Func implements sim.Hook.
func (c *Collector) Func(ctx sim.HookCtx) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ctx.Pos {
	case pipeline.HookPosIssue:
		if e, ok := ctx.Item.(pipeline.IssueEvent); ok {
			c.issues = append(c.issues, e)
		}
	case pipeline.HookPosBroadcast:
		if b, ok := ctx.Item.(pipeline.Broadcast); ok {
			c.broadcasts = append(c.broadcasts, b)
		}
	case pipeline.HookPosCycleEnd:
		if s, ok := ctx.Item.(pipeline.Snapshot); ok {
			c.addSnapshot(s)
		}
		if p, ok := ctx.Domain.(*pipeline.Pipeline); ok {
			c.diagnostics = p.Diagnostics()
		}
	}
}

func (c *Collector) addSnapshot(s pipeline.Snapshot) {
	c.snapshots = append(c.snapshots, s)
	if c.maxSnapshots > 0 && len(c.snapshots) > c.maxSnapshots {
		c.snapshots = c.snapshots[len(c.snapshots)-c.maxSnapshots:]
	}
}

// Snapshots returns the retained snapshots, oldest first.
func (c *Collector) Snapshots() []pipeline.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]pipeline.Snapshot, len(c.snapshots))
	copy(out, c.snapshots)
	return out
}

// Snapshot returns the snapshot taken at the end of the given cycle.
func (c *Collector) Snapshot(cycle uint64) (pipeline.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.snapshots {
		if s.Cycle == cycle {
			return s, true
		}
	}
	return pipeline.Snapshot{}, false
}

// Latest returns the most recent snapshot.
func (c *Collector) Latest() (pipeline.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.snapshots) == 0 {
		return pipeline.Snapshot{}, false
	}
	return c.snapshots[len(c.snapshots)-1], true
}

// Issues returns every issue event in order.
func (c *Collector) Issues() []pipeline.IssueEvent {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]pipeline.IssueEvent, len(c.issues))
	copy(out, c.issues)
	return out
}

// Broadcasts returns every broadcast in order.
func (c *Collector) Broadcasts() []pipeline.Broadcast {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]pipeline.Broadcast, len(c.broadcasts))
	copy(out, c.broadcasts)
	return out
}

// Diagnostics returns the pipeline diagnostics as of the last cycle.
func (c *Collector) Diagnostics() []pipeline.Diagnostic {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]pipeline.Diagnostic, len(c.diagnostics))
	copy(out, c.diagnostics)
	return out
}

// Reset drops everything recorded so far.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.snapshots = nil
	c.issues = nil
	c.broadcasts = nil
	c.diagnostics = nil
}
