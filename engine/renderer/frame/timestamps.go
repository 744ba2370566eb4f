package frame

import (
	"fmt"
	"time"

	"github.com/spaghettifunk/vkframes/engine/core"
	"github.com/spaghettifunk/vkframes/engine/math"
)

// TimestampQuery is one profiling scope: the query indices of its start and
// end timestamps.
type TimestampQuery struct {
	Name   string
	Start  uint32
	End    uint32
	Depth  int
	Closed bool
}

// droppedScope marks a stack entry for a push refused for lack of queries.
const droppedScope = -1

// TimestampTracker turns nested Push/Pop pairs into timestamp writes on a
// query pool of fixed capacity. The write index only grows within a frame.
type TimestampTracker struct {
	pool     QueryPool
	capacity uint32

	enabled   bool
	next      uint32
	reset     bool
	exhausted bool
	stack     []int
	queries   []TimestampQuery
	dropped   int
}

func NewTimestampTracker(pool QueryPool, capacity uint32) *TimestampTracker {
	return &TimestampTracker{
		pool:     pool,
		capacity: capacity,
	}
}

// SetEnabled turns scope recording on or off. It has no effect without a
// query pool. Change it between frames only.
func (t *TimestampTracker) SetEnabled(enabled bool) {
	t.enabled = enabled && t.pool != nil
}

func (t *TimestampTracker) Enabled() bool {
	return t.enabled
}

// BeginFrame forgets the previous frame's scopes and rewinds the write index.
func (t *TimestampTracker) BeginFrame() {
	if t.dropped > 0 {
		core.LogDebug("timestamp pool exhausted last frame, %d scopes dropped", t.dropped)
	}
	t.next = 0
	t.reset = false
	t.exhausted = false
	t.stack = t.stack[:0]
	t.queries = t.queries[:0]
	t.dropped = 0
}

func (t *TimestampTracker) openAccepted() uint32 {
	var n uint32
	for _, idx := range t.stack {
		if idx != droppedScope {
			n++
		}
	}
	return n
}

// Push opens a scope and writes its start timestamp into cmds. A push is only
// accepted while the pool still has room for its start, its end and the end
// of every scope already open. Once one push is refused every later push of
// the frame is refused too; the scope is still tracked so Pop stays balanced.
func (t *TimestampTracker) Push(name string, cmds Commands) {
	if !t.enabled {
		t.stack = append(t.stack, droppedScope)
		return
	}
	if t.exhausted || t.next+t.openAccepted()+2 > t.capacity {
		t.exhausted = true
		t.dropped++
		t.stack = append(t.stack, droppedScope)
		return
	}

	if !t.reset {
		cmds.ResetQueries(t.pool, 0, t.capacity)
		t.reset = true
	}

	q := TimestampQuery{
		Name:  name,
		Start: t.next,
		Depth: len(t.stack),
	}
	t.next++
	cmds.WriteTimestamp(StageTopOfPipe, t.pool, q.Start)
	t.stack = append(t.stack, len(t.queries))
	t.queries = append(t.queries, q)
}

// Pop closes the innermost open scope.
func (t *TimestampTracker) Pop(cmds Commands) error {
	if len(t.stack) == 0 {
		err := fmt.Errorf("pop without matching push: %w", core.ErrUnbalancedGroups)
		core.LogError(err.Error())
		return err
	}
	idx := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	if idx == droppedScope {
		return nil
	}

	if cmds == nil {
		err := fmt.Errorf("pop of %q without a command buffer to record into", t.queries[idx].Name)
		core.LogError(err.Error())
		return err
	}
	q := &t.queries[idx]
	q.End = t.next
	q.Closed = true
	t.next++
	cmds.WriteTimestamp(StageBottomOfPipe, t.pool, q.End)
	return nil
}

// Balanced reports whether every pushed scope was popped.
func (t *TimestampTracker) Balanced() bool {
	return len(t.stack) == 0
}

// Depth is the number of currently open scopes, dropped ones included.
func (t *TimestampTracker) Depth() int {
	return len(t.stack)
}

// Used is the number of query slots written this frame.
func (t *TimestampTracker) Used() uint32 {
	return t.next
}

func (t *TimestampTracker) Capacity() uint32 {
	return t.capacity
}

// Dropped is the number of scopes refused this frame.
func (t *TimestampTracker) Dropped() int {
	return t.dropped
}

func (t *TimestampTracker) Queries() []TimestampQuery {
	out := make([]TimestampQuery, len(t.queries))
	copy(out, t.queries)
	return out
}

// Resolve reads the frame's timestamps back and converts each closed scope
// to a duration using period nanoseconds per tick. The submission that wrote
// them must have retired.
func (t *TimestampTracker) Resolve(period float64) ([]core.GpuTiming, error) {
	if t.next == 0 {
		return nil, nil
	}
	ticks, err := t.pool.Results(0, t.next)
	if err != nil {
		err = fmt.Errorf("failed to read timestamp results: %w", err)
		core.LogError(err.Error())
		return nil, err
	}

	timings := make([]core.GpuTiming, 0, len(t.queries))
	for _, q := range t.queries {
		if !q.Closed || q.End <= q.Start {
			continue
		}
		elapsed := math.SaturatingSub(ticks[q.End], ticks[q.Start])
		timings = append(timings, core.GpuTiming{
			Name:    q.Name,
			Elapsed: time.Duration(float64(elapsed) * period),
		})
	}
	return timings, nil
}

// Destroy releases the query pool.
func (t *TimestampTracker) Destroy() {
	if t.pool != nil {
		t.pool.Destroy()
		t.pool = nil
	}
}
