// Package replay drives the system with historical data in timestamp
// order, merging any number of sources through a container/heap priority
// queue of per-source cursors. Grounded on
// qte/core/managers/replay_manager.py's ReplayManager (pandas concat +
// sort_values merge, speed-scaled sleep, start/stop/pause/resume), but the
// merge itself is reimplemented as an explicit heap per spec.md §4.5/§9
// rather than materializing and sorting the whole dataset up front.
package replay

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/qtexchange/vexchange/internal/platform/metrics"
	"github.com/qtexchange/vexchange/internal/vtime"
)

// Mode selects the pacing of emission.
type Mode string

const (
	ModeBacktest    Mode = "BACKTEST"
	ModeStepped     Mode = "STEPPED"
	ModeRealtime    Mode = "REALTIME"
	ModeAccelerated Mode = "ACCELERATED"
)

// Status is the lifecycle state of a Controller run.
type Status string

const (
	StatusIdle      Status = "IDLE"
	StatusRunning   Status = "RUNNING"
	StatusPaused    Status = "PAUSED"
	StatusStopped   Status = "STOPPED"
	StatusCompleted Status = "COMPLETED"
)

// DataPoint is one timestamped item from a Source.
type DataPoint struct {
	TimestampMs int64
	Payload     any
}

// Source lazily produces a monotonically-timestamped sequence of
// DataPoints. Next returns (DataPoint{}, io.EOF)-equivalent via ok=false
// when exhausted.
type Source interface {
	Next(ctx context.Context) (DataPoint, bool, error)
}

// Callback receives (sourceID, payload) once TimeManager has been advanced
// to the payload's timestamp.
type Callback func(sourceID string, payload any)

// Config controls pacing and delivery.
type Config struct {
	Mode            Mode
	SpeedFactor     float64
	BatchCallbacks  bool
	MemoryOptimized bool
}

// Progress reports run statistics.
type Progress struct {
	Emitted       int64
	TotalEstimate int64
	ElapsedMs     int64
	LastTimestamp int64
}

type cursor struct {
	id      string
	source  Source
	seq     int // registration order, stable merge tiebreak
	next    DataPoint
	hasNext bool
	index   int // heap.Interface bookkeeping
}

// cursorHeap orders cursors by (timestamp, registration order).
type cursorHeap []*cursor

func (h cursorHeap) Len() int { return len(h) }
func (h cursorHeap) Less(i, j int) bool {
	if h[i].next.TimestampMs != h[j].next.TimestampMs {
		return h[i].next.TimestampMs < h[j].next.TimestampMs
	}
	return h[i].seq < h[j].seq
}
func (h cursorHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *cursorHeap) Push(x any) {
	c := x.(*cursor)
	c.index = len(*h)
	*h = append(*h, c)
}
func (h *cursorHeap) Pop() any {
	old := *h
	n := len(old)
	c := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return c
}

// Controller is the ReplayController. Not safe for concurrent Start/Step/
// ProcessAllSync calls on the same instance (spec.md §4.5 concurrency
// contract forbids mixing sync and async use on one controller).
type Controller struct {
	mu     sync.Mutex
	clock  *vtime.Manager
	log    *zap.Logger
	cfg    Config
	status Status

	cursors map[string]*cursor
	order   []string // registration order, for seq assignment
	nextSeq int

	callbacksMu sync.Mutex
	callbacks   map[int]Callback
	nextCbID    int

	emitted   int64
	lastTs    int64
	startedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds an idle Controller.
func New(clock *vtime.Manager, cfg Config, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.SpeedFactor <= 0 {
		cfg.SpeedFactor = 1
	}
	return &Controller{
		clock:     clock,
		log:       log,
		cfg:       cfg,
		status:    StatusIdle,
		cursors:   make(map[string]*cursor),
		callbacks: make(map[int]Callback),
	}
}

// AddSource registers source under id. Sources may be added before Start
// or, for streaming ingestion, while idle between runs.
func (c *Controller) AddSource(ctx context.Context, id string, source Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.cursors[id]; exists {
		return fmt.Errorf("replay: source %q already registered", id)
	}
	cur := &cursor{id: id, source: source, seq: c.nextSeq}
	c.nextSeq++
	dp, ok, err := source.Next(ctx)
	if err != nil {
		return fmt.Errorf("replay: priming source %q: %w", id, err)
	}
	cur.next, cur.hasNext = dp, ok
	c.cursors[id] = cur
	c.order = append(c.order, id)
	return nil
}

// RemoveSource drops a source from future merges.
func (c *Controller) RemoveSource(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cursors, id)
}

// RegisterCallback subscribes cb to every emitted DataPoint, returning an
// ID for later Unregister.
func (c *Controller) RegisterCallback(cb Callback) int {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	id := c.nextCbID
	c.nextCbID++
	c.callbacks[id] = cb
	return id
}

// UnregisterCallback removes a previously registered callback.
func (c *Controller) UnregisterCallback(id int) {
	c.callbacksMu.Lock()
	defer c.callbacksMu.Unlock()
	delete(c.callbacks, id)
}

func (c *Controller) dispatch(sourceID string, payload any) {
	c.callbacksMu.Lock()
	cbs := make([]Callback, 0, len(c.callbacks))
	for _, cb := range c.callbacks {
		cbs = append(cbs, cb)
	}
	c.callbacksMu.Unlock()

	run := func(cb Callback) {
		defer func() {
			if r := recover(); r != nil {
				c.log.Error("replay callback panicked", zap.Any("recover", r))
			}
		}()
		cb(sourceID, payload)
	}

	if c.cfg.BatchCallbacks {
		var wg sync.WaitGroup
		for _, cb := range cbs {
			wg.Add(1)
			go func(cb Callback) {
				defer wg.Done()
				run(cb)
			}(cb)
		}
		wg.Wait()
		return
	}
	for _, cb := range cbs {
		run(cb)
	}
}

// buildHeap snapshots the current cursor set into a ready-to-pop heap.
func (c *Controller) buildHeap() *cursorHeap {
	h := make(cursorHeap, 0, len(c.cursors))
	for _, id := range c.order {
		cur, ok := c.cursors[id]
		if !ok || !cur.hasNext {
			continue
		}
		h = append(h, cur)
	}
	heap.Init(&h)
	return &h
}

// popMin pops the cursor with the earliest (timestamp, registration order)
// and primes its next item, reinserting it into h if it still has data.
func (c *Controller) popMin(ctx context.Context, h *cursorHeap) (*cursor, DataPoint, error) {
	if h.Len() == 0 {
		return nil, DataPoint{}, nil
	}
	cur := heap.Pop(h).(*cursor)
	dp := cur.next

	next, ok, err := cur.source.Next(ctx)
	if err != nil {
		c.log.Error("replay source errored, marking exhausted", zap.String("source", cur.id), zap.Error(err))
		cur.hasNext = false
		return cur, dp, nil
	}
	cur.next, cur.hasNext = next, ok
	if ok {
		heap.Push(h, cur)
	}
	return cur, dp, nil
}

func (c *Controller) sleepFor(deltaMs int64) {
	if deltaMs <= 0 {
		return
	}
	switch c.cfg.Mode {
	case ModeRealtime:
		time.Sleep(time.Duration(deltaMs) * time.Millisecond)
	case ModeAccelerated:
		scaled := float64(deltaMs) / c.cfg.SpeedFactor
		if scaled > 0 {
			time.Sleep(time.Duration(scaled) * time.Millisecond)
		}
	}
}

// ProcessAllSync drains every source synchronously in merged order,
// returning every payload produced. Intended for tests and offline
// processing (spec.md §4.5); must not be called while Start is running.
func (c *Controller) ProcessAllSync(ctx context.Context) ([]DataPoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning || c.status == StatusPaused {
		return nil, fmt.Errorf("replay: cannot mix synchronous drain with an active run")
	}
	c.status = StatusRunning
	c.startedAt = time.Now()
	defer func() { c.status = StatusCompleted }()

	h := c.buildHeap()
	out := make([]DataPoint, 0, 256)
	prevTs := c.lastTs

	for h.Len() > 0 {
		select {
		case <-ctx.Done():
			c.status = StatusStopped
			return out, ctx.Err()
		default:
		}
		cur, dp, err := c.popMin(ctx, h)
		if err != nil {
			return out, err
		}
		if cur == nil {
			break
		}

		delta := dp.TimestampMs - prevTs
		prevTs = dp.TimestampMs
		c.sleepFor(delta)

		if err := c.clock.SetBacktestTimeMs(dp.TimestampMs); err != nil {
			c.log.Warn("replay: backtest time rejected", zap.Error(err))
		}
		c.emitted++
		c.lastTs = dp.TimestampMs
		metrics.ReplayEventsProcessed.WithLabelValues(cur.id).Inc()
		c.dispatch(cur.id, dp.Payload)
		out = append(out, dp)
	}
	return out, nil
}

// Step emits exactly one item (STEPPED mode / synchronous API) and
// returns it, or ok=false if every source is exhausted. Like
// ProcessAllSync, it must not be called while Start is running
// (spec.md §4.5 forbids mixing sync and async use on one controller).
func (c *Controller) Step(ctx context.Context) (DataPoint, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning || c.status == StatusPaused {
		return DataPoint{}, false, fmt.Errorf("replay: cannot mix synchronous step with an active run")
	}

	h := c.buildHeap()
	cur, dp, err := c.popMin(ctx, h)
	if err != nil || cur == nil {
		return DataPoint{}, false, err
	}
	if err := c.clock.SetBacktestTimeMs(dp.TimestampMs); err != nil {
		c.log.Warn("replay: backtest time rejected", zap.Error(err))
	}
	c.emitted++
	c.lastTs = dp.TimestampMs
	metrics.ReplayEventsProcessed.WithLabelValues(cur.id).Inc()
	c.dispatch(cur.id, dp.Payload)
	return dp, true, nil
}

// Start launches the asynchronous emitter loop (BACKTEST/REALTIME/
// ACCELERATED modes), returning immediately. Stop cancels it.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.status == StatusRunning {
		c.mu.Unlock()
		return fmt.Errorf("replay: already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.status = StatusRunning
	c.startedAt = time.Now()
	c.done = make(chan struct{})
	c.mu.Unlock()

	go c.runLoop(runCtx)
	return nil
}

func (c *Controller) runLoop(ctx context.Context) {
	defer close(c.done)

	const boundedWait = 200 * time.Millisecond
	c.mu.Lock()
	prevTs := c.lastTs
	c.mu.Unlock()

	for {
		c.mu.Lock()
		status := c.status
		c.mu.Unlock()

		if status == StatusStopped {
			return
		}
		if status == StatusPaused {
			select {
			case <-ctx.Done():
				return
			case <-time.After(boundedWait):
				continue
			}
		}

		c.mu.Lock()
		h := c.buildHeap()
		cur, dp, err := c.popMin(ctx, h)
		c.mu.Unlock()
		if err != nil {
			c.log.Error("replay: source error", zap.Error(err))
			continue
		}
		if cur == nil {
			c.mu.Lock()
			c.status = StatusCompleted
			c.mu.Unlock()
			return
		}

		delta := dp.TimestampMs - prevTs
		prevTs = dp.TimestampMs
		c.sleepFor(delta)

		if err := c.clock.SetBacktestTimeMs(dp.TimestampMs); err != nil {
			c.log.Warn("replay: backtest time rejected", zap.Error(err))
		}
		c.mu.Lock()
		c.emitted++
		c.lastTs = dp.TimestampMs
		c.mu.Unlock()
		metrics.ReplayEventsProcessed.WithLabelValues(cur.id).Inc()
		c.dispatch(cur.id, dp.Payload)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// Pause suspends emission; Resume continues it. Both are no-ops if the
// controller isn't running.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusRunning {
		c.status = StatusPaused
	}
}

func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.status == StatusPaused {
		c.status = StatusRunning
	}
}

// Stop cancels the asynchronous run. It takes effect within one bounded
// wait interval; in-flight callbacks are allowed to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.status = StatusStopped
	done := c.done
	c.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Reset clears emitted/lastTs bookkeeping so the controller can be reused
// with freshly re-registered sources.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitted = 0
	c.lastTs = 0
	c.status = StatusIdle
	c.cursors = make(map[string]*cursor)
	c.order = nil
	c.nextSeq = 0
}

// Progress reports run statistics.
func (c *Controller) Progress() Progress {
	c.mu.Lock()
	defer c.mu.Unlock()
	elapsed := int64(0)
	if !c.startedAt.IsZero() {
		elapsed = time.Since(c.startedAt).Milliseconds()
	}
	return Progress{
		Emitted:       c.emitted,
		ElapsedMs:     elapsed,
		LastTimestamp: c.lastTs,
	}
}

// StatusNow returns the controller's current run state.
func (c *Controller) StatusNow() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
