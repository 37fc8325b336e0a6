// Package bridge coordinates the frame stack and the shared context
// layer: it observes frame closes, accumulates the closed frames, and
// pushes the important ones to shared context on a fixed interval. It also
// pulls suggested context at session start.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"strata/pkg/protocol"
	"strata/pkg/sharedctx"
)

// DefaultInterval is the periodic sync cadence.
const DefaultInterval = 60 * time.Second

// maxTracked bounds the closed frames remembered for a session; the
// oldest are dropped first, mirroring the key-frame cap downstream.
const maxTracked = 200

// Config wires a Coordinator.
type Config struct {
	Layer     *sharedctx.Layer
	ProjectID string
	Branch    string
	SessionID string
	Interval  time.Duration // default 60s
	MinScore  float64       // importance threshold for pushing (default 0.5)
	Tags      []string
	Logger    *slog.Logger
}

// Coordinator subscribes to frame lifecycle events and runs the periodic
// sync timer. Because the shared context layer replaces the whole session
// summary on each push, the coordinator keeps the session's closed frames
// and pushes the full set, skipping ticks when nothing changed. The timer
// never overlaps itself: a tick arriving while a sync is in flight is
// skipped, and a failed sync is logged, not fatal.
type Coordinator struct {
	cfg Config
	log *slog.Logger

	mu     sync.Mutex
	closed []*protocol.Frame
	dirty  bool
	gen    uint64

	inFlight atomic.Bool
	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup
}

// New creates a Coordinator. Register it on the stack manager with
// Manager.Notify, then call Start.
func New(cfg Config) *Coordinator {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.MinScore == 0 {
		cfg.MinScore = 0.5
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Branch == "" {
		cfg.Branch = protocol.DefaultBranch
	}
	return &Coordinator{
		cfg:  cfg,
		log:  cfg.Logger,
		stop: make(chan struct{}),
	}
}

// FrameCreated implements stack.FrameObserver. Creation is not synced.
func (c *Coordinator) FrameCreated(_ *protocol.Frame) {}

// FrameClosed implements stack.FrameObserver: the closed frame joins the
// session's tracked set for the next sync.
func (c *Coordinator) FrameClosed(f *protocol.Frame) {
	c.mu.Lock()
	c.closed = append(c.closed, f)
	if len(c.closed) > maxTracked {
		c.closed = c.closed[len(c.closed)-maxTracked:]
	}
	c.dirty = true
	c.gen++
	c.mu.Unlock()
}

// Pending returns the number of closed frames tracked for sync.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.closed)
}

// Start launches the periodic sync goroutine. Stop cancels it.
func (c *Coordinator) Start(ctx context.Context) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(c.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.tick(ctx)
			case <-c.stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop cancels the sync timer and waits for it to exit. Safe to call more
// than once.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
	c.wg.Wait()
}

// tick runs one guarded sync pass.
func (c *Coordinator) tick(ctx context.Context) {
	if !c.inFlight.CompareAndSwap(false, true) {
		c.log.Debug("sync already in flight, skipping tick")
		return
	}
	defer c.inFlight.Store(false)

	if err := c.sync(ctx); err != nil {
		c.log.Warn("periodic sync failed", "error", err)
	}
}

// SyncNow pushes the tracked frames immediately, outside the timer.
func (c *Coordinator) SyncNow(ctx context.Context) error {
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil
	}
	defer c.inFlight.Store(false)
	return c.sync(ctx)
}

// sync pushes the session's closed frames when anything changed since the
// last successful push. Caller holds the in-flight guard. On failure the
// dirty flag stays set so the next tick retries.
func (c *Coordinator) sync(ctx context.Context) error {
	frames, gen, ok := c.snapshot()
	if !ok {
		return nil
	}

	_, err := c.cfg.Layer.Add(ctx,
		sharedctx.Query{ProjectID: c.cfg.ProjectID, Branch: c.cfg.Branch},
		frames,
		sharedctx.AddOpts{
			SessionID: c.cfg.SessionID,
			MinScore:  c.cfg.MinScore,
			Tags:      c.cfg.Tags,
		},
	)
	if err != nil {
		return err
	}

	c.markSynced(gen)
	c.log.Debug("synced frames to shared context", "count", len(frames))
	return nil
}

// snapshot copies the tracked frames for a push. ok is false when nothing
// changed since the last push.
func (c *Coordinator) snapshot() (frames []*protocol.Frame, gen uint64, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil, 0, false
	}
	frames = make([]*protocol.Frame, len(c.closed))
	copy(frames, c.closed)
	return frames, c.gen, true
}

// markSynced clears the dirty flag, but only if no frame closed since the
// snapshot was taken. A close that landed while the push was in flight
// stays pending for the next sync.
func (c *Coordinator) markSynced(gen uint64) {
	c.mu.Lock()
	if c.gen == gen {
		c.dirty = false
	}
	c.mu.Unlock()
}

// SuggestOnStart pulls the auto-discovered context bundle for session
// bootstrap.
func (c *Coordinator) SuggestOnStart(ctx context.Context) (*sharedctx.Discovered, error) {
	return c.cfg.Layer.AutoDiscover(ctx, c.cfg.ProjectID, c.cfg.Branch)
}
