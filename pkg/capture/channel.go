package capture

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// ChannelStats counts what happened to published frames.
type ChannelStats struct {
	// Delivered frames were handed to the listener.
	Delivered uint64 `json:"delivered"`
	// Dropped frames were superseded, stale, or arrived while not streaming.
	Dropped uint64 `json:"dropped"`
	// Skipped counts wake-ups that found no frame.
	Skipped uint64 `json:"skipped"`
}

// frameChannel is a single-slot mailbox between a producer and one delivery
// goroutine. A newer frame overwrites an undelivered one; there is no queue.
//
// Delivery is serialized on the goroutine started by start. Frames are
// delivered in non-decreasing Seq order, possibly with gaps.
type frameChannel struct {
	deliver func(*FrameBuffer)
	logger  *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	pending  *FrameBuffer // nil = nothing to deliver
	signaled bool
	lastSeq  uint64
	anySeen  bool
	started  bool
	closed   bool
	done     chan struct{}

	delivered atomic.Uint64
	dropped   atomic.Uint64
	skipped   atomic.Uint64
}

func newFrameChannel(deliver func(*FrameBuffer), logger *slog.Logger) *frameChannel {
	if logger == nil {
		logger = slog.Default()
	}
	c := &frameChannel{
		deliver: deliver,
		logger:  logger,
		done:    make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Publish implements FrameSink. It never blocks on delivery.
func (c *frameChannel) Publish(buf *FrameBuffer) {
	if buf == nil {
		return
	}

	c.mu.Lock()
	if !c.started || c.closed {
		c.mu.Unlock()
		c.drop(buf)
		return
	}
	if c.anySeen && buf.Seq < c.lastSeq {
		c.mu.Unlock()
		c.drop(buf)
		return
	}
	if c.pending != nil && buf.Seq < c.pending.Seq {
		c.mu.Unlock()
		c.drop(buf)
		return
	}

	superseded := c.pending
	c.pending = buf
	c.signaled = true
	c.cond.Signal()
	c.mu.Unlock()

	if superseded != nil {
		c.drop(superseded)
	}
}

// wake signals the delivery goroutine without a frame. The goroutine finds
// the slot empty and goes back to sleep without calling the listener.
func (c *frameChannel) wake() {
	c.mu.Lock()
	c.signaled = true
	c.cond.Signal()
	c.mu.Unlock()
}

// start launches the delivery goroutine. Calling start twice is a no-op.
func (c *frameChannel) start() {
	c.mu.Lock()
	if c.started || c.closed {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	go c.run()
}

func (c *frameChannel) run() {
	defer close(c.done)

	for {
		c.mu.Lock()
		for !c.signaled && !c.closed {
			c.cond.Wait()
		}
		if c.closed {
			c.mu.Unlock()
			return
		}
		c.signaled = false
		buf := c.pending
		c.pending = nil
		if buf != nil {
			c.lastSeq = buf.Seq
			c.anySeen = true
		}
		c.mu.Unlock()

		if buf == nil {
			c.skipped.Add(1)
			continue
		}

		c.deliver(buf)
		buf.Release()
		c.delivered.Add(1)
	}
}

// close stops delivery, waits for an in-flight callback to return and
// releases any undelivered frame. It must not be called from the delivery
// goroutine itself.
func (c *frameChannel) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	started := c.started
	pending := c.pending
	c.pending = nil
	c.cond.Broadcast()
	c.mu.Unlock()

	if pending != nil {
		c.drop(pending)
	}
	if started {
		<-c.done
	}
}

func (c *frameChannel) drop(buf *FrameBuffer) {
	c.dropped.Add(1)
	buf.Release()
}

func (c *frameChannel) stats() ChannelStats {
	return ChannelStats{
		Delivered: c.delivered.Load(),
		Dropped:   c.dropped.Load(),
		Skipped:   c.skipped.Load(),
	}
}
