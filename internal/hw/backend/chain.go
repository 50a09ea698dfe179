package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
)

// Segment is one queued pulse: direction and the minimum spacing from the
// previous rising edge.
type Segment struct {
	Dir   dome.Direction
	Delay time.Duration
}

// Player plays pulse chains on a peripheral that does not depend on process
// scheduling (DMA engine, pulse coprocessor).
type Player interface {
	Setup(ctx context.Context, pins Pins, pulseWidth time.Duration) error
	// Play enqueues a chain. It blocks while the peripheral queue is full.
	Play(ctx context.Context, chunk []Segment) error
	// Drain waits until the peripheral queue is empty.
	Drain(ctx context.Context) error
	Close() error
}

// Chain buffers steps into fixed-size chunks and hands them to a Player.
// Step returns as soon as the pulse is buffered, so a move's steps are
// accepted ahead of their playback.
//
// Play and Drain never run under mu. Each is bounded by the play time still
// queued on the peripheral plus margin; a peripheral that does not make room
// in that time is stalled and the call fails with ErrStepTimeout.
type Chain struct {
	player    Player
	chunkSize int
	margin    time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// play serialises calls into the player.
	play chan struct{}

	mu        sync.Mutex
	buf       []Segment
	busyUntil time.Time // when everything submitted should have played
}

func NewChain(player Player, chunkSize int, margin time.Duration) *Chain {
	if chunkSize <= 0 {
		chunkSize = 32
	}
	if margin <= 0 {
		margin = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Chain{
		player:    player,
		chunkSize: chunkSize,
		margin:    margin,
		ctx:       ctx,
		cancel:    cancel,
		play:      make(chan struct{}, 1),
		buf:       make([]Segment, 0, chunkSize),
	}
}

func (c *Chain) Configure(pins Pins, pulseWidth time.Duration) error {
	if err := c.player.Setup(c.ctx, pins, pulseWidth); err != nil {
		return fmt.Errorf("%w: chain setup: %w", ErrHardware, err)
	}
	debug.Verbose("Chain backend: chunk=%d pulse=%v margin=%v", c.chunkSize, pulseWidth, c.margin)
	return nil
}

func (c *Chain) Step(dir dome.Direction, delay time.Duration) error {
	c.mu.Lock()
	c.buf = append(c.buf, Segment{Dir: dir, Delay: delay})
	if len(c.buf) < c.chunkSize {
		c.mu.Unlock()
		return nil
	}
	chunk := c.takeLocked()
	c.mu.Unlock()
	return c.submit(c.ctx, chunk)
}

// StepBudget is how long a Step with this delay may legitimately block:
// when it completes a chunk it waits for queue room.
func (c *Chain) StepBudget(delay time.Duration) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf)+1 < c.chunkSize {
		return delay
	}
	return c.boundLocked(time.Now(), playTime(c.buf)+delay).Sub(time.Now())
}

func (c *Chain) takeLocked() []Segment {
	if len(c.buf) == 0 {
		return nil
	}
	chunk := make([]Segment, len(c.buf))
	copy(chunk, c.buf)
	c.buf = c.buf[:0]
	return chunk
}

// boundLocked is the deadline for a player call that adds extra play time.
func (c *Chain) boundLocked(now time.Time, extra time.Duration) time.Time {
	start := now
	if c.busyUntil.After(now) {
		start = c.busyUntil
	}
	return start.Add(extra + c.margin)
}

func (c *Chain) acquire(ctx context.Context) error {
	select {
	case c.play <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *Chain) release() { <-c.play }

func (c *Chain) submit(ctx context.Context, chunk []Segment) error {
	if len(chunk) == 0 {
		return nil
	}
	if err := c.acquire(ctx); err != nil {
		return wrapHardware("chain play", err)
	}
	defer c.release()

	d := playTime(chunk)
	c.mu.Lock()
	deadline := c.boundLocked(time.Now(), d)
	c.mu.Unlock()

	pctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	debug.Trace("Chain: submit %d pulses", len(chunk))
	if err := c.player.Play(pctx, chunk); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: chain queue stalled, %d pulses dropped", ErrStepTimeout, len(chunk))
		}
		return wrapHardware("chain play", err)
	}

	c.mu.Lock()
	now := time.Now()
	if c.busyUntil.Before(now) {
		c.busyUntil = now
	}
	c.busyUntil = c.busyUntil.Add(d)
	c.mu.Unlock()
	return nil
}

// Flush submits the partial chunk and waits for the peripheral to drain.
func (c *Chain) Flush(ctx context.Context) error {
	c.mu.Lock()
	chunk := c.takeLocked()
	c.mu.Unlock()
	if err := c.submit(ctx, chunk); err != nil {
		return err
	}

	if err := c.acquire(ctx); err != nil {
		return wrapHardware("chain drain", err)
	}
	defer c.release()
	c.mu.Lock()
	deadline := c.boundLocked(time.Now(), 0)
	c.mu.Unlock()

	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := c.player.Drain(dctx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: chain did not drain", ErrStepTimeout)
		}
		return wrapHardware("chain drain", err)
	}
	c.mu.Lock()
	c.busyUntil = time.Time{}
	c.mu.Unlock()
	return nil
}

// Shutdown discards unsubmitted pulses and closes the player.
func (c *Chain) Shutdown() error {
	c.cancel()
	c.mu.Lock()
	c.buf = c.buf[:0]
	c.mu.Unlock()
	return c.player.Close()
}

func playTime(segs []Segment) time.Duration {
	var d time.Duration
	for _, s := range segs {
		d += s.Delay
	}
	return d
}
