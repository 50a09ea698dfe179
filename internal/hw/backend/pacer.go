package backend

import "time"

// Pacer spaces rising edges. It sleeps for most of the delay and busy-waits
// the final Spin window, which keeps jitter low without burning a core.
type Pacer struct {
	Spin time.Duration
	last time.Time
}

// Wait blocks until at least delay has passed since the last Mark.
func (p *Pacer) Wait(delay time.Duration) {
	if p.last.IsZero() {
		return
	}
	deadline := p.last.Add(delay)
	if rem := time.Until(deadline); rem > p.Spin {
		time.Sleep(rem - p.Spin)
	}
	for time.Now().Before(deadline) {
	}
}

// Mark records a rising edge. t must not be earlier than the edge itself.
func (p *Pacer) Mark(t time.Time) {
	p.last = t
}

// Reset forgets the last edge so the next Wait returns at once.
func (p *Pacer) Reset() {
	p.last = time.Time{}
}
