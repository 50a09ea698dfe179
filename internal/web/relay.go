package web

import (
	"context"
	"sync"
	"time"

	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/cjeanneret/DomeGo/internal/ipc"
)

// StatusRelay polls status.json and pushes every new snapshot to the
// broadcaster.
type StatusRelay struct {
	poller   *ipc.Poller[dome.Status]
	b        *StatusBroadcaster
	interval time.Duration
	maxAge   time.Duration

	mu   sync.RWMutex
	last ipc.Reading[dome.Status]
}

func NewStatusRelay(dir string, b *StatusBroadcaster, interval, maxAge time.Duration) *StatusRelay {
	return &StatusRelay{
		poller:   ipc.NewPoller[dome.Status](dir, ipc.StatusFile),
		b:        b,
		interval: interval,
		maxAge:   maxAge,
	}
}

// Poll reads the snapshot once.
func (r *StatusRelay) Poll() {
	rd := r.poller.Poll()
	r.mu.Lock()
	r.last = rd
	r.mu.Unlock()
	if rd.Updated && r.b != nil {
		r.b.BroadcastStatus(rd.Value)
	}
}

// Latest returns the last snapshot, or false when there is none or it is
// older than the configured max age.
func (r *StatusRelay) Latest(now time.Time) (dome.Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last.Stale(now, r.maxAge) {
		return dome.Status{}, false
	}
	return r.last.Value, true
}

func (r *StatusRelay) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		r.Poll()
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
