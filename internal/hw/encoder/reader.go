package encoder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
	"github.com/cjeanneret/DomeGo/internal/dome"
)

// Observer is told about every sampling attempt.
type Observer interface {
	Sample(s dome.EncoderSample)
	Failure(err error)
}

var open atomic.Bool

// Reader owns the process's encoder source. Only one may be open at a time;
// Close releases it. Latest is safe to call from any goroutine.
type Reader struct {
	src      Source
	interval time.Duration
	publish  func(dome.EncoderSample) error
	obs      Observer

	mu     sync.RWMutex
	latest dome.EncoderSample
	have   bool
	seq    uint64

	done      chan struct{}
	closeOnce sync.Once
}

// NewReader takes ownership of src. publish may be nil.
func NewReader(src Source, interval time.Duration, publish func(dome.EncoderSample) error, obs Observer) (*Reader, error) {
	if !open.CompareAndSwap(false, true) {
		return nil, ErrReaderOpen
	}
	return &Reader{
		src:      src,
		interval: interval,
		publish:  publish,
		obs:      obs,
		seq:      uint64(time.Now().UnixNano()),
		done:     make(chan struct{}),
	}, nil
}

// Run samples at the fixed interval until ctx is done or Close is called.
func (r *Reader) Run(ctx context.Context) error {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		r.sampleOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-r.done:
			return nil
		case <-t.C:
		}
	}
}

func (r *Reader) sampleOnce(ctx context.Context) {
	angle, err := r.src.Read(ctx)
	if err != nil {
		if !errors.Is(err, ErrNoReading) && ctx.Err() == nil {
			debug.Verbose("encoder read: %v", err)
		}
		if r.obs != nil {
			r.obs.Failure(err)
		}
		return
	}

	r.mu.Lock()
	r.seq++
	s := dome.EncoderSample{Angle: angle, Timestamp: time.Now(), Seq: r.seq}
	r.latest, r.have = s, true
	r.mu.Unlock()

	debug.Trace("encoder: %.3f° seq=%d", s.Angle, s.Seq)
	if r.obs != nil {
		r.obs.Sample(s)
	}
	if r.publish != nil {
		if err := r.publish(s); err != nil {
			debug.Error(err)
		}
	}
}

// Latest returns the most recent sample.
func (r *Reader) Latest() (dome.EncoderSample, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest, r.have
}

// Close stops Run and closes the source. It is safe to call twice.
func (r *Reader) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.src.Close()
		open.Store(false)
	})
	return err
}
