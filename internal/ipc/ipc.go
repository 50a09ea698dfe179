// Package ipc moves whole snapshots between processes through files in a
// shared directory. Writers replace a snapshot atomically; readers poll.
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cjeanneret/DomeGo/internal/debug"
)

// Snapshot files in the shared directory.
const (
	StatusFile  = "status.json"  // motion -> controller, encoder simulator
	CommandFile = "command.json" // controller -> motion
	EncoderFile = "encoder.json" // encoder -> motion
)

type envelope struct {
	Seq       uint64          `json:"seq"`
	WrittenAt time.Time       `json:"written_at"`
	CRC32     uint32          `json:"crc32"`
	Payload   json.RawMessage `json:"payload"`
}

// Publisher owns one snapshot file.
type Publisher[T any] struct {
	dir  string
	name string

	mu  sync.Mutex
	seq uint64
}

// NewPublisher creates dir if needed. Sequence numbers start from the wall
// clock so they keep increasing across restarts.
func NewPublisher[T any](dir, name string) (*Publisher[T], error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create ipc dir %s: %w", dir, err)
	}
	return &Publisher[T]{dir: dir, name: name, seq: uint64(time.Now().UnixNano())}, nil
}

// Path returns the snapshot file path.
func (p *Publisher[T]) Path() string {
	return filepath.Join(p.dir, p.name)
}

// Seq returns the sequence number of the last write.
func (p *Publisher[T]) Seq() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seq
}

// Publish writes v to a temp file and renames it over the snapshot.
func (p *Publisher[T]) Publish(v T) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", p.name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	env := envelope{
		Seq:       p.seq + 1,
		WrittenAt: time.Now(),
		CRC32:     crc32.ChecksumIEEE(payload),
		Payload:   payload,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode %s envelope: %w", p.name, err)
	}

	tmp, err := os.CreateTemp(p.dir, p.name+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", p.name, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write %s: %w", p.name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close %s: %w", p.name, err)
	}
	if err := os.Rename(tmp.Name(), p.Path()); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace %s: %w", p.name, err)
	}
	p.seq = env.Seq
	return nil
}

// Run publishes get() every interval until ctx is done. Write errors are
// logged and retried on the next tick.
func (p *Publisher[T]) Run(ctx context.Context, interval time.Duration, get func() T) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := p.Publish(get()); err != nil {
			debug.Error(err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}

// Reading is the last good snapshot a Poller has seen.
type Reading[T any] struct {
	Value     T
	Seq       uint64
	WrittenAt time.Time
	Valid     bool // at least one good snapshot was read
	Updated   bool // this poll returned a snapshot not seen before
}

// Stale reports whether there is no good snapshot or it is older than maxAge.
func (r Reading[T]) Stale(now time.Time, maxAge time.Duration) bool {
	return !r.Valid || now.Sub(r.WrittenAt) > maxAge
}

// Age returns how old the snapshot is, or -1 when there is none.
func (r Reading[T]) Age(now time.Time) time.Duration {
	if !r.Valid {
		return -1
	}
	return now.Sub(r.WrittenAt)
}

// Poller reads one snapshot file. It is not safe for concurrent use.
type Poller[T any] struct {
	path string
	last Reading[T]
	bad  int
}

func NewPoller[T any](dir, name string) *Poller[T] {
	return &Poller[T]{path: filepath.Join(dir, name)}
}

// Poll reads the file. A missing, torn or corrupt file is "no new data":
// the previous good reading is returned with Updated false.
func (p *Poller[T]) Poll() Reading[T] {
	r, err := p.read()
	if err != nil {
		p.bad++
		if !os.IsNotExist(err) {
			debug.Verbose("ipc: %s: %v", filepath.Base(p.path), err)
		}
		prev := p.last
		prev.Updated = false
		return prev
	}
	if p.last.Valid && r.Seq == p.last.Seq {
		p.last.Updated = false
		return p.last
	}
	r.Valid, r.Updated = true, true
	p.last = r
	return r
}

// Last returns the last good reading without touching the file.
func (p *Poller[T]) Last() Reading[T] {
	r := p.last
	r.Updated = false
	return r
}

// Rejected returns how many polls found no usable snapshot.
func (p *Poller[T]) Rejected() int { return p.bad }

func (p *Poller[T]) read() (Reading[T], error) {
	var r Reading[T]
	data, err := os.ReadFile(p.path)
	if err != nil {
		return r, err
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return r, fmt.Errorf("decode envelope: %w", err)
	}
	if crc32.ChecksumIEEE(env.Payload) != env.CRC32 {
		return r, fmt.Errorf("crc mismatch on seq %d", env.Seq)
	}
	if err := json.Unmarshal(env.Payload, &r.Value); err != nil {
		return r, fmt.Errorf("decode payload: %w", err)
	}
	r.Seq, r.WrittenAt = env.Seq, env.WrittenAt
	return r, nil
}
