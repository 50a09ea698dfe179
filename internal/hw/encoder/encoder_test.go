package encoder

import (
	"context"
	"errors"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/cjeanneret/DomeGo/internal/config"
	"github.com/cjeanneret/DomeGo/internal/dome"
	"github.com/goburrow/modbus"
)

func TestCountsToAngle(t *testing.T) {
	cases := []struct {
		name     string
		count    uint32
		cpr      int
		offset   float64
		reversed bool
		want     float64
	}{
		{"zero", 0, 4096, 0, false, 0},
		{"quarter", 1024, 4096, 0, false, 90},
		{"wraps_count", 4096 + 2048, 4096, 0, false, 180},
		{"offset", 1024, 4096, 300, false, 30},
		{"reversed", 1024, 4096, 0, true, 270},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := countsToAngle(tc.count, tc.cpr, tc.offset, tc.reversed); math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("countsToAngle = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestParseLine(t *testing.T) {
	good := map[string]float64{
		"A123.456":  123.456,
		" A0\r":     0,
		"A359.99\n": 359.99,
		"A-10":      350,
		"A720.5":    0.5,
	}
	for in, want := range good {
		got, err := parseLine(in)
		if err != nil || math.Abs(got-want) > 1e-9 {
			t.Errorf("parseLine(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	for _, in := range []string{"", "B12", "A", "Axyz", "ANaN"} {
		if _, err := parseLine(in); err == nil {
			t.Errorf("parseLine(%q) should fail", in)
		}
	}
}

type fakeHandler struct {
	modbus.ClientHandler
	connects, closes int
	connectErr       error
}

func (h *fakeHandler) Connect() error {
	h.connects++
	return h.connectErr
}

func (h *fakeHandler) Close() error {
	h.closes++
	return nil
}

type fakeClient struct {
	modbus.Client
	regs []byte
	err  error
	addr uint16
}

func (c *fakeClient) ReadHoldingRegisters(address, quantity uint16) ([]byte, error) {
	c.addr = address
	return c.regs, c.err
}

func TestModbusSource_ReadAndReconnect(t *testing.T) {
	h := &fakeHandler{}
	c := &fakeClient{regs: []byte{0x00, 0x00, 0x04, 0x00}} // 1024
	src := newModbusSource(config.ModbusEncoderConfig{Address: "/dev/ttyUSB0", Register: 10, CountsPerRev: 4096}, h, c)
	ctx := context.Background()

	got, err := src.Read(ctx)
	if err != nil || got != 90 {
		t.Fatalf("Read = %v, %v; want 90", got, err)
	}
	if c.addr != 10 {
		t.Errorf("read register %d, want 10", c.addr)
	}

	c.err = errors.New("crc error")
	if _, err := src.Read(ctx); err == nil {
		t.Fatal("expected read error")
	}
	if h.closes != 1 {
		t.Errorf("failed read should close the connection, closes=%d", h.closes)
	}

	c.err = nil
	if _, err := src.Read(ctx); err != nil {
		t.Fatal(err)
	}
	if h.connects != 2 {
		t.Errorf("expected a reconnect, connects=%d", h.connects)
	}
}

func TestLineSource_LatestOnce(t *testing.T) {
	pr, pw := io.Pipe()
	src := &LineSource{open: func() (io.ReadCloser, error) { return pr, nil }}
	ctx := context.Background()

	if _, err := src.Read(ctx); !errors.Is(err, ErrNoReading) {
		t.Fatalf("Read before data = %v, want ErrNoReading", err)
	}
	_, _ = io.WriteString(pw, "A10.0\r\ngarbage\r\nA12.5\r\n")

	deadline := time.Now().Add(time.Second)
	var got float64
	var err error
	for time.Now().Before(deadline) {
		got, err = src.Read(ctx)
		if err == nil && got == 12.5 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if got != 12.5 {
		t.Fatalf("Read = %v, %v; want 12.5", got, err)
	}
	if _, err := src.Read(ctx); !errors.Is(err, ErrNoReading) {
		t.Errorf("second Read without new data = %v, want ErrNoReading", err)
	}
	_ = src.Close()
}

func TestSimSource_FollowsStatusWithSlip(t *testing.T) {
	angle := 100.0
	src := NewSimSource(config.SimEncoderConfig{Slip: 0.1, StartDeg: 100}, func() (dome.Status, bool) {
		return dome.Status{Angle: angle}, true
	})
	ctx := context.Background()

	if got, _ := src.Read(ctx); got != 100 {
		t.Fatalf("first read = %v, want start angle 100", got)
	}
	angle = 110
	got, _ := src.Read(ctx)
	if math.Abs(got-109) > 1e-9 {
		t.Errorf("after a 10° move with 10%% slip = %v, want 109", got)
	}
	angle = 350 // 120° ccw across zero
	got, _ = src.Read(ctx)
	if want := dome.NormalizeAngle(109 - 120*0.9); math.Abs(got-want) > 1e-9 {
		t.Errorf("after wrap = %v, want %v", got, want)
	}
}

type countingObserver struct {
	mu       sync.Mutex
	samples  int
	failures int
}

func (o *countingObserver) Sample(dome.EncoderSample) {
	o.mu.Lock()
	o.samples++
	o.mu.Unlock()
}

func (o *countingObserver) Failure(error) {
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
}

type scriptedSource struct {
	mu     sync.Mutex
	n      int
	closed bool
}

func (s *scriptedSource) Read(context.Context) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	if s.n%2 == 0 {
		return 0, ErrNoReading
	}
	return float64(s.n), nil
}

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func TestReader_SamplesPublishesAndCloses(t *testing.T) {
	src := &scriptedSource{}
	obs := &countingObserver{}
	var mu sync.Mutex
	var published []dome.EncoderSample
	r, err := NewReader(src, 5*time.Millisecond, func(s dome.EncoderSample) error {
		mu.Lock()
		published = append(published, s)
		mu.Unlock()
		return nil
	}, obs)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := NewReader(src, time.Second, nil, nil); !errors.Is(err, ErrReaderOpen) {
		t.Errorf("second reader = %v, want ErrReaderOpen", err)
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(context.Background()) }()
	time.Sleep(60 * time.Millisecond)
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
	_ = r.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(published) < 2 {
		t.Fatalf("published %d samples", len(published))
	}
	for i := 1; i < len(published); i++ {
		if published[i].Seq <= published[i-1].Seq {
			t.Fatalf("sequence not increasing: %d then %d", published[i-1].Seq, published[i].Seq)
		}
	}
	latest, ok := r.Latest()
	if !ok || latest.Seq != published[len(published)-1].Seq {
		t.Errorf("Latest() = %+v, want the last published sample", latest)
	}
	if obs.samples != len(published) || obs.failures == 0 {
		t.Errorf("observer saw %d samples / %d failures", obs.samples, obs.failures)
	}
	if !src.closed {
		t.Error("Close should close the source")
	}

	r2, err := NewReader(src, time.Second, nil, nil)
	if err != nil {
		t.Fatalf("reader after Close: %v", err)
	}
	_ = r2.Close()
}

func TestNewSource(t *testing.T) {
	cfg := &config.Config{Encoder: config.EncoderConfig{Source: "sim"}}
	if _, err := NewSource(cfg, nil); err == nil {
		t.Error("sim source without status feed should fail")
	}
	src, err := NewSource(cfg, func() (dome.Status, bool) { return dome.Status{}, false })
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := src.(*SimSource); !ok {
		t.Errorf("got %T, want *SimSource", src)
	}
	cfg.Encoder.Source = "optical"
	if _, err := NewSource(cfg, nil); err == nil {
		t.Error("unknown source should fail")
	}
}
