package gpio

import (
	"errors"
	"testing"
)

func TestNewDriver_Mock(t *testing.T) {
	d, err := NewDriver("mock", "")
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	if _, ok := d.(*MockDriver); !ok {
		t.Errorf("expected *MockDriver, got %T", d)
	}
}

func TestNewDriver_Unknown(t *testing.T) {
	if _, err := NewDriver("sysfs", ""); err == nil {
		t.Error("expected error for unknown driver kind")
	}
}

func TestMockDriver_RemembersLevels(t *testing.T) {
	m := NewMockDriver()
	_ = m.SetupPin(17, Output)
	if err := m.WritePin(17, High); err != nil {
		t.Fatal(err)
	}
	lvl, err := m.ReadPin(17)
	if err != nil || lvl != High {
		t.Errorf("ReadPin = %v, %v; want High, nil", lvl, err)
	}
	if m.Writes() != 1 {
		t.Errorf("Writes() = %d, want 1", m.Writes())
	}
}

func TestMockDriver_FailWrite(t *testing.T) {
	m := NewMockDriver()
	boom := errors.New("line lost")
	m.FailWrite[27] = boom
	if err := m.WritePin(27, High); !errors.Is(err, boom) {
		t.Errorf("WritePin error = %v, want %v", err, boom)
	}
	if m.Writes() != 0 {
		t.Error("failed write should not be counted")
	}
}
