package geometry

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/cjeanneret/DomeGo/internal/config"
)

func mustTable(t *testing.T, pts []Point) *Table {
	t.Helper()
	tbl, err := NewTable(pts)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return tbl
}

var measured = []Point{
	{Telescope: 0, Dome: 2},
	{Telescope: 90, Dome: 95},
	{Telescope: 180, Dome: 181},
	{Telescope: 270, Dome: 265},
	{Telescope: 360, Dome: 362},
}

func TestTable_ExactAtEntries(t *testing.T) {
	tbl := mustTable(t, measured)
	for _, p := range measured {
		if got := tbl.DomeAngle(p.Telescope); got != p.Dome {
			t.Errorf("DomeAngle(%v) = %v, want exactly %v", p.Telescope, got, p.Dome)
		}
	}
}

func TestTable_LinearBetweenEntries(t *testing.T) {
	tbl := mustTable(t, measured)
	cases := []struct {
		in, want float64
	}{
		{45, 48.5},
		{135, 138},
		{225, 223},
		{315, 313.5},
	}
	for _, tc := range cases {
		if got := tbl.DomeAngle(tc.in); math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("DomeAngle(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestTable_ClampsOutsideRange(t *testing.T) {
	tbl := mustTable(t, []Point{{10, 12}, {20, 25}})
	if got := tbl.DomeAngle(-5); got != 12 {
		t.Errorf("below range = %v, want 12", got)
	}
	if got := tbl.DomeAngle(400); got != 25 {
		t.Errorf("above range = %v, want 25", got)
	}
}

func TestTable_NonFiniteInput(t *testing.T) {
	tbl := mustTable(t, measured)
	cases := []struct {
		name string
		in   float64
		want float64
	}{
		{"nan", math.NaN(), 2},
		{"neg_inf", math.Inf(-1), 2},
		{"pos_inf", math.Inf(1), 362},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tbl.DomeAngle(tc.in); got != tc.want {
				t.Errorf("DomeAngle(%v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestNewTable_Rejects(t *testing.T) {
	cases := []struct {
		name string
		pts  []Point
	}{
		{"empty", nil},
		{"single", []Point{{0, 0}}},
		{"unsorted", []Point{{10, 0}, {5, 0}}},
		{"duplicate", []Point{{10, 0}, {10, 1}}},
		{"nan", []Point{{0, 0}, {math.NaN(), 1}}},
		{"inf_dome", []Point{{0, 0}, {1, math.Inf(1)}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewTable(tc.pts); !errors.Is(err, ErrInvalidTable) {
				t.Errorf("NewTable = %v, want ErrInvalidTable", err)
			}
		})
	}
}

func TestNewTable_CopiesInput(t *testing.T) {
	pts := []Point{{0, 0}, {10, 10}}
	tbl := mustTable(t, pts)
	pts[1].Dome = 99
	if got := tbl.DomeAngle(10); got != 10 {
		t.Errorf("table changed with its input slice: %v", got)
	}
}

func TestLoadTable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "table.yaml")
	content := "points:\n  - {telescope: 0, dome: 0}\n  - {telescope: 100, dome: 110}\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := LoadTable(path)
	if err != nil {
		t.Fatalf("LoadTable: %v", err)
	}
	if tbl.Len() != 2 || tbl.DomeAngle(50) != 55 {
		t.Errorf("loaded table gives %v at 50, want 55", tbl.DomeAngle(50))
	}

	if _, err := LoadTable(filepath.Join(dir, "missing.yaml")); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("missing file = %v, want ErrInvalidTable", err)
	}
	bad := filepath.Join(dir, "bad.yaml")
	_ = os.WriteFile(bad, []byte("points: [unclosed"), 0o644)
	if _, err := LoadTable(bad); !errors.Is(err, ErrInvalidTable) {
		t.Errorf("bad yaml = %v, want ErrInvalidTable", err)
	}
}

func TestFromConfig(t *testing.T) {
	dir := t.TempDir()
	content := "points:\n  - {telescope: 0, dome: 10}\n  - {telescope: 360, dome: 370}\n"
	if err := os.WriteFile(filepath.Join(dir, "table.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Run("relative file", func(t *testing.T) {
		tbl, err := FromConfig(config.InterpolationConfig{TableFile: "table.yaml"}, dir)
		if err != nil {
			t.Fatalf("FromConfig: %v", err)
		}
		if got := tbl.DomeAngle(180); got != 190 {
			t.Errorf("DomeAngle(180) = %v, want 190", got)
		}
	})

	t.Run("inline points win", func(t *testing.T) {
		ic := config.InterpolationConfig{
			TableFile: "table.yaml",
			Points:    []config.TablePoint{{Telescope: 0, Dome: 0}, {Telescope: 10, Dome: 20}},
		}
		tbl, err := FromConfig(ic, dir)
		if err != nil {
			t.Fatalf("FromConfig: %v", err)
		}
		if got := tbl.DomeAngle(5); got != 10 {
			t.Errorf("DomeAngle(5) = %v, want 10", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if _, err := FromConfig(config.InterpolationConfig{}, dir); !errors.Is(err, ErrInvalidTable) {
			t.Errorf("err = %v, want ErrInvalidTable", err)
		}
	})
}

func TestFromConfig_ShippedTable(t *testing.T) {
	tbl, err := FromConfig(config.InterpolationConfig{TableFile: "table.yaml"}, filepath.Join("..", "..", "..", "configs"))
	if err != nil {
		t.Fatalf("shipped table does not load: %v", err)
	}
	if got := tbl.DomeAngle(180); got != 180 {
		t.Errorf("DomeAngle(180) = %v, want 180", got)
	}
}
