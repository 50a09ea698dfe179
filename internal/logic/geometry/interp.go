package geometry

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/cjeanneret/DomeGo/internal/config"
)

// ErrInvalidTable marks an interpolation table that cannot be used.
var ErrInvalidTable = errors.New("invalid interpolation table")

// Point is one measured pair: where the telescope points and where the
// dome slit must be for it to see out.
type Point struct {
	Telescope float64 `yaml:"telescope"`
	Dome      float64 `yaml:"dome"`
}

// Table maps a telescope azimuth to a dome azimuth. It is read-only after
// construction.
type Table struct {
	points []Point
}

type tableFile struct {
	Points []Point `yaml:"points"`
}

// NewTable validates and copies points. Keys must be finite and strictly
// increasing; at least two points are required.
func NewTable(points []Point) (*Table, error) {
	if len(points) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 points, got %d", ErrInvalidTable, len(points))
	}
	for i, p := range points {
		if !finite(p.Telescope) || !finite(p.Dome) {
			return nil, fmt.Errorf("%w: point %d is not finite", ErrInvalidTable, i)
		}
		if i > 0 && p.Telescope <= points[i-1].Telescope {
			return nil, fmt.Errorf("%w: telescope angles must be strictly increasing (point %d: %g after %g)",
				ErrInvalidTable, i, p.Telescope, points[i-1].Telescope)
		}
	}
	cp := make([]Point, len(points))
	copy(cp, points)
	return &Table{points: cp}, nil
}

// LoadTable reads a YAML file with a top-level "points" list.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTable, err)
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %w", ErrInvalidTable, path, err)
	}
	return NewTable(f.Points)
}

// FromConfig builds the table from inline points, or else from table_file.
// A relative table_file is resolved against baseDir (the config directory).
func FromConfig(ic config.InterpolationConfig, baseDir string) (*Table, error) {
	if len(ic.Points) > 0 {
		pts := make([]Point, len(ic.Points))
		for i, p := range ic.Points {
			pts[i] = Point{Telescope: p.Telescope, Dome: p.Dome}
		}
		return NewTable(pts)
	}
	path := ic.TableFile
	if path == "" {
		return nil, fmt.Errorf("%w: no points and no table_file", ErrInvalidTable)
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(baseDir, path)
	}
	return LoadTable(path)
}

// DomeAngle interpolates linearly between the bracketing points. Exact at
// table entries, clamped to the first/last dome angle outside the range.
// NaN maps to the first dome angle.
func (t *Table) DomeAngle(telescope float64) float64 {
	pts := t.points
	if math.IsNaN(telescope) || telescope <= pts[0].Telescope {
		return pts[0].Dome
	}
	last := pts[len(pts)-1]
	if telescope >= last.Telescope {
		return last.Dome
	}
	// First point with key >= telescope; i >= 1 here.
	i := sort.Search(len(pts), func(i int) bool { return pts[i].Telescope >= telescope })
	hi, lo := pts[i], pts[i-1]
	if hi.Telescope == telescope {
		return hi.Dome
	}
	f := (telescope - lo.Telescope) / (hi.Telescope - lo.Telescope)
	return lo.Dome + f*(hi.Dome-lo.Dome)
}

// Len returns the number of points.
func (t *Table) Len() int { return len(t.points) }

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
