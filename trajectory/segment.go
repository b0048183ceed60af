// Package trajectory provides boundary-interpolated curve segments for swing
// motions.
package trajectory

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// numCoef is the number of polynomial coefficients per axis. Six boundary
// conditions plus one interior waypoint fix a degree-6 polynomial.
const numCoef = 7

var (
	// ErrDuration is returned for a non-positive segment duration.
	ErrDuration = errors.New("segment duration must be positive")
	// ErrDimension is returned when boundary vectors do not match the segment.
	ErrDimension = errors.New("boundary dimension mismatch")
)

// State is a position, velocity and acceleration for every axis.
type State struct {
	Pos []float64
	Vel []float64
	Acc []float64
}

// NewState returns a zero state of the given dimension.
func NewState(dim int) State {
	return State{
		Pos: make([]float64, dim),
		Vel: make([]float64, dim),
		Acc: make([]float64, dim),
	}
}

// CopyFrom overwrites s with other.
func (s State) CopyFrom(other State) {
	copy(s.Pos, other.Pos)
	copy(s.Vel, other.Vel)
	copy(s.Acc, other.Acc)
}

func (s State) dim() int {
	return len(s.Pos)
}

func (s State) check(dim int) error {
	if len(s.Pos) != dim || len(s.Vel) != dim || len(s.Acc) != dim {
		return errors.Wrapf(ErrDimension, "want %d axes", dim)
	}
	return nil
}

// Segment is a curve over [0, Duration] through a start state, an interior
// waypoint at half duration and an end state. A segment is re-armed with Set
// rather than recreated.
type Segment struct {
	dim      int
	duration float64
	coef     [][numCoef]float64
	armed    bool
}

// NewSegment returns an unarmed segment with dim axes.
func NewSegment(dim int) *Segment {
	return &Segment{dim: dim, coef: make([][numCoef]float64, dim)}
}

// Dim returns the number of axes.
func (s *Segment) Dim() int {
	return s.dim
}

// Duration returns the armed duration, or zero.
func (s *Segment) Duration() float64 {
	return s.duration
}

// Armed reports whether Set has succeeded at least once.
func (s *Segment) Armed() bool {
	return s.armed
}

// interiorSystem maps (a3..a6) to end position, end velocity and end
// acceleration in normalized time, then to the position at s = 0.5.
var interiorSystem = mat.NewDense(4, 4, []float64{
	1, 1, 1, 1,
	3, 4, 5, 6,
	6, 12, 20, 30,
	1.0 / 8, 1.0 / 16, 1.0 / 32, 1.0 / 64,
})

// Set re-arms the segment. On error the previous curve is kept.
func (s *Segment) Set(start, end State, mid []float64, duration float64) error {
	if duration <= 0 || math.IsNaN(duration) || math.IsInf(duration, 0) {
		return errors.Wrapf(ErrDuration, "got %v", duration)
	}
	if err := start.check(s.dim); err != nil {
		return errors.Wrap(err, "start")
	}
	if err := end.check(s.dim); err != nil {
		return errors.Wrap(err, "end")
	}
	if len(mid) != s.dim {
		return errors.Wrapf(ErrDimension, "waypoint has %d axes, want %d", len(mid), s.dim)
	}

	// Coefficients are in normalized time u = t / duration.
	d := duration
	rhs := mat.NewDense(4, s.dim, nil)
	low := make([][3]float64, s.dim)
	for i := 0; i < s.dim; i++ {
		a0 := start.Pos[i]
		a1 := start.Vel[i] * d
		a2 := start.Acc[i] * d * d / 2
		low[i] = [3]float64{a0, a1, a2}
		rhs.Set(0, i, end.Pos[i]-a0-a1-a2)
		rhs.Set(1, i, end.Vel[i]*d-a1-2*a2)
		rhs.Set(2, i, end.Acc[i]*d*d-2*a2)
		rhs.Set(3, i, mid[i]-a0-a1/2-a2/4)
	}
	var high mat.Dense
	if err := high.Solve(interiorSystem, rhs); err != nil {
		return errors.Wrap(err, "failed to fit segment")
	}
	for i := 0; i < s.dim; i++ {
		s.coef[i][0], s.coef[i][1], s.coef[i][2] = low[i][0], low[i][1], low[i][2]
		for k := 0; k < 4; k++ {
			s.coef[i][3+k] = high.At(k, i)
		}
	}
	s.duration = duration
	s.armed = true
	return nil
}

// Eval writes the state at time t into out. t is clamped to [0, Duration], so
// queries past the end hold the terminal state.
func (s *Segment) Eval(t float64, out State) {
	if !s.armed {
		for i := range out.Pos {
			out.Pos[i], out.Vel[i], out.Acc[i] = 0, 0, 0
		}
		return
	}
	d := s.duration
	u := math.Max(0, math.Min(t, d)) / d
	for i := 0; i < s.dim && i < out.dim(); i++ {
		c := &s.coef[i]
		var p, v, a float64
		// Horner in u.
		for k := numCoef - 1; k >= 0; k-- {
			p = p*u + c[k]
		}
		for k := numCoef - 1; k >= 1; k-- {
			v = v*u + float64(k)*c[k]
		}
		for k := numCoef - 1; k >= 2; k-- {
			a = a*u + float64(k*(k-1))*c[k]
		}
		out.Pos[i] = p
		out.Vel[i] = v / d
		out.Acc[i] = a / (d * d)
	}
}

// Waypoint writes into mid the interior waypoint between start and target.
// portion is (duration/2 - elapsed) / duration. While it is positive the
// waypoint blends toward start by portion and its last axis is set to height;
// otherwise it is the plain midpoint.
func Waypoint(mid, start, target []float64, portion, height float64) {
	n := len(mid)
	if portion > 0 {
		for i := 0; i < n; i++ {
			mid[i] = portion*start[i] + (1-portion)*target[i]
		}
		mid[n-1] = height
		return
	}
	for i := 0; i < n; i++ {
		mid[i] = (start[i] + target[i]) / 2
	}
}

// Portion returns the waypoint blend factor for a segment of total length
// endTime planned at elapsed time.
func Portion(endTime, elapsed float64) float64 {
	return (endTime/2 - elapsed) / endTime
}
