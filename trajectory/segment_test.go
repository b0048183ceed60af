package trajectory

import (
	"math"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func sampleSegment(t *testing.T) (*Segment, State, State, []float64) {
	t.Helper()
	start := State{
		Pos: []float64{0.1, -0.2, 0.0},
		Vel: []float64{0.3, 0.0, -0.1},
		Acc: []float64{1.0, -2.0, 0.5},
	}
	end := State{
		Pos: []float64{0.4, 0.1, 0.02},
		Vel: []float64{0, 0, 0},
		Acc: []float64{0, 0, 0},
	}
	mid := []float64{0.25, -0.05, 0.08}
	seg := NewSegment(3)
	test.That(t, seg.Set(start, end, mid, 0.37), test.ShouldBeNil)
	return seg, start, end, mid
}

func TestSegmentReproducesBoundaries(t *testing.T) {
	seg, start, end, mid := sampleSegment(t)
	out := NewState(3)

	seg.Eval(0, out)
	for i := 0; i < 3; i++ {
		test.That(t, out.Pos[i], test.ShouldAlmostEqual, start.Pos[i], 1e-9)
		test.That(t, out.Vel[i], test.ShouldAlmostEqual, start.Vel[i], 1e-9)
		test.That(t, out.Acc[i], test.ShouldAlmostEqual, start.Acc[i], 1e-9)
	}

	seg.Eval(seg.Duration(), out)
	for i := 0; i < 3; i++ {
		test.That(t, out.Pos[i], test.ShouldAlmostEqual, end.Pos[i], 1e-9)
		test.That(t, out.Vel[i], test.ShouldAlmostEqual, end.Vel[i], 1e-9)
		test.That(t, out.Acc[i], test.ShouldAlmostEqual, end.Acc[i], 1e-9)
	}

	seg.Eval(seg.Duration()/2, out)
	for i := 0; i < 3; i++ {
		test.That(t, out.Pos[i], test.ShouldAlmostEqual, mid[i], 1e-9)
	}
}

func TestSegmentHoldsPastEnd(t *testing.T) {
	seg, _, end, _ := sampleSegment(t)
	out := NewState(3)
	seg.Eval(seg.Duration()+5, out)
	for i := 0; i < 3; i++ {
		test.That(t, out.Pos[i], test.ShouldAlmostEqual, end.Pos[i], 1e-9)
		test.That(t, out.Vel[i], test.ShouldAlmostEqual, 0, 1e-9)
	}

	before := NewState(3)
	seg.Eval(-1, before)
	seg.Eval(0, out)
	test.That(t, before.Pos, test.ShouldResemble, out.Pos)
}

func TestSegmentContinuity(t *testing.T) {
	seg, _, _, _ := sampleSegment(t)
	const dt = 0.001
	prev := NewState(3)
	out := NewState(3)
	seg.Eval(0, prev)
	for tm := dt; tm <= seg.Duration()+2*dt; tm += dt {
		seg.Eval(tm, out)
		for i := 0; i < 3; i++ {
			// position step bounded by a generous speed limit
			test.That(t, math.Abs(out.Pos[i]-prev.Pos[i]), test.ShouldBeLessThan, 5*dt)
		}
		prev.CopyFrom(out)
	}
}

func TestSegmentRearm(t *testing.T) {
	seg, _, _, _ := sampleSegment(t)
	start := NewState(3)
	end := NewState(3)
	end.Pos[0] = 1
	test.That(t, seg.Set(start, end, []float64{0.5, 0, 0}, 2), test.ShouldBeNil)
	test.That(t, seg.Duration(), test.ShouldEqual, 2.0)

	out := NewState(3)
	seg.Eval(2, out)
	test.That(t, out.Pos[0], test.ShouldAlmostEqual, 1, 1e-9)
}

func TestSegmentSetErrors(t *testing.T) {
	seg, _, end, mid := sampleSegment(t)
	dur := seg.Duration()

	err := seg.Set(NewState(3), end, mid, 0)
	test.That(t, errors.Is(err, ErrDuration), test.ShouldBeTrue)
	err = seg.Set(NewState(2), end, mid, 1)
	test.That(t, errors.Is(err, ErrDimension), test.ShouldBeTrue)
	err = seg.Set(NewState(3), end, mid[:2], 1)
	test.That(t, errors.Is(err, ErrDimension), test.ShouldBeTrue)

	// failed calls keep the previous curve
	test.That(t, seg.Duration(), test.ShouldEqual, dur)
}

func TestUnarmedSegmentEvaluatesToZero(t *testing.T) {
	seg := NewSegment(2)
	out := State{Pos: []float64{1, 1}, Vel: []float64{1, 1}, Acc: []float64{1, 1}}
	seg.Eval(0.1, out)
	test.That(t, seg.Armed(), test.ShouldBeFalse)
	test.That(t, out.Pos, test.ShouldResemble, []float64{0, 0})
}

func TestWaypoint(t *testing.T) {
	start := []float64{0, 0, 0}
	target := []float64{0.2, 0.1, 0.0}
	mid := make([]float64, 3)

	Waypoint(mid, start, target, Portion(0.4, 0), 0.05)
	test.That(t, mid[0], test.ShouldAlmostEqual, 0.1, 1e-12)
	test.That(t, mid[1], test.ShouldAlmostEqual, 0.05, 1e-12)
	test.That(t, mid[2], test.ShouldEqual, 0.05)

	// later in the swing the waypoint leans toward the target
	Waypoint(mid, start, target, Portion(0.4, 0.1), 0.05)
	test.That(t, mid[0], test.ShouldAlmostEqual, 0.75*0.2, 1e-12)
	test.That(t, mid[2], test.ShouldEqual, 0.05)

	// past half duration there is no clearance
	Waypoint(mid, start, target, Portion(0.4, 0.3), 0.05)
	test.That(t, mid[0], test.ShouldAlmostEqual, 0.1, 1e-12)
	test.That(t, mid[2], test.ShouldEqual, 0.0)
}
