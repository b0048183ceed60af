package phase

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/clintpurser/biped/config"
	"github.com/clintpurser/biped/state"
)

// recorder ends after a fixed number of ticks and logs every call.
type recorder struct {
	name    string
	length  int
	steps   int
	events  *[]string
	failAt  int
	entered bool
}

func (r *recorder) Initialize(*config.Config) error { return nil }

func (r *recorder) FirstVisit() error {
	r.steps = 0
	r.entered = true
	*r.events = append(*r.events, r.name+":first")
	return nil
}

func (r *recorder) OneStep(cmd *state.Command) error {
	if !r.entered {
		return errors.New("OneStep before FirstVisit")
	}
	if r.failAt > 0 && r.steps+1 == r.failAt {
		return errors.New("solve failed")
	}
	r.steps++
	cmd.Torque[0] = float64(r.steps)
	*r.events = append(*r.events, r.name+":step")
	return nil
}

func (r *recorder) LastVisit() {
	r.entered = false
	*r.events = append(*r.events, r.name+":last")
}

func (r *recorder) EndOfPhase() bool { return r.length > 0 && r.steps >= r.length }

func compact(events []string) []string {
	var out []string
	for i, e := range events {
		if i > 0 && e == events[i-1] {
			continue
		}
		out = append(out, e)
	}
	return out
}

func TestSequencerOrdering(t *testing.T) {
	var events []string
	a := &recorder{name: "a", length: 2, events: &events}
	b := &recorder{name: "b", length: 3, events: &events}
	var advanced []int
	seq, err := NewSequencer([]Slot{{"a", a}, {"b", b}, {"a2", a}}, 1, func(finished int) {
		advanced = append(advanced, finished)
		events = append(events, fmt.Sprintf("advance:%d", finished))
	}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	var cmd state.Command
	for i := 0; i < 2+3+2+3; i++ {
		test.That(t, seq.Step(&cmd), test.ShouldBeNil)
	}
	test.That(t, compact(events), test.ShouldResemble, []string{
		"a:first", "a:step", "a:last", "advance:0",
		"b:first", "b:step", "b:last", "advance:1",
		"a:first", "a:step", "a:last", "advance:2",
		"b:first", "b:step", "b:last", "advance:1",
	})
	test.That(t, advanced, test.ShouldResemble, []int{0, 1, 2, 1})

	// the loop restarts at slot 1, not slot 0
	st := seq.Status()
	test.That(t, st.Slot, test.ShouldEqual, 2)
	test.That(t, st.Name, test.ShouldEqual, "a2")
	test.That(t, st.State, test.ShouldEqual, NotStarted)
	test.That(t, st.Cycles, test.ShouldEqual, 1)
}

func TestSequencerNeverAdvancesEarly(t *testing.T) {
	var events []string
	a := &recorder{name: "a", length: 5, events: &events}
	seq, err := NewSequencer([]Slot{{"a", a}, {"b", &recorder{name: "b", events: &events}}}, 0, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	var cmd state.Command
	for i := 0; i < 4; i++ {
		test.That(t, seq.Step(&cmd), test.ShouldBeNil)
		test.That(t, seq.Status().Slot, test.ShouldEqual, 0)
		test.That(t, seq.Status().Ticks, test.ShouldEqual, i+1)
	}
	test.That(t, seq.Step(&cmd), test.ShouldBeNil)
	test.That(t, seq.Status().Slot, test.ShouldEqual, 1)
}

func TestSequencerStalls(t *testing.T) {
	var events []string
	forever := &recorder{name: "forever", events: &events}
	seq, err := NewSequencer([]Slot{{"forever", forever}}, 0, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	var cmd state.Command
	for i := 0; i < 100; i++ {
		test.That(t, seq.Step(&cmd), test.ShouldBeNil)
	}
	test.That(t, seq.Stalled(99), test.ShouldBeTrue)
	test.That(t, seq.Stalled(100), test.ShouldBeFalse)
	test.That(t, seq.Stalled(0), test.ShouldBeFalse)
	test.That(t, seq.Status().State, test.ShouldEqual, Active)
}

func TestSequencerPropagatesErrors(t *testing.T) {
	var events []string
	a := &recorder{name: "a", length: 3, failAt: 2, events: &events}
	seq, err := NewSequencer([]Slot{{"a", a}}, 0, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	var cmd state.Command
	test.That(t, seq.Step(&cmd), test.ShouldBeNil)
	test.That(t, cmd.Torque[0], test.ShouldEqual, 1.0)

	err = seq.Step(&cmd)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "solve failed")
	test.That(t, cmd.Torque[0], test.ShouldEqual, 1.0)
	test.That(t, seq.Status().Ticks, test.ShouldEqual, 1)
}

func TestNewSequencerErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	_, err := NewSequencer(nil, 0, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	var events []string
	_, err = NewSequencer([]Slot{{"a", &recorder{events: &events}}}, 1, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSequencer([]Slot{{"a", nil}}, 0, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestClock(t *testing.T) {
	sp := state.NewShared(0.001)
	sp.Tick = 500
	var c Clock
	c.End = 0.4
	c.Start(sp)
	for i := 0; i < 400; i++ {
		test.That(t, c.Expired(), test.ShouldBeFalse)
		test.That(t, c.Time(sp), test.ShouldAlmostEqual, float64(i)*0.001, 1e-12)
		c.Step()
		sp.Tick++
	}
	test.That(t, c.Expired(), test.ShouldBeTrue)
	test.That(t, c.Ran(), test.ShouldEqual, 400)
	test.That(t, c.Reached(sp, 0.4), test.ShouldBeTrue)
}
