package robot

import (
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestLinkID(t *testing.T) {
	test.That(t, Body.Valid(), test.ShouldBeTrue)
	test.That(t, LeftFoot.Valid(), test.ShouldBeTrue)
	test.That(t, LinkID(7).Valid(), test.ShouldBeFalse)
	test.That(t, LinkID(-1).Valid(), test.ShouldBeFalse)

	test.That(t, RightFoot.Other(), test.ShouldEqual, LeftFoot)
	test.That(t, LeftFoot.Other(), test.ShouldEqual, RightFoot)
	test.That(t, LinkID(9).String(), test.ShouldEqual, "link(9)")
}

func TestCheckFoot(t *testing.T) {
	test.That(t, CheckFoot(LeftFoot), test.ShouldBeNil)
	err := CheckFoot(Body)
	test.That(t, errors.Is(err, ErrInvalidLink), test.ShouldBeTrue)
}

func TestLegJoint(t *testing.T) {
	test.That(t, LegJoint(RightFoot), test.ShouldEqual, 6)
	test.That(t, LegJoint(LeftFoot), test.ShouldEqual, 9)
	test.That(t, LeftKnee, test.ShouldEqual, NumQdot-1)
}
