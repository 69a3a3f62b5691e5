package ralph

// HatId is an opaque, non-empty hat identifier. "ralph" is reserved for
// the always-present coordinator.
type HatId string

// CoordinatorHat is the irremovable universal-fallback hat.
const CoordinatorHat HatId = "ralph"

// Event is the unit routed by the EventBus.
type Event struct {
	Topic   Topic
	Payload string
	Source  HatId // empty if unset
	Target  HatId // empty if unset; bypasses topic routing when set
}

// HasTarget reports whether the event specifies a direct-delivery target.
func (e Event) HasTarget() bool {
	return e.Target != ""
}

// BackpressureEvidence is the structured proof a build.done-class event
// must carry before it is accepted onto the bus.
type BackpressureEvidence struct {
	TestsPassed       bool
	LintPassed        bool
	TypecheckPassed   bool
	AuditPassed       bool
	CoveragePassed    bool
	DuplicationPassed bool
	Complexity        float64

	// RegressionChecked/Regression are optional; when RegressionChecked is
	// true, Regression == true fails the event.
	RegressionChecked bool
	Regression        bool

	// SpecVerifiedChecked/SpecVerified are optional; when
	// SpecVerifiedChecked is true, SpecVerified == false fails the event.
	SpecVerifiedChecked bool
	SpecVerified        bool
}

// MaxComplexity is the inclusive ceiling on BackpressureEvidence.Complexity.
const MaxComplexity = 10

// AllPassed reports whether every required check in ev passed.
func (ev BackpressureEvidence) AllPassed() (bool, []string) {
	var reasons []string
	if !ev.TestsPassed {
		reasons = append(reasons, "tests failed")
	}
	if !ev.LintPassed {
		reasons = append(reasons, "lint failed")
	}
	if !ev.TypecheckPassed {
		reasons = append(reasons, "typecheck failed")
	}
	if !ev.AuditPassed {
		reasons = append(reasons, "audit failed")
	}
	if !ev.CoveragePassed {
		reasons = append(reasons, "coverage failed")
	}
	if !ev.DuplicationPassed {
		reasons = append(reasons, "duplication failed")
	}
	if ev.Complexity > MaxComplexity {
		reasons = append(reasons, "complexity exceeds threshold")
	}
	if ev.RegressionChecked && ev.Regression {
		reasons = append(reasons, "performance regression detected")
	}
	if ev.SpecVerifiedChecked && !ev.SpecVerified {
		reasons = append(reasons, "spec not verified")
	}
	return len(reasons) == 0, reasons
}
