// Package action defines the cognitive kernel's canonical action set
// as a single, central declaration that the inference engine, policy
// scoring, and executors all index against.
package action

// V1 is the first version of the kernel's action enum. Declaration order
// is significant: it is the tie-break order for actions of equal expected
// free energy (lowest index wins).
type V1 int

const (
	// Explore favors epistemic value: act to reduce uncertainty about
	// hidden state.
	Explore V1 = iota
	// Exploit favors pragmatic value: act toward the preferred outcome
	// under current beliefs.
	Exploit
	// Communicate escalates to an external collaborator, typically via
	// an ActionExecutor such as internal/forge.
	Communicate
	// Recover is the designated recharge action, selected when the
	// energy observation dimension is critical.
	Recover
	// Rest is the designated remain action, selected at a viability
	// optimum where no other action dominates.
	Rest
	// Consolidate favors memory/belief housekeeping over new evidence.
	Consolidate
)

// All enumerates the action set in canonical, tie-break order.
func All() []V1 {
	return []V1{Explore, Exploit, Communicate, Recover, Rest, Consolidate}
}

// String renders the action's name.
func (a V1) String() string {
	switch a {
	case Explore:
		return "explore"
	case Exploit:
		return "exploit"
	case Communicate:
		return "communicate"
	case Recover:
		return "recover"
	case Rest:
		return "rest"
	case Consolidate:
		return "consolidate"
	default:
		return "unknown"
	}
}

// Index returns the action's position in the canonical ordering, used to
// index policy and EFE-score vectors.
func (a V1) Index() int {
	return int(a)
}

// Arity is the number of actions in V1.
func Arity() int {
	return len(All())
}
