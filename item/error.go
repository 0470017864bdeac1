package item

import "fmt"

// Kind classifies an Error per spec §7's taxonomy.
type Kind int

const (
	KindCycle Kind = iota
	KindInvariant
	KindMissingReference
	KindWrongType
	KindBadAnswer
	KindIOError
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindCycle:
		return "Cycle"
	case KindInvariant:
		return "Invariant"
	case KindMissingReference:
		return "MissingReference"
	case KindWrongType:
		return "WrongType"
	case KindBadAnswer:
		return "BadAnswer"
	case KindIOError:
		return "IOError"
	case KindNotFound:
		return "NotFound"
	default:
		return "Unknown"
	}
}

// PathStep is one hop of a reported reference-graph path: the item the
// edge departs from, and the RefType of that outgoing edge.
type PathStep struct {
	Key     Key
	RefType RefType
}

// Error is the result-based error type every fallible operation in this
// store returns (spec §7; spec §9 Open Question 2: never panic on
// malformed stored data or a failed validation, always return an
// Error). Path, set on Cycle errors only, carries the chain of (item,
// ref_type) hops the cycle passes through, in forward traversal
// order starting at the item the operation was applied to — e.g.
// applying AddDependency(k1) to k2 when k1 already depends on k2
// reports Path = [(k2,Dep),(k1,Dep)].
type Error struct {
	Kind Kind
	Msg  string
	Path []PathStep
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New constructs an Error of the given kind.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap constructs an Error of the given kind wrapping err.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithPath attaches a reference-graph path (e.g. a cycle's member hops)
// to an Error and returns it.
func (e *Error) WithPath(path []PathStep) *Error {
	e.Path = path
	return e
}
