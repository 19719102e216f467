package session

import "fmt"

// State is the session's position in the exam-taking flow. It is a closed
// set of variants; the item and submit states carry the current position so
// no separate cursor fields can drift out of sync with the state.
type State interface {
	// Name returns the wire form of the state, e.g. "ITEM_NN".
	Name() string
	isState()
}

// StateInitial is the state of a freshly constructed session, before the
// exam instance has been realized.
type StateInitial struct{}

// StateError is a terminal state reached when realization or an internal
// step failed; the session only renders its error message.
type StateError struct{}

// StateProfile presents the pre-exam survey pages.
type StateProfile struct{}

// StateInstructions presents the exam instructions page.
type StateInstructions struct{}

// StateItem presents one exam problem.
type StateItem struct {
	Sect int
	Item int
}

// StateSubmit asks the student to confirm final submission; Sect and Item
// remember where to return on "no".
type StateSubmit struct {
	Sect int
	Item int
}

// StateCompleted is the terminal state after grading (or a forced abort).
type StateCompleted struct{}

func (StateInitial) Name() string      { return "INITIAL" }
func (StateError) Name() string        { return "ERROR" }
func (StateProfile) Name() string      { return "PROFILE" }
func (StateInstructions) Name() string { return "INSTRUCTIONS" }
func (s StateItem) Name() string       { return fmt.Sprintf("ITEM_%d_%d", s.Sect, s.Item) }
func (s StateSubmit) Name() string     { return fmt.Sprintf("SUBMIT_%d_%d", s.Sect, s.Item) }
func (StateCompleted) Name() string    { return "COMPLETED" }

func (StateInitial) isState()      {}
func (StateError) isState()        {}
func (StateProfile) isState()      {}
func (StateInstructions) isState() {}
func (StateItem) isState()         {}
func (StateSubmit) isState()       {}
func (StateCompleted) isState()    {}
