package tools

// RunState is the mutable per-run state shared by the loop and the dispatcher.
type RunState struct {
	// Iteration is the 1-based index of the current model round trip.
	Iteration int
	// Actions counts successfully applied actions.
	Actions int
	// CursorStepID is the current position in the process documentation.
	CursorStepID int
}
