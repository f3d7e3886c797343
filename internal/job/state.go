package job

import "rayforge/internal/pkg/errors"

// State is a step in the life of a render job.
type State int

const (
	StateReceived State = iota
	StateValidated
	StateRejected
	StateThrottled
	StateRendering
	StateRenderFailed
	StateRenderSucceeded
	StatePostProcessing
	StatePostProcessFailed
	StatePostProcessSucceeded
	StateIOFailed
	StateTimedOut
	StateFailed
	StateResponding
	StateCleaned
)

var stateNames = [...]string{
	StateReceived:             "received",
	StateValidated:            "validated",
	StateRejected:             "rejected",
	StateThrottled:            "throttled",
	StateRendering:            "rendering",
	StateRenderFailed:         "render_failed",
	StateRenderSucceeded:      "render_succeeded",
	StatePostProcessing:       "postprocessing",
	StatePostProcessFailed:    "postprocess_failed",
	StatePostProcessSucceeded: "postprocess_succeeded",
	StateIOFailed:             "io_failed",
	StateTimedOut:             "timed_out",
	StateFailed:               "failed",
	StateResponding:           "responding",
	StateCleaned:              "cleaned",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether no transition leaves s. Rejected and Throttled
// jobs never allocated scratch files, so they end without cleanup.
func (s State) Terminal() bool {
	return s == StateRejected || s == StateThrottled || s == StateCleaned
}

// Outcome is the result of the work done while in a state.
type Outcome struct {
	Err error
	// Cached is set when the image was served from the cache.
	Cached bool
	// PostProcess is set when denoise or upscale was requested.
	PostProcess bool
}

// Transition returns the state that follows s given the outcome of the work
// done in s. It has no side effects. Terminal states map to themselves.
func Transition(s State, o Outcome) State {
	switch s {
	case StateReceived:
		if o.Err != nil {
			return StateRejected
		}
		return StateValidated

	case StateValidated:
		switch {
		case o.Err != nil:
			return failureState(o.Err)
		case o.Cached:
			return StateResponding
		}
		return StateRendering

	case StateRendering:
		if o.Err != nil {
			return failureState(o.Err)
		}
		return StateRenderSucceeded

	case StateRenderSucceeded:
		if o.PostProcess {
			return StatePostProcessing
		}
		return StateResponding

	case StatePostProcessing:
		if o.Err != nil {
			return failureState(o.Err)
		}
		return StatePostProcessSucceeded

	case StatePostProcessSucceeded,
		StateRenderFailed,
		StatePostProcessFailed,
		StateIOFailed,
		StateTimedOut,
		StateFailed:
		return StateResponding

	case StateResponding:
		return StateCleaned
	}
	return s
}

// failureState picks the failure state named by the error's code.
func failureState(err error) State {
	switch errors.GetCode(err) {
	case errors.CodeValidation:
		return StateRejected
	case errors.CodeResourceExhaust:
		return StateThrottled
	case errors.CodeRenderFailed:
		return StateRenderFailed
	case errors.CodePostProcessFailed:
		return StatePostProcessFailed
	case errors.CodeIO:
		return StateIOFailed
	case errors.CodeTimeout:
		return StateTimedOut
	default:
		return StateFailed
	}
}
