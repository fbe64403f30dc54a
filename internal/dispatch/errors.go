package dispatch

import (
	"errors"
	"fmt"
)

// ErrNoSelection means the primary action was triggered with nothing
// selected; the control is inert and the trigger is a no-op.
var ErrNoSelection = errors.New("dispatch: no trip selected")

// ErrUnknownTrip means the referenced trip is not in the driver's lists.
var ErrUnknownTrip = errors.New("dispatch: unknown trip")

// ValidationError rejects driver-entered form data locally; it never reaches
// the network.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
