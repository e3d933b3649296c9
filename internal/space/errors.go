package space

import "fmt"

// InvalidRangeError reports a malformed parameter declaration or an impossible
// sampling request against it
type InvalidRangeError struct {
	Parameter string
	Lower     float64
	Upper     float64
	Reason    string
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range for parameter %q [%g, %g]: %s", e.Parameter, e.Lower, e.Upper, e.Reason)
}
