package dispatch

// State is a pipeline stage. A dispatch moves through the stages in order
// and stops at Responded or at one of the failure states.
type State int

const (
	Received State = iota
	RouteResolved
	RuntimeActive
	Invoked
	Converted
	RuntimeSuspended
	Responded

	NotFound
	HandlerMissing
	HandlerError
	BodyReadError
	InstanceFailed
)

var stateNames = [...]string{
	Received:         "Received",
	RouteResolved:    "RouteResolved",
	RuntimeActive:    "RuntimeActive",
	Invoked:          "Invoked",
	Converted:        "Converted",
	RuntimeSuspended: "RuntimeSuspended",
	Responded:        "Responded",
	NotFound:         "NotFound",
	HandlerMissing:   "HandlerMissing",
	HandlerError:     "HandlerError",
	BodyReadError:    "BodyReadError",
	InstanceFailed:   "InstanceFailed",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "Unknown"
}

// Terminal reports whether s ends a dispatch.
func (s State) Terminal() bool {
	return s >= Responded
}
