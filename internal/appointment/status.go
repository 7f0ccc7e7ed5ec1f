package appointment

// transitions lists the statuses reachable from each status.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusAccepted, StatusRejected, StatusConfirmed, StatusCancelled},
	StatusAccepted:  {StatusConfirmed, StatusRejected, StatusCancelled},
	StatusConfirmed: {StatusCancelled},
	StatusRejected:  {},
	StatusCancelled: {},
}

// StatusMachine decides whether an appointment may move between statuses.
// With Strict unset every known status is reachable from every other one.
type StatusMachine struct {
	Strict bool
}

func (m StatusMachine) CanTransition(from, to AppointmentStatus) bool {
	if !from.Valid() || !to.Valid() {
		return false
	}
	if from == to || !m.Strict {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is allowed from s.
func (m StatusMachine) Terminal(s AppointmentStatus) bool {
	if !m.Strict {
		return false
	}
	return len(transitions[s]) == 0
}

// reactivates reports whether moving from -> to puts the appointment back
// into the active set, which requires the capacity and slot guards again.
func reactivates(from, to AppointmentStatus) bool {
	return !from.IsActive() && to.IsActive()
}
