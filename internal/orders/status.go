package orders

type Status string

const (
	StatusNew        Status = "NEW"
	StatusInProgress Status = "IN_PROGRESS"
	StatusReady      Status = "READY"
	StatusCompleted  Status = "COMPLETED"
	StatusVoided     Status = "VOIDED"
	StatusRefunded   Status = "REFUNDED"
)

// Kitchen path is forward-only without skipping. Void and refund branch off
// any open state; a completed order can still be refunded.
var validNext = map[Status]map[Status]bool{
	StatusNew:        {StatusInProgress: true, StatusVoided: true, StatusRefunded: true},
	StatusInProgress: {StatusReady: true, StatusVoided: true, StatusRefunded: true},
	StatusReady:      {StatusCompleted: true, StatusVoided: true, StatusRefunded: true},
	StatusCompleted:  {StatusRefunded: true},
	StatusVoided:     {},
	StatusRefunded:   {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// IsTerminal reports whether no further mutation of the order is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusVoided || s == StatusRefunded
}

// IsReversal reports whether s is a void or refund.
func (s Status) IsReversal() bool {
	return s == StatusVoided || s == StatusRefunded
}

// IsOpen reports whether the order is still on the kitchen board.
func (s Status) IsOpen() bool {
	return s == StatusNew || s == StatusInProgress || s == StatusReady
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// KitchenStatuses are the states shown on the kitchen display.
func KitchenStatuses() []Status {
	return []Status{StatusNew, StatusInProgress, StatusReady}
}
