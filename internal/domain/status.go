package domain

// Status is the single lifecycle field on an order. Payment confirmation is
// not a separate flag: a confirmed online payment is the pending->processing
// edge plus an audit note.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled:
		return true
	}
	return false
}

// Terminal statuses accept no further transition from any actor.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusProcessing: true,
		StatusCancelled:  true,
	},
	StatusProcessing: {
		StatusShipped:   true,
		StatusCancelled: true,
	},
	StatusShipped: {
		StatusDelivered: true,
		StatusCancelled: true,
	},
	StatusDelivered: {},
	StatusCancelled: {},
}

// CanTransition reports whether from->to is a legal edge. Legality depends
// only on the statuses, never on who is asking.
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}

// Actor identifies who requested a transition. Recorded in the audit note.
type Actor string

const (
	ActorHumanOperator      Actor = "human_operator"
	ActorPaymentReconciler  Actor = "payment_reconciler"
	ActorClientConfirmation Actor = "client_confirmation"
)
