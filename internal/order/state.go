package order

import "github.com/dcarapic/hotmeals-sub000/internal/models"

// Phase names a placement state
type Phase string

// Phase constants
const (
	PhaseIdle                 Phase = "idle"
	PhasePlacing              Phase = "placing"
	PhaseWaitingConfirmation  Phase = "waiting_confirmation"
	PhaseCanceling            Phase = "canceling"
	PhaseConfirmed            Phase = "confirmed"
	PhaseCanceled             Phase = "canceled"
	PhaseClosedWithoutWaiting Phase = "closed_without_waiting"
)

// Phases lists every placement phase
var Phases = []Phase{
	PhaseIdle,
	PhasePlacing,
	PhaseWaitingConfirmation,
	PhaseCanceling,
	PhaseConfirmed,
	PhaseCanceled,
	PhaseClosedWithoutWaiting,
}

// State is one of Idle, Placing, WaitingConfirmation, Canceling, Confirmed,
// Canceled or ClosedWithoutWaiting.
type State interface {
	Phase() Phase
	isState()
}

// Idle: nothing is being placed and no placed order is held.
type Idle struct{}

// Placing: the order has been sent and the response is pending.
type Placing struct {
	Order models.InProgressOrder
}

// WaitingConfirmation: the server created the order; the restaurant has not accepted it yet.
type WaitingConfirmation struct {
	Order models.PlacedOrder
}

// Canceling: a cancel request for Order is pending.
type Canceling struct {
	Order models.PlacedOrder

	// state restored when the request fails
	resume State
}

// Confirmed: the restaurant accepted the order.
type Confirmed struct {
	Order models.PlacedOrder
}

// Canceled: the order was canceled on the server.
type Canceled struct {
	Order models.PlacedOrder
}

// ClosedWithoutWaiting: the customer stopped waiting; the order stays placed.
type ClosedWithoutWaiting struct {
	Order models.PlacedOrder
}

func (Idle) Phase() Phase                 { return PhaseIdle }
func (Placing) Phase() Phase              { return PhasePlacing }
func (WaitingConfirmation) Phase() Phase  { return PhaseWaitingConfirmation }
func (Canceling) Phase() Phase            { return PhaseCanceling }
func (Confirmed) Phase() Phase            { return PhaseConfirmed }
func (Canceled) Phase() Phase             { return PhaseCanceled }
func (ClosedWithoutWaiting) Phase() Phase { return PhaseClosedWithoutWaiting }

func (Idle) isState()                 {}
func (Placing) isState()              {}
func (WaitingConfirmation) isState()  {}
func (Canceling) isState()            {}
func (Confirmed) isState()            {}
func (Canceled) isState()             {}
func (ClosedWithoutWaiting) isState() {}

// HeldOrder returns the placed order carried by s, if any
func HeldOrder(s State) (models.PlacedOrder, bool) {
	switch s := s.(type) {
	case WaitingConfirmation:
		return s.Order, true
	case Canceling:
		return s.Order, true
	case Confirmed:
		return s.Order, true
	case Canceled:
		return s.Order, true
	case ClosedWithoutWaiting:
		return s.Order, true
	}
	return models.PlacedOrder{}, false
}

// stateAfterUpdate is the state a pushed order update leads to while waiting
func stateAfterUpdate(o models.PlacedOrder) State {
	switch {
	case o.CurrentStatus == models.OrderStatusCanceled:
		return Canceled{Order: o}
	case o.CurrentStatus.IsConfirmed():
		return Confirmed{Order: o}
	default:
		return WaitingConfirmation{Order: o}
	}
}
