package order

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dcarapic/hotmeals-sub000/internal/client"
	"github.com/dcarapic/hotmeals-sub000/internal/metrics"
	"github.com/dcarapic/hotmeals-sub000/internal/models"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed in the current state
	ErrInvalidTransition = errors.New("operation not allowed in current placement state")
	// ErrUnknownOrder is returned when an order id does not match the held order
	ErrUnknownOrder = errors.New("order is not held by the placement coordinator")
)

// OrderAPI is the part of the platform API the coordinator needs
type OrderAPI interface {
	PlaceOrder(ctx context.Context, req models.PlaceOrderRequest) (*models.PlacedOrder, error)
	UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.PlacedOrder, error)
}

// SessionHandler is told about authentication failures so the session can be renewed
type SessionHandler interface {
	OnUnauthorized(err error)
}

// TransitionHook observes every state change. It runs after the coordinator
// lock is released.
type TransitionHook func(from, to State)

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSessionHandler sets the handler for unauthorized responses
func WithSessionHandler(h SessionHandler) Option {
	return func(c *Coordinator) { c.session = h }
}

// WithTransitionHook sets a hook called on every state change
func WithTransitionHook(h TransitionHook) Option {
	return func(c *Coordinator) { c.onTransition = h }
}

// Coordinator drives an in-progress order through placement and the wait
// for the restaurant's confirmation.
type Coordinator struct {
	api          OrderAPI
	registry     *Registry
	session      SessionHandler
	onTransition TransitionHook

	mu      sync.Mutex
	state   State
	attempt uint64
	abort   context.CancelFunc
}

// NewCoordinator creates an idle coordinator
func NewCoordinator(api OrderAPI, registry *Registry, opts ...Option) *Coordinator {
	c := &Coordinator{
		api:      api,
		registry: registry,
		state:    Idle{},
	}
	for _, opt := range opts {
		opt(c)
	}
	metrics.SetPlacementPhase(string(PhaseIdle), phaseLabels())
	return c
}

// State returns the current placement state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Current returns the order the customer is dealing with: the held placed
// order, the order being placed, or the registry's in-progress order.
// It returns nil when there is none.
func (c *Coordinator) Current() models.Order {
	state := c.State()
	if placed, ok := HeldOrder(state); ok {
		return models.NewPlaced(placed)
	}
	if p, ok := state.(Placing); ok {
		return models.NewInProgress(p.Order)
	}
	if current := c.registry.Get(); current != nil {
		return models.NewInProgress(*current)
	}
	return nil
}

// Place sends o to the server. On success the coordinator waits for
// confirmation and the registry's order is removed. When ctx is canceled
// while the request is in flight, or CancelBeforePlacement supersedes it,
// the result is dropped and an aborted error is returned.
func (c *Coordinator) Place(ctx context.Context, o models.InProgressOrder) (*models.PlacedOrder, error) {
	if len(o.Items) == 0 {
		return nil, client.NewValidationError("order has no items")
	}

	c.mu.Lock()
	from := c.state
	if _, ok := from.(Idle); !ok {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: place while %s", ErrInvalidTransition, from.Phase())
	}
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.attempt++
	attempt := c.attempt
	c.abort = cancel
	c.setStateLocked(Placing{Order: o})
	c.mu.Unlock()
	c.fire(from, Placing{Order: o})

	log.WithFields(log.Fields{
		"restaurant_id": o.RestaurantID,
		"items":         len(o.Items),
		"total":         o.Total.StringFixed(2),
	}).Info("Placing order")

	placed, err := c.api.PlaceOrder(callCtx, models.NewPlaceOrderRequest(o))

	c.mu.Lock()
	if c.attempt != attempt {
		// CancelBeforePlacement already moved on
		c.mu.Unlock()
		metrics.OrdersTotal.WithLabelValues("place", string(client.CategoryAborted)).Inc()
		return nil, client.Aborted(context.Canceled)
	}
	c.abort = nil
	placing := c.state

	if ctx.Err() != nil || isAbort(err) {
		c.setStateLocked(Idle{})
		c.mu.Unlock()
		c.fire(placing, Idle{})
		metrics.OrdersTotal.WithLabelValues("place", string(client.CategoryAborted)).Inc()
		return nil, abortedError(ctx, err)
	}

	if err != nil {
		c.setStateLocked(Idle{})
		c.mu.Unlock()
		c.fire(placing, Idle{})
		c.reportFailure("place", err)
		return nil, err
	}

	waiting := WaitingConfirmation{Order: *placed}
	c.setStateLocked(waiting)
	c.mu.Unlock()
	c.fire(placing, waiting)

	if !c.registry.RemoveFor(o.RestaurantID) {
		log.WithField("restaurant_id", o.RestaurantID).Debug("Registry holds a newer order, keeping it")
	}
	metrics.OrdersTotal.WithLabelValues("place", "success").Inc()

	log.WithFields(log.Fields{
		"order_id":      placed.OrderID,
		"restaurant_id": placed.RestaurantID,
		"status":        placed.CurrentStatus,
	}).Info("Order placed, waiting for confirmation")

	return placed, nil
}

// CancelBeforePlacement discards the in-progress order without contacting
// the server. A pending placement request is aborted and its result dropped.
func (c *Coordinator) CancelBeforePlacement() error {
	c.mu.Lock()
	from := c.state
	switch from.(type) {
	case Idle, Placing:
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: cancel before placement while %s", ErrInvalidTransition, from.Phase())
	}
	c.attempt++
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
	c.setStateLocked(Idle{})
	c.mu.Unlock()

	if _, wasIdle := from.(Idle); !wasIdle {
		c.fire(from, Idle{})
	}
	c.registry.Remove()

	log.WithField("phase", from.Phase()).Info("In-progress order discarded")
	return nil
}

// Cancel asks the server to cancel the held placed order
func (c *Coordinator) Cancel(ctx context.Context, orderID string) (*models.PlacedOrder, error) {
	c.mu.Lock()
	from := c.state
	var held models.PlacedOrder
	switch s := from.(type) {
	case WaitingConfirmation:
		held = s.Order
	case Confirmed:
		held = s.Order
	default:
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: cancel while %s", ErrInvalidTransition, from.Phase())
	}
	if held.OrderID != orderID {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownOrder, orderID)
	}
	canceling := Canceling{Order: held, resume: from}
	c.setStateLocked(canceling)
	c.mu.Unlock()
	c.fire(from, canceling)

	updated, err := c.api.UpdateOrderStatus(ctx, orderID, models.OrderStatusCanceled)

	c.mu.Lock()
	current, ok := c.state.(Canceling)
	if !ok {
		c.mu.Unlock()
		return nil, client.Aborted(context.Canceled)
	}

	if ctx.Err() != nil || isAbort(err) {
		c.setStateLocked(current.resume)
		c.mu.Unlock()
		c.fire(current, current.resume)
		metrics.OrdersTotal.WithLabelValues("cancel", string(client.CategoryAborted)).Inc()
		return nil, abortedError(ctx, err)
	}

	if err != nil {
		c.setStateLocked(current.resume)
		c.mu.Unlock()
		c.fire(current, current.resume)
		c.reportFailure("cancel", err)
		return nil, err
	}

	canceled := Canceled{Order: *updated}
	c.setStateLocked(canceled)
	c.mu.Unlock()
	c.fire(current, canceled)

	metrics.OrdersTotal.WithLabelValues("cancel", "success").Inc()
	log.WithField("order_id", orderID).Info("Order canceled")

	return updated, nil
}

// StopWaitingForConfirmation detaches from the confirmation wait without
// canceling the order. It returns the id of the order to track.
func (c *Coordinator) StopWaitingForConfirmation() (string, error) {
	c.mu.Lock()
	s, ok := c.state.(WaitingConfirmation)
	if !ok {
		phase := c.state.Phase()
		c.mu.Unlock()
		return "", fmt.Errorf("%w: stop waiting while %s", ErrInvalidTransition, phase)
	}
	closed := ClosedWithoutWaiting{Order: s.Order}
	c.setStateLocked(closed)
	c.mu.Unlock()
	c.fire(s, closed)

	return s.Order.OrderID, nil
}

// Dismiss drops the placed order once its outcome has been shown
func (c *Coordinator) Dismiss() error {
	c.mu.Lock()
	from := c.state
	switch from.(type) {
	case Confirmed, Canceled, ClosedWithoutWaiting:
	default:
		c.mu.Unlock()
		return fmt.Errorf("%w: dismiss while %s", ErrInvalidTransition, from.Phase())
	}
	c.setStateLocked(Idle{})
	c.mu.Unlock()
	c.fire(from, Idle{})
	return nil
}

// HandleOrderUpdated applies a pushed order update. It reports whether the
// update concerned the held order.
func (c *Coordinator) HandleOrderUpdated(update models.PlacedOrder) bool {
	c.mu.Lock()
	from := c.state
	held, ok := HeldOrder(from)
	if !ok || held.OrderID != update.OrderID {
		c.mu.Unlock()
		log.WithFields(log.Fields{
			"order_id": update.OrderID,
			"phase":    from.Phase(),
		}).Debug("Ignoring order update")
		return false
	}

	var next State
	switch s := from.(type) {
	case WaitingConfirmation:
		next = stateAfterUpdate(update)
	case Confirmed:
		next = Confirmed{Order: update}
		if update.CurrentStatus == models.OrderStatusCanceled {
			next = Canceled{Order: update}
		}
	case Canceling:
		s.resume = stateAfterUpdate(update)
		c.setStateLocked(s)
		c.mu.Unlock()
		return true
	default:
		c.mu.Unlock()
		return false
	}
	c.setStateLocked(next)
	c.mu.Unlock()

	if next.Phase() != from.Phase() {
		c.fire(from, next)
	}
	return true
}

// setStateLocked moves to s and updates the phase gauge; c.mu must be held
func (c *Coordinator) setStateLocked(s State) {
	if c.state.Phase() != s.Phase() {
		metrics.SetPlacementPhase(string(s.Phase()), phaseLabels())
	}
	c.state = s
}

func (c *Coordinator) fire(from, to State) {
	log.WithFields(log.Fields{
		"from": from.Phase(),
		"to":   to.Phase(),
	}).Info("Placement state changed")
	if c.onTransition != nil {
		c.onTransition(from, to)
	}
}

func (c *Coordinator) reportFailure(operation string, err error) {
	category, ok := client.CategoryOf(err)
	outcome := "defect"
	if ok {
		outcome = string(category)
	}
	metrics.OrdersTotal.WithLabelValues(operation, outcome).Inc()

	if ok && category == client.CategoryUnauthorized && c.session != nil {
		c.session.OnUnauthorized(err)
	}
}

func isAbort(err error) bool {
	return client.IsAborted(err) || errors.Is(err, context.Canceled)
}

func abortedError(ctx context.Context, err error) error {
	if client.IsAborted(err) {
		return err
	}
	if err == nil {
		err = ctx.Err()
	}
	return client.Aborted(err)
}

func phaseLabels() []string {
	labels := make([]string, 0, len(Phases))
	for _, p := range Phases {
		labels = append(labels, string(p))
	}
	return labels
}
