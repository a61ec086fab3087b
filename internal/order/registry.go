package order

import (
	"sync"

	"github.com/dcarapic/hotmeals-sub000/internal/metrics"
	"github.com/dcarapic/hotmeals-sub000/internal/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// ChangeHandler receives the current order after every change; nil means
// there is no order in progress. The value is a private copy.
type ChangeHandler func(current *models.InProgressOrder)

// SubscriptionToken identifies a registered ChangeHandler
type SubscriptionToken string

type subscription struct {
	token   SubscriptionToken
	handler ChangeHandler
}

type notification struct {
	value *models.InProgressOrder
	subs  []subscription
}

// Registry holds at most one in-progress order and notifies subscribers of
// every change. Handlers run synchronously, in subscription order, after the
// new value is in place. Notifications are delivered one at a time in
// mutation order, also when mutations race. A handler may call back into the
// registry; the change it makes is delivered after the current notification.
type Registry struct {
	mu         sync.RWMutex
	current    *models.InProgressOrder
	subs       []subscription
	pending    []notification
	delivering bool
}

// NewRegistry creates a registry with no order in progress
func NewRegistry() *Registry {
	return &Registry{}
}

// Create replaces any current order with an empty one for the restaurant
func (r *Registry) Create(restaurantID, restaurantName string) {
	r.commit("create", &models.InProgressOrder{
		RestaurantID:   restaurantID,
		RestaurantName: restaurantName,
		Items:          []models.OrderLineItem{},
		Total:          decimal.Zero,
	})
}

// Remove clears the current order. Subscribers are notified even when there
// was nothing to clear.
func (r *Registry) Remove() {
	r.commit("remove", nil)
}

// Get returns a copy of the current order, or nil
func (r *Registry) Get() *models.InProgressOrder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Clone()
}

// SetItemQuantity sets the quantity of item in the current order. It does
// nothing when there is no order or the item belongs to another restaurant.
func (r *Registry) SetItemQuantity(item models.MenuItemReference, quantity int) {
	r.mu.Lock()
	if r.current == nil || r.current.RestaurantID != item.RestaurantID {
		r.mu.Unlock()
		log.WithFields(log.Fields{
			"menu_item_id":  item.MenuItemID,
			"restaurant_id": item.RestaurantID,
		}).Debug("Ignoring quantity change without a matching order")
		return
	}
	next := ApplyQuantity(*r.current, item, quantity)
	r.storeLocked("set_item_quantity", &next)
}

// Subscribe registers handler for change notifications
func (r *Registry) Subscribe(handler ChangeHandler) SubscriptionToken {
	token := SubscriptionToken(uuid.NewString())

	r.mu.Lock()
	r.subs = append(r.subs, subscription{token: token, handler: handler})
	r.mu.Unlock()

	return token
}

// Unsubscribe removes the handler registered under token and reports
// whether it was found.
func (r *Registry) Unsubscribe(token SubscriptionToken) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.token == token {
			r.subs = append(r.subs[:i:i], r.subs[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveFor clears the current order only when it belongs to restaurantID
// and reports whether it did.
func (r *Registry) RemoveFor(restaurantID string) bool {
	r.mu.Lock()
	if r.current == nil || r.current.RestaurantID != restaurantID {
		r.mu.Unlock()
		return false
	}
	r.storeLocked("remove", nil)
	return true
}

func (r *Registry) commit(operation string, next *models.InProgressOrder) {
	r.mu.Lock()
	r.storeLocked(operation, next)
}

// storeLocked replaces the current order, queues the notification and
// releases r.mu. The caller that finds no delivery running drains the queue.
func (r *Registry) storeLocked(operation string, next *models.InProgressOrder) {
	r.current = next
	r.pending = append(r.pending, notification{
		value: next,
		subs:  append([]subscription(nil), r.subs...),
	})
	metrics.OrderNotifications.WithLabelValues(operation).Inc()

	if r.delivering {
		r.mu.Unlock()
		return
	}
	r.delivering = true
	r.mu.Unlock()

	r.drain()
}

func (r *Registry) drain() {
	done := false
	defer func() {
		if !done {
			// a handler panicked; let the next mutation resume delivery
			r.mu.Lock()
			r.delivering = false
			r.mu.Unlock()
		}
	}()

	for {
		r.mu.Lock()
		if len(r.pending) == 0 {
			r.delivering = false
			r.mu.Unlock()
			done = true
			return
		}
		n := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()

		for _, s := range n.subs {
			s.handler(n.value.Clone())
		}
	}
}
