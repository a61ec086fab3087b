package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the lifecycle status of a placed order
type OrderStatus string

// OrderStatus constants
const (
	OrderStatusPlaced    OrderStatus = "placed"
	OrderStatusAccepted  OrderStatus = "accepted"
	OrderStatusShipped   OrderStatus = "shipped"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusReceived  OrderStatus = "received"
	OrderStatusCanceled  OrderStatus = "canceled"
)

// IsValid reports whether s is a known status
func (s OrderStatus) IsValid() bool {
	switch s {
	case OrderStatusPlaced, OrderStatusAccepted, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusReceived, OrderStatusCanceled:
		return true
	}
	return false
}

// IsConfirmed reports whether the restaurant has accepted the order,
// i.e. the status is accepted or any later non-canceled status.
func (s OrderStatus) IsConfirmed() bool {
	switch s {
	case OrderStatusAccepted, OrderStatusShipped, OrderStatusDelivered, OrderStatusReceived:
		return true
	}
	return false
}

// InProgressOrder is the customer's order while it is being assembled.
// Values handed out by the registry are snapshots and must not be modified.
type InProgressOrder struct {
	RestaurantID   string          `json:"restaurant_id"`
	RestaurantName string          `json:"restaurant_name"`
	Items          []OrderLineItem `json:"items"`
	Total          decimal.Decimal `json:"total"`
}

// Clone returns a copy that shares no item storage with o
func (o *InProgressOrder) Clone() *InProgressOrder {
	if o == nil {
		return nil
	}
	c := *o
	if o.Items != nil {
		c.Items = make([]OrderLineItem, len(o.Items))
		copy(c.Items, o.Items)
	}
	return &c
}

// OrderItemSnapshot is a frozen copy of an ordered line
type OrderItemSnapshot struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int             `json:"quantity"`
	Position    int             `json:"position"`
}

// StatusChange records when an order entered a status
type StatusChange struct {
	Status    OrderStatus `json:"status"`
	ChangedAt time.Time   `json:"changed_at"`
}

// PlacedOrder is the server's record of a placed order
type PlacedOrder struct {
	OrderID        string              `json:"order_id"`
	RestaurantID   string              `json:"restaurant_id"`
	RestaurantName string              `json:"restaurant_name"`
	CustomerID     string              `json:"customer_id"`
	CustomerEmail  string              `json:"customer_email"`
	CustomerName   string              `json:"customer_name"`
	CurrentStatus  OrderStatus         `json:"current_status"`
	CreatedAt      time.Time           `json:"created_at"`
	Items          []OrderItemSnapshot `json:"items"`
	History        []StatusChange      `json:"history"`
	Total          decimal.Decimal     `json:"total"`
}

// Order is either an InProgress or a Placed order. The variant is fixed
// when the value is constructed.
type Order interface {
	isOrder()
}

// InProgress wraps an order that has not been sent to the server yet
type InProgress struct {
	Order InProgressOrder
}

// Placed wraps an order the server has accepted for processing
type Placed struct {
	Order PlacedOrder
}

func (InProgress) isOrder() {}
func (Placed) isOrder()     {}

// NewInProgress returns o as an Order variant
func NewInProgress(o InProgressOrder) Order { return InProgress{Order: o} }

// NewPlaced returns o as an Order variant
func NewPlaced(o PlacedOrder) Order { return Placed{Order: o} }
