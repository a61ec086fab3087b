package models

import "github.com/shopspring/decimal"

// PlaceOrderItem is a single line sent when placing an order
type PlaceOrderItem struct {
	MenuItemID string          `json:"menu_item_id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
}

// PlaceOrderRequest represents the request to place a new order
type PlaceOrderRequest struct {
	RestaurantID string           `json:"restaurant_id" binding:"required"`
	Items        []PlaceOrderItem `json:"items" binding:"required,dive"`
}

// NewPlaceOrderRequest builds the wire request for an in-progress order
func NewPlaceOrderRequest(order InProgressOrder) PlaceOrderRequest {
	items := make([]PlaceOrderItem, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, PlaceOrderItem{
			MenuItemID: item.MenuItemID,
			Price:      item.Price,
			Quantity:   item.Quantity,
		})
	}
	return PlaceOrderRequest{RestaurantID: order.RestaurantID, Items: items}
}

// UpdateStatusRequest asks the server to move an order to a new status
type UpdateStatusRequest struct {
	Status OrderStatus `json:"status" binding:"required"`
}

// OrderResponse wraps a placed order returned by the server
type OrderResponse struct {
	Order PlacedOrder `json:"order"`
}

// MenuResponse lists the menu items of one restaurant
type MenuResponse struct {
	MenuItems []MenuItemReference `json:"menu_items"`
}

// APIError is the error body returned by the server
type APIError struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
