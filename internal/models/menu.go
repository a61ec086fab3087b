package models

import "github.com/shopspring/decimal"

// MenuItemReference identifies a purchasable item in a restaurant's menu
type MenuItemReference struct {
	MenuItemID   string          `json:"menu_item_id"`
	RestaurantID string          `json:"restaurant_id"`
	Name         string          `json:"name"`
	Description  string          `json:"description"`
	Price        decimal.Decimal `json:"price"`
}

// MaxQuantity is the largest quantity a single order line may carry
const MaxQuantity = 99

// OrderLineItem is a menu item together with the ordered quantity
type OrderLineItem struct {
	MenuItemReference
	Quantity int `json:"quantity"`
}

// LineTotal returns price * quantity without rounding
func (l OrderLineItem) LineTotal() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}
