package order

import (
	"github.com/dcarapic/hotmeals-sub000/internal/models"
	"github.com/shopspring/decimal"
)

// ApplyQuantity returns a copy of o with the line for item set to quantity.
//
// A quantity outside [0, models.MaxQuantity] or an item from another
// restaurant leaves the order unchanged. Quantity 0 removes the line; new
// lines are appended in insertion order. The input is never modified.
func ApplyQuantity(o models.InProgressOrder, item models.MenuItemReference, quantity int) models.InProgressOrder {
	if quantity < 0 || quantity > models.MaxQuantity {
		return o
	}
	if item.RestaurantID != o.RestaurantID {
		return o
	}

	items := make([]models.OrderLineItem, 0, len(o.Items)+1)
	found := false
	for _, line := range o.Items {
		if line.MenuItemID != item.MenuItemID {
			items = append(items, line)
			continue
		}
		found = true
		if quantity > 0 {
			line.Quantity = quantity
			items = append(items, line)
		}
	}
	if !found {
		if quantity == 0 {
			return o
		}
		items = append(items, models.OrderLineItem{MenuItemReference: item, Quantity: quantity})
	}

	next := o
	next.Items = items
	next.Total = Total(items)
	return next
}

// Total sums price * quantity over items, rounded to cents half away from zero
func Total(items []models.OrderLineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, line := range items {
		sum = sum.Add(line.LineTotal())
	}
	return sum.Round(2)
}
