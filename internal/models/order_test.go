package models

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInProgressOrderClone(t *testing.T) {
	var absent *InProgressOrder
	assert.Nil(t, absent.Clone())

	empty := &InProgressOrder{RestaurantID: "R1", Items: []OrderLineItem{}, Total: decimal.Zero}
	clone := empty.Clone()
	require.NotNil(t, clone.Items)
	assert.Empty(t, clone.Items)

	body, err := json.Marshal(clone)
	require.NoError(t, err)
	assert.Contains(t, string(body), `"items":[]`)

	full := &InProgressOrder{
		RestaurantID: "R1",
		Items: []OrderLineItem{{
			MenuItemReference: MenuItemReference{MenuItemID: "A", RestaurantID: "R1", Price: decimal.RequireFromString("2.50")},
			Quantity:          2,
		}},
	}
	clone = full.Clone()
	clone.Items[0].Quantity = 9
	assert.Equal(t, 2, full.Items[0].Quantity)
}

func TestOrderStatus(t *testing.T) {
	assert.True(t, OrderStatusAccepted.IsConfirmed())
	assert.True(t, OrderStatusReceived.IsConfirmed())
	assert.False(t, OrderStatusPlaced.IsConfirmed())
	assert.False(t, OrderStatusCanceled.IsConfirmed())

	assert.True(t, OrderStatusCanceled.IsValid())
	assert.False(t, OrderStatus("eaten").IsValid())
	assert.False(t, OrderStatus("").IsValid())
}
