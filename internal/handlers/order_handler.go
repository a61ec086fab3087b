package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/dcarapic/hotmeals-sub000/internal/client"
	"github.com/dcarapic/hotmeals-sub000/internal/events"
	"github.com/dcarapic/hotmeals-sub000/internal/models"
	"github.com/dcarapic/hotmeals-sub000/internal/order"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// StatusClientClosedRequest is written when the caller went away mid-request
const StatusClientClosedRequest = 499

// MenuFetcher lists restaurant menus
type MenuFetcher interface {
	FetchMenuItems(ctx context.Context, restaurantID string) ([]models.MenuItemReference, error)
}

// OrderHandler exposes the current order and its placement to the UI
type OrderHandler struct {
	registry    *order.Registry
	coordinator *order.Coordinator
	menus       MenuFetcher
}

// NewOrderHandler creates a new OrderHandler
func NewOrderHandler(registry *order.Registry, coordinator *order.Coordinator, menus MenuFetcher) *OrderHandler {
	return &OrderHandler{
		registry:    registry,
		coordinator: coordinator,
		menus:       menus,
	}
}

// RegisterRoutes registers the order routes on r
func (h *OrderHandler) RegisterRoutes(r gin.IRouter) {
	r.GET("/restaurants/:restaurantId/menu", h.getMenu)

	r.GET("/order/current", h.getCurrent)
	r.POST("/order/current", h.createCurrent)
	r.DELETE("/order/current", h.removeCurrent)
	r.PUT("/order/current/items", h.setItemQuantity)

	r.POST("/order/place", h.place)
	r.POST("/order/cancel-before-placement", h.cancelBeforePlacement)
	r.POST("/order/:orderId/cancel", h.cancel)
	r.POST("/order/stop-waiting", h.stopWaiting)
	r.POST("/order/dismiss", h.dismiss)
	r.GET("/order/placement", h.getPlacement)
	r.POST("/order/updates", h.orderUpdated)
}

// CreateOrderRequest starts a new order for a restaurant
type CreateOrderRequest struct {
	RestaurantID   string `json:"restaurant_id" binding:"required"`
	RestaurantName string `json:"restaurant_name"`
}

// SetQuantityRequest sets the quantity of one menu item
type SetQuantityRequest struct {
	Item     models.MenuItemReference `json:"item"`
	Quantity *int                     `json:"quantity" binding:"required"`
}

// CurrentOrderResponse describes the order the customer is dealing with
type CurrentOrderResponse struct {
	Kind       string                  `json:"kind"`
	InProgress *models.InProgressOrder `json:"in_progress,omitempty"`
	Placed     *models.PlacedOrder     `json:"placed,omitempty"`
}

// PlacementResponse describes the placement state
type PlacementResponse struct {
	Phase order.Phase         `json:"phase"`
	Order *models.PlacedOrder `json:"order,omitempty"`
}

func (h *OrderHandler) getMenu(c *gin.Context) {
	items, err := h.menus.FetchMenuItems(c.Request.Context(), c.Param("restaurantId"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.MenuResponse{MenuItems: items})
}

func (h *OrderHandler) getCurrent(c *gin.Context) {
	switch o := h.coordinator.Current().(type) {
	case models.InProgress:
		c.JSON(http.StatusOK, CurrentOrderResponse{Kind: "in_progress", InProgress: &o.Order})
	case models.Placed:
		c.JSON(http.StatusOK, CurrentOrderResponse{Kind: "placed", Placed: &o.Order})
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No current order"})
	}
}

func (h *OrderHandler) createCurrent(c *gin.Context) {
	var req CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	h.registry.Create(req.RestaurantID, req.RestaurantName)

	log.WithField("restaurant_id", req.RestaurantID).Info("Started new order")
	c.JSON(http.StatusCreated, h.registry.Get())
}

func (h *OrderHandler) removeCurrent(c *gin.Context) {
	h.registry.Remove()
	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) setItemQuantity(c *gin.Context) {
	var req SetQuantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if req.Item.MenuItemID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "item.menu_item_id is required"})
		return
	}

	if h.registry.Get() == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No order in progress"})
		return
	}
	h.registry.SetItemQuantity(req.Item, *req.Quantity)

	c.JSON(http.StatusOK, h.registry.Get())
}

func (h *OrderHandler) place(c *gin.Context) {
	current := h.registry.Get()
	if current == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "No order in progress"})
		return
	}

	placed, err := h.coordinator.Place(c.Request.Context(), *current)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, models.OrderResponse{Order: *placed})
}

func (h *OrderHandler) cancelBeforePlacement(c *gin.Context) {
	if err := h.coordinator.CancelBeforePlacement(); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) cancel(c *gin.Context) {
	canceled, err := h.coordinator.Cancel(c.Request.Context(), c.Param("orderId"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, models.OrderResponse{Order: *canceled})
}

func (h *OrderHandler) stopWaiting(c *gin.Context) {
	orderID, err := h.coordinator.StopWaitingForConfirmation()
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID})
}

func (h *OrderHandler) dismiss(c *gin.Context) {
	if err := h.coordinator.Dismiss(); err != nil {
		renderError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *OrderHandler) getPlacement(c *gin.Context) {
	state := h.coordinator.State()
	resp := PlacementResponse{Phase: state.Phase()}
	if held, ok := order.HeldOrder(state); ok {
		resp.Order = &held
	}
	c.JSON(http.StatusOK, resp)
}

// orderUpdated lets the page relay pushed order updates it received itself
func (h *OrderHandler) orderUpdated(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}

	if err := events.Dispatch(body, h.coordinator.HandleOrderUpdated); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	h.getPlacement(c)
}

func renderError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, order.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
		return
	case errors.Is(err, order.ErrUnknownOrder):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
		return
	}

	var apiErr *client.Error
	if !errors.As(err, &apiErr) {
		log.Error("Unexpected error: ", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal", "message": "Unexpected error"})
		return
	}

	status := http.StatusBadGateway
	switch apiErr.Category {
	case client.CategoryAborted:
		c.Status(StatusClientClosedRequest)
		return
	case client.CategoryValidation:
		status = http.StatusUnprocessableEntity
	case client.CategoryUnauthorized:
		status = http.StatusUnauthorized
	case client.CategoryNetwork:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"error":     apiErr.Category,
		"message":   apiErr.Message,
		"retryable": apiErr.Retryable(),
	})
}
