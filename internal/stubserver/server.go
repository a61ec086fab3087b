// Package stubserver is an in-memory stand-in for the platform REST API,
// used by tests and local development.
package stubserver

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dcarapic/hotmeals-sub000/internal/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var allowedTransitions = map[models.OrderStatus][]models.OrderStatus{
	models.OrderStatusPlaced:    {models.OrderStatusAccepted, models.OrderStatusCanceled},
	models.OrderStatusAccepted:  {models.OrderStatusShipped, models.OrderStatusCanceled},
	models.OrderStatusShipped:   {models.OrderStatusDelivered},
	models.OrderStatusDelivered: {models.OrderStatusReceived},
}

type restaurant struct {
	name  string
	menu  map[string]models.MenuItemReference
	order []string
}

// Server keeps restaurants and orders in memory
type Server struct {
	restaurants map[string]*restaurant
	orders      map[string]*models.PlacedOrder
	mutex       sync.RWMutex

	chaosFailureRate float32
	chaosSlowDelay   time.Duration
	chaosMutex       sync.RWMutex

	token    string
	customer models.PlacedOrder
	now      func() time.Time
}

// New creates an empty server. When token is not empty every request must
// carry it as a bearer token.
func New(token string) *Server {
	return &Server{
		restaurants: make(map[string]*restaurant),
		orders:      make(map[string]*models.PlacedOrder),
		token:       token,
		customer: models.PlacedOrder{
			CustomerID:    "customer-1",
			CustomerEmail: "customer@example.com",
			CustomerName:  "Sample Customer",
		},
		now: time.Now,
	}
}

// AddRestaurant registers a restaurant and its menu
func (s *Server) AddRestaurant(id, name string, items ...models.MenuItemReference) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	r := &restaurant{name: name, menu: make(map[string]models.MenuItemReference)}
	for _, item := range items {
		item.RestaurantID = id
		r.menu[item.MenuItemID] = item
		r.order = append(r.order, item.MenuItemID)
	}
	s.restaurants[id] = r
}

// SetPrice changes the price of a menu item
func (s *Server) SetPrice(restaurantID, menuItemID string, price decimal.Decimal) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if r, ok := s.restaurants[restaurantID]; ok {
		if item, ok := r.menu[menuItemID]; ok {
			item.Price = price
			r.menu[menuItemID] = item
		}
	}
}

// Order returns a stored order
func (s *Server) Order(orderID string) (models.PlacedOrder, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	o, ok := s.orders[orderID]
	if !ok {
		return models.PlacedOrder{}, false
	}
	return *o, true
}

// OrderCount returns the number of stored orders
func (s *Server) OrderCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.orders)
}

// SetChaos makes the given fraction of API requests fail with 503
func (s *Server) SetChaos(failureRate float32) {
	s.chaosMutex.Lock()
	defer s.chaosMutex.Unlock()
	s.chaosFailureRate = failureRate
}

// SetSlowMode delays every API request by delay
func (s *Server) SetSlowMode(delay time.Duration) {
	s.chaosMutex.Lock()
	defer s.chaosMutex.Unlock()
	s.chaosSlowDelay = delay
}

// Router returns the gin engine serving the API
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	api := router.Group("/api", s.authenticate, s.simulateChaos)
	api.GET("/restaurants/:restaurantId/menu", s.getMenu)
	api.POST("/customer/orders", s.placeOrder)
	api.PUT("/orders/:orderId/status", s.updateStatus)

	router.POST("/chaos/enable", func(c *gin.Context) {
		s.SetChaos(1)
		c.JSON(http.StatusOK, gin.H{"message": "Chaos mode enabled"})
	})
	router.POST("/chaos/disable", func(c *gin.Context) {
		s.SetChaos(0)
		s.SetSlowMode(0)
		c.JSON(http.StatusOK, gin.H{"message": "Chaos mode disabled"})
	})

	return router
}

func (s *Server) authenticate(c *gin.Context) {
	if s.token == "" {
		return
	}
	if c.GetHeader("Authorization") != "Bearer "+s.token {
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.APIError{
			Error:   "unauthorized",
			Message: "missing or invalid token",
		})
	}
}

func (s *Server) simulateChaos(c *gin.Context) {
	s.chaosMutex.RLock()
	rate, delay := s.chaosFailureRate, s.chaosSlowDelay
	s.chaosMutex.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.Request.Context().Done():
			c.Abort()
			return
		}
	}

	if rate > 0 && rand.Float32() < rate {
		log.WithField("path", c.FullPath()).Warn("Chaos: Simulated failure")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, models.APIError{
			Error:   "unavailable",
			Message: "Service temporarily unavailable",
		})
	}
}

func (s *Server) getMenu(c *gin.Context) {
	restaurantID := c.Param("restaurantId")

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	r, ok := s.restaurants[restaurantID]
	if !ok {
		c.JSON(http.StatusNotFound, models.APIError{Error: "not_found", Message: "Restaurant not found"})
		return
	}

	items := make([]models.MenuItemReference, 0, len(r.order))
	for _, id := range r.order {
		items = append(items, r.menu[id])
	}
	c.JSON(http.StatusOK, models.MenuResponse{MenuItems: items})
}

func (s *Server) placeOrder(c *gin.Context) {
	var req models.PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, models.APIError{Error: "invalid_request", Message: "Invalid request: " + err.Error()})
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	r, ok := s.restaurants[req.RestaurantID]
	if !ok {
		c.JSON(http.StatusNotFound, models.APIError{Error: "not_found", Message: "Restaurant not found"})
		return
	}

	snapshots, total, err := snapshotItems(r, req.Items)
	if err != nil {
		c.JSON(http.StatusBadRequest, models.APIError{Error: "validation_failed", Message: err.Error()})
		return
	}

	now := s.now().UTC()
	placed := s.customer
	placed.OrderID = uuid.New().String()
	placed.RestaurantID = req.RestaurantID
	placed.RestaurantName = r.name
	placed.CurrentStatus = models.OrderStatusPlaced
	placed.CreatedAt = now
	placed.Items = snapshots
	placed.History = []models.StatusChange{{Status: models.OrderStatusPlaced, ChangedAt: now}}
	placed.Total = total
	s.orders[placed.OrderID] = &placed

	log.WithFields(log.Fields{
		"order_id":      placed.OrderID,
		"restaurant_id": placed.RestaurantID,
		"items":         len(placed.Items),
	}).Info("Order placed")

	c.JSON(http.StatusCreated, models.OrderResponse{Order: placed})
}

func snapshotItems(r *restaurant, lines []models.PlaceOrderItem) ([]models.OrderItemSnapshot, decimal.Decimal, error) {
	if len(lines) == 0 {
		return nil, decimal.Zero, fmt.Errorf("order must contain at least one item")
	}

	snapshots := make([]models.OrderItemSnapshot, 0, len(lines))
	total := decimal.Zero
	for i, line := range lines {
		item, ok := r.menu[line.MenuItemID]
		if !ok {
			return nil, decimal.Zero, fmt.Errorf("item %s is no longer available", line.MenuItemID)
		}
		if !item.Price.Equal(line.Price) {
			return nil, decimal.Zero, fmt.Errorf("price of %s has changed", item.Name)
		}
		if line.Quantity < 1 || line.Quantity > models.MaxQuantity {
			return nil, decimal.Zero, fmt.Errorf("item %d: invalid quantity %d", i, line.Quantity)
		}
		snapshots = append(snapshots, models.OrderItemSnapshot{
			Name:        item.Name,
			Description: item.Description,
			Price:       item.Price,
			Quantity:    line.Quantity,
			Position:    i + 1,
		})
		total = total.Add(item.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}
	return snapshots, total.Round(2), nil
}

func (s *Server) updateStatus(c *gin.Context) {
	orderID := c.Param("orderId")

	var req models.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil || !req.Status.IsValid() {
		c.JSON(http.StatusBadRequest, models.APIError{Error: "invalid_request", Message: "Invalid status"})
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		c.JSON(http.StatusNotFound, models.APIError{Error: "not_found", Message: "Order not found"})
		return
	}

	if !canTransition(o.CurrentStatus, req.Status) {
		c.JSON(http.StatusConflict, models.APIError{
			Error:   "invalid_transition",
			Message: fmt.Sprintf("cannot change status from %s to %s", o.CurrentStatus, req.Status),
		})
		return
	}

	o.CurrentStatus = req.Status
	o.History = append(o.History, models.StatusChange{Status: req.Status, ChangedAt: s.now().UTC()})

	log.WithFields(log.Fields{
		"order_id": orderID,
		"status":   req.Status,
	}).Info("Order status changed")

	c.JSON(http.StatusOK, models.OrderResponse{Order: *o})
}

func canTransition(from, to models.OrderStatus) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// SampleMenu returns a small menu for local development
func SampleMenu() []models.MenuItemReference {
	items := []struct{ id, name, price string }{
		{"item-1", "Margherita", "8.50"},
		{"item-2", "Quattro Formaggi", "10.90"},
		{"item-3", "Garlic Bread", "3.33"},
		{"item-4", "Tiramisu", "5.00"},
		{"item-5", "Lemonade", "2.75"},
	}

	menu := make([]models.MenuItemReference, 0, len(items))
	for _, item := range items {
		menu = append(menu, models.MenuItemReference{
			MenuItemID:  item.id,
			Name:        item.name,
			Description: strings.ToLower(item.name),
			Price:       decimal.RequireFromString(item.price),
		})
	}
	return menu
}
