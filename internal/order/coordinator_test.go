package order_test

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/dcarapic/hotmeals-sub000/internal/client"
	"github.com/dcarapic/hotmeals-sub000/internal/metrics"
	"github.com/dcarapic/hotmeals-sub000/internal/models"
	"github.com/dcarapic/hotmeals-sub000/internal/order"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockOrderAPI is a mock implementation of order.OrderAPI
type MockOrderAPI struct {
	mock.Mock
}

func (m *MockOrderAPI) PlaceOrder(ctx context.Context, req models.PlaceOrderRequest) (*models.PlacedOrder, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlacedOrder), args.Error(1)
}

func (m *MockOrderAPI) UpdateOrderStatus(ctx context.Context, orderID string, status models.OrderStatus) (*models.PlacedOrder, error) {
	args := m.Called(ctx, orderID, status)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.PlacedOrder), args.Error(1)
}

// MockSessionHandler records unauthorized callbacks
type MockSessionHandler struct {
	mock.Mock
}

func (m *MockSessionHandler) OnUnauthorized(err error) {
	m.Called(err)
}

type fixture struct {
	api         *MockOrderAPI
	registry    *order.Registry
	coordinator *order.Coordinator
	removals    int
	notified    int
}

func newFixture(t *testing.T, opts ...order.Option) *fixture {
	t.Helper()
	f := &fixture{
		api:      new(MockOrderAPI),
		registry: order.NewRegistry(),
	}
	f.registry.Create("R1", "Pizza Place")
	f.registry.SetItemQuantity(menuItem("A", "R1", "5.00"), 2)
	f.registry.SetItemQuantity(menuItem("B", "R1", "3.33"), 1)
	f.registry.Subscribe(func(current *models.InProgressOrder) {
		f.notified++
		if current == nil {
			f.removals++
		}
	})
	f.coordinator = order.NewCoordinator(f.api, f.registry, opts...)
	return f
}

func placedOrder(id string, status models.OrderStatus) *models.PlacedOrder {
	return &models.PlacedOrder{
		OrderID:        id,
		RestaurantID:   "R1",
		RestaurantName: "Pizza Place",
		CustomerID:     "C1",
		CurrentStatus:  status,
		CreatedAt:      time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		Items: []models.OrderItemSnapshot{
			{Name: "Item A", Price: decimal.RequireFromString("5.00"), Quantity: 2, Position: 1},
			{Name: "Item B", Price: decimal.RequireFromString("3.33"), Quantity: 1, Position: 2},
		},
		History: []models.StatusChange{{Status: status, ChangedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}},
		Total:   decimal.RequireFromString("13.33"),
	}
}

func (f *fixture) waiting(t *testing.T, id string) {
	t.Helper()
	f.api.On("PlaceOrder", mock.Anything, mock.Anything).Return(placedOrder(id, models.OrderStatusPlaced), nil).Once()
	_, err := f.coordinator.Place(context.Background(), *f.registry.Get())
	require.NoError(t, err)
}

func TestCoordinator_PlaceSuccess(t *testing.T) {
	f := newFixture(t)
	current := *f.registry.Get()
	expected := placedOrder("O1", models.OrderStatusPlaced)

	f.api.On("PlaceOrder", mock.Anything, models.PlaceOrderRequest{
		RestaurantID: "R1",
		Items: []models.PlaceOrderItem{
			{MenuItemID: "A", Price: current.Items[0].Price, Quantity: 2},
			{MenuItemID: "B", Price: current.Items[1].Price, Quantity: 1},
		},
	}).Return(expected, nil).Once()

	placed, err := f.coordinator.Place(context.Background(), current)

	require.NoError(t, err)
	assert.Equal(t, expected, placed)
	assert.Equal(t, order.WaitingConfirmation{Order: *expected}, f.coordinator.State())
	assert.Nil(t, f.registry.Get())
	assert.Equal(t, 1, f.removals)
	assert.Equal(t, 1, f.notified)
	f.api.AssertExpectations(t)
}

func TestCoordinator_PlaceValidationFailure(t *testing.T) {
	f := newFixture(t)
	current := *f.registry.Get()
	f.api.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, &client.Error{
		Category:   client.CategoryValidation,
		StatusCode: http.StatusBadRequest,
		Message:    "item no longer available",
	}).Once()

	placed, err := f.coordinator.Place(context.Background(), current)

	assert.Nil(t, placed)
	category, ok := client.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, client.CategoryValidation, category)
	assert.Contains(t, err.Error(), "item no longer available")
	assert.Equal(t, order.Idle{}, f.coordinator.State())
	assert.Equal(t, &current, f.registry.Get())
	assert.Zero(t, f.notified)
	f.api.AssertExpectations(t)
}

func TestCoordinator_PlaceCanBeRetriedAfterFailure(t *testing.T) {
	f := newFixture(t)
	current := *f.registry.Get()
	f.api.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(nil, &client.Error{Category: client.CategoryNetwork, Message: "network failure"}).Once()
	f.api.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(placedOrder("O1", models.OrderStatusPlaced), nil).Once()

	_, err := f.coordinator.Place(context.Background(), current)
	require.Error(t, err)

	placed, err := f.coordinator.Place(context.Background(), current)
	require.NoError(t, err)
	assert.Equal(t, "O1", placed.OrderID)
	assert.Equal(t, 1, f.removals)
}

func TestCoordinator_PlaceAbortedByContext(t *testing.T) {
	f := newFixture(t)
	current := *f.registry.Get()
	ctx, cancel := context.WithCancel(context.Background())

	f.api.On("PlaceOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			<-args.Get(0).(context.Context).Done()
		}).
		Return(placedOrder("O1", models.OrderStatusPlaced), nil).Once()

	placed, err := f.coordinator.Place(ctx, current)

	assert.Nil(t, placed)
	assert.True(t, client.IsAborted(err))
	assert.Equal(t, order.Idle{}, f.coordinator.State())
	assert.Equal(t, &current, f.registry.Get())
	assert.Zero(t, f.notified)
}

func TestCoordinator_CancelBeforePlacementAbortsRequest(t *testing.T) {
	f := newFixture(t)
	current := *f.registry.Get()
	started := make(chan struct{})

	f.api.On("PlaceOrder", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			close(started)
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, client.Aborted(context.Canceled)).Once()

	type result struct {
		placed *models.PlacedOrder
		err    error
	}
	done := make(chan result, 1)
	go func() {
		placed, err := f.coordinator.Place(context.Background(), current)
		done <- result{placed, err}
	}()

	<-started
	assert.Equal(t, order.PhasePlacing, f.coordinator.State().Phase())
	require.NoError(t, f.coordinator.CancelBeforePlacement())

	res := <-done
	assert.Nil(t, res.placed)
	assert.True(t, client.IsAborted(res.err))
	assert.Equal(t, order.Idle{}, f.coordinator.State())
	assert.Nil(t, f.registry.Get())
	assert.Equal(t, 1, f.removals)
}

func TestCoordinator_CancelBeforePlacementWhileIdle(t *testing.T) {
	f := newFixture(t)

	require.NoError(t, f.coordinator.CancelBeforePlacement())

	assert.Nil(t, f.registry.Get())
	assert.Equal(t, 1, f.removals)
	f.api.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestCoordinator_PlaceEmptyOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator.Place(context.Background(), emptyOrder("R1"))

	category, ok := client.CategoryOf(err)
	require.True(t, ok)
	assert.Equal(t, client.CategoryValidation, category)
	assert.Equal(t, order.Idle{}, f.coordinator.State())
	f.api.AssertNotCalled(t, "PlaceOrder", mock.Anything, mock.Anything)
}

func TestCoordinator_PlaceUnauthorizedKeepsOrder(t *testing.T) {
	session := new(MockSessionHandler)
	f := newFixture(t, order.WithSessionHandler(session))
	current := *f.registry.Get()
	authErr := &client.Error{Category: client.CategoryUnauthorized, StatusCode: http.StatusUnauthorized, Message: "session expired"}

	f.api.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, authErr).Once()
	session.On("OnUnauthorized", authErr).Once()

	_, err := f.coordinator.Place(context.Background(), current)

	assert.ErrorIs(t, err, authErr)
	assert.Equal(t, &current, f.registry.Get())
	assert.Equal(t, order.Idle{}, f.coordinator.State())
	session.AssertExpectations(t)
}

func TestCoordinator_PlaceTwiceIsRejected(t *testing.T) {
	f := newFixture(t)
	f.waiting(t, "O1")

	_, err := f.coordinator.Place(context.Background(), *placedAsInProgress())

	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestCoordinator_CancelPlacedOrder(t *testing.T) {
	f := newFixture(t)
	f.waiting(t, "O1")
	canceled := placedOrder("O1", models.OrderStatusCanceled)
	f.api.On("UpdateOrderStatus", mock.Anything, "O1", models.OrderStatusCanceled).Return(canceled, nil).Once()

	got, err := f.coordinator.Cancel(context.Background(), "O1")

	require.NoError(t, err)
	assert.Equal(t, canceled, got)
	assert.Equal(t, order.Canceled{Order: *canceled}, f.coordinator.State())
	f.api.AssertExpectations(t)
}

func TestCoordinator_CancelFailureRestoresWaiting(t *testing.T) {
	f := newFixture(t)
	f.waiting(t, "O1")
	before := f.coordinator.State()
	f.api.On("UpdateOrderStatus", mock.Anything, "O1", models.OrderStatusCanceled).
		Return(nil, &client.Error{Category: client.CategoryServer, StatusCode: http.StatusInternalServerError, Message: "boom"}).Once()

	_, err := f.coordinator.Cancel(context.Background(), "O1")

	category, _ := client.CategoryOf(err)
	assert.Equal(t, client.CategoryServer, category)
	assert.Equal(t, before, f.coordinator.State())
}

func TestCoordinator_CancelAborted(t *testing.T) {
	f := newFixture(t)
	f.waiting(t, "O1")
	before := f.coordinator.State()
	ctx, cancel := context.WithCancel(context.Background())
	f.api.On("UpdateOrderStatus", mock.Anything, "O1", models.OrderStatusCanceled).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, context.Canceled).Once()

	_, err := f.coordinator.Cancel(ctx, "O1")

	assert.True(t, client.IsAborted(err))
	assert.Equal(t, before, f.coordinator.State())
}

func TestCoordinator_CancelRequiresHeldOrder(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator.Cancel(context.Background(), "O1")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	f.waiting(t, "O1")
	_, err = f.coordinator.Cancel(context.Background(), "O2")
	assert.ErrorIs(t, err, order.ErrUnknownOrder)
	f.api.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything)
}

func TestCoordinator_StopWaitingForConfirmation(t *testing.T) {
	f := newFixture(t)

	_, err := f.coordinator.StopWaitingForConfirmation()
	assert.ErrorIs(t, err, order.ErrInvalidTransition)

	f.waiting(t, "O1")
	id, err := f.coordinator.StopWaitingForConfirmation()

	require.NoError(t, err)
	assert.Equal(t, "O1", id)
	assert.Equal(t, order.PhaseClosedWithoutWaiting, f.coordinator.State().Phase())
	f.api.AssertNotCalled(t, "UpdateOrderStatus", mock.Anything, mock.Anything, mock.Anything)

	require.NoError(t, f.coordinator.Dismiss())
	assert.Equal(t, order.Idle{}, f.coordinator.State())
}

func TestCoordinator_OrderUpdatedConfirms(t *testing.T) {
	var transitions []order.Phase
	f := newFixture(t, order.WithTransitionHook(func(_, to order.State) {
		transitions = append(transitions, to.Phase())
	}))
	f.waiting(t, "O1")

	assert.False(t, f.coordinator.HandleOrderUpdated(*placedOrder("O2", models.OrderStatusAccepted)))
	assert.Equal(t, order.PhaseWaitingConfirmation, f.coordinator.State().Phase())

	accepted := placedOrder("O1", models.OrderStatusAccepted)
	assert.True(t, f.coordinator.HandleOrderUpdated(*accepted))
	assert.Equal(t, order.Confirmed{Order: *accepted}, f.coordinator.State())

	assert.Equal(t, []order.Phase{order.PhasePlacing, order.PhaseWaitingConfirmation, order.PhaseConfirmed}, transitions)
}

func TestCoordinator_OrderUpdatedCanceledByRestaurant(t *testing.T) {
	f := newFixture(t)
	f.waiting(t, "O1")

	assert.True(t, f.coordinator.HandleOrderUpdated(*placedOrder("O1", models.OrderStatusCanceled)))

	assert.Equal(t, order.PhaseCanceled, f.coordinator.State().Phase())
}

func TestCoordinator_OrderUpdatedWhileCanceling(t *testing.T) {
	f := newFixture(t)
	f.waiting(t, "O1")
	accepted := placedOrder("O1", models.OrderStatusAccepted)

	f.api.On("UpdateOrderStatus", mock.Anything, "O1", models.OrderStatusCanceled).
		Run(func(mock.Arguments) {
			assert.Equal(t, order.PhaseCanceling, f.coordinator.State().Phase())
			assert.True(t, f.coordinator.HandleOrderUpdated(*accepted))
			assert.Equal(t, order.PhaseCanceling, f.coordinator.State().Phase())
		}).
		Return(nil, &client.Error{Category: client.CategoryValidation, StatusCode: http.StatusConflict, Message: "already accepted"}).Once()

	_, err := f.coordinator.Cancel(context.Background(), "O1")

	require.Error(t, err)
	assert.Equal(t, order.Confirmed{Order: *accepted}, f.coordinator.State())
}

func TestCoordinator_Dismiss(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.coordinator.Dismiss(), order.ErrInvalidTransition)

	f.waiting(t, "O1")
	assert.ErrorIs(t, f.coordinator.Dismiss(), order.ErrInvalidTransition)

	f.coordinator.HandleOrderUpdated(*placedOrder("O1", models.OrderStatusAccepted))
	require.NoError(t, f.coordinator.Dismiss())
	assert.Equal(t, order.Idle{}, f.coordinator.State())
	assert.Nil(t, f.coordinator.Current())
}

func TestCoordinator_Current(t *testing.T) {
	f := newFixture(t)

	inProgress, ok := f.coordinator.Current().(models.InProgress)
	require.True(t, ok)
	assert.Equal(t, "R1", inProgress.Order.RestaurantID)

	f.waiting(t, "O1")
	placed, ok := f.coordinator.Current().(models.Placed)
	require.True(t, ok)
	assert.Equal(t, "O1", placed.Order.OrderID)
}

func TestCoordinator_DefectIsNotCategorized(t *testing.T) {
	f := newFixture(t)
	defect := errors.New("malformed")
	f.api.On("PlaceOrder", mock.Anything, mock.Anything).Return(nil, defect).Once()

	_, err := f.coordinator.Place(context.Background(), *f.registry.Get())

	assert.ErrorIs(t, err, defect)
	_, ok := client.CategoryOf(err)
	assert.False(t, ok)
	assert.Equal(t, order.Idle{}, f.coordinator.State())
}

func placedAsInProgress() *models.InProgressOrder {
	o := order.ApplyQuantity(emptyOrder("R1"), menuItem("A", "R1", "1.00"), 1)
	return &o
}

func TestCoordinator_PlaceKeepsNewerOrder(t *testing.T) {
	f := newFixture(t)
	current := *f.registry.Get()
	f.api.On("PlaceOrder", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) {
			f.registry.Create("R2", "Burger Bar")
		}).
		Return(placedOrder("O1", models.OrderStatusPlaced), nil).Once()

	placed, err := f.coordinator.Place(context.Background(), current)

	require.NoError(t, err)
	assert.Equal(t, "O1", placed.OrderID)
	assert.Equal(t, order.PhaseWaitingConfirmation, f.coordinator.State().Phase())
	newer := f.registry.Get()
	require.NotNil(t, newer)
	assert.Equal(t, "R2", newer.RestaurantID)
	assert.Zero(t, f.removals)
	assert.Equal(t, 1, f.notified)
}

func phaseGauge(phase order.Phase) float64 {
	return testutil.ToFloat64(metrics.PlacementPhase.WithLabelValues(string(phase)))
}

func TestCoordinator_PhaseGauge(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, 1.0, phaseGauge(order.PhaseIdle))

	f.waiting(t, "O1")
	assert.Equal(t, 1.0, phaseGauge(order.PhaseWaitingConfirmation))
	assert.Equal(t, 0.0, phaseGauge(order.PhaseIdle))
	assert.Equal(t, 0.0, phaseGauge(order.PhasePlacing))

	_, err := f.coordinator.StopWaitingForConfirmation()
	require.NoError(t, err)
	assert.Equal(t, 1.0, phaseGauge(order.PhaseClosedWithoutWaiting))
	assert.Equal(t, 0.0, phaseGauge(order.PhaseWaitingConfirmation))
}

func TestCoordinator_PhaseGaugeWithOverlappingTransitions(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	f := newFixture(t, order.WithTransitionHook(func(_, to order.State) {
		if to.Phase() == order.PhasePlacing {
			close(entered)
			<-release
		}
	}))
	f.api.On("PlaceOrder", mock.Anything, mock.Anything).
		Return(nil, client.Aborted(context.Canceled)).Maybe()

	done := make(chan error, 1)
	go func() {
		_, err := f.coordinator.Place(context.Background(), *f.registry.Get())
		done <- err
	}()

	<-entered
	require.NoError(t, f.coordinator.CancelBeforePlacement())
	close(release)

	assert.True(t, client.IsAborted(<-done))
	assert.Equal(t, order.Idle{}, f.coordinator.State())
	assert.Equal(t, 1.0, phaseGauge(order.PhaseIdle))
	assert.Equal(t, 0.0, phaseGauge(order.PhasePlacing))
}
