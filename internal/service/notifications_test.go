package service

import (
	"context"
	"testing"

	"campus-market/internal/models"
	"campus-market/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleOrderPlacedNotifiesBuyerAndSellersOnce(t *testing.T) {
	st := testutil.NewMemStore()
	svc := NewNotificationService(st)
	ctx := context.Background()

	buyer, sellerA, sellerB := uuid.New(), uuid.New(), uuid.New()
	event := &models.OrderPlacedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     uuid.New(),
		UserID:      buyer,
		TotalAmount: decimal.NewFromInt(155),
		Items: []models.OrderItemData{
			{SellerID: sellerA, Name: "Rice cooker", Quantity: 1},
			{SellerID: sellerA, Name: "Kettle", Quantity: 1},
			{SellerID: sellerB, Name: "Desk lamp", Quantity: 2},
			{Name: "Unknown seller", Quantity: 1},
		},
	}

	require.NoError(t, svc.HandleOrderPlaced(ctx, event))
	require.NoError(t, svc.HandleOrderPlaced(ctx, event))

	notes := st.Notifications()
	require.Len(t, notes, 3)
	assert.Equal(t, buyer, notes[0].UserID)
	assert.Equal(t, "order_placed", notes[0].Kind)
	assert.Contains(t, notes[0].Body, "GHS 155.00")
	assert.Equal(t, sellerA, notes[1].UserID)
	assert.Equal(t, sellerB, notes[2].UserID)
}

func TestHandlePaymentEvent(t *testing.T) {
	st := testutil.NewMemStore()
	svc := NewNotificationService(st)
	ctx := context.Background()
	buyer := uuid.New()

	failed := &models.PaymentEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypePaymentFailed),
		OrderID:   uuid.New(),
		UserID:    buyer,
		Reason:    "Declined by bank",
	}
	require.NoError(t, svc.HandlePaymentEvent(ctx, failed))

	notes, err := svc.List(ctx, buyer, 0)
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, "payment_failed", notes[0].Kind)
	assert.Contains(t, notes[0].Body, "Declined by bank")

	require.NoError(t, svc.MarkRead(ctx, notes[0].ID, buyer))
	assert.ErrorIs(t, svc.MarkRead(ctx, notes[0].ID, uuid.New()), ErrNotificationNotFound)

	notes, err = svc.List(ctx, buyer, 10)
	require.NoError(t, err)
	assert.True(t, notes[0].Read)
}

func TestHandleOrderStatusChanged(t *testing.T) {
	st := testutil.NewMemStore()
	svc := NewNotificationService(st)

	event := &models.OrderStatusChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusChanged),
		OrderID:   uuid.New(),
		UserID:    uuid.New(),
		Status:    models.OrderStatusShipped,
	}
	require.NoError(t, svc.HandleOrderStatusChanged(context.Background(), event))

	notes := st.Notifications()
	require.Len(t, notes, 1)
	assert.Equal(t, "order_shipped", notes[0].Kind)
	assert.Contains(t, notes[0].Body, "shipped")
}

func TestHandleOrderPlacedFailedBatchIsRedeliveredCleanly(t *testing.T) {
	st := testutil.NewMemStore()
	svc := NewNotificationService(st)
	ctx := context.Background()

	event := &models.OrderPlacedEvent{
		BaseEvent:   models.NewBaseEvent(models.EventTypeOrderPlaced),
		OrderID:     uuid.New(),
		UserID:      uuid.New(),
		TotalAmount: decimal.NewFromInt(40),
		Items: []models.OrderItemData{
			{SellerID: uuid.New(), Name: "Iron", Quantity: 1},
			{SellerID: uuid.New(), Name: "Fan", Quantity: 1},
		},
	}

	st.FailNotificationAt = 2
	require.Error(t, svc.HandleOrderPlaced(ctx, event))
	assert.Empty(t, st.Notifications())

	st.FailNotificationAt = 0
	require.NoError(t, svc.HandleOrderPlaced(ctx, event))
	require.NoError(t, svc.HandleOrderPlaced(ctx, event))
	assert.Len(t, st.Notifications(), 3)
}
