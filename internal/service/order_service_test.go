package service

import (
	"context"
	"errors"
	"testing"

	"campus-market/internal/models"
	"campus-market/internal/paystack"
	"campus-market/internal/testutil"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateOrderPayOnDelivery(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addProduct("75", 10)

	in := h.checkout(models.PaymentMethodPayOnDelivery, "", "155", item(p.ID, "75", 2))
	in.Items[0].SellerID = h.seller.ID

	res, err := h.orders.CreateOrder(ctx, in)
	require.NoError(t, err)
	require.True(t, res.Created)

	order := res.Order
	assert.Regexp(t, `^POD-\d+-\d+$`, order.PaymentInfo.Reference)
	assert.Equal(t, models.PaymentStatusPending, order.PaymentInfo.Status)
	assert.Equal(t, models.OrderStatusPending, order.OrderStatus)
	assert.Equal(t, "GHS", order.PaymentInfo.Currency)
	assert.Equal(t, "155", order.TotalAmount.String())
	assert.Equal(t, h.seller.Phone, order.Items[0].SellerPhone)
	assert.Empty(t, h.gateway.VerifyCalls)

	assert.Equal(t, 8, h.store.Product(p.ID).Stock)
	assert.Equal(t, []uuid.UUID{h.buyer.ID}, h.store.ClearedCarts)

	require.Len(t, h.publisher.OrdersPlaced, 1)
	assert.Equal(t, order.ID, h.publisher.OrdersPlaced[0].OrderID)
	assert.Equal(t, order.PaymentInfo.Reference, h.publisher.OrdersPlaced[0].Reference)
}

func TestCreateOrderOnline(t *testing.T) {
	ctx := context.Background()

	t.Run("verified payment", func(t *testing.T) {
		h := newHarness(t)
		p := h.addProduct("100", 3)
		h.gateway.VerifyFn = func(ref string) (*paystack.VerifyResult, error) { return testutil.Verified(ref, 20000), nil }

		res, err := h.orders.CreateOrder(ctx, h.checkout(models.PaymentMethodOnline, "ref_paid", "200", item(p.ID, "100", 2)))
		require.NoError(t, err)

		order := res.Order
		assert.Equal(t, "ref_paid", order.PaymentInfo.Reference)
		assert.Equal(t, models.PaymentStatusSuccess, order.PaymentInfo.Status)
		assert.Equal(t, models.OrderStatusProcessing, order.OrderStatus)
		assert.NotNil(t, order.PaymentInfo.PaidAt)
		assert.Equal(t, 1, h.store.Product(p.ID).Stock)

		txn, err := h.store.GetTransactionByProviderReference(ctx, "ref_paid")
		require.NoError(t, err)
		assert.Equal(t, models.TransactionStatusCompleted, txn.Status)
		assert.Equal(t, order.ID, txn.OrderID)
	})

	t.Run("abandoned payment creates nothing", func(t *testing.T) {
		h := newHarness(t)
		p := h.addProduct("100", 3)
		h.gateway.VerifyFn = func(ref string) (*paystack.VerifyResult, error) {
			return nil, &paystack.Error{Op: "verify", Status: "abandoned", Err: paystack.ErrRejected}
		}

		_, err := h.orders.CreateOrder(ctx, h.checkout(models.PaymentMethodOnline, "ref_abandoned", "200", item(p.ID, "100", 2)))
		var vErr *VerificationError
		require.ErrorAs(t, err, &vErr)
		assert.Contains(t, err.Error(), "abandoned")

		existing, err := h.store.GetOrderByReference(ctx, "ref_abandoned")
		require.NoError(t, err)
		assert.Nil(t, existing)
		assert.Equal(t, 3, h.store.Product(p.ID).Stock)
		assert.Empty(t, h.publisher.OrdersPlaced)
	})

	t.Run("validation runs before verification", func(t *testing.T) {
		h := newHarness(t)

		_, err := h.orders.CreateOrder(ctx, h.checkout(models.PaymentMethodOnline, "ref_bad_total", "150", item(uuid.New(), "75", 2)))
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Empty(t, h.gateway.VerifyCalls)
	})
}

func TestCreateOrderStockFailureDoesNotBlockCommit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	p := h.addProduct("50", 4)

	res, err := h.orders.CreateOrder(ctx, h.checkout(models.PaymentMethodPayOnDelivery, "", "155",
		item(uuid.New(), "50", 1),
		item(p.ID, "50", 2),
	))
	require.NoError(t, err)
	assert.True(t, res.Created)
	assert.Len(t, res.Order.Items, 2)
	assert.Equal(t, 2, h.store.Product(p.ID).Stock)
}

func TestCreateOrderDegradedCollaborators(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.store.ClearCartErr = errors.New("cart store down")
	h.publisher.Err = errors.New("kafka down")

	in := h.checkout(models.PaymentMethodPayOnDelivery, "", "155", item(uuid.New(), "75", 2))
	in.Items[0].SellerID = uuid.New()

	res, err := h.orders.CreateOrder(ctx, in)
	require.NoError(t, err)
	assert.Empty(t, res.Order.Items[0].SellerPhone)
}

func TestCreateOrderDuplicateReference(t *testing.T) {
	ctx := context.Background()

	t.Run("same buyer gets the existing order", func(t *testing.T) {
		h := newHarness(t)
		h.gateway.VerifyFn = func(ref string) (*paystack.VerifyResult, error) { return testutil.Verified(ref, 15500), nil }
		in := h.checkout(models.PaymentMethodOnline, "ref_dup", "155", item(uuid.New(), "75", 2))

		first, err := h.orders.CreateOrder(ctx, in)
		require.NoError(t, err)
		second, err := h.orders.CreateOrder(ctx, in)
		require.NoError(t, err)

		assert.False(t, second.Created)
		assert.Equal(t, first.Order.ID, second.Order.ID)
		assert.Len(t, h.gateway.VerifyCalls, 1)
		assert.Len(t, h.publisher.OrdersPlaced, 1)
	})

	t.Run("another buyer is rejected", func(t *testing.T) {
		h := newHarness(t)
		h.gateway.VerifyFn = func(ref string) (*paystack.VerifyResult, error) { return testutil.Verified(ref, 15500), nil }
		in := h.checkout(models.PaymentMethodOnline, "ref_taken", "155", item(uuid.New(), "75", 2))
		_, err := h.orders.CreateOrder(ctx, in)
		require.NoError(t, err)

		in.UserID = uuid.New()
		_, err = h.orders.CreateOrder(ctx, in)
		assert.ErrorIs(t, err, ErrReferenceInUse)
	})

	t.Run("concurrent submission in progress", func(t *testing.T) {
		h := newHarness(t)
		h.locker.Hold("order:ref_busy")

		_, err := h.orders.CreateOrder(ctx, h.checkout(models.PaymentMethodOnline, "ref_busy", "155", item(uuid.New(), "75", 2)))
		assert.ErrorIs(t, err, ErrOrderInProgress)
		assert.Empty(t, h.gateway.VerifyCalls)
	})

	t.Run("lock outage falls back to unique reference", func(t *testing.T) {
		h := newHarness(t)
		h.locker.Err = errors.New("redis down")
		h.gateway.VerifyFn = func(ref string) (*paystack.VerifyResult, error) { return testutil.Verified(ref, 15500), nil }

		res, err := h.orders.CreateOrder(ctx, h.checkout(models.PaymentMethodOnline, "ref_nolock", "155", item(uuid.New(), "75", 2)))
		require.NoError(t, err)
		assert.True(t, res.Created)
	})
}

func TestGetOrder(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.orders.CreateOrder(ctx, h.checkout(models.PaymentMethodPayOnDelivery, "", "155", item(uuid.New(), "75", 2)))
	require.NoError(t, err)

	got, err := h.orders.GetOrder(ctx, res.Order.ID, h.buyer.ID, false)
	require.NoError(t, err)
	assert.Equal(t, res.Order.ID, got.ID)

	_, err = h.orders.GetOrder(ctx, res.Order.ID, uuid.New(), false)
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = h.orders.GetOrder(ctx, res.Order.ID, uuid.New(), true)
	assert.NoError(t, err)

	_, err = h.orders.GetOrder(ctx, uuid.New(), h.buyer.ID, false)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	list, err := h.orders.ListOrders(ctx, h.buyer.ID)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestUpdateStatus(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	res, err := h.orders.CreateOrder(ctx, h.checkout(models.PaymentMethodPayOnDelivery, "", "155", item(uuid.New(), "75", 2)))
	require.NoError(t, err)

	shipped, err := h.orders.UpdateStatus(ctx, res.Order.ID, models.OrderStatusShipped)
	require.NoError(t, err)
	assert.Equal(t, models.OrderStatusShipped, shipped.OrderStatus)
	assert.Nil(t, shipped.DeliveredAt)

	delivered, err := h.orders.UpdateStatus(ctx, res.Order.ID, models.OrderStatusDelivered)
	require.NoError(t, err)
	assert.NotNil(t, delivered.DeliveredAt)

	_, err = h.orders.UpdateStatus(ctx, res.Order.ID, models.OrderStatusRefunded)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	_, err = h.orders.UpdateStatus(ctx, uuid.New(), models.OrderStatusCancelled)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	require.Len(t, h.publisher.StatusChanges, 2)
	assert.Equal(t, models.OrderStatusDelivered, h.publisher.StatusChanges[1].Status)
}
