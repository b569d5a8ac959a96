package service

import (
	"testing"
	"time"

	"campus-market/internal/models"
	"campus-market/internal/testutil"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const testSecret = "sk_test_secret"

type harness struct {
	store      *testutil.MemStore
	cache      *testutil.MemStockCache
	locker     *testutil.MemLocker
	gateway    *testutil.FakeGateway
	publisher  *testutil.RecordingPublisher
	reconciler *PaymentReconciler
	ledger     *StockLedger
	orders     *OrderService
	buyer      models.User
	seller     models.User
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		store:     testutil.NewMemStore(),
		cache:     testutil.NewMemStockCache(),
		locker:    testutil.NewMemLocker(),
		gateway:   &testutil.FakeGateway{Secret: testSecret},
		publisher: &testutil.RecordingPublisher{},
		buyer:     models.User{ID: uuid.New(), Name: "Ama", Email: "ama@campus.test", Phone: "0240000001", Role: "buyer"},
		seller:    models.User{ID: uuid.New(), Name: "Kofi", Email: "kofi@campus.test", Phone: "0550000002", Role: "seller"},
	}
	h.store.AddUser(h.buyer)
	h.store.AddUser(h.seller)

	h.reconciler = NewPaymentReconciler(h.gateway, h.store, h.store, h.store, h.publisher, "GHS", "https://app.campus.test/paid")
	h.ledger = NewStockLedger(h.store, h.cache)
	h.orders = NewOrderService(
		h.store, h.store, h.store, h.locker,
		NewOrderValidator(h.store, false),
		h.reconciler, h.ledger, h.publisher,
		OrderServiceConfig{Currency: "GHS", LockTTL: time.Minute},
	)
	return h
}

func (h *harness) addProduct(price string, stock int) models.Product {
	p := models.Product{
		ID:       uuid.New(),
		SellerID: h.seller.ID,
		Name:     "Product " + price,
		Price:    decimal.RequireFromString(price),
		Stock:    stock,
	}
	h.store.AddProduct(p)
	return p
}

func item(productID uuid.UUID, price string, qty int) models.LineItem {
	return models.LineItem{
		ProductID: productID,
		Quantity:  qty,
		UnitPrice: decimal.RequireFromString(price),
		Name:      "Item",
	}
}

func (h *harness) checkout(method models.PaymentMethod, reference, total string, items ...models.LineItem) *models.CheckoutInput {
	return &models.CheckoutInput{
		UserID:               h.buyer.ID,
		Items:                items,
		TotalAmount:          decimal.RequireFromString(total),
		PaymentMethod:        method,
		ShippingAddress:      models.ShippingAddress{Location: "Brunei", RoomNumber: "B12"},
		BuyerContact:         models.BuyerContact{Phone: h.buyer.Phone},
		PreferredDeliveryDay: time.Date(2026, 10, 21, 0, 0, 0, 0, time.UTC),
		PaymentReference:     reference,
	}
}
