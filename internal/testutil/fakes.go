// Package testutil holds in-memory stand-ins for the Postgres store, the Redis
// mirror, the Paystack client and the Kafka publisher.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"campus-market/internal/models"
	"campus-market/internal/paystack"
	"campus-market/internal/redisclient"
	"campus-market/internal/store"

	"github.com/google/uuid"
)

// MemStore mirrors the semantics of *store.Store in memory.
type MemStore struct {
	mu            sync.Mutex
	orders        map[uuid.UUID]*models.Order
	transactions  map[uuid.UUID]*models.Transaction
	products      map[uuid.UUID]*models.Product
	users         map[uuid.UUID]*models.User
	notifications []models.Notification
	processed     map[string]string

	ClearedCarts       []uuid.UUID
	TransactionLookups int
	ClearCartErr       error
	CreateOrderErr     error
	FailNotificationAt int
}

func NewMemStore() *MemStore {
	return &MemStore{
		orders:       make(map[uuid.UUID]*models.Order),
		transactions: make(map[uuid.UUID]*models.Transaction),
		products:     make(map[uuid.UUID]*models.Product),
		users:        make(map[uuid.UUID]*models.User),
		processed:    make(map[string]string),
	}
}

func copyOrder(o *models.Order) *models.Order {
	c := *o
	c.Items = append([]models.LineItem(nil), o.Items...)
	return &c
}

func (m *MemStore) AddProduct(p models.Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = &p
}

func (m *MemStore) Product(id uuid.UUID) models.Product {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.products[id]
}

func (m *MemStore) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = &u
}

// PutOrder stores an order as-is, bypassing the reference check.
func (m *MemStore) PutOrder(o *models.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = copyOrder(o)
}

func (m *MemStore) PutTransaction(t models.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[t.ID] = &t
}

func (m *MemStore) Transaction(id uuid.UUID) models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.transactions[id]
}

func (m *MemStore) Transactions() []models.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		out = append(out, *t)
	}
	return out
}

func (m *MemStore) Notifications() []models.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Notification(nil), m.notifications...)
}

func (m *MemStore) CreateOrder(ctx context.Context, order *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.CreateOrderErr != nil {
		return m.CreateOrderErr
	}
	for _, o := range m.orders {
		if o.PaymentInfo.Reference == order.PaymentInfo.Reference {
			return fmt.Errorf("payment reference %q: %w", order.PaymentInfo.Reference, store.ErrDuplicate)
		}
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	now := time.Now()
	order.CreatedAt, order.UpdatedAt = now, now
	m.orders[order.ID] = copyOrder(order)
	return nil
}

func (m *MemStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, store.ErrNotFound)
	}
	return copyOrder(o), nil
}

func (m *MemStore) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.PaymentInfo.Reference == reference {
			return copyOrder(o), nil
		}
	}
	return nil, nil
}

func (m *MemStore) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Order{}
	for _, o := range m.orders {
		if o.UserID == userID {
			out = append(out, *copyOrder(o))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemStore) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, deliveredAt *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return fmt.Errorf("order %s: %w", orderID, store.ErrNotFound)
	}
	o.OrderStatus = status
	if deliveredAt != nil {
		o.DeliveredAt = deliveredAt
	}
	o.UpdatedAt = time.Now()
	return nil
}

func (m *MemStore) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.transactions {
		if t.PaymentReference == txn.PaymentReference {
			return fmt.Errorf("transaction reference %q: %w", txn.PaymentReference, store.ErrDuplicate)
		}
	}
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	now := time.Now()
	txn.CreatedAt, txn.UpdatedAt = now, now
	c := *txn
	m.transactions[txn.ID] = &c
	return nil
}

func (m *MemStore) GetTransactionByProviderReference(ctx context.Context, reference string) (*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TransactionLookups++
	var found *models.Transaction
	for _, t := range m.transactions {
		if t.PaymentProviderReference == reference && (found == nil || t.CreatedAt.After(found.CreatedAt)) {
			found = t
		}
	}
	if found == nil {
		return nil, fmt.Errorf("transaction %q: %w", reference, store.ErrNotFound)
	}
	c := *found
	return &c, nil
}

func (m *MemStore) ApplyPaymentUpdate(ctx context.Context, update *models.PaymentUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if o := update.Order; o != nil {
		if _, ok := m.orders[o.OrderID]; !ok {
			return fmt.Errorf("order %s: %w", o.OrderID, store.ErrNotFound)
		}
	}
	if t := update.Transaction; t != nil {
		current, ok := m.transactions[t.ID]
		if !ok {
			return fmt.Errorf("transaction %s: %w", t.ID, store.ErrNotFound)
		}
		if update.ExpectedStatus != "" && current.Status != update.ExpectedStatus {
			return fmt.Errorf("transaction %s: %w", t.ID, store.ErrStaleUpdate)
		}
	}
	if t := update.Transaction; t != nil {
		c := *t
		c.UpdatedAt = time.Now()
		m.transactions[t.ID] = &c
	}
	if u := update.Order; u != nil {
		o := m.orders[u.OrderID]
		if u.PaymentStatus != nil {
			o.PaymentInfo.Status = *u.PaymentStatus
		}
		if u.TransactionID != nil {
			o.PaymentInfo.TransactionID = *u.TransactionID
		}
		if u.PaidAt != nil {
			o.PaymentInfo.PaidAt = u.PaidAt
		}
		if u.OrderStatus != nil && statusAllowed(o.OrderStatus, u.OnlyFromStatuses) {
			o.OrderStatus = *u.OrderStatus
		}
		o.UpdatedAt = time.Now()
	}
	return nil
}

func statusAllowed(current models.OrderStatus, from []models.OrderStatus) bool {
	if len(from) == 0 {
		return true
	}
	for _, s := range from {
		if s == current {
			return true
		}
	}
	return false
}

func (m *MemStore) GetProductByID(ctx context.Context, id uuid.UUID) (*models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return nil, fmt.Errorf("product %s: %w", id, store.ErrNotFound)
	}
	c := *p
	return &c, nil
}

func (m *MemStore) GetProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, *p)
	}
	return out, nil
}

func (m *MemStore) DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok || p.IsService || p.Stock < quantity {
		return 0, fmt.Errorf("product %s: %w", productID, store.ErrInsufficientStock)
	}
	p.Stock -= quantity
	return p.Stock, nil
}

func (m *MemStore) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
	}
	c := *u
	return &c, nil
}

func (m *MemStore) ClearCart(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ClearCartErr != nil {
		return m.ClearCartErr
	}
	m.ClearedCarts = append(m.ClearedCarts, userID)
	return nil
}

// CreateNotificationsForEvent writes all notes and the marker, or nothing when
// FailNotificationAt names a note in the batch.
func (m *MemStore) CreateNotificationsForEvent(ctx context.Context, eventID, eventType string, notes []models.Notification) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.processed[eventID]; ok {
		return false, nil
	}
	if m.FailNotificationAt > 0 && m.FailNotificationAt <= len(notes) {
		return false, fmt.Errorf("insert notification %d: connection reset", m.FailNotificationAt)
	}

	now := time.Now()
	for i := range notes {
		if notes[i].ID == uuid.Nil {
			notes[i].ID = uuid.New()
		}
		notes[i].CreatedAt = now
		m.notifications = append(m.notifications, notes[i])
	}
	m.processed[eventID] = eventType
	return true, nil
}

func (m *MemStore) ListNotifications(ctx context.Context, userID uuid.UUID, limit int) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.Notification{}
	for i := len(m.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if m.notifications[i].UserID == userID {
			out = append(out, m.notifications[i])
		}
	}
	return out, nil
}

func (m *MemStore) MarkNotificationRead(ctx context.Context, id, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.notifications {
		if m.notifications[i].ID == id && m.notifications[i].UserID == userID {
			m.notifications[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("notification %s: %w", id, store.ErrNotFound)
}

func (m *MemStore) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.processed[eventID]
	return ok, nil
}

func (m *MemStore) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.processed[eventID] = eventType
	return nil
}

// MemStockCache mirrors the Redis stock scripts. Err, when set, is returned by every call.
type MemStockCache struct {
	mu    sync.Mutex
	stock map[uuid.UUID]int
	Err   error
}

func NewMemStockCache() *MemStockCache {
	return &MemStockCache{stock: make(map[uuid.UUID]int)}
}

func (c *MemStockCache) DecrementStock(ctx context.Context, productID uuid.UUID, quantity int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return 0, c.Err
	}
	current, ok := c.stock[productID]
	if !ok {
		return 0, redisclient.ErrStockNotCached
	}
	if current < quantity {
		return 0, redisclient.ErrInsufficientStock
	}
	c.stock[productID] = current - quantity
	return current - quantity, nil
}

func (c *MemStockCache) ReleaseStock(ctx context.Context, productID uuid.UUID, quantity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	if _, ok := c.stock[productID]; ok {
		c.stock[productID] += quantity
	}
	return nil
}

func (c *MemStockCache) SeedStock(ctx context.Context, productID uuid.UUID, stock int) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return false, c.Err
	}
	if _, ok := c.stock[productID]; ok {
		return false, nil
	}
	c.stock[productID] = stock
	return true, nil
}

func (c *MemStockCache) SetStock(ctx context.Context, productID uuid.UUID, stock int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Err != nil {
		return c.Err
	}
	c.stock[productID] = stock
	return nil
}

// Stock returns the cached value and whether one exists.
func (c *MemStockCache) Stock(productID uuid.UUID) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.stock[productID]
	return v, ok
}

type MemLocker struct {
	mu    sync.Mutex
	locks map[string]string
	Err   error
}

func NewMemLocker() *MemLocker {
	return &MemLocker{locks: make(map[string]string)}
}

func (l *MemLocker) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return "", false, l.Err
	}
	if _, held := l.locks[lockKey]; held {
		return "", false, nil
	}
	token := uuid.NewString()
	l.locks[lockKey] = token
	return token, true, nil
}

func (l *MemLocker) ReleaseLock(ctx context.Context, lockKey, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.locks[lockKey] == token {
		delete(l.locks, lockKey)
	}
	return nil
}

// Hold marks lockKey as taken by someone else.
func (l *MemLocker) Hold(lockKey string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.locks[lockKey] = "held"
}

// FakeGateway answers gateway calls from canned functions and signs with Secret.
type FakeGateway struct {
	Secret       string
	VerifyFn     func(reference string) (*paystack.VerifyResult, error)
	InitializeFn func(req paystack.InitializeRequest) (*paystack.InitializeResult, error)

	mu          sync.Mutex
	VerifyCalls []string
}

func (g *FakeGateway) VerifyTransaction(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
	g.mu.Lock()
	g.VerifyCalls = append(g.VerifyCalls, reference)
	g.mu.Unlock()
	if g.VerifyFn == nil {
		return nil, &paystack.Error{Op: "verify", Err: paystack.ErrTransport}
	}
	return g.VerifyFn(reference)
}

func (g *FakeGateway) InitializeTransaction(ctx context.Context, req paystack.InitializeRequest) (*paystack.InitializeResult, error) {
	if g.InitializeFn == nil {
		return nil, &paystack.Error{Op: "initialize", Err: paystack.ErrTransport}
	}
	return g.InitializeFn(req)
}

func (g *FakeGateway) VerifySignature(body []byte, signature string) bool {
	return signature != "" && paystack.Sign(g.Secret, body) == signature
}

// Sign returns the signature the gateway would send for body.
func (g *FakeGateway) Sign(body []byte) string {
	return paystack.Sign(g.Secret, body)
}

// Verified builds a successful verify result for reference paying amountMinor.
func Verified(reference string, amountMinor int64) *paystack.VerifyResult {
	amount := amountMinor
	return &paystack.VerifyResult{
		Transaction: paystack.Transaction{
			ID:        "4099260516",
			Status:    "success",
			Reference: reference,
			Amount:    &amount,
			Currency:  "GHS",
		},
		Raw: []byte(fmt.Sprintf(`{"status":"success","reference":%q,"amount":%d}`, reference, amountMinor)),
	}
}

// RecordingPublisher keeps every published event.
type RecordingPublisher struct {
	mu            sync.Mutex
	OrdersPlaced  []*models.OrderPlacedEvent
	StatusChanges []*models.OrderStatusChangedEvent
	Payments      []*models.PaymentEvent
	Err           error
}

func (p *RecordingPublisher) PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.OrdersPlaced = append(p.OrdersPlaced, event)
	return p.Err
}

func (p *RecordingPublisher) PublishOrderStatusChanged(ctx context.Context, event *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StatusChanges = append(p.StatusChanges, event)
	return p.Err
}

func (p *RecordingPublisher) PublishPaymentEvent(ctx context.Context, event *models.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Payments = append(p.Payments, event)
	return p.Err
}
