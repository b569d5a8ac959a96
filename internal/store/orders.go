package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"campus-market/internal/models"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

type orderRow struct {
	ID                   uuid.UUID       `db:"id"`
	UserID               uuid.UUID       `db:"user_id"`
	Location             string          `db:"location"`
	RoomNumber           string          `db:"room_number"`
	AdditionalInfo       string          `db:"additional_info"`
	Phone                string          `db:"phone"`
	AlternativePhone     string          `db:"alternative_phone"`
	PreferredDeliveryDay time.Time       `db:"preferred_delivery_day"`
	PaymentReference     string          `db:"payment_reference"`
	PaymentTransactionID string          `db:"payment_transaction_id"`
	PaymentStatus        string          `db:"payment_status"`
	PaymentAmount        decimal.Decimal `db:"payment_amount"`
	PaymentCurrency      string          `db:"payment_currency"`
	PaymentMethod        string          `db:"payment_method"`
	PaidAt               *time.Time      `db:"paid_at"`
	TotalAmount          decimal.Decimal `db:"total_amount"`
	OrderStatus          string          `db:"order_status"`
	DeliveredAt          *time.Time      `db:"delivered_at"`
	CreatedAt            time.Time       `db:"created_at"`
	UpdatedAt            time.Time       `db:"updated_at"`
}

type orderItemRow struct {
	ID          int64           `db:"id"`
	OrderID     uuid.UUID       `db:"order_id"`
	Position    int             `db:"position"`
	ProductID   uuid.NullUUID   `db:"product_id"`
	Quantity    int             `db:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	Name        string          `db:"name"`
	Image       string          `db:"image"`
	SellerID    uuid.NullUUID   `db:"seller_id"`
	SellerPhone string          `db:"seller_phone"`
}

func nullUUID(id uuid.UUID) uuid.NullUUID {
	return uuid.NullUUID{UUID: id, Valid: id != uuid.Nil}
}

func (r *orderRow) toModel(items []orderItemRow) *models.Order {
	order := &models.Order{
		ID:     r.ID,
		UserID: r.UserID,
		ShippingAddress: models.ShippingAddress{
			Location:       r.Location,
			RoomNumber:     r.RoomNumber,
			AdditionalInfo: r.AdditionalInfo,
		},
		BuyerContact: models.BuyerContact{
			Phone:            r.Phone,
			AlternativePhone: r.AlternativePhone,
		},
		PreferredDeliveryDay: r.PreferredDeliveryDay,
		PaymentInfo: models.PaymentInfo{
			Reference:     r.PaymentReference,
			TransactionID: r.PaymentTransactionID,
			Status:        models.PaymentStatus(r.PaymentStatus),
			Amount:        r.PaymentAmount,
			Currency:      r.PaymentCurrency,
			Method:        models.PaymentMethod(r.PaymentMethod),
			PaidAt:        r.PaidAt,
		},
		TotalAmount: r.TotalAmount,
		OrderStatus: models.OrderStatus(r.OrderStatus),
		DeliveredAt: r.DeliveredAt,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
		Items:       make([]models.LineItem, 0, len(items)),
	}
	for _, it := range items {
		order.Items = append(order.Items, models.LineItem{
			ProductID:   it.ProductID.UUID,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			Name:        it.Name,
			Image:       it.Image,
			SellerID:    it.SellerID.UUID,
			SellerPhone: it.SellerPhone,
		})
	}
	return order
}

// CreateOrder inserts the order and its line items in one transaction.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (
			id, user_id, location, room_number, additional_info, phone, alternative_phone,
			preferred_delivery_day, payment_reference, payment_transaction_id, payment_status,
			payment_amount, payment_currency, payment_method, paid_at, total_amount, order_status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at, updated_at`

	err = tx.QueryRowxContext(ctx, query,
		order.ID, order.UserID,
		order.ShippingAddress.Location, order.ShippingAddress.RoomNumber, order.ShippingAddress.AdditionalInfo,
		order.BuyerContact.Phone, order.BuyerContact.AlternativePhone,
		order.PreferredDeliveryDay,
		order.PaymentInfo.Reference, order.PaymentInfo.TransactionID, string(order.PaymentInfo.Status),
		order.PaymentInfo.Amount, order.PaymentInfo.Currency, string(order.PaymentInfo.Method), order.PaymentInfo.PaidAt,
		order.TotalAmount, string(order.OrderStatus),
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("payment reference %q: %w", order.PaymentInfo.Reference, ErrDuplicate)
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}

	for i, item := range order.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, position, product_id, quantity, unit_price, name, image, seller_id, seller_phone)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			order.ID, i, nullUUID(item.ProductID), item.Quantity, item.UnitPrice,
			item.Name, item.Image, nullUUID(item.SellerID), item.SellerPhone)
		if err != nil {
			return fmt.Errorf("failed to insert order item %d: %w", i, err)
		}
	}

	return tx.Commit()
}

func (s *Store) loadOrder(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*models.Order, error) {
	var row orderRow
	err := sqlx.GetContext(ctx, q, &row, "SELECT * FROM orders WHERE "+where, arg)
	if err != nil {
		return nil, err
	}

	var items []orderItemRow
	err = sqlx.SelectContext(ctx, q, &items,
		"SELECT * FROM order_items WHERE order_id = $1 ORDER BY position", row.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}
	return row.toModel(items), nil
}

// GetOrderByID retrieves an order with its items
func (s *Store) GetOrderByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.db, "id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return order, err
}

// GetOrderByReference retrieves an order by payment reference, nil when absent
func (s *Store) GetOrderByReference(ctx context.Context, reference string) (*models.Order, error) {
	order, err := s.loadOrder(ctx, s.db, "payment_reference = $1", reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return order, err
}

// ListOrdersByUser retrieves orders for a user, newest first
func (s *Store) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	var rows []orderRow
	err := s.db.SelectContext(ctx, &rows,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []models.Order{}, nil
	}

	ids := make([]uuid.UUID, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
	}

	var items []orderItemRow
	err = s.db.SelectContext(ctx, &items,
		"SELECT * FROM order_items WHERE order_id = ANY($1) ORDER BY order_id, position", pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load order items: %w", err)
	}

	byOrder := make(map[uuid.UUID][]orderItemRow, len(rows))
	for _, it := range items {
		byOrder[it.OrderID] = append(byOrder[it.OrderID], it)
	}

	orders := make([]models.Order, 0, len(rows))
	for i := range rows {
		orders = append(orders, *rows[i].toModel(byOrder[rows[i].ID]))
	}
	return orders, nil
}

// UpdateOrderStatus updates order status; deliveredAt is written only when non-nil
func (s *Store) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status models.OrderStatus, deliveredAt *time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET order_status = $1, delivered_at = COALESCE($2, delivered_at), updated_at = NOW()
		 WHERE id = $3`,
		string(status), deliveredAt, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	return nil
}

// CreateTransaction creates a new payment transaction record
func (s *Store) CreateTransaction(ctx context.Context, txn *models.Transaction) error {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	if len(txn.PaymentProviderResponse) == 0 {
		txn.PaymentProviderResponse = []byte("{}")
	}

	query := `
		INSERT INTO transactions (
			id, order_id, user_id, amount, payment_method, status, payment_reference,
			payment_provider_reference, payment_provider_response, failure_reason, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowxContext(ctx, query,
		txn.ID, txn.OrderID, txn.UserID, txn.Amount, string(txn.PaymentMethod), string(txn.Status),
		txn.PaymentReference, txn.PaymentProviderReference, string(txn.PaymentProviderResponse),
		txn.FailureReason, txn.CompletedAt,
	).Scan(&txn.CreatedAt, &txn.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("transaction reference %q: %w", txn.PaymentReference, ErrDuplicate)
	}
	return err
}

// GetTransactionByProviderReference retrieves the newest transaction for a gateway reference
func (s *Store) GetTransactionByProviderReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var txn models.Transaction
	err := s.db.GetContext(ctx, &txn,
		`SELECT * FROM transactions WHERE payment_provider_reference = $1
		 ORDER BY created_at DESC LIMIT 1`, reference)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("transaction %q: %w", reference, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &txn, nil
}

// ApplyPaymentUpdate writes the transaction row and the linked order row in one database transaction.
// It returns ErrStaleUpdate when the transaction no longer has update.ExpectedStatus.
func (s *Store) ApplyPaymentUpdate(ctx context.Context, update *models.PaymentUpdate) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if t := update.Transaction; t != nil {
		res, err := tx.ExecContext(ctx, `
			UPDATE transactions SET
				status = $1, payment_provider_reference = $2, payment_provider_response = $3,
				failure_reason = $4, completed_at = $5, refunded_at = $6, updated_at = NOW()
			WHERE id = $7 AND ($8::text = '' OR status = $8::text)`,
			string(t.Status), t.PaymentProviderReference, string(jsonOrEmpty(t.PaymentProviderResponse)),
			t.FailureReason, t.CompletedAt, t.RefundedAt, t.ID, string(update.ExpectedStatus))
		if err != nil {
			return fmt.Errorf("failed to update transaction: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if update.ExpectedStatus != "" {
				return fmt.Errorf("transaction %s: %w", t.ID, ErrStaleUpdate)
			}
			return fmt.Errorf("transaction %s: %w", t.ID, ErrNotFound)
		}
	}

	if o := update.Order; o != nil {
		if err := applyOrderPaymentUpdate(ctx, tx, o); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func applyOrderPaymentUpdate(ctx context.Context, tx *sqlx.Tx, o *models.OrderPaymentUpdate) error {
	var payStatus *string
	if o.PaymentStatus != nil {
		v := string(*o.PaymentStatus)
		payStatus = &v
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE orders SET
			payment_status = COALESCE($1, payment_status),
			payment_transaction_id = COALESCE($2, payment_transaction_id),
			paid_at = COALESCE($3, paid_at),
			updated_at = NOW()
		WHERE id = $4`,
		payStatus, o.TransactionID, o.PaidAt, o.OrderID)
	if err != nil {
		return fmt.Errorf("failed to update order payment: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("order %s: %w", o.OrderID, ErrNotFound)
	}

	if o.OrderStatus == nil {
		return nil
	}

	from := make([]string, 0, len(o.OnlyFromStatuses))
	for _, st := range o.OnlyFromStatuses {
		from = append(from, string(st))
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE orders SET order_status = $1, updated_at = NOW()
		WHERE id = $2 AND (cardinality($3::text[]) = 0 OR order_status = ANY($3::text[]))`,
		string(*o.OrderStatus), o.OrderID, pq.Array(from))
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

func jsonOrEmpty(b []byte) []byte {
	if len(b) == 0 {
		return []byte("{}")
	}
	return b
}
