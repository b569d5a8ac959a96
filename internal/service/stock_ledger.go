package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"campus-market/internal/models"
	"campus-market/internal/redisclient"
	"campus-market/internal/store"
	"campus-market/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockOutcome is what happened to one line item.
type StockOutcome string

const (
	StockDecremented  StockOutcome = "decremented"
	StockUnresolved   StockOutcome = "unresolved"
	StockNotFound     StockOutcome = "not_found"
	StockService      StockOutcome = "service"
	StockMalformed    StockOutcome = "malformed"
	StockInsufficient StockOutcome = "insufficient"
	StockFailed       StockOutcome = "failed"
)

type StockResult struct {
	ProductID uuid.UUID
	Outcome   StockOutcome
	Remaining int
}

// StockLedger decrements inventory for committed orders. The Redis mirror is reserved
// first, Postgres decides with a conditional update, and the mirror is then realigned.
type StockLedger struct {
	catalog CatalogStore
	cache   StockCache
	logger  *zap.Logger
}

func NewStockLedger(catalog CatalogStore, cache StockCache) *StockLedger {
	return &StockLedger{
		catalog: catalog,
		cache:   cache,
		logger:  util.GetLogger(),
	}
}

// Apply processes every item independently. A skipped or failed item never stops the others.
func (l *StockLedger) Apply(ctx context.Context, order *models.Order) []StockResult {
	ctx, span := util.StartSpan(ctx, "StockLedger.Apply")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StockDecrementLatency.Observe(time.Since(start).Seconds())
	}()

	results := make([]StockResult, 0, len(order.Items))
	for i, item := range order.Items {
		res := l.decrementItem(ctx, item)
		util.StockDecrementsTotal.WithLabelValues(string(res.Outcome)).Inc()

		if res.Outcome != StockDecremented && res.Outcome != StockService {
			l.logger.Warn("Stock not decremented",
				zap.String("order_id", order.ID.String()),
				zap.Int("item", i),
				zap.String("product_id", item.ProductID.String()),
				zap.Int("quantity", item.Quantity),
				zap.String("outcome", string(res.Outcome)))
		}
		results = append(results, res)
	}
	return results
}

func (l *StockLedger) decrementItem(ctx context.Context, item models.LineItem) StockResult {
	res := StockResult{ProductID: item.ProductID}

	if item.ProductID == uuid.Nil {
		res.Outcome = StockUnresolved
		return res
	}

	product, err := l.catalog.GetProductByID(ctx, item.ProductID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			l.logger.Error("Product lookup failed",
				zap.String("product_id", item.ProductID.String()),
				zap.Error(err))
		}
		res.Outcome = StockNotFound
		return res
	}

	if product.IsService {
		res.Outcome = StockService
		return res
	}
	if product.Stock < 0 || item.Quantity < 1 {
		res.Outcome = StockMalformed
		return res
	}
	if item.Quantity > product.Stock {
		res.Outcome = StockInsufficient
		res.Remaining = product.Stock
		return res
	}

	// The mirror can lag behind catalog restocks, so only the database may refuse.
	cached, err := l.reserveCached(ctx, product, item.Quantity)
	switch {
	case errors.Is(err, redisclient.ErrInsufficientStock):
		l.logger.Debug("Stock cache behind database",
			zap.String("product_id", product.ID.String()),
			zap.Int("db_stock", product.Stock))
	case err != nil:
		l.logger.Warn("Stock cache unavailable, using database only",
			zap.String("product_id", product.ID.String()),
			zap.Error(err))
	}

	remaining, err := l.catalog.DecrementStock(ctx, product.ID, item.Quantity)
	if err != nil {
		if cached {
			l.release(ctx, product.ID, item.Quantity)
		}
		if errors.Is(err, store.ErrInsufficientStock) {
			res.Outcome = StockInsufficient
			return res
		}
		l.logger.Error("Stock decrement failed",
			zap.String("product_id", product.ID.String()),
			zap.Error(err))
		res.Outcome = StockFailed
		return res
	}

	if err := l.cache.SetStock(ctx, product.ID, remaining); err != nil {
		l.logger.Debug("Stock cache resync skipped", zap.Error(err))
	}

	res.Outcome = StockDecremented
	res.Remaining = remaining
	return res
}

// reserveCached runs the Redis gate, seeding the mirror from the product row on a miss.
// It reports whether the cached stock was decremented.
func (l *StockLedger) reserveCached(ctx context.Context, product *models.Product, quantity int) (bool, error) {
	_, err := l.cache.DecrementStock(ctx, product.ID, quantity)
	if errors.Is(err, redisclient.ErrStockNotCached) {
		if _, err := l.cache.SeedStock(ctx, product.ID, product.Stock); err != nil {
			return false, fmt.Errorf("seed stock: %w", err)
		}
		_, err = l.cache.DecrementStock(ctx, product.ID, quantity)
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (l *StockLedger) release(ctx context.Context, productID uuid.UUID, quantity int) {
	if err := l.cache.ReleaseStock(ctx, productID, quantity); err != nil {
		l.logger.Error("Failed to release cached stock",
			zap.String("product_id", productID.String()),
			zap.Error(err))
	}
}

// SyncStockToCache copies every product's stock into the Redis mirror.
func (l *StockLedger) SyncStockToCache(ctx context.Context) error {
	l.logger.Info("Starting stock sync to Redis")

	products, err := l.catalog.GetProducts(ctx)
	if err != nil {
		return fmt.Errorf("failed to get products: %w", err)
	}

	synced := 0
	for _, product := range products {
		if product.IsService {
			continue
		}
		if err := l.cache.SetStock(ctx, product.ID, product.Stock); err != nil {
			l.logger.Error("Failed to cache stock",
				zap.String("product_id", product.ID.String()),
				zap.Error(err))
			continue
		}
		synced++
	}

	l.logger.Info("Stock sync completed", zap.Int("count", synced))
	return nil
}
