package fulfillment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pasargadprints/webhook-svc/internal/models"
)

// Handler applies the business effect of a completed checkout session:
// at most one order per session, with stock accounting and cart
// clearing in the same transaction. Checkout-time order creation is
// authoritative; the webhook path is strictly update-or-create-if-
// absent, serialized by the unique index on the session ID.
type Handler struct {
	db     *gorm.DB
	logger *zap.Logger
}

func NewHandler(db *gorm.DB, logger *zap.Logger) *Handler {
	return &Handler{db: db, logger: logger}
}

// Fulfill creates or finalizes the order for a completed checkout
// session. A concurrent delivery that loses the order-insert race
// reruns once and takes the update-in-place branch against the
// winner's row.
func (h *Handler) Fulfill(ctx context.Context, session *CheckoutSession) (*models.Order, error) {
	if session == nil || session.ID == "" {
		return nil, dataError(CodeInvalidSession, "checkout session has no id")
	}

	customerID, shippingAddressID, err := h.extractMetadata(session)
	if err != nil {
		return nil, err
	}

	var order *models.Order
	for attempt := 0; attempt < 2; attempt++ {
		order, err = h.fulfillOnce(ctx, session, customerID, shippingAddressID)
		if err == nil {
			return order, nil
		}
		// Lost the create race: the winner's order exists now, rerun
		// and update it in place.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			h.logger.Info("Order already created by concurrent delivery, switching to update",
				zap.String("checkout_session_id", session.ID),
			)
			continue
		}
		return nil, err
	}
	return nil, err
}

func (h *Handler) extractMetadata(session *CheckoutSession) (uuid.UUID, uuid.UUID, error) {
	customerRaw, ok := session.Metadata["customer_id"]
	if !ok || customerRaw == "" {
		return uuid.Nil, uuid.Nil, dataError(CodeMissingMetadata, "session metadata has no customer_id")
	}
	shippingRaw, ok := session.Metadata["shipping_address_id"]
	if !ok || shippingRaw == "" {
		return uuid.Nil, uuid.Nil, dataError(CodeMissingMetadata, "session metadata has no shipping_address_id")
	}

	customerID, err := uuid.Parse(customerRaw)
	if err != nil {
		return uuid.Nil, uuid.Nil, dataError(CodeMissingMetadata, "session metadata customer_id is not a valid id")
	}
	shippingAddressID, err := uuid.Parse(shippingRaw)
	if err != nil {
		return uuid.Nil, uuid.Nil, dataError(CodeMissingMetadata, "session metadata shipping_address_id is not a valid id")
	}

	return customerID, shippingAddressID, nil
}

func (h *Handler) fulfillOnce(ctx context.Context, session *CheckoutSession, customerID, shippingAddressID uuid.UUID) (*models.Order, error) {
	var order *models.Order

	err := h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Pre-created pending order from checkout time wins; update it
		// in place instead of duplicating it.
		var existing models.Order
		err := tx.Preload("Items").Where("stripe_checkout_session_id = ?", session.ID).First(&existing).Error
		switch {
		case err == nil:
			order = &existing
			return h.finalizeExisting(tx, order, session, shippingAddressID)
		case errors.Is(err, gorm.ErrRecordNotFound):
			// fall through to cart conversion
		default:
			return storageError("failed to look up order by session", err)
		}

		created, err := h.createFromCart(tx, session, customerID, shippingAddressID)
		if err != nil {
			return err
		}
		order = created
		return nil
	})

	if err != nil {
		return nil, err
	}
	return order, nil
}

// finalizeExisting confirms payment on an order created at checkout
// time: payment intent, status, shipping reference, and the stock
// deduction the checkout path deferred to payment confirmation.
func (h *Handler) finalizeExisting(tx *gorm.DB, order *models.Order, session *CheckoutSession, shippingAddressID uuid.UUID) error {
	confirming := order.Status == models.OrderStatusPending

	order.StripePaymentIntentID = session.PaymentIntent
	if order.ShippingAddressID == nil {
		order.ShippingAddressID = &shippingAddressID
	}
	if confirming {
		order.Status = models.OrderStatusProcessing
	}

	if !order.StockDeducted && len(order.Items) > 0 {
		shortages, err := h.deductStock(tx, order.Items)
		if err != nil {
			return err
		}
		if len(shortages) > 0 {
			order.Status = models.OrderStatusCancelled
			h.logger.Warn("Cancelling order, insufficient stock",
				zap.String("code", CodeStockShortage),
				zap.String("order_number", order.OrderNumber),
				zap.Strings("products", shortages),
			)
		} else {
			order.StockDeducted = true
		}
	}

	order.UpdatedAt = time.Now().UTC()
	if err := tx.Omit(clause.Associations).Save(order).Error; err != nil {
		return storageError("failed to update order", err)
	}

	// Stats move exactly once, on the pending to processing transition.
	if confirming && order.Status != models.OrderStatusCancelled {
		if err := h.clearCart(tx, order.CustomerID); err != nil {
			return err
		}
		if err := h.settleCustomer(tx, order); err != nil {
			return err
		}
	}
	return nil
}

// clearCart empties the customer's cart once their order is confirmed.
// A missing cart is fine; checkout may already have consumed it.
func (h *Handler) clearCart(tx *gorm.DB, customerID uuid.UUID) error {
	var cart models.Cart
	err := tx.Where("customer_id = ?", customerID).First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	}
	if err != nil {
		return storageError("failed to load cart", err)
	}
	if err := tx.Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
		return storageError("failed to clear cart", err)
	}
	return nil
}

// createFromCart is the fallback for checkout-time creation having
// failed: the webhook is the first confirmation, so the order is built
// from the customer's cart.
func (h *Handler) createFromCart(tx *gorm.DB, session *CheckoutSession, customerID, shippingAddressID uuid.UUID) (*models.Order, error) {
	var customer models.Customer
	if err := tx.First(&customer, "id = ?", customerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, dataError(CodeCustomerNotFound, "customer referenced by session metadata does not exist")
		}
		return nil, storageError("failed to load customer", err)
	}

	var cart models.Cart
	err := tx.Preload("Items").Where("customer_id = ?", customerID).First(&cart).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, dataError(CodeCartNotFound, "customer has no cart")
	}
	if err != nil {
		return nil, storageError("failed to load cart", err)
	}
	if len(cart.Items) == 0 {
		return nil, dataError(CodeCartEmpty, "cart has no items")
	}

	products := make(map[uuid.UUID]models.Product, len(cart.Items))
	var totalCents int64
	for _, item := range cart.Items {
		var product models.Product
		if err := tx.First(&product, "id = ?", item.ProductID).Error; err != nil {
			return nil, storageError("failed to load product", err)
		}
		products[item.ProductID] = product
		totalCents += int64(item.Quantity) * product.PriceCents
	}

	now := time.Now().UTC()
	sessionID := session.ID
	order := models.Order{
		ID:                      uuid.New(),
		CustomerID:              customerID,
		OrderNumber:             models.NewOrderNumber(),
		Status:                  models.OrderStatusProcessing,
		TotalCents:              totalCents,
		ShippingAddressID:       &shippingAddressID,
		StripePaymentIntentID:   session.PaymentIntent,
		StripeCheckoutSessionID: &sessionID,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	if err := tx.Create(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// propagated so Fulfill reruns on the update branch
			return nil, err
		}
		return nil, storageError("failed to create order", err)
	}

	// Items capture quantity and unit price at creation; stock moves in
	// the same transaction so no partial order is ever observable.
	items := make([]models.OrderItem, 0, len(cart.Items))
	for _, cartItem := range cart.Items {
		product := products[cartItem.ProductID]
		items = append(items, models.OrderItem{
			OrderID:    order.ID,
			ProductID:  cartItem.ProductID,
			Quantity:   cartItem.Quantity,
			PriceCents: product.PriceCents,
			CreatedAt:  now,
		})
	}
	if err := tx.Create(&items).Error; err != nil {
		return nil, storageError("failed to create order items", err)
	}
	order.Items = items

	shortages, err := h.deductStock(tx, items)
	if err != nil {
		return nil, err
	}
	if len(shortages) > 0 {
		// Cancel the whole order and leave the cart for the operator;
		// deductStock already restored any partial decrements.
		order.Status = models.OrderStatusCancelled
		order.UpdatedAt = time.Now().UTC()
		if err := tx.Omit(clause.Associations).Save(&order).Error; err != nil {
			return nil, storageError("failed to cancel order", err)
		}
		h.logger.Warn("Cancelling order, insufficient stock",
			zap.String("code", CodeStockShortage),
			zap.String("order_number", order.OrderNumber),
			zap.Strings("products", shortages),
		)
		return &order, nil
	}

	order.StockDeducted = true
	order.UpdatedAt = time.Now().UTC()
	if err := tx.Omit(clause.Associations).Save(&order).Error; err != nil {
		return nil, storageError("failed to update order", err)
	}

	if err := tx.Where("cart_id = ?", cart.ID).Delete(&models.CartItem{}).Error; err != nil {
		return nil, storageError("failed to clear cart", err)
	}

	if err := h.settleCustomer(tx, &order); err != nil {
		return nil, err
	}

	return &order, nil
}

// deductStock applies a conditional atomic decrement per item: the
// WHERE clause refuses oversell at the SQL level, so stock can never go
// negative even under concurrent fulfillment. On any shortage the
// decrements already applied are restored before returning.
func (h *Handler) deductStock(tx *gorm.DB, items []models.OrderItem) ([]string, error) {
	var shortages []string
	var applied []models.OrderItem

	for _, item := range items {
		res := tx.Model(&models.Product{}).
			Where("id = ? AND stock_quantity >= ?", item.ProductID, item.Quantity).
			Update("stock_quantity", gorm.Expr("stock_quantity - ?", item.Quantity))
		if res.Error != nil {
			return nil, storageError("failed to decrement stock", res.Error)
		}
		if res.RowsAffected == 0 {
			shortages = append(shortages, item.ProductID.String())
			continue
		}
		applied = append(applied, item)
	}

	if len(shortages) > 0 {
		for _, item := range applied {
			res := tx.Model(&models.Product{}).
				Where("id = ?", item.ProductID).
				Update("stock_quantity", gorm.Expr("stock_quantity + ?", item.Quantity))
			if res.Error != nil {
				return nil, storageError("failed to restore stock", res.Error)
			}
		}
	}

	return shortages, nil
}

// settleCustomer updates the customer's aggregate order statistics
func (h *Handler) settleCustomer(tx *gorm.DB, order *models.Order) error {
	res := tx.Model(&models.Customer{}).
		Where("id = ?", order.CustomerID).
		Updates(map[string]interface{}{
			"total_orders":      gorm.Expr("total_orders + 1"),
			"total_spent_cents": gorm.Expr("total_spent_cents + ?", order.TotalCents),
			"updated_at":        time.Now().UTC(),
		})
	if res.Error != nil {
		return storageError("failed to update customer statistics", res.Error)
	}
	if res.RowsAffected == 0 {
		return storageError("customer vanished during fulfillment", fmt.Errorf("customer %s not found", order.CustomerID))
	}
	return nil
}
