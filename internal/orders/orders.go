package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/admosplace/food_ordering/internal/logging"
	"github.com/admosplace/food_ordering/internal/models"
)

// ErrInvalidTransition rejects any status change that is not the next step of
// Pending -> On the Way -> Delivered. Status never moves backwards.
var ErrInvalidTransition = errors.New("invalid order status transition")

var ErrOrderNotFound = errors.New("order not found")

type Service struct {
	DB *gorm.DB
}

func (s *Service) Get(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	err := s.DB.WithContext(ctx).Preload("Bags.Items").First(&order, orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return &order, nil
}

// Advance moves an order one step forward. Delivery stamps DeliveredAt
// exactly once; repeated delivery of a delivered order is rejected.
func (s *Service) Advance(ctx context.Context, orderID uint, next string) (*models.Order, error) {
	var order models.Order
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Row lock so racing advances read the status serially; without it
		// two delivery requests could both stamp DeliveredAt.
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Preload("Bags.Items").First(&order, orderID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %d", ErrOrderNotFound, orderID)
			}
			return fmt.Errorf("load order %d: %w", orderID, err)
		}

		if !transitionAllowed(order.Status, next) {
			return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, order.Status, next)
		}

		updates := map[string]any{"status": next}
		if next == models.OrderStatusDelivered {
			now := time.Now().UTC()
			updates["delivered_at"] = now
			order.DeliveredAt = &now
		}
		order.Status = next
		return tx.Model(&models.Order{}).Where("id = ?", orderID).Updates(updates).Error
	})
	if err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("order status advanced", "order_id", orderID, "status", next)
	return &order, nil
}

func transitionAllowed(current, next string) bool {
	switch current {
	case models.OrderStatusPending:
		return next == models.OrderStatusOnTheWay
	case models.OrderStatusOnTheWay:
		return next == models.OrderStatusDelivered
	default:
		return false
	}
}

// HistoryEntry pairs an order with the amount its payment actually settled
// for, which is authoritative over any recomputation of the order's lines.
type HistoryEntry struct {
	Order      models.Order    `json:"order"`
	Reference  string          `json:"reference"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	PaidAt     time.Time       `json:"paid_at"`
}

// History returns the user's orders, newest first. Only orders reached
// through a successful payment appear; pending and failed payments have no
// orders to show.
func (s *Service) History(ctx context.Context, userID uint) ([]HistoryEntry, error) {
	var payments []models.Payment
	if err := s.DB.WithContext(ctx).
		Preload("Order.Bags.Items").
		Where("user_id = ? AND status = ? AND order_id IS NOT NULL", userID, models.PaymentStatusSuccess).
		Order("created_at DESC").
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("load order history for user %d: %w", userID, err)
	}

	entries := make([]HistoryEntry, 0, len(payments))
	for i := range payments {
		p := &payments[i]
		if p.Order == nil {
			continue
		}
		entries = append(entries, HistoryEntry{
			Order:      *p.Order,
			Reference:  p.Reference,
			AmountPaid: p.Amount,
			PaidAt:     p.UpdatedAt,
		})
	}
	return entries, nil
}

// Notifications lists unseen order notifications, oldest first.
func (s *Service) Notifications(ctx context.Context) ([]models.OrderNotification, error) {
	var notes []models.OrderNotification
	if err := s.DB.WithContext(ctx).
		Where("seen = ?", false).
		Order("created_at ASC").
		Find(&notes).Error; err != nil {
		return nil, fmt.Errorf("load notifications: %w", err)
	}
	return notes, nil
}

func (s *Service) MarkNotificationSeen(ctx context.Context, noteID uint) error {
	res := s.DB.WithContext(ctx).Model(&models.OrderNotification{}).
		Where("id = ?", noteID).
		Update("seen", true)
	if res.Error != nil {
		return fmt.Errorf("mark notification %d seen: %w", noteID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("notification %d not found", noteID)
	}
	return nil
}
