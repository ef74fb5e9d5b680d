package dashboard

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/admosplace/food_ordering/internal/models"
)

type Service struct {
	DB *gorm.DB
}

// Stats is the operator dashboard snapshot. Revenue figures come from
// settled payment amounts only; order lines are never summed here.
type Stats struct {
	PendingOrders   int64 `json:"pending_orders"`
	OnTheWayOrders  int64 `json:"on_the_way_orders"`
	DeliveredOrders int64 `json:"delivered_orders"`
	// ActiveOrders is pending plus on-the-way.
	ActiveOrders int64 `json:"active_orders"`
	TotalOrders  int64 `json:"total_orders"`

	TotalRevenue decimal.Decimal `json:"total_revenue"`
	TodayRevenue decimal.Decimal `json:"today_revenue"`
	TodayOrders  int64           `json:"today_orders"`

	PendingPayments int64 `json:"pending_payments"`
	FailedPayments  int64 `json:"failed_payments"`
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	db := s.DB.WithContext(ctx)
	var out Stats

	counts := []struct {
		status string
		dst    *int64
	}{
		{models.OrderStatusPending, &out.PendingOrders},
		{models.OrderStatusOnTheWay, &out.OnTheWayOrders},
		{models.OrderStatusDelivered, &out.DeliveredOrders},
	}
	for _, c := range counts {
		if err := db.Model(&models.Order{}).Where("status = ?", c.status).Count(c.dst).Error; err != nil {
			return nil, fmt.Errorf("count %s orders: %w", c.status, err)
		}
	}
	out.ActiveOrders = out.PendingOrders + out.OnTheWayOrders
	out.TotalOrders = out.PendingOrders + out.OnTheWayOrders + out.DeliveredOrders

	total, err := s.sumPayments(ctx, db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusSuccess))
	if err != nil {
		return nil, err
	}
	out.TotalRevenue = total

	startOfDay := time.Now().UTC().Truncate(24 * time.Hour)
	today, err := s.sumPayments(ctx, db.Model(&models.Payment{}).
		Where("status = ? AND updated_at >= ?", models.PaymentStatusSuccess, startOfDay))
	if err != nil {
		return nil, err
	}
	out.TodayRevenue = today

	if err := db.Model(&models.Order{}).
		Where("created_at >= ?", startOfDay).
		Count(&out.TodayOrders).Error; err != nil {
		return nil, fmt.Errorf("count today's orders: %w", err)
	}

	if err := db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusPending).
		Count(&out.PendingPayments).Error; err != nil {
		return nil, fmt.Errorf("count pending payments: %w", err)
	}
	if err := db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentStatusFailed).
		Count(&out.FailedPayments).Error; err != nil {
		return nil, fmt.Errorf("count failed payments: %w", err)
	}

	return &out, nil
}

func (s *Service) sumPayments(ctx context.Context, q *gorm.DB) (decimal.Decimal, error) {
	var raw *string
	if err := q.Select("SUM(amount)").Scan(&raw).Error; err != nil {
		return decimal.Zero, fmt.Errorf("sum payments: %w", err)
	}
	if raw == nil {
		return decimal.Zero, nil
	}
	sum, err := decimal.NewFromString(*raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse payment sum %q: %w", *raw, err)
	}
	return sum, nil
}

type TopCustomer struct {
	UserID     uint            `json:"user_id"`
	OrderCount int64           `json:"order_count"`
	TotalSpent decimal.Decimal `json:"total_spent"`
}

// TopCustomers ranks users by settled spend.
func (s *Service) TopCustomers(ctx context.Context, limit int) ([]TopCustomer, error) {
	if limit <= 0 {
		limit = 10
	}

	type row struct {
		UserID     uint
		OrderCount int64
		TotalSpent string
	}
	var rows []row
	if err := s.DB.WithContext(ctx).Model(&models.Payment{}).
		Select("user_id, COUNT(*) AS order_count, SUM(amount) AS total_spent").
		Where("status = ? AND order_id IS NOT NULL", models.PaymentStatusSuccess).
		Group("user_id").
		Order("total_spent DESC").
		Limit(limit).
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("rank customers: %w", err)
	}

	out := make([]TopCustomer, 0, len(rows))
	for _, r := range rows {
		spent, err := decimal.NewFromString(r.TotalSpent)
		if err != nil {
			return nil, fmt.Errorf("parse customer spend %q: %w", r.TotalSpent, err)
		}
		out = append(out, TopCustomer{UserID: r.UserID, OrderCount: r.OrderCount, TotalSpent: spent})
	}
	return out, nil
}

// RecentOrders returns the latest orders with their lines for the dashboard
// feed.
func (s *Service) RecentOrders(ctx context.Context, limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 20
	}
	var orders []models.Order
	if err := s.DB.WithContext(ctx).
		Preload("Bags.Items").
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("load recent orders: %w", err)
	}
	return orders, nil
}
