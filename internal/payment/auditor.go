package payment

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/admosplace/food_ordering/internal/logging"
	"github.com/admosplace/food_ordering/internal/models"
)

// Inconsistency is one audit finding. Findings are reported, never repaired,
// except through FixInconsistentPayments.
type Inconsistency struct {
	PaymentID uint            `json:"payment_id"`
	OrderID   uint            `json:"order_id"`
	Reference string          `json:"reference"`
	Expected  decimal.Decimal `json:"expected"`
	Observed  decimal.Decimal `json:"observed"`
	Detail    string          `json:"detail"`
}

// AuditPayments recomputes every successful payment's order total from its
// bag items and compares it against the recorded payment amount. Differences
// beyond one minor unit are real drift, not rounding.
func (s *Service) AuditPayments(ctx context.Context) ([]Inconsistency, error) {
	var payments []models.Payment
	if err := s.DB.WithContext(ctx).
		Preload("Order.Bags.Items").
		Where("status = ?", models.PaymentStatusSuccess).
		Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("load successful payments: %w", err)
	}

	log := logging.FromContext(ctx)
	var findings []Inconsistency
	for i := range payments {
		p := &payments[i]
		if p.Order == nil {
			findings = append(findings, Inconsistency{
				PaymentID: p.ID,
				Reference: p.Reference,
				Observed:  p.Amount,
				Detail:    "successful payment has no order",
			})
			continue
		}
		expected := p.Order.Total()
		if expected.Sub(p.Amount).Abs().GreaterThan(Tolerance) {
			findings = append(findings, Inconsistency{
				PaymentID: p.ID,
				OrderID:   p.Order.ID,
				Reference: p.Reference,
				Expected:  expected,
				Observed:  p.Amount,
				Detail:    "payment amount does not match order total",
			})
		}
	}

	if len(findings) > 0 {
		log.Warn("payment audit found inconsistencies", "count", len(findings))
	}
	return findings, nil
}

// AuditOrders checks order-side invariants: every order must be owned by
// exactly one successful payment, be structurally complete, and carry a
// total derivable from its frozen lines.
func (s *Service) AuditOrders(ctx context.Context) ([]Inconsistency, error) {
	var orders []models.Order
	if err := s.DB.WithContext(ctx).
		Preload("Bags.Items").
		Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("load orders: %w", err)
	}

	var findings []Inconsistency
	for i := range orders {
		o := &orders[i]

		var count int64
		if err := s.DB.WithContext(ctx).Model(&models.Payment{}).
			Where("order_id = ? AND status = ?", o.ID, models.PaymentStatusSuccess).
			Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count payments for order %d: %w", o.ID, err)
		}
		if count != 1 {
			findings = append(findings, Inconsistency{
				OrderID:  o.ID,
				Observed: decimal.NewFromInt(count),
				Expected: decimal.NewFromInt(1),
				Detail:   "order is not owned by exactly one successful payment",
			})
		}

		if !o.IsComplete() {
			findings = append(findings, Inconsistency{
				OrderID: o.ID,
				Detail:  "order is structurally incomplete",
			})
		}
	}
	return findings, nil
}

// FixInconsistentPayments rewrites drifted payment amounts to the recomputed
// order totals. This is an explicit operator action: every correction is
// logged with before and after values, nothing runs on a schedule.
func (s *Service) FixInconsistentPayments(ctx context.Context, operatorID uint) (int, error) {
	findings, err := s.AuditPayments(ctx)
	if err != nil {
		return 0, err
	}

	log := logging.FromContext(ctx)
	fixed := 0
	for i := range findings {
		f := findings[i]
		if f.OrderID == 0 {
			// A successful payment with no order cannot be repaired from
			// here; it needs a human decision.
			continue
		}
		err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			p, err := lockPaymentRow(tx, f.PaymentID)
			if err != nil {
				return fmt.Errorf("lock payment %d: %w", f.PaymentID, err)
			}
			before := p.Amount
			p.Amount = f.Expected
			if err := tx.Save(p).Error; err != nil {
				return fmt.Errorf("rewrite payment %d amount: %w", f.PaymentID, err)
			}
			log.Warn("payment amount corrected",
				"reference", p.Reference,
				"order_id", f.OrderID,
				"before", before.String(),
				"after", f.Expected.String(),
				"operator_id", operatorID)
			return nil
		})
		if err != nil {
			return fixed, err
		}
		fixed++
	}
	return fixed, nil
}
