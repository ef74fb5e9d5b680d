package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/admosplace/food_ordering/internal/cart"
	"github.com/admosplace/food_ordering/internal/inventory"
	"github.com/admosplace/food_ordering/internal/logging"
	"github.com/admosplace/food_ordering/internal/models"
	"github.com/admosplace/food_ordering/internal/mykafka"
	"github.com/admosplace/food_ordering/internal/paystack"
)

var (
	// ErrPaymentNotFound means no payment intent exists for the reference.
	ErrPaymentNotFound = errors.New("payment not found")
	// ErrPaymentFailed is returned when the gateway reports anything but
	// success: no order is ever created from a failed payment.
	ErrPaymentFailed = errors.New("payment failed")
)

// errConfirmedElsewhere aborts a materialization that lost the order-attach
// race to a concurrent confirmation in another process.
var errConfirmedElsewhere = errors.New("payment confirmed by another process")

// Tolerance is one minor currency unit; amount comparisons beyond it are
// treated as corruption, never rounding.
var Tolerance = decimal.NewFromFloat(0.01)

// InconsistentStateError reports an amount/total mismatch found during
// confirmation or by an auditor. Fatal for the record: logged and surfaced,
// never auto-corrected inline.
type InconsistentStateError struct {
	Reference string
	Expected  decimal.Decimal
	Observed  decimal.Decimal
	Detail    string
}

func (e *InconsistentStateError) Error() string {
	return fmt.Sprintf("inconsistent state on payment %s: %s (expected %s, observed %s)",
		e.Reference, e.Detail, e.Expected, e.Observed)
}

// Gateway is the slice of the payment provider the reconciliation needs.
type Gateway interface {
	Initialize(ctx context.Context, email string, amount decimal.Decimal, reference, callbackURL string) (*paystack.InitializeResult, error)
	Verify(ctx context.Context, reference string) (*paystack.VerifyResult, error)
}

// SnapshotStore holds staged checkout snapshots keyed by payment reference.
type SnapshotStore interface {
	Stage(ctx context.Context, reference string, snap *cart.Snapshot) error
	Staged(ctx context.Context, reference string) (*cart.Snapshot, error)
	Discard(ctx context.Context, reference string) error
}

// CartStore is the slice of the live cart store the service touches: clearing
// a session's cart after its order materialized.
type CartStore interface {
	Clear(ctx context.Context, sessionID string) error
}

type Service struct {
	DB          *gorm.DB
	Gateway     Gateway
	Snapshots   SnapshotStore
	Carts       CartStore
	Ledger      inventory.Ledger
	Producer    *mykafka.Producer
	CallbackURL string

	locks sync.Map
}

// lockRef serializes in-process confirmations per reference. Cross-process
// races are settled by the conditional order attach inside the confirmation
// transaction; this keeps the common single-process case cheap and
// deterministic.
func (s *Service) lockRef(reference string) func() {
	v, _ := s.locks.LoadOrStore(reference, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

type InitiateResult struct {
	Reference        string          `json:"reference"`
	AuthorizationURL string          `json:"authorization_url"`
	AccessCode       string          `json:"access_code"`
	Amount           decimal.Decimal `json:"amount"`
}

// Initiate opens a payment intent with the gateway and stages the cart
// snapshot that order materialization will later consume. No order exists yet.
func (s *Service) Initiate(ctx context.Context, userID uint, email string, snap *cart.Snapshot) (*InitiateResult, error) {
	total := snapshotTotal(snap)
	if !total.GreaterThan(decimal.Zero) {
		return nil, fmt.Errorf("%w: snapshot total must be positive", cart.ErrInvalidCartState)
	}

	reference := fmt.Sprintf("PAY-%d-%d", userID, time.Now().UnixNano())

	init, err := s.Gateway.Initialize(ctx, email, total, reference, s.CallbackURL)
	if err != nil {
		return nil, err
	}

	p := models.Payment{
		UserID:        userID,
		Reference:     reference,
		Amount:        total,
		Status:        models.PaymentStatusPending,
		PaymentMethod: "paystack",
	}
	if err := s.DB.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, fmt.Errorf("create payment %s: %w", reference, err)
	}

	if err := s.Snapshots.Stage(ctx, reference, snap); err != nil {
		return nil, err
	}

	logging.FromContext(ctx).Info("payment initiated",
		"reference", reference, "user_id", userID, "amount", total.String())

	return &InitiateResult{
		Reference:        reference,
		AuthorizationURL: init.AuthorizationURL,
		AccessCode:       init.AccessCode,
		Amount:           total,
	}, nil
}

func snapshotTotal(snap *cart.Snapshot) decimal.Decimal {
	subtotal := decimal.Zero
	for i := range snap.Bags {
		subtotal = subtotal.Add(snap.Bags[i].Total())
	}
	return subtotal.Add(snap.DeliveryFee).Add(snap.ServiceCharge).Add(snap.VATAmount)
}

type ConfirmResult struct {
	Payment          *models.Payment
	Order            *models.Order
	AlreadyConfirmed bool
}

// Confirm is the single idempotent confirmation routine behind the redirect
// callback, the webhook and the manual verify endpoint. Calling it any number
// of times for the same reference yields at most one order.
func (s *Service) Confirm(ctx context.Context, reference string) (*ConfirmResult, error) {
	unlock := s.lockRef(reference)
	defer unlock()

	log := logging.FromContext(ctx)

	var p models.Payment
	err := s.DB.WithContext(ctx).Where("reference = ?", reference).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: reference %s", ErrPaymentNotFound, reference)
	}
	if err != nil {
		return nil, fmt.Errorf("load payment %s: %w", reference, err)
	}

	// Idempotency guard: a payment that already owns an order is done.
	// Duplicate deliveries return the existing order, nothing else happens.
	if p.OrderID != nil {
		order, err := s.loadOrder(ctx, *p.OrderID)
		if err != nil {
			return nil, err
		}
		return &ConfirmResult{Payment: &p, Order: order, AlreadyConfirmed: true}, nil
	}

	verify, err := s.Gateway.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}

	if verify.Status != "success" {
		if err := s.markFailed(ctx, &p); err != nil {
			return nil, err
		}
		if err := s.Snapshots.Discard(ctx, reference); err != nil {
			log.Warn("discard snapshot after failed payment", "reference", reference, "error", err)
		}
		log.Info("payment failed at gateway", "reference", reference, "gateway_status", verify.Status)
		return nil, fmt.Errorf("%w: gateway reported %q for %s", ErrPaymentFailed, verify.Status, reference)
	}

	snap, err := s.Snapshots.Staged(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("payment %s confirmed but unmaterializable: %w", reference, err)
	}

	var order *models.Order
	txErr := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Trust only the gateway's reported amount from here on.
		p.Amount = verify.Amount
		p.Status = models.PaymentStatusSuccess
		if p.PaymentType == "" {
			p.PaymentType = paystack.PaymentTypeFromChannel(verify.Channel)
		}

		var buildErr error
		order, buildErr = s.materializeOrder(tx, snap)
		if buildErr != nil {
			return buildErr
		}

		if diff := order.Total().Sub(p.Amount).Abs(); diff.GreaterThan(Tolerance) {
			return &InconsistentStateError{
				Reference: reference,
				Expected:  order.Total(),
				Observed:  p.Amount,
				Detail:    "gateway amount does not match materialized order total",
			}
		}

		// Attach only while no order is attached yet. Another process can
		// confirm the same reference between our idempotency check and this
		// transaction; the in-process mutex cannot see it. Losing the race
		// rolls back this order and its reservations.
		attach := tx.Model(&models.Payment{}).
			Where("id = ? AND order_id IS NULL", p.ID).
			Updates(map[string]any{
				"order_id":     order.ID,
				"amount":       p.Amount,
				"status":       p.Status,
				"payment_type": p.PaymentType,
			})
		if attach.Error != nil {
			return fmt.Errorf("attach order %d to payment %s: %w", order.ID, reference, attach.Error)
		}
		if attach.RowsAffected == 0 {
			return errConfirmedElsewhere
		}
		p.OrderID = &order.ID

		note := models.OrderNotification{
			OrderID: order.ID,
			Message: fmt.Sprintf("New payment received: %s for order #%d", p.Amount.StringFixed(2), order.ID),
		}
		return tx.Create(&note).Error
	})
	if errors.Is(txErr, errConfirmedElsewhere) {
		var settled models.Payment
		if err := s.DB.WithContext(ctx).Where("reference = ?", reference).First(&settled).Error; err != nil {
			return nil, fmt.Errorf("reload payment %s: %w", reference, err)
		}
		if settled.OrderID == nil {
			return nil, fmt.Errorf("payment %s has no order after losing attach race", reference)
		}
		existing, err := s.loadOrder(ctx, *settled.OrderID)
		if err != nil {
			return nil, err
		}
		log.Info("payment confirmed concurrently elsewhere", "reference", reference, "order_id", *settled.OrderID)
		return &ConfirmResult{Payment: &settled, Order: existing, AlreadyConfirmed: true}, nil
	}
	if txErr != nil {
		// The transaction rolled back: no order row, no inventory debit.
		// The payment is parked as failed so operators can see it needs
		// attention; the gateway still holds the money.
		if markErr := s.markFailed(ctx, &p); markErr != nil {
			log.Error("mark payment failed after rollback", "reference", reference, "error", markErr)
		}
		log.Error("order materialization rolled back", "reference", reference, "error", txErr)
		return nil, txErr
	}

	if err := s.Snapshots.Discard(ctx, reference); err != nil {
		log.Warn("discard snapshot after confirmation", "reference", reference, "error", err)
	}
	if snap.SessionID != "" && s.Carts != nil {
		if err := s.Carts.Clear(ctx, snap.SessionID); err != nil {
			log.Warn("clear cart after confirmation", "session_id", snap.SessionID, "error", err)
		}
	}

	s.publish(ctx, mykafka.TopicPaymentEvents, reference, map[string]any{
		"type":      "payment_success",
		"reference": reference,
		"order_id":  order.ID,
		"user_id":   p.UserID,
		"amount":    p.Amount.String(),
	})
	s.publish(ctx, mykafka.TopicOrderEvents, fmt.Sprint(order.ID), map[string]any{
		"type":     "order_created",
		"order_id": order.ID,
		"user_id":  p.UserID,
		"total":    order.Total().String(),
	})

	log.Info("payment confirmed", "reference", reference, "order_id", order.ID, "amount", p.Amount.String())
	return &ConfirmResult{Payment: &p, Order: order}, nil
}

// materializeOrder builds the order aggregate from the staged snapshot inside
// the caller's transaction. Historical fields are frozen here, exactly once;
// plate lines fold into the bag's first food item. Every inventory
// reservation failure aborts the transaction, which also undoes reservations
// already taken.
func (s *Service) materializeOrder(tx *gorm.DB, snap *cart.Snapshot) (*models.Order, error) {
	order := models.Order{
		UserID:          snap.UserID,
		DeliveryAddress: snap.DeliveryAddress,
		ContactPhone:    snap.ContactPhone,
		DeliveryFee:     snap.DeliveryFee,
		ServiceCharge:   snap.ServiceCharge,
		VATPercentage:   snap.VATPercentage,
		VATAmount:       snap.VATAmount,
		Status:          models.OrderStatusPending,
	}
	if err := tx.Create(&order).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	for bi := range snap.Bags {
		sb := &snap.Bags[bi]
		if len(sb.Lines) == 0 {
			continue
		}

		bag := models.Bag{OwnerID: snap.UserID, Name: sb.Name}
		if err := tx.Create(&bag).Error; err != nil {
			return nil, fmt.Errorf("create bag %s: %w", sb.Name, err)
		}

		plateQty := 0
		plateFee := decimal.Zero
		if plate := plateLineOf(sb); plate != nil {
			plateQty = plate.Quantity
			plateFee = plate.Price
		}
		plateCarried := false

		for li := range sb.Lines {
			line := &sb.Lines[li]
			if line.IsPlates {
				continue
			}

			item := models.BagItem{
				BagID:        bag.ID,
				Portions:     line.Quantity,
				ItemName:     line.Name,
				ItemPrice:    line.Price,
				ItemCategory: line.Category,
			}

			// The frozen Item* fields come from the snapshot: the customer
			// pays the price they staged, not whatever the menu says now.
			// The live row is only needed for linkage and stock.
			if line.FoodItemID != 0 {
				var food models.FoodItem
				err := tx.First(&food, line.FoodItemID).Error
				switch {
				case errors.Is(err, gorm.ErrRecordNotFound):
					// Menu item deleted since checkout: the snapshot
					// fields carry the line on their own.
				case err != nil:
					return nil, fmt.Errorf("load food item %d: %w", line.FoodItemID, err)
				default:
					id := food.ID
					item.FoodItemID = &id
					if err := s.Ledger.Reserve(tx, food.ID, line.Quantity); err != nil {
						return nil, fmt.Errorf("reserve %s: %w", line.Name, err)
					}
				}
			}

			if !plateCarried && plateQty > 0 && strings.EqualFold(item.ItemCategory, models.CategoryFood) {
				item.Plates = plateQty
				item.PlateFee = plateFee
				plateCarried = true
			}

			if err := tx.Create(&item).Error; err != nil {
				return nil, fmt.Errorf("create bag item %s: %w", item.ItemName, err)
			}
			bag.Items = append(bag.Items, item)
		}

		if len(bag.Items) == 0 {
			return nil, fmt.Errorf("%w: bag %s has no purchasable items", cart.ErrInvalidCartState, sb.Name)
		}

		if err := tx.Model(&order).Association("Bags").Append(&bag); err != nil {
			return nil, fmt.Errorf("link bag %d to order %d: %w", bag.ID, order.ID, err)
		}
		order.Bags = append(order.Bags, bag)
	}

	if !order.IsComplete() {
		return nil, fmt.Errorf("%w: order incomplete after materialization", cart.ErrInvalidCartState)
	}
	return &order, nil
}

func plateLineOf(b *cart.Bag) *cart.Line {
	for i := range b.Lines {
		if b.Lines[i].IsPlates {
			return &b.Lines[i]
		}
	}
	return nil
}

func (s *Service) markFailed(ctx context.Context, p *models.Payment) error {
	if err := s.DB.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ?", p.ID).
		Update("status", models.PaymentStatusFailed).Error; err != nil {
		return fmt.Errorf("mark payment %s failed: %w", p.Reference, err)
	}
	p.Status = models.PaymentStatusFailed
	return nil
}

func (s *Service) loadOrder(ctx context.Context, orderID uint) (*models.Order, error) {
	var order models.Order
	if err := s.DB.WithContext(ctx).
		Preload("Bags.Items").
		First(&order, orderID).Error; err != nil {
		return nil, fmt.Errorf("load order %d: %w", orderID, err)
	}
	return &order, nil
}

// SweepPending re-verifies pending payments older than the cutoff with the
// gateway. Confirmation either materializes the order, marks the payment
// failed, or leaves it pending when the gateway is unreachable.
func (s *Service) SweepPending(ctx context.Context, olderThan time.Duration) (int, error) {
	var pending []models.Payment
	cutoff := time.Now().Add(-olderThan)
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.PaymentStatusPending, cutoff).
		Find(&pending).Error; err != nil {
		return 0, fmt.Errorf("load pending payments: %w", err)
	}

	log := logging.FromContext(ctx)
	confirmed := 0
	for i := range pending {
		if _, err := s.Confirm(ctx, pending[i].Reference); err != nil {
			log.Info("pending sweep", "reference", pending[i].Reference, "result", err.Error())
			continue
		}
		confirmed++
	}
	return confirmed, nil
}

func (s *Service) publish(ctx context.Context, topic, key string, event map[string]any) {
	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.Producer.PublishEvent(pubCtx, topic, key, event); err != nil {
		logging.FromContext(ctx).Error("kafka publish", "topic", topic, "error", err)
	}
}

// lockPaymentRow takes a row lock used by operator fixes that rewrite amounts.
func lockPaymentRow(tx *gorm.DB, id uint) (*models.Payment, error) {
	var p models.Payment
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&p, id).Error; err != nil {
		return nil, err
	}
	return &p, nil
}
