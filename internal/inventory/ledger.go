package inventory

import (
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/admosplace/food_ordering/internal/models"
)

// ErrInsufficientStock is returned when a reservation asks for more portions
// than are in stock. Recoverable: surfaced to the caller as a user message.
var ErrInsufficientStock = errors.New("insufficient stock")

// CorruptionError reports a post-write verification failure: the observed
// portion count does not match the expected delta. Fatal for the operation,
// never retried.
type CorruptionError struct {
	FoodItemID uint
	Expected   int
	Observed   int
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("inventory corruption on food item %d: expected %d portions, observed %d",
		e.FoodItemID, e.Expected, e.Observed)
}

// Ledger owns the portion counts on food items. Reserve and Release must be
// called inside the transaction that owns the surrounding state change so a
// failed order materialization rolls the debits back with it.
type Ledger struct{}

// Reserve atomically debits portions. Plate items always succeed and are never
// debited. The decrement is a conditional UPDATE guarded by a row lock, so two
// checkouts racing on the last portion cannot both win.
func (Ledger) Reserve(tx *gorm.DB, foodItemID uint, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid reserve quantity %d for food item %d", quantity, foodItemID)
	}

	var item models.FoodItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Preload("Category").
		First(&item, foodItemID).Error; err != nil {
		return fmt.Errorf("load food item %d: %w", foodItemID, err)
	}

	if item.IsPlateItem() {
		return nil
	}

	res := tx.Model(&models.FoodItem{}).
		Where("id = ? AND portions >= ?", foodItemID, quantity).
		UpdateColumn("portions", gorm.Expr("portions - ?", quantity))
	if res.Error != nil {
		return fmt.Errorf("reserve %d portions of item %d: %w", quantity, foodItemID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: only %d portions of %s available, %d requested",
			ErrInsufficientStock, item.Portions, item.Name, quantity)
	}

	observed, err := verifyPortions(tx, foodItemID, item.Portions-quantity)
	if err != nil {
		return err
	}
	return syncAvailability(tx, foodItemID, observed)
}

// Release atomically credits portions back. Used exclusively to compensate a
// reservation after a downstream step failed outside the original transaction.
func (Ledger) Release(tx *gorm.DB, foodItemID uint, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("invalid release quantity %d for food item %d", quantity, foodItemID)
	}

	var item models.FoodItem
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, foodItemID).Error; err != nil {
		return fmt.Errorf("load food item %d: %w", foodItemID, err)
	}

	if item.IsPlateItem() {
		return nil
	}

	if err := tx.Model(&models.FoodItem{}).
		Where("id = ?", foodItemID).
		UpdateColumn("portions", gorm.Expr("portions + ?", quantity)).Error; err != nil {
		return fmt.Errorf("release %d portions of item %d: %w", quantity, foodItemID, err)
	}

	observed, err := verifyPortions(tx, foodItemID, item.Portions+quantity)
	if err != nil {
		return err
	}
	return syncAvailability(tx, foodItemID, observed)
}

func verifyPortions(tx *gorm.DB, foodItemID uint, expected int) (int, error) {
	var observed int
	if err := tx.Model(&models.FoodItem{}).
		Where("id = ?", foodItemID).
		Pluck("portions", &observed).Error; err != nil {
		return 0, fmt.Errorf("re-read food item %d: %w", foodItemID, err)
	}
	if observed != expected {
		return 0, &CorruptionError{FoodItemID: foodItemID, Expected: expected, Observed: observed}
	}
	return observed, nil
}

func syncAvailability(tx *gorm.DB, foodItemID uint, portions int) error {
	return tx.Model(&models.FoodItem{}).
		Where("id = ?", foodItemID).
		UpdateColumn("availability", portions > 0).Error
}
