package inventory

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/admosplace/food_ordering/internal/models"
)

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&models.Category{}, &models.FoodItem{}))
	return db
}

func seedItem(t *testing.T, db *gorm.DB, name string, category string, portions int) *models.FoodItem {
	var cat models.Category
	require.NoError(t, db.Where(models.Category{Name: category}).FirstOrCreate(&cat).Error)

	item := models.FoodItem{
		Name:         name,
		Price:        decimal.NewFromInt(1000),
		CategoryID:   cat.ID,
		Portions:     portions,
		Availability: portions > 0,
	}
	require.NoError(t, db.Create(&item).Error)
	return &item
}

func portionsOf(t *testing.T, db *gorm.DB, id uint) int {
	var item models.FoodItem
	require.NoError(t, db.First(&item, id).Error)
	return item.Portions
}

func TestReserveDebitsPortions(t *testing.T) {
	db := initTestDB(t)
	item := seedItem(t, db, "Jollof Rice", "food", 5)

	var ledger Ledger
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(tx, item.ID, 3)
	}))

	require.Equal(t, 2, portionsOf(t, db, item.ID))
}

func TestReserveToZeroFlipsAvailability(t *testing.T) {
	db := initTestDB(t)
	item := seedItem(t, db, "Jollof Rice", "food", 2)

	var ledger Ledger
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(tx, item.ID, 2)
	}))

	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 0, reloaded.Portions)
	require.False(t, reloaded.Availability)
	require.False(t, reloaded.IsAvailable())
}

func TestReserveInsufficientStock(t *testing.T) {
	db := initTestDB(t)
	item := seedItem(t, db, "Jollof Rice", "food", 2)

	var ledger Ledger
	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(tx, item.ID, 3)
	})
	require.ErrorIs(t, err, ErrInsufficientStock)

	// Nothing was debited.
	require.Equal(t, 2, portionsOf(t, db, item.ID))
}

func TestReserveNeverGoesNegative(t *testing.T) {
	db := initTestDB(t)
	item := seedItem(t, db, "Jollof Rice", "food", 1)

	var ledger Ledger
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(tx, item.ID, 1)
	}))

	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(tx, item.ID, 1)
	})
	require.ErrorIs(t, err, ErrInsufficientStock)
	require.Equal(t, 0, portionsOf(t, db, item.ID))
}

func TestPlateItemsAreNeverDebited(t *testing.T) {
	db := initTestDB(t)
	plate := seedItem(t, db, "Plate", "supplies", 0)

	var ledger Ledger
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(tx, plate.ID, 50)
	}))

	require.Equal(t, 0, portionsOf(t, db, plate.ID))
}

func TestReleaseCreditsPortionsBack(t *testing.T) {
	db := initTestDB(t)
	item := seedItem(t, db, "Jollof Rice", "food", 0)

	var ledger Ledger
	require.NoError(t, db.Transaction(func(tx *gorm.DB) error {
		return ledger.Release(tx, item.ID, 4)
	}))

	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 4, reloaded.Portions)
	require.True(t, reloaded.Availability)
}

func TestReserveRejectsInvalidQuantity(t *testing.T) {
	db := initTestDB(t)
	item := seedItem(t, db, "Jollof Rice", "food", 5)

	var ledger Ledger
	err := db.Transaction(func(tx *gorm.DB) error {
		return ledger.Reserve(tx, item.ID, 0)
	})
	require.Error(t, err)
	require.Equal(t, 5, portionsOf(t, db, item.ID))
}

func TestRollbackRestoresPortions(t *testing.T) {
	db := initTestDB(t)
	item := seedItem(t, db, "Jollof Rice", "food", 5)

	var ledger Ledger
	sentinel := ErrInsufficientStock
	err := db.Transaction(func(tx *gorm.DB) error {
		if err := ledger.Reserve(tx, item.ID, 3); err != nil {
			return err
		}
		// A later step fails; the debit must roll back with it.
		return sentinel
	})
	require.ErrorIs(t, err, sentinel)
	require.Equal(t, 5, portionsOf(t, db, item.ID))
}
