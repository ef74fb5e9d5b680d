package cart

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/admosplace/food_ordering/internal/models"
)

var plateFee = decimal.NewFromInt(50)

func foodItem(id uint, name string, price int64, portions int) *models.FoodItem {
	return &models.FoodItem{
		ID:           id,
		Name:         name,
		Price:        decimal.NewFromInt(price),
		Portions:     portions,
		Availability: portions > 0,
		Category:     models.Category{ID: 1, Name: "food"},
	}
}

func drinkItem(id uint, name string, price int64, portions int) *models.FoodItem {
	item := foodItem(id, name, price, portions)
	item.Category = models.Category{ID: 2, Name: "drinks"}
	return item
}

func TestAddFirstFoodItemRequiresPlates(t *testing.T) {
	c := New()
	rice := foodItem(1, "Jollof Rice", 1500, 10)

	err := c.AddItem(rice, 2, 0, plateFee)
	require.ErrorIs(t, err, ErrInvalidCartState)
	require.False(t, c.HasItems())

	require.NoError(t, c.AddItem(rice, 2, 1, plateFee))
	require.Len(t, c.Bags[0].Lines, 2)
	require.True(t, c.Bags[0].Lines[1].IsPlates)
	require.Equal(t, 1, c.Bags[0].Lines[1].Quantity)
}

func TestSecondFoodItemCarriesNoPlates(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(foodItem(1, "Jollof Rice", 1500, 10), 1, 2, plateFee))
	require.NoError(t, c.AddItem(foodItem(2, "Fried Rice", 1200, 10), 1, 3, plateFee))

	plates := 0
	for _, line := range c.Bags[0].Lines {
		if line.IsPlates {
			plates++
			require.Equal(t, 2, line.Quantity)
		}
	}
	require.Equal(t, 1, plates)
}

func TestDrinksNeedNoPlates(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(drinkItem(3, "Chapman", 800, 20), 2, 0, plateFee))
	require.Len(t, c.Bags[0].Lines, 1)
}

func TestAddItemStockPreCheck(t *testing.T) {
	c := New()
	rice := foodItem(1, "Jollof Rice", 1500, 3)

	err := c.AddItem(rice, 5, 1, plateFee)
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, c.AddItem(rice, 2, 1, plateFee))
	// Cumulative across the existing line.
	err = c.AddItem(rice, 2, 0, plateFee)
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestRemovePlateLineRejectedWhileFoodRemains(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(foodItem(1, "Jollof Rice", 1500, 10), 1, 1, plateFee))

	plateID := "plates_" + c.Bags[0].ID
	err := c.RemoveItem(plateID)
	require.ErrorIs(t, err, ErrInvalidCartState)
	require.Contains(t, err.Error(), "Jollof Rice")
}

func TestRemovingLastFoodDropsPlateLine(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(foodItem(1, "Jollof Rice", 1500, 10), 1, 1, plateFee))
	require.NoError(t, c.AddItem(drinkItem(3, "Chapman", 800, 20), 1, 0, plateFee))

	require.NoError(t, c.RemoveItem("item_1"))

	for _, line := range c.Bags[0].Lines {
		require.False(t, line.IsPlates)
	}
	require.Len(t, c.Bags[0].Lines, 1)
}

func TestEmptyBagIsDroppedAndSiblingsRenumbered(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(foodItem(1, "Jollof Rice", 1500, 10), 1, 1, plateFee))

	_, err := c.CreateBag()
	require.NoError(t, err)
	require.NoError(t, c.AddItem(foodItem(2, "Fried Rice", 1200, 10), 1, 1, plateFee))

	_, err = c.CreateBag()
	require.NoError(t, err)
	require.NoError(t, c.AddItem(drinkItem(3, "Chapman", 800, 20), 1, 0, plateFee))

	// Empty the middle bag through item removal.
	require.NoError(t, c.DeleteBag("bag_2"))

	require.Len(t, c.Bags, 2)
	require.Equal(t, "bag_1", c.Bags[0].ID)
	require.Equal(t, "Bag 1", c.Bags[0].Name)
	require.Equal(t, "bag_2", c.Bags[1].ID)
	require.Equal(t, "Bag 2", c.Bags[1].Name)
	// Chapman followed its bag into the new numbering.
	require.Equal(t, "Chapman", c.Bags[1].Lines[0].Name)

	// Plate line IDs must track the renumbered bag.
	require.Equal(t, "plates_bag_1", c.Bags[0].Lines[1].ID)
}

func TestCreateBagRejectedWhileLastBagEmpty(t *testing.T) {
	c := New()
	_, err := c.CreateBag()
	require.ErrorIs(t, err, ErrInvalidCartState)

	require.NoError(t, c.AddItem(foodItem(1, "Jollof Rice", 1500, 10), 1, 1, plateFee))
	_, err = c.CreateBag()
	require.NoError(t, err)

	_, err = c.CreateBag()
	require.ErrorIs(t, err, ErrInvalidCartState)
}

func TestDeleteLastBagClearsCart(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(foodItem(1, "Jollof Rice", 1500, 10), 1, 1, plateFee))

	require.NoError(t, c.DeleteBag("bag_1"))
	require.False(t, c.HasItems())
	require.Len(t, c.Bags, 1)
	require.Equal(t, "bag_1", c.CurrentBag)
}

func TestSwitchBagTargetsMutations(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(foodItem(1, "Jollof Rice", 1500, 10), 1, 1, plateFee))
	_, err := c.CreateBag()
	require.NoError(t, err)
	require.NoError(t, c.AddItem(foodItem(2, "Fried Rice", 1200, 10), 1, 1, plateFee))

	_, err = c.SwitchBag("bag_1")
	require.NoError(t, err)
	require.NoError(t, c.AddItem(drinkItem(3, "Chapman", 800, 20), 1, 0, plateFee))

	require.Len(t, c.Bags[0].Lines, 3)
	require.Len(t, c.Bags[1].Lines, 2)

	_, err = c.SwitchBag("bag_9")
	require.ErrorIs(t, err, ErrInvalidCartState)
}

func TestUpdateQuantityGuards(t *testing.T) {
	c := New()
	rice := foodItem(1, "Jollof Rice", 1500, 3)
	require.NoError(t, c.AddItem(rice, 3, 1, plateFee))

	err := c.UpdateQuantity("item_1", 5, rice)
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.NoError(t, c.UpdateQuantity("item_1", 2, rice))
	require.Equal(t, 2, c.Bags[0].Lines[0].Quantity)

	// Quantity zero removes the line, and with it the last food item the
	// plate line covered, leaving the cart empty.
	require.NoError(t, c.UpdateQuantity("item_1", 0, rice))
	require.False(t, c.HasItems())
}

func TestSubtotalCountsPlateLines(t *testing.T) {
	c := New()
	require.NoError(t, c.AddItem(foodItem(1, "Jollof Rice", 1500, 10), 2, 1, plateFee))

	// 2 x 1500 + 1 x 50
	require.True(t, c.Subtotal().Equal(decimal.NewFromInt(3050)))
}
