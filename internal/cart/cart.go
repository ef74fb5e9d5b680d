package cart

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/admosplace/food_ordering/internal/models"
)

// ErrInvalidCartState covers every rejected cart mutation: missing plates,
// empty bags, unknown lines. A failed operation leaves the cart unchanged.
var ErrInvalidCartState = errors.New("invalid cart state")

// ErrInsufficientStock mirrors the inventory pre-check at cart time; the
// authoritative check happens at reservation time.
var ErrInsufficientStock = errors.New("insufficient stock")

type Line struct {
	ID         string          `json:"id"`
	FoodItemID uint            `json:"food_item_id,omitempty"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
	Category   string          `json:"category"`
	IsPlates   bool            `json:"is_plates,omitempty"`
	ImageURL   string          `json:"image_url,omitempty"`
}

func (l *Line) IsFood() bool {
	return strings.EqualFold(l.Category, models.CategoryFood)
}

func (l *Line) Total() decimal.Decimal {
	return l.Price.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

type Bag struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Lines     []Line    `json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Bag) Total() decimal.Decimal {
	total := decimal.Zero
	for i := range b.Lines {
		total = total.Add(b.Lines[i].Total())
	}
	return total
}

func (b *Bag) hasFood() bool {
	for i := range b.Lines {
		if b.Lines[i].IsFood() && !b.Lines[i].IsPlates {
			return true
		}
	}
	return false
}

func (b *Bag) plateLine() *Line {
	for i := range b.Lines {
		if b.Lines[i].IsPlates {
			return &b.Lines[i]
		}
	}
	return nil
}

func (b *Bag) findLine(id string) *Line {
	for i := range b.Lines {
		if b.Lines[i].ID == id {
			return &b.Lines[i]
		}
	}
	return nil
}

// Cart is the per-session collection of bags plus the current-bag pointer.
type Cart struct {
	Bags       []Bag  `json:"bags"`
	CurrentBag string `json:"current_bag"`
}

func bagID(n int) string   { return fmt.Sprintf("bag_%d", n) }
func bagName(n int) string { return fmt.Sprintf("Bag %d", n) }

func New() *Cart {
	c := &Cart{}
	c.ensureDefaultBag()
	return c
}

func (c *Cart) ensureDefaultBag() {
	if len(c.Bags) == 0 {
		c.Bags = []Bag{{ID: bagID(1), Name: bagName(1), CreatedAt: time.Now()}}
		c.CurrentBag = bagID(1)
	}
	if c.currentBagRef() == nil {
		c.CurrentBag = c.Bags[0].ID
	}
}

func (c *Cart) currentBagRef() *Bag {
	for i := range c.Bags {
		if c.Bags[i].ID == c.CurrentBag {
			return &c.Bags[i]
		}
	}
	return nil
}

func (c *Cart) bagByID(id string) *Bag {
	for i := range c.Bags {
		if c.Bags[i].ID == id {
			return &c.Bags[i]
		}
	}
	return nil
}

func (c *Cart) TotalCount() int {
	n := 0
	for i := range c.Bags {
		n += len(c.Bags[i].Lines)
	}
	return n
}

func (c *Cart) HasItems() bool {
	for i := range c.Bags {
		if len(c.Bags[i].Lines) > 0 {
			return true
		}
	}
	return false
}

func (c *Cart) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for i := range c.Bags {
		total = total.Add(c.Bags[i].Total())
	}
	return total
}

// AddItem puts a food item into the current bag. The first food item in a bag
// must carry at least one plate; later food items in the same bag must not,
// since the existing plate line already covers them. Quantity is pre-checked
// against live stock, cumulatively for lines already in the bag.
func (c *Cart) AddItem(item *models.FoodItem, quantity, plates int, plateFee decimal.Decimal) error {
	if quantity < 1 {
		quantity = 1
	}
	if !item.IsAvailable() {
		return fmt.Errorf("%w: %s is not available", ErrInvalidCartState, item.Name)
	}
	if !item.CanOrderPortions(quantity) {
		return fmt.Errorf("%w: only %d portions of %s available", ErrInsufficientStock, item.Portions, item.Name)
	}

	c.ensureDefaultBag()
	bag := c.currentBagRef()

	isFood := item.IsFoodCategory()
	isPlate := item.IsPlateItem()
	hasFood := bag.hasFood()

	if isFood && !isPlate {
		if !hasFood && plates < 1 {
			return fmt.Errorf("%w: at least one plate is required for food items", ErrInvalidCartState)
		}
		if hasFood {
			// Plates already covered by the bag's first food item.
			plates = 0
		}
	} else {
		plates = 0
	}

	lineID := fmt.Sprintf("item_%d", item.ID)
	if existing := bag.findLine(lineID); existing != nil {
		newQuantity := existing.Quantity + quantity
		if !item.CanOrderPortions(newQuantity) {
			return fmt.Errorf("%w: only %d portions of %s available and %d already in your bag",
				ErrInsufficientStock, item.Portions, item.Name, existing.Quantity)
		}
		existing.Quantity = newQuantity
		return nil
	}

	bag.Lines = append(bag.Lines, Line{
		ID:         lineID,
		FoodItemID: item.ID,
		Name:       item.Name,
		Price:      item.Price,
		Quantity:   quantity,
		Category:   item.Category.Name,
		ImageURL:   item.ImageURL,
	})

	if plates > 0 {
		bag.Lines = append(bag.Lines, Line{
			ID:       fmt.Sprintf("plates_%s", bag.ID),
			Name:     "Plates",
			Price:    plateFee,
			Quantity: plates,
			Category: "Service",
			IsPlates: true,
		})
	}
	return nil
}

// UpdateQuantity changes a line's quantity. item carries the live stock for
// non-plate lines; it may be nil for plate lines. Quantity 0 removes the line
// under the same rules as RemoveItem.
func (c *Cart) UpdateQuantity(lineID string, quantity int, item *models.FoodItem) error {
	line, _ := c.locateLine(lineID)
	if line == nil {
		return fmt.Errorf("%w: line %s not found", ErrInvalidCartState, lineID)
	}

	if quantity <= 0 {
		return c.RemoveItem(lineID)
	}

	if !line.IsPlates {
		if item == nil {
			return fmt.Errorf("%w: line %s has no live food item", ErrInvalidCartState, lineID)
		}
		if !item.CanOrderPortions(quantity) {
			return fmt.Errorf("%w: only %d portions of %s available", ErrInsufficientStock, item.Portions, item.Name)
		}
		if quantity > line.Quantity && line.Quantity >= item.Portions && !item.IsPlateItem() {
			return fmt.Errorf("%w: you already have the maximum available quantity of %s", ErrInsufficientStock, item.Name)
		}
	}

	line.Quantity = quantity
	return nil
}

// RemoveItem drops a line. Removing a plate line is rejected while food items
// in the same bag still need it; removing the last food item drops the plate
// line with it. A bag left empty is deleted and siblings renumbered.
func (c *Cart) RemoveItem(lineID string) error {
	line, bag := c.locateLine(lineID)
	if line == nil {
		return fmt.Errorf("%w: line %s not found", ErrInvalidCartState, lineID)
	}

	if line.IsPlates && bag.hasFood() {
		names := make([]string, 0, len(bag.Lines))
		for i := range bag.Lines {
			if bag.Lines[i].IsFood() && !bag.Lines[i].IsPlates {
				names = append(names, bag.Lines[i].Name)
			}
		}
		return fmt.Errorf("%w: %s still require plates to serve, remove the food items first",
			ErrInvalidCartState, strings.Join(names, ", "))
	}

	wasFood := line.IsFood() && !line.IsPlates

	kept := bag.Lines[:0]
	for i := range bag.Lines {
		if bag.Lines[i].ID != lineID {
			kept = append(kept, bag.Lines[i])
		}
	}
	bag.Lines = kept

	if wasFood && !bag.hasFood() {
		noPlates := bag.Lines[:0]
		for i := range bag.Lines {
			if !bag.Lines[i].IsPlates {
				noPlates = append(noPlates, bag.Lines[i])
			}
		}
		bag.Lines = noPlates
	}

	if len(bag.Lines) == 0 {
		c.dropBag(bag.ID)
	}
	return nil
}

func (c *Cart) locateLine(lineID string) (*Line, *Bag) {
	// Current bag first: duplicate line IDs can exist across bags.
	if bag := c.currentBagRef(); bag != nil {
		if line := bag.findLine(lineID); line != nil {
			return line, bag
		}
	}
	for i := range c.Bags {
		if line := c.Bags[i].findLine(lineID); line != nil {
			return line, &c.Bags[i]
		}
	}
	return nil, nil
}

// dropBag removes a bag and renumbers the rest to keep the contiguous
// Bag 1..N naming. The current pointer follows the renumbering, or falls back
// to the first remaining bag; a fresh Bag 1 is created if none remain.
func (c *Cart) dropBag(id string) {
	kept := c.Bags[:0]
	for i := range c.Bags {
		if c.Bags[i].ID != id {
			kept = append(kept, c.Bags[i])
		}
	}
	c.Bags = kept

	for i := range c.Bags {
		oldID := c.Bags[i].ID
		c.Bags[i].ID = bagID(i + 1)
		c.Bags[i].Name = bagName(i + 1)
		if plate := c.Bags[i].plateLine(); plate != nil {
			plate.ID = fmt.Sprintf("plates_%s", c.Bags[i].ID)
		}
		if c.CurrentBag == oldID {
			c.CurrentBag = c.Bags[i].ID
		}
	}

	if c.bagByID(c.CurrentBag) == nil {
		if len(c.Bags) > 0 {
			c.CurrentBag = c.Bags[0].ID
		} else {
			c.ensureDefaultBag()
		}
	}
}

// CreateBag appends a new bag and makes it current. Rejected while the most
// recently created bag is still empty.
func (c *Cart) CreateBag() (*Bag, error) {
	if len(c.Bags) > 0 {
		last := &c.Bags[len(c.Bags)-1]
		if len(last.Lines) == 0 {
			return nil, fmt.Errorf("%w: add items to %s before creating a new bag", ErrInvalidCartState, last.Name)
		}
	}

	n := len(c.Bags) + 1
	c.Bags = append(c.Bags, Bag{ID: bagID(n), Name: bagName(n), CreatedAt: time.Now()})
	c.CurrentBag = bagID(n)
	return &c.Bags[len(c.Bags)-1], nil
}

func (c *Cart) SwitchBag(id string) (*Bag, error) {
	bag := c.bagByID(id)
	if bag == nil {
		return nil, fmt.Errorf("%w: bag %s not found", ErrInvalidCartState, id)
	}
	c.CurrentBag = id
	return bag, nil
}

// DeleteBag removes a bag outright. Deleting the last bag clears the cart
// rather than leaving zero bags behind.
func (c *Cart) DeleteBag(id string) error {
	if c.bagByID(id) == nil {
		return fmt.Errorf("%w: bag %s not found", ErrInvalidCartState, id)
	}

	if len(c.Bags) <= 1 {
		c.Clear()
		return nil
	}

	c.dropBag(id)
	return nil
}

func (c *Cart) Clear() {
	c.Bags = nil
	c.CurrentBag = ""
	c.ensureDefaultBag()
}

// RefreshPlateFee updates every plate line to the current system fee. Called
// when a cart is loaded so stale sessions pick up setting changes.
func (c *Cart) RefreshPlateFee(fee decimal.Decimal) {
	for i := range c.Bags {
		for j := range c.Bags[i].Lines {
			if c.Bags[i].Lines[j].IsPlates {
				c.Bags[i].Lines[j].Price = fee
			}
		}
	}
}
