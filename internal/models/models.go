package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending   = "Pending"
	OrderStatusOnTheWay  = "On the Way"
	OrderStatusDelivered = "Delivered"
)

const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
)

// CategoryFood is the category whose items require plates to serve.
const CategoryFood = "food"

// PlateItemName marks the supply item that is always available and never debited.
const PlateItemName = "plate"

type Category struct {
	ID   uint   `gorm:"primaryKey;autoIncrement" json:"id"`
	Name string `gorm:"unique;not null"          json:"name"`
}

type FoodItem struct {
	ID           uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	Name         string          `gorm:"unique;not null"          json:"name"`
	Price        decimal.Decimal `gorm:"type:numeric(10,2);not null" json:"price"`
	CategoryID   uint            `gorm:"index;not null"           json:"category_id"`
	Category     Category        `json:"category"`
	Portions     int             `gorm:"not null;default:0;check:portions >= 0" json:"portions"`
	Availability bool            `gorm:"not null;default:true"    json:"availability"`
	ImageURL     string          `json:"image_url,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (f *FoodItem) IsPlateItem() bool {
	return strings.EqualFold(f.Name, PlateItemName)
}

func (f *FoodItem) IsFoodCategory() bool {
	return strings.EqualFold(f.Category.Name, CategoryFood)
}

// IsAvailable is a pure function of portions, except Plate items which never run out.
func (f *FoodItem) IsAvailable() bool {
	if f.IsPlateItem() {
		return true
	}
	return f.Portions > 0
}

func (f *FoodItem) CanOrderPortions(requested int) bool {
	if f.IsPlateItem() {
		return true
	}
	return f.Portions >= requested
}

type Bag struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID   uint      `gorm:"index;not null"           json:"owner_id"`
	Name      string    `json:"name"`
	Items     []BagItem `gorm:"foreignKey:BagID"         json:"items"`
	CreatedAt time.Time `json:"created_at"`
}

func (b *Bag) TotalCost() decimal.Decimal {
	total := decimal.Zero
	for i := range b.Items {
		total = total.Add(b.Items[i].Subtotal())
	}
	return total
}

func (b *Bag) HasFoodItems() bool {
	for i := range b.Items {
		if b.Items[i].IsFoodCategory() {
			return true
		}
	}
	return false
}

// BagItem is a purchased order line. FoodItemID may be nil if the menu item was
// later deleted; the Item* fields freeze name, unit price and category at
// purchase time and are never re-derived from the live FoodItem afterwards.
type BagItem struct {
	ID         uint  `gorm:"primaryKey;autoIncrement" json:"id"`
	BagID      uint  `gorm:"index;not null"           json:"bag_id"`
	FoodItemID *uint `gorm:"index"                    json:"food_item_id,omitempty"`
	Portions   int   `gorm:"not null;default:1"       json:"portions"`
	Plates     int   `gorm:"not null;default:0"       json:"plates"`

	ItemName     string          `gorm:"not null"           json:"item_name"`
	ItemPrice    decimal.Decimal `gorm:"type:numeric(10,2)" json:"item_price"`
	ItemCategory string          `json:"item_category"`

	// PlateFee is the per-plate fee frozen at purchase time.
	PlateFee decimal.Decimal `gorm:"type:numeric(10,2)" json:"plate_fee"`
}

func (i *BagItem) IsFoodCategory() bool {
	return strings.EqualFold(i.ItemCategory, CategoryFood)
}

func (i *BagItem) FoodCost() decimal.Decimal {
	return i.ItemPrice.Mul(decimal.NewFromInt(int64(i.Portions)))
}

func (i *BagItem) PlateCost() decimal.Decimal {
	if !i.IsFoodCategory() || strings.EqualFold(i.ItemName, PlateItemName) {
		return decimal.Zero
	}
	return i.PlateFee.Mul(decimal.NewFromInt(int64(i.Plates)))
}

func (i *BagItem) Subtotal() decimal.Decimal {
	return i.FoodCost().Add(i.PlateCost())
}

// Order is a payment-confirmed artifact: it never exists in storage before its
// payment succeeds. Fees and VAT are snapshotted at creation, never recomputed
// from live settings.
type Order struct {
	ID              uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID          uint            `gorm:"index;not null"           json:"user_id"`
	Bags            []Bag           `gorm:"many2many:order_bags"     json:"bags"`
	DeliveryAddress string          `gorm:"not null"                 json:"delivery_address"`
	ContactPhone    string          `gorm:"not null"                 json:"contact_phone"`
	DeliveryFee     decimal.Decimal `gorm:"type:numeric(10,2)"       json:"delivery_fee"`
	ServiceCharge   decimal.Decimal `gorm:"type:numeric(10,2)"       json:"service_charge"`
	VATPercentage   decimal.Decimal `gorm:"type:numeric(5,2)"        json:"vat_percentage"`
	VATAmount       decimal.Decimal `gorm:"type:numeric(10,2)"       json:"vat_amount"`
	Status          string          `gorm:"not null;default:Pending" json:"status"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	DeliveredAt     *time.Time      `json:"delivered_at,omitempty"`
}

// Subtotal requires Bags (with Items) to be loaded.
func (o *Order) Subtotal() decimal.Decimal {
	total := decimal.Zero
	for i := range o.Bags {
		total = total.Add(o.Bags[i].TotalCost())
	}
	return total
}

func (o *Order) Total() decimal.Decimal {
	return o.Subtotal().Add(o.DeliveryFee).Add(o.ServiceCharge).Add(o.VATAmount)
}

func (o *Order) IsComplete() bool {
	if len(o.Bags) == 0 {
		return false
	}
	for i := range o.Bags {
		if len(o.Bags[i].Items) == 0 {
			return false
		}
	}
	if strings.TrimSpace(o.DeliveryAddress) == "" || strings.TrimSpace(o.ContactPhone) == "" {
		return false
	}
	return o.Total().GreaterThan(decimal.Zero)
}

type Payment struct {
	ID            uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID        uint            `gorm:"index;not null"           json:"user_id"`
	OrderID       *uint           `gorm:"uniqueIndex"              json:"order_id,omitempty"`
	Order         *Order          `json:"order,omitempty"`
	Reference     string          `gorm:"unique;not null"          json:"reference"`
	Amount        decimal.Decimal `gorm:"type:numeric(10,2)"       json:"amount"`
	Status        string          `gorm:"not null;default:pending" json:"status"`
	PaymentMethod string          `gorm:"not null;default:paystack" json:"payment_method"`
	PaymentType   string          `json:"payment_type,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type OrderNotification struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   uint      `gorm:"index;not null"           json:"order_id"`
	Message   string    `gorm:"not null"                 json:"message"`
	Seen      bool      `gorm:"not null;default:false"   json:"seen"`
	CreatedAt time.Time `json:"created_at"`
}

// SystemSetting rows hold platform tunables read on every price computation.
type SystemSetting struct {
	ID          uint            `gorm:"primaryKey;autoIncrement" json:"id"`
	SettingType string          `gorm:"unique;not null"          json:"setting_type"`
	Value       decimal.Decimal `gorm:"type:numeric(10,2)"       json:"value"`
	Description string          `json:"description,omitempty"`
	IsActive    bool            `gorm:"not null;default:true"    json:"is_active"`
	UpdatedBy   uint            `json:"updated_by,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}
