package payment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/admosplace/food_ordering/internal/cart"
	"github.com/admosplace/food_ordering/internal/inventory"
	"github.com/admosplace/food_ordering/internal/models"
	"github.com/admosplace/food_ordering/internal/paystack"
)

type fakeGateway struct {
	mu          sync.Mutex
	status      string
	amount      decimal.Decimal
	channel     string
	verifyErr   error
	verifyCalls int
}

func (g *fakeGateway) Initialize(ctx context.Context, email string, amount decimal.Decimal, reference, callbackURL string) (*paystack.InitializeResult, error) {
	return &paystack.InitializeResult{
		AuthorizationURL: "https://checkout.example/" + reference,
		AccessCode:       "code_" + reference,
		Reference:        reference,
	}, nil
}

func (g *fakeGateway) Verify(ctx context.Context, reference string) (*paystack.VerifyResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.verifyCalls++
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	return &paystack.VerifyResult{Status: g.status, Amount: g.amount, Channel: g.channel}, nil
}

// memStore fakes the redis-backed snapshot and cart stores.
type memStore struct {
	mu      sync.Mutex
	snaps   map[string]*cart.Snapshot
	cleared []string
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]*cart.Snapshot)}
}

func (m *memStore) Stage(ctx context.Context, reference string, snap *cart.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[reference] = snap
	return nil
}

func (m *memStore) Staged(ctx context.Context, reference string) (*cart.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.snaps[reference]
	if !ok {
		return nil, cart.ErrSnapshotNotFound
	}
	return snap, nil
}

func (m *memStore) Discard(ctx context.Context, reference string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, reference)
	return nil
}

func (m *memStore) Clear(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cleared = append(m.cleared, sessionID)
	return nil
}

func initTestDB(t *testing.T) *gorm.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(
		&models.Category{}, &models.FoodItem{}, &models.Bag{}, &models.BagItem{},
		&models.Order{}, &models.Payment{}, &models.OrderNotification{},
	))
	return db
}

func seedFood(t *testing.T, db *gorm.DB, name string, price int64, portions int) *models.FoodItem {
	var cat models.Category
	require.NoError(t, db.Where(models.Category{Name: "food"}).FirstOrCreate(&cat).Error)

	item := models.FoodItem{
		Name:         name,
		Price:        decimal.NewFromInt(price),
		CategoryID:   cat.ID,
		Portions:     portions,
		Availability: portions > 0,
	}
	require.NoError(t, db.Create(&item).Error)
	return &item
}

// jollofSnapshot builds the standard test checkout: 2 x 1500 Jollof Rice plus
// one 50 plate, delivery 500, service 100, VAT 7.5% of 3050 = 228.75.
// Total 3878.75.
func jollofSnapshot(item *models.FoodItem) *cart.Snapshot {
	return &cart.Snapshot{
		UserID:    7,
		SessionID: "user:7",
		Bags: []cart.Bag{{
			ID:   "bag_1",
			Name: "Bag 1",
			Lines: []cart.Line{
				{
					ID:         "item_1",
					FoodItemID: item.ID,
					Name:       item.Name,
					Price:      item.Price,
					Quantity:   2,
					Category:   "food",
				},
				{
					ID:       "plates_bag_1",
					Name:     "Plates",
					Price:    decimal.NewFromInt(50),
					Quantity: 1,
					IsPlates: true,
				},
			},
		}},
		DeliveryAddress: "12 Gbotifa Street, Imota",
		ContactPhone:    "08012345678",
		DeliveryFee:     decimal.NewFromInt(500),
		ServiceCharge:   decimal.NewFromInt(100),
		VATPercentage:   decimal.NewFromFloat(7.5),
		VATAmount:       decimal.NewFromFloat(228.75),
		TakenAt:         time.Now().UTC(),
	}
}

var jollofTotal = decimal.NewFromFloat(3878.75)

func newService(db *gorm.DB, gw *fakeGateway, store *memStore) *Service {
	return &Service{
		DB:          db,
		Gateway:     gw,
		Snapshots:   store,
		Carts:       store,
		Ledger:      inventory.Ledger{},
		CallbackURL: "https://shop.example/callback",
	}
}

func orderCount(t *testing.T, db *gorm.DB) int64 {
	var n int64
	require.NoError(t, db.Model(&models.Order{}).Count(&n).Error)
	return n
}

func TestInitiateCreatesPendingPaymentAndNoOrder(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)
	require.NotEmpty(t, res.Reference)
	require.Contains(t, res.AuthorizationURL, res.Reference)
	require.True(t, res.Amount.Equal(jollofTotal))

	var p models.Payment
	require.NoError(t, db.Where("reference = ?", res.Reference).First(&p).Error)
	require.Equal(t, models.PaymentStatusPending, p.Status)
	require.Nil(t, p.OrderID)
	require.True(t, p.Amount.Equal(jollofTotal))

	// No order until a confirmation succeeds, and no stock is held yet.
	require.EqualValues(t, 0, orderCount(t, db))
	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 10, reloaded.Portions)
}

func TestConfirmMaterializesOrder(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	out, err := svc.Confirm(context.Background(), res.Reference)
	require.NoError(t, err)
	require.False(t, out.AlreadyConfirmed)
	require.NotNil(t, out.Order)

	require.Equal(t, models.PaymentStatusSuccess, out.Payment.Status)
	require.Equal(t, "card", out.Payment.PaymentType)
	require.True(t, out.Payment.Amount.Equal(jollofTotal))
	require.True(t, out.Order.Total().Equal(jollofTotal), "order total %s", out.Order.Total())

	// Frozen line fields and the folded plate charge.
	require.Len(t, out.Order.Bags, 1)
	require.Len(t, out.Order.Bags[0].Items, 1)
	bagItem := out.Order.Bags[0].Items[0]
	require.Equal(t, "Jollof Rice", bagItem.ItemName)
	require.True(t, bagItem.ItemPrice.Equal(decimal.NewFromInt(1500)))
	require.Equal(t, 2, bagItem.Portions)
	require.Equal(t, 1, bagItem.Plates)
	require.True(t, bagItem.PlateFee.Equal(decimal.NewFromInt(50)))

	// Stock debited exactly once.
	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 8, reloaded.Portions)

	// The session cart is gone and the snapshot consumed.
	require.Contains(t, store.cleared, "user:7")
	_, err = store.Staged(context.Background(), res.Reference)
	require.ErrorIs(t, err, cart.ErrSnapshotNotFound)

	var notes int64
	require.NoError(t, db.Model(&models.OrderNotification{}).Count(&notes).Error)
	require.EqualValues(t, 1, notes)
}

func TestConfirmIsIdempotent(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	first, err := svc.Confirm(context.Background(), res.Reference)
	require.NoError(t, err)

	// Redirect, webhook and manual verify all land here; replay it twice.
	for i := 0; i < 2; i++ {
		again, err := svc.Confirm(context.Background(), res.Reference)
		require.NoError(t, err)
		require.True(t, again.AlreadyConfirmed)
		require.Equal(t, first.Order.ID, again.Order.ID)
	}

	require.EqualValues(t, 1, orderCount(t, db))
	require.Equal(t, 1, gw.verifyCalls)

	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 8, reloaded.Portions)
}

func TestConcurrentConfirmationsCreateOneOrder(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Confirm(context.Background(), res.Reference)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.EqualValues(t, 1, orderCount(t, db))

	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 8, reloaded.Portions)
}

// stagedHookStore runs a hook once, right after the snapshot is first read.
// It opens the window between reading the snapshot and opening the
// materialization transaction, where another service instance can finish the
// same confirmation.
type stagedHookStore struct {
	*memStore
	once sync.Once
	hook func()
}

func (h *stagedHookStore) Staged(ctx context.Context, reference string) (*cart.Snapshot, error) {
	snap, err := h.memStore.Staged(ctx, reference)
	h.once.Do(h.hook)
	return snap, err
}

func TestConfirmAcrossServiceInstancesCreatesOneOrder(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	base := newMemStore()

	// Two service instances with separate in-process locks, as two replicas
	// behind a load balancer would have.
	other := newService(db, gw, base)

	var reference string
	var otherRes *ConfirmResult
	var otherErr error
	hooked := &stagedHookStore{memStore: base}
	hooked.hook = func() {
		otherRes, otherErr = other.Confirm(context.Background(), reference)
	}
	svc := newService(db, gw, base)
	svc.Snapshots = hooked

	init, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)
	reference = init.Reference

	res, err := svc.Confirm(context.Background(), reference)
	require.NoError(t, otherErr)
	require.NoError(t, err)

	// The instance that finished first owns the materialization; the loser's
	// order and reservations rolled back and it reports the winner's order.
	require.False(t, otherRes.AlreadyConfirmed)
	require.True(t, res.AlreadyConfirmed)
	require.Equal(t, otherRes.Order.ID, res.Order.ID)

	require.EqualValues(t, 1, orderCount(t, db))
	var p models.Payment
	require.NoError(t, db.Where("reference = ?", reference).First(&p).Error)
	require.NotNil(t, p.OrderID)
	require.Equal(t, otherRes.Order.ID, *p.OrderID)

	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 8, reloaded.Portions)
}

func TestFailedPaymentNeverCreatesOrder(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "failed"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), res.Reference)
	require.ErrorIs(t, err, ErrPaymentFailed)

	var p models.Payment
	require.NoError(t, db.Where("reference = ?", res.Reference).First(&p).Error)
	require.Equal(t, models.PaymentStatusFailed, p.Status)
	require.Nil(t, p.OrderID)

	require.EqualValues(t, 0, orderCount(t, db))

	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 10, reloaded.Portions)

	// A failed checkout's snapshot is not kept around.
	_, err = store.Staged(context.Background(), res.Reference)
	require.ErrorIs(t, err, cart.ErrSnapshotNotFound)
}

func TestStockFailureRollsBackEverything(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 1)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	// Snapshot wants 2 portions, only 1 remains by confirmation time.
	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), res.Reference)
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)

	// No partial state: no order, no bags, no debit, payment parked failed.
	require.EqualValues(t, 0, orderCount(t, db))
	var bags int64
	require.NoError(t, db.Model(&models.Bag{}).Count(&bags).Error)
	require.EqualValues(t, 0, bags)

	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 1, reloaded.Portions)

	var p models.Payment
	require.NoError(t, db.Where("reference = ?", res.Reference).First(&p).Error)
	require.Equal(t, models.PaymentStatusFailed, p.Status)
	require.Nil(t, p.OrderID)
}

func TestGatewayOutageLeavesPaymentPending(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{verifyErr: paystack.ErrGatewayUnavailable}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), res.Reference)
	require.ErrorIs(t, err, paystack.ErrGatewayUnavailable)

	// Still pending and retryable; the snapshot survives for the retry.
	var p models.Payment
	require.NoError(t, db.Where("reference = ?", res.Reference).First(&p).Error)
	require.Equal(t, models.PaymentStatusPending, p.Status)
	_, err = store.Staged(context.Background(), res.Reference)
	require.NoError(t, err)
}

func TestAmountMismatchAbortsMaterialization(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: decimal.NewFromInt(1), channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	_, err = svc.Confirm(context.Background(), res.Reference)
	var inconsistent *InconsistentStateError
	require.ErrorAs(t, err, &inconsistent)

	require.EqualValues(t, 0, orderCount(t, db))
	var reloaded models.FoodItem
	require.NoError(t, db.First(&reloaded, item.ID).Error)
	require.Equal(t, 10, reloaded.Portions)
}

func TestMenuPriceChangeAfterStagingDoesNotRepriceOrder(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	// The kitchen doubles the price while the customer is on the gateway page.
	require.NoError(t, db.Model(&models.FoodItem{}).Where("id = ?", item.ID).
		Update("price", decimal.NewFromInt(3000)).Error)

	out, err := svc.Confirm(context.Background(), res.Reference)
	require.NoError(t, err)
	require.True(t, out.Order.Bags[0].Items[0].ItemPrice.Equal(decimal.NewFromInt(1500)))
	require.True(t, out.Order.Total().Equal(jollofTotal))
}

func TestConfirmUnknownReference(t *testing.T) {
	db := initTestDB(t)
	svc := newService(db, &fakeGateway{}, newMemStore())

	_, err := svc.Confirm(context.Background(), "PAY-0-0")
	require.ErrorIs(t, err, ErrPaymentNotFound)
}

func TestSweepPendingConfirmsStalePayments(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)

	// Age the payment past the sweep cutoff.
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, db.Model(&models.Payment{}).
		Where("reference = ?", res.Reference).
		Update("created_at", old).Error)

	confirmed, err := svc.SweepPending(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, confirmed)
	require.EqualValues(t, 1, orderCount(t, db))

	// A second sweep finds nothing pending.
	confirmed, err = svc.SweepPending(context.Background(), 30*time.Minute)
	require.NoError(t, err)
	require.Equal(t, 0, confirmed)
}

func TestAuditAndFixPayments(t *testing.T) {
	db := initTestDB(t)
	item := seedFood(t, db, "Jollof Rice", 1500, 10)
	gw := &fakeGateway{status: "success", amount: jollofTotal, channel: "card"}
	store := newMemStore()
	svc := newService(db, gw, store)

	res, err := svc.Initiate(context.Background(), 7, "user@example.com", jollofSnapshot(item))
	require.NoError(t, err)
	out, err := svc.Confirm(context.Background(), res.Reference)
	require.NoError(t, err)

	findings, err := svc.AuditPayments(context.Background())
	require.NoError(t, err)
	require.Empty(t, findings)

	// Introduce drift the way a bad migration would.
	require.NoError(t, db.Model(&models.Payment{}).
		Where("id = ?", out.Payment.ID).
		Update("amount", decimal.NewFromInt(1000)).Error)

	findings, err = svc.AuditPayments(context.Background())
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, out.Order.ID, findings[0].OrderID)
	require.True(t, findings[0].Expected.Equal(jollofTotal))

	// Auditing never repairs on its own.
	var p models.Payment
	require.NoError(t, db.First(&p, out.Payment.ID).Error)
	require.True(t, p.Amount.Equal(decimal.NewFromInt(1000)))

	fixed, err := svc.FixInconsistentPayments(context.Background(), 99)
	require.NoError(t, err)
	require.Equal(t, 1, fixed)

	require.NoError(t, db.First(&p, out.Payment.ID).Error)
	require.True(t, p.Amount.Equal(jollofTotal))

	findings, err = svc.AuditPayments(context.Background())
	require.NoError(t, err)
	require.Empty(t, findings)
}

func TestAuditOrdersFlagsOrphans(t *testing.T) {
	db := initTestDB(t)
	svc := newService(db, &fakeGateway{}, newMemStore())

	// An order with no successful payment should never exist; plant one.
	order := models.Order{
		UserID:          3,
		DeliveryAddress: "somewhere",
		ContactPhone:    "080",
		Status:          models.OrderStatusPending,
	}
	require.NoError(t, db.Create(&order).Error)

	findings, err := svc.AuditOrders(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, findings)
}
