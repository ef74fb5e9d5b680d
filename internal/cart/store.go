package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// ErrSnapshotNotFound is returned when a staged checkout snapshot has expired
// or was never taken for the given reference.
var ErrSnapshotNotFound = errors.New("checkout snapshot not found")

// Snapshot is an immutable copy of the cart taken at checkout-initiation time.
// It is the sole input to order materialization; later live-cart edits never
// touch it.
type Snapshot struct {
	UserID          uint            `json:"user_id"`
	SessionID       string          `json:"session_id"`
	Bags            []Bag           `json:"bags"`
	DeliveryAddress string          `json:"delivery_address"`
	ContactPhone    string          `json:"contact_phone"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
	ServiceCharge   decimal.Decimal `json:"service_charge"`
	VATPercentage   decimal.Decimal `json:"vat_percentage"`
	VATAmount       decimal.Decimal `json:"vat_amount"`
	TakenAt         time.Time       `json:"taken_at"`
}

// Store keeps per-session carts and staged checkout snapshots in redis.
type Store struct {
	RDB *redis.Client
	// TTL bounds how long an abandoned cart or unconfirmed snapshot survives.
	TTL time.Duration
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{RDB: rdb, TTL: 24 * time.Hour}
}

func cartKey(sessionID string) string     { return "cart:" + sessionID }
func snapshotKey(reference string) string { return "checkout:" + reference }

func (s *Store) Load(ctx context.Context, sessionID string) (*Cart, error) {
	data, err := s.RDB.Get(ctx, cartKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return New(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load cart %s: %w", sessionID, err)
	}

	var c Cart
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("decode cart %s: %w", sessionID, err)
	}
	c.ensureDefaultBag()
	return &c, nil
}

func (s *Store) Save(ctx context.Context, sessionID string, c *Cart) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", sessionID, err)
	}
	if err := s.RDB.Set(ctx, cartKey(sessionID), data, s.TTL).Err(); err != nil {
		return fmt.Errorf("save cart %s: %w", sessionID, err)
	}
	return nil
}

func (s *Store) Clear(ctx context.Context, sessionID string) error {
	if err := s.RDB.Del(ctx, cartKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("clear cart %s: %w", sessionID, err)
	}
	return nil
}

// Stage freezes a snapshot under the payment reference. Confirmation reads it
// back regardless of what happened to the live cart in between.
func (s *Store) Stage(ctx context.Context, reference string, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", reference, err)
	}
	if err := s.RDB.Set(ctx, snapshotKey(reference), data, s.TTL).Err(); err != nil {
		return fmt.Errorf("stage snapshot %s: %w", reference, err)
	}
	return nil
}

func (s *Store) Staged(ctx context.Context, reference string) (*Snapshot, error) {
	data, err := s.RDB.Get(ctx, snapshotKey(reference)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", reference, err)
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", reference, err)
	}
	return &snap, nil
}

func (s *Store) Discard(ctx context.Context, reference string) error {
	if err := s.RDB.Del(ctx, snapshotKey(reference)).Err(); err != nil {
		return fmt.Errorf("discard snapshot %s: %w", reference, err)
	}
	return nil
}
