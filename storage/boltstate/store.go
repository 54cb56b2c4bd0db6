// Package boltstate persists engine state in a single BoltDB file: one
// bucket for listings, one for the per-listing fund ledger and one for the
// payout log.
package boltstate

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"deedvault/native/escrow"
)

var (
	bucketListings = []byte("listings")
	bucketLedger   = []byte("ledger")
	bucketPayouts  = []byte("payouts")
)

// listingRecord mirrors escrow.Listing with JSON-friendly field encodings.
type listingRecord struct {
	AssetID          uint64             `json:"assetId"`
	Buyer            string             `json:"buyer,omitempty"`
	PurchasePrice    string             `json:"purchasePrice"`
	EscrowAmount     string             `json:"escrowAmount"`
	Listed           bool               `json:"listed"`
	InspectionPassed bool               `json:"inspectionPassed"`
	Approvals        map[string]bool    `json:"approvals,omitempty"`
	Outcome          escrow.SaleOutcome `json:"outcome"`
	CreatedAt        int64              `json:"createdAt"`
	ClosedAt         int64              `json:"closedAt,omitempty"`
}

// PayoutRecord captures one fund release from custody.
type PayoutRecord struct {
	ID        string    `json:"id"`
	Recipient string    `json:"recipient"`
	Amount    string    `json:"amount"`
	PaidAt    time.Time `json:"paidAt"`
}

// Store implements escrow.State and escrow.PayoutSink on top of BoltDB.
type Store struct {
	db    *bolt.DB
	nowFn func() time.Time
}

// Open initialises (and migrates) the BoltDB-backed store at path.
func Open(path string, options *bolt.Options) (*Store, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketListings, bucketLedger, bucketPayouts} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, nowFn: time.Now}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ListingPut sanitizes and persists the listing.
func (s *Store) ListingPut(l *escrow.Listing) error {
	sanitized, err := escrow.SanitizeListing(l)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(encodeListing(sanitized))
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketListings).Put(assetKey(sanitized.AssetID), encoded)
	})
}

// ListingGet fetches a listing by asset id.
func (s *Store) ListingGet(assetID uint64) (*escrow.Listing, bool, error) {
	var record listingRecord
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketListings).Get(assetKey(assetID))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &record)
	})
	if err != nil || !found {
		return nil, false, err
	}
	listing, err := decodeListing(record)
	if err != nil {
		return nil, false, err
	}
	return listing, true, nil
}

// LedgerCredit increases the custodial balance for a listing.
func (s *Store) LedgerCredit(assetID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("boltstate: credit must be positive")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLedger)
		balance := decodeBalance(bucket.Get(assetKey(assetID)))
		balance.Add(balance, amount)
		return bucket.Put(assetKey(assetID), balance.Bytes())
	})
}

// LedgerDebit decreases the custodial balance, refusing to go negative.
func (s *Store) LedgerDebit(assetID uint64, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("boltstate: debit must be positive")
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketLedger)
		balance := decodeBalance(bucket.Get(assetKey(assetID)))
		if balance.Cmp(amount) < 0 {
			return fmt.Errorf("boltstate: insufficient ledger balance for asset %d", assetID)
		}
		balance.Sub(balance, amount)
		return bucket.Put(assetKey(assetID), balance.Bytes())
	})
}

// LedgerBalance returns the custodial balance for a listing.
func (s *Store) LedgerBalance(assetID uint64) (*big.Int, error) {
	balance := big.NewInt(0)
	err := s.db.View(func(tx *bolt.Tx) error {
		balance = decodeBalance(tx.Bucket(bucketLedger).Get(assetKey(assetID)))
		return nil
	})
	return balance, err
}

// LedgerTotal sums the balances across all listings.
func (s *Store) LedgerTotal() (*big.Int, error) {
	total := big.NewInt(0)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketLedger).ForEach(func(_, value []byte) error {
			total.Add(total, decodeBalance(value))
			return nil
		})
	})
	return total, err
}

// Pay appends a payout record. The store never moves external money; it is
// the durable record of what left custody and for whom.
func (s *Store) Pay(_ context.Context, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("boltstate: payout amount must be non-negative")
	}
	record := PayoutRecord{
		ID:        uuid.NewString(),
		Recipient: to.Hex(),
		Amount:    amount.String(),
		PaidAt:    s.nowFn().UTC(),
	}
	encoded, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPayouts).Put([]byte(record.ID), encoded)
	})
}

// Payouts returns every recorded payout, in unspecified order.
func (s *Store) Payouts() ([]PayoutRecord, error) {
	var records []PayoutRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPayouts).ForEach(func(_, value []byte) error {
			var record PayoutRecord
			if err := json.Unmarshal(value, &record); err != nil {
				return err
			}
			records = append(records, record)
			return nil
		})
	})
	return records, err
}

func assetKey(assetID uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, assetID)
	return key
}

func decodeBalance(raw []byte) *big.Int {
	if len(raw) == 0 {
		return big.NewInt(0)
	}
	return new(big.Int).SetBytes(raw)
}

func encodeListing(l *escrow.Listing) listingRecord {
	record := listingRecord{
		AssetID:          l.AssetID,
		PurchasePrice:    l.PurchasePrice.String(),
		EscrowAmount:     l.EscrowAmount.String(),
		Listed:           l.Listed,
		InspectionPassed: l.InspectionPassed,
		Outcome:          l.Outcome,
		CreatedAt:        l.CreatedAt,
		ClosedAt:         l.ClosedAt,
	}
	if l.HasBuyer() {
		record.Buyer = l.Buyer.Hex()
	}
	if len(l.Approvals) > 0 {
		record.Approvals = make(map[string]bool, len(l.Approvals))
		for addr, ok := range l.Approvals {
			record.Approvals[addr.Hex()] = ok
		}
	}
	return record
}

func decodeListing(record listingRecord) (*escrow.Listing, error) {
	price, ok := new(big.Int).SetString(record.PurchasePrice, 10)
	if !ok {
		return nil, fmt.Errorf("boltstate: malformed purchase price %q", record.PurchasePrice)
	}
	earnest, ok := new(big.Int).SetString(record.EscrowAmount, 10)
	if !ok {
		return nil, fmt.Errorf("boltstate: malformed escrow amount %q", record.EscrowAmount)
	}
	listing := &escrow.Listing{
		AssetID:          record.AssetID,
		PurchasePrice:    price,
		EscrowAmount:     earnest,
		Listed:           record.Listed,
		InspectionPassed: record.InspectionPassed,
		Approvals:        make(map[common.Address]bool, len(record.Approvals)),
		Outcome:          record.Outcome,
		CreatedAt:        record.CreatedAt,
		ClosedAt:         record.ClosedAt,
	}
	if record.Buyer != "" {
		if !common.IsHexAddress(record.Buyer) {
			return nil, fmt.Errorf("boltstate: malformed buyer address %q", record.Buyer)
		}
		listing.Buyer = common.HexToAddress(record.Buyer)
	}
	for addr, approved := range record.Approvals {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("boltstate: malformed approver address %q", addr)
		}
		listing.Approvals[common.HexToAddress(addr)] = approved
	}
	return listing, nil
}
