package escrow

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SaleOutcome distinguishes the terminal states of a listing. A listing with
// OutcomeNone is still live.
type SaleOutcome uint8

const (
	OutcomeNone SaleOutcome = iota
	OutcomeSold
	OutcomeCancelled
)

// Valid reports whether the outcome value is within the supported range.
func (o SaleOutcome) Valid() bool {
	switch o {
	case OutcomeNone, OutcomeSold, OutcomeCancelled:
		return true
	default:
		return false
	}
}

func (o SaleOutcome) String() string {
	switch o {
	case OutcomeSold:
		return "sold"
	case OutcomeCancelled:
		return "cancelled"
	default:
		return "open"
	}
}

// Roles fixes the process-wide parties of an escrow instance. The buyer is
// per-listing and therefore not part of this set.
type Roles struct {
	Seller    common.Address
	Inspector common.Address
	Lender    common.Address
}

// Validate ensures every role is bound to a non-zero identity.
func (r Roles) Validate() error {
	if r.Seller == (common.Address{}) {
		return fmt.Errorf("escrow: seller address required")
	}
	if r.Inspector == (common.Address{}) {
		return fmt.Errorf("escrow: inspector address required")
	}
	if r.Lender == (common.Address{}) {
		return fmt.Errorf("escrow: lender address required")
	}
	return nil
}

// Listing captures the sale terms fixed at creation and the mutable escrow
// status of a single asset. The zero buyer address is the "unset" sentinel.
type Listing struct {
	AssetID          uint64
	Buyer            common.Address
	PurchasePrice    *big.Int
	EscrowAmount     *big.Int
	Listed           bool
	InspectionPassed bool
	Approvals        map[common.Address]bool
	Outcome          SaleOutcome
	CreatedAt        int64
	ClosedAt         int64
}

// HasBuyer reports whether a buyer has been designated or claimed.
func (l *Listing) HasBuyer() bool {
	return l != nil && l.Buyer != (common.Address{})
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the stored instance.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := *l
	clone.PurchasePrice = cloneBigInt(l.PurchasePrice)
	clone.EscrowAmount = cloneBigInt(l.EscrowAmount)
	clone.Approvals = make(map[common.Address]bool, len(l.Approvals))
	for addr, ok := range l.Approvals {
		clone.Approvals[addr] = ok
	}
	return &clone
}

// SanitizeListing validates and normalises a listing, returning a cloned
// instance with non-nil amounts and a non-nil approvals map. The original is
// not mutated.
func SanitizeListing(l *Listing) (*Listing, error) {
	if l == nil {
		return nil, fmt.Errorf("escrow: nil listing")
	}
	clone := l.Clone()
	if clone.PurchasePrice.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: purchase price must be positive")
	}
	if clone.EscrowAmount.Sign() < 0 {
		return nil, fmt.Errorf("escrow: escrow amount must be non-negative")
	}
	if clone.EscrowAmount.Cmp(clone.PurchasePrice) > 0 {
		return nil, ErrInvalidTerms
	}
	if !clone.Outcome.Valid() {
		return nil, fmt.Errorf("escrow: invalid outcome: %d", clone.Outcome)
	}
	if clone.Listed && clone.Outcome != OutcomeNone {
		return nil, fmt.Errorf("escrow: listed listing cannot carry a terminal outcome")
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
