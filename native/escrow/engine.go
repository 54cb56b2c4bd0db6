package escrow

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"deedvault/core/events"
)

// State is the persistence backend the engine mutates. Implementations must
// apply each call atomically; the engine guarantees per-listing serialization
// on top of that.
type State interface {
	ListingPut(*Listing) error
	ListingGet(assetID uint64) (*Listing, bool, error)
	LedgerCredit(assetID uint64, amount *big.Int) error
	LedgerDebit(assetID uint64, amount *big.Int) error
	LedgerBalance(assetID uint64) (*big.Int, error)
	LedgerTotal() (*big.Int, error)
}

// AssetRegistry is the external ownership registry the engine consults and
// instructs. It is invoked, never implemented, by this package.
type AssetRegistry interface {
	IsControlledByEscrow(ctx context.Context, assetID uint64) (bool, error)
	OwnerOf(ctx context.Context, assetID uint64) (common.Address, error)
	Transfer(ctx context.Context, assetID uint64, to common.Address) error
}

// PayoutSink receives funds released from custody on finalize or cancel. The
// ledger debit is the custody record; the sink is the outbound side.
type PayoutSink interface {
	Pay(ctx context.Context, to common.Address, amount *big.Int) error
}

// NoopPayoutSink accepts every payout without side effects.
type NoopPayoutSink struct{}

func (NoopPayoutSink) Pay(context.Context, common.Address, *big.Int) error { return nil }

// Engine orchestrates the listing -> inspection -> approval -> finalize or
// cancel lifecycle for assets held in escrow. The seller, inspector and
// lender roles are fixed at construction; the buyer is per-listing.
//
// Every mutating operation runs under a per-listing lock covering the whole
// check-authorization -> validate -> external-call -> commit sequence, so a
// concurrent finalize can never execute against stale preconditions.
type Engine struct {
	roles       Roles
	state       State
	registry    AssetRegistry
	payouts     PayoutSink
	emitter     events.Emitter
	openDeposit bool
	nowFn       func() int64

	mu    sync.Mutex
	locks map[uint64]*sync.Mutex
}

// NewEngine creates an engine bound to the given role set with a no-op
// emitter and payout sink. State and registry must be configured before use.
func NewEngine(roles Roles) (*Engine, error) {
	if err := roles.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		roles:   roles,
		payouts: NoopPayoutSink{},
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
		locks:   make(map[uint64]*sync.Mutex),
	}, nil
}

// SetState configures the persistence backend used by the engine.
func (e *Engine) SetState(state State) { e.state = state }

// SetRegistry configures the external asset registry client.
func (e *Engine) SetRegistry(registry AssetRegistry) { e.registry = registry }

// SetPayoutSink configures the outbound payout destination. Passing nil
// resets the sink to a no-op implementation.
func (e *Engine) SetPayoutSink(sink PayoutSink) {
	if sink == nil {
		e.payouts = NoopPayoutSink{}
		return
	}
	e.payouts = sink
}

// SetEmitter configures the event emitter. Passing nil resets the emitter to
// a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetOpenDeposit controls whether a listing created without a designated
// buyer may be claimed by the first depositor. When disabled, deposits
// against a buyerless listing fail with ErrUnauthorized.
func (e *Engine) SetOpenDeposit(open bool) { e.openDeposit = open }

// SetNowFunc overrides the time source. Primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Seller returns the fixed seller identity.
func (e *Engine) Seller() common.Address { return e.roles.Seller }

// Inspector returns the fixed inspector identity.
func (e *Engine) Inspector() common.Address { return e.roles.Inspector }

// Lender returns the fixed lender identity.
func (e *Engine) Lender() common.Address { return e.roles.Lender }

// IsSeller reports whether the caller holds the seller role.
func (e *Engine) IsSeller(caller common.Address) bool { return caller == e.roles.Seller }

// IsInspector reports whether the caller holds the inspector role.
func (e *Engine) IsInspector(caller common.Address) bool { return caller == e.roles.Inspector }

// IsLender reports whether the caller holds the lender role.
func (e *Engine) IsLender(caller common.Address) bool { return caller == e.roles.Lender }

// IsBuyer reports whether the caller is the designated buyer of the listing.
// A buyerless listing has no buyer yet, so this is false for everyone.
func (e *Engine) IsBuyer(assetID uint64, caller common.Address) (bool, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return false, err
	}
	return listing.HasBuyer() && listing.Buyer == caller, nil
}

// lockListing returns the mutex serializing mutations for the asset. Entries
// live for the process lifetime: dropping one while a waiter still holds the
// pointer would let two mutations on the same listing interleave.
func (e *Engine) lockListing(assetID uint64) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[assetID]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[assetID] = lock
	}
	return lock
}

func (e *Engine) loadListing(assetID uint64) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	listing, ok, err := e.state.ListingGet(assetID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return listing, nil
}

func (e *Engine) loadActive(assetID uint64) (*Listing, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return nil, err
	}
	if !listing.Listed {
		return nil, ErrListingClosed
	}
	return listing, nil
}

func (e *Engine) emit(evt events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(evt)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// List creates a listing for an asset the escrow already holds. Only the
// seller may list. The registry must report the asset as escrow-controlled,
// the earnest amount may not exceed the purchase price, and an asset with an
// active listing cannot be listed again. A closed listing may be re-listed
// once the asset is back under escrow control.
func (e *Engine) List(ctx context.Context, caller common.Address, assetID uint64, buyer common.Address, purchasePrice, escrowAmount *big.Int) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if e.registry == nil {
		return nil, errNilRegistry
	}
	if !e.IsSeller(caller) {
		return nil, ErrUnauthorized
	}
	price := cloneBigInt(purchasePrice)
	earnest := cloneBigInt(escrowAmount)
	if price.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: purchase price must be positive")
	}
	if earnest.Sign() < 0 {
		return nil, fmt.Errorf("escrow: escrow amount must be non-negative")
	}
	if earnest.Cmp(price) > 0 {
		return nil, ErrInvalidTerms
	}

	lock := e.lockListing(assetID)
	lock.Lock()
	defer lock.Unlock()

	existing, ok, err := e.state.ListingGet(assetID)
	if err != nil {
		return nil, err
	}
	if ok && existing.Listed {
		return nil, ErrAlreadyListed
	}
	held, err := e.registry.IsControlledByEscrow(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRegistryUnavailable, err)
	}
	if !held {
		return nil, ErrAssetNotEscrowed
	}

	listing := &Listing{
		AssetID:       assetID,
		Buyer:         buyer,
		PurchasePrice: price,
		EscrowAmount:  earnest,
		Listed:        true,
		Approvals:     make(map[common.Address]bool),
		CreatedAt:     e.now(),
	}
	if err := e.state.ListingPut(listing); err != nil {
		return nil, err
	}
	e.emit(newListingCreatedEvent(listing))
	return listing.Clone(), nil
}

// Get returns a copy of the listing for the asset id.
func (e *Engine) Get(assetID uint64) (*Listing, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

// IsListed reports whether the asset currently has an active listing.
func (e *Engine) IsListed(assetID uint64) (bool, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return false, err
	}
	return listing.Listed, nil
}

// BuyerOf returns the designated buyer, or the zero address when unset.
func (e *Engine) BuyerOf(assetID uint64) (common.Address, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return common.Address{}, err
	}
	return listing.Buyer, nil
}

// PurchasePriceOf returns the purchase price fixed at listing creation.
func (e *Engine) PurchasePriceOf(assetID uint64) (*big.Int, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(listing.PurchasePrice), nil
}

// EscrowAmountOf returns the earnest amount required from the buyer.
func (e *Engine) EscrowAmountOf(assetID uint64) (*big.Int, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return nil, err
	}
	return cloneBigInt(listing.EscrowAmount), nil
}

// Approval reports whether the identity has signed off on the sale.
func (e *Engine) Approval(assetID uint64, identity common.Address) (bool, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return false, err
	}
	return listing.Approvals[identity], nil
}

// InspectionPassed reports the inspector's current verdict for the listing.
func (e *Engine) InspectionPassed(assetID uint64) (bool, error) {
	listing, err := e.loadListing(assetID)
	if err != nil {
		return false, err
	}
	return listing.InspectionPassed, nil
}

// BalanceOf returns the custodial balance held for the listing.
func (e *Engine) BalanceOf(assetID uint64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	if _, err := e.loadListing(assetID); err != nil {
		return nil, err
	}
	return e.state.LedgerBalance(assetID)
}

// Balance returns the total custodial balance across all listings.
func (e *Engine) Balance() (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.state.LedgerTotal()
}

// DepositEarnest credits the buyer's earnest deposit. The amount must equal
// the listing's escrow amount exactly. When the listing has no designated
// buyer and open deposits are enabled, the caller claims the buyer role.
func (e *Engine) DepositEarnest(ctx context.Context, assetID uint64, caller common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	lock := e.lockListing(assetID)
	lock.Lock()
	defer lock.Unlock()

	listing, err := e.loadActive(assetID)
	if err != nil {
		return err
	}
	claiming := false
	switch {
	case listing.HasBuyer():
		if listing.Buyer != caller {
			return ErrUnauthorized
		}
	case e.openDeposit:
		if caller == (common.Address{}) {
			return ErrUnauthorized
		}
		claiming = true
	default:
		return ErrUnauthorized
	}
	amt := cloneBigInt(amount)
	if amt.Cmp(listing.EscrowAmount) != 0 {
		return ErrInsufficientDeposit
	}
	if err := e.state.LedgerCredit(assetID, amt); err != nil {
		return err
	}
	if claiming {
		listing.Buyer = caller
		if err := e.state.ListingPut(listing); err != nil {
			// Roll the credit back so a failed claim leaves no trace.
			_ = e.state.LedgerDebit(assetID, amt)
			return err
		}
	}
	balance, err := e.state.LedgerBalance(assetID)
	if err != nil {
		return err
	}
	e.emit(newDepositedEvent(listing, caller, amt, balance))
	if balance.Cmp(listing.PurchasePrice) >= 0 {
		e.emit(newFundedEvent(listing, balance))
	}
	return nil
}

// FundTransfer credits an unrestricted top-up, typically the lender covering
// the remainder between the earnest deposit and the purchase price.
func (e *Engine) FundTransfer(ctx context.Context, assetID uint64, caller common.Address, amount *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	lock := e.lockListing(assetID)
	lock.Lock()
	defer lock.Unlock()

	listing, err := e.loadActive(assetID)
	if err != nil {
		return err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("escrow: transfer amount must be positive")
	}
	if err := e.state.LedgerCredit(assetID, amt); err != nil {
		return err
	}
	balance, err := e.state.LedgerBalance(assetID)
	if err != nil {
		return err
	}
	e.emit(newDepositedEvent(listing, caller, amt, balance))
	if balance.Cmp(listing.PurchasePrice) >= 0 {
		e.emit(newFundedEvent(listing, balance))
	}
	return nil
}

// UpdateInspectionStatus records the inspector's verdict. The flag is
// repeatable in both directions until the listing closes, unlike approvals.
func (e *Engine) UpdateInspectionStatus(assetID uint64, caller common.Address, passed bool) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if !e.IsInspector(caller) {
		return ErrUnauthorized
	}
	lock := e.lockListing(assetID)
	lock.Lock()
	defer lock.Unlock()

	listing, err := e.loadActive(assetID)
	if err != nil {
		return err
	}
	listing.InspectionPassed = passed
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(newInspectionEvent(listing))
	return nil
}

// ApproveSale records the caller's sign-off. Only the designated buyer, the
// seller and the lender may approve. Approvals are monotonic; repeating the
// call is a no-op, not an error.
func (e *Engine) ApproveSale(assetID uint64, caller common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	lock := e.lockListing(assetID)
	lock.Lock()
	defer lock.Unlock()

	listing, err := e.loadActive(assetID)
	if err != nil {
		return err
	}
	authorized := e.IsSeller(caller) || e.IsLender(caller) ||
		(listing.HasBuyer() && listing.Buyer == caller)
	if !authorized {
		return ErrUnauthorized
	}
	if listing.Approvals[caller] {
		return nil
	}
	listing.Approvals[caller] = true
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(newApprovedEvent(listing, caller))
	return nil
}

// FinalizeSale settles the listing: the asset moves from escrow custody to
// the buyer and the full custodial balance pays out to the seller. Only the
// seller may finalize, and only when the inspection has passed, the buyer,
// seller and lender have all approved, and the balance covers the purchase
// price. The registry transfer is attempted before any local mutation; if it
// fails the whole operation fails with ErrExternalTransferFailed and no
// funds move.
func (e *Engine) FinalizeSale(ctx context.Context, assetID uint64, caller common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	if !e.IsSeller(caller) {
		return ErrUnauthorized
	}
	lock := e.lockListing(assetID)
	lock.Lock()
	defer lock.Unlock()

	listing, err := e.loadActive(assetID)
	if err != nil {
		return err
	}
	if !listing.InspectionPassed {
		return &PreconditionError{Gate: GateInspection}
	}
	if !listing.HasBuyer() ||
		!listing.Approvals[listing.Buyer] ||
		!listing.Approvals[e.roles.Seller] ||
		!listing.Approvals[e.roles.Lender] {
		return &PreconditionError{Gate: GateApprovals}
	}
	balance, err := e.state.LedgerBalance(assetID)
	if err != nil {
		return err
	}
	if balance.Cmp(listing.PurchasePrice) < 0 {
		return &PreconditionError{Gate: GateFunds}
	}

	// External effect first: custody of the asset moves to the buyer. On
	// failure the listing and ledger stay exactly as they were.
	if err := e.registry.Transfer(ctx, assetID, listing.Buyer); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalTransferFailed, err)
	}
	if err := e.payouts.Pay(ctx, e.roles.Seller, balance); err != nil {
		return fmt.Errorf("%w: seller payout: %v", ErrExternalTransferFailed, err)
	}
	if err := e.state.LedgerDebit(assetID, balance); err != nil {
		return err
	}
	listing.Listed = false
	listing.Outcome = OutcomeSold
	listing.ClosedAt = e.now()
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(newFinalizedEvent(listing, balance))
	return nil
}

// CancelSale aborts the listing. Only the buyer or the seller may cancel.
// When the inspection has not passed the custodial balance refunds to the
// buyer, otherwise it pays out to the seller. The asset returns to the
// seller through the registry before any local mutation commits.
func (e *Engine) CancelSale(ctx context.Context, assetID uint64, caller common.Address) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.registry == nil {
		return errNilRegistry
	}
	lock := e.lockListing(assetID)
	lock.Lock()
	defer lock.Unlock()

	listing, err := e.loadActive(assetID)
	if err != nil {
		return err
	}
	authorized := e.IsSeller(caller) || (listing.HasBuyer() && listing.Buyer == caller)
	if !authorized {
		return ErrUnauthorized
	}
	balance, err := e.state.LedgerBalance(assetID)
	if err != nil {
		return err
	}
	recipient := e.roles.Seller
	if !listing.InspectionPassed && listing.HasBuyer() {
		recipient = listing.Buyer
	}

	if err := e.registry.Transfer(ctx, assetID, e.roles.Seller); err != nil {
		return fmt.Errorf("%w: %v", ErrExternalTransferFailed, err)
	}
	if balance.Sign() > 0 {
		if err := e.payouts.Pay(ctx, recipient, balance); err != nil {
			return fmt.Errorf("%w: refund payout: %v", ErrExternalTransferFailed, err)
		}
		if err := e.state.LedgerDebit(assetID, balance); err != nil {
			return err
		}
	}
	listing.Listed = false
	listing.Outcome = OutcomeCancelled
	listing.ClosedAt = e.now()
	if err := e.state.ListingPut(listing); err != nil {
		return err
	}
	e.emit(newCancelledEvent(listing, recipient, balance))
	return nil
}
