package escrow

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"deedvault/core/events"
)

const (
	EventTypeListingCreated    = "listing.created"
	EventTypeListingDeposited  = "listing.deposited"
	EventTypeListingFunded     = "listing.funded"
	EventTypeInspectionUpdated = "listing.inspection_updated"
	EventTypeListingApproved   = "listing.approved"
	EventTypeListingFinalized  = "listing.finalized"
	EventTypeListingCancelled  = "listing.cancelled"
)

func newListingCreatedEvent(l *Listing) events.Event {
	attrs := listingAttrs(l)
	attrs["purchasePrice"] = l.PurchasePrice.String()
	attrs["escrowAmount"] = l.EscrowAmount.String()
	return events.Event{Type: EventTypeListingCreated, Attributes: attrs}
}

func newDepositedEvent(l *Listing, from common.Address, amount, balance *big.Int) events.Event {
	attrs := listingAttrs(l)
	attrs["from"] = from.Hex()
	attrs["amount"] = amount.String()
	attrs["balance"] = balance.String()
	return events.Event{Type: EventTypeListingDeposited, Attributes: attrs}
}

func newFundedEvent(l *Listing, balance *big.Int) events.Event {
	attrs := listingAttrs(l)
	attrs["balance"] = balance.String()
	return events.Event{Type: EventTypeListingFunded, Attributes: attrs}
}

func newInspectionEvent(l *Listing) events.Event {
	attrs := listingAttrs(l)
	attrs["passed"] = strconv.FormatBool(l.InspectionPassed)
	return events.Event{Type: EventTypeInspectionUpdated, Attributes: attrs}
}

func newApprovedEvent(l *Listing, approver common.Address) events.Event {
	attrs := listingAttrs(l)
	attrs["approver"] = approver.Hex()
	return events.Event{Type: EventTypeListingApproved, Attributes: attrs}
}

func newFinalizedEvent(l *Listing, payout *big.Int) events.Event {
	attrs := listingAttrs(l)
	attrs["payout"] = payout.String()
	attrs["outcome"] = l.Outcome.String()
	return events.Event{Type: EventTypeListingFinalized, Attributes: attrs}
}

func newCancelledEvent(l *Listing, recipient common.Address, refund *big.Int) events.Event {
	attrs := listingAttrs(l)
	attrs["recipient"] = recipient.Hex()
	attrs["refund"] = refund.String()
	attrs["outcome"] = l.Outcome.String()
	return events.Event{Type: EventTypeListingCancelled, Attributes: attrs}
}

func listingAttrs(l *Listing) map[string]string {
	attrs := make(map[string]string)
	if l == nil {
		return attrs
	}
	attrs["assetId"] = strconv.FormatUint(l.AssetID, 10)
	if l.HasBuyer() {
		attrs["buyer"] = l.Buyer.Hex()
	}
	return attrs
}
