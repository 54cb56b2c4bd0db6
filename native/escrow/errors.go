package escrow

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthorized is returned when the caller does not hold the role a
	// mutating operation requires. No state is touched before the check.
	ErrUnauthorized = errors.New("escrow: unauthorized caller")
	// ErrNotFound is returned for an unknown asset id.
	ErrNotFound = errors.New("escrow: listing not found")
	// ErrAlreadyListed is returned when creating a listing over an asset that
	// is already actively listed.
	ErrAlreadyListed = errors.New("escrow: asset already listed")
	// ErrListingClosed is returned when mutating a listing that has reached a
	// terminal outcome.
	ErrListingClosed = errors.New("escrow: listing is closed")
	// ErrInvalidTerms is returned when the earnest amount exceeds the
	// purchase price at creation.
	ErrInvalidTerms = errors.New("escrow: escrow amount exceeds purchase price")
	// ErrAssetNotEscrowed is returned when the registry does not report the
	// asset as held by this escrow.
	ErrAssetNotEscrowed = errors.New("escrow: asset not held by escrow")
	// ErrRegistryUnavailable is returned when an ownership query against the
	// registry fails, as opposed to a rejected transfer instruction.
	ErrRegistryUnavailable = errors.New("escrow: registry query failed")
	// ErrInsufficientDeposit is returned when an earnest deposit does not
	// match the required escrow amount exactly.
	ErrInsufficientDeposit = errors.New("escrow: deposit must equal the escrow amount")
	// ErrPreconditionNotMet gates finalize; the wrapping PreconditionError
	// names the unmet gate.
	ErrPreconditionNotMet = errors.New("escrow: precondition not met")
	// ErrExternalTransferFailed is returned when the asset registry or the
	// payout sink rejects a transfer. Local state is never mutated first.
	ErrExternalTransferFailed = errors.New("escrow: external transfer failed")

	errNilState    = errors.New("escrow engine: state not configured")
	errNilRegistry = errors.New("escrow engine: asset registry not configured")
)

// Gate identifiers reported by PreconditionError.
const (
	GateInspection = "inspection"
	GateApprovals  = "approvals"
	GateFunds      = "funds"
)

// PreconditionError reports which finalize gate was not satisfied. It unwraps
// to ErrPreconditionNotMet so callers can match the whole class.
type PreconditionError struct {
	Gate string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("escrow: precondition not met: %s", e.Gate)
}

func (e *PreconditionError) Unwrap() error { return ErrPreconditionNotMet }
