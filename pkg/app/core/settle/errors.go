package settle

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Kind groups failure reasons. errors.Is(err, SignatureError) matches any
// reason of that kind.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	SignatureError   Kind = "signature_error"
	TimeWindowError  Kind = "time_window_error"
	StateError       Kind = "state_error"
	EscrowError      Kind = "escrow_error"
	AggregationError Kind = "aggregation_error"
	RandomnessError  Kind = "randomness_error"
	AccessError      Kind = "access_error"
)

// Reason is a specific failure. Compare with errors.Is against the Err*
// values below.
type Reason struct {
	Kind Kind
	Code string
}

func (r *Reason) Error() string { return r.Code }

func (r *Reason) Is(target error) bool {
	k, ok := target.(Kind)
	return ok && k == r.Kind
}

var (
	ErrInvalidSignature           = &Reason{SignatureError, "invalid_signature"}
	ErrInvalidProof               = &Reason{SignatureError, "invalid_proof"}
	ErrStaleCounter               = &Reason{SignatureError, "stale_counter"}
	ErrConsiderationCountMismatch = &Reason{SignatureError, "consideration_count_mismatch"}

	ErrNotStarted = &Reason{TimeWindowError, "not_started"}
	ErrExpired    = &Reason{TimeWindowError, "expired"}

	ErrOrderCancelled         = &Reason{StateError, "order_cancelled"}
	ErrOrderFullyConsumed     = &Reason{StateError, "order_fully_consumed"}
	ErrPartialFillNotAllowed  = &Reason{StateError, "partial_fill_not_allowed"}
	ErrBadFraction            = &Reason{StateError, "bad_fraction"}
	ErrInexactFraction        = &Reason{StateError, "inexact_fraction"}
	ErrDuplicateOrder         = &Reason{StateError, "duplicate_order"}
	ErrInvalidItem            = &Reason{StateError, "invalid_item"}
	ErrNotReclaimable         = &Reason{StateError, "not_reclaimable"}

	ErrEscrowFailed       = &Reason{EscrowError, "escrow_failed"}
	ErrInsufficientEscrow = &Reason{EscrowError, "insufficient_escrow"}
	ErrEscrowMismatch     = &Reason{EscrowError, "escrow_mismatch"}
	ErrNotInBatch         = &Reason{EscrowError, "not_in_batch"}
	ErrSettlementFailed   = &Reason{EscrowError, "settlement_failed"}

	ErrUnresolvedItem          = &Reason{AggregationError, "unresolved_item"}
	ErrMismatchedComponents    = &Reason{AggregationError, "mismatched_components"}
	ErrComponentOutOfRange     = &Reason{AggregationError, "component_out_of_range"}
	ErrEmptyFulfillment        = &Reason{AggregationError, "empty_fulfillment"}
	ErrDuplicateComponent      = &Reason{AggregationError, "duplicate_component"}
	ErrInsufficientOffer       = &Reason{AggregationError, "insufficient_offer"}
	ErrUnresolvedCriteria      = &Reason{AggregationError, "unresolved_criteria"}
	ErrInvalidCriteriaResolver = &Reason{AggregationError, "invalid_criteria_resolver"}
	ErrInvalidCriteriaProof    = &Reason{AggregationError, "invalid_criteria_proof"}
	ErrInvalidPremium          = &Reason{AggregationError, "invalid_premium"}

	ErrUnknownToken              = &Reason{RandomnessError, "unknown_token"}
	ErrTokenNotRequested         = &Reason{RandomnessError, "token_not_requested"}
	ErrTokenNotEscrowed          = &Reason{RandomnessError, "token_not_escrowed"}
	ErrTokenAborted              = &Reason{RandomnessError, "token_aborted"}
	ErrRandomnessNotFulfilled    = &Reason{RandomnessError, "randomness_not_fulfilled"}
	ErrRandomnessAlreadyConsumed = &Reason{RandomnessError, "randomness_already_consumed"}
	ErrInvalidResolver           = &Reason{RandomnessError, "invalid_resolver"}

	ErrNotMember  = &Reason{AccessError, "not_member"}
	ErrNotOwner   = &Reason{AccessError, "not_owner"}
	ErrNotOfferer = &Reason{AccessError, "not_offerer"}
)

// Error is the structured failure returned by engine operations. OrderIndex
// and ItemIndex are -1 when they do not apply.
type Error struct {
	Reason     *Reason
	OrderHash  common.Hash
	OrderIndex int
	ItemIndex  int
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Reason.Code)
	if e.OrderHash != (common.Hash{}) {
		fmt.Fprintf(&b, ": order %s", e.OrderHash.Hex())
	}
	if e.OrderIndex >= 0 {
		fmt.Fprintf(&b, " [order %d", e.OrderIndex)
		if e.ItemIndex >= 0 {
			fmt.Fprintf(&b, " item %d", e.ItemIndex)
		}
		b.WriteString("]")
	} else if e.ItemIndex >= 0 {
		fmt.Fprintf(&b, " [item %d]", e.ItemIndex)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Reason}
	}
	return []error{e.Reason, e.Err}
}

func fail(r *Reason) *Error {
	return &Error{Reason: r, OrderIndex: -1, ItemIndex: -1}
}

func orderFail(r *Reason, idx int, h common.Hash) *Error {
	return &Error{Reason: r, OrderHash: h, OrderIndex: idx, ItemIndex: -1}
}

func itemFail(r *Reason, idx int, h common.Hash, item int) *Error {
	return &Error{Reason: r, OrderHash: h, OrderIndex: idx, ItemIndex: item}
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}
