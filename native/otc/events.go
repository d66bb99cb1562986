package otc

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"otcswap/core/types"
)

const (
	EventTypeSwapCreated            = "otc.swap.created"
	EventTypeSwapAccepted           = "otc.swap.accepted"
	EventTypeSwapCanceled           = "otc.swap.canceled"
	EventTypeSwapEmergencyWithdrawn = "otc.swap.emergency_withdrawn"
	EventTypeSwapPruned             = "otc.swap.pruned"
)

// SwapEvent wraps the canonical attribute payload for a ledger transition.
type SwapEvent struct {
	kind string
	evt  *types.Event
}

// EventType returns the event type label.
func (e *SwapEvent) EventType() string { return e.kind }

// Event returns the attribute payload.
func (e *SwapEvent) Event() *types.Event { return e.evt }

// NewSwapCreatedEvent returns the canonical event payload for a newly created
// swap.
func NewSwapCreatedEvent(s *Swap) *SwapEvent {
	return newSwapEvent(EventTypeSwapCreated, s, nil, nil)
}

// NewSwapAcceptedEvent returns the canonical event payload for a settled
// swap, including the fee collected on each leg.
func NewSwapAcceptedEvent(s *Swap, feeA, feeB *big.Int) *SwapEvent {
	return newSwapEvent(EventTypeSwapAccepted, s, feeA, feeB)
}

// NewSwapCanceledEvent returns the canonical event payload for a canceled
// swap.
func NewSwapCanceledEvent(s *Swap) *SwapEvent {
	return newSwapEvent(EventTypeSwapCanceled, s, nil, nil)
}

// NewSwapEmergencyWithdrawnEvent returns the payload for a shutdown-gated
// withdrawal.
func NewSwapEmergencyWithdrawnEvent(s *Swap) *SwapEvent {
	return newSwapEvent(EventTypeSwapEmergencyWithdrawn, s, nil, nil)
}

// NewSwapPrunedEvent returns the payload for an administratively pruned swap.
func NewSwapPrunedEvent(s *Swap) *SwapEvent {
	return newSwapEvent(EventTypeSwapPruned, s, nil, nil)
}

func newSwapEvent(eventType string, s *Swap, feeA, feeB *big.Int) *SwapEvent {
	attrs := make(map[string]string)
	if s != nil {
		attrs["id"] = strconv.FormatUint(s.ID, 10)
		attrs["initiator"] = hex.EncodeToString(s.Initiator[:])
		attrs["assetA"] = hex.EncodeToString(s.AssetA[:])
		attrs["assetB"] = hex.EncodeToString(s.AssetB[:])
		attrs["amountA"] = formatAmount(s.AmountA)
		attrs["amountB"] = formatAmount(s.AmountB)
		attrs["expiresAt"] = strconv.FormatInt(s.ExpiresAt, 10)
		attrs["status"] = s.Status.String()
		if s.Counterparty != ([20]byte{}) {
			attrs["counterparty"] = hex.EncodeToString(s.Counterparty[:])
		}
	}
	if feeA != nil && feeA.Sign() > 0 {
		attrs["feeA"] = feeA.String()
	}
	if feeB != nil && feeB.Sign() > 0 {
		attrs["feeB"] = feeB.String()
	}
	return &SwapEvent{kind: eventType, evt: &types.Event{Type: eventType, Attributes: attrs}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
