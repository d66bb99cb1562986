package registry

import (
	"encoding/hex"
	"strconv"

	"otcswap/core/types"
)

const (
	EventTypeTokenValidated   = "registry.token.validated"
	EventTypeTokenApproved    = "registry.token.approved"
	EventTypeTokenRemoved     = "registry.token.removed"
	EventTypeTokenBlacklisted = "registry.token.blacklisted"
	EventTypeScanProgress     = "registry.scan.progress"
)

// TokenValidatedEvent is emitted when the scan pipeline admits a new token.
type TokenValidatedEvent struct {
	ID    uint64
	Token [20]byte
}

func (TokenValidatedEvent) EventType() string { return EventTypeTokenValidated }

func (e *TokenValidatedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTokenValidated,
		Attributes: map[string]string{
			"id":    strconv.FormatUint(e.ID, 10),
			"token": hex.EncodeToString(e.Token[:]),
		},
	}
}

// TokenApprovedEvent is emitted when the manual allow-list is toggled.
type TokenApprovedEvent struct {
	Token [20]byte
	Flag  bool
}

func (TokenApprovedEvent) EventType() string { return EventTypeTokenApproved }

func (e *TokenApprovedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTokenApproved,
		Attributes: map[string]string{
			"token": hex.EncodeToString(e.Token[:]),
			"flag":  strconv.FormatBool(e.Flag),
		},
	}
}

// TokenRemovedEvent is emitted when a token leaves the validated set.
type TokenRemovedEvent struct {
	Token [20]byte
}

func (TokenRemovedEvent) EventType() string { return EventTypeTokenRemoved }

func (e *TokenRemovedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTokenRemoved,
		Attributes: map[string]string{
			"token": hex.EncodeToString(e.Token[:]),
		},
	}
}

// TokenBlacklistedEvent is emitted when the blacklist override changes.
type TokenBlacklistedEvent struct {
	Token [20]byte
	Flag  bool
}

func (TokenBlacklistedEvent) EventType() string { return EventTypeTokenBlacklisted }

func (e *TokenBlacklistedEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeTokenBlacklisted,
		Attributes: map[string]string{
			"token": hex.EncodeToString(e.Token[:]),
			"flag":  strconv.FormatBool(e.Flag),
		},
	}
}

// ScanProgressEvent reports the resumable cursor returned by a batch scan.
type ScanProgressEvent struct {
	Cursor    uint64
	Validated int
}

func (ScanProgressEvent) EventType() string { return EventTypeScanProgress }

func (e *ScanProgressEvent) Event() *types.Event {
	return &types.Event{
		Type: EventTypeScanProgress,
		Attributes: map[string]string{
			"cursor":    strconv.FormatUint(e.Cursor, 10),
			"validated": strconv.Itoa(e.Validated),
		},
	}
}
