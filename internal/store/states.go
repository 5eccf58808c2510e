package store

import (
	"fmt"
	"strings"
)

// MintState is the lifecycle of one mint operation's ledger row.
type MintState string

const (
	MintStateRequested     MintState = "requested"
	MintStateAwaitingChain MintState = "awaiting_chain"
	MintStateTokenAssigned MintState = "token_assigned"
	MintStateFailed        MintState = "failed"
)

var mintTransitions = map[MintState][]MintState{
	MintStateRequested:     {MintStateAwaitingChain, MintStateFailed},
	MintStateAwaitingChain: {MintStateTokenAssigned, MintStateFailed},
}

// CanTransition reports whether the state machine allows moving to next.
func (s MintState) CanTransition(next MintState) bool {
	for _, allowed := range mintTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s MintState) Terminal() bool {
	return len(mintTransitions[s]) == 0
}

// TransferState is the lifecycle of one transfer operation's ledger row.
type TransferState string

const (
	TransferStateRequested      TransferState = "requested"
	TransferStateCurrencySent   TransferState = "currency_sent"
	TransferStateTokenDelivered TransferState = "token_delivered"
	// TransferStateCompensating is terminal on the row: compensation ends by
	// deleting it, so there is no later state to record.
	TransferStateCompensating TransferState = "compensating"
)

var transferTransitions = map[TransferState][]TransferState{
	TransferStateRequested:    {TransferStateCurrencySent},
	TransferStateCurrencySent: {TransferStateTokenDelivered, TransferStateCompensating},
}

// CanTransition reports whether the state machine allows moving to next.
func (s TransferState) CanTransition(next TransferState) bool {
	for _, allowed := range transferTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether the state admits no further transitions.
func (s TransferState) Terminal() bool {
	return len(transferTransitions[s]) == 0
}

// BurnState is the lifecycle of one burn operation's ledger row.
type BurnState string

const (
	BurnStateRequested BurnState = "requested"
	BurnStateBurned    BurnState = "burned"
	BurnStateFailed    BurnState = "failed"
)

// CanTransition reports whether the state machine allows moving to next.
func (s BurnState) CanTransition(next BurnState) bool {
	return s == BurnStateRequested && (next == BurnStateBurned || next == BurnStateFailed)
}

// Terminal reports whether the state admits no further transitions.
func (s BurnState) Terminal() bool {
	return s != BurnStateRequested
}

// AssetState is the sale lifecycle of a marketplace asset.
type AssetState string

const (
	AssetStateDraft  AssetState = "draft"
	AssetStateOnSale AssetState = "on_sale"
	AssetStateSold   AssetState = "sold"
)

// ParseMintState validates a stored mint state value.
func ParseMintState(v string) (MintState, error) {
	switch s := MintState(v); s {
	case MintStateRequested, MintStateAwaitingChain, MintStateTokenAssigned, MintStateFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown mint state %q", v)
}

// ParseTransferState validates a stored transfer state value.
func ParseTransferState(v string) (TransferState, error) {
	switch s := TransferState(v); s {
	case TransferStateRequested, TransferStateCurrencySent, TransferStateTokenDelivered,
		TransferStateCompensating:
		return s, nil
	}
	return "", fmt.Errorf("unknown transfer state %q", v)
}

// ParseBurnState validates a stored burn state value.
func ParseBurnState(v string) (BurnState, error) {
	switch s := BurnState(v); s {
	case BurnStateRequested, BurnStateBurned, BurnStateFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown burn state %q", v)
}

// mintStatesAllowing returns the states a row may hold for next to be
// written: the transition sources plus next itself, so a retried delivery
// reasserting the state it already reached is not an error.
func mintStatesAllowing(next MintState) []MintState {
	allowed := []MintState{next}
	for _, s := range []MintState{MintStateRequested, MintStateAwaitingChain, MintStateTokenAssigned, MintStateFailed} {
		if s.CanTransition(next) {
			allowed = append(allowed, s)
		}
	}
	return allowed
}

func transferStatesAllowing(next TransferState) []TransferState {
	allowed := []TransferState{next}
	for _, s := range []TransferState{TransferStateRequested, TransferStateCurrencySent, TransferStateTokenDelivered, TransferStateCompensating} {
		if s.CanTransition(next) {
			allowed = append(allowed, s)
		}
	}
	return allowed
}

func burnStatesAllowing(next BurnState) []BurnState {
	allowed := []BurnState{next}
	for _, s := range []BurnState{BurnStateRequested, BurnStateBurned, BurnStateFailed} {
		if s.CanTransition(next) {
			allowed = append(allowed, s)
		}
	}
	return allowed
}

// stateInList renders states as a SQL IN list. The values are closed enums,
// never user input.
func stateInList[S ~string](states []S) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = "'" + string(s) + "'"
	}
	return strings.Join(parts, ", ")
}
