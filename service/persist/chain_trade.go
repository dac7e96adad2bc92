package persist

import (
	"fmt"
	"math/big"
	"time"
)

// ChainTradeState mirrors the escrow contract's trade state enum
type ChainTradeState uint8

const (
	ChainTradeActive ChainTradeState = iota
	ChainTradeAccepted
	ChainTradeCancelled
	ChainTradeExpired
	ChainTradeDeclined
)

// ChainTrade is the authoritative on-chain record of an escrowed trade
type ChainTrade struct {
	ID             ChainTradeID    `json:"id"`
	Creator        Address         `json:"creator"`
	Counterparty   Address         `json:"counterparty"`
	Offered        []TradeAsset    `json:"offered"`
	Requested      []TradeAsset    `json:"requested"`
	OfferedValue   *big.Int        `json:"offered_value"`
	RequestedValue *big.Int        `json:"requested_value"`
	ExpiresAt      time.Time       `json:"expires_at"`
	State          ChainTradeState `json:"state"`
}

func (s ChainTradeState) String() string {
	switch s {
	case ChainTradeActive:
		return "Active"
	case ChainTradeAccepted:
		return "Accepted"
	case ChainTradeCancelled:
		return "Cancelled"
	case ChainTradeExpired:
		return "Expired"
	case ChainTradeDeclined:
		return "Declined"
	default:
		return fmt.Sprintf("Unknown(%d)", uint8(s))
	}
}

// IsTerminal reports whether escrow has been released
func (s ChainTradeState) IsTerminal() bool {
	switch s {
	case ChainTradeAccepted, ChainTradeCancelled, ChainTradeExpired, ChainTradeDeclined:
		return true
	}
	return false
}

// RecordStatus projects the chain state onto the off-chain status. Expired has no status of its
// own and is recorded as cancelled.
func (s ChainTradeState) RecordStatus() TradeStatus {
	switch s {
	case ChainTradeAccepted:
		return TradeStatusAccepted
	case ChainTradeDeclined:
		return TradeStatusDeclined
	case ChainTradeCancelled, ChainTradeExpired:
		return TradeStatusCancelled
	default:
		return TradeStatusPending
	}
}

// Contradicts reports whether a record status disagrees with the observed chain state
func (s ChainTradeState) Contradicts(status TradeStatus) bool {
	return s.RecordStatus() != status
}
