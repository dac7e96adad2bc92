package persist

import (
	"context"
	"database/sql/driver"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// MaxTradeMessageLength bounds the free text attached to a trade
const MaxTradeMessageLength = 500

const (
	// TradeStatusPending is a trade that is still open
	TradeStatusPending TradeStatus = "pending"
	// TradeStatusAccepted is a trade that the counterparty accepted
	TradeStatusAccepted TradeStatus = "accepted"
	// TradeStatusDeclined is a trade that the counterparty declined
	TradeStatusDeclined TradeStatus = "declined"
	// TradeStatusCancelled is a trade that was cancelled by its proposer, an admin, or by expiring
	TradeStatusCancelled TradeStatus = "cancelled"
)

const (
	// ResolutionNone is set while a trade is pending
	ResolutionNone Resolution = ""
	// ResolutionChainConfirmed is a transition backed by a confirmed receipt
	ResolutionChainConfirmed Resolution = "chain_confirmed"
	// ResolutionAdminOverride is a transition performed by an admin on someone else's trade
	ResolutionAdminOverride Resolution = "admin_override"
	// ResolutionExpired is a trade that passed its deadline. Its status is cancelled.
	ResolutionExpired Resolution = "expired"
	// ResolutionReconciled is a status repaired from the chain state
	ResolutionReconciled Resolution = "reconciled"
	// ResolutionOffChain is a transition of a trade that was never escrowed
	ResolutionOffChain Resolution = "offchain"
)

const (
	// TokenStandardERC721 is a non-fungible token contract
	TokenStandardERC721 TokenStandard = "ERC-721"
	// TokenStandardERC1155 is a multi token contract
	TokenStandardERC1155 TokenStandard = "ERC-1155"
)

// TradeStatus is the off-chain projection of a trade's state
type TradeStatus string

// Resolution records why a trade left the pending status
type Resolution string

// TokenStandard is the contract standard of a traded asset
type TokenStandard string

// ChainTradeID is the id assigned to a trade by the escrow contract
type ChainTradeID uint64

// TradeAsset is one asset on one side of a trade
type TradeAsset struct {
	Contract Address       `json:"contract" binding:"required"`
	TokenID  string        `json:"token_id" binding:"required"`
	Quantity uint64        `json:"quantity"`
	Standard TokenStandard `json:"standard"`
	// Vaulted assets are already held by a trusted custodian contract and need no operator approval
	Vaulted bool `json:"vaulted,omitempty"`
}

// TradeRecord is the mutable, human-shareable record of a trade
type TradeRecord struct {
	ID                 DBID          `json:"id"`
	CreationTime       time.Time     `json:"created_at"`
	LastUpdated        time.Time     `json:"last_updated"`
	ChainTradeID       *ChainTradeID `json:"chain_trade_id"`
	Proposer           Address       `json:"proposer"`
	Counterparty       Address       `json:"counterparty"`
	OfferedAssets      []TradeAsset  `json:"offered_assets"`
	RequestedAssets    []TradeAsset  `json:"requested_assets"`
	OfferedValue       *big.Int      `json:"offered_value"`
	RequestedValue     *big.Int      `json:"requested_value"`
	Status             TradeStatus   `json:"status"`
	Resolution         Resolution    `json:"resolution,omitempty"`
	Message            *string       `json:"message,omitempty"`
	ExpiresAt          time.Time     `json:"expires_at"`
	TransactionHash    *TxHash       `json:"transaction_hash,omitempty"`
	TransactionHistory []TxHash      `json:"transaction_history"`
}

// TradeUpdate is a partial update of a trade record. Nil fields are left untouched.
type TradeUpdate struct {
	Status          *TradeStatus
	Resolution      *Resolution
	TransactionHash *TxHash
}

// TradeFilter narrows admin listings of trades
type TradeFilter struct {
	Participant *Address
	Statuses    []TradeStatus
	OnChainOnly bool
	Limit       int64
	Offset      int64
}

// TradeRepository represents the record store of trades
type TradeRepository interface {
	Create(context.Context, TradeRecord) (DBID, error)
	GetByID(context.Context, DBID) (TradeRecord, error)
	GetByChainTradeID(context.Context, ChainTradeID) (TradeRecord, error)
	Update(context.Context, DBID, TradeUpdate) error
	GetByParticipant(context.Context, Address, []TradeStatus, int64) ([]TradeRecord, error)
	GetExpiredPending(context.Context, time.Time, int64) ([]TradeRecord, error)
	List(context.Context, TradeFilter) ([]TradeRecord, error)
}

// ErrTradeNotFound is returned when a trade record is not found by its ID
type ErrTradeNotFound struct {
	ID DBID
}

// ErrTradeNotFoundByChainID is returned when no trade record references a chain trade
type ErrTradeNotFoundByChainID struct {
	ChainTradeID ChainTradeID
}

func (e ErrTradeNotFound) Error() string {
	return fmt.Sprintf("trade not found with ID: %s", e.ID)
}

func (e ErrTradeNotFoundByChainID) Error() string {
	return fmt.Sprintf("trade not found with chain trade ID: %d", e.ChainTradeID)
}

// IsTerminal reports whether no further transition is possible
func (s TradeStatus) IsTerminal() bool {
	return s == TradeStatusAccepted || s == TradeStatusDeclined || s == TradeStatusCancelled
}

// IsValid reports whether s is a known status
func (s TradeStatus) IsValid() bool {
	return s == TradeStatusPending || s.IsTerminal()
}

func (s TradeStatus) String() string {
	return string(s)
}

// Value implements the driver.Valuer interface for the TradeStatus type
func (s TradeStatus) Value() (driver.Value, error) {
	return s.String(), nil
}

// ParseTradeStatuses parses a comma separated status filter
func ParseTradeStatuses(s string) ([]TradeStatus, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var statuses []TradeStatus
	for _, part := range strings.Split(s, ",") {
		status := TradeStatus(strings.ToLower(strings.TrimSpace(part)))
		if !status.IsValid() {
			return nil, fmt.Errorf("unknown trade status: %s", part)
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// ParseChainTradeID parses a decimal chain trade id
func ParseChainTradeID(s string) (ChainTradeID, error) {
	n, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok || n.Sign() < 0 || !n.IsUint64() {
		return 0, fmt.Errorf("invalid chain trade id: %s", s)
	}
	return ChainTradeID(n.Uint64()), nil
}

// BigInt returns the id as used by the escrow contract
func (c ChainTradeID) BigInt() *big.Int {
	return new(big.Int).SetUint64(uint64(c))
}

func (c ChainTradeID) String() string {
	return fmt.Sprintf("%d", uint64(c))
}

// IsOnChain reports whether the trade was escrowed
func (t TradeRecord) IsOnChain() bool {
	return t.ChainTradeID != nil
}

// IsParticipant reports whether addr is the proposer or the counterparty
func (t TradeRecord) IsParticipant(addr Address) bool {
	return t.Proposer.Equal(addr) || t.Counterparty.Equal(addr)
}

// IsExpired reports whether the trade's deadline has passed
func (t TradeRecord) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// ShareURL returns the shareable link of the trade
func (t TradeRecord) ShareURL(base string) string {
	return fmt.Sprintf("%s/trades/%s", strings.TrimRight(base, "/"), t.ID)
}

// Amount returns the quantity, defaulting to one for non-fungible tokens
func (a TradeAsset) Amount() uint64 {
	if a.Quantity == 0 {
		return 1
	}
	return a.Quantity
}

// ParseTokenID parses a decimal token id
func ParseTokenID(s string) (*big.Int, bool) {
	id, ok := new(big.Int).SetString(s, 10)
	if !ok || id.Sign() < 0 {
		return nil, false
	}
	return id, true
}
