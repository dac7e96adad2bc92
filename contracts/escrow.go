package contracts

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TradeEscrowABI is the input ABI used to bind the trade escrow contract
const TradeEscrowABI = `[
{"type":"function","name":"createTrade","stateMutability":"payable","inputs":[{"name":"counterparty","type":"address"},{"name":"offered","type":"tuple[]","components":[{"name":"contractAddress","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"standard","type":"uint8"}]},{"name":"requested","type":"tuple[]","components":[{"name":"contractAddress","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"standard","type":"uint8"}]},{"name":"offeredValue","type":"uint256"},{"name":"requestedValue","type":"uint256"},{"name":"expiresAt","type":"uint256"}],"outputs":[{"name":"tradeId","type":"uint256"}]},
{"type":"function","name":"acceptTrade","stateMutability":"payable","inputs":[{"name":"tradeId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"declineTrade","stateMutability":"nonpayable","inputs":[{"name":"tradeId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"cancelTrade","stateMutability":"nonpayable","inputs":[{"name":"tradeId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"expireTrade","stateMutability":"nonpayable","inputs":[{"name":"tradeId","type":"uint256"}],"outputs":[]},
{"type":"function","name":"getTrade","stateMutability":"view","inputs":[{"name":"tradeId","type":"uint256"}],"outputs":[{"name":"","type":"tuple","components":[{"name":"id","type":"uint256"},{"name":"creator","type":"address"},{"name":"counterparty","type":"address"},{"name":"offered","type":"tuple[]","components":[{"name":"contractAddress","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"standard","type":"uint8"}]},{"name":"requested","type":"tuple[]","components":[{"name":"contractAddress","type":"address"},{"name":"tokenId","type":"uint256"},{"name":"amount","type":"uint256"},{"name":"standard","type":"uint8"}]},{"name":"offeredValue","type":"uint256"},{"name":"requestedValue","type":"uint256"},{"name":"expiresAt","type":"uint256"},{"name":"state","type":"uint8"}]}]},
{"type":"function","name":"protocolFee","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint256"}]},
{"type":"function","name":"setProtocolFee","stateMutability":"nonpayable","inputs":[{"name":"fee","type":"uint256"}],"outputs":[]},
{"type":"event","name":"TradeCreated","anonymous":false,"inputs":[{"name":"tradeId","type":"uint256","indexed":true},{"name":"creator","type":"address","indexed":true},{"name":"counterparty","type":"address","indexed":true}]}
]`

// Asset standards as encoded by the escrow contract
const (
	StandardERC721  uint8 = 0
	StandardERC1155 uint8 = 1
)

// TradeEscrowAsset is an auto-unpacked Asset tuple
type TradeEscrowAsset struct {
	ContractAddress common.Address
	TokenId         *big.Int
	Amount          *big.Int
	Standard        uint8
}

// TradeEscrowTrade is an auto-unpacked Trade tuple
type TradeEscrowTrade struct {
	Id             *big.Int
	Creator        common.Address
	Counterparty   common.Address
	Offered        []TradeEscrowAsset
	Requested      []TradeEscrowAsset
	OfferedValue   *big.Int
	RequestedValue *big.Int
	ExpiresAt      *big.Int
	State          uint8
}

// TradeEscrowTradeCreated is the TradeCreated event
type TradeEscrowTradeCreated struct {
	TradeId      *big.Int
	Creator      common.Address
	Counterparty common.Address
	Raw          types.Log
}

// TradeEscrow is a binding of the trade escrow contract
type TradeEscrow struct {
	address  common.Address
	abi      abi.ABI
	contract *bind.BoundContract
}

var tradeEscrowABI = mustParseABI(TradeEscrowABI)

// TradeEscrowParsedABI returns the parsed escrow ABI
func TradeEscrowParsedABI() abi.ABI {
	return tradeEscrowABI
}

// TradeCreatedTopic is the topic of the TradeCreated event
func TradeCreatedTopic() common.Hash {
	return tradeEscrowABI.Events["TradeCreated"].ID
}

// NewTradeEscrow creates a new binding of the escrow contract deployed at address
func NewTradeEscrow(address common.Address, backend bind.ContractBackend) *TradeEscrow {
	return &TradeEscrow{
		address:  address,
		abi:      tradeEscrowABI,
		contract: bind.NewBoundContract(address, tradeEscrowABI, backend, backend, backend),
	}
}

// Address returns the address of the bound contract
func (t *TradeEscrow) Address() common.Address {
	return t.address
}

func (t *TradeEscrow) CreateTrade(opts *bind.TransactOpts, counterparty common.Address, offered, requested []TradeEscrowAsset, offeredValue, requestedValue, expiresAt *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "createTrade", counterparty, offered, requested, offeredValue, requestedValue, expiresAt)
}

func (t *TradeEscrow) AcceptTrade(opts *bind.TransactOpts, tradeID *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "acceptTrade", tradeID)
}

func (t *TradeEscrow) DeclineTrade(opts *bind.TransactOpts, tradeID *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "declineTrade", tradeID)
}

func (t *TradeEscrow) CancelTrade(opts *bind.TransactOpts, tradeID *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "cancelTrade", tradeID)
}

func (t *TradeEscrow) ExpireTrade(opts *bind.TransactOpts, tradeID *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "expireTrade", tradeID)
}

func (t *TradeEscrow) SetProtocolFee(opts *bind.TransactOpts, fee *big.Int) (*types.Transaction, error) {
	return t.contract.Transact(opts, "setProtocolFee", fee)
}

// GetTrade reads a trade's on-chain record
func (t *TradeEscrow) GetTrade(opts *bind.CallOpts, tradeID *big.Int) (TradeEscrowTrade, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "getTrade", tradeID); err != nil {
		return TradeEscrowTrade{}, err
	}
	return *abi.ConvertType(out[0], new(TradeEscrowTrade)).(*TradeEscrowTrade), nil
}

// ProtocolFee reads the fee charged on top of the offered value
func (t *TradeEscrow) ProtocolFee(opts *bind.CallOpts) (*big.Int, error) {
	var out []interface{}
	if err := t.contract.Call(opts, &out, "protocolFee"); err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

// ParseTradeCreated decodes a TradeCreated log. It does not check which contract emitted it.
func ParseTradeCreated(log types.Log) (*TradeEscrowTradeCreated, error) {
	ev := tradeEscrowABI.Events["TradeCreated"]
	if len(log.Topics) != 4 {
		return nil, fmt.Errorf("expected 4 topics, got %d", len(log.Topics))
	}
	if log.Topics[0] != ev.ID {
		return nil, errors.New("event signature mismatch")
	}
	var indexed abi.Arguments
	for _, arg := range ev.Inputs {
		if arg.Indexed {
			indexed = append(indexed, arg)
		}
	}
	event := new(TradeEscrowTradeCreated)
	if err := abi.ParseTopics(event, indexed, log.Topics[1:]); err != nil {
		return nil, err
	}
	event.Raw = log
	return event, nil
}

func mustParseABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}
