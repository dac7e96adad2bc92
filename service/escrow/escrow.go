package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/contracts"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/rpc"
	"github.com/SplitFi/go-barter/service/signer"
)

const defaultPollInterval = 2 * time.Second

// ErrReceiptNotFound is returned when the node has no receipt for a transaction
var ErrReceiptNotFound = errors.New("transaction receipt not found")

// ErrTradeNotFound is returned when the contract has no trade with the requested id
type ErrTradeNotFound struct {
	ID persist.ChainTradeID
}

func (e ErrTradeNotFound) Error() string {
	return fmt.Sprintf("chain trade %d not found", e.ID)
}

// ErrReverted is returned when a transaction was mined but failed
type ErrReverted struct {
	TxHash persist.TxHash
}

func (e ErrReverted) Error() string {
	return fmt.Sprintf("transaction %s reverted", e.TxHash)
}

// ErrConfirmationTimeout is returned when a transaction's receipt was not observed in time.
// The transaction may still land.
type ErrConfirmationTimeout struct {
	TxHash persist.TxHash
	Err    error
}

func (e ErrConfirmationTimeout) Error() string {
	return fmt.Sprintf("confirmation of %s not observed: %s", e.TxHash, e.Err)
}

func (e ErrConfirmationTimeout) Unwrap() error {
	return e.Err
}

// Receipt is the outcome of a mined transaction
type Receipt struct {
	TxHash      persist.TxHash
	BlockNumber uint64
	Succeeded   bool
	Logs        []*types.Log
}

// CreateTradeParams are the arguments of createTrade. Fee is attached on top of OfferedValue.
type CreateTradeParams struct {
	Counterparty   persist.Address
	Offered        []persist.TradeAsset
	Requested      []persist.TradeAsset
	OfferedValue   *big.Int
	RequestedValue *big.Int
	ExpiresAt      time.Time
	Fee            *big.Int
}

// Gateway is the operation set of the on-chain trading contract. State changing operations
// return as soon as the transaction is submitted; callers must WaitConfirmed before treating the
// transition as settled. Nothing is retried.
type Gateway interface {
	EscrowAddress() persist.Address
	CreateTrade(context.Context, signer.Signer, CreateTradeParams) (persist.TxHash, error)
	AcceptTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID, payment *big.Int) (persist.TxHash, error)
	DeclineTrade(context.Context, signer.Signer, persist.ChainTradeID) (persist.TxHash, error)
	CancelTrade(context.Context, signer.Signer, persist.ChainTradeID) (persist.TxHash, error)
	ExpireTrade(context.Context, signer.Signer, persist.ChainTradeID) (persist.TxHash, error)
	ReadTrade(context.Context, persist.ChainTradeID) (persist.ChainTrade, error)
	WaitConfirmed(context.Context, persist.TxHash) (Receipt, error)
	TransactionReceipt(context.Context, persist.TxHash) (Receipt, error)
	ProtocolFee(context.Context) (*big.Int, error)
	SetProtocolFee(context.Context, signer.Signer, *big.Int) (persist.TxHash, error)
	IsApprovedForAll(ctx context.Context, collection, owner persist.Address) (bool, error)
	SetApprovalForAll(ctx context.Context, s signer.Signer, collection persist.Address) (persist.TxHash, error)
}

// Backend is what the gateway needs from a node
type Backend interface {
	bind.ContractBackend
	rpc.ReadBackend
}

// EthGateway is the Gateway backed by a JSON-RPC node
type EthGateway struct {
	backend      Backend
	reader       *rpc.Reader
	escrow       *contracts.TradeEscrow
	pollInterval time.Duration
}

// NewEthGateway binds the escrow contract deployed at escrowAddress
func NewEthGateway(backend Backend, escrowAddress persist.Address) *EthGateway {
	return &EthGateway{
		backend:      backend,
		reader:       rpc.NewReader(backend),
		escrow:       contracts.NewTradeEscrow(escrowAddress.Address(), backend),
		pollInterval: defaultPollInterval,
	}
}

func (g *EthGateway) EscrowAddress() persist.Address {
	return persist.AddressFrom(g.escrow.Address())
}

func (g *EthGateway) CreateTrade(ctx context.Context, s signer.Signer, p CreateTradeParams) (persist.TxHash, error) {
	offered, err := toContractAssets(p.Offered)
	if err != nil {
		return "", err
	}
	requested, err := toContractAssets(p.Requested)
	if err != nil {
		return "", err
	}
	return g.transact(ctx, s, "createTrade", attachedValue(p.OfferedValue, p.Fee), func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.escrow.CreateTrade(opts, p.Counterparty.Address(), offered, requested, orZero(p.OfferedValue), orZero(p.RequestedValue), big.NewInt(p.ExpiresAt.Unix()))
	})
}

func (g *EthGateway) AcceptTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID, payment *big.Int) (persist.TxHash, error) {
	return g.transact(ctx, s, "acceptTrade", payment, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.escrow.AcceptTrade(opts, id.BigInt())
	})
}

func (g *EthGateway) DeclineTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID) (persist.TxHash, error) {
	return g.transact(ctx, s, "declineTrade", nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.escrow.DeclineTrade(opts, id.BigInt())
	})
}

func (g *EthGateway) CancelTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID) (persist.TxHash, error) {
	return g.transact(ctx, s, "cancelTrade", nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.escrow.CancelTrade(opts, id.BigInt())
	})
}

func (g *EthGateway) ExpireTrade(ctx context.Context, s signer.Signer, id persist.ChainTradeID) (persist.TxHash, error) {
	return g.transact(ctx, s, "expireTrade", nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.escrow.ExpireTrade(opts, id.BigInt())
	})
}

func (g *EthGateway) SetProtocolFee(ctx context.Context, s signer.Signer, fee *big.Int) (persist.TxHash, error) {
	return g.transact(ctx, s, "setProtocolFee", nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return g.escrow.SetProtocolFee(opts, fee)
	})
}

func (g *EthGateway) SetApprovalForAll(ctx context.Context, s signer.Signer, collection persist.Address) (persist.TxHash, error) {
	c := contracts.NewOperatorApproval(collection.Address(), g.backend)
	return g.transact(ctx, s, "setApprovalForAll", nil, func(opts *bind.TransactOpts) (*types.Transaction, error) {
		return c.SetApprovalForAll(opts, g.escrow.Address(), true)
	})
}

func (g *EthGateway) IsApprovedForAll(ctx context.Context, collection, owner persist.Address) (bool, error) {
	c := contracts.NewOperatorApproval(collection.Address(), g.backend)
	var approved bool
	err := g.reader.Do(ctx, func(ctx context.Context) error {
		var err error
		approved, err = c.IsApprovedForAll(&bind.CallOpts{Context: ctx}, owner.Address(), g.escrow.Address())
		return err
	})
	return approved, err
}

func (g *EthGateway) ProtocolFee(ctx context.Context) (*big.Int, error) {
	var fee *big.Int
	err := g.reader.Do(ctx, func(ctx context.Context) error {
		var err error
		fee, err = g.escrow.ProtocolFee(&bind.CallOpts{Context: ctx})
		return err
	})
	return fee, err
}

func (g *EthGateway) ReadTrade(ctx context.Context, id persist.ChainTradeID) (persist.ChainTrade, error) {
	var raw contracts.TradeEscrowTrade
	err := g.reader.Do(ctx, func(ctx context.Context) error {
		var err error
		raw, err = g.escrow.GetTrade(&bind.CallOpts{Context: ctx}, id.BigInt())
		return err
	})
	if err != nil {
		return persist.ChainTrade{}, err
	}
	if raw.Creator == (persist.ZeroAddress.Address()) {
		return persist.ChainTrade{}, ErrTradeNotFound{ID: id}
	}
	return fromContractTrade(id, raw), nil
}

func (g *EthGateway) TransactionReceipt(ctx context.Context, hash persist.TxHash) (Receipt, error) {
	r, err := g.reader.TransactionReceipt(ctx, hash.Hash())
	if errors.Is(err, ethereum.NotFound) {
		return Receipt{}, ErrReceiptNotFound
	}
	if err != nil {
		return Receipt{}, err
	}
	return toReceipt(r), nil
}

// WaitConfirmed polls for the receipt of hash until it is mined or ctx is done
func (g *EthGateway) WaitConfirmed(ctx context.Context, hash persist.TxHash) (Receipt, error) {
	ticker := time.NewTicker(g.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := g.TransactionReceipt(ctx, hash)
		if err == nil {
			if !receipt.Succeeded {
				return receipt, ErrReverted{TxHash: hash}
			}
			return receipt, nil
		}
		if !errors.Is(err, ErrReceiptNotFound) {
			logger.For(ctx).WithError(err).WithFields(logrus.Fields{"txHash": hash}).Warn("failed to fetch receipt while waiting")
		}
		select {
		case <-ctx.Done():
			return Receipt{}, ErrConfirmationTimeout{TxHash: hash, Err: ctx.Err()}
		case <-ticker.C:
		}
	}
}

func (g *EthGateway) transact(ctx context.Context, s signer.Signer, method string, value *big.Int, send func(*bind.TransactOpts) (*types.Transaction, error)) (persist.TxHash, error) {
	opts, err := s.TransactOpts(ctx)
	if err != nil {
		return "", err
	}
	if !persist.IsZero(value) {
		opts.Value = value
	}
	tx, err := send(opts)
	if err != nil {
		return "", err
	}
	hash := persist.TxHashFrom(tx.Hash())
	logger.For(ctx).WithFields(logrus.Fields{
		"method": method,
		"signer": s.Address(),
		"txHash": hash,
		"nonce":  tx.Nonce(),
	}).Info("submitted transaction")
	return hash, nil
}

// ParseTradeCreated finds the chain trade id announced by the escrow contract in a receipt's
// logs. Logs emitted by any other address are ignored, as are logs that do not decode as
// TradeCreated.
func ParseTradeCreated(logs []*types.Log, escrowAddress persist.Address) (persist.ChainTradeID, persist.Address, bool) {
	want := escrowAddress.Address()
	for _, l := range logs {
		if l == nil || l.Address != want {
			continue
		}
		ev, err := contracts.ParseTradeCreated(*l)
		if err != nil || ev.TradeId == nil || !ev.TradeId.IsUint64() {
			continue
		}
		return persist.ChainTradeID(ev.TradeId.Uint64()), persist.AddressFrom(ev.Creator), true
	}
	return 0, "", false
}

func toReceipt(r *types.Receipt) Receipt {
	receipt := Receipt{
		TxHash:    persist.TxHashFrom(r.TxHash),
		Succeeded: r.Status == types.ReceiptStatusSuccessful,
		Logs:      r.Logs,
	}
	if r.BlockNumber != nil {
		receipt.BlockNumber = r.BlockNumber.Uint64()
	}
	return receipt
}

func toContractAssets(assets []persist.TradeAsset) ([]contracts.TradeEscrowAsset, error) {
	out := make([]contracts.TradeEscrowAsset, len(assets))
	for i, a := range assets {
		tokenID, ok := persist.ParseTokenID(a.TokenID)
		if !ok {
			return nil, fmt.Errorf("invalid token id %q for %s", a.TokenID, a.Contract)
		}
		standard := contracts.StandardERC721
		if a.Standard == persist.TokenStandardERC1155 {
			standard = contracts.StandardERC1155
		}
		out[i] = contracts.TradeEscrowAsset{
			ContractAddress: a.Contract.Address(),
			TokenId:         tokenID,
			Amount:          new(big.Int).SetUint64(a.Amount()),
			Standard:        standard,
		}
	}
	return out, nil
}

func fromContractAssets(assets []contracts.TradeEscrowAsset) []persist.TradeAsset {
	out := make([]persist.TradeAsset, len(assets))
	for i, a := range assets {
		standard := persist.TokenStandardERC721
		if a.Standard == contracts.StandardERC1155 {
			standard = persist.TokenStandardERC1155
		}
		out[i] = persist.TradeAsset{
			Contract: persist.AddressFrom(a.ContractAddress),
			TokenID:  a.TokenId.String(),
			Quantity: a.Amount.Uint64(),
			Standard: standard,
		}
	}
	return out
}

func fromContractTrade(id persist.ChainTradeID, raw contracts.TradeEscrowTrade) persist.ChainTrade {
	return persist.ChainTrade{
		ID:             id,
		Creator:        persist.AddressFrom(raw.Creator),
		Counterparty:   persist.AddressFrom(raw.Counterparty),
		Offered:        fromContractAssets(raw.Offered),
		Requested:      fromContractAssets(raw.Requested),
		OfferedValue:   orZero(raw.OfferedValue),
		RequestedValue: orZero(raw.RequestedValue),
		ExpiresAt:      time.Unix(orZero(raw.ExpiresAt).Int64(), 0).UTC(),
		State:          persist.ChainTradeState(raw.State),
	}
}

func attachedValue(offered, fee *big.Int) *big.Int {
	return new(big.Int).Add(orZero(offered), orZero(fee))
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v
}
