package contracts

import (
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// OperatorApprovalABI covers the collection-level approval functions shared by ERC-721 and ERC-1155
const OperatorApprovalABI = `[
{"type":"function","name":"isApprovedForAll","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
{"type":"function","name":"setApprovalForAll","stateMutability":"nonpayable","inputs":[{"name":"operator","type":"address"},{"name":"approved","type":"bool"}],"outputs":[]}
]`

var operatorApprovalABI = mustParseABI(OperatorApprovalABI)

// OperatorApproval is a binding of an asset collection's operator approval functions
type OperatorApproval struct {
	contract *bind.BoundContract
}

// NewOperatorApproval binds the collection deployed at address
func NewOperatorApproval(address common.Address, backend bind.ContractBackend) *OperatorApproval {
	return &OperatorApproval{contract: bind.NewBoundContract(address, operatorApprovalABI, backend, backend, backend)}
}

// IsApprovedForAll reads whether operator may move every token owner holds in the collection
func (o *OperatorApproval) IsApprovedForAll(opts *bind.CallOpts, owner, operator common.Address) (bool, error) {
	var out []interface{}
	if err := o.contract.Call(opts, &out, "isApprovedForAll", owner, operator); err != nil {
		return false, err
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// SetApprovalForAll grants or revokes operator's collection-level approval
func (o *OperatorApproval) SetApprovalForAll(opts *bind.TransactOpts, operator common.Address, approved bool) (*types.Transaction, error) {
	return o.contract.Transact(opts, "setApprovalForAll", operator, approved)
}
