package signer

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/service/persist"
)

// Signer signs transactions for one address
type Signer interface {
	Address() persist.Address
	TransactOpts(ctx context.Context) (*bind.TransactOpts, error)
}

// KeyedSigner signs with an in-memory private key
type KeyedSigner struct {
	key     *ecdsa.PrivateKey
	chainID *big.Int
	address persist.Address
}

// NewKeyedSigner creates a signer from a private key
func NewKeyedSigner(key *ecdsa.PrivateKey, chainID *big.Int) *KeyedSigner {
	return &KeyedSigner{
		key:     key,
		chainID: chainID,
		address: persist.AddressFrom(crypto.PubkeyToAddress(key.PublicKey)),
	}
}

// FromHexKey creates a signer from a hex encoded private key
func FromHexKey(hexKey string, chainID *big.Int) (*KeyedSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeyedSigner(key, chainID), nil
}

// FromKeystoreFile decrypts a go-ethereum keystore file
func FromKeystoreFile(path, passphrase string, chainID *big.Int) (*KeyedSigner, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	key, err := keystore.DecryptKey(b, passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt keystore %s: %w", path, err)
	}
	return NewKeyedSigner(key.PrivateKey, chainID), nil
}

// FromEnv loads the operator signer from OPERATOR_PRIVATE_KEY or OPERATOR_KEYSTORE
func FromEnv(chainID *big.Int) (*KeyedSigner, error) {
	if k := env.GetString("OPERATOR_PRIVATE_KEY"); k != "" {
		return FromHexKey(k, chainID)
	}
	if path := env.GetString("OPERATOR_KEYSTORE"); path != "" {
		return FromKeystoreFile(path, env.GetString("OPERATOR_KEYSTORE_PASSPHRASE"), chainID)
	}
	return nil, fmt.Errorf("neither OPERATOR_PRIVATE_KEY nor OPERATOR_KEYSTORE is set")
}

func (k *KeyedSigner) Address() persist.Address {
	return k.address
}

// TransactOpts returns fresh options bound to ctx. Nonce and gas are filled by the backend.
func (k *KeyedSigner) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(k.key, k.chainID)
	if err != nil {
		return nil, err
	}
	opts.Context = ctx
	return opts, nil
}

// SignMessage signs msg the way personal_sign does
func (k *KeyedSigner) SignMessage(msg string) ([]byte, error) {
	sig, err := crypto.Sign(accountsTextHash(msg), k.key)
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func accountsTextHash(msg string) []byte {
	return crypto.Keccak256([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(msg), msg)))
}

// CommonAddress returns the go-ethereum address of s
func CommonAddress(s Signer) common.Address {
	return s.Address().Address()
}
