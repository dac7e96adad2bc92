package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/SplitFi/go-barter/env"
	"github.com/SplitFi/go-barter/service/logger"
	"github.com/SplitFi/go-barter/service/persist"
	"github.com/SplitFi/go-barter/service/redis"
)

// NonceTTL is how long a login nonce stays valid
const NonceTTL = 5 * time.Minute

const nonceMessagePrefix = "Sign in to Barter. Nonce: "

var (
	// ErrInvalidJWT is returned when a token cannot be parsed or has expired
	ErrInvalidJWT = errors.New("invalid or expired auth token")
	// ErrAddressSignatureMismatch is returned when a signature was made by a different address
	ErrAddressSignatureMismatch = errors.New("signature does not match address")
	// ErrSignatureInvalid is returned when a signature is malformed
	ErrSignatureInvalid = errors.New("invalid signature")
	// ErrNonceNotFound is returned when no unused nonce exists for an address
	ErrNonceNotFound = errors.New("nonce not found or expired")
)

func init() {
	env.RegisterValidation("AUTH_JWT_SECRET", "required")
}

// NonceStore keeps one outstanding nonce per address
type NonceStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, error)
}

// NonceMessage is the message a wallet signs to log in
func NonceMessage(nonce string) string {
	return nonceMessagePrefix + nonce
}

// GetAuthNonce issues a fresh nonce for address, replacing any outstanding one
func GetAuthNonce(ctx context.Context, store NonceStore, address persist.Address) (string, error) {
	if !address.IsValid() {
		return "", fmt.Errorf("invalid address: %s", address)
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	nonce := hexutil.Encode(b)
	if err := store.Set(ctx, address.String(), []byte(nonce), NonceTTL); err != nil {
		return "", err
	}
	return NonceMessage(nonce), nil
}

// Login consumes the outstanding nonce of address and verifies the signature over it. It returns
// a session token carrying the address and its roles.
func Login(ctx context.Context, store NonceStore, admins *Admins, address persist.Address, signature string) (string, []Role, error) {
	nonce, err := store.Take(ctx, address.String())
	if errors.Is(err, redis.ErrKeyNotFound) {
		return "", nil, ErrNonceNotFound
	}
	if err != nil {
		return "", nil, err
	}

	if err := VerifySignature(signature, NonceMessage(string(nonce)), address); err != nil {
		logger.For(ctx).WithError(err).WithFields(logrus.Fields{"address": address}).Warn("login signature rejected")
		return "", nil, err
	}

	roles, err := RolesFor(ctx, admins, address)
	if err != nil {
		return "", nil, err
	}

	token, err := GenerateAuthToken(ctx, address, roles)
	if err != nil {
		return "", nil, err
	}
	return token, roles, nil
}

// VerifySignature checks a personal_sign signature of data by address
func VerifySignature(signature string, data string, address persist.Address) error {
	// personal_sign: sign(keccak256("\x19Ethereum Signed Message:\n" + len(message) + message))
	msg := fmt.Sprintf("\x19Ethereum Signed Message:\n%d%s", len(data), data)
	dataHash := crypto.Keccak256Hash([]byte(msg))

	sig, err := hexutil.Decode(signature)
	if err != nil || len(sig) != 65 {
		return ErrSignatureInvalid
	}
	// Ledger-produced signatures have v = 0 or 1
	if sig[64] == 0 || sig[64] == 1 {
		sig[64] += 27
	}
	if v := sig[64]; v != 27 && v != 28 {
		return ErrSignatureInvalid
	}
	sig[64] -= 27

	pubkey, err := crypto.SigToPub(dataHash.Bytes(), sig)
	if err != nil {
		return ErrSignatureInvalid
	}

	if !strings.EqualFold(crypto.PubkeyToAddress(*pubkey).Hex(), address.String()) {
		return ErrAddressSignatureMismatch
	}

	if !crypto.VerifySignature(crypto.CompressPubkey(pubkey), dataHash.Bytes(), sig[:64]) {
		return ErrSignatureInvalid
	}
	return nil
}
