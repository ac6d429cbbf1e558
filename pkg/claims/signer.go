package claims

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/sha3"
)

var ErrInvalidInput = errors.New("invalid claim input")

const personalMessagePrefix = "\x19Ethereum Signed Message:\n32"

// Signer issues claim authorizations verified on-chain with ecrecover.
// It holds no mutable state, so signing the same input twice yields the same bytes.
type Signer struct {
	key  *ecdsa.PrivateKey
	addr common.Address
}

func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:  key,
		addr: crypto.PubkeyToAddress(key.PublicKey),
	}
}

func NewSignerFromHex(hexKey string) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse signer key: %w", err)
	}
	return NewSigner(key), nil
}

func (s *Signer) Address() common.Address {
	return s.addr
}

// Sign returns a 65 byte [R || S || V] signature, V is 27 or 28.
func (s *Signer) Sign(helper common.Address, taskID uint64, scoreBps uint64) ([]byte, error) {
	hash, err := ClaimMessageHash(helper, taskID, scoreBps)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign claim: %w", err)
	}
	sig[64] += 27
	return sig, nil
}

// ClaimDigest is keccak256(abi.encodePacked(address helper, uint256 taskId, uint256 score)).
func ClaimDigest(helper common.Address, taskID uint64, scoreBps uint64) ([]byte, error) {
	if helper == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero helper address", ErrInvalidInput)
	}
	if scoreBps > BasisPointsDenominator {
		return nil, fmt.Errorf("%w: score %d bps is above %d", ErrInvalidInput, scoreBps, BasisPointsDenominator)
	}

	packed := make([]byte, 0, 20+32+32)
	packed = append(packed, helper.Bytes()...)
	packed = append(packed, common.LeftPadBytes(new(big.Int).SetUint64(taskID).Bytes(), 32)...)
	packed = append(packed, common.LeftPadBytes(new(big.Int).SetUint64(scoreBps).Bytes(), 32)...)
	return keccak256(packed), nil
}

// ClaimMessageHash applies the personal message prefix to the claim digest.
func ClaimMessageHash(helper common.Address, taskID uint64, scoreBps uint64) ([]byte, error) {
	digest, err := ClaimDigest(helper, taskID, scoreBps)
	if err != nil {
		return nil, err
	}
	return keccak256([]byte(personalMessagePrefix), digest), nil
}

// RecoverSigner returns the address that produced sig over the claim.
func RecoverSigner(helper common.Address, taskID uint64, scoreBps uint64, sig []byte) (common.Address, error) {
	if len(sig) != 65 {
		return common.Address{}, fmt.Errorf("%w: signature length %d", ErrInvalidInput, len(sig))
	}

	hash, err := ClaimMessageHash(helper, taskID, scoreBps)
	if err != nil {
		return common.Address{}, err
	}

	normalized := make([]byte, 65)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover public key: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func keccak256(data ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}
