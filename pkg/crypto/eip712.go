package crypto

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain binds signatures to one market deployment so that a signature
// for one chain or verifying contract is never valid on another.
type EIP712Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

var domainType = []apitypes.Type{
	{Name: "name", Type: "string"},
	{Name: "version", Type: "string"},
	{Name: "chainId", Type: "uint256"},
	{Name: "verifyingContract", Type: "address"},
}

// DefaultDomain returns the devnet domain.
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "LuckySwap",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

// EIP712Signer computes domain-bound digests for struct hashes.
type EIP712Signer struct {
	domain    EIP712Domain
	separator common.Hash
}

// NewEIP712Signer creates a signer for domain, hashing the domain separator once.
func NewEIP712Signer(domain EIP712Domain) (*EIP712Signer, error) {
	if domain.ChainID == nil {
		return nil, fmt.Errorf("domain chain id is required")
	}
	td := apitypes.TypedData{
		Types: apitypes.Types{"EIP712Domain": domainType},
		Domain: apitypes.TypedDataDomain{
			Name:              domain.Name,
			Version:           domain.Version,
			ChainId:           (*math.HexOrDecimal256)(domain.ChainID),
			VerifyingContract: domain.VerifyingContract.Hex(),
		},
	}
	sep, err := td.HashStruct("EIP712Domain", td.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}
	return &EIP712Signer{domain: domain, separator: common.BytesToHash(sep)}, nil
}

// Domain returns the signer's domain.
func (e *EIP712Signer) Domain() EIP712Domain { return e.domain }

// DomainSeparator returns the hashed EIP712Domain struct.
func (e *EIP712Signer) DomainSeparator() common.Hash { return e.separator }

// Digest returns keccak256("\x19\x01" || domainSeparator || structHash).
func (e *EIP712Signer) Digest(structHash common.Hash) common.Hash {
	raw := make([]byte, 0, 66)
	raw = append(raw, 0x19, 0x01)
	raw = append(raw, e.separator.Bytes()...)
	raw = append(raw, structHash.Bytes()...)
	return crypto.Keccak256Hash(raw)
}

// SignStruct signs the domain-bound digest of structHash.
func (e *EIP712Signer) SignStruct(signer *Signer, structHash common.Hash) ([]byte, error) {
	sig, err := signer.Sign(e.Digest(structHash))
	if err != nil {
		return nil, fmt.Errorf("failed to sign struct: %w", err)
	}
	return sig, nil
}

// RecoverStructSigner recovers who signed the digest of structHash.
func (e *EIP712Signer) RecoverStructSigner(structHash common.Hash, signature []byte) (common.Address, error) {
	return RecoverAddress(e.Digest(structHash), signature)
}

// HashStruct hashes message as primaryType under types. The EIP712Domain type
// is added automatically.
func HashStruct(types apitypes.Types, primaryType string, message apitypes.TypedDataMessage) (common.Hash, error) {
	all := make(apitypes.Types, len(types)+1)
	for k, v := range types {
		all[k] = v
	}
	all["EIP712Domain"] = domainType

	// apitypes refuses to encode without some domain field set. The struct
	// hash never reads the domain, so any placeholder works.
	td := apitypes.TypedData{
		Types:       all,
		PrimaryType: primaryType,
		Domain:      apitypes.TypedDataDomain{Name: "EIP712Domain"},
	}
	h, err := td.HashStruct(primaryType, message)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to hash %s: %w", primaryType, err)
	}
	return common.BytesToHash(h), nil
}
