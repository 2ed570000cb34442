package crypto

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func leaves(n int) []common.Hash {
	out := make([]common.Hash, n)
	for i := range out {
		out[i] = eth_crypto.Keccak256Hash([]byte{byte(i), 0xaa})
	}
	return out
}

func TestBulkTreeProofs(t *testing.T) {
	for _, n := range []int{1, 2, 3, 5, 8} {
		ls := leaves(n)
		tree, err := BuildBulkTree(ls)
		require.NoError(t, err)

		for i, leaf := range ls {
			proof, err := tree.Proof(i)
			require.NoError(t, err)
			require.Len(t, proof, tree.Height)

			root, err := ComputeBulkRoot(leaf, uint32(i), proof)
			require.NoError(t, err)
			assert.Equal(t, tree.Root(), root, "n=%d leaf=%d", n, i)
		}
	}
}

func TestBulkProofRejectsWrongLeafOrIndex(t *testing.T) {
	ls := leaves(4)
	tree, err := BuildBulkTree(ls)
	require.NoError(t, err)
	proof, err := tree.Proof(1)
	require.NoError(t, err)

	root, err := ComputeBulkRoot(ls[2], 1, proof)
	require.NoError(t, err)
	assert.NotEqual(t, tree.Root(), root)

	root, err = ComputeBulkRoot(ls[1], 0, proof)
	require.NoError(t, err)
	assert.NotEqual(t, tree.Root(), root)

	_, err = ComputeBulkRoot(ls[1], 4, proof)
	assert.Error(t, err)
	_, err = ComputeBulkRoot(ls[1], 0, nil)
	assert.Error(t, err)
}

func TestBulkOrderSignature(t *testing.T) {
	signer, err := GenerateKey()
	require.NoError(t, err)
	es, err := NewEIP712Signer(DefaultDomain())
	require.NoError(t, err)

	tree, err := BuildBulkTree(leaves(3))
	require.NoError(t, err)
	structHash, err := BulkOrderHash(tree.Root(), tree.Height)
	require.NoError(t, err)

	sig, err := es.SignStruct(signer, structHash)
	require.NoError(t, err)
	addr, err := es.RecoverStructSigner(structHash, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)

	other, err := BulkOrderHash(tree.Root(), tree.Height+1)
	require.NoError(t, err)
	assert.NotEqual(t, structHash, other)
}

func TestBulkOrderHashKnownValue(t *testing.T) {
	h, err := BulkOrderHash(common.Hash{}, 3)
	require.NoError(t, err)
	// keccak(keccak("BulkOrder(bytes32 root,uint8 height)") ‖ 0x00..00 ‖ uint256(3))
	assert.Equal(t, common.HexToHash("0xf6c58f0cb5f969bd32e6d524ce584a42375fe605280e1520ecc1034437e0aabc"), h)
}

func TestHashStructMatchesManualEncoding(t *testing.T) {
	types := apitypes.Types{"Ping": []apitypes.Type{{Name: "nonce", Type: "uint256"}, {Name: "from", Type: "address"}}}
	from := common.HexToAddress("0x00000000000000000000000000000000000000f0")
	h, err := HashStruct(types, "Ping", apitypes.TypedDataMessage{"nonce": "5", "from": from.Hex()})
	require.NoError(t, err)

	typeHash := eth_crypto.Keccak256([]byte("Ping(uint256 nonce,address from)"))
	want := eth_crypto.Keccak256Hash(typeHash, common.LeftPadBytes([]byte{5}, 32), common.LeftPadBytes(from.Bytes(), 32))
	assert.Equal(t, want, h)
}

func TestCriteriaProof(t *testing.T) {
	ids := []*big.Int{big.NewInt(1), big.NewInt(7), big.NewInt(42), big.NewInt(1000), big.NewInt(5)}
	root, proofs := CriteriaTree(ids)

	for i, id := range ids {
		assert.True(t, VerifyCriteriaProof(root, id, proofs[i]), "id %s", id)
	}
	assert.False(t, VerifyCriteriaProof(root, big.NewInt(8), proofs[1]))
	assert.True(t, VerifyCriteriaProof(common.Hash{}, big.NewInt(8), nil))

	single, proofs := CriteriaTree([]*big.Int{big.NewInt(3)})
	assert.Equal(t, CriteriaLeaf(big.NewInt(3)), single)
	assert.True(t, VerifyCriteriaProof(single, big.NewInt(3), proofs[0]))
}

func TestDomainSeparatorDependsOnChain(t *testing.T) {
	d1 := DefaultDomain()
	d2 := DefaultDomain()
	d2.ChainID = big.NewInt(1)

	s1, err := NewEIP712Signer(d1)
	require.NoError(t, err)
	s2, err := NewEIP712Signer(d2)
	require.NoError(t, err)
	assert.NotEqual(t, s1.DomainSeparator(), s2.DomainSeparator())

	h := eth_crypto.Keccak256Hash([]byte("x"))
	assert.NotEqual(t, s1.Digest(h), s2.Digest(h))

	_, err = NewEIP712Signer(EIP712Domain{Name: "x"})
	assert.Error(t, err)
}
