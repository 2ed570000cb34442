package crypto

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// MaxBulkHeight bounds the number of orders one bulk signature can commit to
// (2^24 leaves).
const MaxBulkHeight = 24

var bulkOrderTypes = apitypes.Types{
	"BulkOrder": []apitypes.Type{
		{Name: "root", Type: "bytes32"},
		{Name: "height", Type: "uint8"},
	},
}

// BulkTree is a positional binary merkle tree over order hashes. Leaves are
// padded with zero hashes up to 2^Height.
type BulkTree struct {
	Height int
	levels [][]common.Hash
}

// BuildBulkTree builds the tree for the given order hashes.
func BuildBulkTree(leaves []common.Hash) (*BulkTree, error) {
	if len(leaves) == 0 {
		return nil, fmt.Errorf("bulk tree needs at least one leaf")
	}
	height := 1
	for (1 << height) < len(leaves) {
		height++
	}
	if height > MaxBulkHeight {
		return nil, fmt.Errorf("bulk tree height %d exceeds %d", height, MaxBulkHeight)
	}

	level := make([]common.Hash, 1<<height)
	copy(level, leaves)
	levels := [][]common.Hash{level}
	for len(level) > 1 {
		next := make([]common.Hash, len(level)/2)
		for i := range next {
			next[i] = hashPair(level[2*i], level[2*i+1])
		}
		levels = append(levels, next)
		level = next
	}
	return &BulkTree{Height: height, levels: levels}, nil
}

// Root returns the committed root.
func (t *BulkTree) Root() common.Hash { return t.levels[len(t.levels)-1][0] }

// Proof returns the sibling path for the leaf at index, bottom first.
func (t *BulkTree) Proof(index int) ([]common.Hash, error) {
	if index < 0 || index >= len(t.levels[0]) {
		return nil, fmt.Errorf("leaf index %d out of range", index)
	}
	proof := make([]common.Hash, 0, t.Height)
	for lvl := 0; lvl < t.Height; lvl++ {
		proof = append(proof, t.levels[lvl][index^1])
		index >>= 1
	}
	return proof, nil
}

// ComputeBulkRoot folds leaf up the sibling path using the index bits to pick
// left or right at each level.
func ComputeBulkRoot(leaf common.Hash, index uint32, siblings []common.Hash) (common.Hash, error) {
	if len(siblings) == 0 || len(siblings) > MaxBulkHeight {
		return common.Hash{}, fmt.Errorf("bulk proof height %d out of range", len(siblings))
	}
	if uint64(index) >= uint64(1)<<len(siblings) {
		return common.Hash{}, fmt.Errorf("bulk proof index %d exceeds tree size", index)
	}
	node := leaf
	for i, sib := range siblings {
		if (index>>i)&1 == 0 {
			node = hashPair(node, sib)
		} else {
			node = hashPair(sib, node)
		}
	}
	return node, nil
}

// BulkOrderHash is the struct hash a bulk signature is taken over.
func BulkOrderHash(root common.Hash, height int) (common.Hash, error) {
	return HashStruct(bulkOrderTypes, "BulkOrder", apitypes.TypedDataMessage{
		"root":   root.Hex(),
		"height": fmt.Sprintf("%d", height),
	})
}

func hashPair(a, b common.Hash) common.Hash {
	return crypto.Keccak256Hash(a.Bytes(), b.Bytes())
}

// CriteriaLeaf is the leaf committed for a token identifier in a criteria tree.
func CriteriaLeaf(identifier *big.Int) common.Hash {
	return crypto.Keccak256Hash(common.BigToHash(identifier).Bytes())
}

// VerifyCriteriaProof checks that identifier is a member of the criteria tree
// with the given root. Pairs are hashed in sorted order, so the proof carries
// no position bits. A zero root accepts any identifier.
func VerifyCriteriaProof(root common.Hash, identifier *big.Int, proof []common.Hash) bool {
	if root == (common.Hash{}) {
		return true
	}
	node := CriteriaLeaf(identifier)
	for _, sib := range proof {
		node = hashSorted(node, sib)
	}
	return node == root
}

// CriteriaTree builds a sorted-pair tree over identifiers and returns its root
// together with each identifier's proof.
func CriteriaTree(identifiers []*big.Int) (common.Hash, [][]common.Hash) {
	if len(identifiers) == 0 {
		return common.Hash{}, nil
	}
	level := make([]common.Hash, len(identifiers))
	pos := make([]int, len(identifiers))
	for i, id := range identifiers {
		level[i] = CriteriaLeaf(id)
		pos[i] = i
	}
	proofs := make([][]common.Hash, len(identifiers))
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		for i := range pos {
			proofs[i] = append(proofs[i], level[pos[i]^1])
			pos[i] >>= 1
		}
		next := make([]common.Hash, len(level)/2)
		for i := range next {
			next[i] = hashSorted(level[2*i], level[2*i+1])
		}
		level = next
	}
	return level[0], proofs
}

func hashSorted(a, b common.Hash) common.Hash {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return hashPair(a, b)
}
