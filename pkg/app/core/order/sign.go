package order

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/crypto"
)

// Sign signs c on its own.
func Sign(es *crypto.EIP712Signer, signer *crypto.Signer, c OrderComponents) (Order, error) {
	h, err := Hash(c)
	if err != nil {
		return Order{}, err
	}
	sig, err := es.SignStruct(signer, h)
	if err != nil {
		return Order{}, err
	}
	return Order{Parameters: c, Signature: sig}, nil
}

// SignBulk commits all of cs with one signature over a bulk tree root. Each
// returned order carries the shared signature plus its own inclusion proof.
func SignBulk(es *crypto.EIP712Signer, signer *crypto.Signer, cs []OrderComponents) ([]Order, error) {
	hashes := make([]common.Hash, len(cs))
	for i, c := range cs {
		h, err := Hash(c)
		if err != nil {
			return nil, err
		}
		hashes[i] = h
	}
	tree, err := crypto.BuildBulkTree(hashes)
	if err != nil {
		return nil, fmt.Errorf("failed to build bulk tree: %w", err)
	}
	root := tree.Root()
	structHash, err := crypto.BulkOrderHash(root, tree.Height)
	if err != nil {
		return nil, err
	}
	sig, err := es.SignStruct(signer, structHash)
	if err != nil {
		return nil, err
	}

	out := make([]Order, len(cs))
	for i, c := range cs {
		proof, err := tree.Proof(i)
		if err != nil {
			return nil, err
		}
		out[i] = Order{
			Parameters: c,
			Signature:  sig,
			BulkProof:  &BulkProof{Root: root, Index: uint32(i), Siblings: proof},
		}
	}
	return out, nil
}
