package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema. Everything an order owns is keyed by its hash so a
// prefix scan returns all of it.
const (
	prefixStatus  = "st:"  // order status
	prefixCounter = "ctr:" // per-signer counter
	prefixEscrow  = "esc:" // escrow holding per order item
	prefixBatch   = "bat:" // batch record per randomness token
	prefixMember  = "mem:" // operator membership
)

// Format: "st:{orderHash}"
func statusKey(h common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixStatus, h.Hex()))
}

// Format: "ctr:{address}"
func counterKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixCounter, addr.Hex()))
}

// Format: "esc:{orderHash}:{itemIndex}", index zero-padded so holdings scan in item order.
func escrowKey(h common.Hash, item int) []byte {
	return []byte(fmt.Sprintf("%s%s:%06d", prefixEscrow, h.Hex(), item))
}

// Format: "esc:{orderHash}:"
func escrowPrefix(h common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixEscrow, h.Hex()))
}

// Format: "bat:{token}"
func batchKey(token common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixBatch, token.Hex()))
}

// Format: "mem:{address}"
func memberKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixMember, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
