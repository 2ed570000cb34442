// Package state persists order status, signer counters, escrow holdings,
// batch records and operator membership in Pebble.
package state

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

// Store reads committed state. Writes go through a Batch so one engine call
// commits all of its changes at once or none of them.
type Store struct {
	db *pebble.DB
}

// Open opens a Pebble database at the given path
func Open(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:                    pebble.NewCache(64 << 20),
		MemTableSize:             32 << 20,
		MaxConcurrentCompactions: func() int { return 2 },
		L0CompactionThreshold:    2,
		L0StopWritesThreshold:    12,
		MaxOpenFiles:             1000,
		BytesPerSync:             512 << 10,
	}
	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

// OpenInMemory opens a store backed by an in-memory filesystem.
func OpenInMemory() (*Store, error) {
	db, err := pebble.Open("luckyswap", &pebble.Options{FS: vfs.NewMem()})
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory pebble db: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the database so the ledger can live beside the settlement
// state and commit in the same batches.
func (s *Store) DB() *pebble.DB { return s.db }

func (s *Store) Close() error {
	return s.db.Close()
}

// Status returns the order's status, or a fresh one if the order is unknown.
func (s *Store) Status(h common.Hash) (order.Status, error) {
	var st order.Status
	found, err := s.get(statusKey(h), &st)
	if err != nil {
		return order.Status{}, fmt.Errorf("failed to load status: %w", err)
	}
	if !found {
		return order.NewStatus(), nil
	}
	if st.TotalFilled == nil {
		st.TotalFilled = new(big.Int)
	}
	if st.TotalSize == nil {
		st.TotalSize = new(big.Int)
	}
	return st, nil
}

// Counter returns the signer's current counter (zero if never incremented).
func (s *Store) Counter(addr common.Address) (*big.Int, error) {
	data, closer, err := s.db.Get(counterKey(addr))
	if err == pebble.ErrNotFound {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	defer closer.Close()

	c, ok := new(big.Int).SetString(string(data), 10)
	if !ok {
		return nil, fmt.Errorf("corrupt counter for %s", addr.Hex())
	}
	return c, nil
}

// Holding returns the custody holding for one order item, or nil.
func (s *Store) Holding(h common.Hash, item int) (*Holding, error) {
	var hold Holding
	found, err := s.get(escrowKey(h, item), &hold)
	if err != nil {
		return nil, fmt.Errorf("failed to load holding: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &hold, nil
}

// Holdings returns every custody holding of an order in item order.
func (s *Store) Holdings(h common.Hash) ([]Holding, error) {
	prefix := escrowPrefix(h)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var out []Holding
	for iter.First(); iter.Valid(); iter.Next() {
		var hold Holding
		if err := json.Unmarshal(iter.Value(), &hold); err != nil {
			return nil, fmt.Errorf("failed to unmarshal holding: %w", err)
		}
		out = append(out, hold)
	}
	return out, nil
}

// Batch returns the batch record for a randomness token, or nil.
func (s *Store) Batch(token common.Hash) (*Batch, error) {
	var b Batch
	found, err := s.get(batchKey(token), &b)
	if err != nil {
		return nil, fmt.Errorf("failed to load batch: %w", err)
	}
	if !found {
		return nil, nil
	}
	return &b, nil
}

func (s *Store) IsMember(addr common.Address) (bool, error) {
	_, closer, err := s.db.Get(memberKey(addr))
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get member: %w", err)
	}
	closer.Close()
	return true, nil
}

func (s *Store) get(key []byte, v any) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// BatchWrite stages writes and commits them atomically.
type BatchWrite struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer
func (s *Store) NewBatch() *BatchWrite {
	return &BatchWrite{batch: s.db.NewBatch()}
}

func (bw *BatchWrite) SetStatus(h common.Hash, st order.Status) error {
	return bw.setJSON(statusKey(h), st)
}

func (bw *BatchWrite) SetCounter(addr common.Address, c *big.Int) error {
	return bw.batch.Set(counterKey(addr), []byte(c.String()), nil)
}

// SetHolding stores hold, or deletes the key when the amount is zero.
func (bw *BatchWrite) SetHolding(h common.Hash, hold Holding) error {
	if hold.Amount == nil || hold.Amount.Sign() == 0 {
		return bw.batch.Delete(escrowKey(h, hold.Item), nil)
	}
	return bw.setJSON(escrowKey(h, hold.Item), hold)
}

func (bw *BatchWrite) SetBatch(b *Batch) error {
	return bw.setJSON(batchKey(b.Token), b)
}

func (bw *BatchWrite) SetMember(addr common.Address, member bool) error {
	if !member {
		return bw.batch.Delete(memberKey(addr), nil)
	}
	return bw.batch.Set(memberKey(addr), []byte{1}, nil)
}

func (bw *BatchWrite) setJSON(key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return bw.batch.Set(key, data, nil)
}

// Raw returns the underlying batch for writers that stage into it.
func (bw *BatchWrite) Raw() *pebble.Batch { return bw.batch }

// Commit writes the batch to Pebble atomically
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close releases the batch; uncommitted writes are discarded.
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
