package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

// Ledger key schema. It shares a database with the settlement state, whose
// prefixes never start with "led:".
const (
	prefixLedger    = "led:"
	prefixBalance   = "led:bal:"  // {kind}:{token}:{id}:{holder} -> decimal amount
	prefixOwner     = "led:own:"  // {token}:{id} -> owner address
	prefixAllowance = "led:alw:"  // {owner}:{token} -> decimal amount
	prefixApproval  = "led:apr:"  // {owner}:{token} -> 1
	genesisKey      = "led:genesis"
)

// Writer is the part of *pebble.Batch a staged transaction writes through.
type Writer interface {
	Set(key, value []byte, opts *pebble.WriteOptions) error
	Delete(key []byte, opts *pebble.WriteOptions) error
}

// Stager is implemented by transactions that can put their effects into a
// caller's batch. After Stage, Commit only releases the transaction; the
// caller's batch commit is what makes the transfers durable.
type Stager interface {
	Stage(w Writer) error
}

// Pebble is a Memory ledger persisted in Pebble. Reads are served from
// memory; every committed transaction and admin call is written through.
type Pebble struct {
	*Memory
	db *pebble.DB
}

// OpenPebble loads the ledger kept in db.
func OpenPebble(db *pebble.DB, operator common.Address) (*Pebble, error) {
	p := &Pebble{Memory: NewMemory(operator), db: db}
	if err := p.load(); err != nil {
		return nil, fmt.Errorf("failed to load ledger: %w", err)
	}
	return p, nil
}

func (p *Pebble) load() error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixLedger),
		UpperBound: []byte("led;"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	m := p.Memory
	for iter.First(); iter.Valid(); iter.Next() {
		key := string(iter.Key())
		val := string(iter.Value())
		switch {
		case strings.HasPrefix(key, prefixBalance):
			parts := strings.Split(strings.TrimPrefix(key, prefixBalance), ":")
			if len(parts) != 4 {
				return fmt.Errorf("bad balance key %q", key)
			}
			kind, err := strconv.ParseUint(parts[0], 10, 8)
			if err != nil {
				return fmt.Errorf("bad balance key %q: %w", key, err)
			}
			amount, err := parseAmount(val)
			if err != nil {
				return fmt.Errorf("bad balance %q: %w", key, err)
			}
			k := balanceKey{
				kind:   order.ItemType(kind),
				token:  common.HexToAddress(parts[1]),
				id:     parts[2],
				holder: common.HexToAddress(parts[3]),
			}
			m.balances[k] = amount
		case strings.HasPrefix(key, prefixOwner):
			parts := strings.Split(strings.TrimPrefix(key, prefixOwner), ":")
			if len(parts) != 2 {
				return fmt.Errorf("bad owner key %q", key)
			}
			m.owners[tokenKey{common.HexToAddress(parts[0]), parts[1]}] = common.HexToAddress(val)
		case strings.HasPrefix(key, prefixAllowance):
			k, err := ownerTokenFromKey(key, prefixAllowance)
			if err != nil {
				return err
			}
			amount, err := parseAmount(val)
			if err != nil {
				return fmt.Errorf("bad allowance %q: %w", key, err)
			}
			m.allowances[k] = amount
		case strings.HasPrefix(key, prefixApproval):
			k, err := ownerTokenFromKey(key, prefixApproval)
			if err != nil {
				return err
			}
			m.approvedAll[k] = true
		}
	}
	return iter.Error()
}

// Begin implements Ledger.
func (p *Pebble) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.Memory.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pebbleTx{memoryTx: tx.(*memoryTx), db: p.db}, nil
}

// Mint credits to with a fresh asset and persists it.
func (p *Pebble) Mint(kind order.ItemType, token common.Address, id *big.Int, to common.Address, amount *big.Int) error {
	return p.admin(func(d *dirtySet) error {
		if err := p.Memory.Mint(kind, token, id, to, amount); err != nil {
			return err
		}
		if kind == order.ItemUniqueToken {
			d.owners[tokenKey{token, idString(id)}] = struct{}{}
		} else {
			d.balances[p.key(kind, token, id, to)] = struct{}{}
		}
		return nil
	})
}

// Approve sets owner's allowance for the operator and persists it.
func (p *Pebble) Approve(owner, token common.Address, amount *big.Int) error {
	return p.admin(func(d *dirtySet) error {
		p.Memory.Approve(owner, token, amount)
		d.allowances[ownerTokenKey{owner, token}] = struct{}{}
		return nil
	})
}

// SetApprovalForAll sets and persists owner's collection-wide approval.
func (p *Pebble) SetApprovalForAll(owner, token common.Address, approved bool) error {
	return p.admin(func(d *dirtySet) error {
		p.Memory.SetApprovalForAll(owner, token, approved)
		d.approvals[ownerTokenKey{owner, token}] = struct{}{}
		return nil
	})
}

// admin runs fn with the transaction slot held so admin writes never
// interleave with a transfer, then writes what fn touched.
func (p *Pebble) admin(fn func(d *dirtySet) error) error {
	p.sem <- struct{}{}
	defer func() { <-p.sem }()

	d := newDirtySet()
	if err := fn(d); err != nil {
		return err
	}
	b := p.db.NewBatch()
	defer b.Close()
	if err := p.writeDirty(b, d); err != nil {
		return err
	}
	return b.Commit(pebble.Sync)
}

// writeDirty writes the current value of every entry in d.
func (m *Memory) writeDirty(w Writer, d *dirtySet) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for k := range d.balances {
		key := balanceDBKey(k)
		v := m.balanceLocked(k)
		if v.Sign() == 0 {
			if err := w.Delete(key, nil); err != nil {
				return err
			}
			continue
		}
		if err := w.Set(key, []byte(v.String()), nil); err != nil {
			return err
		}
	}
	for k := range d.owners {
		key := []byte(prefixOwner + k.token.Hex() + ":" + k.id)
		if err := w.Set(key, []byte(m.owners[k].Hex()), nil); err != nil {
			return err
		}
	}
	for k := range d.allowances {
		key := []byte(prefixAllowance + k.owner.Hex() + ":" + k.token.Hex())
		v, ok := m.allowances[k]
		if !ok || v.Sign() == 0 {
			if err := w.Delete(key, nil); err != nil {
				return err
			}
			continue
		}
		if err := w.Set(key, []byte(v.String()), nil); err != nil {
			return err
		}
	}
	for k := range d.approvals {
		key := []byte(prefixApproval + k.owner.Hex() + ":" + k.token.Hex())
		if !m.approvedAll[k] {
			if err := w.Delete(key, nil); err != nil {
				return err
			}
			continue
		}
		if err := w.Set(key, []byte{1}, nil); err != nil {
			return err
		}
	}
	return nil
}

type pebbleTx struct {
	*memoryTx
	db     *pebble.DB
	staged bool
}

// Stage implements Stager.
func (tx *pebbleTx) Stage(w Writer) error {
	if tx.done {
		return ErrTxClosed
	}
	if err := tx.m.writeDirty(w, tx.dirty); err != nil {
		return fmt.Errorf("failed to stage ledger writes: %w", err)
	}
	tx.staged = true
	return nil
}

// Commit persists the transaction on its own unless it was staged into a
// caller's batch. A failed write rolls the transaction back.
func (tx *pebbleTx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	if !tx.staged && !tx.dirty.empty() {
		if err := tx.persist(); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
			return err
		}
	}
	return tx.memoryTx.Commit()
}

func (tx *pebbleTx) persist() error {
	b := tx.db.NewBatch()
	defer b.Close()
	if err := tx.m.writeDirty(b, tx.dirty); err != nil {
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit ledger: %w", err)
	}
	return nil
}

func balanceDBKey(k balanceKey) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:%s:%s", prefixBalance, k.kind, k.token.Hex(), k.id, k.holder.Hex()))
}

func ownerTokenFromKey(key, prefix string) (ownerTokenKey, error) {
	parts := strings.Split(strings.TrimPrefix(key, prefix), ":")
	if len(parts) != 2 {
		return ownerTokenKey{}, fmt.Errorf("bad ledger key %q", key)
	}
	return ownerTokenKey{common.HexToAddress(parts[0]), common.HexToAddress(parts[1])}, nil
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return v, nil
}
