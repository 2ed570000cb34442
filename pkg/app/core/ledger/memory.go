package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/luckyswap/pkg/app/core/order"
)

type balanceKey struct {
	kind   order.ItemType
	token  common.Address
	id     string
	holder common.Address
}

type tokenKey struct {
	token common.Address
	id    string
}

type ownerTokenKey struct {
	owner common.Address
	token common.Address
}

// Memory is an in-process ledger for devnets and tests. Transfers out of any
// account other than the operator need the owner's approval: an allowance for
// native and fungible assets, approval-for-all for unique and semi-fungible
// tokens. Allowances are spent as they are used.
type Memory struct {
	operator common.Address
	sem      chan struct{}

	mu          sync.RWMutex
	balances    map[balanceKey]*big.Int
	owners      map[tokenKey]common.Address
	allowances  map[ownerTokenKey]*big.Int
	approvedAll map[ownerTokenKey]bool
}

// NewMemory creates an empty ledger whose operator is the settlement custody account.
func NewMemory(operator common.Address) *Memory {
	return &Memory{
		operator:    operator,
		sem:         make(chan struct{}, 1),
		balances:    make(map[balanceKey]*big.Int),
		owners:      make(map[tokenKey]common.Address),
		allowances:  make(map[ownerTokenKey]*big.Int),
		approvedAll: make(map[ownerTokenKey]bool),
	}
}

// Operator returns the account allowed to move approved assets.
func (m *Memory) Operator() common.Address { return m.operator }

// Mint credits to with a fresh asset. Unique tokens are minted with amount 1.
func (m *Memory) Mint(kind order.ItemType, token common.Address, id *big.Int, to common.Address, amount *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kind == order.ItemUniqueToken {
		k := tokenKey{token, idString(id)}
		if _, exists := m.owners[k]; exists {
			return fmt.Errorf("token %s#%s already minted", token.Hex(), idString(id))
		}
		m.owners[k] = to
		return nil
	}
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("mint amount must be positive: %v", amount)
	}
	k := m.key(kind, token, id, to)
	m.balances[k] = new(big.Int).Add(m.balanceLocked(k), amount)
	return nil
}

// Approve sets owner's allowance for the operator. Use the zero token for native currency.
func (m *Memory) Approve(owner, token common.Address, amount *big.Int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowances[ownerTokenKey{owner, token}] = new(big.Int).Set(amount)
}

// SetApprovalForAll lets the operator move every unique or semi-fungible token
// of the collection held by owner.
func (m *Memory) SetApprovalForAll(owner, token common.Address, approved bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvedAll[ownerTokenKey{owner, token}] = approved
}

// BalanceOf returns the holder's balance. For unique tokens it is 1 if the
// holder owns the token and 0 otherwise.
func (m *Memory) BalanceOf(kind order.ItemType, token common.Address, id *big.Int, holder common.Address) *big.Int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if kind == order.ItemUniqueToken {
		if owner, ok := m.owners[tokenKey{token, idString(id)}]; ok && owner == holder {
			return big.NewInt(1)
		}
		return new(big.Int)
	}
	return new(big.Int).Set(m.balanceLocked(m.key(kind, token, id, holder)))
}

// OwnerOf returns the owner of a unique token.
func (m *Memory) OwnerOf(token common.Address, id *big.Int) (common.Address, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	owner, ok := m.owners[tokenKey{token, idString(id)}]
	return owner, ok
}

// Begin implements Ledger.
func (m *Memory) Begin(ctx context.Context) (Tx, error) {
	select {
	case m.sem <- struct{}{}:
		return &memoryTx{m: m, dirty: newDirtySet()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (m *Memory) key(kind order.ItemType, token common.Address, id *big.Int, holder common.Address) balanceKey {
	if kind == order.ItemNative {
		return balanceKey{kind: kind, holder: holder, id: "0"}
	}
	if kind == order.ItemFungible {
		return balanceKey{kind: kind, token: token, holder: holder, id: "0"}
	}
	return balanceKey{kind: kind, token: token, id: idString(id), holder: holder}
}

func (m *Memory) balanceLocked(k balanceKey) *big.Int {
	if b, ok := m.balances[k]; ok {
		return b
	}
	return new(big.Int)
}

// dirtySet records which entries a transaction or admin call touched.
type dirtySet struct {
	balances   map[balanceKey]struct{}
	owners     map[tokenKey]struct{}
	allowances map[ownerTokenKey]struct{}
	approvals  map[ownerTokenKey]struct{}
}

func newDirtySet() *dirtySet {
	return &dirtySet{
		balances:   make(map[balanceKey]struct{}),
		owners:     make(map[tokenKey]struct{}),
		allowances: make(map[ownerTokenKey]struct{}),
		approvals:  make(map[ownerTokenKey]struct{}),
	}
}

func (d *dirtySet) empty() bool {
	return len(d.balances)+len(d.owners)+len(d.allowances)+len(d.approvals) == 0
}

type memoryTx struct {
	m       *Memory
	journal []func()
	dirty   *dirtySet
	done    bool
}

func (tx *memoryTx) Transfer(t Transfer) error {
	if tx.done {
		return ErrTxClosed
	}
	if t.Amount == nil || t.Amount.Sign() < 0 {
		return fmt.Errorf("%w: %v", ErrInvalidAmount, t.Amount)
	}
	if t.Amount.Sign() == 0 || t.From == t.To {
		return nil
	}

	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	switch t.Kind {
	case order.ItemNative, order.ItemFungible:
		if err := tx.spendAllowance(t); err != nil {
			return err
		}
		return tx.moveBalance(t)
	case order.ItemSemiFungible:
		if t.From != m.operator && !m.approvedAll[ownerTokenKey{t.From, t.Token}] {
			return fmt.Errorf("%w: %s has not approved %s", ErrInsufficientApproval, t.From.Hex(), t.Token.Hex())
		}
		return tx.moveBalance(t)
	case order.ItemUniqueToken:
		if t.Amount.Cmp(big.NewInt(1)) != 0 {
			return fmt.Errorf("%w: unique token amount %s", ErrInvalidAmount, t.Amount)
		}
		if t.From != m.operator && !m.approvedAll[ownerTokenKey{t.From, t.Token}] {
			return fmt.Errorf("%w: %s has not approved %s", ErrInsufficientApproval, t.From.Hex(), t.Token.Hex())
		}
		k := tokenKey{t.Token, idString(t.Identifier)}
		owner, ok := m.owners[k]
		if !ok || owner != t.From {
			return fmt.Errorf("%w: %s#%s", ErrNotOwner, t.Token.Hex(), idString(t.Identifier))
		}
		m.owners[k] = t.To
		tx.dirty.owners[k] = struct{}{}
		tx.journal = append(tx.journal, func() { m.owners[k] = owner })
		return nil
	default:
		return fmt.Errorf("%w: unsupported kind %s", ErrInvalidAmount, t.Kind)
	}
}

func (tx *memoryTx) spendAllowance(t Transfer) error {
	m := tx.m
	if t.From == m.operator {
		return nil
	}
	token := t.Token
	if t.Kind == order.ItemNative {
		token = common.Address{}
	}
	k := ownerTokenKey{t.From, token}
	prev, ok := m.allowances[k]
	if !ok || prev.Cmp(t.Amount) < 0 {
		have := new(big.Int)
		if ok {
			have = prev
		}
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientApproval, have, t.Amount)
	}
	m.allowances[k] = new(big.Int).Sub(prev, t.Amount)
	tx.dirty.allowances[k] = struct{}{}
	tx.journal = append(tx.journal, func() { m.allowances[k] = prev })
	return nil
}

func (tx *memoryTx) moveBalance(t Transfer) error {
	m := tx.m
	fromKey := m.key(t.Kind, t.Token, t.Identifier, t.From)
	toKey := m.key(t.Kind, t.Token, t.Identifier, t.To)

	fromPrev := m.balanceLocked(fromKey)
	if fromPrev.Cmp(t.Amount) < 0 {
		return fmt.Errorf("%w: have %s, need %s", ErrInsufficientBalance, fromPrev, t.Amount)
	}
	toPrev := m.balanceLocked(toKey)

	m.balances[fromKey] = new(big.Int).Sub(fromPrev, t.Amount)
	m.balances[toKey] = new(big.Int).Add(toPrev, t.Amount)
	tx.dirty.balances[fromKey] = struct{}{}
	tx.dirty.balances[toKey] = struct{}{}
	tx.journal = append(tx.journal, func() {
		m.balances[fromKey] = fromPrev
		m.balances[toKey] = toPrev
	})
	return nil
}

func (tx *memoryTx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true
	tx.journal = nil
	<-tx.m.sem
	return nil
}

// Rollback undoes every transfer of the transaction, newest first.
func (tx *memoryTx) Rollback() error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.m.mu.Lock()
	for i := len(tx.journal) - 1; i >= 0; i-- {
		tx.journal[i]()
	}
	tx.m.mu.Unlock()
	tx.journal = nil
	<-tx.m.sem
	return nil
}
